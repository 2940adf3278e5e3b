package callbacks

import (
	"context"

	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/learner"
)

// DefaultStopIteration is the default threshold of StopAfterN.
const DefaultStopIteration = 100

// StopAfterN stops training once iteration N is reached.
//
// The stop is immediate: the loop ends after the batch at iteration N, the
// epoch-end hooks of the interrupted epoch still run.
type StopAfterN struct {
	learner.Base
	settings

	stopped bool
}

// NewStopAfterN creates a StopAfterN stopping at iteration n.
func NewStopAfterN(n int, opts ...Option) (*StopAfterN, error) {
	c := &StopAfterN{}
	if err := c.init(NameStopAfterN, n, 1, buildOptions(opts)); err != nil {
		return nil, err
	}
	return c, nil
}

// Stopped reports whether this callback ended the run.
func (c *StopAfterN) Stopped() bool {
	return c.stopped
}

// OnTrainBegin clears the outcome of a previous run.
func (c *StopAfterN) OnTrainBegin(context.Context, *learner.State) error {
	c.stopped = false
	return nil
}

// OnBatchEnd requests the stop at iteration N.
func (c *StopAfterN) OnBatchEnd(_ context.Context, s *learner.State) error {
	if c.Disabled() || s.Iteration != c.NumIterations() {
		return nil
	}
	c.logger.Info("iteration reached, stopping training", zap.Int("iteration", s.Iteration))
	c.stopped = true
	s.StopEpoch = true
	s.StopTraining = true
	return nil
}

// OnEpochEnd keeps the run stopped and points at validation.
func (c *StopAfterN) OnEpochEnd(_ context.Context, s *learner.State) error {
	if c.Disabled() || !c.stopped {
		return nil
	}
	s.StopTraining = true
	c.logger.Info("training stopped early, run validation to see results",
		zap.Int("epoch", s.Epoch),
		zap.Float32("valid_loss", s.ValidLoss))
	return nil
}
