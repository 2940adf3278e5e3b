package callbacks

import (
	"context"

	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/learner"
)

// DefaultPrintInterval is the default interval of PrintEveryN.
const DefaultPrintInterval = 10

// PrintEveryN logs training diagnostics every N iterations and at the end
// of every epoch.
type PrintEveryN struct {
	learner.Base
	settings
}

// NewPrintEveryN creates a PrintEveryN logging every n iterations.
func NewPrintEveryN(n int, opts ...Option) (*PrintEveryN, error) {
	c := &PrintEveryN{}
	if err := c.init(NamePrintEveryN, n, 1, buildOptions(opts)); err != nil {
		return nil, err
	}
	return c, nil
}

// OnBatchEnd logs loss and learning rate when the iteration closes an interval.
func (c *PrintEveryN) OnBatchEnd(_ context.Context, s *learner.State) error {
	if c.Disabled() || !every(s.Iteration, c.NumIterations()) {
		return nil
	}
	c.logger.Info("training progress",
		zap.Int("epoch", s.Epoch),
		zap.Int("iteration", s.Iteration),
		zap.Float32("loss", s.Loss),
		zap.Float32("smooth_loss", s.SmoothLoss),
		zap.Float32("lr", s.LR))
	return nil
}

// OnEpochEnd logs the epoch summary.
func (c *PrintEveryN) OnEpochEnd(_ context.Context, s *learner.State) error {
	if c.Disabled() {
		return nil
	}
	c.logger.Info("epoch finished",
		zap.Int("epoch", s.Epoch+1),
		zap.Int("epochs", s.NumEpochs),
		zap.Int("iteration", s.Iteration),
		zap.Float32("smooth_loss", s.SmoothLoss),
		zap.Float32("valid_loss", s.ValidLoss))
	return nil
}
