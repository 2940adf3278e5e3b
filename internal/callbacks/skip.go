package callbacks

import (
	"context"

	"github.com/born-ml/born-train/internal/learner"
)

// SkipFirstN skips the first N iterations of a run.
//
// Skipped batches still advance the iteration counter, so resuming a run on
// the same data order with N set to the iterations already done lines the
// remaining batches up with the interrupted run.
type SkipFirstN struct {
	learner.Base
	settings

	skipped int
}

// NewSkipFirstN creates a SkipFirstN skipping iterations [0, n). n may be 0.
func NewSkipFirstN(n int, opts ...Option) (*SkipFirstN, error) {
	c := &SkipFirstN{}
	if err := c.init(NameSkipFirstN, n, 0, buildOptions(opts)); err != nil {
		return nil, err
	}
	return c, nil
}

// Skipped returns how many batches were skipped.
func (c *SkipFirstN) Skipped() int {
	return c.skipped
}

// OnBatchBegin marks the batch skipped while below the threshold.
func (c *SkipFirstN) OnBatchBegin(_ context.Context, s *learner.State) error {
	if c.Disabled() || s.Iteration >= c.NumIterations() {
		return nil
	}
	s.SkipBatch = true
	c.skipped++
	return nil
}
