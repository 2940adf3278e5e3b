package callbacks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/learner"
)

// DefaultAccumulationSteps is the default window of GradientAccumulator.
const DefaultAccumulationSteps = 4

// GradientAccumulator accumulates gradients over N iterations before
// letting the optimizer step.
//
// Useful when memory limits the batch size to 1 or 2: summing the gradients
// of several small batches smooths the update.
//
// The optimizer steps at iterations N, 2N, 3N, ...; every other iteration
// skips both the step and the zero-grad so gradients keep adding up.
// Gradients are summed, not averaged. A window left open at the end of an
// epoch is flushed by OnEpochEnd.
type GradientAccumulator struct {
	learner.Base
	settings

	skippedLastBackprop bool
}

// NewGradientAccumulator creates a GradientAccumulator stepping every n iterations.
func NewGradientAccumulator(n int, opts ...Option) (*GradientAccumulator, error) {
	g := &GradientAccumulator{}
	if err := g.init(NameGradientAccumulator, n, 1, buildOptions(opts)); err != nil {
		return nil, err
	}
	return g, nil
}

// OnBackwardEnd skips the step and zero-grad unless the window is complete.
func (g *GradientAccumulator) OnBackwardEnd(_ context.Context, s *learner.State) error {
	if g.Disabled() {
		g.skippedLastBackprop = false
		return nil
	}
	if !every(s.Iteration, g.NumIterations()) {
		s.SkipStep = true
		s.SkipZero = true
		g.skippedLastBackprop = true
		return nil
	}
	g.skippedLastBackprop = false
	return nil
}

// OnStepEnd keeps the gradients while the window is open.
func (g *GradientAccumulator) OnStepEnd(_ context.Context, s *learner.State) error {
	if g.skippedLastBackprop {
		s.SkipZero = true
	}
	return nil
}

// OnEpochEnd applies the gradients of an unfinished window.
func (g *GradientAccumulator) OnEpochEnd(_ context.Context, s *learner.State) error {
	if !g.skippedLastBackprop {
		return nil
	}
	g.skippedLastBackprop = false
	if err := s.Learner.Step(); err != nil {
		return fmt.Errorf("flush accumulated gradients: %w", err)
	}
	s.Learner.ZeroGrad()
	g.logger.Debug("flushed partial window",
		zap.Int("epoch", s.Epoch),
		zap.Int("iteration", s.Iteration))
	return nil
}

// Pending reports whether gradients are held back for a later step.
func (g *GradientAccumulator) Pending() bool {
	return g.skippedLastBackprop
}
