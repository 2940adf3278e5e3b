package learner

import (
	"context"
	"fmt"
)

// Callback intercepts the training loop at fixed extension points.
//
// Hooks run in registration order and receive the shared run State. A hook
// influences the loop by setting the control flags on State (SkipBatch,
// SkipStep, SkipZero, StopEpoch, StopTraining) and performs side effects
// through State.Learner. Returning an error aborts the run.
//
// Embed Base to implement only the hooks you need:
//
//	type counter struct {
//	    learner.Base
//	    n int
//	}
//
//	func (c *counter) Name() string { return "counter" }
//
//	func (c *counter) OnBatchEnd(_ context.Context, _ *learner.State) error {
//	    c.n++
//	    return nil
//	}
type Callback interface {
	// Name identifies the callback in errors, logs and lookups.
	Name() string

	OnTrainBegin(ctx context.Context, s *State) error
	OnEpochBegin(ctx context.Context, s *State) error
	OnBatchBegin(ctx context.Context, s *State) error
	OnBackwardEnd(ctx context.Context, s *State) error
	OnStepEnd(ctx context.Context, s *State) error
	OnBatchEnd(ctx context.Context, s *State) error
	OnEpochEnd(ctx context.Context, s *State) error
	OnTrainEnd(ctx context.Context, s *State) error
}

// Base is a no-op implementation of every hook.
type Base struct{}

// OnTrainBegin does nothing.
func (Base) OnTrainBegin(context.Context, *State) error { return nil }

// OnEpochBegin does nothing.
func (Base) OnEpochBegin(context.Context, *State) error { return nil }

// OnBatchBegin does nothing.
func (Base) OnBatchBegin(context.Context, *State) error { return nil }

// OnBackwardEnd does nothing.
func (Base) OnBackwardEnd(context.Context, *State) error { return nil }

// OnStepEnd does nothing.
func (Base) OnStepEnd(context.Context, *State) error { return nil }

// OnBatchEnd does nothing.
func (Base) OnBatchEnd(context.Context, *State) error { return nil }

// OnEpochEnd does nothing.
func (Base) OnEpochEnd(context.Context, *State) error { return nil }

// OnTrainEnd does nothing.
func (Base) OnTrainEnd(context.Context, *State) error { return nil }

// Hook names an extension point of the training loop.
type Hook int

// Extension points in the order the loop reaches them.
const (
	HookTrainBegin Hook = iota
	HookEpochBegin
	HookBatchBegin
	HookBackwardEnd
	HookStepEnd
	HookBatchEnd
	HookEpochEnd
	HookTrainEnd
)

var hookNames = [...]string{
	HookTrainBegin:  "OnTrainBegin",
	HookEpochBegin:  "OnEpochBegin",
	HookBatchBegin:  "OnBatchBegin",
	HookBackwardEnd: "OnBackwardEnd",
	HookStepEnd:     "OnStepEnd",
	HookBatchEnd:    "OnBatchEnd",
	HookEpochEnd:    "OnEpochEnd",
	HookTrainEnd:    "OnTrainEnd",
}

// String returns the hook's method name.
func (h Hook) String() string {
	if h < 0 || int(h) >= len(hookNames) {
		return fmt.Sprintf("Hook(%d)", int(h))
	}
	return hookNames[h]
}

func (h Hook) call(ctx context.Context, cb Callback, s *State) error {
	switch h {
	case HookTrainBegin:
		return cb.OnTrainBegin(ctx, s)
	case HookEpochBegin:
		return cb.OnEpochBegin(ctx, s)
	case HookBatchBegin:
		return cb.OnBatchBegin(ctx, s)
	case HookBackwardEnd:
		return cb.OnBackwardEnd(ctx, s)
	case HookStepEnd:
		return cb.OnStepEnd(ctx, s)
	case HookBatchEnd:
		return cb.OnBatchEnd(ctx, s)
	case HookEpochEnd:
		return cb.OnEpochEnd(ctx, s)
	case HookTrainEnd:
		return cb.OnTrainEnd(ctx, s)
	default:
		return fmt.Errorf("unknown hook %s", h)
	}
}

// Find returns the first callback of type C.
//
// Example:
//
//	stopper, ok := learner.Find[*callbacks.StopAfterN](l.Callbacks())
//	if ok {
//	    stopper.SetNumIterations(500)
//	}
func Find[C Callback](cbs []Callback) (C, bool) {
	for _, cb := range cbs {
		if c, ok := cb.(C); ok {
			return c, true
		}
	}
	var zero C
	return zero, false
}
