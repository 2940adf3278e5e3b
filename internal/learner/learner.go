// Package learner implements a callback-driven training loop.
//
// The loop mirrors the hand-written loops of the Born examples (zero-grad,
// forward, loss, backward, step) and exposes every stage as an extension
// point:
//
//	OnTrainBegin
//	for each epoch:
//	    OnEpochBegin
//	    for each batch:
//	        OnBatchBegin
//	        backward                 (unless SkipBatch)
//	        OnBackwardEnd
//	        step                     (unless SkipStep)
//	        OnStepEnd
//	        zero-grad                (unless SkipZero)
//	        OnBatchEnd
//	    validate
//	    OnEpochEnd
//	OnTrainEnd
//
// The model side is abstracted by Model so the loop is independent of the
// tensor backend; package bornhost adapts Born networks and optimizers.
package learner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalidEpochs is returned by Fit for a non-positive epoch count.
	ErrInvalidEpochs = errors.New("learner: epochs must be positive")
	// ErrNoBatches is returned by Fit when there is no training data.
	ErrNoBatches = errors.New("learner: no training batches")
	// ErrSaveUnsupported is returned by Save when the model cannot be saved.
	ErrSaveUnsupported = errors.New("learner: model does not support saving")
)

// Model is the host side of the loop for batches of type T.
type Model[T any] interface {
	// Backward runs forward, loss and backward for one batch and adds the
	// resulting gradients to the pending buffer. Returns the batch loss.
	Backward(ctx context.Context, batch T) (float32, error)

	// Step applies the pending gradients to the parameters.
	Step() error

	// ZeroGrad drops the pending gradients.
	ZeroGrad()
}

// Validator is implemented by models that can compute a validation loss.
type Validator[T any] interface {
	Validate(ctx context.Context, batches []T) (float32, error)
}

// Saver is implemented by models that can be written to disk.
type Saver interface {
	Save(name string) (string, error)
}

// LRReporter is implemented by models that expose the optimizer learning rate.
type LRReporter interface {
	LR() float32
}

// Learner drives a Model over training batches and dispatches callbacks.
type Learner[T any] struct {
	model     Model[T]
	train     []T
	valid     []T
	callbacks []Callback
	logger    *zap.Logger
}

// New creates a Learner over the given training batches.
//
// Example:
//
//	l := learner.New(host, trainBatches,
//	    accumulator,
//	    saver,
//	)
//	l.SetValidation(validBatches)
//	state, err := l.Fit(ctx, 10)
func New[T any](model Model[T], train []T, callbacks ...Callback) *Learner[T] {
	return &Learner[T]{
		model:     model,
		train:     train,
		callbacks: callbacks,
		logger:    zap.NewNop(),
	}
}

// SetValidation sets the batches evaluated at the end of every epoch.
//
// Validation only runs when the model implements Validator.
func (l *Learner[T]) SetValidation(valid []T) {
	l.valid = valid
}

// SetLogger sets the logger used for loop events.
func (l *Learner[T]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.logger = logger
}

// AddCallbacks appends callbacks. They run after the ones already registered.
//
// Must not be called while Fit is running.
func (l *Learner[T]) AddCallbacks(cbs ...Callback) {
	l.callbacks = append(l.callbacks, cbs...)
}

// Callbacks returns the registered callbacks in dispatch order.
func (l *Learner[T]) Callbacks() []Callback {
	return l.callbacks
}

// Callback returns the callback registered under name.
func (l *Learner[T]) Callback(name string) (Callback, bool) {
	for _, cb := range l.callbacks {
		if cb.Name() == name {
			return cb, true
		}
	}
	return nil, false
}

// Model returns the underlying model.
func (l *Learner[T]) Model() Model[T] {
	return l.model
}

// Step applies the pending gradients.
func (l *Learner[T]) Step() error {
	return l.model.Step()
}

// ZeroGrad drops the pending gradients.
func (l *Learner[T]) ZeroGrad() {
	l.model.ZeroGrad()
}

// Save writes the model under name.
//
// Returns ErrSaveUnsupported if the model does not implement Saver.
func (l *Learner[T]) Save(name string) (string, error) {
	saver, ok := l.model.(Saver)
	if !ok {
		return "", ErrSaveUnsupported
	}
	return saver.Save(name)
}

// Fit trains for the given number of epochs.
//
// The returned State reflects the run as far as it got, also on error.
// OnTrainEnd always runs once OnTrainBegin has been attempted; its error
// is joined with the loop error.
func (l *Learner[T]) Fit(ctx context.Context, epochs int) (s *State, err error) {
	if epochs <= 0 {
		return nil, ErrInvalidEpochs
	}
	if len(l.train) == 0 {
		return nil, ErrNoBatches
	}

	s = newState(epochs, len(l.train), l)
	s.LR = l.lr()

	l.logger.Debug("training started",
		zap.Int("epochs", epochs),
		zap.Int("batches", len(l.train)),
		zap.Int("callbacks", len(l.callbacks)))

	defer func() {
		endErr := l.dispatch(context.WithoutCancel(ctx), HookTrainEnd, s)
		err = errors.Join(err, endErr)
		l.logger.Debug("training finished",
			zap.Int("iteration", s.Iteration),
			zap.Bool("stopped", s.StopTraining),
			zap.Error(err))
	}()

	if err := l.dispatch(ctx, HookTrainBegin, s); err != nil {
		return s, err
	}

	for epoch := 0; epoch < epochs && !s.StopTraining; epoch++ {
		s.Epoch = epoch
		if err := l.runEpoch(ctx, s); err != nil {
			return s, err
		}
	}

	return s, nil
}

func (l *Learner[T]) runEpoch(ctx context.Context, s *State) error {
	s.StopEpoch = false
	if err := l.dispatch(ctx, HookEpochBegin, s); err != nil {
		return err
	}

	for i, batch := range l.train {
		if s.StopEpoch || s.StopTraining {
			break
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", s.Epoch, i, err)
		}
		s.Batch = i
		if err := l.runBatch(ctx, s, batch); err != nil {
			return err
		}
	}

	if v, ok := l.model.(Validator[T]); ok && len(l.valid) > 0 {
		loss, err := v.Validate(ctx, l.valid)
		if err != nil {
			return fmt.Errorf("validate epoch %d: %w", s.Epoch, err)
		}
		s.ValidLoss = loss
	}

	return l.dispatch(ctx, HookEpochEnd, s)
}

func (l *Learner[T]) runBatch(ctx context.Context, s *State, batch T) error {
	s.resetBatchFlags()
	if err := l.dispatch(ctx, HookBatchBegin, s); err != nil {
		return err
	}

	if !s.SkipBatch {
		loss, err := l.model.Backward(ctx, batch)
		if err != nil {
			return fmt.Errorf("backward at iteration %d: %w", s.Iteration, err)
		}
		s.recordLoss(loss)

		if err := l.dispatch(ctx, HookBackwardEnd, s); err != nil {
			return err
		}
		if !s.SkipStep {
			if err := l.model.Step(); err != nil {
				return fmt.Errorf("step at iteration %d: %w", s.Iteration, err)
			}
		}
		s.LR = l.lr()
		if err := l.dispatch(ctx, HookStepEnd, s); err != nil {
			return err
		}
		if !s.SkipZero {
			l.model.ZeroGrad()
		}
	}

	if err := l.dispatch(ctx, HookBatchEnd, s); err != nil {
		return err
	}
	s.Iteration++
	return nil
}

func (l *Learner[T]) dispatch(ctx context.Context, hook Hook, s *State) error {
	for _, cb := range l.callbacks {
		if err := hook.call(ctx, cb, s); err != nil {
			return fmt.Errorf("callback %q %s: %w", cb.Name(), hook, err)
		}
	}
	return nil
}

func (l *Learner[T]) lr() float32 {
	if r, ok := l.model.(LRReporter); ok {
		return r.LR()
	}
	return 0
}
