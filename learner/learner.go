// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package learner provides a callback-driven training loop.
//
// A Learner drives a Model (forward, loss, backward, optimizer step,
// zero-grad) over batches of data and dispatches Callbacks at every stage.
// Callbacks steer the loop through the control flags on State:
//
//	SkipBatch     skip the whole batch
//	SkipStep      skip the optimizer step
//	SkipZero      keep the gradients for the next batch
//	StopEpoch     end the current epoch
//	StopTraining  end the run
//
// Example:
//
//	host := bornhost.New(backend, model, optimizer, bornhost.Config{CheckpointDir: "ckpt"})
//	acc, _ := callbacks.NewGradientAccumulator(4)
//	l := learner.New(host, trainBatches, acc)
//	state, err := l.Fit(ctx, 10)
package learner

import (
	"github.com/born-ml/born-train/internal/learner"
)

// Learner drives a Model over training batches and dispatches callbacks.
type Learner[T any] = learner.Learner[T]

// Model is the host side of the training loop.
type Model[T any] = learner.Model[T]

// Validator is implemented by models that compute a validation loss.
type Validator[T any] = learner.Validator[T]

// Saver is implemented by models that can be written to disk.
type Saver = learner.Saver

// LRReporter is implemented by models that expose their learning rate.
type LRReporter = learner.LRReporter

// Callback intercepts the training loop at fixed extension points.
type Callback = learner.Callback

// Base is a no-op Callback implementation to embed.
type Base = learner.Base

// State is the mutable run state shared by all hooks.
type State = learner.State

// Controls is the side-effect surface a callback may drive.
type Controls = learner.Controls

// Hook names an extension point.
type Hook = learner.Hook

// Extension points.
const (
	HookTrainBegin  = learner.HookTrainBegin
	HookEpochBegin  = learner.HookEpochBegin
	HookBatchBegin  = learner.HookBatchBegin
	HookBackwardEnd = learner.HookBackwardEnd
	HookStepEnd     = learner.HookStepEnd
	HookBatchEnd    = learner.HookBatchEnd
	HookEpochEnd    = learner.HookEpochEnd
	HookTrainEnd    = learner.HookTrainEnd
)

// Errors returned by the loop.
var (
	ErrInvalidEpochs   = learner.ErrInvalidEpochs
	ErrNoBatches       = learner.ErrNoBatches
	ErrSaveUnsupported = learner.ErrSaveUnsupported
)

// New creates a Learner over the given training batches.
func New[T any](model Model[T], train []T, callbacks ...Callback) *Learner[T] {
	return learner.New(model, train, callbacks...)
}

// Find returns the first callback of type C.
func Find[C Callback](cbs []Callback) (C, bool) {
	return learner.Find[C](cbs)
}
