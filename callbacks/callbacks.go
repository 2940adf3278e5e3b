// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package callbacks provides counter-based callbacks for the learner loop.
//
// Available callbacks:
//   - GradientAccumulator: step the optimizer every N iterations
//   - SaveEveryN: checkpoint the model every N iterations
//   - StopAfterN: end training at iteration N
//   - SkipFirstN: skip iterations below N
//   - PrintEveryN: log progress every N iterations
//   - Recorder: write run events to a Sink
//
// Thresholds and disabled switches are safe to change from another
// goroutine while training runs (see Tunable).
//
// Example:
//
//	acc, _ := callbacks.NewGradientAccumulator(8)
//	save, _ := callbacks.NewSaveEveryN(500, "")
//	l := learner.New(host, batches, acc, save)
package callbacks

import (
	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/callbacks"
)

// Callback names.
const (
	NameGradientAccumulator = callbacks.NameGradientAccumulator
	NameSaveEveryN          = callbacks.NameSaveEveryN
	NameStopAfterN          = callbacks.NameStopAfterN
	NameSkipFirstN          = callbacks.NameSkipFirstN
	NamePrintEveryN         = callbacks.NamePrintEveryN
	NameHistory             = callbacks.NameHistory
)

// Default thresholds.
const (
	DefaultAccumulationSteps = callbacks.DefaultAccumulationSteps
	DefaultSaveInterval      = callbacks.DefaultSaveInterval
	DefaultStopIteration     = callbacks.DefaultStopIteration
	DefaultPrintInterval     = callbacks.DefaultPrintInterval
)

// ErrInvalidInterval is returned for an out-of-range iteration count.
var ErrInvalidInterval = callbacks.ErrInvalidInterval

type (
	// GradientAccumulator accumulates gradients over N iterations.
	GradientAccumulator = callbacks.GradientAccumulator
	// SaveEveryN saves the model every N iterations.
	SaveEveryN = callbacks.SaveEveryN
	// StopAfterN stops training at iteration N.
	StopAfterN = callbacks.StopAfterN
	// SkipFirstN skips the first N iterations.
	SkipFirstN = callbacks.SkipFirstN
	// PrintEveryN logs diagnostics every N iterations.
	PrintEveryN = callbacks.PrintEveryN
	// Recorder writes run events to a Sink.
	Recorder = callbacks.Recorder
	// Event is one entry of a run log.
	Event = callbacks.Event
	// Sink stores run events.
	Sink = callbacks.Sink
	// Tunable is implemented by callbacks adjustable at runtime.
	Tunable = callbacks.Tunable
	// Option configures a callback.
	Option = callbacks.Option
)

// WithLogger sets the logger for diagnostic output.
func WithLogger(logger *zap.Logger) Option { return callbacks.WithLogger(logger) }

// WithDisabled creates the callback switched off.
func WithDisabled(disabled bool) Option { return callbacks.WithDisabled(disabled) }

// NewGradientAccumulator creates a GradientAccumulator stepping every n iterations.
func NewGradientAccumulator(n int, opts ...Option) (*GradientAccumulator, error) {
	return callbacks.NewGradientAccumulator(n, opts...)
}

// NewSaveEveryN creates a SaveEveryN. An empty saveName becomes
// "saved_every_{n}_iterations".
func NewSaveEveryN(n int, saveName string, opts ...Option) (*SaveEveryN, error) {
	return callbacks.NewSaveEveryN(n, saveName, opts...)
}

// NewStopAfterN creates a StopAfterN stopping at iteration n.
func NewStopAfterN(n int, opts ...Option) (*StopAfterN, error) {
	return callbacks.NewStopAfterN(n, opts...)
}

// NewSkipFirstN creates a SkipFirstN skipping iterations [0, n).
func NewSkipFirstN(n int, opts ...Option) (*SkipFirstN, error) {
	return callbacks.NewSkipFirstN(n, opts...)
}

// NewPrintEveryN creates a PrintEveryN logging every n iterations.
func NewPrintEveryN(n int, opts ...Option) (*PrintEveryN, error) {
	return callbacks.NewPrintEveryN(n, opts...)
}

// NewRecorder creates a Recorder sampling the loss every n iterations.
func NewRecorder(sink Sink, n int, opts ...Option) (*Recorder, error) {
	return callbacks.NewRecorder(sink, n, opts...)
}
