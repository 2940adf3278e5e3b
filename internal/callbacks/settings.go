// Package callbacks implements counter-based training-loop callbacks.
//
// Every callback keeps an iteration threshold and a disabled switch. Both
// can be changed from another goroutine while training runs; the training
// goroutine observes the new values at the next hook.
package callbacks

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Callback names, also used as config keys.
const (
	NameGradientAccumulator = "gradient_accumulator"
	NameSaveEveryN          = "save_every_n"
	NameStopAfterN          = "stop_after_n"
	NameSkipFirstN          = "skip_first_n"
	NamePrintEveryN         = "print_every_n"
)

// ErrInvalidInterval is returned for an out-of-range iteration count.
var ErrInvalidInterval = errors.New("callbacks: invalid number of iterations")

// Tunable is implemented by callbacks whose threshold and disabled switch
// can be changed at runtime.
type Tunable interface {
	Name() string
	NumIterations() int
	SetNumIterations(n int) error
	Disabled() bool
	SetDisabled(disabled bool)
}

// Option configures a callback.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	disabled bool
}

// WithLogger sets the logger for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDisabled creates the callback in the disabled state.
func WithDisabled(disabled bool) Option {
	return func(o *options) {
		o.disabled = disabled
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// settings holds the runtime-mutable part shared by all callbacks.
type settings struct {
	name     string
	floor    int
	n        atomic.Int64
	disabled atomic.Bool
	logger   *zap.Logger
}

func (s *settings) init(name string, n, floor int, o options) error {
	if n < floor {
		return fmt.Errorf("%w: %s needs at least %d, got %d", ErrInvalidInterval, name, floor, n)
	}
	s.name = name
	s.floor = floor
	s.n.Store(int64(n))
	s.disabled.Store(o.disabled)
	s.logger = o.logger.With(zap.String("callback", name))
	return nil
}

// Name returns the callback name.
func (s *settings) Name() string {
	return s.name
}

// NumIterations returns the current iteration threshold.
func (s *settings) NumIterations() int {
	return int(s.n.Load())
}

// SetNumIterations changes the iteration threshold.
//
// Out-of-range values are rejected and the previous value is kept.
func (s *settings) SetNumIterations(n int) error {
	if n < s.floor {
		return fmt.Errorf("%w: %s needs at least %d, got %d", ErrInvalidInterval, s.name, s.floor, n)
	}
	if old := s.n.Swap(int64(n)); old != int64(n) {
		s.logger.Info("num_iterations changed", zap.Int64("from", old), zap.Int("to", n))
	}
	return nil
}

// Disabled reports whether the callback is switched off.
func (s *settings) Disabled() bool {
	return s.disabled.Load()
}

// SetDisabled switches the callback off or back on.
func (s *settings) SetDisabled(disabled bool) {
	if old := s.disabled.Swap(disabled); old != disabled {
		s.logger.Info("callback toggled", zap.Bool("disabled", disabled))
	}
}

// every reports whether iteration closes an interval of n. Iteration 0 never does.
func every(iteration, n int) bool {
	return iteration != 0 && iteration%n == 0
}
