package callbacks

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/born-ml/born-train/internal/config"
	"github.com/born-ml/born-train/internal/learner"
)

// FromConfig builds the enabled callbacks in dispatch order: skip, accumulate,
// print, save, stop. The history recorder is wired separately.
func FromConfig(cfg config.CallbacksConfig, logger *zap.Logger) ([]learner.Callback, error) {
	steps := []struct {
		ic    config.IntervalConfig
		build func(opts ...Option) (learner.Callback, error)
	}{
		{cfg.SkipFirstN, func(opts ...Option) (learner.Callback, error) {
			return NewSkipFirstN(cfg.SkipFirstN.NumIterations, opts...)
		}},
		{cfg.GradientAccumulator, func(opts ...Option) (learner.Callback, error) {
			return NewGradientAccumulator(cfg.GradientAccumulator.NumIterations, opts...)
		}},
		{cfg.PrintEveryN, func(opts ...Option) (learner.Callback, error) {
			return NewPrintEveryN(cfg.PrintEveryN.NumIterations, opts...)
		}},
		{cfg.SaveEveryN.IntervalConfig, func(opts ...Option) (learner.Callback, error) {
			return NewSaveEveryN(cfg.SaveEveryN.NumIterations, cfg.SaveEveryN.SaveName, opts...)
		}},
		{cfg.StopAfterN, func(opts ...Option) (learner.Callback, error) {
			return NewStopAfterN(cfg.StopAfterN.NumIterations, opts...)
		}},
	}
	var cbs []learner.Callback
	for _, st := range steps {
		if !st.ic.Enabled {
			continue
		}
		cb, err := st.build(WithLogger(logger), WithDisabled(st.ic.Disabled))
		if err != nil {
			return nil, err
		}
		cbs = append(cbs, cb)
	}
	return cbs, nil
}

// Apply pushes thresholds and disabled switches from cfg onto live callbacks.
//
// Callbacks absent from cbs are left alone; enabling a callback that was not
// attached at start has no effect. Save names are fixed at construction.
func Apply(cbs []learner.Callback, cfg config.CallbacksConfig) error {
	byName := map[string]config.IntervalConfig{
		NameSkipFirstN:          cfg.SkipFirstN,
		NameGradientAccumulator: cfg.GradientAccumulator,
		NamePrintEveryN:         cfg.PrintEveryN,
		NameSaveEveryN:          cfg.SaveEveryN.IntervalConfig,
		NameStopAfterN:          cfg.StopAfterN,
		NameHistory:             cfg.History,
	}

	var errs []error
	for _, cb := range cbs {
		t, ok := cb.(Tunable)
		if !ok {
			continue
		}
		ic, ok := byName[t.Name()]
		if !ok {
			continue
		}
		t.SetDisabled(ic.Disabled)
		if err := t.SetNumIterations(ic.NumIterations); err != nil {
			errs = append(errs, fmt.Errorf("apply %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
