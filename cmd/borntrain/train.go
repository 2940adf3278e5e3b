package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/born-train/bornhost"
	"github.com/born-ml/born-train/internal/callbacks"
	"github.com/born-ml/born-train/internal/config"
	"github.com/born-ml/born-train/internal/data"
	"github.com/born-ml/born-train/internal/history"
	"github.com/born-ml/born-train/internal/learner"
	"github.com/born-ml/born-train/internal/watch"
)

var (
	watchConfig bool
	resume      string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an MLP on a synthetic classification task",
	Long: `Train a Linear-ReLU-Linear network on synthetic class blobs.

Callbacks are built from the callbacks section of the config. With --watch
the config file is watched and changes to num_iterations and disabled are
applied to the running callbacks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyTrainFlags(cmd, cfg); err != nil {
			return err
		}
		return runTrain(cmd.Context(), cfg, logger)
	},
}

func init() {
	f := trainCmd.Flags()
	f.Int("epochs", 0, "number of epochs (overrides config)")
	f.Int("batch", 0, "batch size (overrides config)")
	f.Float32("lr", 0, "learning rate (overrides config)")
	f.String("optimizer", "", "optimizer: sgd or adam (overrides config)")
	f.Int("samples", 0, "synthetic dataset size (overrides config)")
	f.BoolVarP(&watchConfig, "watch", "w", false, "apply config changes while training")
	f.StringVar(&resume, "resume", "", "checkpoint name or path to load before training")
}

// applyTrainFlags copies explicitly set flags over the loaded config.
func applyTrainFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	var errs []error
	if f.Changed("epochs") {
		v, err := f.GetInt("epochs")
		errs = append(errs, err)
		c.Train.Epochs = v
	}
	if f.Changed("batch") {
		v, err := f.GetInt("batch")
		errs = append(errs, err)
		c.Train.BatchSize = v
	}
	if f.Changed("lr") {
		v, err := f.GetFloat32("lr")
		errs = append(errs, err)
		c.Train.LR = v
	}
	if f.Changed("optimizer") {
		v, err := f.GetString("optimizer")
		errs = append(errs, err)
		c.Train.Optimizer = v
	}
	if f.Changed("samples") {
		v, err := f.GetInt("samples")
		errs = append(errs, err)
		c.Train.Samples = v
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return c.Validate()
}

type trainBatch = bornhost.Batch[bornhost.CPUBackend]

func runTrain(ctx context.Context, c *config.Config, logger *zap.Logger) (err error) {
	t := c.Train

	ds, err := data.Synthetic(t.Samples, t.Features, t.Classes, t.Seed)
	if err != nil {
		return err
	}
	trainDS, validDS := ds.Split(t.ValidFrac)

	backend := bornhost.NewCPU()
	trainBatches, err := data.Batches(trainDS, t.BatchSize, true, t.Seed, backend)
	if err != nil {
		return fmt.Errorf("train batches: %w", err)
	}
	var validBatches []*trainBatch
	if validDS.Len() > 0 {
		if validBatches, err = data.Batches(validDS, t.BatchSize, false, 0, backend); err != nil {
			return fmt.Errorf("validation batches: %w", err)
		}
	}

	model := nn.NewSequential[bornhost.CPUBackend](
		nn.NewLinear(t.Features, t.Hidden, backend),
		nn.NewReLU[bornhost.CPUBackend](),
		nn.NewLinear(t.Hidden, t.Classes, backend),
	)
	opt := newOptimizer(t, model.Parameters(), backend)

	cbs, err := callbacks.FromConfig(c.Callbacks, logger)
	if err != nil {
		return err
	}

	var runID string
	if c.History.Path != "" {
		store, openErr := history.Open(c.History.Path)
		if openErr != nil {
			return openErr
		}
		defer store.Close()

		run, startErr := store.StartRun(ctx, t.Epochs)
		if startErr != nil {
			return startErr
		}
		runID = run.ID
		defer func() {
			if ferr := store.FinishRun(context.WithoutCancel(ctx), run.ID, runStatus(cbs, err)); ferr != nil {
				logger.Warn("failed to finish run", zap.Error(ferr))
			}
		}()

		if h := c.Callbacks.History; h.Enabled {
			rec, recErr := callbacks.NewRecorder(store.Sink(run.ID), h.NumIterations,
				callbacks.WithLogger(logger), callbacks.WithDisabled(h.Disabled))
			if recErr != nil {
				return recErr
			}
			cbs = append(cbs, rec)
		}
	}

	host := bornhost.New(backend, model, opt, bornhost.Config{
		CheckpointDir: c.Checkpoint.Dir,
		ModelType:     c.Checkpoint.ModelType,
		RunID:         runID,
	})
	host.SetLogger(logger.Named("host"))
	if resume != "" {
		if err := host.Load(resume); err != nil {
			return err
		}
		logger.Info("resumed from checkpoint", zap.String("checkpoint", resume))
	}

	l := learner.New(host, trainBatches, cbs...)
	l.SetValidation(validBatches)
	l.SetLogger(logger.Named("learner"))

	logger.Info("training started",
		zap.String("run", runID),
		zap.Int("epochs", t.Epochs),
		zap.Int("train_batches", len(trainBatches)),
		zap.Int("valid_batches", len(validBatches)),
		zap.String("optimizer", t.Optimizer))

	state, err := fit(ctx, l, t.Epochs, cbs, logger)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Int("iterations", state.Iteration),
		zap.Int("steps", host.Steps()),
		zap.Bool("stopped_early", state.StopTraining),
	}
	if len(validBatches) > 0 {
		loss, acc, err := host.Evaluate(ctx, validBatches)
		if err != nil {
			return err
		}
		fields = append(fields, zap.Float32("valid_loss", loss), zap.Float32("valid_accuracy", acc))
	}
	logger.Info("training finished", fields...)
	return nil
}

// fit runs training, and the config watcher alongside when --watch is set.
func fit(ctx context.Context, l *learner.Learner[*trainBatch], epochs int, cbs []learner.Callback, logger *zap.Logger) (*learner.State, error) {
	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)
	defer stopWatch()

	if watchConfig {
		w, err := watch.New(cfgPath, func(next *config.Config) error {
			return callbacks.Apply(cbs, next.Callbacks)
		}, logger.Named("watch"))
		if err != nil {
			return nil, err
		}
		defer w.Close()
		g.Go(func() error {
			return w.Run(watchCtx)
		})
	}

	var state *learner.State
	g.Go(func() error {
		defer stopWatch()
		var err error
		state, err = l.Fit(gctx, epochs)
		return err
	})

	return state, g.Wait()
}

func newOptimizer(t config.TrainConfig, params []*nn.Parameter[bornhost.CPUBackend], backend bornhost.CPUBackend) optim.Optimizer {
	if t.Optimizer == "adam" {
		return optim.NewAdam(params, optim.AdamConfig{
			LR:    t.LR,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend)
	}
	return optim.NewSGD(params, optim.SGDConfig{LR: t.LR, Momentum: t.Momentum}, backend)
}

func runStatus(cbs []learner.Callback, err error) string {
	if err != nil {
		return history.StatusFailed
	}
	if stopper, ok := learner.Find[*callbacks.StopAfterN](cbs); ok && stopper.Stopped() {
		return history.StatusStopped
	}
	return history.StatusCompleted
}
