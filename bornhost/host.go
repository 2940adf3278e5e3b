// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package bornhost adapts Born networks and optimizers to the learner loop.
//
// Host owns the gradient buffer between backward and step. Born optimizers
// consume a gradient map in a single Step call; Host sums the maps of every
// batch seen since the last ZeroGrad, so skipping step and zero-grad in the
// loop accumulates gradients across batches.
//
// Example:
//
//	backend := bornhost.NewCPU()
//	model := nn.NewSequential(
//	    nn.NewLinear(4, 16, backend),
//	    nn.NewReLU[bornhost.CPUBackend](),
//	    nn.NewLinear(16, 3, backend),
//	)
//	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.05}, backend)
//	host := bornhost.New(backend, model, opt, bornhost.Config{CheckpointDir: "ckpt"})
//	l := learner.New(host, batches, callbacks...)
package bornhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"go.uber.org/zap"
)

// Ext is the checkpoint file extension.
const Ext = ".born"

var (
	// ErrEmptyBatch is returned for a nil or empty batch.
	ErrEmptyBatch = errors.New("bornhost: empty batch")
	// ErrBackend is returned when a Born operation panics, e.g. on a shape mismatch.
	ErrBackend = errors.New("bornhost: backend failure")
	// ErrNoCheckpointDir is returned by Save when no directory is configured.
	ErrNoCheckpointDir = errors.New("bornhost: checkpoint directory not set")
)

// CPUBackend is the autodiff-wrapped CPU backend.
type CPUBackend = *autodiff.Backend[*cpu.Backend]

// NewCPU returns a CPU backend with automatic differentiation.
func NewCPU() CPUBackend {
	return autodiff.New(cpu.New())
}

// Batch is one mini-batch of a classification task.
type Batch[B tensor.Backend] struct {
	Inputs *tensor.Tensor[float32, B] // [Size, features]
	Labels *tensor.Tensor[int32, B]   // [Size], class indices
	Size   int
}

// Config configures a Host.
type Config struct {
	CheckpointDir string // Directory checkpoints are written to.
	ModelType     string // Model type stored in the checkpoint header.
	RunID         string // Stored in checkpoint metadata when set.
}

// Host runs forward, loss and backward for a Born network and owns the
// pending gradient buffer.
//
// Host is not safe for concurrent use.
type Host[B tensor.Backend] struct {
	backend *autodiff.Backend[B]
	net     nn.Module[*autodiff.Backend[B]]
	opt     optim.Optimizer
	cfg     Config
	logger  *zap.Logger

	params  []*tensor.RawTensor
	pending map[*tensor.RawTensor]*tensor.RawTensor
	window  int // batches folded into pending
	steps   int // optimizer steps taken
}

// New creates a Host training net with opt on backend.
func New[B tensor.Backend](
	backend *autodiff.Backend[B],
	net nn.Module[*autodiff.Backend[B]],
	opt optim.Optimizer,
	cfg Config,
) *Host[B] {
	if cfg.ModelType == "" {
		cfg.ModelType = "Sequential"
	}
	params := make([]*tensor.RawTensor, 0, len(net.Parameters()))
	for _, p := range net.Parameters() {
		params = append(params, p.Tensor().Raw())
	}
	return &Host[B]{
		backend: backend,
		net:     net,
		opt:     opt,
		cfg:     cfg,
		logger:  zap.NewNop(),
		params:  params,
		pending: make(map[*tensor.RawTensor]*tensor.RawTensor, len(params)),
	}
}

// SetLogger sets the logger for host events.
func (h *Host[B]) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h.logger = logger
}

// Network returns the trained network.
func (h *Host[B]) Network() nn.Module[*autodiff.Backend[B]] {
	return h.net
}

// Backward runs forward, cross-entropy loss and backward for one batch and
// adds the parameter gradients to the pending buffer.
func (h *Host[B]) Backward(_ context.Context, batch *Batch[*autodiff.Backend[B]]) (loss float32, err error) {
	if batch == nil || batch.Size == 0 {
		return 0, ErrEmptyBatch
	}
	defer recoverBackend(&err)

	tape := h.backend.Tape()
	if !tape.IsRecording() {
		tape.StartRecording()
	}
	defer tape.Clear()

	logits := h.net.Forward(batch.Inputs)
	lossRaw := h.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw())
	loss = lossRaw.AsFloat32()[0]

	outputGrad, err := tensor.NewRaw(lossRaw.Shape(), lossRaw.DType(), h.backend.Device())
	if err != nil {
		return 0, fmt.Errorf("allocate output gradient: %w", err)
	}
	outputGrad.AsFloat32()[0] = 1.0

	grads := tape.Backward(outputGrad, h.backend)
	if err := h.accumulate(grads); err != nil {
		return 0, err
	}
	h.window++
	return loss, nil
}

// accumulate sums the gradients of the network parameters into pending.
// Gradients of intermediate tensors are dropped.
func (h *Host[B]) accumulate(grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	for _, p := range h.params {
		g, ok := grads[p]
		if !ok || g == nil {
			continue
		}
		acc, ok := h.pending[p]
		if !ok {
			// Gradients may share buffers with the tape; keep a private copy.
			fresh, err := tensor.NewRaw(g.Shape(), tensor.Float32, g.Device())
			if err != nil {
				return fmt.Errorf("allocate gradient buffer: %w", err)
			}
			copy(fresh.AsFloat32(), g.AsFloat32())
			h.pending[p] = fresh
			continue
		}
		dst := acc.AsFloat32()
		for i, v := range g.AsFloat32() {
			dst[i] += v
		}
	}
	return nil
}

// Step applies the pending gradients. A no-op when nothing is pending.
func (h *Host[B]) Step() (err error) {
	if len(h.pending) == 0 {
		return nil
	}
	defer recoverBackend(&err)

	// Parameter updates are not part of the next forward graph.
	tape := h.backend.Tape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	h.opt.Step(h.pending)
	h.steps++
	h.logger.Debug("optimizer step",
		zap.Int("step", h.steps),
		zap.Int("batches", h.window))
	return nil
}

// ZeroGrad drops the pending gradients.
func (h *Host[B]) ZeroGrad() {
	h.opt.ZeroGrad()
	clear(h.pending)
	h.window = 0
}

// Pending returns how many batches are folded into the pending gradients.
func (h *Host[B]) Pending() int {
	return h.window
}

// Steps returns how many optimizer steps were applied.
func (h *Host[B]) Steps() int {
	return h.steps
}

// LR returns the optimizer learning rate.
func (h *Host[B]) LR() float32 {
	return h.opt.GetLR()
}

// PendingGradient returns the accumulated gradient of a parameter tensor.
func (h *Host[B]) PendingGradient(param *tensor.RawTensor) ([]float32, bool) {
	g, ok := h.pending[param]
	if !ok {
		return nil, false
	}
	return g.AsFloat32(), true
}

// Path returns the checkpoint path for name.
func (h *Host[B]) Path(name string) string {
	return filepath.Join(h.cfg.CheckpointDir, name+Ext)
}

// Save writes the network to "<CheckpointDir>/<name>.born", replacing any
// previous checkpoint of the same name.
func (h *Host[B]) Save(name string) (string, error) {
	if h.cfg.CheckpointDir == "" {
		return "", ErrNoCheckpointDir
	}
	if err := os.MkdirAll(h.cfg.CheckpointDir, 0o750); err != nil {
		return "", fmt.Errorf("create checkpoint dir: %w", err)
	}

	path := h.Path(name)
	metadata := map[string]string{
		"name":     name,
		"steps":    strconv.Itoa(h.steps),
		"saved_at": time.Now().UTC().Format(time.RFC3339),
	}
	if h.cfg.RunID != "" {
		metadata["run_id"] = h.cfg.RunID
	}
	if err := nn.Save(h.net, path, h.cfg.ModelType, metadata); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// Load restores the network parameters from a checkpoint file.
//
// A bare name is resolved against CheckpointDir.
func (h *Host[B]) Load(pathOrName string) error {
	path := pathOrName
	if filepath.Ext(path) != Ext {
		path = h.Path(pathOrName)
	}
	if _, err := nn.Load(path, h.backend, h.net); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate returns the mean cross-entropy loss over batches without
// recording gradients.
func (h *Host[B]) Validate(ctx context.Context, batches []*Batch[*autodiff.Backend[B]]) (float32, error) {
	loss, _, err := h.Evaluate(ctx, batches)
	return loss, err
}

// Evaluate returns the mean loss and the sample-weighted accuracy over batches.
func (h *Host[B]) Evaluate(ctx context.Context, batches []*Batch[*autodiff.Backend[B]]) (loss, accuracy float32, err error) {
	if len(batches) == 0 {
		return 0, 0, ErrEmptyBatch
	}
	defer recoverBackend(&err)

	tape := h.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	var total float32
	correct, samples := 0, 0
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if batch == nil || batch.Size == 0 {
			return 0, 0, ErrEmptyBatch
		}
		logits := h.net.Forward(batch.Inputs)
		total += h.backend.CrossEntropy(logits.Raw(), batch.Labels.Raw()).AsFloat32()[0]
		acc := nn.Accuracy(logits, batch.Labels)
		correct += int(acc*float32(batch.Size) + 0.5)
		samples += batch.Size
	}
	return total / float32(len(batches)), float32(correct) / float32(samples), nil
}

func recoverBackend(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrBackend, r)
	}
}
