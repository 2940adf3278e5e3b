package callbacks

import (
	"context"
	"fmt"

	"github.com/born-ml/born-train/internal/learner"
)

// NameHistory is the name of the Recorder callback.
const NameHistory = "history"

// Event kinds written by Recorder.
const (
	EventTrainBegin = "train_begin"
	EventLoss       = "loss"
	EventEpochEnd   = "epoch_end"
	EventStop       = "stop"
	EventTrainEnd   = "train_end"
)

// Event is one entry of a run log.
type Event struct {
	Kind      string
	Epoch     int
	Iteration int
	Loss      float32
	ValidLoss float32
	Detail    string
}

// Sink stores run events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Recorder writes the run's progress to a Sink: the loss every N iterations,
// every epoch end, the stop request and the end of training.
type Recorder struct {
	learner.Base
	settings

	sink       Sink
	stopLogged bool
}

// NewRecorder creates a Recorder sampling the loss every n iterations.
func NewRecorder(sink Sink, n int, opts ...Option) (*Recorder, error) {
	if sink == nil {
		return nil, fmt.Errorf("callbacks: recorder needs a sink")
	}
	r := &Recorder{sink: sink}
	if err := r.init(NameHistory, n, 1, buildOptions(opts)); err != nil {
		return nil, err
	}
	return r, nil
}

// OnTrainBegin records the start of the run.
func (r *Recorder) OnTrainBegin(ctx context.Context, s *learner.State) error {
	r.stopLogged = false
	if r.Disabled() {
		return nil
	}
	return r.record(ctx, s, EventTrainBegin, fmt.Sprintf("epochs=%d batches=%d", s.NumEpochs, s.NumBatches))
}

// OnBatchEnd samples the loss and records a stop request.
func (r *Recorder) OnBatchEnd(ctx context.Context, s *learner.State) error {
	if r.Disabled() {
		return nil
	}
	if every(s.Iteration, r.NumIterations()) {
		if err := r.record(ctx, s, EventLoss, ""); err != nil {
			return err
		}
	}
	if s.StopTraining && !r.stopLogged {
		r.stopLogged = true
		return r.record(ctx, s, EventStop, "")
	}
	return nil
}

// OnEpochEnd records the epoch with its validation loss.
func (r *Recorder) OnEpochEnd(ctx context.Context, s *learner.State) error {
	if r.Disabled() {
		return nil
	}
	return r.record(ctx, s, EventEpochEnd, "")
}

// OnTrainEnd records the end of the run.
func (r *Recorder) OnTrainEnd(ctx context.Context, s *learner.State) error {
	if r.Disabled() {
		return nil
	}
	return r.record(ctx, s, EventTrainEnd, fmt.Sprintf("stopped=%t", s.StopTraining))
}

func (r *Recorder) record(ctx context.Context, s *learner.State, kind, detail string) error {
	ev := Event{
		Kind:      kind,
		Epoch:     s.Epoch,
		Iteration: s.Iteration,
		Loss:      s.SmoothLoss,
		ValidLoss: s.ValidLoss,
		Detail:    detail,
	}
	if err := r.sink.Record(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	return nil
}
