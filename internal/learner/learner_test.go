package learner_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-train/internal/learner"
)

// fakeModel records how the loop drives it. Batches are their loss value.
type fakeModel struct {
	backwards int
	steps     int
	zeros     int
	pending   int // batches folded in since the last ZeroGrad
	applied   []int
	stepErr   error
}

func (m *fakeModel) Backward(_ context.Context, loss float32) (float32, error) {
	m.backwards++
	m.pending++
	return loss, nil
}

func (m *fakeModel) Step() error {
	if m.stepErr != nil {
		return m.stepErr
	}
	m.steps++
	m.applied = append(m.applied, m.pending)
	return nil
}

func (m *fakeModel) ZeroGrad() {
	m.zeros++
	m.pending = 0
}

type savingModel struct {
	fakeModel
	saved []string
}

func (m *savingModel) Save(name string) (string, error) {
	m.saved = append(m.saved, name)
	return "/tmp/" + name + ".born", nil
}

func (m *savingModel) Validate(_ context.Context, batches []float32) (float32, error) {
	var sum float32
	for _, b := range batches {
		sum += b
	}
	return sum / float32(len(batches)), nil
}

func (m *savingModel) LR() float32 { return 0.01 }

// tracer records every hook call as "Hook@iteration".
type tracer struct {
	learner.Base
	name  string
	trace []string
	on    map[learner.Hook]func(s *learner.State) error
}

func newTracer(name string) *tracer {
	return &tracer{name: name, on: make(map[learner.Hook]func(s *learner.State) error)}
}

func (t *tracer) Name() string { return t.name }

func (t *tracer) record(h learner.Hook, s *learner.State) error {
	t.trace = append(t.trace, fmt.Sprintf("%s@%d", h, s.Iteration))
	if f, ok := t.on[h]; ok {
		return f(s)
	}
	return nil
}

func (t *tracer) OnTrainBegin(_ context.Context, s *learner.State) error {
	return t.record(learner.HookTrainBegin, s)
}

func (t *tracer) OnEpochBegin(_ context.Context, s *learner.State) error {
	return t.record(learner.HookEpochBegin, s)
}

func (t *tracer) OnBatchBegin(_ context.Context, s *learner.State) error {
	return t.record(learner.HookBatchBegin, s)
}

func (t *tracer) OnBackwardEnd(_ context.Context, s *learner.State) error {
	return t.record(learner.HookBackwardEnd, s)
}

func (t *tracer) OnStepEnd(_ context.Context, s *learner.State) error {
	return t.record(learner.HookStepEnd, s)
}

func (t *tracer) OnBatchEnd(_ context.Context, s *learner.State) error {
	return t.record(learner.HookBatchEnd, s)
}

func (t *tracer) OnEpochEnd(_ context.Context, s *learner.State) error {
	return t.record(learner.HookEpochEnd, s)
}

func (t *tracer) OnTrainEnd(_ context.Context, s *learner.State) error {
	return t.record(learner.HookTrainEnd, s)
}

func TestFit_HookOrder(t *testing.T) {
	model := &fakeModel{}
	tr := newTracer("trace")
	l := learner.New(model, []float32{1, 2}, tr)

	s, err := l.Fit(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"OnTrainBegin@0",
		"OnEpochBegin@0",
		"OnBatchBegin@0", "OnBackwardEnd@0", "OnStepEnd@0", "OnBatchEnd@0",
		"OnBatchBegin@1", "OnBackwardEnd@1", "OnStepEnd@1", "OnBatchEnd@1",
		"OnEpochEnd@2",
		"OnTrainEnd@2",
	}, tr.trace)
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, 2, model.backwards)
	assert.Equal(t, 2, model.steps)
	assert.Equal(t, 2, model.zeros)
}

func TestFit_IterationSpansEpochs(t *testing.T) {
	var seen []int
	tr := newTracer("iter")
	tr.on[learner.HookBatchEnd] = func(s *learner.State) error {
		seen = append(seen, s.Iteration)
		return nil
	}
	l := learner.New(&fakeModel{}, []float32{1, 1, 1}, tr)

	s, err := l.Fit(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, seen)
	assert.Equal(t, 2, s.Epoch)
	assert.Equal(t, 9, s.Iteration)
}

func TestFit_SkipStepAndZeroAccumulates(t *testing.T) {
	model := &fakeModel{}
	tr := newTracer("accum")
	tr.on[learner.HookBackwardEnd] = func(s *learner.State) error {
		if s.Iteration%2 == 0 {
			s.SkipStep = true
			s.SkipZero = true
		}
		return nil
	}
	l := learner.New(model, []float32{1, 1, 1, 1}, tr)

	_, err := l.Fit(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 4, model.backwards)
	assert.Equal(t, 2, model.steps)
	assert.Equal(t, []int{2, 2}, model.applied)
	assert.Equal(t, 2, model.zeros)
}

func TestFit_SkipBatch(t *testing.T) {
	model := &fakeModel{}
	tr := newTracer("skip")
	tr.on[learner.HookBatchBegin] = func(s *learner.State) error {
		s.SkipBatch = s.Iteration < 2
		return nil
	}
	l := learner.New(model, []float32{1, 2, 3}, tr)

	s, err := l.Fit(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, model.backwards)
	assert.Equal(t, 3, s.Iteration)
	assert.NotContains(t, tr.trace, "OnBackwardEnd@0")
	assert.NotContains(t, tr.trace, "OnBackwardEnd@1")
	assert.Contains(t, tr.trace, "OnBackwardEnd@2")
	assert.Contains(t, tr.trace, "OnBatchEnd@0")
	assert.Equal(t, float32(3), s.Loss)
}

func TestFit_StopTrainingFromBatchEnd(t *testing.T) {
	model := &fakeModel{}
	tr := newTracer("stop")
	tr.on[learner.HookBatchEnd] = func(s *learner.State) error {
		if s.Iteration == 1 {
			s.StopTraining = true
		}
		return nil
	}
	l := learner.New(model, []float32{1, 1, 1, 1}, tr)

	s, err := l.Fit(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 2, model.backwards)
	assert.Equal(t, 0, s.Epoch)
	assert.True(t, s.StopTraining)
	assert.Contains(t, tr.trace, "OnEpochEnd@2")
	assert.Equal(t, "OnTrainEnd@2", tr.trace[len(tr.trace)-1])
}

func TestFit_StopEpochMovesToNextEpoch(t *testing.T) {
	model := &fakeModel{}
	tr := newTracer("stop-epoch")
	tr.on[learner.HookBatchEnd] = func(s *learner.State) error {
		s.StopEpoch = s.Batch == 0
		return nil
	}
	l := learner.New(model, []float32{1, 1, 1}, tr)

	s, err := l.Fit(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, model.backwards)
	assert.Equal(t, 1, s.Epoch)
	assert.False(t, s.StopTraining)
}

func TestFit_HookErrorIsWrapped(t *testing.T) {
	boom := errors.New("boom")
	tr := newTracer("faulty")
	tr.on[learner.HookBatchEnd] = func(s *learner.State) error {
		if s.Iteration == 1 {
			return boom
		}
		return nil
	}
	l := learner.New(&fakeModel{}, []float32{1, 1, 1}, tr)

	s, err := l.Fit(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `callback "faulty" OnBatchEnd`)
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, "OnTrainEnd@1", tr.trace[len(tr.trace)-1])
}

func TestFit_TrainEndErrorIsJoined(t *testing.T) {
	endErr := errors.New("flush failed")
	tr := newTracer("end")
	tr.on[learner.HookTrainEnd] = func(*learner.State) error { return endErr }
	l := learner.New(&fakeModel{}, []float32{1}, tr)

	_, err := l.Fit(context.Background(), 1)
	assert.ErrorIs(t, err, endErr)
}

func TestFit_StepErrorAborts(t *testing.T) {
	stepErr := errors.New("nan gradient")
	l := learner.New(&fakeModel{stepErr: stepErr}, []float32{1, 1})

	s, err := l.Fit(context.Background(), 1)
	assert.ErrorIs(t, err, stepErr)
	assert.Equal(t, 0, s.Iteration)
}

func TestFit_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := newTracer("cancel")
	tr.on[learner.HookBatchEnd] = func(*learner.State) error {
		cancel()
		return nil
	}
	model := &fakeModel{}
	l := learner.New(model, []float32{1, 1, 1}, tr)

	_, err := l.Fit(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.backwards)
	assert.Equal(t, "OnTrainEnd@1", tr.trace[len(tr.trace)-1])
}

func TestFit_InvalidArguments(t *testing.T) {
	_, err := learner.New(&fakeModel{}, []float32{1}).Fit(context.Background(), 0)
	assert.ErrorIs(t, err, learner.ErrInvalidEpochs)

	_, err = learner.New(&fakeModel{}, nil).Fit(context.Background(), 1)
	assert.ErrorIs(t, err, learner.ErrNoBatches)
}

func TestFit_ValidationAndLR(t *testing.T) {
	model := &savingModel{}
	l := learner.New[float32](model, []float32{1, 1})

	s, err := l.Fit(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(s.ValidLoss)), "no validation data")
	assert.Equal(t, float32(0.01), s.LR)

	l.SetValidation([]float32{2, 4})
	s, err = l.Fit(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, float32(3), s.ValidLoss)
}

func TestSmoothLoss_ConstantLoss(t *testing.T) {
	l := learner.New(&fakeModel{}, []float32{0.5, 0.5, 0.5})

	s, err := l.Fit(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, s.SmoothLoss, 1e-6)
}

func TestSave(t *testing.T) {
	_, err := learner.New(&fakeModel{}, []float32{1}).Save("model")
	assert.ErrorIs(t, err, learner.ErrSaveUnsupported)

	model := &savingModel{}
	path, err := learner.New[float32](model, []float32{1}).Save("model")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/model.born", path)
	assert.Equal(t, []string{"model"}, model.saved)
}

func TestCallbackLookup(t *testing.T) {
	a, b := newTracer("a"), newTracer("b")
	l := learner.New(&fakeModel{}, []float32{1}, a)
	l.AddCallbacks(b)

	cb, ok := l.Callback("b")
	require.True(t, ok)
	assert.Same(t, b, cb)

	_, ok = l.Callback("missing")
	assert.False(t, ok)

	found, ok := learner.Find[*tracer](l.Callbacks())
	require.True(t, ok)
	assert.Same(t, a, found)
}

func TestHookString(t *testing.T) {
	assert.Equal(t, "OnBackwardEnd", learner.HookBackwardEnd.String())
	assert.Equal(t, "Hook(42)", learner.Hook(42).String())
}
