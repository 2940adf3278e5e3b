package learner

import "math"

// smoothBeta is the decay of the exponential moving average of the loss.
const smoothBeta = 0.98

// Controls is the side-effect surface a callback may drive.
//
// *Learner implements it; State.Learner is always set during a run.
type Controls interface {
	// Step applies the pending gradients.
	Step() error
	// ZeroGrad drops the pending gradients.
	ZeroGrad()
	// Save writes the model under name and returns where it went.
	Save(name string) (string, error)
}

// State is the mutable run state shared by all hooks.
type State struct {
	Epoch      int // Current epoch, 0-based.
	NumEpochs  int // Epochs requested from Fit.
	Iteration  int // Training batches seen so far, across epochs. Incremented after OnBatchEnd.
	Batch      int // Batch index within the current epoch.
	NumBatches int // Training batches per epoch.

	Loss       float32 // Loss of the last batch that ran a backward pass.
	SmoothLoss float32 // Debiased exponential moving average of Loss.
	ValidLoss  float32 // Validation loss of the last epoch, NaN without validation data.
	LR         float32 // Current learning rate, 0 if the model does not report one.

	// Per-batch flags, cleared before OnBatchBegin.
	SkipBatch bool // Skip forward, backward, step and zero-grad.
	SkipStep  bool // Skip the optimizer step.
	SkipZero  bool // Keep the pending gradients.

	// StopEpoch ends the current epoch after this batch. Cleared at epoch begin.
	StopEpoch bool
	// StopTraining ends the run. Never cleared.
	StopTraining bool

	Learner Controls

	avg   float64
	steps int
}

func newState(numEpochs, numBatches int, ctrl Controls) *State {
	return &State{
		NumEpochs:  numEpochs,
		NumBatches: numBatches,
		ValidLoss:  float32(math.NaN()),
		Learner:    ctrl,
	}
}

func (s *State) resetBatchFlags() {
	s.SkipBatch = false
	s.SkipStep = false
	s.SkipZero = false
}

func (s *State) recordLoss(loss float32) {
	s.Loss = loss
	s.steps++
	s.avg = smoothBeta*s.avg + (1-smoothBeta)*float64(loss)
	s.SmoothLoss = float32(s.avg / (1 - math.Pow(smoothBeta, float64(s.steps))))
}
