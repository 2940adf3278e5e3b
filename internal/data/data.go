// Package data builds in-memory classification datasets and mini-batches.
package data

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-train/bornhost"
)

var (
	// ErrEmptyDataset is returned when a dataset has no samples.
	ErrEmptyDataset = errors.New("data: empty dataset")
	// ErrLengthMismatch is returned when features and labels differ in length.
	ErrLengthMismatch = errors.New("data: features and labels length mismatch")
	// ErrInvalidBatchSize is returned for a non-positive batch size.
	ErrInvalidBatchSize = errors.New("data: batch size must be positive")
)

// Dataset holds samples and their class labels.
type Dataset struct {
	Features [][]float32 // [num_samples, num_features]
	Labels   []int32     // [num_samples]
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Features)
}

// Validate checks that the dataset is non-empty and rectangular.
func (d *Dataset) Validate() error {
	if len(d.Features) == 0 {
		return ErrEmptyDataset
	}
	if len(d.Features) != len(d.Labels) {
		return fmt.Errorf("%w: %d features, %d labels", ErrLengthMismatch, len(d.Features), len(d.Labels))
	}
	width := len(d.Features[0])
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("data: sample %d has %d features, want %d", i, len(row), width)
		}
	}
	return nil
}

// Synthetic generates n samples of linearly separable class blobs.
//
// Class c is centered at +3 or -3 along feature c mod features with unit
// Gaussian noise on every feature. Labels cycle through the classes so every class
// is represented in any prefix. The same seed always yields the same data.
func Synthetic(n, features, classes int, seed uint64) (*Dataset, error) {
	if n <= 0 || features <= 0 || classes <= 1 {
		return nil, fmt.Errorf("data: invalid synthetic shape n=%d features=%d classes=%d", n, features, classes)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	ds := &Dataset{
		Features: make([][]float32, n),
		Labels:   make([]int32, n),
	}
	for i := 0; i < n; i++ {
		class := i % classes
		row := make([]float32, features)
		for j := range row {
			row[j] = float32(rng.NormFloat64())
		}
		axis := class % features
		if (class/features)%2 == 0 {
			row[axis] += 3
		} else {
			row[axis] -= 3
		}
		ds.Features[i] = row
		ds.Labels[i] = int32(class)
	}
	return ds, nil
}

// Split splits the dataset into train and validation sets.
//
// The first (1-validFrac) of the samples go to train. Both halves share
// the underlying slices.
func (d *Dataset) Split(validFrac float64) (train, valid *Dataset) {
	splitIdx := int(float64(d.Len()) * (1.0 - validFrac))
	splitIdx = max(0, min(splitIdx, d.Len()))
	return &Dataset{Features: d.Features[:splitIdx], Labels: d.Labels[:splitIdx]},
		&Dataset{Features: d.Features[splitIdx:], Labels: d.Labels[splitIdx:]}
}

// Batches splits the dataset into mini-batches on backend.
//
// With shuffle set, samples are permuted with the given seed first. The
// last batch may be smaller than size.
func Batches[B tensor.Backend](d *Dataset, size int, shuffle bool, seed uint64, backend B) ([]*bornhost.Batch[B], error) {
	if size <= 0 {
		return nil, ErrInvalidBatchSize
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	numSamples := d.Len()
	numFeatures := len(d.Features[0])
	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
		rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	batches := make([]*bornhost.Batch[B], 0, (numSamples+size-1)/size)
	for start := 0; start < numSamples; start += size {
		end := min(start+size, numSamples)
		n := end - start

		inputs := make([]float32, 0, n*numFeatures)
		labels := make([]int32, 0, n)
		for _, idx := range indices[start:end] {
			inputs = append(inputs, d.Features[idx]...)
			labels = append(labels, d.Labels[idx])
		}

		x, err := tensor.FromSlice(inputs, tensor.Shape{n, numFeatures}, backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create inputs tensor: %w", err)
		}
		y, err := tensor.FromSlice(labels, tensor.Shape{n}, backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create labels tensor: %w", err)
		}
		batches = append(batches, &bornhost.Batch[B]{Inputs: x, Labels: y, Size: n})
	}
	return batches, nil
}
