// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package data provides synthetic classification datasets and batching
// into Born tensors.
//
// Example:
//
//	ds, _ := data.Synthetic(600, 4, 3, 42)
//	train, valid := ds.Split(0.2)
//	batches, _ := data.Batches(train, 32, true, 42, backend)
package data

import (
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/born-train/bornhost"
	"github.com/born-ml/born-train/internal/data"
)

// Dataset holds feature rows and their class labels.
type Dataset = data.Dataset

// Sentinel errors.
var (
	ErrEmptyDataset     = data.ErrEmptyDataset
	ErrLengthMismatch   = data.ErrLengthMismatch
	ErrInvalidBatchSize = data.ErrInvalidBatchSize
)

// Synthetic creates n samples of separable class blobs.
func Synthetic(n, features, classes int, seed uint64) (*Dataset, error) {
	return data.Synthetic(n, features, classes, seed)
}

// Batches splits d into batches of at most size samples on backend,
// shuffled with seed when shuffle is set.
func Batches[B tensor.Backend](d *Dataset, size int, shuffle bool, seed uint64, backend B) ([]*bornhost.Batch[B], error) {
	return data.Batches(d, size, shuffle, seed, backend)
}
