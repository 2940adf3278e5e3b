package data_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-train/bornhost"
	"github.com/born-ml/born-train/data"
)

func TestPublicBatches(t *testing.T) {
	ds, err := data.Synthetic(10, 4, 2, 1)
	require.NoError(t, err)

	batches, err := data.Batches(ds, 4, false, 0, bornhost.NewCPU())
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, 2, batches[2].Size)

	_, err = data.Batches(ds, 0, false, 0, bornhost.NewCPU())
	assert.ErrorIs(t, err, data.ErrInvalidBatchSize)
}
