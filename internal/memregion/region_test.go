package memregion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsZeroedRegionOfRequestedSize(t *testing.T) {
	r, err := Acquire(4096)
	require.NoError(t, err)
	defer r.Release()

	data := r.Bytes()
	require.Len(t, data, 4096)

	for _, b := range data {
		assert.Equal(t, byte(0), b)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r, err := Acquire(4096)
	require.NoError(t, err)

	require.NoError(t, r.Release())
	require.NoError(t, r.Release())
}
