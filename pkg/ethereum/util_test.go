package ethereum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRangeSingleWindow(t *testing.T) {
	windows := chunkRange(100, 150, 999)
	require.Len(t, windows, 1)
	assert.Equal(t, [2]uint64{100, 150}, windows[0])
}

func TestChunkRangeSplitsAtMaxSpan(t *testing.T) {
	// maxSpan counts additional blocks per window: [0,9], [10,19], [20,25].
	windows := chunkRange(0, 25, 9)
	require.Len(t, windows, 3)
	assert.Equal(t, [2]uint64{0, 9}, windows[0])
	assert.Equal(t, [2]uint64{10, 19}, windows[1])
	assert.Equal(t, [2]uint64{20, 25}, windows[2])
}

func TestChunkRangeExactBoundary(t *testing.T) {
	windows := chunkRange(0, 19, 9)
	require.Len(t, windows, 2)
	assert.Equal(t, [2]uint64{10, 19}, windows[1])
}

func TestChunkRangeSingleBlock(t *testing.T) {
	windows := chunkRange(7, 7, 999)
	require.Len(t, windows, 1)
	assert.Equal(t, [2]uint64{7, 7}, windows[0])
}
