package gomain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIDAllocatorSaturation reproduces spec.md §8 scenario 3: seed the id
// allocator at MAX-1 and confirm it rolls over to MAX, then wraps to a
// fresh positive id, skipping any value still held by an attached source
// (sourcetable.go's alloc loop), with every subsequent attachment still
// unique and non-zero.
func TestIDAllocatorSaturation(t *testing.T) {
	ctx := NewContext()
	ctx.table.nextID = math.MaxUint64 - 1

	mk := func() *Source { return New(idleSource{callback: func() bool { return true }}) }

	s1 := mk()
	id1, err := s1.Attach(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), id1)

	s2 := mk()
	id2, err := s2.Attach(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), id2)

	s3 := mk()
	id3, err := s3.Attach(ctx)
	require.NoError(t, err)
	assert.NotZero(t, id3)
	assert.Greater(t, id3, uint64(0))
	assert.NotEqual(t, id1, id3)
	assert.NotEqual(t, id2, id3)

	seen := map[uint64]bool{id1: true, id2: true, id3: true}
	for i := 0; i < 50; i++ {
		s := mk()
		id, err := s.Attach(ctx)
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}
