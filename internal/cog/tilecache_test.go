package cog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkCache_EvictsOldestOverBudget(t *testing.T) {
	c := newChunkCache(10)
	c.put(0, make([]float64, 4))
	c.put(1, make([]float64, 4))
	assert.Equal(t, 2, c.len())

	c.put(2, make([]float64, 4))
	assert.Equal(t, 2, c.len())
	assert.Nil(t, c.get(0))
	assert.NotNil(t, c.get(1))
	assert.NotNil(t, c.get(2))

	// An oversized chunk still gets cached on its own.
	c.put(3, make([]float64, 20))
	assert.Equal(t, 1, c.len())
	assert.NotNil(t, c.get(3))
}
