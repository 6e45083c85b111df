package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxesCluster(t *testing.T) {
	left, _ := newMotors(t, 2, false)
	right, _ := newMotors(t, 1, false)

	plain := NewBoxes(false)
	require.NoError(t, plain.AddBox("left", Set(left...)))
	assert.ErrorIs(t, plain.AddBox("right", Set(right...)), ErrNameCollision)
	assert.Equal(t, []string{"left"}, plain.Boxes())
	assert.Equal(t, 2, plain.Len())

	prefixed := NewBoxes(true)
	require.NoError(t, prefixed.AddBox("left", Set(left...)))
	require.NoError(t, prefixed.AddBox("right", Set(right...)))
	assert.Equal(t, []string{"left", "right"}, prefixed.Boxes())
	assert.Equal(t, []string{"left|Motor0.1", "left|Motor0.2", "right|Motor0.1"}, prefixed.Names())
	assert.ErrorIs(t, prefixed.AddBox("left", Set()), ErrNameCollision)

	set, ok := prefixed.Box("right")
	require.True(t, ok)
	assert.Equal(t, right, set.Motors())

	prefixed.RemoveBox("left")
	prefixed.RemoveBox("missing")
	assert.Equal(t, []string{"right|Motor0.1"}, prefixed.Names())
	assert.Equal(t, []string{"right"}, prefixed.Boxes())

	// Re-adding does not stack prefixes.
	require.NoError(t, prefixed.AddBox("left", Set(left...)))
	assert.Contains(t, prefixed.Names(), "left|Motor0.1")
}
