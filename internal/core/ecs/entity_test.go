package ecs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityPoolRecyclesWithNewGeneration(t *testing.T) {
	p := NewEntityPool()

	a := p.Create()
	require.NotEqual(t, Nil, a)
	require.True(t, p.Alive(a))

	require.NoError(t, p.Destroy(a))
	assert.False(t, p.Alive(a))

	b := p.Create()
	assert.Equal(t, a.Index(), b.Index(), "slot is recycled")
	assert.NotEqual(t, a, b, "recycled handle must differ")
	assert.False(t, p.Alive(a), "stale handle stays dead")
	assert.True(t, p.Alive(b))
	assert.Equal(t, 1, p.Len())
}

func TestEntityPoolDestroyTwice(t *testing.T) {
	p := NewEntityPool()
	e := p.Create()

	require.NoError(t, p.Destroy(e))
	err := p.Destroy(e)
	assert.True(t, errors.Is(err, ErrEntityNotAlive))
	assert.Equal(t, 0, p.Len())

	// the freed slot is still only handed out once
	x := p.Create()
	y := p.Create()
	assert.NotEqual(t, x.Index(), y.Index())
}

func TestEntityPoolUnknownHandle(t *testing.T) {
	p := NewEntityPool()
	assert.False(t, p.Alive(newEntity(42, 1)))
	assert.False(t, p.Alive(Nil))
	assert.ErrorIs(t, p.Destroy(newEntity(3, 7)), ErrEntityNotAlive)
}
