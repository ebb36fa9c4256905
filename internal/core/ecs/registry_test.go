package ecs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

type position struct{ X, Y, Z float64 }

type velocity struct{ X, Y, Z float64 }

func newTestRegistry() *Registry {
	return NewRegistry(log.NewNop())
}

func TestDefineDuplicateName(t *testing.T) {
	r := newTestRegistry()
	_, err := Define[position](r, "Position")
	require.NoError(t, err)

	_, err = Define[velocity](r, "Position")
	assert.ErrorIs(t, err, ErrComponentExists)

	assert.Panics(t, func() { MustDefine[position](r, "Position") })
}

func TestComponentLifecycle(t *testing.T) {
	r := newTestRegistry()
	pos := MustDefine[position](r, "Position")
	e := r.CreateEntity()

	assert.False(t, pos.Has(e))
	_, err := pos.Get(e)
	assert.ErrorIs(t, err, ErrComponentAbsent)
	_, ok := pos.GetOptional(e)
	assert.False(t, ok)

	require.NoError(t, pos.Set(e, position{X: 1}))
	require.NoError(t, pos.Set(e, position{X: 2}), "set overwrites")
	assert.Equal(t, 1, pos.Len(), "one instance per entity")

	p, err := pos.Get(e)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p.X)

	p.Y = 5
	v, ok := pos.GetOptional(e)
	require.True(t, ok)
	assert.Equal(t, 5.0, v.Y, "Get returns a pointer into storage")

	require.NoError(t, pos.Remove(e))
	assert.False(t, pos.Has(e))
	assert.True(t, r.Alive(e), "removing the last component keeps the entity")
	require.NoError(t, pos.Remove(e), "removing an absent component is a no-op")
}

func TestAddKeepsExistingValue(t *testing.T) {
	r := newTestRegistry()
	pos := MustDefine[position](r, "Position")
	e := r.CreateEntity()

	require.NoError(t, pos.Set(e, position{X: 3}))
	require.NoError(t, pos.Add(e))
	v, _ := pos.GetOptional(e)
	assert.Equal(t, 3.0, v.X)
}

func TestOperationsOnDestroyedEntity(t *testing.T) {
	r := newTestRegistry()
	pos := MustDefine[position](r, "Position")
	e := r.CreateEntity()
	require.NoError(t, pos.Set(e, position{}))
	require.NoError(t, r.DestroyEntity(e))

	assert.ErrorIs(t, pos.Set(e, position{}), ErrEntityNotAlive)
	assert.ErrorIs(t, pos.Remove(e), ErrEntityNotAlive)
	_, err := pos.Get(e)
	assert.ErrorIs(t, err, ErrEntityNotAlive)
	assert.False(t, pos.Has(e))
	assert.ErrorIs(t, r.DestroyEntity(e), ErrEntityNotAlive)
	assert.Equal(t, 0, pos.Len())
}

func TestSwapRemoveKeepsIndexConsistent(t *testing.T) {
	r := newTestRegistry()
	pos := MustDefine[position](r, "Position")

	var es []Entity
	for i := 0; i < 5; i++ {
		e := r.CreateEntity()
		require.NoError(t, pos.Set(e, position{X: float64(i)}))
		es = append(es, e)
	}
	require.NoError(t, pos.Remove(es[1]))
	require.NoError(t, pos.Remove(es[3]))

	for i, e := range es {
		v, ok := pos.GetOptional(e)
		if i == 1 || i == 3 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, float64(i), v.X)
	}
}

func TestCleanupHooksRunBeforeSlotIsFreed(t *testing.T) {
	r := newTestRegistry()
	var released []float64
	pos := MustDefine(r, "Position", WithCleanup(func(e Entity, p *position) error {
		released = append(released, p.X)
		return nil
	}))

	a, b := r.CreateEntity(), r.CreateEntity()
	require.NoError(t, pos.Set(a, position{X: 1}))
	require.NoError(t, pos.Set(b, position{X: 2}))

	require.NoError(t, pos.Remove(a))
	require.NoError(t, r.DestroyEntity(b))
	assert.Equal(t, []float64{1, 2}, released)
}

func TestDestroyContinuesPastFailingHooks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRegistry(log.FromZap(zap.New(core)))

	boom := errors.New("boom")
	var ran []string
	pos := MustDefine(r, "Position", WithCleanup(func(Entity, *position) error {
		ran = append(ran, "position")
		return boom
	}))
	vel := MustDefine(r, "Velocity", WithCleanup(func(Entity, *velocity) error {
		ran = append(ran, "velocity")
		return nil
	}))

	e := r.CreateEntity()
	require.NoError(t, pos.Set(e, position{}))
	require.NoError(t, vel.Set(e, velocity{}))

	require.NoError(t, r.DestroyEntity(e))
	assert.ElementsMatch(t, []string{"position", "velocity"}, ran)
	assert.False(t, r.Alive(e))
	assert.Equal(t, 0, pos.Len())
	assert.Equal(t, 0, vel.Len())

	entries := logs.FilterMessage("component cleanup failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Position", entries[0].ContextMap()["type"])
}

func TestRemoveSurfacesHookError(t *testing.T) {
	r := newTestRegistry()
	boom := errors.New("boom")
	pos := MustDefine(r, "Position", WithCleanup(func(Entity, *position) error { return boom }))
	e := r.CreateEntity()
	require.NoError(t, pos.Set(e, position{}))

	err := pos.Remove(e)
	assert.ErrorIs(t, err, boom)
	assert.False(t, pos.Has(e), "slot is freed even when the hook fails")
}

func TestComponentLookupByName(t *testing.T) {
	r := newTestRegistry()
	pos := MustDefine[position](r, "Position")
	tag, err := DefineTag(r, "Selected")
	require.NoError(t, err)

	id, ok := r.ComponentByName("Selected")
	require.True(t, ok)
	assert.Equal(t, tag.ID(), id)

	name, ok := r.ComponentName(pos.ID())
	require.True(t, ok)
	assert.Equal(t, "Position", name)

	_, ok = r.ComponentByName("Missing")
	assert.False(t, ok)

	e := r.CreateEntity()
	require.NoError(t, tag.Add(e))
	assert.True(t, r.HasComponent(e, id))
	assert.Equal(t, []ComponentID{tag.ID()}, r.Components(e))
}
