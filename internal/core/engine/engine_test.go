package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/pipeline"
	"github.com/zeusync/simcore/internal/core/state"
)

type ping struct {
	N int `json:"n"`
}

func (ping) Validate() error { return nil }

var pingAction = action.Define[ping]("test.ping")

type counter struct {
	Ticks int `json:"ticks"`
}

var counterState = state.Definition[counter]{
	Name:    "Counter",
	Initial: func() counter { return counter{} },
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(config.Default(), log.NewNop(), WithClock(pipeline.NewManualClock(time.Unix(0, 0))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func system(name string, run func(*Engine) error) pipeline.Func[*Engine] {
	return pipeline.Func[*Engine]{SystemName: name, Run: run}
}

func TestExecuteRunsFixedTicks(t *testing.T) {
	e := newTestEngine(t)
	var seen []uint64
	require.NoError(t, e.Register(pipeline.PhaseFixed, system("tick", func(c *Engine) error {
		seen = append(seen, c.Hub.Tick())
		return nil
	})))

	report := e.Execute(500 * time.Millisecond)
	assert.Equal(t, 30, report.Ticks)
	assert.Equal(t, uint64(30), e.Tick())
	require.Len(t, seen, 30)
	assert.Equal(t, uint64(1), seen[0])
	assert.Equal(t, uint64(30), seen[29], "the hub advances with the fixed tick")
}

func TestReceptorsApplyAtNextTickBoundary(t *testing.T) {
	e := newTestEngine(t)
	var appliedAt []uint64
	require.NoError(t, e.Hub.AddReceptor("test", func(a action.Action) error {
		if _, ok := pingAction.Match(a); ok {
			appliedAt = append(appliedAt, e.Hub.Tick())
		}
		return nil
	}))

	queue := e.Hub.CreateQueue(pingAction.Matches)
	var drained []int
	require.NoError(t, e.Register(pipeline.PhaseFixed, system("send", func(c *Engine) error {
		if c.Tick() == 1 {
			_, err := c.Dispatch(pingAction.Create(ping{N: 1}))
			return err
		}
		return nil
	})))
	require.NoError(t, e.Register(pipeline.PhaseFixedLate, system("read", func(*Engine) error {
		for _, p := range action.Typed(queue, pingAction) {
			drained = append(drained, p.N)
		}
		return nil
	})))

	e.Execute(3 * pipeline.DefaultTimestep)
	assert.Equal(t, []int{1}, drained, "queues see the dispatch within the tick")
	assert.Equal(t, []uint64{2}, appliedAt)
}

func TestQueriesRefreshEachTick(t *testing.T) {
	e := newTestEngine(t)
	marker := ecs.MustDefine[struct{}](e.Registry, "Marker")
	q := e.Registry.DefineQuery(marker.ID())

	var entity ecs.Entity
	var entered []ecs.Entity
	require.NoError(t, e.Register(pipeline.PhaseFixedEarly, system("observe", func(*Engine) error {
		entered = append(entered, q.Entered().Collect()...)
		return nil
	})))
	require.NoError(t, e.Register(pipeline.PhaseFixed, system("spawn", func(c *Engine) error {
		if c.Tick() == 1 {
			entity = c.Registry.CreateEntity()
			return marker.Add(entity)
		}
		return nil
	})))

	e.Execute(3 * pipeline.DefaultTimestep)
	assert.Equal(t, []ecs.Entity{entity}, entered)
}

func TestStateObserversNotifiedOncePerFrame(t *testing.T) {
	e := newTestEngine(t)
	c := state.Get(e.States, counterState)
	notified := 0
	c.Subscribe(func(counter) { notified++ })

	require.NoError(t, e.Register(pipeline.PhaseFixed, system("count", func(*Engine) error {
		c.Update(func(s *counter) { s.Ticks++ })
		return nil
	})))

	e.Execute(5 * pipeline.DefaultTimestep)
	assert.Equal(t, 5, c.Value().Ticks)
	assert.Equal(t, 1, notified)

	e.Execute(0)
	assert.Equal(t, 1, notified, "no writes, no notification")
}

func TestEnginesAreIndependent(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	_, err := ecs.Define[int](a.Registry, "Health")
	require.NoError(t, err)
	_, err = ecs.Define[int](b.Registry, "Health")
	require.NoError(t, err, "component names are per engine")

	a.Execute(pipeline.DefaultTimestep)
	assert.Equal(t, uint64(1), a.Tick())
	assert.Zero(t, b.Tick())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.Timestep = 0
	_, err := New(cfg, log.NewNop())
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.FrameRate = 1000
	e, err := New(cfg, log.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, e.Run(ctx))
	assert.NotZero(t, e.Tick())
}

func TestCloseRunsCleanup(t *testing.T) {
	e, err := New(config.Default(), log.NewNop())
	require.NoError(t, err)

	cleaned := false
	require.NoError(t, e.Register(pipeline.PhaseFixed, pipeline.Func[*Engine]{
		SystemName: "resource",
		Teardown:   func(context.Context) error { cleaned = true; return nil },
	}))
	require.NoError(t, e.Close(context.Background()))
	assert.True(t, cleaned)
}
