// Package engine assembles one simulation instance. The Engine is the context
// every system receives; nothing in the core reaches for a process-wide
// instance, so several engines can run side by side.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/network"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/pipeline"
	"github.com/zeusync/simcore/internal/core/state"
)

// DefaultPeerID names the local peer when neither the config nor a host
// supplied one.
const DefaultPeerID network.PeerID = "local"

// System is a pipeline system that runs against an Engine.
type System = pipeline.System[*Engine]

type Engine struct {
	Registry  *ecs.Registry
	Hub       *action.Hub
	Catalog   *action.Catalog
	States    *state.Store
	Network   *network.Manager
	Scheduler *pipeline.Scheduler[*Engine]

	logger log.Log
	clock  pipeline.Clock
	frame  time.Duration
}

type options struct {
	clock   pipeline.Clock
	storage state.Storage
	peer    network.PeerID
	host    network.PeerID
	topics  []action.Topic
}

type Option func(*options)

// WithClock replaces the wall clock, e.g. with a pipeline.ManualClock.
func WithClock(c pipeline.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStorage replaces the persistence medium chosen from the config.
func WithStorage(s state.Storage) Option {
	return func(o *options) { o.storage = s }
}

// WithIdentity sets the local and host peer ids, as learned from a host's
// welcome. Without it both come from network.peer_id, or DefaultPeerID.
func WithIdentity(peer, host network.PeerID) Option {
	return func(o *options) {
		o.peer = peer
		o.host = host
	}
}

// WithNetworkedTopics adds topics buffered for the transport besides the
// world topic.
func WithNetworkedTopics(topics ...action.Topic) Option {
	return func(o *options) { o.topics = append(o.topics, topics...) }
}

func New(cfg config.Config, logger log.Log, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	o := options{
		clock:  pipeline.SystemClock(),
		peer:   network.PeerID(cfg.Network.PeerID),
		topics: []action.Topic{action.WorldTopic},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.peer == "" {
		o.peer = DefaultPeerID
	}
	if o.host == "" {
		o.host = o.peer
	}
	if o.storage == nil {
		if cfg.State.File != "" {
			fs, err := state.NewFileStorage(cfg.State.File)
			if err != nil {
				return nil, fmt.Errorf("engine storage: %w", err)
			}
			o.storage = fs
		} else {
			o.storage = state.NewMemoryStorage()
		}
	}
	policy, err := network.ParseClaimPolicy(cfg.Network.ClaimPolicy)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Registry: ecs.NewRegistry(logger),
		Hub:      action.NewHub(o.peer, logger, action.WithNetworkedTopics(o.topics...)),
		Catalog:  action.NewCatalog(),
		States:   state.NewStore(logger, state.WithStorage(o.storage), state.WithNamespace(cfg.State.Namespace)),
		logger:   logger.With(log.Component("engine")),
		clock:    o.clock,
		frame:    cfg.FrameInterval(),
	}
	if err = network.RegisterActions(e.Catalog); err != nil {
		return nil, err
	}
	e.Network, err = network.NewManager(e.Registry, e.Hub, e.States, network.NewNetwork(o.host), logger,
		network.WithClaimPolicy(policy),
		network.WithLocalUser(network.UserID(cfg.Network.UserID)),
	)
	if err != nil {
		return nil, err
	}

	e.Scheduler, err = pipeline.New[*Engine](pipeline.Config{
		Timestep: cfg.Simulation.Timestep,
		Budget:   cfg.Simulation.Budget,
	}, o.clock, logger)
	if err != nil {
		return nil, err
	}
	e.Scheduler.OnTick(func(c *Engine, tick uint64) {
		c.Registry.RefreshQueries()
		c.Hub.Advance(tick)
	})
	return e, nil
}

// Register adds a system to a phase of the fixed pipeline.
func (e *Engine) Register(phase pipeline.Phase, sys System) error {
	return e.Scheduler.Register(phase, sys)
}

// Tick is the current fixed tick.
func (e *Engine) Tick() uint64 { return e.Scheduler.FixedTick() }

// Dispatch sends an action through the hub.
func (e *Engine) Dispatch(a action.Action) (action.Action, error) {
	return e.Hub.Dispatch(a)
}

func (e *Engine) Logger() log.Log { return e.logger }

// Execute is one rendered frame: the fixed pipeline catches up on delta, then
// state observers are notified once.
func (e *Engine) Execute(delta time.Duration) pipeline.Report {
	report := e.Scheduler.Execute(e, delta)
	e.States.Publish()
	return report
}

// Run calls Execute at the configured frame rate with the measured frame
// delta until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.frame)
	defer t.Stop()

	last := e.clock.Now()
	e.logger.Info("simulation running",
		log.Duration("timestep", e.Scheduler.Timestep()),
		log.Duration("frame", e.frame),
		log.String("peer", string(e.Hub.PeerID())),
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("simulation stopped", log.Uint64("tick", e.Tick()))
			return nil
		case <-t.C:
			now := e.clock.Now()
			report := e.Execute(now.Sub(last))
			last = now
			if report.Errors > 0 || report.CapReached {
				e.logger.Debug("frame report",
					log.Int("ticks", report.Ticks),
					log.Int("errors", report.Errors),
					log.Bool("cap_reached", report.CapReached),
				)
			}
		}
	}
}

// Close runs system cleanups in reverse registration order and detaches the
// network manager.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Scheduler.Close(ctx)
	e.Network.Close()
	return err
}
