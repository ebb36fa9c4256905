package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/simcore/internal/config"
	"github.com/zeusync/simcore/internal/core/engine"
	"github.com/zeusync/simcore/internal/core/network"
	"github.com/zeusync/simcore/internal/core/network/transport"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/pipeline"
	"github.com/zeusync/simcore/internal/injector"
)

const statusEvery = 5 * time.Second

func main() {
	os.Exit(start(os.Args[1:]))
}

// start returns the process exit code once every deferred shutdown step,
// profile flushing included, has run.
func start(args []string) int {
	flags := flag.NewFlagSet("simcore", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	profileMode := flags.String("profile", "", "profiling mode: off, cpu or mem (overrides the config)")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			return 1
		}
	}
	if *profileMode != "" {
		cfg.Profile.Mode = *profileMode
	}

	logger := injector.InitializeLogger(cfg)
	defer func() { _ = logger.Sync() }()

	switch cfg.Profile.Mode {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(cfg.Profile.Dir), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(cfg.Profile.Dir), profile.NoShutdownHook).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("simcore stopped with error", log.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	var (
		link    transport.Link
		welcome transport.Welcome
		opts    []engine.Option
	)
	if cfg.Network.Role == config.RoleClient {
		var err error
		if link, err = dial(ctx, cfg.Network); err != nil {
			return err
		}
		welcome, err = transport.Join(ctx, link, network.PeerID(cfg.Network.PeerID), network.UserID(cfg.Network.UserID), cfg.Network.UserName)
		if err != nil {
			_ = link.Close()
			return err
		}
		opts = append(opts, engine.WithIdentity(welcome.PeerID, welcome.HostID))
		logger.Info("joined session",
			log.String("peer", string(welcome.PeerID)),
			log.String("host", string(welcome.HostID)),
			log.Uint32("peer_index", welcome.PeerIndex),
		)
	}

	eng, err := injector.InitializeEngine(cfg, opts)
	if err != nil {
		if link != nil {
			_ = link.Close()
		}
		return err
	}
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			logger.Warn("engine cleanup failed", log.Error(err))
		}
	}()
	if err = eng.Register(pipeline.PhaseFixedLate, statusSystem(cfg.Simulation.Timestep)); err != nil {
		return err
	}

	// Sessions attach receptors, so they are built before the engine ticks.
	sessionOpts := []transport.Option{transport.WithFlushInterval(cfg.Network.FlushInterval)}
	var session func(context.Context) error
	switch cfg.Network.Role {
	case config.RoleHost:
		listener, err := listen(cfg.Network)
		if err != nil {
			return err
		}
		host, err := transport.NewHost(listener, eng.Hub, eng.Catalog, logger, network.UserID(cfg.Network.UserID), cfg.Network.UserName, sessionOpts...)
		if err != nil {
			_ = listener.Close()
			return err
		}
		session = host.Run
	case config.RoleClient:
		client := transport.NewClient(link, eng.Hub, eng.Catalog, logger, sessionOpts...)
		session = func(ctx context.Context) error { return client.Run(ctx, welcome) }
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	if session != nil {
		g.Go(func() error { return session(gctx) })
	}
	return g.Wait()
}

func listen(cfg config.Network) (transport.Listener, error) {
	if cfg.Transport == config.TransportQUIC {
		return transport.ListenQUIC(cfg.Address, nil)
	}
	return transport.ListenWebSocket(cfg.Address, cfg.Path)
}

func dial(ctx context.Context, cfg config.Network) (transport.Link, error) {
	if cfg.Transport == config.TransportQUIC {
		return transport.DialQUIC(ctx, cfg.Address, nil)
	}
	return transport.DialWebSocket(ctx, "ws://"+cfg.Address+cfg.Path)
}

// statusSystem logs the session size at a fixed simulated interval.
func statusSystem(step time.Duration) pipeline.Func[*engine.Engine] {
	every := max(1, uint64(statusEvery/step))
	return pipeline.Func[*engine.Engine]{
		SystemName: "status",
		Run: func(e *engine.Engine) error {
			if e.Tick()%every != 0 {
				return nil
			}
			e.Logger().Info("status",
				log.Uint64("tick", e.Tick()),
				log.Int("peers", len(e.Network.Network().Peers)),
				log.Int("entities", e.Registry.Len()),
				log.Int("action_backlog", e.Hub.Backlog()),
			)
			return nil
		},
	}
}
