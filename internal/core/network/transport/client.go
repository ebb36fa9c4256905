package transport

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/network"
	"github.com/zeusync/simcore/internal/core/observability/log"
)

// Welcome is what a host tells a peer on admission.
type Welcome struct {
	PeerID    network.PeerID
	HostID    network.PeerID
	PeerIndex uint32
	// Cached holds the host's retained world actions for replay.
	Cached []action.Wire
}

// Join performs the client handshake on link. peer may be empty to let the
// host assign an id; a previous id can be passed to reconnect.
func Join(ctx context.Context, link Link, peer network.PeerID, user network.UserID, userName string) (Welcome, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := link.Send(ctx, Envelope{Kind: KindJoin, PeerID: peer, UserID: user, UserName: userName}); err != nil {
		return Welcome{}, errors.Wrap(err, "join")
	}
	env, err := link.Receive(ctx)
	if err != nil {
		return Welcome{}, errors.Wrap(err, "join")
	}
	switch env.Kind {
	case KindWelcome:
		return Welcome{PeerID: env.PeerID, HostID: env.HostID, PeerIndex: env.PeerIndex, Cached: env.Actions}, nil
	case KindLeave:
		return Welcome{}, errors.Errorf("join refused: %s", env.Reason)
	default:
		return Welcome{}, errors.Wrapf(ErrUnexpected, "kind %q during join", env.Kind)
	}
}

// Client connects a local hub to a host over an admitted link.
type Client struct {
	link    Link
	hub     *action.Hub
	catalog *action.Catalog
	logger  log.Log
	opts    options
}

func NewClient(link Link, hub *action.Hub, catalog *action.Catalog, logger log.Log, opts ...Option) *Client {
	return &Client{
		link:    link,
		hub:     hub,
		catalog: catalog,
		logger:  logger.With(log.Component("transport"), log.String("role", "client")),
		opts:    buildOptions(opts),
	}
}

// Run replays the welcome's cached actions into the hub, then exchanges
// actions with the host until ctx ends or the host goes away. A leave frame
// is sent on orderly shutdown.
func (c *Client) Run(ctx context.Context, w Welcome) error {
	deliver(c.hub, c.catalog, c.logger, w.Cached, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ticker(gctx, c.opts.interval, func() {
			if err := c.flush(gctx); err != nil {
				c.logger.Warn("flush failed", log.Error(err))
			}
		})
	})
	g.Go(func() error {
		for {
			env, err := c.link.Receive(gctx)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, ErrClosed) {
					return nil
				}
				return errors.Wrap(err, "host link lost")
			}
			switch env.Kind {
			case KindActions:
				deliver(c.hub, c.catalog, c.logger, env.Actions, nil)
			case KindLeave:
				return errors.Errorf("host closed the session: %s", env.Reason)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			_ = c.flush(context.Background())
			_ = c.link.Send(context.Background(), Envelope{Kind: KindLeave})
		}
		return c.link.Close()
	})
	return g.Wait()
}

func (c *Client) flush(ctx context.Context) error {
	out := c.opts.outgoing(c.hub)
	if len(out) == 0 {
		return nil
	}
	wires, err := encodeActions(c.catalog, out)
	if len(wires) > 0 {
		if sendErr := c.link.Send(ctx, Envelope{Kind: KindActions, Actions: wires}); sendErr != nil {
			return sendErr
		}
	}
	return err
}
