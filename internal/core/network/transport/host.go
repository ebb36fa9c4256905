package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/network"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/pkg/concurrent"
	"github.com/zeusync/simcore/pkg/sequence"
)

// remote is one admitted peer. gate is held while the welcome is written so
// that broadcasts reach the peer only after it.
type remote struct {
	peer network.PeerID
	user network.UserID
	link Link
	gate sync.Mutex
}

func (r *remote) send(ctx context.Context, env Envelope) error {
	r.gate.Lock()
	defer r.gate.Unlock()
	return r.link.Send(ctx, env)
}

// Host admits peers on a listener and relays world actions between them and
// the local hub. Peer membership is announced as PeerJoined and PeerLeft
// actions authored by the host, so every peer's network manager applies the
// same roster changes at a tick boundary.
type Host struct {
	listener Listener
	hub      *action.Hub
	catalog  *action.Catalog
	logger   log.Log
	opts     options

	user     network.UserID
	userName string

	mu        sync.Mutex
	remotes   map[network.PeerID]*remote
	nextIndex uint32
	users     map[network.UserID]uint32
	// backlog holds actions handed to the hub that it has not applied yet.
	// A welcome carries them after the cache.
	backlog []action.Wire
}

// NewHost registers a receptor on hub, so it must be called from the
// simulation goroutine before ticking starts.
func NewHost(listener Listener, hub *action.Hub, catalog *action.Catalog, logger log.Log, user network.UserID, userName string, opts ...Option) (*Host, error) {
	h := &Host{
		listener:  listener,
		hub:       hub,
		catalog:   catalog,
		logger:    logger.With(log.Component("transport"), log.String("role", "host")),
		opts:      buildOptions(opts),
		user:      user,
		userName:  userName,
		remotes:   make(map[network.PeerID]*remote),
		nextIndex: 1,
		users:     make(map[network.UserID]uint32),
	}
	if err := hub.AddReceptor(receptorName, h.settle); err != nil {
		return nil, err
	}
	return h, nil
}

const receptorName = "transport"

// settle drops an applied action from the backlog.
func (h *Host) settle(a action.Action) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.backlog) > 0 {
		h.backlog = slices.DeleteFunc(h.backlog, func(w action.Wire) bool { return w.ID == a.ID })
	}
	return nil
}

func (h *Host) hold(wires ...action.Wire) {
	h.mu.Lock()
	h.backlog = append(h.backlog, wires...)
	h.mu.Unlock()
}

// ID is the host's own peer id.
func (h *Host) ID() network.PeerID { return h.hub.PeerID() }

func (h *Host) Addr() string { return h.listener.Addr() }

// Peers returns the ids of the connected remote peers.
func (h *Host) Peers() []network.PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]network.PeerID, 0, len(h.remotes))
	for id := range h.remotes {
		out = append(out, id)
	}
	return out
}

// Run announces the host itself, then accepts peers and flushes local
// actions until ctx ends. All links are closed on return.
func (h *Host) Run(ctx context.Context) error {
	index, userIndex := h.allocate(h.user)
	h.announce(ctx, network.PeerJoinedAction.Create(network.PeerJoined{
		PeerID:    h.ID(),
		PeerIndex: index,
		UserID:    h.user,
		UserIndex: userIndex,
		UserName:  h.userName,
	}), "")
	h.logger.Info("host started", log.String("addr", h.listener.Addr()), log.String("peer", string(h.ID())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ticker(gctx, h.opts.interval, func() { h.flush(gctx) })
	})
	g.Go(func() error {
		for {
			link, err := h.listener.Accept(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept")
			}
			g.Go(func() error {
				h.serve(gctx, link)
				return nil
			})
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = h.listener.Close()
		h.mu.Lock()
		for _, r := range h.remotes {
			_ = r.link.Send(context.Background(), Envelope{Kind: KindLeave, Reason: "host shutting down"})
			_ = r.link.Close()
		}
		h.mu.Unlock()
		return nil
	})
	return g.Wait()
}

func (h *Host) serve(ctx context.Context, link Link) {
	defer link.Close()
	logger := h.logger.With(log.String("link", link.ID()), log.String("remote_addr", link.RemoteAddr()))

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	join, err := link.Receive(hctx)
	cancel()
	if err != nil {
		logger.Warn("handshake failed", log.Error(err))
		return
	}
	if join.Kind != KindJoin || join.UserID == "" {
		logger.Warn("handshake failed", log.Error(errors.Wrapf(ErrUnexpected, "kind %q", join.Kind)))
		return
	}

	r, index, userIndex, err := h.admit(join, link)
	if err != nil {
		logger.Warn("join refused", log.Error(err))
		_ = link.Send(ctx, Envelope{Kind: KindLeave, Reason: err.Error()})
		return
	}
	if err = h.welcome(ctx, r, index); err != nil {
		r.gate.Unlock()
		h.remove(r)
		logger.Warn("welcome failed", log.Error(err))
		return
	}
	r.gate.Unlock()

	logger = logger.With(log.String("peer", string(r.peer)))
	logger.Info("peer joined", log.String("user", string(r.user)))
	h.announce(ctx, network.PeerJoinedAction.Create(network.PeerJoined{
		PeerID:    r.peer,
		PeerIndex: index,
		UserID:    r.user,
		UserIndex: userIndex,
		UserName:  join.UserName,
	}), "")

	for {
		env, err := link.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				logger.Info("link lost", log.Error(err))
			}
			break
		}
		if env.Kind == KindLeave {
			break
		}
		if env.Kind != KindActions {
			continue
		}
		relayed := deliver(h.hub, h.catalog, logger, env.Actions, func(a action.Action, w action.Wire) bool {
			if a.From != r.peer {
				return false
			}
			h.hold(w)
			return true
		})
		if len(relayed) > 0 {
			h.broadcast(ctx, Envelope{Kind: KindActions, Actions: relayed}, r.peer)
		}
	}

	h.remove(r)
	logger.Info("peer left")
	h.announce(ctx, network.PeerLeftAction.Create(network.PeerLeft{PeerID: r.peer}), r.peer)
}

// admit registers the joining peer and returns it with its gate held.
func (h *Host) admit(join Envelope, link Link) (*remote, uint32, uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer := join.PeerID
	if peer == "" {
		peer = network.PeerID(uuid.NewString())
	}
	if _, taken := h.remotes[peer]; taken || peer == h.ID() {
		return nil, 0, 0, errors.Errorf("peer id %q is in use", peer)
	}

	r := &remote{peer: peer, user: join.UserID, link: link}
	r.gate.Lock()
	h.remotes[peer] = r

	index := h.nextIndex
	h.nextIndex++
	return r, index, h.userIndexLocked(join.UserID), nil
}

func (h *Host) allocate(user network.UserID) (uint32, uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	index := h.nextIndex
	h.nextIndex++
	return index, h.userIndexLocked(user)
}

func (h *Host) userIndexLocked(user network.UserID) uint32 {
	if idx, ok := h.users[user]; ok {
		return idx
	}
	idx := uint32(len(h.users) + 1)
	h.users[user] = idx
	return idx
}

// welcome sends the cache followed by the backlog. The backlog is read first,
// so an action applied in between appears twice and the peer's hub drops the
// repeat by id.
func (h *Host) welcome(ctx context.Context, r *remote, index uint32) error {
	h.mu.Lock()
	backlog := slices.Clone(h.backlog)
	h.mu.Unlock()

	cached, err := encodeActions(h.catalog, h.hub.Cached(action.WorldTopic))
	if err != nil {
		h.logger.Warn("cached actions skipped", log.Error(err))
	}
	cached = append(cached, backlog...)
	return r.link.Send(ctx, Envelope{
		Kind:      KindWelcome,
		PeerID:    r.peer,
		HostID:    h.ID(),
		PeerIndex: index,
		UserID:    r.user,
		Actions:   cached,
	})
}

func (h *Host) remove(r *remote) {
	h.mu.Lock()
	if h.remotes[r.peer] == r {
		delete(h.remotes, r.peer)
	}
	h.mu.Unlock()
}

// announce injects a host-authored action into the local hub and sends it to
// every peer but except.
func (h *Host) announce(ctx context.Context, a action.Action, except network.PeerID) {
	a.From = h.ID()
	a.ID = uuid.New()
	w, err := h.catalog.ToWire(a)
	if err != nil {
		h.logger.Error("announce", log.String("type", a.Type), log.Error(err))
		return
	}
	h.hold(w)
	if err = h.hub.Receive(a); err != nil {
		h.settle(a)
		h.logger.Error("announce", log.String("type", a.Type), log.Error(err))
		return
	}
	h.broadcast(ctx, Envelope{Kind: KindActions, Actions: []action.Wire{w}}, except)
}

func (h *Host) flush(ctx context.Context) {
	out := h.opts.outgoing(h.hub)
	if len(out) == 0 {
		return
	}
	wires, err := encodeActions(h.catalog, out)
	if err != nil {
		h.logger.Warn("outgoing actions skipped", log.Error(err))
	}
	if len(wires) > 0 {
		h.broadcast(ctx, Envelope{Kind: KindActions, Actions: wires}, "")
	}
}

// broadcast sends env to all remotes except one, in parallel. A peer that
// cannot be written to is disconnected.
func (h *Host) broadcast(ctx context.Context, env Envelope, except network.PeerID) {
	h.mu.Lock()
	targets := make([]*remote, 0, len(h.remotes))
	for id, r := range h.remotes {
		if id != except {
			targets = append(targets, r)
		}
	}
	h.mu.Unlock()

	err := concurrent.Each(sequence.From(targets), func(r *remote) error {
		if err := r.send(ctx, env); err != nil {
			_ = r.link.Close()
			return errors.Wrapf(err, "peer %s", r.peer)
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("send failed, dropped unreachable peers", log.Error(err))
	}
}
