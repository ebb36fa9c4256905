package action

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

const defaultRecentIDs = 4096

// Receptor applies an action at the tick boundary. Errors are logged and do
// not stop the remaining receptors.
type Receptor func(Action) error

type namedReceptor struct {
	name string
	fn   Receptor
}

// Hub sequences actions into a single ordered log and serves them to queues
// and receptors.
//
// Dispatch, CreateQueue, Advance and the queue methods belong to the
// simulation goroutine. Receive, TakeOutgoing, Cached and SetPeerID may be
// called from transport goroutines.
type Hub struct {
	logger log.Log

	// log[i] has Order base+i.
	log       []Action
	base      uint64
	nextOrder uint64
	// watermark is the first Order sequenced after the latest Advance.
	watermark uint64
	// applied is the first Order receptors have not seen.
	applied uint64
	tick    uint64

	queues    []*Queue
	receptors []namedReceptor
	delayed   []delayedAction

	mu        sync.Mutex
	cache     map[Topic][]Action
	local     PeerID
	inbox     []Action
	outgoing  map[Topic][]Action
	networked map[Topic]struct{}
	recent    map[uuid.UUID]struct{}
	recentIDs []uuid.UUID
}

type delayedAction struct {
	due    uint64
	action Action
}

type HubOption func(*Hub)

// WithNetworkedTopics marks topics whose local dispatches are buffered for
// TakeOutgoing.
func WithNetworkedTopics(topics ...Topic) HubOption {
	return func(h *Hub) {
		for _, t := range topics {
			h.networked[t] = struct{}{}
		}
	}
}

func NewHub(local PeerID, logger log.Log, opts ...HubOption) *Hub {
	h := &Hub{
		logger:    logger.With(log.Component("action")),
		local:     local,
		cache:     make(map[Topic][]Action),
		outgoing:  make(map[Topic][]Action),
		networked: make(map[Topic]struct{}),
		recent:    make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) PeerID() PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.local
}

// SetPeerID changes the author stamped on later local dispatches, e.g. once
// a host has assigned this peer its identity.
func (h *Hub) SetPeerID(id PeerID) {
	h.mu.Lock()
	h.local = id
	h.mu.Unlock()
}

// IsLocal reports whether a was authored by this peer.
func (h *Hub) IsLocal(a Action) bool {
	return a.From == h.PeerID()
}

// Tick is the tick passed to the latest Advance.
func (h *Hub) Tick() uint64 { return h.tick }

// Dispatch validates a, stamps author, id and order, and appends it to the
// log. A rejected action enters no queue.
func (h *Hub) Dispatch(a Action) (Action, error) {
	if a.Topic == "" {
		a.Topic = DefaultTopic
	}
	if err := a.validate(); err != nil {
		return Action{}, fmt.Errorf("dispatch: %w", err)
	}

	h.mu.Lock()
	if a.From == "" {
		a.From = h.local
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	h.rememberLocked(a.ID)
	if _, ok := h.networked[a.Topic]; ok {
		h.outgoing[a.Topic] = append(h.outgoing[a.Topic], a)
	}
	h.mu.Unlock()

	if a.Delay > 0 {
		h.delayed = append(h.delayed, delayedAction{due: h.tick + uint64(a.Delay), action: a})
		return a, nil
	}
	return h.sequence(a), nil
}

// MustDispatch panics on validation failure. Used for actions built from
// constants.
func (h *Hub) MustDispatch(a Action) Action {
	out, err := h.Dispatch(a)
	if err != nil {
		panic(err)
	}
	return out
}

// Receive queues a remote action for sequencing at the next Advance. It is
// safe for concurrent use. Actions whose id was already seen are dropped.
func (h *Hub) Receive(a Action) error {
	if a.Topic == "" {
		a.Topic = DefaultTopic
	}
	if err := a.validate(); err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	if a.From == "" {
		return fmt.Errorf("receive %s: %w", a.Type, ErrMissingAuthor)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if a.ID != uuid.Nil {
		if _, dup := h.recent[a.ID]; dup {
			return nil
		}
		h.rememberLocked(a.ID)
	}
	h.inbox = append(h.inbox, a)
	return nil
}

// TakeOutgoing returns and clears the actions dispatched locally on a
// networked topic since the previous call.
func (h *Hub) TakeOutgoing(topic Topic) []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.outgoing[topic]
	delete(h.outgoing, topic)
	return out
}

// Cached returns the retained actions of topic in order.
func (h *Hub) Cached(topic Topic) []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.cache[topic])
}

// Uncache drops the retained actions of topic that match and reports how
// many were dropped.
func (h *Hub) Uncache(topic Topic, match func(Action) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	before := len(h.cache[topic])
	h.cache[topic] = slices.DeleteFunc(h.cache[topic], match)
	return before - len(h.cache[topic])
}

// AddReceptor registers fn under name. Receptors run in registration order.
func (h *Hub) AddReceptor(name string, fn Receptor) error {
	for _, r := range h.receptors {
		if r.name == name {
			return fmt.Errorf("add receptor %q: %w", name, ErrReceptorExists)
		}
	}
	h.receptors = append(h.receptors, namedReceptor{name: name, fn: fn})
	return nil
}

func (h *Hub) RemoveReceptor(name string) {
	h.receptors = slices.DeleteFunc(h.receptors, func(r namedReceptor) bool { return r.name == name })
}

// Advance is the tick boundary. It sequences received and due delayed
// actions, runs every receptor over each action not yet applied, in order,
// then compacts the log. Actions dispatched by receptors are applied at the
// next Advance.
func (h *Hub) Advance(tick uint64) {
	h.tick = tick

	h.mu.Lock()
	inbox := h.inbox
	h.inbox = nil
	h.mu.Unlock()

	if len(h.delayed) > 0 {
		kept := h.delayed[:0]
		for _, d := range h.delayed {
			if d.due <= tick {
				h.sequence(d.action)
			} else {
				kept = append(kept, d)
			}
		}
		h.delayed = kept
	}
	for _, a := range inbox {
		h.sequence(a)
	}

	end := h.nextOrder
	receptors := slices.Clone(h.receptors)
	for order := h.applied; order < end; order++ {
		a := h.log[order-h.base]
		for _, r := range receptors {
			h.apply(r, a)
		}
	}
	h.applied = end
	h.watermark = h.nextOrder
	h.compact()
}

func (h *Hub) apply(r namedReceptor, a Action) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("receptor panicked",
				log.String("receptor", r.name),
				log.Stringer("action", a),
				log.Any("panic", p),
			)
		}
	}()
	if err := r.fn(a); err != nil {
		h.logger.Warn("receptor failed",
			log.String("receptor", r.name),
			log.Stringer("action", a),
			log.Error(err),
		)
	}
}

func (h *Hub) sequence(a Action) Action {
	a.Order = h.nextOrder
	a.Tick = h.tick
	h.nextOrder++
	h.log = append(h.log, a)

	h.mu.Lock()
	defer h.mu.Unlock()
	switch a.Cache {
	case CacheAppend:
		h.cache[a.Topic] = append(h.cache[a.Topic], a)
	case CacheReplace:
		cached := slices.DeleteFunc(h.cache[a.Topic], func(prev Action) bool { return prev.Type == a.Type })
		h.cache[a.Topic] = append(cached, a)
	}
	return a
}

// compact drops log entries every queue has passed.
func (h *Hub) compact() {
	low := min(h.watermark, h.applied)
	for _, q := range h.queues {
		low = min(low, q.cursor)
	}
	if low <= h.base {
		return
	}
	drop := int(low - h.base)
	h.log = slices.Delete(h.log, 0, drop)
	h.base = low
}

func (h *Hub) rememberLocked(id uuid.UUID) {
	if _, ok := h.recent[id]; ok {
		return
	}
	h.recent[id] = struct{}{}
	h.recentIDs = append(h.recentIDs, id)
	if len(h.recentIDs) > defaultRecentIDs {
		delete(h.recent, h.recentIDs[0])
		h.recentIDs = h.recentIDs[1:]
	}
}

// Backlog is the number of actions currently retained in the log.
func (h *Hub) Backlog() int { return len(h.log) }
