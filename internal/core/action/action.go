// Package action implements typed, serializable actions, their topic queues
// and the receptors that apply them at tick boundaries.
package action

import (
	"fmt"

	"github.com/google/uuid"
)

// PeerID identifies the peer that authored an action.
type PeerID string

// Topic names an independent ordering domain.
type Topic string

const (
	DefaultTopic Topic = "default"
	EditorTopic  Topic = "editor"
	// WorldTopic carries actions shared with every peer in the session.
	WorldTopic Topic = "world"
)

// CacheMode controls whether the hub keeps an action for replay after it
// has been sequenced.
type CacheMode uint8

const (
	CacheNone CacheMode = iota
	// CacheAppend keeps every instance.
	CacheAppend
	// CacheReplace keeps only the latest instance per type.
	CacheReplace
)

// Payload is the typed body of an action. Validate runs at dispatch and on
// receipt; a failing payload never enters a queue.
type Payload interface {
	Validate() error
}

// Action is an immutable message. Hub methods return copies; callers must
// not mutate a payload after dispatching it.
type Action struct {
	Type  string
	Topic Topic
	From  PeerID
	ID    uuid.UUID
	// Order is the hub-local sequence number; it is not sent on the wire.
	Order uint64
	// Tick is the fixed tick during which the action was sequenced.
	Tick    uint64
	Cache   CacheMode
	Delay   uint32
	Payload Payload
}

func (a Action) String() string {
	return fmt.Sprintf("%s/%s#%d from %q", a.Topic, a.Type, a.Order, a.From)
}

func (a Action) validate() error {
	if a.Type == "" {
		return ErrMissingType
	}
	if a.Payload == nil {
		return fmt.Errorf("%s: %w", a.Type, ErrMissingPayload)
	}
	if err := a.Payload.Validate(); err != nil {
		return fmt.Errorf("%s: %w: %w", a.Type, ErrInvalidPayload, err)
	}
	return nil
}

// Matcher is satisfied by every Definition.
type Matcher interface {
	Matches(Action) bool
}

// MatchAny returns a predicate accepting actions any matcher accepts.
func MatchAny(matchers ...Matcher) func(Action) bool {
	return func(a Action) bool {
		for _, m := range matchers {
			if m.Matches(a) {
				return true
			}
		}
		return false
	}
}

// Definition binds an action type name to its payload type and defaults.
type Definition[P Payload] struct {
	typ   string
	topic Topic
	cache CacheMode
	delay uint32
}

type DefinitionOption func(*defaults)

type defaults struct {
	topic Topic
	cache CacheMode
	delay uint32
}

func WithTopic(topic Topic) DefinitionOption {
	return func(d *defaults) { d.topic = topic }
}

// WithCache keeps dispatched instances for replay. With removePrevious only
// the latest instance per type is kept.
func WithCache(removePrevious bool) DefinitionOption {
	return func(d *defaults) {
		d.cache = CacheAppend
		if removePrevious {
			d.cache = CacheReplace
		}
	}
}

// WithDelay defers local sequencing by the given number of ticks.
func WithDelay(ticks uint32) DefinitionOption {
	return func(d *defaults) { d.delay = ticks }
}

func Define[P Payload](typ string, opts ...DefinitionOption) *Definition[P] {
	d := defaults{topic: DefaultTopic}
	for _, opt := range opts {
		opt(&d)
	}
	return &Definition[P]{typ: typ, topic: d.topic, cache: d.cache, delay: d.delay}
}

func (d *Definition[P]) Type() string     { return d.typ }
func (d *Definition[P]) Topic() Topic     { return d.topic }
func (d *Definition[P]) Cache() CacheMode { return d.cache }

// Create builds an unsent action carrying p and the definition's defaults.
func (d *Definition[P]) Create(p P) Action {
	return Action{
		Type:    d.typ,
		Topic:   d.topic,
		Cache:   d.cache,
		Delay:   d.delay,
		Payload: p,
	}
}

func (d *Definition[P]) Matches(a Action) bool {
	if a.Type != d.typ {
		return false
	}
	_, ok := a.Payload.(P)
	return ok
}

// Match returns the typed payload when a is an instance of d.
func (d *Definition[P]) Match(a Action) (P, bool) {
	if a.Type != d.typ {
		var zero P
		return zero, false
	}
	p, ok := a.Payload.(P)
	return p, ok
}
