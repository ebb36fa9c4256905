package state

import (
	"fmt"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

// DefaultNamespace prefixes every persisted key.
const DefaultNamespace = "simcore"

// Definition describes one named state shape. Initial builds the value a
// container starts from; OnCreate runs once, right after lazy creation.
type Definition[S any] struct {
	Name     string
	Initial  func() S
	OnCreate func(*Store, *Container[S])
}

type publisher interface {
	stateName() string
	publish() bool
}

// Store holds the process-wide state containers of one simulation instance.
// Containers are created on first access and live as long as the store.
type Store struct {
	logger    log.Log
	namespace string
	storage   Storage

	defs       map[string]any
	containers map[string]publisher
	order      []publisher
}

type Option func(*Store)

// WithStorage sets the medium used by SyncWithStorage. Defaults to an
// in-memory medium.
func WithStorage(s Storage) Option {
	return func(st *Store) { st.storage = s }
}

func WithNamespace(ns string) Option {
	return func(st *Store) { st.namespace = ns }
}

func NewStore(logger log.Log, opts ...Option) *Store {
	s := &Store{
		logger:     logger.With(log.Component("state")),
		namespace:  DefaultNamespace,
		defs:       make(map[string]any),
		containers: make(map[string]publisher),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = NewMemoryStorage()
	}
	return s
}

func (s *Store) Storage() Storage  { return s.storage }
func (s *Store) Namespace() string { return s.namespace }

// Register records def. Registering a name twice is a configuration error.
func Register[S any](s *Store, def Definition[S]) error {
	if _, exists := s.defs[def.Name]; exists {
		return fmt.Errorf("register %q: %w", def.Name, ErrAlreadyRegistered)
	}
	s.defs[def.Name] = def
	return nil
}

// MustRegister is Register for start-up code.
func MustRegister[S any](s *Store, def Definition[S]) {
	if err := Register(s, def); err != nil {
		panic(err)
	}
}

// Get returns the live container for def, registering and creating it on
// first access. Every caller receives the same instance. Asking for a name
// under a different type panics: that is a configuration error.
func Get[S any](s *Store, def Definition[S]) *Container[S] {
	if existing, ok := s.containers[def.Name]; ok {
		c, ok := existing.(*Container[S])
		if !ok {
			panic(fmt.Errorf("get %q: %w", def.Name, ErrTypeMismatch))
		}
		return c
	}

	registered, ok := s.defs[def.Name]
	if !ok {
		s.defs[def.Name] = def
		registered = def
	}
	typed, ok := registered.(Definition[S])
	if !ok {
		panic(fmt.Errorf("get %q: %w", def.Name, ErrTypeMismatch))
	}

	c := newContainer(s, typed)
	s.containers[typed.Name] = c
	s.order = append(s.order, c)
	s.logger.Debug("state created", log.String("state", typed.Name))

	if typed.OnCreate != nil {
		typed.OnCreate(s, c)
	}
	return c
}

// Publish notifies the observers of every container mutated since the
// previous call, in creation order. It returns how many containers
// published.
func (s *Store) Publish() int {
	n := 0
	for _, c := range s.order {
		if c.publish() {
			n++
		}
	}
	return n
}

func (s *Store) key(stateName, field string) string {
	return s.namespace + "." + stateName + "." + field
}

// Names lists the created containers in creation order.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, c.stateName())
	}
	return out
}
