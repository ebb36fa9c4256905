package ecs

import (
	"encoding/json"
	"fmt"
)

// ComponentID indexes a component type inside one Registry.
type ComponentID uint32

// ComponentOption configures a component type at definition time.
type ComponentOption[T any] func(*ComponentType[T])

// WithCleanup installs a hook that runs before an instance leaves storage,
// either through Remove or through entity destruction.
func WithCleanup[T any](fn func(Entity, *T) error) ComponentOption[T] {
	return func(c *ComponentType[T]) { c.cleanup = fn }
}

// WithJSON makes the type participate in EncodeEntity and DecodeEntity.
func WithJSON[T any]() ComponentOption[T] {
	return func(c *ComponentType[T]) { c.serializable = true }
}

// ComponentType is the typed handle for one registered component. Instances
// live in a dense slice; Entities never point at their data.
type ComponentType[T any] struct {
	registry     *Registry
	id           ComponentID
	name         string
	cleanup      func(Entity, *T) error
	serializable bool

	dense    []T
	entities []Entity
	index    map[Entity]int
}

// Define registers a component type under a process-unique name. A second
// definition with the same name is a configuration error.
func Define[T any](r *Registry, name string, opts ...ComponentOption[T]) (*ComponentType[T], error) {
	if _, exists := r.byName[name]; exists {
		return nil, fmt.Errorf("define %q: %w", name, ErrComponentExists)
	}
	c := &ComponentType[T]{
		registry: r,
		id:       ComponentID(len(r.components)),
		name:     name,
		dense:    make([]T, 0, 16),
		entities: make([]Entity, 0, 16),
		index:    make(map[Entity]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	r.components = append(r.components, c)
	r.byName[name] = c.id
	return c, nil
}

// MustDefine is Define for start-up code, panicking on duplicate names.
func MustDefine[T any](r *Registry, name string, opts ...ComponentOption[T]) *ComponentType[T] {
	c, err := Define(r, name, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Tag is the payload of data-less components.
type Tag struct{}

// DefineTag registers a data-less component.
func DefineTag(r *Registry, name string) (*ComponentType[Tag], error) {
	return Define[Tag](r, name)
}

func (c *ComponentType[T]) ID() ComponentID { return c.id }
func (c *ComponentType[T]) Name() string    { return c.name }
func (c *ComponentType[T]) Len() int        { return len(c.entities) }

// Set stores value on e, overwriting any existing instance.
func (c *ComponentType[T]) Set(e Entity, value T) error {
	if !c.registry.Alive(e) {
		return fmt.Errorf("set %s on %s: %w", c.name, e, ErrEntityNotAlive)
	}
	if i, ok := c.index[e]; ok {
		c.dense[i] = value
		return nil
	}
	c.index[e] = len(c.dense)
	c.dense = append(c.dense, value)
	c.entities = append(c.entities, e)
	c.registry.attached(e, c.id)
	return nil
}

// Add attaches the zero value of T unless e already carries one.
func (c *ComponentType[T]) Add(e Entity) error {
	if c.Has(e) {
		return nil
	}
	var zero T
	return c.Set(e, zero)
}

// Remove runs the cleanup hook and frees the slot. Removing an absent
// component is a no-op. The entity stays alive.
func (c *ComponentType[T]) Remove(e Entity) error {
	if !c.registry.Alive(e) {
		return fmt.Errorf("remove %s from %s: %w", c.name, e, ErrEntityNotAlive)
	}
	if _, ok := c.index[e]; !ok {
		return nil
	}
	err := c.detach(e)
	c.registry.detached(e, c.id)
	return err
}

func (c *ComponentType[T]) Has(e Entity) bool {
	_, ok := c.index[e]
	return ok && c.registry.Alive(e)
}

// Get returns a pointer into storage. It stays valid until the next Set, Add
// or Remove on this component type.
func (c *ComponentType[T]) Get(e Entity) (*T, error) {
	if !c.registry.Alive(e) {
		return nil, fmt.Errorf("get %s on %s: %w", c.name, e, ErrEntityNotAlive)
	}
	i, ok := c.index[e]
	if !ok {
		return nil, fmt.Errorf("get %s on %s: %w", c.name, e, ErrComponentAbsent)
	}
	return &c.dense[i], nil
}

// GetOptional reports absence through ok instead of an error.
func (c *ComponentType[T]) GetOptional(e Entity) (value T, ok bool) {
	i, found := c.index[e]
	if !found || !c.registry.Alive(e) {
		return value, false
	}
	return c.dense[i], true
}

// Entities returns a copy of the entities carrying this component, in
// storage order.
func (c *ComponentType[T]) Entities() []Entity {
	out := make([]Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

// detach runs cleanup then swap-removes the slot.
func (c *ComponentType[T]) detach(e Entity) error {
	i := c.index[e]
	var err error
	if c.cleanup != nil {
		if hookErr := c.cleanup(e, &c.dense[i]); hookErr != nil {
			err = fmt.Errorf("cleanup %s on %s: %w", c.name, e, hookErr)
		}
	}

	last := len(c.dense) - 1
	if i != last {
		c.dense[i] = c.dense[last]
		c.entities[i] = c.entities[last]
		c.index[c.entities[i]] = i
	}
	var zero T
	c.dense[last] = zero
	c.dense = c.dense[:last]
	c.entities = c.entities[:last]
	delete(c.index, e)
	return err
}

func (c *ComponentType[T]) componentName() string    { return c.name }
func (c *ComponentType[T]) componentID() ComponentID { return c.id }

func (c *ComponentType[T]) encode(e Entity) (json.RawMessage, bool, error) {
	i, ok := c.index[e]
	if !ok || !c.serializable {
		return nil, false, nil
	}
	raw, err := json.Marshal(c.dense[i])
	if err != nil {
		return nil, false, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return raw, true, nil
}

func (c *ComponentType[T]) decode(e Entity, raw json.RawMessage) error {
	if !c.serializable {
		return fmt.Errorf("decode %s: %w", c.name, ErrComponentNotEncoded)
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decode %s: %w", c.name, err)
	}
	return c.Set(e, value)
}

// storage is the untyped view the Registry keeps of every component type.
type storage interface {
	componentName() string
	componentID() ComponentID
	detach(e Entity) error
	encode(e Entity) (json.RawMessage, bool, error)
	decode(e Entity, raw json.RawMessage) error
}

var _ storage = (*ComponentType[Tag])(nil)
