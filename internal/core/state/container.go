package state

import "slices"

// Container is a named, versioned value. Mutations are applied in place and
// observed by subscribers at the next Store.Publish.
type Container[S any] struct {
	store *Store
	name  string

	value   S
	version uint64
	dirty   bool

	observers []*observer[S]
	// afterWrite runs synchronously after every mutation.
	afterWrite []func(S)
}

type observer[S any] struct {
	fn func(S)
}

func newContainer[S any](store *Store, def Definition[S]) *Container[S] {
	c := &Container[S]{store: store, name: def.Name}
	if def.Initial != nil {
		c.value = def.Initial()
	}
	return c
}

func (c *Container[S]) Name() string { return c.name }

// Value returns the current value. Reference-typed fields are shared with
// the container.
func (c *Container[S]) Value() S { return c.value }

// Update mutates the value in place.
func (c *Container[S]) Update(fn func(*S)) {
	fn(&c.value)
	c.touch()
}

func (c *Container[S]) Set(value S) {
	c.value = value
	c.touch()
}

func (c *Container[S]) Version() uint64 { return c.version }
func (c *Container[S]) IsDirty() bool   { return c.dirty }
func (c *Container[S]) MarkClean()      { c.dirty = false }

// Subscribe registers fn to receive the value whenever a Publish finds the
// container dirty. The returned func removes the subscription.
func (c *Container[S]) Subscribe(fn func(S)) (unsubscribe func()) {
	o := &observer[S]{fn: fn}
	c.observers = append(c.observers, o)
	return func() {
		c.observers = slices.DeleteFunc(c.observers, func(other *observer[S]) bool { return other == o })
	}
}

func (c *Container[S]) touch() {
	c.version++
	c.dirty = true
	for _, fn := range c.afterWrite {
		fn(c.value)
	}
}

func (c *Container[S]) stateName() string { return c.name }

func (c *Container[S]) publish() bool {
	if !c.dirty {
		return false
	}
	c.dirty = false
	for _, o := range slices.Clone(c.observers) {
		o.fn(c.value)
	}
	return true
}
