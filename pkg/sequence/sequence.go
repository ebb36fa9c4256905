// Package sequence wraps iter.Seq with a small set of chainable helpers.
package sequence

import "iter"

// Iterator is a lazy, chainable sequence of T. Whether it can be ranged over
// more than once depends on its source: From is repeatable, Drain is not.
type Iterator[T any] struct {
	seq iter.Seq[T]
}

// From iterates over a slice.
func From[T any](data []T) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for _, v := range data {
				if !yield(v) {
					return
				}
			}
		},
	}
}

// FromSeq adopts an existing iter.Seq.
func FromSeq[T any](seq iter.Seq[T]) *Iterator[T] {
	return &Iterator[T]{seq: seq}
}

// Drain builds a consuming iterator: every element yielded has already been
// removed from the source by next, so stopping early leaves the rest in place.
func Drain[T any](next func() (T, bool)) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for {
				v, ok := next()
				if !ok || !yield(v) {
					return
				}
			}
		},
	}
}

// Empty yields nothing.
func Empty[T any]() *Iterator[T] {
	return &Iterator[T]{seq: func(func(T) bool) {}}
}

// Seq exposes the underlying sequence for range-over-func loops.
func (i *Iterator[T]) Seq() iter.Seq[T] {
	return i.seq
}

// Collect exhausts the iterator into a slice. It never returns nil.
func (i *Iterator[T]) Collect() []T {
	out := make([]T, 0)
	for v := range i.seq {
		out = append(out, v)
	}
	return out
}

// Filter keeps the elements pred accepts.
func (i *Iterator[T]) Filter(pred func(T) bool) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for v := range i.seq {
				if pred(v) && !yield(v) {
					return
				}
			}
		},
	}
}

// Each calls action for every element, exhausting the iterator.
func (i *Iterator[T]) Each(action func(T)) {
	for v := range i.seq {
		action(v)
	}
}

// First returns the first element, if any.
func (i *Iterator[T]) First() (T, bool) {
	for v := range i.seq {
		return v, true
	}
	var zero T
	return zero, false
}

// Count exhausts the iterator and returns how many elements it produced.
func (i *Iterator[T]) Count() int {
	n := 0
	for range i.seq {
		n++
	}
	return n
}

// Map converts every element with fn.
func Map[T, R any](i *Iterator[T], fn func(T) R) *Iterator[R] {
	return &Iterator[R]{
		seq: func(yield func(R) bool) {
			for v := range i.seq {
				if !yield(fn(v)) {
					return
				}
			}
		},
	}
}

// ToSet collects the elements into a set.
func ToSet[T comparable](i *Iterator[T]) map[T]struct{} {
	out := make(map[T]struct{})
	for v := range i.seq {
		out[v] = struct{}{}
	}
	return out
}
