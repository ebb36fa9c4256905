// Package concurrent fans work over a sequence out to goroutines.
package concurrent

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/simcore/pkg/sequence"
)

// Each runs fn for every element in its own goroutine and waits for all of
// them. Unlike errgroup, a failure does not hide the others: every error is
// returned, joined.
func Each[T any](it *sequence.Iterator[T], fn func(T) error) error {
	return Limit(it, -1, fn)
}

// Limit is Each with at most n calls in flight. n < 0 means no limit.
func Limit[T any](it *sequence.Iterator[T], n int, fn func(T) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(n)
	for v := range it.Seq() {
		g.Go(func() error {
			if err := fn(v); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Map applies fn to every element with at most workers calls in flight and
// returns the results in input order.
func Map[T, R any](it *sequence.Iterator[T], workers int, fn func(T) R) []R {
	in := it.Collect()
	out := make([]R, len(in))

	var g errgroup.Group
	g.SetLimit(max(1, workers))
	for i, v := range in {
		g.Go(func() error {
			out[i] = fn(v)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
