package concurrent

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/pkg/sequence"
)

func TestEachCollectsEveryError(t *testing.T) {
	var calls atomic.Int32
	err := Each(sequence.From([]int{1, 2, 3, 4}), func(n int) error {
		calls.Add(1)
		if n%2 == 0 {
			return fmt.Errorf("even %d", n)
		}
		return nil
	})

	assert.EqualValues(t, 4, calls.Load())
	require.Error(t, err)
	assert.ErrorContains(t, err, "even 2")
	assert.ErrorContains(t, err, "even 4")
}

func TestEachEmpty(t *testing.T) {
	assert.NoError(t, Each(sequence.Empty[int](), func(int) error { return errors.New("never") }))
}

func TestLimitBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	err := Limit(sequence.From(make([]int, 32)), 3, func(int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inFlight.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMapKeepsOrder(t *testing.T) {
	out := Map(sequence.From([]int{1, 2, 3, 4, 5}), 2, func(n int) int { return n * n })
	assert.Equal(t, []int{1, 4, 9, 16, 25}, out)
}
