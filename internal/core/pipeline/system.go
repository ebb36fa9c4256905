package pipeline

import (
	"context"
	"errors"
)

var (
	ErrSystemExists   = errors.New("system already registered")
	ErrSystemNotFound = errors.New("system not found")
	ErrInvalidPhase   = errors.New("invalid phase")
)

// Phase orders systems inside one fixed tick.
type Phase uint8

const (
	PhaseFixedEarly Phase = iota
	PhaseFixed
	PhaseFixedLate

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseFixedEarly:
		return "fixed_early"
	case PhaseFixed:
		return "fixed"
	case PhaseFixedLate:
		return "fixed_late"
	default:
		return "unknown"
	}
}

// System is a unit of simulation logic run once per fixed tick. Execute must
// not block; asynchronous work reports back through actions or state.
// Cleanup runs when the system is unregistered, replaced or the scheduler
// closes.
type System[C any] interface {
	Name() string
	Execute(ctx C) error
	Cleanup(ctx context.Context) error
}

// Func adapts plain functions to System.
type Func[C any] struct {
	SystemName string
	Run        func(C) error
	Teardown   func(context.Context) error
}

func (f Func[C]) Name() string { return f.SystemName }

func (f Func[C]) Execute(ctx C) error {
	if f.Run == nil {
		return nil
	}
	return f.Run(ctx)
}

func (f Func[C]) Cleanup(ctx context.Context) error {
	if f.Teardown == nil {
		return nil
	}
	return f.Teardown(ctx)
}
