package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

const (
	DefaultTimestep = time.Second / 60
	DefaultBudget   = 8 * time.Millisecond
)

type Config struct {
	// Timestep is the simulated time advanced per fixed tick.
	Timestep time.Duration
	// Budget caps the wall time one Execute call may spend ticking.
	Budget time.Duration
}

func DefaultConfig() Config {
	return Config{Timestep: DefaultTimestep, Budget: DefaultBudget}
}

// Report summarises one Execute call.
type Report struct {
	Ticks int
	// Resynced is set when the simulated clock was snapped to the wall clock.
	Resynced bool
	// BudgetExceeded is set when ticking stopped on the time budget.
	BudgetExceeded bool
	// CapReached is set when the catch-up cap dropped the remaining deficit.
	CapReached bool
	Errors     int
}

type entry[C any] struct {
	system  System[C]
	enabled bool
}

// Scheduler runs registered systems on a fixed timestep decoupled from the
// caller's frame rate. It is driven from a single goroutine.
type Scheduler[C any] struct {
	cfg    Config
	clock  Clock
	logger log.Log

	phases [phaseCount][]*entry[C]
	byName map[string]Phase
	onTick []func(C, uint64)

	elapsed   time.Duration
	fixedTick uint64
}

func New[C any](cfg Config, clock Clock, logger log.Log) (*Scheduler[C], error) {
	if cfg.Timestep <= 0 {
		return nil, fmt.Errorf("timestep must be positive, got %s", cfg.Timestep)
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler[C]{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With(log.Component("pipeline")),
		byName: make(map[string]Phase),
	}, nil
}

// OnTick installs a hook that runs at the start of every fixed tick, before
// the early phase.
func (s *Scheduler[C]) OnTick(fn func(c C, tick uint64)) {
	s.onTick = append(s.onTick, fn)
}

// Register appends sys to phase. Registration order is execution order.
func (s *Scheduler[C]) Register(phase Phase, sys System[C]) error {
	if phase >= phaseCount {
		return fmt.Errorf("register %q: %w", sys.Name(), ErrInvalidPhase)
	}
	if _, exists := s.byName[sys.Name()]; exists {
		return fmt.Errorf("register %q: %w", sys.Name(), ErrSystemExists)
	}
	s.phases[phase] = append(s.phases[phase], &entry[C]{system: sys, enabled: true})
	s.byName[sys.Name()] = phase
	s.logger.Debug("system registered", log.String("system", sys.Name()), log.Stringer("phase", phase))
	return nil
}

// Unregister removes the named system and runs its Cleanup.
func (s *Scheduler[C]) Unregister(ctx context.Context, name string) error {
	phase, i, err := s.find(name)
	if err != nil {
		return err
	}
	e := s.phases[phase][i]
	s.phases[phase] = slices.Delete(s.phases[phase], i, i+1)
	delete(s.byName, name)
	if err = e.system.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup %q: %w", name, err)
	}
	return nil
}

// Replace swaps the named system for next at the same position, running the
// old system's Cleanup first. The replacement inherits the enabled flag.
func (s *Scheduler[C]) Replace(ctx context.Context, name string, next System[C]) error {
	phase, i, err := s.find(name)
	if err != nil {
		return err
	}
	if next.Name() != name {
		if _, taken := s.byName[next.Name()]; taken {
			return fmt.Errorf("replace %q with %q: %w", name, next.Name(), ErrSystemExists)
		}
	}

	e := s.phases[phase][i]
	cleanupErr := e.system.Cleanup(ctx)
	delete(s.byName, name)
	e.system = next
	s.byName[next.Name()] = phase
	s.logger.Info("system replaced", log.String("old", name), log.String("new", next.Name()))
	if cleanupErr != nil {
		return fmt.Errorf("cleanup %q: %w", name, cleanupErr)
	}
	return nil
}

// SetEnabled toggles whether the named system executes.
func (s *Scheduler[C]) SetEnabled(name string, enabled bool) error {
	phase, i, err := s.find(name)
	if err != nil {
		return err
	}
	s.phases[phase][i].enabled = enabled
	return nil
}

// Systems lists registered system names of phase in execution order.
func (s *Scheduler[C]) Systems(phase Phase) []string {
	if phase >= phaseCount {
		return nil
	}
	out := make([]string, 0, len(s.phases[phase]))
	for _, e := range s.phases[phase] {
		out = append(out, e.system.Name())
	}
	return out
}

// Close runs every Cleanup in reverse registration order and forgets all
// systems.
func (s *Scheduler[C]) Close(ctx context.Context) error {
	var errs error
	for phase := int(phaseCount) - 1; phase >= 0; phase-- {
		entries := s.phases[phase]
		for i := len(entries) - 1; i >= 0; i-- {
			if err := entries[i].system.Cleanup(ctx); err != nil {
				errs = errors.Join(errs, fmt.Errorf("cleanup %q: %w", entries[i].system.Name(), err))
			}
		}
		s.phases[phase] = nil
	}
	clear(s.byName)
	return errs
}

func (s *Scheduler[C]) Timestep() time.Duration { return s.cfg.Timestep }
func (s *Scheduler[C]) FixedTick() uint64       { return s.fixedTick }

// Elapsed is the total frame delta handed to Execute.
func (s *Scheduler[C]) Elapsed() time.Duration { return s.elapsed }

// FixedElapsed is the simulated time, FixedTick timesteps.
func (s *Scheduler[C]) FixedElapsed() time.Duration {
	return time.Duration(s.fixedTick) * s.cfg.Timestep
}

// Execute is called once per rendered frame with the frame's delta. It runs
// as many fixed ticks as the accumulated wall time allows, bounded by the
// time budget and a catch-up cap of max(1, delta/timestep) ticks of
// remaining deficit. Hitting the cap drops the deficit by snapping the
// simulated clock to the wall clock.
func (s *Scheduler[C]) Execute(c C, delta time.Duration) Report {
	var report Report
	if delta < 0 {
		delta = 0
	}
	start := s.clock.Now()
	s.elapsed += delta

	step := s.cfg.Timestep
	accumulator := s.elapsed - s.FixedElapsed()
	maxDelay := max(1, float64(delta)/float64(step))

	if accumulator < 0 {
		s.resync()
		report.Resynced = true
	}

	for accumulator >= step {
		s.fixedTick++
		report.Errors += s.tick(c)
		report.Ticks++

		accumulator -= step
		frameDelay := float64(accumulator) / float64(step)

		if frameDelay >= maxDelay {
			s.resync()
			report.Resynced = true
			report.CapReached = true
			s.logger.Warn("fixed pipeline fell behind, dropping deficit",
				log.Duration("deficit", accumulator),
				log.Uint64("tick", s.fixedTick),
			)
			break
		}
		if accumulator >= step && s.clock.Now().Sub(start) > s.cfg.Budget {
			report.BudgetExceeded = true
			break
		}
	}
	return report
}

func (s *Scheduler[C]) resync() {
	s.fixedTick = uint64(s.elapsed / s.cfg.Timestep)
}

func (s *Scheduler[C]) tick(c C) int {
	for _, fn := range s.onTick {
		fn(c, s.fixedTick)
	}
	failures := 0
	for phase := range s.phases {
		for _, e := range s.phases[phase] {
			if !e.enabled {
				continue
			}
			if err := s.run(e.system, c); err != nil {
				failures++
				s.logger.Error("system failed",
					log.String("system", e.system.Name()),
					log.Uint64("tick", s.fixedTick),
					log.Error(err),
				)
			}
		}
	}
	return failures
}

func (s *Scheduler[C]) run(sys System[C], c C) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return sys.Execute(c)
}

func (s *Scheduler[C]) find(name string) (Phase, int, error) {
	phase, ok := s.byName[name]
	if !ok {
		return 0, 0, fmt.Errorf("%q: %w", name, ErrSystemNotFound)
	}
	i := slices.IndexFunc(s.phases[phase], func(e *entry[C]) bool { return e.system.Name() == name })
	if i < 0 {
		return 0, 0, fmt.Errorf("%q: %w", name, ErrSystemNotFound)
	}
	return phase, i, nil
}
