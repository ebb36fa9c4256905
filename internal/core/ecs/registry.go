package ecs

import (
	"fmt"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

// Registry owns the entity pool, every component store and every query of
// one simulation instance. It is not safe for concurrent use; callers follow
// the single-writer-per-tick discipline of the scheduler.
type Registry struct {
	logger log.Log

	pool       *EntityPool
	components []storage
	byName     map[string]ComponentID
	masks      []mask

	groups      map[uint64]*matchGroup
	byComponent map[ComponentID][]*matchGroup
}

func NewRegistry(logger log.Log) *Registry {
	return &Registry{
		logger:      logger.With(log.Component("ecs")),
		pool:        NewEntityPool(),
		byName:      make(map[string]ComponentID),
		groups:      make(map[uint64]*matchGroup),
		byComponent: make(map[ComponentID][]*matchGroup),
	}
}

func (r *Registry) CreateEntity() Entity {
	e := r.pool.Create()
	idx := int(e.Index())
	for len(r.masks) <= idx {
		r.masks = append(r.masks, nil)
	}
	r.masks[idx] = r.masks[idx][:0]
	return e
}

func (r *Registry) Alive(e Entity) bool { return r.pool.Alive(e) }

// Len is the number of live entities.
func (r *Registry) Len() int { return r.pool.Len() }

// DestroyEntity removes every component of e, running cleanup hooks, then
// retires the handle. Hook failures are logged per hook and never stop the
// cascade. Destroying a dead entity returns ErrEntityNotAlive.
func (r *Registry) DestroyEntity(e Entity) error {
	if !r.pool.Alive(e) {
		return fmt.Errorf("destroy %s: %w", e, ErrEntityNotAlive)
	}

	for _, id := range r.masks[e.Index()].ids() {
		if err := r.components[id].detach(e); err != nil {
			r.logger.Warn("component cleanup failed",
				log.Stringer("entity", e),
				log.String("type", r.components[id].componentName()),
				log.Error(err),
			)
		}
		r.detached(e, id)
	}

	return r.pool.Destroy(e)
}

// HasComponent is the untyped counterpart of ComponentType.Has.
func (r *Registry) HasComponent(e Entity, id ComponentID) bool {
	return r.pool.Alive(e) && r.masks[e.Index()].has(id)
}

// ComponentByName resolves a stable component name to its id.
func (r *Registry) ComponentByName(name string) (ComponentID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// ComponentName returns the name an id was defined with.
func (r *Registry) ComponentName(id ComponentID) (string, bool) {
	if int(id) >= len(r.components) {
		return "", false
	}
	return r.components[id].componentName(), true
}

// Components lists the component ids currently attached to e.
func (r *Registry) Components(e Entity) []ComponentID {
	if !r.pool.Alive(e) {
		return nil
	}
	return r.masks[e.Index()].ids()
}

func (r *Registry) attached(e Entity, id ComponentID) {
	m := &r.masks[e.Index()]
	m.set(id)
	r.reevaluate(e, id, *m)
}

func (r *Registry) detached(e Entity, id ComponentID) {
	m := r.masks[e.Index()]
	m.clear(id)
	r.reevaluate(e, id, m)
}

func (r *Registry) reevaluate(e Entity, id ComponentID, m mask) {
	for _, g := range r.byComponent[id] {
		g.update(e, m)
	}
}

// RefreshQueries folds the membership flips recorded since the previous call
// into every query's entered and exited sets. The engine calls it once per
// fixed tick.
func (r *Registry) RefreshQueries() {
	for _, g := range r.groups {
		g.refresh()
	}
}
