package ecs

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/pkg/sequence"
)

// matchGroup is the membership shared by every Query over the same
// component filter. Members keep insertion order.
type matchGroup struct {
	signature uint64
	all, none mask

	members []Entity
	pos     map[Entity]int

	// prior holds the membership an entity had at the last refresh, recorded
	// on its first flip since then.
	prior map[Entity]bool
	flips []Entity

	handles []*Query
}

func (g *matchGroup) matches(m mask) bool {
	return m.containsAll(g.all) && !m.intersects(g.none)
}

func (g *matchGroup) update(e Entity, m mask) {
	now := g.matches(m)
	_, was := g.pos[e]
	if now == was {
		return
	}
	if _, seen := g.prior[e]; !seen {
		g.prior[e] = was
		g.flips = append(g.flips, e)
	}

	if now {
		g.pos[e] = len(g.members)
		g.members = append(g.members, e)
		return
	}

	i := g.pos[e]
	g.members = slices.Delete(g.members, i, i+1)
	for j := i; j < len(g.members); j++ {
		g.pos[g.members[j]] = j
	}
	delete(g.pos, e)
}

func (g *matchGroup) refresh() {
	var entered, exited []Entity
	for _, e := range g.flips {
		_, now := g.pos[e]
		switch was := g.prior[e]; {
		case now && !was:
			entered = append(entered, e)
		case !now && was:
			exited = append(exited, e)
		}
	}
	g.flips = g.flips[:0]
	clear(g.prior)

	for _, q := range g.handles {
		if q.fresh {
			q.fresh = false
			q.entered = slices.Clone(g.members)
			q.exited = nil
			continue
		}
		q.entered = entered
		q.exited = exited
	}
}

// Query is a live view over the entities matching a component filter. Poll
// always reflects current registry contents; Entered and Exited reflect the
// net change between the two most recent RefreshQueries calls.
type Query struct {
	group *matchGroup

	entered []Entity
	exited  []Entity
	// fresh handles report every current member as entered on their first
	// refresh.
	fresh bool
}

// DefineQuery returns a query over entities carrying all of ids.
func (r *Registry) DefineQuery(ids ...ComponentID) *Query {
	return r.DefineQueryExcluding(ids)
}

// DefineQueryExcluding returns a query over entities carrying all of with and
// none of without.
func (r *Registry) DefineQueryExcluding(with []ComponentID, without ...ComponentID) *Query {
	var all, none mask
	for _, id := range with {
		all.set(id)
	}
	for _, id := range without {
		none.set(id)
	}

	sig := signature(all, none)
	g, ok := r.groups[sig]
	if !ok {
		g = &matchGroup{
			signature: sig,
			all:       all,
			none:      none,
			pos:       make(map[Entity]int),
			prior:     make(map[Entity]bool),
		}
		for idx, m := range r.masks {
			e := newEntity(uint32(idx), r.pool.generations[idx])
			if r.pool.Alive(e) && g.matches(m) {
				g.pos[e] = len(g.members)
				g.members = append(g.members, e)
			}
		}
		r.groups[sig] = g
		for _, id := range slices.Concat(all.ids(), none.ids()) {
			r.byComponent[id] = append(r.byComponent[id], g)
		}
		r.logger.Debug("query group created",
			log.Uint64("signature", sig),
			log.Int("members", len(g.members)),
		)
	}

	q := &Query{group: g, fresh: true}
	g.handles = append(g.handles, q)
	return q
}

// RemoveQuery detaches q. The shared membership is dropped with its last
// handle.
func (r *Registry) RemoveQuery(q *Query) {
	g := q.group
	if g == nil {
		return
	}
	q.group = nil
	g.handles = slices.DeleteFunc(g.handles, func(h *Query) bool { return h == q })
	if len(g.handles) > 0 {
		return
	}

	delete(r.groups, g.signature)
	for _, id := range slices.Concat(g.all.ids(), g.none.ids()) {
		r.byComponent[id] = slices.DeleteFunc(r.byComponent[id], func(other *matchGroup) bool {
			return other == g
		})
		if len(r.byComponent[id]) == 0 {
			delete(r.byComponent, id)
		}
	}
}

// Poll returns the current members in insertion order.
func (q *Query) Poll() []Entity {
	if q.group == nil {
		return nil
	}
	return slices.Clone(q.group.members)
}

func (q *Query) Len() int {
	if q.group == nil {
		return 0
	}
	return len(q.group.members)
}

func (q *Query) Contains(e Entity) bool {
	if q.group == nil {
		return false
	}
	_, ok := q.group.pos[e]
	return ok
}

// Entered yields entities that started matching during the last tick.
// Consuming an element removes it, so a second pass in the same tick sees
// only what the first pass left.
func (q *Query) Entered() *sequence.Iterator[Entity] {
	return sequence.Drain(func() (Entity, bool) { return pop(&q.entered) })
}

// Exited yields entities that stopped matching during the last tick, with
// the same consuming semantics as Entered.
func (q *Query) Exited() *sequence.Iterator[Entity] {
	return sequence.Drain(func() (Entity, bool) { return pop(&q.exited) })
}

// Signature identifies the component filter; queries with equal filters
// share one.
func (q *Query) Signature() uint64 {
	if q.group == nil {
		return 0
	}
	return q.group.signature
}

func pop(s *[]Entity) (Entity, bool) {
	if len(*s) == 0 {
		return Nil, false
	}
	e := (*s)[0]
	*s = (*s)[1:]
	return e, true
}

func signature(all, none mask) uint64 {
	buf := make([]byte, 0, 8*(len(all)+len(none))+2)
	buf = append(buf, 'A')
	for _, w := range trim(all) {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	buf = append(buf, 'N')
	for _, w := range trim(none) {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return xxhash.Sum64(buf)
}

func trim(m mask) mask {
	for len(m) > 0 && m[len(m)-1] == 0 {
		m = m[:len(m)-1]
	}
	return m
}
