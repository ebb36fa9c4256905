package action

import (
	"slices"

	"github.com/zeusync/simcore/pkg/sequence"
)

// Queue is an independent cursor over the hub log. Each invocation returns
// the matching actions sequenced since the previous one, in order.
type Queue struct {
	hub    *Hub
	match  func(Action) bool
	cursor uint64
}

// CreateQueue returns a queue that sees every matching action sequenced
// since the latest tick boundary, and everything after.
func (h *Hub) CreateQueue(match func(Action) bool) *Queue {
	q := &Queue{hub: h, match: match, cursor: h.watermark}
	h.queues = append(h.queues, q)
	return q
}

// RemoveQueue detaches q; it returns nothing afterwards.
func (h *Hub) RemoveQueue(q *Queue) {
	h.queues = slices.DeleteFunc(h.queues, func(other *Queue) bool { return other == q })
	q.hub = nil
}

// Drain returns every pending matching action and advances the cursor to the
// end of the log.
func (q *Queue) Drain() []Action {
	var out []Action
	q.Iter().Each(func(a Action) { out = append(out, a) })
	return out
}

// Iter yields pending matching actions lazily. Each yielded action is
// consumed; stopping early leaves the rest pending.
func (q *Queue) Iter() *sequence.Iterator[Action] {
	return sequence.Drain(func() (Action, bool) {
		h := q.hub
		if h == nil {
			return Action{}, false
		}
		for q.cursor < h.nextOrder {
			a := h.log[q.cursor-h.base]
			q.cursor++
			if q.match == nil || q.match(a) {
				return a, true
			}
		}
		return Action{}, false
	})
}

// Pending counts matching actions without consuming them.
func (q *Queue) Pending() int {
	h := q.hub
	if h == nil {
		return 0
	}
	n := 0
	for order := q.cursor; order < h.nextOrder; order++ {
		if a := h.log[order-h.base]; q.match == nil || q.match(a) {
			n++
		}
	}
	return n
}

// Typed drains q and returns the payloads matching def.
func Typed[P Payload](q *Queue, def *Definition[P]) []P {
	var out []P
	for _, a := range q.Drain() {
		if p, ok := def.Match(a); ok {
			out = append(out, p)
		}
	}
	return out
}
