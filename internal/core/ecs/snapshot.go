package ecs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EncodeEntity serializes the JSON-enabled components of e keyed by
// component name. Components defined without WithJSON are skipped.
func (r *Registry) EncodeEntity(e Entity) (map[string]json.RawMessage, error) {
	if !r.pool.Alive(e) {
		return nil, fmt.Errorf("encode %s: %w", e, ErrEntityNotAlive)
	}
	out := make(map[string]json.RawMessage)
	for _, id := range r.masks[e.Index()].ids() {
		c := r.components[id]
		raw, ok, err := c.encode(e)
		if err != nil {
			return nil, err
		}
		if ok {
			out[c.componentName()] = raw
		}
	}
	return out, nil
}

// DecodeEntity applies a snapshot produced by EncodeEntity. Every entry is
// attempted; unknown names and decode failures are returned together.
func (r *Registry) DecodeEntity(e Entity, data map[string]json.RawMessage) error {
	if !r.pool.Alive(e) {
		return fmt.Errorf("decode %s: %w", e, ErrEntityNotAlive)
	}
	var errs error
	for name, raw := range data {
		id, ok := r.byName[name]
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("decode %q: %w", name, ErrUnknownComponent))
			continue
		}
		if err := r.components[id].decode(e, raw); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
