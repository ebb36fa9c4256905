package state

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/simcore/internal/core/observability/log"
)

var jsonNull = []byte("null")

// SyncWithStorage mirrors the listed top-level JSON fields of c to the
// store's medium under "<namespace>.<state>.<key>". Persisted values are
// loaded once, now; an absent or unusable entry leaves the current value of
// that field alone. Afterwards every mutation writes the listed fields back,
// skipping fields whose encoding did not change. A field encoding as JSON
// null is removed from the medium.
func SyncWithStorage[S any](s *Store, c *Container[S], keys ...string) error {
	if _, err := fields(c.value); err != nil {
		return fmt.Errorf("sync %q: %w", c.name, err)
	}

	logger := s.logger.With(log.String("state", c.name))
	written := make(map[string]uint64, len(keys))

	loaded := false
	for _, key := range keys {
		stored, ok := s.storage.GetItem(s.key(c.name, key))
		if !ok {
			continue
		}
		raw := []byte(stored)
		next, err := withField(c.value, key, raw)
		if err != nil {
			logger.Warn("ignoring persisted field", log.String("key", key), log.Error(err))
			continue
		}
		c.value = next
		written[key] = xxhash.Sum64(raw)
		loaded = true
	}
	if loaded {
		c.version++
		c.dirty = true
	}

	c.afterWrite = append(c.afterWrite, func(value S) {
		current, err := fields(value)
		if err != nil {
			logger.Error("encode state for persistence", log.Error(err))
			return
		}
		for _, key := range keys {
			storageKey := s.key(c.name, key)
			raw, present := current[key]
			if !present || bytes.Equal(raw, jsonNull) {
				if _, had := written[key]; had {
					delete(written, key)
					if err = s.storage.RemoveItem(storageKey); err != nil {
						logger.Warn("remove persisted field", log.String("key", key), log.Error(err))
					}
				}
				continue
			}
			sum := xxhash.Sum64(raw)
			if prev, had := written[key]; had && prev == sum {
				continue
			}
			if err = s.storage.SetItem(storageKey, string(raw)); err != nil {
				logger.Warn("persist field", log.String("key", key), log.Error(err))
				continue
			}
			written[key] = sum
		}
	})
	return nil
}

// fields splits value into its top-level JSON members.
func fields[S any](value S) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err = json.Unmarshal(data, &out); err != nil || out == nil {
		return nil, ErrNotObject
	}
	return out, nil
}

// withField returns value with one member replaced by raw. raw is decoded
// into a zero S first, so an entry that fails part-way never reaches the maps
// or pointers value shares with the container.
func withField[S any](value S, key string, raw []byte) (S, error) {
	if !json.Valid(raw) {
		return value, fmt.Errorf("malformed JSON for %q", key)
	}
	patch, err := json.Marshal(map[string]json.RawMessage{key: raw})
	if err != nil {
		return value, err
	}
	var fresh S
	if err = json.Unmarshal(patch, &fresh); err != nil {
		return value, err
	}

	// null detaches the member's map, slice or pointer before decoding, so
	// the stored entry replaces it instead of merging into shared storage.
	reset, err := json.Marshal(map[string]json.RawMessage{key: jsonNull})
	if err != nil {
		return value, err
	}
	next := value
	if err = json.Unmarshal(reset, &next); err != nil {
		return value, err
	}
	if err = json.Unmarshal(patch, &next); err != nil {
		return value, err
	}
	return next, nil
}
