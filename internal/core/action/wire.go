package action

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Wire is the serialized form of an action. Order is hub-local and is not
// carried.
type Wire struct {
	Type    string          `json:"type"`
	Topic   Topic           `json:"topic"`
	From    PeerID          `json:"from"`
	ID      uuid.UUID       `json:"id"`
	Tick    uint64          `json:"tick,omitempty"`
	Cache   CacheMode       `json:"cache,omitempty"`
	Delay   uint32          `json:"delay,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type decoder func(json.RawMessage) (Payload, error)

// Catalog maps action type names to payload decoders. It is filled at
// start-up and read-only afterwards.
type Catalog struct {
	decoders map[string]decoder
}

func NewCatalog() *Catalog {
	return &Catalog{decoders: make(map[string]decoder)}
}

// Register adds d to the catalog.
func Register[P Payload](c *Catalog, d *Definition[P]) error {
	if _, exists := c.decoders[d.typ]; exists {
		return fmt.Errorf("catalog %q: %w", d.typ, ErrDuplicateType)
	}
	c.decoders[d.typ] = func(raw json.RawMessage) (Payload, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil
}

// MustRegister is Register for start-up code.
func MustRegister[P Payload](c *Catalog, d *Definition[P]) {
	if err := Register(c, d); err != nil {
		panic(err)
	}
}

func (c *Catalog) Knows(typ string) bool {
	_, ok := c.decoders[typ]
	return ok
}

// Types lists the registered type names, sorted.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.decoders))
	for typ := range c.decoders {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) ToWire(a Action) (Wire, error) {
	if !c.Knows(a.Type) {
		return Wire{}, fmt.Errorf("encode %q: %w", a.Type, ErrUnknownAction)
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return Wire{}, fmt.Errorf("encode %q payload: %w", a.Type, err)
	}
	return Wire{
		Type:    a.Type,
		Topic:   a.Topic,
		From:    a.From,
		ID:      a.ID,
		Tick:    a.Tick,
		Cache:   a.Cache,
		Delay:   a.Delay,
		Payload: payload,
	}, nil
}

// FromWire decodes and validates w. The result is ready for Hub.Receive.
func (c *Catalog) FromWire(w Wire) (Action, error) {
	decode, ok := c.decoders[w.Type]
	if !ok {
		return Action{}, fmt.Errorf("decode %q: %w", w.Type, ErrUnknownAction)
	}
	p, err := decode(w.Payload)
	if err != nil {
		return Action{}, fmt.Errorf("decode %q payload: %w", w.Type, err)
	}
	a := Action{
		Type:    w.Type,
		Topic:   w.Topic,
		From:    w.From,
		ID:      w.ID,
		Tick:    w.Tick,
		Cache:   w.Cache,
		Delay:   w.Delay,
		Payload: p,
	}
	if err = a.validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// Encode writes a as a JSON document.
func (c *Catalog) Encode(a Action) ([]byte, error) {
	w, err := c.ToWire(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode parses a JSON document produced by Encode.
func (c *Catalog) Decode(data []byte) (Action, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	return c.FromWire(w)
}
