package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/network"
)

var (
	ErrClosed        = errors.New("link is closed")
	ErrUnexpected    = errors.New("unexpected envelope")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// MaxFrameSize bounds a single encoded envelope.
const MaxFrameSize = 4 << 20

type Kind string

const (
	KindJoin    Kind = "join"
	KindWelcome Kind = "welcome"
	KindLeave   Kind = "leave"
	KindActions Kind = "actions"
)

// Envelope is one frame exchanged between a peer and the host.
//
// A client opens with join (UserID, UserName). The host answers with welcome
// (PeerID, HostID, PeerIndex and the cached world actions), then both sides
// exchange actions frames. leave is sent before an orderly close.
type Envelope struct {
	Kind      Kind           `json:"kind"`
	PeerID    network.PeerID `json:"peerId,omitempty"`
	HostID    network.PeerID `json:"hostId,omitempty"`
	PeerIndex uint32         `json:"peerIndex,omitempty"`
	UserID    network.UserID `json:"userId,omitempty"`
	UserName  string         `json:"userName,omitempty"`
	Actions   []action.Wire  `json:"actions,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal envelope")
	}
	if len(data) > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "envelope of %d bytes", len(data))
	}
	return data, nil
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to unmarshal envelope")
	}
	switch e.Kind {
	case KindJoin, KindWelcome, KindLeave, KindActions:
		return e, nil
	default:
		return Envelope{}, errors.Wrapf(ErrUnexpected, "kind %q", e.Kind)
	}
}

// Link is a framed, ordered connection to one remote peer. Send may be called
// concurrently with Receive; concurrent Sends are serialized by the link.
type Link interface {
	ID() string
	RemoteAddr() string
	Send(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

// Listener accepts links on the host side.
type Listener interface {
	Accept(ctx context.Context) (Link, error)
	Addr() string
	Close() error
}

// encodeActions converts actions to their wire form, skipping any the catalog
// does not know.
func encodeActions(catalog *action.Catalog, actions []action.Action) ([]action.Wire, error) {
	out := make([]action.Wire, 0, len(actions))
	var errs []error
	for _, a := range actions {
		w, err := catalog.ToWire(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, w)
	}
	return out, stderrors.Join(errs...)
}
