package network

import (
	"errors"

	"github.com/zeusync/simcore/internal/core/action"
)

var errMissingObject = errors.New("owner and network id are required")

// SpawnObject creates a networked object on every peer.
type SpawnObject struct {
	OwnerID         UserID    `json:"ownerId"`
	NetworkID       NetworkID `json:"networkId"`
	AuthorityPeerID PeerID    `json:"authorityPeerId"`
	Prefab          string    `json:"prefab,omitempty"`
}

func (p SpawnObject) Validate() error {
	if p.OwnerID == "" || p.NetworkID == 0 {
		return errMissingObject
	}
	if p.AuthorityPeerID == "" {
		return errors.New("authority peer is required")
	}
	return nil
}

// DestroyObject removes a networked object.
type DestroyObject struct {
	OwnerID   UserID    `json:"ownerId"`
	NetworkID NetworkID `json:"networkId"`
}

func (p DestroyObject) Validate() error {
	if p.OwnerID == "" || p.NetworkID == 0 {
		return errMissingObject
	}
	return nil
}

// TransferAuthority names a new authoritative peer for an object. Epoch is
// only consulted under SequencedClaims.
type TransferAuthority struct {
	OwnerID      UserID    `json:"ownerId"`
	NetworkID    NetworkID `json:"networkId"`
	NewAuthority PeerID    `json:"newAuthority"`
	Epoch        uint64    `json:"epoch"`
}

func (p TransferAuthority) Validate() error {
	if p.OwnerID == "" || p.NetworkID == 0 {
		return errMissingObject
	}
	if p.NewAuthority == "" {
		return errors.New("new authority is required")
	}
	return nil
}

// AuthorityGranted is the host's ruling on a claim under SequencedClaims.
type AuthorityGranted TransferAuthority

func (p AuthorityGranted) Validate() error { return TransferAuthority(p).Validate() }

// PeerJoined announces a peer to the session.
type PeerJoined struct {
	PeerID    PeerID `json:"peerId"`
	PeerIndex uint32 `json:"peerIndex"`
	UserID    UserID `json:"userId"`
	UserIndex uint32 `json:"userIndex"`
	UserName  string `json:"userName"`
}

func (p PeerJoined) Validate() error {
	if p.PeerID == "" || p.UserID == "" {
		return errors.New("peer and user ids are required")
	}
	return nil
}

// PeerLeft announces a departure.
type PeerLeft struct {
	PeerID PeerID `json:"peerId"`
}

func (p PeerLeft) Validate() error {
	if p.PeerID == "" {
		return errors.New("peer id is required")
	}
	return nil
}

var (
	SpawnObjectAction       = action.Define[SpawnObject]("network.spawnObject", action.WithTopic(action.WorldTopic), action.WithCache(false))
	DestroyObjectAction     = action.Define[DestroyObject]("network.destroyObject", action.WithTopic(action.WorldTopic))
	TransferAuthorityAction = action.Define[TransferAuthority]("network.transferAuthority", action.WithTopic(action.WorldTopic))
	AuthorityGrantedAction  = action.Define[AuthorityGranted]("network.authorityGranted", action.WithTopic(action.WorldTopic))
	PeerJoinedAction        = action.Define[PeerJoined]("network.peerJoined", action.WithTopic(action.WorldTopic), action.WithCache(false))
	PeerLeftAction          = action.Define[PeerLeft]("network.peerLeft", action.WithTopic(action.WorldTopic))
)

// RegisterActions adds the network actions to a wire catalog.
func RegisterActions(c *action.Catalog) error {
	return errors.Join(
		action.Register(c, SpawnObjectAction),
		action.Register(c, DestroyObjectAction),
		action.Register(c, TransferAuthorityAction),
		action.Register(c, AuthorityGrantedAction),
		action.Register(c, PeerJoinedAction),
		action.Register(c, PeerLeftAction),
	)
}
