package network

import (
	"cmp"
	"slices"

	"github.com/zeusync/simcore/internal/core/action"
)

type (
	PeerID    = action.PeerID
	UserID    string
	NetworkID uint32
)

// Peer is one connected participant.
type Peer struct {
	ID        PeerID
	Index     uint32
	UserID    UserID
	UserIndex uint32
	UserName  string
}

// Network is the peer table of one session. The index maps give compact wire
// encodings for peer and user ids.
type Network struct {
	HostID PeerID

	Peers         map[PeerID]*Peer
	PeerIndexToID map[uint32]PeerID
	PeerIDToIndex map[PeerID]uint32
	UserIndexToID map[uint32]UserID
	UserIDToIndex map[UserID]uint32
}

func NewNetwork(host PeerID) *Network {
	return &Network{
		HostID:        host,
		Peers:         make(map[PeerID]*Peer),
		PeerIndexToID: make(map[uint32]PeerID),
		PeerIDToIndex: make(map[PeerID]uint32),
		UserIndexToID: make(map[uint32]UserID),
		UserIDToIndex: make(map[UserID]uint32),
	}
}

func (n *Network) Peer(id PeerID) (*Peer, bool) {
	p, ok := n.Peers[id]
	return p, ok
}

func (n *Network) PeerByIndex(index uint32) (PeerID, bool) {
	id, ok := n.PeerIndexToID[index]
	return id, ok
}

func (n *Network) UserByIndex(index uint32) (UserID, bool) {
	id, ok := n.UserIndexToID[index]
	return id, ok
}

// PeersOfUser lists the connected peers of user ordered by peer index.
func (n *Network) PeersOfUser(user UserID) []*Peer {
	var out []*Peer
	for _, p := range n.Peers {
		if p.UserID == user {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *Peer) int { return cmp.Compare(a.Index, b.Index) })
	return out
}

// NextPeerIndex returns the lowest peer index not in use.
func (n *Network) NextPeerIndex() uint32 {
	for i := uint32(1); ; i++ {
		if _, taken := n.PeerIndexToID[i]; !taken {
			return i
		}
	}
}

// UserIndexFor returns the index already assigned to user, or the lowest
// free one.
func (n *Network) UserIndexFor(user UserID) uint32 {
	if i, ok := n.UserIDToIndex[user]; ok {
		return i
	}
	for i := uint32(1); ; i++ {
		if _, taken := n.UserIndexToID[i]; !taken {
			return i
		}
	}
}
