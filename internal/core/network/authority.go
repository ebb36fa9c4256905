package network

import (
	"fmt"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
)

// ClaimPolicy settles competing authority claims.
type ClaimPolicy uint8

const (
	// LastAppliedWins applies every transfer in arrival order. Two peers
	// claiming at once may briefly disagree until the later claim lands
	// everywhere.
	LastAppliedWins ClaimPolicy = iota
	// SequencedClaims lets only the host rule. A claim must carry an epoch
	// above the object's current one; the host answers accepted claims with
	// AuthorityGranted and every peer applies grants only.
	SequencedClaims
)

func (p ClaimPolicy) String() string {
	switch p {
	case LastAppliedWins:
		return "last_applied_wins"
	case SequencedClaims:
		return "sequenced"
	default:
		return "unknown"
	}
}

// ParseClaimPolicy maps a config string onto a policy.
func ParseClaimPolicy(s string) (ClaimPolicy, error) {
	switch s {
	case "", "last_applied_wins":
		return LastAppliedWins, nil
	case "sequenced":
		return SequencedClaims, nil
	default:
		return 0, fmt.Errorf("unknown claim policy %q", s)
	}
}

// claimRetryTicks is how long an unanswered claim blocks a new one.
const claimRetryTicks = 60

// RequestAuthority dispatches a transfer naming the local peer as authority
// of e. The local peer only becomes authoritative once the transfer has been
// applied; until then repeated requests are no-ops, unless the claim went
// unanswered for claimRetryTicks.
func (m *Manager) RequestAuthority(e ecs.Entity) error {
	obj, ok := m.objects.GetOptional(e)
	if !ok {
		return fmt.Errorf("request authority for %s: %w", e, ErrNotNetworked)
	}
	self := m.hub.PeerID()
	if obj.AuthorityPeerID == self {
		return nil
	}
	key := objectKey{owner: obj.OwnerID, id: obj.NetworkID}
	if since, waiting := m.pending[key]; waiting && m.hub.Tick() < since+claimRetryTicks {
		return nil
	}

	_, err := m.hub.Dispatch(TransferAuthorityAction.Create(TransferAuthority{
		OwnerID:      obj.OwnerID,
		NetworkID:    obj.NetworkID,
		NewAuthority: self,
		Epoch:        obj.AuthorityEpoch + 1,
	}))
	if err != nil {
		return err
	}
	m.pending[key] = m.hub.Tick()
	return nil
}

// AuthorityPending reports whether a local claim on e is in flight.
func (m *Manager) AuthorityPending(e ecs.Entity) bool {
	obj, ok := m.objects.GetOptional(e)
	if !ok {
		return false
	}
	_, waiting := m.pending[objectKey{owner: obj.OwnerID, id: obj.NetworkID}]
	return waiting
}

// HasAuthority reports whether the local peer may write e's authoritative
// fields.
func (m *Manager) HasAuthority(e ecs.Entity) bool {
	return m.authority.Has(e)
}

// CanWrite returns ErrNotAuthority unless the local peer holds authority.
func (m *Manager) CanWrite(e ecs.Entity) error {
	if !m.objects.Has(e) {
		return fmt.Errorf("write %s: %w", e, ErrNotNetworked)
	}
	if !m.authority.Has(e) {
		return fmt.Errorf("write %s: %w", e, ErrNotAuthority)
	}
	return nil
}

// CheckWriter returns ErrNotAuthority unless peer is e's current authority.
// Inbound state writes from remote peers pass through it.
func (m *Manager) CheckWriter(e ecs.Entity, peer PeerID) error {
	obj, ok := m.objects.GetOptional(e)
	if !ok {
		return fmt.Errorf("write %s: %w", e, ErrNotNetworked)
	}
	if obj.AuthorityPeerID != peer {
		return fmt.Errorf("write %s from %q: %w", e, peer, ErrNotAuthority)
	}
	return nil
}

// Authority returns the current authority of e.
func (m *Manager) Authority(e ecs.Entity) (PeerID, bool) {
	obj, ok := m.objects.GetOptional(e)
	return obj.AuthorityPeerID, ok
}

func (m *Manager) applyTransfer(a action.Action, p TransferAuthority) error {
	e, obj, ok := m.lookup(p.OwnerID, p.NetworkID)
	if !ok {
		m.logger.Warn("transfer for unknown object",
			log.String("owner", string(p.OwnerID)),
			log.Uint32("network_id", uint32(p.NetworkID)),
		)
		return nil
	}

	if m.policy == SequencedClaims {
		if !m.IsHost() {
			return nil
		}
		if p.Epoch <= obj.AuthorityEpoch {
			m.logger.Warn("stale authority claim rejected",
				log.String("claimant", string(p.NewAuthority)),
				log.Uint64("epoch", p.Epoch),
				log.Uint64("current_epoch", obj.AuthorityEpoch),
			)
			return nil
		}
		m.dispatch(AuthorityGrantedAction.Create(AuthorityGranted(p)))
		return nil
	}

	if obj.AuthorityPeerID != a.From && obj.AuthorityPeerID != p.NewAuthority && a.From != p.NewAuthority {
		m.logger.Warn("authority moved by a third party",
			log.String("from", string(a.From)),
			log.String("new_authority", string(p.NewAuthority)),
		)
	}
	return m.setAuthority(e, obj, p.NewAuthority, obj.AuthorityEpoch+1)
}

func (m *Manager) applyGrant(a action.Action, p AuthorityGranted) error {
	if a.From != m.network.HostID {
		return fmt.Errorf("authority grant from non-host %q", a.From)
	}
	e, obj, ok := m.lookup(p.OwnerID, p.NetworkID)
	if !ok {
		return nil
	}
	if p.Epoch <= obj.AuthorityEpoch {
		m.logger.Warn("stale authority grant ignored", log.Uint64("epoch", p.Epoch))
		return nil
	}
	return m.setAuthority(e, obj, p.NewAuthority, p.Epoch)
}

func (m *Manager) setAuthority(e ecs.Entity, obj NetworkObject, peer PeerID, epoch uint64) error {
	key := objectKey{owner: obj.OwnerID, id: obj.NetworkID}
	if _, waiting := m.pending[key]; waiting && peer != m.hub.PeerID() {
		m.logger.Warn("local authority claim lost",
			log.String("winner", string(peer)),
			log.Uint32("network_id", uint32(obj.NetworkID)),
		)
	}
	delete(m.pending, key)

	obj.AuthorityPeerID = peer
	obj.AuthorityEpoch = epoch
	if err := m.objects.Set(e, obj); err != nil {
		return err
	}
	return m.syncAuthorityTag(e, peer)
}

func (m *Manager) lookup(owner UserID, id NetworkID) (ecs.Entity, NetworkObject, bool) {
	return m.resolve(objectKey{owner: owner, id: id})
}
