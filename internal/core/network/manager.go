package network

import (
	"errors"
	"fmt"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/state"
)

var (
	ErrNotNetworked = errors.New("entity is not a networked object")
	ErrNotAuthority = errors.New("peer is not the authority for this object")
)

const receptorName = "network"

// NetworkObject marks an entity shared across the session. OwnerID never
// changes; AuthorityPeerID names the single peer allowed to write
// authoritative fields.
type NetworkObject struct {
	OwnerID         UserID    `json:"ownerId"`
	NetworkID       NetworkID `json:"networkId"`
	AuthorityPeerID PeerID    `json:"authorityPeerId"`
	// AuthorityEpoch counts accepted transfers.
	AuthorityEpoch uint64 `json:"authorityEpoch"`
	Prefab         string `json:"prefab,omitempty"`
}

func (o NetworkObject) key() objectKey { return objectKey{owner: o.OwnerID, id: o.NetworkID} }

// WorldState holds session data readable outside the tick.
type WorldState struct {
	UserNames map[UserID]string `json:"userNames"`
}

var WorldStateDefinition = state.Definition[WorldState]{
	Name:    "WorldState",
	Initial: func() WorldState { return WorldState{UserNames: make(map[UserID]string)} },
}

type objectKey struct {
	owner UserID
	id    NetworkID
}

type ManagerOption func(*Manager)

// WithClaimPolicy selects how competing authority claims are settled.
func WithClaimPolicy(p ClaimPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p }
}

// WithLocalUser sets the user this peer acts for.
func WithLocalUser(user UserID) ManagerOption {
	return func(m *Manager) { m.localUser = user }
}

// Manager owns peer lifecycle and object authority for one simulation
// instance. Its receptor applies network actions at tick boundaries.
type Manager struct {
	logger   log.Log
	registry *ecs.Registry
	hub      *action.Hub
	network  *Network
	world    *state.Container[WorldState]

	objects   *ecs.ComponentType[NetworkObject]
	authority *ecs.ComponentType[ecs.Tag]
	query     *ecs.Query

	// index caches entity lookups by owner and network id. It may miss
	// objects attached without a spawn action; resolve fills those in.
	index         map[objectKey]ecs.Entity
	pending       map[objectKey]uint64
	policy        ClaimPolicy
	localUser     UserID
	nextNetworkID NetworkID
}

func NewManager(registry *ecs.Registry, hub *action.Hub, states *state.Store, net *Network, logger log.Log, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:        logger.With(log.Component("network")),
		registry:      registry,
		hub:           hub,
		network:       net,
		world:         state.Get(states, WorldStateDefinition),
		index:         make(map[objectKey]ecs.Entity),
		pending:       make(map[objectKey]uint64),
		policy:        LastAppliedWins,
		nextNetworkID: 1,
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	if m.objects, err = ecs.Define(registry, "NetworkObject",
		ecs.WithJSON[NetworkObject](),
		ecs.WithCleanup(m.forget),
	); err != nil {
		return nil, err
	}
	if m.authority, err = ecs.DefineTag(registry, "NetworkObjectAuthority"); err != nil {
		return nil, err
	}
	m.query = registry.DefineQuery(m.objects.ID())

	if err = hub.AddReceptor(receptorName, m.receive); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Network() *Network   { return m.network }
func (m *Manager) Policy() ClaimPolicy { return m.policy }
func (m *Manager) LocalUser() UserID   { return m.localUser }

// SetLocalUser changes the user this peer acts for.
func (m *Manager) SetLocalUser(user UserID) { m.localUser = user }

func (m *Manager) IsHost() bool { return m.network.HostID == m.hub.PeerID() }

// Objects is the component type carrying NetworkObject data.
func (m *Manager) Objects() *ecs.ComponentType[NetworkObject] { return m.objects }

// Close detaches the receptor and the object query.
func (m *Manager) Close() {
	m.hub.RemoveReceptor(receptorName)
	m.registry.RemoveQuery(m.query)
}

// CreatePeer installs or overwrites a peer record. A known peer id keeps its
// record and has its indices and user rebound, which is how reconnects with
// the same id are handled.
func (m *Manager) CreatePeer(net *Network, peerID PeerID, peerIndex uint32, userID UserID, userIndex uint32, userName string) {
	if existing, ok := net.Peers[peerID]; ok {
		m.logger.Warn("peer already exists, overwriting",
			log.String("peer", string(peerID)),
			log.Uint32("old_index", existing.Index),
			log.Uint32("new_index", peerIndex),
		)
		m.unindex(net, existing)
		existing.Index = peerIndex
		existing.UserID = userID
		existing.UserIndex = userIndex
		existing.UserName = userName
	} else {
		net.Peers[peerID] = &Peer{
			ID:        peerID,
			Index:     peerIndex,
			UserID:    userID,
			UserIndex: userIndex,
			UserName:  userName,
		}
	}

	net.PeerIndexToID[peerIndex] = peerID
	net.PeerIDToIndex[peerID] = peerIndex
	net.UserIndexToID[userIndex] = userID
	net.UserIDToIndex[userID] = userIndex

	m.world.Update(func(w *WorldState) {
		if w.UserNames == nil {
			w.UserNames = make(map[UserID]string)
		}
		w.UserNames[userID] = userName
	})
	m.logger.Info("peer created",
		log.String("peer", string(peerID)),
		log.String("user", string(userID)),
		log.Uint32("peer_index", peerIndex),
	)
}

// DestroyPeer removes the peer record and its index entries, then issues
// cleanup for every object the peer held authority over: authority moves to
// another connected peer of the owning user, otherwise the object is
// destroyed. The resulting actions apply at the next tick boundary. Unknown
// peers are ignored.
func (m *Manager) DestroyPeer(net *Network, peerID PeerID) {
	peer, ok := net.Peers[peerID]
	if !ok {
		return
	}
	delete(net.Peers, peerID)
	m.unindex(net, peer)

	if net != m.network {
		return
	}

	for _, e := range m.query.Poll() {
		obj, ok := m.objects.GetOptional(e)
		if !ok || obj.AuthorityPeerID != peerID {
			continue
		}
		m.reassign(net, obj)
	}
	m.logger.Info("peer destroyed", log.String("peer", string(peerID)))
}

func (m *Manager) reassign(net *Network, obj NetworkObject) {
	candidates := net.PeersOfUser(obj.OwnerID)
	if len(candidates) == 0 {
		m.dispatch(local(DestroyObjectAction.Create(DestroyObject{OwnerID: obj.OwnerID, NetworkID: obj.NetworkID})))
		return
	}

	next := TransferAuthority{
		OwnerID:      obj.OwnerID,
		NetworkID:    obj.NetworkID,
		NewAuthority: candidates[0].ID,
		Epoch:        obj.AuthorityEpoch + 1,
	}
	switch {
	case m.policy == LastAppliedWins:
		m.dispatch(local(TransferAuthorityAction.Create(next)))
	case m.IsHost():
		m.dispatch(AuthorityGrantedAction.Create(AuthorityGranted(next)))
	}
}

// unindex drops the index entries of p. The user entries survive while
// another peer of the same user remains.
func (m *Manager) unindex(net *Network, p *Peer) {
	if net.PeerIndexToID[p.Index] == p.ID {
		delete(net.PeerIndexToID, p.Index)
	}
	delete(net.PeerIDToIndex, p.ID)

	for _, other := range net.Peers {
		if other.ID != p.ID && other.UserID == p.UserID {
			return
		}
	}
	if net.UserIndexToID[p.UserIndex] == p.UserID {
		delete(net.UserIndexToID, p.UserIndex)
	}
	delete(net.UserIDToIndex, p.UserID)
}

// SpawnObject dispatches the creation of an object owned by the local user
// with the local peer as authority. The entity exists after the next tick
// boundary; use NetworkObject to find it.
func (m *Manager) SpawnObject(prefab string) (UserID, NetworkID, error) {
	if m.localUser == "" {
		return "", 0, errors.New("spawn: local user is not set")
	}
	id := m.nextNetworkID
	m.nextNetworkID++
	_, err := m.hub.Dispatch(SpawnObjectAction.Create(SpawnObject{
		OwnerID:         m.localUser,
		NetworkID:       id,
		AuthorityPeerID: m.hub.PeerID(),
		Prefab:          prefab,
	}))
	if err != nil {
		return "", 0, err
	}
	return m.localUser, id, nil
}

// DestroyObject dispatches the removal of an object. Only its authority may
// request it.
func (m *Manager) DestroyObject(e ecs.Entity) error {
	if err := m.CanWrite(e); err != nil {
		return err
	}
	obj, _ := m.objects.GetOptional(e)
	_, err := m.hub.Dispatch(DestroyObjectAction.Create(DestroyObject{OwnerID: obj.OwnerID, NetworkID: obj.NetworkID}))
	return err
}

// NetworkObject finds the entity for an owner and network id.
func (m *Manager) NetworkObject(owner UserID, id NetworkID) (ecs.Entity, bool) {
	e, _, ok := m.resolve(objectKey{owner: owner, id: id})
	return e, ok
}

// resolve finds the live entity carrying key. A stale or missing index entry
// falls back to a scan of the NetworkObject store.
func (m *Manager) resolve(key objectKey) (ecs.Entity, NetworkObject, bool) {
	if e, ok := m.index[key]; ok {
		if obj, ok := m.objects.GetOptional(e); ok && obj.key() == key {
			return e, obj, true
		}
		delete(m.index, key)
	}
	for _, e := range m.objects.Entities() {
		if obj, ok := m.objects.GetOptional(e); ok && obj.key() == key {
			m.index[key] = e
			return e, obj, true
		}
	}
	return ecs.Nil, NetworkObject{}, false
}

// forget runs whenever a NetworkObject leaves storage, however it was
// removed, and drops everything kept about it.
func (m *Manager) forget(e ecs.Entity, obj *NetworkObject) error {
	key := obj.key()
	if m.index[key] == e {
		delete(m.index, key)
	}
	delete(m.pending, key)
	m.hub.Uncache(action.WorldTopic, func(cached action.Action) bool {
		s, ok := SpawnObjectAction.Match(cached)
		return ok && s.OwnerID == key.owner && s.NetworkID == key.id
	})
	return nil
}

func (m *Manager) dispatch(a action.Action) {
	if _, err := m.hub.Dispatch(a); err != nil {
		m.logger.Error("dispatch network action", log.String("type", a.Type), log.Error(err))
	}
}

// local keeps a cascade action on the peer that issued it. Every peer runs
// the same cascade for the same departure.
func local(a action.Action) action.Action {
	a.Topic = action.DefaultTopic
	return a
}

func (m *Manager) receive(a action.Action) error {
	switch p := a.Payload.(type) {
	case SpawnObject:
		return m.applySpawn(p)
	case DestroyObject:
		return m.applyDestroy(a, p)
	case TransferAuthority:
		return m.applyTransfer(a, p)
	case AuthorityGranted:
		return m.applyGrant(a, p)
	case PeerJoined:
		if a.From != m.network.HostID {
			return fmt.Errorf("peer join from non-host %q", a.From)
		}
		m.CreatePeer(m.network, p.PeerID, p.PeerIndex, p.UserID, p.UserIndex, p.UserName)
	case PeerLeft:
		if a.From != m.network.HostID {
			return fmt.Errorf("peer leave from non-host %q", a.From)
		}
		m.DestroyPeer(m.network, p.PeerID)
		m.hub.Uncache(action.WorldTopic, func(cached action.Action) bool {
			j, ok := PeerJoinedAction.Match(cached)
			return ok && j.PeerID == p.PeerID
		})
	}
	return nil
}

func (m *Manager) applySpawn(p SpawnObject) error {
	key := objectKey{owner: p.OwnerID, id: p.NetworkID}
	if _, _, exists := m.resolve(key); exists {
		m.logger.Warn("duplicate spawn ignored",
			log.String("owner", string(p.OwnerID)),
			log.Uint32("network_id", uint32(p.NetworkID)),
		)
		return nil
	}

	e := m.registry.CreateEntity()
	if err := m.objects.Set(e, NetworkObject{
		OwnerID:         p.OwnerID,
		NetworkID:       p.NetworkID,
		AuthorityPeerID: p.AuthorityPeerID,
		Prefab:          p.Prefab,
	}); err != nil {
		return err
	}
	m.index[key] = e
	if p.OwnerID == m.localUser && p.NetworkID >= m.nextNetworkID {
		m.nextNetworkID = p.NetworkID + 1
	}
	return m.syncAuthorityTag(e, p.AuthorityPeerID)
}

func (m *Manager) applyDestroy(a action.Action, p DestroyObject) error {
	e, obj, ok := m.resolve(objectKey{owner: p.OwnerID, id: p.NetworkID})
	if !ok {
		return nil
	}
	if obj.AuthorityPeerID != a.From && a.From != m.network.HostID && !m.hub.IsLocal(a) {
		return fmt.Errorf("destroy %s/%d from %q: %w", p.OwnerID, p.NetworkID, a.From, ErrNotAuthority)
	}
	return m.registry.DestroyEntity(e)
}

func (m *Manager) syncAuthorityTag(e ecs.Entity, authority PeerID) error {
	if authority == m.hub.PeerID() {
		return m.authority.Add(e)
	}
	return m.authority.Remove(e)
}
