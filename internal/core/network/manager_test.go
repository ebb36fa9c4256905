package network

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/simcore/internal/core/action"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/state"
)

type harness struct {
	registry *ecs.Registry
	hub      *action.Hub
	states   *state.Store
	manager  *Manager
	tick     uint64
}

func newHarness(t *testing.T, local, host PeerID, opts ...ManagerOption) *harness {
	t.Helper()
	logger := log.NewNop()
	h := &harness{
		registry: ecs.NewRegistry(logger),
		hub:      action.NewHub(local, logger, action.WithNetworkedTopics(action.WorldTopic)),
		states:   state.NewStore(logger),
	}
	m, err := NewManager(h.registry, h.hub, h.states, NewNetwork(host), logger, opts...)
	require.NoError(t, err)
	h.manager = m
	return h
}

// step runs one tick boundary the way the engine does.
func (h *harness) step() {
	h.tick++
	h.registry.RefreshQueries()
	h.hub.Advance(h.tick)
}

func (h *harness) spawn(t *testing.T, owner UserID, id NetworkID, authority PeerID) ecs.Entity {
	t.Helper()
	a := SpawnObjectAction.Create(SpawnObject{OwnerID: owner, NetworkID: id, AuthorityPeerID: authority})
	a.From = authority
	_, err := h.hub.Dispatch(a)
	require.NoError(t, err)
	h.step()
	e, ok := h.manager.NetworkObject(owner, id)
	require.True(t, ok)
	return e
}

func TestCreatePeerInstallsIndexMaps(t *testing.T) {
	h := newHarness(t, "server", "server")
	net := h.manager.Network()

	h.manager.CreatePeer(net, "A", 1, "userA", 1, "Alice")
	h.manager.CreatePeer(net, "B", 2, "userB", 2, "Bob")

	assert.Len(t, net.Peers, 2)
	id, ok := net.PeerByIndex(1)
	require.True(t, ok)
	assert.Equal(t, PeerID("A"), id)
	assert.Equal(t, uint32(2), net.PeerIDToIndex["B"])
	user, ok := net.UserByIndex(2)
	require.True(t, ok)
	assert.Equal(t, UserID("userB"), user)

	world := state.Get(h.states, WorldStateDefinition).Value()
	assert.Equal(t, "Alice", world.UserNames["userA"])
	assert.Equal(t, "Bob", world.UserNames["userB"])
}

func TestCreatePeerIsUpsert(t *testing.T) {
	h := newHarness(t, "server", "server")
	net := h.manager.Network()

	h.manager.CreatePeer(net, "A", 1, "userA", 1, "Alice")
	first := net.Peers["A"]
	h.manager.CreatePeer(net, "A", 5, "userA", 3, "Alice Again")

	assert.Same(t, first, net.Peers["A"], "record is overwritten in place")
	assert.Equal(t, uint32(5), net.Peers["A"].Index)
	_, stale := net.PeerIndexToID[1]
	assert.False(t, stale)
	assert.Equal(t, PeerID("A"), net.PeerIndexToID[5])
	assert.Equal(t, uint32(3), net.UserIDToIndex["userA"])
	_, staleUser := net.UserIndexToID[1]
	assert.False(t, staleUser)
	assert.Equal(t, "Alice Again", state.Get(h.states, WorldStateDefinition).Value().UserNames["userA"])
}

func TestDestroyPeerCascadesWithinOneTick(t *testing.T) {
	h := newHarness(t, "server", "server")
	net := h.manager.Network()
	h.manager.CreatePeer(net, "A", 1, "userA", 1, "Alice")
	h.manager.CreatePeer(net, "B", 2, "userB", 2, "Bob")

	ownedByA := h.spawn(t, "userA", 1, "A")
	ownedByB := h.spawn(t, "userB", 1, "B")

	h.manager.DestroyPeer(net, "A")

	_, ok := net.Peers["A"]
	assert.False(t, ok)
	_, ok = net.PeerIndexToID[1]
	assert.False(t, ok)
	_, ok = net.PeerIDToIndex["A"]
	assert.False(t, ok)
	_, ok = net.UserIndexToID[1]
	assert.False(t, ok)
	_, ok = net.UserIDToIndex["userA"]
	assert.False(t, ok)

	assert.Equal(t, PeerID("B"), net.PeerIndexToID[2])
	assert.Equal(t, uint32(2), net.PeerIDToIndex["B"])
	assert.Equal(t, UserID("userB"), net.UserIndexToID[2])
	assert.Equal(t, uint32(2), net.UserIDToIndex["userB"])

	assert.True(t, h.registry.Alive(ownedByA), "removal happens at the next tick boundary")
	h.step()
	assert.False(t, h.registry.Alive(ownedByA))
	assert.True(t, h.registry.Alive(ownedByB))
	_, ok = h.manager.NetworkObject("userA", 1)
	assert.False(t, ok)

	for _, a := range h.hub.TakeOutgoing(action.WorldTopic) {
		assert.False(t, DestroyObjectAction.Matches(a), "cascade stays local")
	}
}

func TestDestroyPeerTwiceIsNoop(t *testing.T) {
	h := newHarness(t, "server", "server")
	net := h.manager.Network()
	h.manager.CreatePeer(net, "A", 1, "userA", 1, "Alice")
	h.spawn(t, "userA", 1, "A")

	h.manager.DestroyPeer(net, "A")
	h.step()
	backlog := h.hub.Backlog()

	assert.NotPanics(t, func() { h.manager.DestroyPeer(net, "A") })
	assert.Equal(t, backlog, h.hub.Backlog(), "no further cascade")
	h.manager.DestroyPeer(net, "never-joined")
}

func TestDestroyPeerHandsAuthorityToSameUser(t *testing.T) {
	h := newHarness(t, "server", "server")
	net := h.manager.Network()
	h.manager.CreatePeer(net, "A-phone", 1, "userA", 1, "Alice")
	h.manager.CreatePeer(net, "A-laptop", 2, "userA", 1, "Alice")

	e := h.spawn(t, "userA", 1, "A-phone")
	h.manager.DestroyPeer(net, "A-phone")

	_, ok := net.UserIDToIndex["userA"]
	assert.True(t, ok, "user entries survive while another peer of the user remains")

	h.step()
	require.True(t, h.registry.Alive(e))
	authority, _ := h.manager.Authority(e)
	assert.Equal(t, PeerID("A-laptop"), authority)
}

func TestPeerActionsFromHostOnly(t *testing.T) {
	h := newHarness(t, "client", "host")

	joined := PeerJoinedAction.Create(PeerJoined{PeerID: "B", PeerIndex: 2, UserID: "userB", UserIndex: 2, UserName: "Bob"})
	joined.From = "mallory"
	require.NoError(t, h.hub.Receive(joined))
	h.step()
	assert.Empty(t, h.manager.Network().Peers)

	joined.From = "host"
	require.NoError(t, h.hub.Receive(joined))
	h.step()
	assert.Contains(t, h.manager.Network().Peers, PeerID("B"))

	left := PeerLeftAction.Create(PeerLeft{PeerID: "B"})
	left.From = "host"
	require.NoError(t, h.hub.Receive(left))
	h.step()
	assert.Empty(t, h.manager.Network().Peers)
}

func TestSpawnAndDestroyObject(t *testing.T) {
	h := newHarness(t, "server", "server", WithLocalUser("admin"))

	owner, id, err := h.manager.SpawnObject("crate")
	require.NoError(t, err)
	assert.Equal(t, UserID("admin"), owner)
	assert.Equal(t, NetworkID(1), id)
	assert.Len(t, h.hub.Cached(action.WorldTopic), 1)

	h.step()
	e, ok := h.manager.NetworkObject(owner, id)
	require.True(t, ok)
	assert.True(t, h.manager.HasAuthority(e))
	obj, _ := h.manager.Objects().GetOptional(e)
	assert.Equal(t, "crate", obj.Prefab)

	_, next, err := h.manager.SpawnObject("crate")
	require.NoError(t, err)
	assert.Equal(t, NetworkID(2), next)

	require.NoError(t, h.manager.DestroyObject(e))
	h.step()
	assert.False(t, h.registry.Alive(e))
	assert.Len(t, h.hub.Cached(action.WorldTopic), 1, "the destroyed object's spawn is no longer replayed")

	_, _, err = newHarness(t, "x", "x").manager.SpawnObject("crate")
	assert.Error(t, err, "spawning needs a local user")
}

func TestRemoteDestroyNeedsAuthority(t *testing.T) {
	h := newHarness(t, "client", "host")
	e := h.spawn(t, "userA", 1, "A")

	bogus := DestroyObjectAction.Create(DestroyObject{OwnerID: "userA", NetworkID: 1})
	bogus.From = "B"
	require.NoError(t, h.hub.Receive(bogus))
	h.step()
	assert.True(t, h.registry.Alive(e))

	legit := DestroyObjectAction.Create(DestroyObject{OwnerID: "userA", NetworkID: 1})
	legit.From = "A"
	require.NoError(t, h.hub.Receive(legit))
	h.step()
	assert.False(t, h.registry.Alive(e))
}

func TestDestroyPeerRemovesObjectsAttachedWithoutSpawn(t *testing.T) {
	attach := map[string]func(h *harness, e ecs.Entity, obj NetworkObject) error{
		"set": func(h *harness, e ecs.Entity, obj NetworkObject) error {
			return h.manager.Objects().Set(e, obj)
		},
		"decoded": func(h *harness, e ecs.Entity, obj NetworkObject) error {
			raw, err := json.Marshal(obj)
			if err != nil {
				return err
			}
			return h.registry.DecodeEntity(e, map[string]json.RawMessage{"NetworkObject": raw})
		},
	}
	for name, fn := range attach {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, "server", "server")
			net := h.manager.Network()
			h.manager.CreatePeer(net, "A", 1, "userA", 1, "Alice")

			e := h.registry.CreateEntity()
			require.NoError(t, fn(h, e, NetworkObject{OwnerID: "userA", NetworkID: 2, AuthorityPeerID: "A"}))
			found, ok := h.manager.NetworkObject("userA", 2)
			require.True(t, ok)
			assert.Equal(t, e, found)

			h.manager.DestroyPeer(net, "A")
			h.step()
			assert.False(t, h.registry.Alive(e))
			_, ok = h.manager.NetworkObject("userA", 2)
			assert.False(t, ok)
		})
	}
}

func TestRespawnAfterEntityDestroyed(t *testing.T) {
	h := newHarness(t, "server", "server")
	e := h.spawn(t, "userA", 1, "A")
	require.NoError(t, h.manager.RequestAuthority(e))
	require.True(t, h.manager.AuthorityPending(e))

	require.NoError(t, h.registry.DestroyEntity(e))
	_, ok := h.manager.NetworkObject("userA", 1)
	assert.False(t, ok, "no lookup returns a dead handle")
	assert.Empty(t, h.hub.Cached(action.WorldTopic), "the spawn is no longer replayed")

	again := h.spawn(t, "userA", 1, "A")
	assert.NotEqual(t, e, again)
	assert.True(t, h.registry.Alive(again))
	assert.False(t, h.manager.AuthorityPending(again))
	authority, _ := h.manager.Authority(again)
	assert.Equal(t, PeerID("A"), authority)
}
