package friendship

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	endpoint string
	payload  protocol.Payload
}

type fakeOut struct {
	direct  []sent
	flooded []protocol.Payload
	err     error
}

func (f *fakeOut) SendTo(endpoint string, p protocol.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.direct = append(f.direct, sent{endpoint, p})
	return nil
}

func (f *fakeOut) Flood(p protocol.Payload) error {
	if f.err != nil {
		return f.err
	}
	f.flooded = append(f.flooded, p)
	return nil
}

type fixture struct {
	self     core.Identity
	store    *store.Store
	out      *fakeOut
	proto    *Protocol
	requests []store.PendingRequest
	friends  []store.Friend
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	self, err := core.GenerateIdentity(name)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "friends.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{self: self, store: st, out: &fakeOut{}}
	f.proto = New(self, st, f.out, clock.NewMock(), Hooks{
		RequestReceived: func(r store.PendingRequest) { f.requests = append(f.requests, r) },
		Established:     func(fr store.Friend) { f.friends = append(f.friends, fr) },
	})
	require.NoError(t, f.proto.Load())
	return f
}

func peerOf(id core.Identity, endpoint string) connmgr.Peer {
	return connmgr.Peer{
		EndpointID:   endpoint,
		DisplayName:  id.DisplayName,
		PersistentID: id.ID,
		State:        connmgr.Connected,
	}
}

func TestRequestRecordsOutgoing(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob, err := core.GenerateIdentity("Bob")
	require.NoError(t, err)

	require.NoError(t, alice.proto.RequestFriendship(peerOf(bob, "e2")))

	require.Len(t, alice.out.direct, 1)
	assert.Equal(t, "e2", alice.out.direct[0].endpoint)
	assert.Equal(t, protocol.Request{
		PersistentID: alice.self.ID,
		Name:         "Alice",
		Target:       bob.ID,
		PubKey:       alice.self.PubKey,
	}, alice.out.direct[0].payload)

	pending := alice.proto.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, store.Outgoing, pending[0].Direction)
	assert.Equal(t, bob.ID, pending[0].PersistentID)

	stored, err := alice.store.GetPendingRequests()
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRequestPreconditions(t *testing.T) {
	alice := newFixture(t, "Alice")

	err := alice.proto.RequestFriendship(connmgr.Peer{EndpointID: "e9", DisplayName: "legacy"})
	assert.ErrorIs(t, err, ErrUnresolvedPeer)

	err = alice.proto.RequestFriendship(peerOf(alice.self, "e1"))
	assert.ErrorIs(t, err, ErrSelf)

	alice.out.err = assert.AnError
	bob, _ := core.GenerateIdentity("Bob")
	err = alice.proto.RequestFriendship(peerOf(bob, "e2"))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, alice.proto.Pending(), "failed sends leave no request behind")
}

func TestAcceptHandshake(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob := newFixture(t, "Bob")

	require.NoError(t, alice.proto.RequestFriendship(peerOf(bob.self, "eB")))
	req := alice.out.direct[0].payload.(protocol.Request)

	bob.proto.HandleRequest("eA", req)
	require.Len(t, bob.requests, 1)
	assert.Equal(t, "Alice", bob.requests[0].DisplayName)
	assert.Equal(t, "eA", bob.requests[0].EndpointID)
	assert.Equal(t, store.Incoming, bob.requests[0].Direction)

	require.NoError(t, bob.proto.Respond(alice.self.ID, true))
	require.Len(t, bob.out.flooded, 1)
	accept := bob.out.flooded[0].(protocol.Accept)
	assert.Equal(t, alice.self.ID, accept.Target)
	assert.Empty(t, bob.proto.Pending())
	require.Len(t, bob.proto.Friends(), 1)

	alice.proto.HandleAccept("eB", accept)
	friends := alice.proto.Friends()
	require.Len(t, friends, 1)
	assert.Equal(t, bob.self.ID, friends[0].PersistentID)
	assert.Equal(t, "Bob", friends[0].DisplayName)
	assert.Equal(t, "eB", friends[0].LastKnownEndpoint)
	assert.Equal(t, bob.self.PubKey, friends[0].PubKey)
	assert.Empty(t, alice.proto.Pending())

	// A flooded copy arriving over a second path changes nothing.
	alice.proto.HandleAccept("eC", accept)
	assert.Len(t, alice.proto.Friends(), 1)
	assert.Len(t, alice.friends, 1)

	stored, err := alice.store.GetFriends()
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestMutualRequestsEstablishOnce(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob := newFixture(t, "Bob")

	require.NoError(t, alice.proto.RequestFriendship(peerOf(bob.self, "eB")))
	require.NoError(t, bob.proto.RequestFriendship(peerOf(alice.self, "eA")))

	alice.proto.HandleRequest("eB", bob.out.direct[0].payload.(protocol.Request))
	bob.proto.HandleRequest("eA", alice.out.direct[0].payload.(protocol.Request))

	assert.Len(t, alice.proto.Friends(), 1)
	assert.Len(t, bob.proto.Friends(), 1)
	assert.Empty(t, alice.requests, "no prompt for a request we also sent")

	// Each side's accept reaches the other after it is already a friend.
	alice.proto.HandleAccept("eB", bob.out.flooded[0].(protocol.Accept))
	bob.proto.HandleAccept("eA", alice.out.flooded[0].(protocol.Accept))
	assert.Len(t, alice.friends, 1)
	assert.Len(t, bob.friends, 1)
}

func TestRequestToIncomingAccepts(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob := newFixture(t, "Bob")

	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.self.ID, Name: "Alice", Target: bob.self.ID})
	require.NoError(t, bob.proto.RequestFriendship(peerOf(alice.self, "eA")))

	assert.Empty(t, bob.out.direct)
	require.Len(t, bob.out.flooded, 1)
	assert.IsType(t, protocol.Accept{}, bob.out.flooded[0])
	assert.Len(t, bob.proto.Friends(), 1)

	err := bob.proto.RequestFriendship(peerOf(alice.self, "eA"))
	assert.ErrorIs(t, err, ErrAlreadyFriends)
}

func TestRequestFiltering(t *testing.T) {
	bob := newFixture(t, "Bob")
	carol, _ := core.GenerateIdentity("Carol")
	alice, _ := core.GenerateIdentity("Alice")

	// Relayed through Bob towards Carol.
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice", Target: carol.ID})
	// Our own request flooded back.
	bob.proto.HandleRequest("eC", protocol.Request{PersistentID: bob.self.ID, Name: "Bob"})
	assert.Empty(t, bob.proto.Pending())

	// Untargeted requests are accepted as addressed to us.
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	bob.proto.HandleRequest("eX", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	assert.Len(t, bob.proto.Pending(), 1)
	assert.Len(t, bob.requests, 1, "flooded duplicates prompt once")
}

func TestRequestFromFriendIgnored(t *testing.T) {
	bob := newFixture(t, "Bob")
	alice, _ := core.GenerateIdentity("Alice")
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	require.NoError(t, bob.proto.Respond(alice.ID, true))

	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	assert.Empty(t, bob.proto.Pending())
	assert.Len(t, bob.requests, 1)
}

func TestRejectIsLocal(t *testing.T) {
	bob := newFixture(t, "Bob")
	alice, _ := core.GenerateIdentity("Alice")
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})

	require.NoError(t, bob.proto.Respond(alice.ID, false))
	assert.Empty(t, bob.proto.Pending())
	assert.Empty(t, bob.proto.Friends())
	assert.Empty(t, bob.out.flooded)
	assert.Empty(t, bob.out.direct)

	assert.ErrorIs(t, bob.proto.Respond(alice.ID, true), ErrUnknownRequest)
}

func TestRespondToOutgoingFails(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob, _ := core.GenerateIdentity("Bob")
	require.NoError(t, alice.proto.RequestFriendship(peerOf(bob, "eB")))
	assert.ErrorIs(t, alice.proto.Respond(bob.ID, true), ErrUnknownRequest)
}

func TestUnsolicitedAcceptIgnored(t *testing.T) {
	alice := newFixture(t, "Alice")
	mallory, _ := core.GenerateIdentity("Mallory")
	alice.proto.HandleAccept("eM", protocol.Accept{PersistentID: mallory.ID, Name: "Mallory", Target: alice.self.ID})
	assert.Empty(t, alice.proto.Friends())
}

func TestDirectSealedBetweenFriends(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob := newFixture(t, "Bob")
	require.NoError(t, alice.proto.RequestFriendship(peerOf(bob.self, "eB")))
	bob.proto.HandleRequest("eA", alice.out.direct[0].payload.(protocol.Request))
	require.NoError(t, bob.proto.Respond(alice.self.ID, true))
	alice.proto.HandleAccept("eB", bob.out.flooded[0].(protocol.Accept))

	out, err := alice.proto.SendDirect(bob.self.ID, "meet at the bridge")
	require.NoError(t, err)
	assert.True(t, out.Encrypted)
	assert.Equal(t, store.Outgoing, out.Direction)

	d := alice.out.flooded[len(alice.out.flooded)-1].(protocol.Direct)
	assert.True(t, d.Sealed)
	assert.NotContains(t, d.Content, "bridge")

	msg, ok := bob.proto.HandleDirect("eA", d)
	require.True(t, ok)
	assert.Equal(t, "meet at the bridge", msg.Content)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, store.KindDirect, msg.Kind)

	// A relay that is not the target only forwards.
	carol := newFixture(t, "Carol")
	_, ok = carol.proto.HandleDirect("eA", d)
	assert.False(t, ok)
}

func TestDirectPlainToStranger(t *testing.T) {
	alice := newFixture(t, "Alice")
	bob := newFixture(t, "Bob")

	_, err := alice.proto.SendDirect(bob.self.ID, "hi")
	require.NoError(t, err)
	d := alice.out.flooded[0].(protocol.Direct)
	assert.False(t, d.Sealed)
	assert.Equal(t, alice.self.ID, d.Sender)

	msg, ok := bob.proto.HandleDirect("eA", d)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, alice.self.ID, msg.SenderName)

	_, err = alice.proto.SendDirect("", "hi")
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestDirectUnopenableDropped(t *testing.T) {
	bob := newFixture(t, "Bob")
	_, ok := bob.proto.HandleDirect("eA", protocol.Direct{Target: bob.self.ID, Content: "not base64!", Sealed: true})
	assert.False(t, ok)
}

func TestPeerConnectedUpdatesEndpoint(t *testing.T) {
	bob := newFixture(t, "Bob")
	alice, _ := core.GenerateIdentity("Alice")
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	require.NoError(t, bob.proto.Respond(alice.ID, true))

	bob.proto.PeerConnected(peerOf(alice, "eA2"))
	f, ok := bob.proto.Friend(alice.ID)
	require.True(t, ok)
	assert.Equal(t, "eA2", f.LastKnownEndpoint)

	stored, err := bob.store.GetFriends()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "eA2", stored[0].LastKnownEndpoint)
}

func TestLoadSurvivesRestart(t *testing.T) {
	bob := newFixture(t, "Bob")
	alice, _ := core.GenerateIdentity("Alice")
	carol, _ := core.GenerateIdentity("Carol")
	bob.proto.HandleRequest("eA", protocol.Request{PersistentID: alice.ID, Name: "Alice"})
	require.NoError(t, bob.proto.Respond(alice.ID, true))
	bob.proto.HandleRequest("eC", protocol.Request{PersistentID: carol.ID, Name: "Carol"})

	bob.proto.Reset()
	assert.Empty(t, bob.proto.Friends())

	require.NoError(t, bob.proto.Load())
	assert.Len(t, bob.proto.Friends(), 1)
	pending := bob.proto.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, carol.ID, pending[0].PersistentID)
	assert.WithinDuration(t, time.Unix(0, 0), pending[0].Timestamp, time.Second)
}
