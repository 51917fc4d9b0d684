package memnet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shahidanowar/Meshage/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, n *Node) transport.Event {
	t.Helper()
	select {
	case ev := <-n.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event on %s", n.ID())
		return nil
	}
}

func TestDiscoveryRequiresLink(t *testing.T) {
	net := New()
	a, b := net.Node("a"), net.Node("b")
	ctx := context.Background()
	require.NoError(t, b.Advertise(ctx, "Bob|B1"))
	require.NoError(t, a.StartDiscovery(ctx))
	assert.Len(t, a.Events(), 0)

	net.Link("a", "b")
	ev := next(t, a)
	assert.Equal(t, transport.EndpointFound{Endpoint: "b", Name: "Bob|B1"}, ev)

	net.Unlink("a", "b")
	assert.Equal(t, transport.EndpointLost{Endpoint: "b"}, next(t, a))
}

func TestConnectHandshake(t *testing.T) {
	net := New()
	a, b := net.Node("a"), net.Node("b")
	ctx := context.Background()
	require.NoError(t, a.Advertise(ctx, "Alice|A1"))
	require.NoError(t, b.Advertise(ctx, "Bob|B1"))
	net.Link("a", "b")

	require.NoError(t, a.Connect("b"))
	assert.Equal(t, transport.ConnectionInitiated{Endpoint: "b", Name: "Bob|B1"}, next(t, a))
	assert.Equal(t, transport.ConnectionInitiated{Endpoint: "a", Name: "Alice|A1", Incoming: true}, next(t, b))

	require.NoError(t, a.AcceptConnection("b"))
	assert.False(t, net.Connected("a", "b"))
	require.NoError(t, b.AcceptConnection("a"))
	assert.True(t, net.Connected("a", "b"))
	assert.Equal(t, transport.ConnectionResult{Endpoint: "a"}, next(t, b))
	assert.Equal(t, transport.ConnectionResult{Endpoint: "b"}, next(t, a))

	require.NoError(t, a.Send("b", []byte("hi")))
	assert.Equal(t, transport.PayloadReceived{Endpoint: "a", Data: []byte("hi")}, next(t, b))
	assert.Equal(t, 1, a.SentTo("b"))

	a.DisconnectAll()
	assert.Equal(t, transport.Disconnected{Endpoint: "a"}, next(t, b))
	assert.ErrorIs(t, a.Send("b", []byte("x")), transport.ErrNotConnected)
}

func TestFailConnect(t *testing.T) {
	net := New()
	a, b := net.Node("a"), net.Node("b")
	ctx := context.Background()
	require.NoError(t, b.Advertise(ctx, "Bob"))
	net.Link("a", "b")
	boom := errors.New("radio busy")
	net.FailConnect("a", "b", boom)

	require.NoError(t, a.Connect("b"))
	ev := next(t, a).(transport.ConnectionResult)
	assert.ErrorIs(t, ev.Err, boom)

	require.NoError(t, a.Connect("zzz"))
	ev = next(t, a).(transport.ConnectionResult)
	assert.ErrorIs(t, ev.Err, transport.ErrEndpointUnknown)
}
