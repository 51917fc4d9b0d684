package transport

import (
	"context"
	"testing"
	"time"
)

func newTestLAN(t *testing.T, port int, ports []int) *LAN {
	t.Helper()
	l := NewLAN(LANConfig{
		Port:              port,
		HeartbeatInterval: 100 * time.Millisecond,
		LostAfter:         time.Second,
		DialTimeout:       time.Second,
		HeartbeatPorts:    ports,
	})
	t.Cleanup(func() { l.Close() })
	return l
}

// waitFor reads events until match returns true or the timeout expires.
func waitFor(t *testing.T, l *LAN, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-l.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", what)
			return nil
		}
	}
}

func TestLANLifecycle(t *testing.T) {
	ports := []int{19103, 19104}
	a := newTestLAN(t, ports[0], ports)
	b := newTestLAN(t, ports[1], ports)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, l := range []*LAN{a, b} {
		name := "node"
		if err := l.Advertise(ctx, name); err != nil {
			t.Fatalf("Advertise failed: %v", err)
		}
		if err := l.StartDiscovery(ctx); err != nil {
			t.Fatalf("StartDiscovery failed: %v", err)
		}
	}

	found := waitFor(t, a, "discovery", func(ev Event) bool {
		_, ok := ev.(EndpointFound)
		return ok && ev.EndpointID() == b.Endpoint()
	})
	if found.(EndpointFound).Name != "node" {
		t.Errorf("Expected advertised name, got %q", found.(EndpointFound).Name)
	}

	if err := a.Connect(b.Endpoint()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, a, "outgoing initiation", func(ev Event) bool {
		ci, ok := ev.(ConnectionInitiated)
		return ok && !ci.Incoming && ci.Endpoint == b.Endpoint()
	})
	waitFor(t, b, "incoming initiation", func(ev Event) bool {
		ci, ok := ev.(ConnectionInitiated)
		return ok && ci.Incoming && ci.Endpoint == a.Endpoint()
	})
	if err := a.Send(b.Endpoint(), []byte("early")); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected before accept, got %v", err)
	}

	if err := a.AcceptConnection(b.Endpoint()); err != nil {
		t.Fatalf("AcceptConnection failed: %v", err)
	}
	if err := b.AcceptConnection(a.Endpoint()); err != nil {
		t.Fatalf("AcceptConnection failed: %v", err)
	}
	for _, pair := range []struct {
		l      *LAN
		remote string
	}{{a, b.Endpoint()}, {b, a.Endpoint()}} {
		ev := waitFor(t, pair.l, "connection result", func(ev Event) bool {
			_, ok := ev.(ConnectionResult)
			return ok && ev.EndpointID() == pair.remote
		})
		if err := ev.(ConnectionResult).Err; err != nil {
			t.Fatalf("Connection failed: %v", err)
		}
	}

	if err := a.Send(b.Endpoint(), []byte("hello lan")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got := waitFor(t, b, "payload", func(ev Event) bool {
		_, ok := ev.(PayloadReceived)
		return ok
	})
	if string(got.(PayloadReceived).Data) != "hello lan" {
		t.Errorf("Got payload %q", got.(PayloadReceived).Data)
	}

	a.DisconnectAll()
	waitFor(t, b, "disconnect", func(ev Event) bool {
		_, ok := ev.(Disconnected)
		return ok && ev.EndpointID() == a.Endpoint()
	})
}

func TestLANConnectUnknown(t *testing.T) {
	l := newTestLAN(t, 19105, []int{19105})
	if err := l.Connect("nobody"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ev := waitFor(t, l, "connection result", func(ev Event) bool {
		_, ok := ev.(ConnectionResult)
		return ok
	})
	if Classify(ev.(ConnectionResult).Err) != PeerGone {
		t.Errorf("Expected peer gone, got %v", ev.(ConnectionResult).Err)
	}
}

func TestLANClosed(t *testing.T) {
	l := newTestLAN(t, 19106, []int{19106})
	l.Close()
	if err := l.Advertise(context.Background(), "x"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := l.Connect("x"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
