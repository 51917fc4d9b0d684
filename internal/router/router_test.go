package router

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLinks struct {
	sent      map[string][][]byte
	connected []string
	failing   map[string]error
}

func newFakeLinks(connected ...string) *fakeLinks {
	sort.Strings(connected)
	return &fakeLinks{sent: make(map[string][][]byte), connected: connected, failing: make(map[string]error)}
}

func (f *fakeLinks) Connected() []string { return f.connected }

func (f *fakeLinks) IsConnected(ep string) bool {
	for _, c := range f.connected {
		if c == ep {
			return true
		}
	}
	return false
}

func (f *fakeLinks) Send(ep string, data []byte) error {
	if err := f.failing[ep]; err != nil {
		return err
	}
	f.sent[ep] = append(f.sent[ep], data)
	return nil
}

func TestInboundFloodsToOthers(t *testing.T) {
	links := newFakeLinks("a", "c", "d")
	r := New(Config{}, links, links, nil)

	p, err := r.Inbound("a", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, protocol.Chat{Text: "hello"}, p)

	assert.Empty(t, links.sent["a"], "never echoed to the sender")
	assert.Equal(t, [][]byte{[]byte("hello")}, links.sent["c"])
	assert.Equal(t, [][]byte{[]byte("hello")}, links.sent["d"])
}

func TestInboundForwardsEveryKind(t *testing.T) {
	links := newFakeLinks("a", "c")
	r := New(Config{}, links, links, nil)

	for _, raw := range []string{"DIRECT:X:hi", "REQUEST:A1:Alice:B1", "ACCEPT:B1:Bob", "DIRECT::broken"} {
		_, _ = r.Inbound("a", []byte(raw))
	}
	assert.Len(t, links.sent["c"], 4)

	_, err := r.Inbound("a", []byte("DIRECT::broken"))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDuplicatesWithoutGuard(t *testing.T) {
	links := newFakeLinks("a", "c")
	r := New(Config{}, links, links, nil)
	_, _ = r.Inbound("a", []byte("same"))
	_, _ = r.Inbound("a", []byte("same"))
	assert.Len(t, links.sent["c"], 2)
}

func TestForwardGuardBreaksCycles(t *testing.T) {
	links := newFakeLinks("a", "c")
	r := New(Config{ForwardGuardTTL: time.Minute}, links, links, nil)

	p1, err := r.Inbound("a", []byte("CHATX:m1:loop"))
	require.NoError(t, err)
	p2, err := r.Inbound("c", []byte("CHATX:m1:loop"))
	require.NoError(t, err)

	assert.Equal(t, p1, p2, "duplicates are still delivered")
	assert.Len(t, links.sent["c"], 1)
	assert.Empty(t, links.sent["a"])

	require.NoError(t, r.Flood(protocol.Chat{Text: "mine"}))
	require.Len(t, links.sent["a"], 1)
	echo := links.sent["a"][0]
	p, err := protocol.Decode(echo)
	require.NoError(t, err)
	assert.NotEmpty(t, p.MessageID(), "floods are stamped while the guard is on")

	sentToC := len(links.sent["c"])
	_, _ = r.Inbound("a", echo)
	assert.Len(t, links.sent["c"], sentToC, "own broadcast coming back is not re-forwarded")
}

func TestForwardGuardIgnoresContent(t *testing.T) {
	links := newFakeLinks("a", "c")
	r := New(Config{ForwardGuardTTL: time.Minute}, links, links, nil)

	for _, raw := range []string{"ok", "ok", "DIRECT:B1:yes", "DIRECT:B1:yes", "CHATX:m1:ok", "CHATX:m2:ok"} {
		_, err := r.Inbound("a", []byte(raw))
		require.NoError(t, err)
	}
	assert.Len(t, links.sent["c"], 6, "identical content under different or no ids is always forwarded")
}

func TestFloodUnstampedWithoutGuard(t *testing.T) {
	links := newFakeLinks("a")
	r := New(Config{}, links, links, nil)
	require.NoError(t, r.Flood(protocol.Chat{Text: "plain"}))
	assert.Equal(t, [][]byte{[]byte("plain")}, links.sent["a"])
}

func TestBroadcast(t *testing.T) {
	links := newFakeLinks()
	r := New(Config{}, links, links, nil)
	assert.ErrorIs(t, r.Send([]byte("anyone?"), ""), ErrNoPeers)

	links = newFakeLinks("a", "b", "c")
	boom := errors.New("link dropped")
	links.failing["b"] = boom
	var failed []string
	r = New(Config{}, links, links, func(ep string, _ error) { failed = append(failed, ep) })

	require.NoError(t, r.Send([]byte("hi all"), ""))
	assert.Len(t, links.sent["a"], 1)
	assert.Len(t, links.sent["c"], 1)
	assert.Equal(t, []string{"b"}, failed)

	links.failing["a"] = boom
	links.failing["c"] = boom
	assert.ErrorIs(t, r.Send([]byte("again"), ""), boom)
}

func TestTargetedSend(t *testing.T) {
	links := newFakeLinks("a", "b")
	r := New(Config{}, links, links, nil)

	require.NoError(t, r.Send([]byte("just you"), "b"))
	assert.Len(t, links.sent["b"], 1)
	assert.Empty(t, links.sent["a"])

	assert.ErrorIs(t, r.Send([]byte("x"), "z"), transport.ErrNotConnected)
}
