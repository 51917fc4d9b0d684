// Package connmgr drives discovered endpoints towards a connection and keeps
// the connected set. It is not safe for concurrent use; the session loop owns it.
package connmgr

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/transport"
)

var ErrUnknownPeer = errors.New("unknown peer")

// Dialer issues connection requests. Results come back through ConnectionResult.
type Dialer interface {
	Connect(endpoint string) error
}

// RetryTick is delivered by a peer's retry timer. Gen guards against stale fires.
type RetryTick struct {
	Endpoint string
	Gen      uint64
}

type Config struct {
	RetryInterval time.Duration
	// MaxAttempts per discovery; 0 retries forever.
	MaxAttempts int
}

// Hooks are invoked synchronously on the owning goroutine.
type Hooks struct {
	PeersChanged func()
	StateChanged func(endpoint string, state State)
	// Failed reports rejected connections and peers that went away.
	Failed func(endpoint string, class transport.Class, err error)
}

type entry struct {
	peer     Peer
	timer    *clock.Timer
	gen      uint64
	rejected bool
}

type Manager struct {
	cfg      Config
	clock    clock.Clock
	dialer   Dialer
	schedule func(RetryTick)
	hooks    Hooks
	log      *slog.Logger

	peers     map[string]*entry
	connected map[string]struct{}
}

// New returns a manager. schedule is called from timer goroutines and must
// hand the tick back to the owning goroutine.
func New(cfg Config, clk clock.Clock, dialer Dialer, schedule func(RetryTick), hooks Hooks) *Manager {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:       cfg,
		clock:     clk,
		dialer:    dialer,
		schedule:  schedule,
		hooks:     hooks,
		log:       slog.Default().With("component", "connmgr"),
		peers:     make(map[string]*entry),
		connected: make(map[string]struct{}),
	}
}

// PeerDiscovered registers or refreshes a peer and starts connecting to it
// unless a connection is already underway.
func (m *Manager) PeerDiscovered(endpoint, name string) {
	e, isNew := m.upsert(endpoint, name)
	e.peer.InRange = true
	if isNew {
		e.peer.DiscoveredAt = m.clock.Now()
	}
	m.peersChanged()

	switch e.peer.State {
	case Connecting, Connected:
		return
	}
	e.peer.Attempts = 0
	e.rejected = false
	m.dial(e)
}

// PeerLost handles loss of range. A connected peer stays until it disconnects.
func (m *Manager) PeerLost(endpoint string) {
	e, ok := m.peers[endpoint]
	if !ok {
		return
	}
	m.stopTimer(e)
	e.peer.InRange = false
	if e.peer.State != Connected {
		delete(m.peers, endpoint)
	}
	m.peersChanged()
}

// ConnectionInitiated records the peer behind a handshake; the caller accepts it.
func (m *Manager) ConnectionInitiated(endpoint, name string) {
	e, _ := m.upsert(endpoint, name)
	if e.peer.State != Connected && e.peer.State != Connecting {
		m.setState(e, Connecting)
	}
	m.peersChanged()
}

func (m *Manager) ConnectionResult(endpoint string, err error) {
	if err == nil {
		e, _ := m.upsert(endpoint, "")
		m.markConnected(e)
		return
	}
	e, ok := m.peers[endpoint]
	if !ok {
		return
	}
	e.peer.LastError = err.Error()
	class := transport.Classify(err)
	switch class {
	case transport.Benign:
		m.log.Debug("Ignoring informational connection result", "endpoint", endpoint, "error", err)
	case transport.PeerGone:
		m.log.Info("Peer gone", "endpoint", endpoint, "error", err)
		m.stopTimer(e)
		delete(m.peers, endpoint)
		delete(m.connected, endpoint)
		m.peersChanged()
		m.failed(endpoint, class, err)
	case transport.Rejected:
		m.log.Warn("Connection rejected", "endpoint", endpoint, "error", err)
		m.stopTimer(e)
		e.rejected = true
		m.setState(e, Unreachable)
		m.failed(endpoint, class, err)
	default:
		m.log.Debug("Connection attempt failed", "endpoint", endpoint, "attempt", e.peer.Attempts, "error", err)
		if e.peer.State == Connected {
			return
		}
		m.setState(e, Unreachable)
		if e.timer == nil && m.canRetry(e) {
			m.arm(e)
		}
	}
}

// Disconnected never reconnects on its own; only a fresh discovery does.
func (m *Manager) Disconnected(endpoint string) {
	delete(m.connected, endpoint)
	e, ok := m.peers[endpoint]
	if !ok {
		return
	}
	m.stopTimer(e)
	e.peer.Attempts = 0
	e.peer.ConnectedAt = time.Time{}
	if !e.peer.InRange {
		delete(m.peers, endpoint)
		m.peersChanged()
		return
	}
	m.setState(e, Discovered)
	m.peersChanged()
}

// Retry handles a timer fire. Fires for peers that connected, left, or were
// rescheduled since are no-ops.
func (m *Manager) Retry(tick RetryTick) {
	e, ok := m.peers[tick.Endpoint]
	if !ok || e.gen != tick.Gen {
		return
	}
	e.timer = nil
	if !e.peer.InRange || e.peer.State == Connected || e.rejected {
		return
	}
	if !m.canRetry(e) {
		m.log.Info("Giving up on peer until it is rediscovered", "endpoint", tick.Endpoint, "attempts", e.peer.Attempts)
		m.setState(e, Unreachable)
		return
	}
	m.dial(e)
}

// Connect is a manual connect request. It resets the attempt counter.
func (m *Manager) Connect(endpoint string) error {
	e, ok := m.peers[endpoint]
	if !ok {
		return ErrUnknownPeer
	}
	if e.peer.State == Connected {
		return nil
	}
	e.peer.Attempts = 0
	e.rejected = false
	m.stopTimer(e)
	m.dial(e)
	return nil
}

// Reset cancels every timer and forgets all peers.
func (m *Manager) Reset() {
	for _, e := range m.peers {
		m.stopTimer(e)
	}
	m.peers = make(map[string]*entry)
	m.connected = make(map[string]struct{})
}

func (m *Manager) Peer(endpoint string) (Peer, bool) {
	e, ok := m.peers[endpoint]
	if !ok {
		return Peer{}, false
	}
	return e.peer, true
}

// Peers returns all known peers, connected first, then by name.
func (m *Manager) Peers() []Peer {
	out := make([]Peer, 0, len(m.peers))
	for _, e := range m.peers {
		out = append(out, e.peer)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].State == Connected, out[j].State == Connected
		if ci != cj {
			return ci
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].EndpointID < out[j].EndpointID
	})
	return out
}

// Connected returns the connected endpoint ids, sorted.
func (m *Manager) Connected() []string {
	out := make([]string, 0, len(m.connected))
	for id := range m.connected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) IsConnected(endpoint string) bool {
	_, ok := m.connected[endpoint]
	return ok
}

// ByPersistentID finds the peer currently carrying id, preferring a connected one.
func (m *Manager) ByPersistentID(id string) (Peer, bool) {
	var found Peer
	ok := false
	for _, e := range m.peers {
		if e.peer.PersistentID != id || id == "" {
			continue
		}
		if e.peer.State == Connected {
			return e.peer, true
		}
		found, ok = e.peer, true
	}
	return found, ok
}

func (m *Manager) upsert(endpoint, name string) (*entry, bool) {
	e, ok := m.peers[endpoint]
	if !ok {
		e = &entry{peer: Peer{EndpointID: endpoint, State: Discovered}}
		m.peers[endpoint] = e
	}
	if name == "" {
		return e, !ok
	}
	r := core.ParseIdentity(name)
	e.peer.DisplayName = r.DisplayName
	switch {
	case e.peer.PersistentID == "":
		e.peer.PersistentID = r.PersistentID
	case r.PersistentID != "" && r.PersistentID != e.peer.PersistentID:
		m.log.Warn("Ignoring persistent id change for endpoint", "endpoint", endpoint, "have", e.peer.PersistentID, "got", r.PersistentID)
	}
	return e, !ok
}

func (m *Manager) dial(e *entry) {
	e.peer.Attempts++
	m.setState(e, Connecting)
	if err := m.dialer.Connect(e.peer.EndpointID); err != nil {
		m.ConnectionResult(e.peer.EndpointID, err)
		if _, ok := m.peers[e.peer.EndpointID]; !ok || e.rejected {
			return
		}
	}
	m.arm(e)
}

func (m *Manager) arm(e *entry) {
	if e.timer != nil {
		return
	}
	e.gen++
	tick := RetryTick{Endpoint: e.peer.EndpointID, Gen: e.gen}
	e.timer = m.clock.AfterFunc(m.cfg.RetryInterval, func() {
		m.schedule(tick)
	})
}

func (m *Manager) stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (m *Manager) canRetry(e *entry) bool {
	return !e.rejected && (m.cfg.MaxAttempts == 0 || e.peer.Attempts < m.cfg.MaxAttempts)
}

func (m *Manager) markConnected(e *entry) {
	m.stopTimer(e)
	e.peer.Attempts = 0
	e.rejected = false
	e.peer.LastError = ""
	if _, ok := m.connected[e.peer.EndpointID]; ok && e.peer.State == Connected {
		return
	}
	m.connected[e.peer.EndpointID] = struct{}{}
	e.peer.ConnectedAt = m.clock.Now()
	m.setState(e, Connected)
	m.peersChanged()
}

func (m *Manager) setState(e *entry, s State) {
	if e.peer.State == s {
		return
	}
	e.peer.State = s
	m.stateChanged(e.peer.EndpointID, s)
}

func (m *Manager) stateChanged(endpoint string, s State) {
	if m.hooks.StateChanged != nil {
		m.hooks.StateChanged(endpoint, s)
	}
}

func (m *Manager) peersChanged() {
	if m.hooks.PeersChanged != nil {
		m.hooks.PeersChanged()
	}
}

func (m *Manager) failed(endpoint string, class transport.Class, err error) {
	if m.hooks.Failed != nil {
		m.hooks.Failed(endpoint, class, err)
	}
}
