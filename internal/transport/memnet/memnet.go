// Package memnet simulates a short-range radio in memory. Devices only see
// each other while linked, which lets tests build arbitrary mesh topologies.
package memnet

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shahidanowar/Meshage/internal/transport"
)

type pair struct{ a, b string }

func key(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

type Network struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	links    map[pair]bool
	failures map[pair]error
	log      *slog.Logger
}

func New() *Network {
	return &Network{
		nodes:    make(map[string]*Node),
		links:    make(map[pair]bool),
		failures: make(map[pair]error),
		log:      slog.Default().With("component", "memnet"),
	}
}

type link struct {
	accepted  bool
	connected bool
}

// Node is one device on the network. It implements transport.Transport.
type Node struct {
	net         *Network
	id          string
	name        string
	advertising bool
	discovering bool
	links       map[string]*link
	events      chan transport.Event
	sent        map[string]int
}

var _ transport.Transport = (*Node)(nil)

// Node returns the device with the given endpoint id, creating it on first use.
func (n *Network) Node(endpoint string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if node, ok := n.nodes[endpoint]; ok {
		return node
	}
	node := &Node{
		net:    n,
		id:     endpoint,
		links:  make(map[string]*link),
		events: make(chan transport.Event, 4096),
		sent:   make(map[string]int),
	}
	n.nodes[endpoint] = node
	return node
}

// Link puts a and b in radio range of each other.
func (n *Network) Link(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links[key(a, b)] {
		return
	}
	n.links[key(a, b)] = true
	na, nb := n.nodes[a], n.nodes[b]
	if na == nil || nb == nil {
		return
	}
	n.reveal(na, nb)
	n.reveal(nb, na)
}

// Unlink takes a and b out of range, dropping any connection between them.
func (n *Network) Unlink(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.links[key(a, b)] {
		return
	}
	delete(n.links, key(a, b))
	na, nb := n.nodes[a], n.nodes[b]
	if na == nil || nb == nil {
		return
	}
	n.hide(na, nb)
	n.hide(nb, na)
	n.sever(na, nb, true)
}

// FailConnect makes connects between a and b fail with err. A nil err clears it.
func (n *Network) FailConnect(a, b string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, key(a, b))
		return
	}
	n.failures[key(a, b)] = err
}

// Connected reports whether a and b have an established connection.
func (n *Network) Connected(a, b string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	na := n.nodes[a]
	if na == nil {
		return false
	}
	l := na.links[b]
	return l != nil && l.connected
}

// reveal tells observer about target if the radios allow it.
func (n *Network) reveal(observer, target *Node) {
	if observer.discovering && target.advertising && n.links[key(observer.id, target.id)] {
		observer.emit(transport.EndpointFound{Endpoint: target.id, Name: target.name})
	}
}

func (n *Network) hide(observer, target *Node) {
	if observer.discovering && target.advertising {
		observer.emit(transport.EndpointLost{Endpoint: target.id})
	}
}

func (n *Network) sever(a, b *Node, notifyBoth bool) {
	la, lb := a.links[b.id], b.links[a.id]
	delete(a.links, b.id)
	delete(b.links, a.id)
	if lb != nil && lb.connected {
		b.emit(transport.Disconnected{Endpoint: a.id})
	}
	if notifyBoth && la != nil && la.connected {
		a.emit(transport.Disconnected{Endpoint: b.id})
	}
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) Events() <-chan transport.Event {
	return n.events
}

// SentTo counts the payloads this node has sent to endpoint.
func (n *Node) SentTo(endpoint string) int {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	return n.sent[endpoint]
}

// ConnectedPeers lists endpoints with an established connection, sorted.
func (n *Node) ConnectedPeers() []string {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	var out []string
	for id, l := range n.links {
		if l.connected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (n *Node) Advertise(_ context.Context, name string) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	n.name = name
	n.advertising = true
	for _, other := range n.net.nodes {
		if other != n {
			n.net.reveal(other, n)
		}
	}
	return nil
}

func (n *Node) StopAdvertising() {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if !n.advertising {
		return
	}
	for _, other := range n.net.nodes {
		if other != n && n.net.links[key(n.id, other.id)] {
			n.net.hide(other, n)
		}
	}
	n.advertising = false
}

func (n *Node) StartDiscovery(_ context.Context) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	if n.discovering {
		return nil
	}
	n.discovering = true
	for _, other := range n.net.nodes {
		if other != n {
			n.net.reveal(n, other)
		}
	}
	return nil
}

func (n *Node) StopDiscovery() {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	n.discovering = false
}

func (n *Node) Connect(endpoint string) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	other := n.net.nodes[endpoint]
	if other == nil || !other.advertising || !n.net.links[key(n.id, endpoint)] {
		n.emit(transport.ConnectionResult{Endpoint: endpoint, Err: transport.ErrEndpointUnknown})
		return nil
	}
	if err := n.net.failures[key(n.id, endpoint)]; err != nil {
		n.emit(transport.ConnectionResult{Endpoint: endpoint, Err: err})
		return nil
	}
	if l := n.links[endpoint]; l != nil {
		if l.connected {
			n.emit(transport.ConnectionResult{Endpoint: endpoint, Err: transport.ErrAlreadyConnected})
		}
		return nil
	}
	n.links[endpoint] = &link{}
	other.links[n.id] = &link{}
	n.emit(transport.ConnectionInitiated{Endpoint: endpoint, Name: other.name})
	other.emit(transport.ConnectionInitiated{Endpoint: n.id, Name: n.name, Incoming: true})
	return nil
}

func (n *Node) AcceptConnection(endpoint string) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	l := n.links[endpoint]
	other := n.net.nodes[endpoint]
	if l == nil || other == nil {
		return transport.ErrEndpointUnknown
	}
	l.accepted = true
	ol := other.links[n.id]
	if ol != nil && ol.accepted && !l.connected {
		l.connected = true
		ol.connected = true
		n.emit(transport.ConnectionResult{Endpoint: endpoint})
		other.emit(transport.ConnectionResult{Endpoint: n.id})
	}
	return nil
}

func (n *Node) Send(endpoint string, data []byte) error {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	l := n.links[endpoint]
	other := n.net.nodes[endpoint]
	if l == nil || !l.connected || other == nil {
		return transport.ErrNotConnected
	}
	select {
	case other.events <- transport.PayloadReceived{Endpoint: n.id, Data: append([]byte(nil), data...)}:
		n.sent[endpoint]++
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// DisconnectAll drops every link. Only the remote ends are notified.
func (n *Node) DisconnectAll() {
	n.net.mu.Lock()
	defer n.net.mu.Unlock()
	for id := range n.links {
		if other := n.net.nodes[id]; other != nil {
			n.net.sever(n, other, false)
		} else {
			delete(n.links, id)
		}
	}
}

func (n *Node) emit(ev transport.Event) {
	select {
	case n.events <- ev:
	default:
		n.net.log.Warn("Event queue full, dropping event", "node", n.id, "endpoint", ev.EndpointID())
	}
}
