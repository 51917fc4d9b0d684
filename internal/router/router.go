// Package router classifies inbound payloads and floods them across the mesh.
package router

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/transport"
)

var ErrNoPeers = errors.New("no connected peers")

type Sender interface {
	Send(endpoint string, data []byte) error
}

// Links is the connected set, owned by the connection manager.
type Links interface {
	Connected() []string
	IsConnected(endpoint string) bool
}

type Config struct {
	// ForwardGuardTTL enables cycle breaking. Outgoing payloads are stamped
	// with a message id, and an id seen within the TTL is not forwarded again.
	// Payloads without an id are always forwarded. Zero disables the guard.
	ForwardGuardTTL time.Duration
	GuardSize       int
}

type Router struct {
	sender    Sender
	links     Links
	guard     *expirable.LRU[string, struct{}]
	onFailure func(endpoint string, err error)
	log       *slog.Logger
}

// New returns a router. onFailure is told about every send that failed.
func New(cfg Config, sender Sender, links Links, onFailure func(endpoint string, err error)) *Router {
	r := &Router{
		sender:    sender,
		links:     links,
		onFailure: onFailure,
		log:       slog.Default().With("component", "router"),
	}
	if cfg.ForwardGuardTTL > 0 {
		size := cfg.GuardSize
		if size <= 0 {
			size = 4096
		}
		r.guard = expirable.NewLRU[string, struct{}](size, nil, cfg.ForwardGuardTTL)
	}
	return r
}

// Inbound floods data from endpoint from to every other connected endpoint and
// returns its classification. Forwarding happens whatever the payload is,
// since a downstream device may be the real recipient.
func (r *Router) Inbound(from string, data []byte) (protocol.Payload, error) {
	p, err := protocol.Decode(data)
	var id string
	if err == nil {
		id = p.MessageID()
	}
	r.forward(from, id, data)

	if err != nil {
		r.log.Warn("Dropping malformed payload", "from", from, "error", err)
		return nil, err
	}
	return p, nil
}

// Send delivers data to target, or to every connected endpoint when target is empty.
func (r *Router) Send(data []byte, target string) error {
	if target != "" {
		if !r.links.IsConnected(target) {
			return fmt.Errorf("send to %s: %w", target, transport.ErrNotConnected)
		}
		if err := r.sender.Send(target, data); err != nil {
			r.failed(target, err)
			return fmt.Errorf("send to %s: %w", target, err)
		}
		return nil
	}

	peers := r.links.Connected()
	if len(peers) == 0 {
		return ErrNoPeers
	}
	var errs []error
	for _, ep := range peers {
		if err := r.sender.Send(ep, data); err != nil {
			r.failed(ep, err)
			errs = append(errs, fmt.Errorf("send to %s: %w", ep, err))
		}
	}
	if len(errs) == len(peers) {
		return errors.Join(errs...)
	}
	return nil
}

// SendTo encodes p and delivers it to one connected endpoint.
func (r *Router) SendTo(endpoint string, p protocol.Payload) error {
	if endpoint == "" {
		return fmt.Errorf("send: %w", transport.ErrEndpointUnknown)
	}
	return r.Send(r.stamp(p), endpoint)
}

// Flood broadcasts a payload to every connected endpoint.
func (r *Router) Flood(p protocol.Payload) error {
	return r.Send(r.stamp(p), "")
}

// stamp encodes p, giving it a fresh message id when the guard is on. The id
// is remembered so the payload is not forwarded when it comes back.
func (r *Router) stamp(p protocol.Payload) []byte {
	if r.guard == nil {
		return protocol.Encode(p)
	}
	id := uuid.NewString()
	r.guard.Add(id, struct{}{})
	return protocol.Encode(protocol.WithID(p, id))
}

func (r *Router) forward(from, id string, data []byte) {
	if !r.remember(id) {
		r.log.Debug("Not re-forwarding recent payload", "from", from, "id", id)
		return
	}
	for _, ep := range r.links.Connected() {
		if ep == from {
			continue
		}
		if err := r.sender.Send(ep, data); err != nil {
			r.failed(ep, err)
		}
	}
}

// remember records id in the guard and reports whether it was new.
func (r *Router) remember(id string) bool {
	if r.guard == nil || id == "" {
		return true
	}
	if r.guard.Contains(id) {
		return false
	}
	r.guard.Add(id, struct{}{})
	return true
}

func (r *Router) failed(endpoint string, err error) {
	r.log.Debug("Send failed", "endpoint", endpoint, "error", err)
	if r.onFailure != nil {
		r.onFailure(endpoint, err)
	}
}
