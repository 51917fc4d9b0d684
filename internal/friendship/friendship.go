// Package friendship negotiates durable relationships over the flooded mesh.
// All state is keyed by persistent id, so endpoint churn never affects it.
package friendship

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/store"
	"golang.org/x/crypto/nacl/box"
)

var (
	ErrUnresolvedPeer = errors.New("peer has no persistent identity")
	ErrUnknownRequest = errors.New("no pending request from that identity")
	ErrAlreadyFriends = errors.New("already friends")
	ErrSelf           = errors.New("cannot befriend yourself")
	ErrNoTarget       = errors.New("direct message needs a target")
)

type Store interface {
	GetFriends() ([]store.Friend, error)
	UpsertFriend(store.Friend) error
	RemoveFriend(id string) error
	GetPendingRequests() ([]store.PendingRequest, error)
	UpsertPendingRequest(store.PendingRequest) error
	RemovePendingRequest(id string) error
}

// Outbound is how the protocol reaches the mesh.
type Outbound interface {
	SendTo(endpoint string, p protocol.Payload) error
	Flood(p protocol.Payload) error
}

type Hooks struct {
	RequestReceived func(store.PendingRequest)
	Established     func(store.Friend)
	Changed         func()
	// Locate returns the endpoint currently carrying a persistent id.
	Locate func(persistentID string) (string, bool)
}

type Protocol struct {
	self  core.Identity
	store Store
	out   Outbound
	clock clock.Clock
	hooks Hooks
	log   *slog.Logger

	friends map[string]store.Friend
	pending map[string]store.PendingRequest
}

func New(self core.Identity, st Store, out Outbound, clk clock.Clock, hooks Hooks) *Protocol {
	if clk == nil {
		clk = clock.New()
	}
	return &Protocol{
		self:    self,
		store:   st,
		out:     out,
		clock:   clk,
		hooks:   hooks,
		log:     slog.Default().With("component", "friendship"),
		friends: make(map[string]store.Friend),
		pending: make(map[string]store.PendingRequest),
	}
}

// Load fills the tables from the store.
func (p *Protocol) Load() error {
	friends, err := p.store.GetFriends()
	if err != nil {
		return fmt.Errorf("failed to load friends: %w", err)
	}
	reqs, err := p.store.GetPendingRequests()
	if err != nil {
		return fmt.Errorf("failed to load pending requests: %w", err)
	}
	p.friends = make(map[string]store.Friend, len(friends))
	for _, f := range friends {
		p.friends[f.PersistentID] = f
	}
	p.pending = make(map[string]store.PendingRequest, len(reqs))
	for _, r := range reqs {
		if _, ok := p.friends[r.PersistentID]; ok {
			// superseded by a friend record
			p.dropPending(r.PersistentID)
			continue
		}
		p.pending[r.PersistentID] = r
	}
	return nil
}

// Reset forgets the in-memory tables. Persisted records are untouched.
func (p *Protocol) Reset() {
	p.friends = make(map[string]store.Friend)
	p.pending = make(map[string]store.PendingRequest)
}

func (p *Protocol) Friends() []store.Friend {
	out := make([]store.Friend, 0, len(p.friends))
	for _, f := range p.friends {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].PersistentID < out[j].PersistentID
	})
	return out
}

func (p *Protocol) Pending() []store.PendingRequest {
	out := make([]store.PendingRequest, 0, len(p.pending))
	for _, r := range p.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (p *Protocol) Friend(id string) (store.Friend, bool) {
	f, ok := p.friends[id]
	return f, ok
}

// RequestFriendship sends a request to peer. If peer already asked us, this accepts instead.
func (p *Protocol) RequestFriendship(peer connmgr.Peer) error {
	if !peer.Resolved() {
		return ErrUnresolvedPeer
	}
	id := peer.PersistentID
	if id == p.self.ID {
		return ErrSelf
	}
	if _, ok := p.friends[id]; ok {
		return ErrAlreadyFriends
	}
	if req, ok := p.pending[id]; ok && req.Direction == store.Incoming {
		p.establish(id, req.DisplayName, peer.EndpointID, req.PubKey, true)
		return nil
	}

	msg := protocol.Request{
		PersistentID: p.self.ID,
		Name:         p.self.DisplayName,
		Target:       id,
		PubKey:       p.self.PubKey,
	}
	if err := p.out.SendTo(peer.EndpointID, msg); err != nil {
		return fmt.Errorf("failed to send friendship request: %w", err)
	}
	p.recordPending(store.PendingRequest{
		PersistentID: id,
		DisplayName:  peer.DisplayName,
		EndpointID:   peer.EndpointID,
		Timestamp:    p.clock.Now(),
		Direction:    store.Outgoing,
	})
	p.changed()
	return nil
}

// Respond resolves an incoming request.
func (p *Protocol) Respond(persistentID string, accept bool) error {
	req, ok := p.pending[persistentID]
	if !ok || req.Direction != store.Incoming {
		return ErrUnknownRequest
	}
	if !accept {
		p.dropPending(persistentID)
		p.changed()
		return nil
	}
	endpoint := req.EndpointID
	if ep, ok := p.locate(persistentID); ok {
		endpoint = ep
	}
	p.establish(persistentID, req.DisplayName, endpoint, req.PubKey, true)
	return nil
}

// HandleRequest processes a REQUEST that arrived from endpoint from.
func (p *Protocol) HandleRequest(from string, r protocol.Request) {
	if r.PersistentID == p.self.ID || (r.Target != "" && r.Target != p.self.ID) {
		return
	}
	if _, ok := p.friends[r.PersistentID]; ok {
		p.log.Debug("Ignoring request from existing friend", "id", r.PersistentID)
		return
	}
	endpoint := from
	if ep, ok := p.locate(r.PersistentID); ok {
		endpoint = ep
	}
	existing, ok := p.pending[r.PersistentID]
	if ok && existing.Direction == store.Outgoing {
		p.log.Info("Mutual friendship request", "id", r.PersistentID)
		p.establish(r.PersistentID, r.Name, endpoint, r.PubKey, true)
		return
	}

	req := store.PendingRequest{
		PersistentID: r.PersistentID,
		DisplayName:  r.Name,
		EndpointID:   endpoint,
		Timestamp:    p.clock.Now(),
		Direction:    store.Incoming,
		PubKey:       r.PubKey,
	}
	if ok {
		// A flooded duplicate or a resend; refresh without re-announcing.
		req.Timestamp = existing.Timestamp
		p.recordPending(req)
		return
	}
	p.recordPending(req)
	if p.hooks.RequestReceived != nil {
		p.hooks.RequestReceived(req)
	}
	p.changed()
}

// HandleAccept processes an ACCEPT. Only an answer to our own outgoing
// request creates a friend; duplicates are no-ops.
func (p *Protocol) HandleAccept(from string, a protocol.Accept) {
	if a.PersistentID == p.self.ID || (a.Target != "" && a.Target != p.self.ID) {
		return
	}
	if _, ok := p.friends[a.PersistentID]; ok {
		return
	}
	req, ok := p.pending[a.PersistentID]
	if !ok || req.Direction != store.Outgoing {
		p.log.Debug("Ignoring unsolicited accept", "id", a.PersistentID, "from", from)
		return
	}
	endpoint := req.EndpointID
	if ep, ok := p.locate(a.PersistentID); ok {
		endpoint = ep
	}
	p.establish(a.PersistentID, a.Name, endpoint, a.PubKey, false)
}

// HandleDirect reports whether a DIRECT is for us and, if so, the message to display.
func (p *Protocol) HandleDirect(from string, d protocol.Direct) (store.Message, bool) {
	if d.Target != p.self.ID {
		return store.Message{}, false
	}
	content := d.Content
	if d.Sealed {
		opened, err := p.open(d.Content)
		if err != nil {
			p.log.Warn("Dropping direct message that cannot be opened", "from", from, "error", err)
			return store.Message{}, false
		}
		content = opened
	}
	now := p.clock.Now()
	senderName := d.Sender
	if f, ok := p.friends[d.Sender]; ok {
		senderName = f.DisplayName
	}
	return store.Message{
		ID:         core.GenerateMessageID(d.Sender, d.Content, now.UnixNano()),
		Kind:       store.KindDirect,
		SenderID:   d.Sender,
		SenderName: senderName,
		TargetID:   d.Target,
		Endpoint:   from,
		Content:    content,
		Timestamp:  now.Unix(),
		Direction:  store.Incoming,
		Encrypted:  d.Sealed,
	}, true
}

// SendDirect floods text addressed to targetID. Content to a friend whose
// public key we hold is sealed.
func (p *Protocol) SendDirect(targetID, text string) (store.Message, error) {
	if targetID == "" {
		return store.Message{}, ErrNoTarget
	}
	d := protocol.Direct{Target: targetID, Content: text, Sender: p.self.ID}
	if f, ok := p.friends[targetID]; ok {
		if pub, ok := core.DecodeKey(f.PubKey); ok {
			sealed, err := box.SealAnonymous(nil, []byte(text), pub, rand.Reader)
			if err != nil {
				return store.Message{}, fmt.Errorf("failed to seal message: %w", err)
			}
			d.Content = base64.StdEncoding.EncodeToString(sealed)
			d.Sealed = true
		}
	}
	if err := p.out.Flood(d); err != nil {
		return store.Message{}, err
	}
	now := p.clock.Now()
	return store.Message{
		ID:         core.GenerateMessageID(p.self.ID, text, now.UnixNano()),
		Kind:       store.KindDirect,
		SenderID:   p.self.ID,
		SenderName: p.self.DisplayName,
		TargetID:   targetID,
		Content:    text,
		Timestamp:  now.Unix(),
		Direction:  store.Outgoing,
		Encrypted:  d.Sealed,
	}, nil
}

// PeerConnected refreshes the friend record behind a newly connected peer.
func (p *Protocol) PeerConnected(peer connmgr.Peer) {
	f, ok := p.friends[peer.PersistentID]
	if !peer.Resolved() || !ok {
		return
	}
	f.LastKnownEndpoint = peer.EndpointID
	f.LastSeen = p.clock.Now()
	if peer.DisplayName != "" {
		f.DisplayName = peer.DisplayName
	}
	p.friends[f.PersistentID] = f
	if err := p.store.UpsertFriend(f); err != nil {
		p.log.Error("Failed to persist friend", "id", f.PersistentID, "error", err)
	}
	p.changed()
}

func (p *Protocol) establish(id, name, endpoint, pubKey string, answer bool) {
	now := p.clock.Now()
	f := store.Friend{
		PersistentID:      id,
		DisplayName:       name,
		LastKnownEndpoint: endpoint,
		LastSeen:          now,
		PubKey:            pubKey,
		CreatedAt:         now,
	}
	p.friends[id] = f
	if err := p.store.UpsertFriend(f); err != nil {
		p.log.Error("Failed to persist friend", "id", id, "error", err)
	}
	p.dropPending(id)

	if answer {
		accept := protocol.Accept{
			PersistentID: p.self.ID,
			Name:         p.self.DisplayName,
			Target:       id,
			PubKey:       p.self.PubKey,
		}
		// Flooded: the requester may have moved to another endpoint since asking.
		if err := p.out.Flood(accept); err != nil {
			p.log.Warn("Accept not delivered yet", "id", id, "error", err)
		}
	}
	p.log.Info("Friendship established", "id", id, "name", name)
	if p.hooks.Established != nil {
		p.hooks.Established(f)
	}
	p.changed()
}

func (p *Protocol) recordPending(r store.PendingRequest) {
	p.pending[r.PersistentID] = r
	if err := p.store.UpsertPendingRequest(r); err != nil {
		p.log.Error("Failed to persist pending request", "id", r.PersistentID, "error", err)
	}
}

func (p *Protocol) dropPending(id string) {
	delete(p.pending, id)
	if err := p.store.RemovePendingRequest(id); err != nil {
		p.log.Error("Failed to remove pending request", "id", id, "error", err)
	}
}

func (p *Protocol) open(content string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("bad encoding: %w", err)
	}
	pub, priv, ok := p.self.Keys()
	if !ok {
		return "", errors.New("no keypair")
	}
	opened, ok := box.OpenAnonymous(nil, raw, pub, priv)
	if !ok {
		return "", errors.New("decryption failed")
	}
	return string(opened), nil
}

func (p *Protocol) locate(id string) (string, bool) {
	if p.hooks.Locate == nil {
		return "", false
	}
	return p.hooks.Locate(id)
}

func (p *Protocol) changed() {
	if p.hooks.Changed != nil {
		p.hooks.Changed()
	}
}
