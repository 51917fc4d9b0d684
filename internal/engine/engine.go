// Package engine runs a mesh session. One goroutine owns the peer, friend and
// request tables; transport events, retry ticks and API calls are all
// serialized through it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shahidanowar/Meshage/internal/config"
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/friendship"
	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/router"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/shahidanowar/Meshage/internal/transport"
)

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrEmptyMessage   = errors.New("message is empty")
)

type Config struct {
	RetryInterval      time.Duration
	MaxConnectAttempts int
	ForwardGuardTTL    time.Duration
	EventBuffer        int
	Clock              clock.Clock
}

// ConfigFrom maps the runtime configuration onto the engine's settings.
func ConfigFrom(c config.Config) Config {
	return Config{
		RetryInterval:      c.RetryInterval,
		MaxConnectAttempts: c.MaxConnectAttempts,
		ForwardGuardTTL:    c.ForwardGuardTTL,
		EventBuffer:        c.EventBuffer,
	}
}

type Engine struct {
	cfg    Config
	tr     transport.Transport
	store  *store.Store
	clock  clock.Clock
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	session *session
}

// session is the state of one Start/Stop cycle. Everything past identity is
// touched only by the run goroutine.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	cmds   chan func()
	ticks  chan connmgr.RetryTick

	identity core.Identity
	conns    *connmgr.Manager
	router   *router.Router
	friends  *friendship.Protocol
}

func New(cfg Config, tr transport.Transport, st *store.Store) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Engine{
		cfg:    cfg,
		tr:     tr,
		store:  st,
		clock:  cfg.Clock,
		log:    slog.Default().With("component", "engine"),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events delivers engine events. Events are dropped when the consumer falls behind.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Start advertises identity and begins discovery. The session ends on Stop
// or when ctx is cancelled.
func (e *Engine) Start(ctx context.Context, identity core.Identity) error {
	if identity.ID == "" {
		return errors.New("identity has no persistent id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return ErrAlreadyStarted
	}
	e.drainTransport()

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		cmds:     make(chan func()),
		ticks:    make(chan connmgr.RetryTick, 64),
		identity: identity,
	}
	s.conns = connmgr.New(connmgr.Config{
		RetryInterval: e.cfg.RetryInterval,
		MaxAttempts:   e.cfg.MaxConnectAttempts,
	}, e.clock, e.tr, s.schedule, connmgr.Hooks{
		PeersChanged: func() { e.emit(PeerListChanged{Peers: s.conns.Peers()}) },
		StateChanged: func(ep string, st connmgr.State) { e.emit(ConnectionStateChanged{Endpoint: ep, State: st}) },
		Failed: func(ep string, class transport.Class, err error) {
			e.emit(ConnectionFailed{Endpoint: ep, Class: class, Err: err})
		},
	})
	s.router = router.New(router.Config{ForwardGuardTTL: e.cfg.ForwardGuardTTL}, e.tr, s.conns, func(ep string, err error) {
		e.emit(SendFailed{Endpoint: ep, Err: err})
	})
	s.friends = friendship.New(identity, e.store, s.router, e.clock, friendship.Hooks{
		RequestReceived: func(r store.PendingRequest) { e.emit(FriendshipRequestReceived{Request: r}) },
		Established:     func(f store.Friend) { e.emit(FriendshipEstablished{Friend: f}) },
		Changed: func() {
			e.emit(FriendshipStateChanged{Friends: s.friends.Friends(), Pending: s.friends.Pending()})
		},
		Locate: func(id string) (string, bool) {
			p, ok := s.conns.ByPersistentID(id)
			if !ok || p.State != connmgr.Connected {
				return "", false
			}
			return p.EndpointID, true
		},
	})
	if err := s.friends.Load(); err != nil {
		cancel()
		return err
	}

	token := core.BuildIdentity(identity.DisplayName, identity.ID)
	if err := e.tr.Advertise(sctx, token); err != nil {
		cancel()
		return fmt.Errorf("failed to advertise: %w", err)
	}
	if err := e.tr.StartDiscovery(sctx); err != nil {
		e.tr.StopAdvertising()
		cancel()
		return fmt.Errorf("failed to start discovery: %w", err)
	}

	e.session = s
	go e.run(s)
	e.log.Info("Session started", "id", identity.ID, "name", identity.DisplayName)
	return nil
}

// Stop ends the session. Peers, timers and in-memory requests are dropped;
// persisted friends and the identity are kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()
	if s == nil {
		return
	}

	e.tr.StopDiscovery()
	e.tr.StopAdvertising()
	e.tr.DisconnectAll()
	s.cancel()
	<-s.done

	s.conns.Reset()
	s.friends.Reset()
	e.emit(PeerListChanged{})
	e.log.Info("Session stopped")
}

func (e *Engine) run(s *session) {
	defer close(s.done)
	events := e.tr.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-events:
			e.handle(s, ev)
		case tick := <-s.ticks:
			s.conns.Retry(tick)
		case fn := <-s.cmds:
			fn()
		}
	}
}

// schedule hands a timer fire to the run goroutine.
func (s *session) schedule(tick connmgr.RetryTick) {
	select {
	case s.ticks <- tick:
	case <-s.ctx.Done():
	}
}

// do runs fn on the session goroutine and waits for it.
func (e *Engine) do(fn func(s *session)) error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ErrNotStarted
	}
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(s); close(ran) }:
	case <-s.done:
		return ErrNotStarted
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrNotStarted
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("Event queue full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// drainTransport discards events left over from a previous session.
func (e *Engine) drainTransport() {
	for {
		select {
		case <-e.tr.Events():
		default:
			return
		}
	}
}

// Identity returns the identity of the running session.
func (e *Engine) Identity() (core.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return core.Identity{}, false
	}
	return e.session.identity, true
}

// ConnectTo dials a discovered endpoint, resetting its attempt counter.
func (e *Engine) ConnectTo(endpoint string) error {
	var err error
	if derr := e.do(func(s *session) { err = s.conns.Connect(endpoint) }); derr != nil {
		return derr
	}
	return err
}

// RequestFriendship asks the peer behind endpoint to become a friend.
func (e *Engine) RequestFriendship(endpoint string) error {
	var err error
	derr := e.do(func(s *session) {
		peer, ok := s.conns.Peer(endpoint)
		if !ok {
			err = connmgr.ErrUnknownPeer
			return
		}
		err = s.friends.RequestFriendship(peer)
	})
	if derr != nil {
		return derr
	}
	return err
}

// RespondToFriendshipRequest accepts or rejects the incoming request from persistentID.
func (e *Engine) RespondToFriendshipRequest(persistentID string, accept bool) error {
	var err error
	if derr := e.do(func(s *session) { err = s.friends.Respond(persistentID, accept) }); derr != nil {
		return derr
	}
	return err
}

// SendBroadcast floods text to the whole mesh.
func (e *Engine) SendBroadcast(text string) (store.Message, error) {
	if text == "" {
		return store.Message{}, ErrEmptyMessage
	}
	var (
		msg store.Message
		err error
	)
	derr := e.do(func(s *session) {
		if err = s.router.Flood(protocol.Chat{Text: text}); err != nil {
			return
		}
		now := e.clock.Now()
		msg = store.Message{
			ID:         core.GenerateMessageID(s.identity.ID, text, now.UnixNano()),
			Kind:       store.KindBroadcast,
			SenderID:   s.identity.ID,
			SenderName: s.identity.DisplayName,
			Content:    text,
			Timestamp:  now.Unix(),
			Direction:  store.Outgoing,
		}
		e.record(&msg)
	})
	if derr != nil {
		return store.Message{}, derr
	}
	return msg, err
}

// SendDirect floods text addressed to the holder of targetID.
func (e *Engine) SendDirect(targetID, text string) (store.Message, error) {
	if text == "" {
		return store.Message{}, ErrEmptyMessage
	}
	var (
		msg store.Message
		err error
	)
	derr := e.do(func(s *session) {
		if msg, err = s.friends.SendDirect(targetID, text); err == nil {
			e.record(&msg)
		}
	})
	if derr != nil {
		return store.Message{}, derr
	}
	return msg, err
}

// Peers returns the peer table, or nil when no session is running.
func (e *Engine) Peers() []connmgr.Peer {
	var out []connmgr.Peer
	_ = e.do(func(s *session) { out = s.conns.Peers() })
	return out
}

// Friends reads the live table during a session and the store otherwise.
func (e *Engine) Friends() ([]store.Friend, error) {
	var out []store.Friend
	if err := e.do(func(s *session) { out = s.friends.Friends() }); err == nil {
		return out, nil
	}
	return e.store.GetFriends()
}

// PendingRequests returns undecided requests, or nil when no session is running.
func (e *Engine) PendingRequests() []store.PendingRequest {
	var out []store.PendingRequest
	_ = e.do(func(s *session) { out = s.friends.Pending() })
	return out
}

// Messages returns up to limit stored messages, newest first.
func (e *Engine) Messages(limit int) ([]store.Message, error) {
	return e.store.GetMessages(limit)
}

func (e *Engine) record(msg *store.Message) {
	if err := e.store.SaveMessage(msg); err != nil {
		e.log.Error("Failed to save message", "id", msg.ID, "error", err)
	}
}
