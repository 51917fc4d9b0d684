package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shahidanowar/Meshage/internal/discovery"
)

type LANConfig struct {
	// Port is both the UDP heartbeat port and the TCP service port.
	Port              int
	HeartbeatInterval time.Duration
	LostAfter         time.Duration
	DialTimeout       time.Duration
	// HeartbeatPorts are the ports heartbeats are sent to; defaults to discovery.DefaultPorts.
	HeartbeatPorts []int
}

// LAN is a Transport over UDP heartbeat discovery and framed TCP links.
type LAN struct {
	cfg     LANConfig
	log     *slog.Logger
	events  chan Event
	tracker *discovery.Tracker

	mu       sync.Mutex
	endpoint string
	name     string
	listener net.Listener
	conns    map[string]*lanConn
	stopAdv  context.CancelFunc
	stopDisc context.CancelFunc
	closed   bool
}

type frame struct {
	kind byte
	data []byte
}

type lanConn struct {
	endpoint string
	name     string
	conn     net.Conn
	outgoing bool
	out      chan frame
	done     chan struct{}
	once     sync.Once

	// guarded by LAN.mu
	localAccepted  bool
	remoteAccepted bool
	established    bool
	announced      bool
	closing        bool
}

func NewLAN(cfg LANConfig) *LAN {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	if cfg.LostAfter <= 0 {
		cfg.LostAfter = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &LAN{
		cfg:     cfg,
		log:     slog.Default().With("component", "lan"),
		events:  make(chan Event, 1024),
		tracker: discovery.NewTracker(),
		conns:   make(map[string]*lanConn),
	}
}

func (l *LAN) Events() <-chan Event {
	return l.events
}

// Endpoint is the id of the current advertising session.
func (l *LAN) Endpoint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endpoint
}

func (l *LAN) Advertise(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.listener == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.cfg.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", l.cfg.Port, err)
		}
		l.listener = ln
		go l.acceptLoop(ln)
	}
	if l.stopAdv != nil {
		l.stopAdv()
	}
	l.endpoint = uuid.New().String()[:8]
	l.name = name

	advCtx, cancel := context.WithCancel(ctx)
	l.stopAdv = cancel
	hb := discovery.HeartbeatConfig{
		ServicePort: l.cfg.Port,
		Endpoint:    l.endpoint,
		Name:        name,
		Interval:    l.cfg.HeartbeatInterval,
		Ports:       l.cfg.HeartbeatPorts,
	}
	go func() {
		if err := discovery.StartHeartbeat(advCtx, hb); err != nil {
			l.log.Error("Heartbeat failed", "error", err)
		}
	}()
	return nil
}

func (l *LAN) StopAdvertising() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopAdv != nil {
		l.stopAdv()
		l.stopAdv = nil
	}
}

func (l *LAN) StartDiscovery(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.stopDisc != nil {
		return nil
	}
	discCtx, cancel := context.WithCancel(ctx)
	l.stopDisc = cancel
	self := l.endpoint

	peerChan := make(chan discovery.PeerInfo, 16)
	go func() {
		if err := discovery.StartListener(discCtx, l.cfg.Port, self, peerChan); err != nil {
			l.log.Error("Discovery listener failed", "error", err)
		}
	}()
	go func() {
		for {
			select {
			case <-discCtx.Done():
				return
			case info := <-peerChan:
				if info.Endpoint == l.Endpoint() {
					continue
				}
				if l.tracker.Seen(info, time.Now()) {
					l.emit(EndpointFound{Endpoint: info.Endpoint, Name: info.Name})
				}
			}
		}
	}()
	go discovery.StartReaper(discCtx, l.tracker, l.cfg.LostAfter/2, l.cfg.LostAfter, func(info discovery.PeerInfo) {
		l.emit(EndpointLost{Endpoint: info.Endpoint})
	})
	return nil
}

func (l *LAN) StopDiscovery() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopDisc != nil {
		l.stopDisc()
		l.stopDisc = nil
	}
	l.tracker.Reset()
}

func (l *LAN) Connect(endpoint string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if c, ok := l.conns[endpoint]; ok {
		established := c.established
		l.mu.Unlock()
		if established {
			l.emit(ConnectionResult{Endpoint: endpoint, Err: ErrAlreadyConnected})
		}
		return nil
	}
	l.mu.Unlock()

	info, ok := l.tracker.Lookup(endpoint)
	if !ok {
		l.emit(ConnectionResult{Endpoint: endpoint, Err: ErrEndpointUnknown})
		return nil
	}
	go l.dial(info)
	return nil
}

func (l *LAN) dial(info discovery.PeerInfo) {
	conn, err := net.DialTimeout("tcp", info.Addr, l.cfg.DialTimeout)
	if err != nil {
		l.emit(ConnectionResult{Endpoint: info.Endpoint, Err: fmt.Errorf("dial %s: %w", info.Addr, err)})
		return
	}
	c := newLANConn(conn, info.Endpoint, info.Name, true)
	l.mu.Lock()
	hello := l.endpoint + "\n" + l.name
	l.mu.Unlock()
	c.queue(FrameHello, []byte(hello))

	announce, ok := l.adopt(c)
	if !ok {
		return
	}
	if announce {
		l.emit(ConnectionInitiated{Endpoint: c.endpoint, Name: c.name})
	}
	l.read(c)
}

func (l *LAN) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			l.log.Warn("Accept error", "error", err)
			continue
		}
		go l.handshake(conn)
	}
}

func (l *LAN) handshake(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(l.cfg.DialTimeout))
	kind, data, err := ReadFrame(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil || kind != FrameHello {
		l.log.Warn("Dropping connection without hello", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	endpoint, name, _ := strings.Cut(string(data), "\n")
	if endpoint == "" {
		conn.Close()
		return
	}
	c := newLANConn(conn, endpoint, name, false)
	announce, ok := l.adopt(c)
	if !ok {
		return
	}
	if announce {
		l.emit(ConnectionInitiated{Endpoint: endpoint, Name: name, Incoming: true})
	}
	l.read(c)
}

// adopt registers c. When both sides dial at once the link dialed by the
// lower endpoint id wins on both ends.
func (l *LAN) adopt(c *lanConn) (announce, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		c.close()
		return false, false
	}
	existing := l.conns[c.endpoint]
	if existing != nil {
		if existing.established || !l.preferred(c) {
			c.close()
			return false, false
		}
		c.localAccepted = existing.localAccepted
		c.announced = existing.announced
		existing.closing = true
		existing.close()
	}
	l.conns[c.endpoint] = c
	go c.writeLoop(l.log)
	if c.localAccepted {
		c.queue(FrameAccept, nil)
	}
	announce = !c.announced
	c.announced = true
	return announce, true
}

func (l *LAN) preferred(c *lanConn) bool {
	if c.outgoing {
		return l.endpoint < c.endpoint
	}
	return c.endpoint < l.endpoint
}

func (l *LAN) read(c *lanConn) {
	for {
		kind, data, err := ReadFrame(c.conn)
		if err != nil {
			l.drop(c, err)
			return
		}
		switch kind {
		case FrameAccept:
			l.mu.Lock()
			c.remoteAccepted = true
			est := l.tryEstablish(c)
			l.mu.Unlock()
			if est {
				l.emit(ConnectionResult{Endpoint: c.endpoint})
			}
		case FrameData:
			l.mu.Lock()
			est := c.established
			l.mu.Unlock()
			if est {
				l.emit(PayloadReceived{Endpoint: c.endpoint, Data: data})
			}
		case FrameHello:
		default:
			l.log.Warn("Unknown frame kind", "kind", kind, "endpoint", c.endpoint)
		}
	}
}

func (l *LAN) tryEstablish(c *lanConn) bool {
	if c.established || !c.localAccepted || !c.remoteAccepted || l.conns[c.endpoint] != c {
		return false
	}
	c.established = true
	return true
}

func (l *LAN) drop(c *lanConn, err error) {
	l.mu.Lock()
	current := l.conns[c.endpoint] == c
	if current {
		delete(l.conns, c.endpoint)
	}
	silent := c.closing
	wasEstablished := c.established
	l.mu.Unlock()
	c.close()

	if silent || !current {
		return
	}
	if wasEstablished {
		l.emit(Disconnected{Endpoint: c.endpoint})
		return
	}
	l.emit(ConnectionResult{Endpoint: c.endpoint, Err: fmt.Errorf("handshake: %w", err)})
}

func (l *LAN) AcceptConnection(endpoint string) error {
	l.mu.Lock()
	c, ok := l.conns[endpoint]
	if !ok {
		l.mu.Unlock()
		return ErrEndpointUnknown
	}
	if c.localAccepted {
		l.mu.Unlock()
		return nil
	}
	c.localAccepted = true
	c.queue(FrameAccept, nil)
	est := l.tryEstablish(c)
	l.mu.Unlock()
	if est {
		l.emit(ConnectionResult{Endpoint: endpoint})
	}
	return nil
}

func (l *LAN) Send(endpoint string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[endpoint]
	if !ok || !c.established {
		return ErrNotConnected
	}
	return c.queue(FrameData, append([]byte(nil), data...))
}

func (l *LAN) DisconnectAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.conns {
		c.closing = true
		c.close()
		delete(l.conns, id)
	}
}

// Close stops every activity and releases the listener.
func (l *LAN) Close() error {
	l.StopAdvertising()
	l.StopDiscovery()
	l.DisconnectAll()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

func (l *LAN) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.Warn("Event queue full, dropping event", "endpoint", ev.EndpointID())
	}
}

func newLANConn(conn net.Conn, endpoint, name string, outgoing bool) *lanConn {
	return &lanConn{
		endpoint: endpoint,
		name:     name,
		conn:     conn,
		outgoing: outgoing,
		out:      make(chan frame, 64),
		done:     make(chan struct{}),
	}
}

func (c *lanConn) queue(kind byte, data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	select {
	case c.out <- frame{kind: kind, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *lanConn) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			if err := WriteFrame(c.conn, f.kind, f.data); err != nil {
				log.Debug("Write failed", "endpoint", c.endpoint, "error", err)
				c.close()
				return
			}
		}
	}
}

func (c *lanConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
