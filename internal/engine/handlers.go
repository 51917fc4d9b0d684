package engine

import (
	"github.com/shahidanowar/Meshage/internal/core"
	"github.com/shahidanowar/Meshage/internal/protocol"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/shahidanowar/Meshage/internal/transport"
)

func (e *Engine) handle(s *session, ev transport.Event) {
	switch ev := ev.(type) {
	case transport.EndpointFound:
		s.conns.PeerDiscovered(ev.Endpoint, ev.Name)
	case transport.EndpointLost:
		s.conns.PeerLost(ev.Endpoint)
	case transport.ConnectionInitiated:
		s.conns.ConnectionInitiated(ev.Endpoint, ev.Name)
		// Every handshake is accepted.
		if err := e.tr.AcceptConnection(ev.Endpoint); err != nil {
			e.log.Warn("Failed to accept connection", "endpoint", ev.Endpoint, "error", err)
			s.conns.ConnectionResult(ev.Endpoint, err)
		}
	case transport.ConnectionResult:
		s.conns.ConnectionResult(ev.Endpoint, ev.Err)
		if ev.Err != nil {
			return
		}
		if peer, ok := s.conns.Peer(ev.Endpoint); ok {
			e.log.Info("Peer connected", "endpoint", ev.Endpoint, "peer", peer.Label())
			s.friends.PeerConnected(peer)
		}
	case transport.Disconnected:
		e.log.Info("Peer disconnected", "endpoint", ev.Endpoint)
		s.conns.Disconnected(ev.Endpoint)
	case transport.PayloadReceived:
		e.handlePayload(s, ev.Endpoint, ev.Data)
	default:
		e.log.Debug("Ignoring transport event", "endpoint", ev.EndpointID())
	}
}

func (e *Engine) handlePayload(s *session, from string, data []byte) {
	payload, err := s.router.Inbound(from, data)
	if err != nil {
		return
	}
	switch p := payload.(type) {
	case protocol.Chat:
		e.handleChat(s, from, p)
	case protocol.Direct:
		if msg, ok := s.friends.HandleDirect(from, p); ok {
			if msg.SenderName == "" {
				msg.SenderName = s.hopLabel(from)
			}
			e.deliver(msg)
		}
	case protocol.Request:
		s.friends.HandleRequest(from, p)
	case protocol.Accept:
		s.friends.HandleAccept(from, p)
	}
}

// handleChat delivers a broadcast. Chat carries no sender, so the message is
// attributed to the neighbour it arrived through.
func (e *Engine) handleChat(s *session, from string, c protocol.Chat) {
	now := e.clock.Now()
	msg := store.Message{
		ID:        core.GenerateMessageID(from, c.Text, now.UnixNano()),
		Kind:      store.KindBroadcast,
		Endpoint:  from,
		Content:   c.Text,
		Timestamp: now.Unix(),
		Direction: store.Incoming,
	}
	msg.SenderName = s.hopLabel(from)
	e.deliver(msg)
}

// hopLabel names the neighbour behind endpoint, for payloads without a sender.
func (s *session) hopLabel(endpoint string) string {
	if peer, ok := s.conns.Peer(endpoint); ok {
		return peer.Label()
	}
	return ""
}

func (e *Engine) deliver(msg store.Message) {
	e.record(&msg)
	e.emit(MessageReceived{Message: msg})
}
