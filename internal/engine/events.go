package engine

import (
	"github.com/shahidanowar/Meshage/internal/connmgr"
	"github.com/shahidanowar/Meshage/internal/store"
	"github.com/shahidanowar/Meshage/internal/transport"
)

// Event is something consumers of the engine are told about.
type Event interface {
	isEvent()
}

// PeerListChanged carries a snapshot of the peer table.
type PeerListChanged struct {
	Peers []connmgr.Peer
}

type ConnectionStateChanged struct {
	Endpoint string
	State    connmgr.State
}

// ConnectionFailed reports a peer that rejected us or went away.
type ConnectionFailed struct {
	Endpoint string
	Class    transport.Class
	Err      error
}

// MessageReceived carries a chat or a direct message addressed to us.
type MessageReceived struct {
	Message store.Message
}

type FriendshipRequestReceived struct {
	Request store.PendingRequest
}

type FriendshipEstablished struct {
	Friend store.Friend
}

// FriendshipStateChanged carries snapshots of the friend and request tables.
type FriendshipStateChanged struct {
	Friends []store.Friend
	Pending []store.PendingRequest
}

type SendFailed struct {
	Endpoint string
	Err      error
}

func (PeerListChanged) isEvent()           {}
func (ConnectionStateChanged) isEvent()    {}
func (ConnectionFailed) isEvent()          {}
func (MessageReceived) isEvent()           {}
func (FriendshipRequestReceived) isEvent() {}
func (FriendshipEstablished) isEvent()     {}
func (FriendshipStateChanged) isEvent()    {}
func (SendFailed) isEvent()                {}
