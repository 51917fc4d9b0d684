package connmgr

import (
	"fmt"
	"time"
)

type State int

const (
	Discovered State = iota
	Connecting
	Connected
	Unreachable
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Peer is a snapshot of a remote endpoint as seen this session.
type Peer struct {
	EndpointID   string    `json:"endpoint_id"`
	DisplayName  string    `json:"display_name"`
	PersistentID string    `json:"persistent_id,omitempty"`
	State        State     `json:"state"`
	Attempts     int       `json:"attempts"`
	InRange      bool      `json:"in_range"`
	LastError    string    `json:"last_error,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	ConnectedAt  time.Time `json:"connected_at,omitempty"`
}

func (p Peer) Resolved() bool {
	return p.PersistentID != ""
}

// Label is the best human readable name for the peer.
func (p Peer) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.EndpointID
}
