package protocol

import (
	"errors"
	"fmt"
)

// Payload tags. Everything without a tag is broadcast chat.
const (
	TagDirect  = "DIRECT"
	TagRequest = "REQUEST"
	TagAccept  = "ACCEPT"
	TagChat    = "CHAT"
)

// Extended tags carry the optional fields. They are only emitted when one of
// those fields is set, so plain payloads stay readable by every device.
const (
	TagChatX    = "CHATX"
	TagDirectX  = "DIRECTX"
	TagRequestX = "REQUESTX"
	TagAcceptX  = "ACCEPTX"
)

// FieldDelimiter separates the tag and every field that follows it. The last
// field of a payload is taken literally and may contain the delimiter.
const FieldDelimiter = ":"

var ErrMalformed = errors.New("malformed payload")

type Kind int

const (
	KindChat Kind = iota
	KindDirect
	KindRequest
	KindAccept
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindDirect:
		return "direct"
	case KindRequest:
		return "request"
	case KindAccept:
		return "accept"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload is the decoded form of everything carried over the mesh.
type Payload interface {
	Kind() Kind
	// MessageID is the per-send id stamped by a router running a forward
	// guard. It is empty for payloads sent without one.
	MessageID() string
}

// Chat is visible to every device.
type Chat struct {
	ID   string
	Text string
}

// Direct is flooded like chat but only displayed by Target. Sender travels
// only in the extended form.
type Direct struct {
	ID      string
	Target  string
	Content string
	Sender  string
	Sealed  bool
}

// Request asks Target to become a friend of PersistentID.
type Request struct {
	ID           string
	PersistentID string
	Name         string
	Target       string
	PubKey       string
}

// Accept answers a Request. PersistentID and Name describe the acceptor.
type Accept struct {
	ID           string
	PersistentID string
	Name         string
	Target       string
	PubKey       string
}

func (Chat) Kind() Kind    { return KindChat }
func (Direct) Kind() Kind  { return KindDirect }
func (Request) Kind() Kind { return KindRequest }
func (Accept) Kind() Kind  { return KindAccept }

func (c Chat) MessageID() string    { return c.ID }
func (d Direct) MessageID() string  { return d.ID }
func (r Request) MessageID() string { return r.ID }
func (a Accept) MessageID() string  { return a.ID }

// WithID returns a copy of p carrying id.
func WithID(p Payload, id string) Payload {
	switch v := p.(type) {
	case Chat:
		v.ID = id
		return v
	case Direct:
		v.ID = id
		return v
	case Request:
		v.ID = id
		return v
	case Accept:
		v.ID = id
		return v
	case *Chat:
		return WithID(*v, id)
	case *Direct:
		return WithID(*v, id)
	case *Request:
		return WithID(*v, id)
	case *Accept:
		return WithID(*v, id)
	default:
		return p
	}
}
