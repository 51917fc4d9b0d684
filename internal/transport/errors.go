package transport

import "errors"

var (
	ErrEndpointUnknown  = errors.New("endpoint unknown")
	ErrNotConnected     = errors.New("endpoint not connected")
	ErrAlreadyConnected = errors.New("already connected to endpoint")
	ErrRejected         = errors.New("connection rejected")
	ErrQueueFull        = errors.New("send queue full")
	ErrClosed           = errors.New("transport closed")
)

// Class groups transport failures by how the connection manager reacts.
type Class int

const (
	// Benign failures are informational and ignored.
	Benign Class = iota
	// PeerGone cancels retries and drops the peer.
	PeerGone
	// Transient lets the retry timer continue.
	Transient
	// Rejected is surfaced and stops retrying the peer.
	Rejected
)

func (c Class) String() string {
	switch c {
	case Benign:
		return "benign"
	case PeerGone:
		return "peer-gone"
	case Transient:
		return "transient"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Classify maps an error to its Class. Unknown errors are transient.
func Classify(err error) Class {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyConnected):
		return Benign
	case errors.Is(err, ErrEndpointUnknown), errors.Is(err, ErrClosed):
		return PeerGone
	case errors.Is(err, ErrRejected):
		return Rejected
	}
	// Timeouts, EOF, a full queue and anything unrecognised.
	return Transient
}
