package transport

import "context"

// Transport is the radio layer the mesh runs on. Every call is fire and
// forget: outcomes arrive later on Events.
type Transport interface {
	// Advertise makes this device discoverable under name until StopAdvertising.
	Advertise(ctx context.Context, name string) error
	StopAdvertising()
	StartDiscovery(ctx context.Context) error
	StopDiscovery()
	// Connect requests a connection; the outcome is a ConnectionResult event.
	Connect(endpoint string) error
	AcceptConnection(endpoint string) error
	// Send queues data for one connected endpoint without waiting for delivery.
	Send(endpoint string, data []byte) error
	DisconnectAll()
	Events() <-chan Event
}

type Event interface {
	EndpointID() string
}

// EndpointFound reports a device in range. Name is its advertised identity token.
type EndpointFound struct {
	Endpoint string
	Name     string
}

type EndpointLost struct {
	Endpoint string
}

// ConnectionInitiated must be answered with AcceptConnection for the link to form.
type ConnectionInitiated struct {
	Endpoint string
	Name     string
	Incoming bool
}

// ConnectionResult carries a nil Err on success.
type ConnectionResult struct {
	Endpoint string
	Err      error
}

type Disconnected struct {
	Endpoint string
}

type PayloadReceived struct {
	Endpoint string
	Data     []byte
}

func (e EndpointFound) EndpointID() string       { return e.Endpoint }
func (e EndpointLost) EndpointID() string        { return e.Endpoint }
func (e ConnectionInitiated) EndpointID() string { return e.Endpoint }
func (e ConnectionResult) EndpointID() string    { return e.Endpoint }
func (e Disconnected) EndpointID() string        { return e.Endpoint }
func (e PayloadReceived) EndpointID() string     { return e.Endpoint }
