package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"
)

type HeartbeatPacket struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
	Name     string `json:"name"`
	Port     int    `json:"port"`
	TS       int64  `json:"ts"`
}

type PeerInfo struct {
	Endpoint string
	Name     string
	Addr     string
}

// DefaultPorts is the service port range heartbeats are sent to.
var DefaultPorts = []int{9000, 9001, 9002, 9003, 9004, 9005}

type HeartbeatConfig struct {
	ServicePort int
	Endpoint    string
	Name        string
	Interval    time.Duration
	Ports       []int
}

// StartHeartbeat broadcasts a heartbeat packet every interval until ctx is done.
func StartHeartbeat(ctx context.Context, cfg HeartbeatConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	ports := cfg.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	// Global broadcast for the LAN, localhost for several nodes on one machine.
	targets := []string{"255.255.255.255", "127.0.0.1"}
	var conns []*net.UDPConn

	for _, host := range targets {
		for _, p := range ports {
			addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, p))
			if err != nil {
				continue
			}
			conn, err := net.DialUDP("udp", nil, addr)
			if err == nil {
				conns = append(conns, conn)
			}
		}
	}

	if len(conns) == 0 {
		return fmt.Errorf("failed to dial any UDP broadcast addresses")
	}

	slog.Info("Heartbeat started", "targets", len(conns), "endpoint", cfg.Endpoint)

	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	beat := func(t time.Time) {
		data, err := json.Marshal(HeartbeatPacket{
			Type:     "beat",
			Endpoint: cfg.Endpoint,
			Name:     cfg.Name,
			Port:     cfg.ServicePort,
			TS:       t.Unix(),
		})
		if err != nil {
			return
		}
		for _, c := range conns {
			_, _ = c.Write(data)
		}
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	beat(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			beat(t)
		}
	}
}

// StartListener listens for heartbeats and sends peer info to the channel.
// Beats carrying self as endpoint are ignored.
func StartListener(ctx context.Context, port int, self string, peerChan chan<- PeerInfo) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("read error: %w", err)
			}
		}

		var packet HeartbeatPacket
		if err := json.Unmarshal(buf[:n], &packet); err != nil {
			slog.Warn("Failed to unmarshal heartbeat", "error", err)
			continue
		}

		if packet.Type != "beat" || packet.Endpoint == "" {
			continue
		}
		if packet.Endpoint == self {
			continue
		}

		// The advertised port with the sender's IP is the TCP service address.
		peerAddr := net.JoinHostPort(remoteAddr.IP.String(), fmt.Sprintf("%d", packet.Port))

		slog.Debug("Received heartbeat", "from", packet.Endpoint, "addr", peerAddr)

		select {
		case peerChan <- PeerInfo{
			Endpoint: packet.Endpoint,
			Name:     packet.Name,
			Addr:     peerAddr,
		}:
		case <-ctx.Done():
			return nil
		}
	}
}
