package discovery

import (
	"context"
	"sync"
	"time"
)

type sighting struct {
	info     PeerInfo
	lastSeen time.Time
}

// Tracker remembers which endpoints are in range, based on heartbeat recency.
type Tracker struct {
	mu    sync.Mutex
	peers map[string]sighting
}

func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]sighting)}
}

// Seen records a heartbeat and reports whether the endpoint is new or renamed.
func (t *Tracker) Seen(info PeerInfo, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.peers[info.Endpoint]
	t.peers[info.Endpoint] = sighting{info: info, lastSeen: now}
	return !ok || prev.info.Name != info.Name
}

func (t *Tracker) Lookup(endpoint string) (PeerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.peers[endpoint]
	return s.info, ok
}

// Expire drops endpoints not seen since now-ttl and returns them.
func (t *Tracker) Expire(now time.Time, ttl time.Duration) []PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	threshold := now.Add(-ttl)
	var lost []PeerInfo
	for id, s := range t.peers {
		if s.lastSeen.Before(threshold) {
			lost = append(lost, s.info)
			delete(t.peers, id)
		}
	}
	return lost
}

func (t *Tracker) Forget(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, endpoint)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[string]sighting)
}

// StartReaper periodically expires silent endpoints and reports each one to onLost.
func StartReaper(ctx context.Context, t *Tracker, interval, ttl time.Duration, onLost func(PeerInfo)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, info := range t.Expire(now, ttl) {
				onLost(info)
			}
		}
	}
}
