package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerLimiter limits connections per peer UID, both in count and in rate.
type PeerLimiter struct {
	mu          sync.Mutex
	maxPerPeer  int
	rate        rate.Limit
	burst       int
	peers       map[uint32]*peerState
	lastCleanup time.Time
}

type peerState struct {
	conns   int
	limiter *rate.Limiter
	seen    time.Time
}

// NewPeerLimiter creates a limiter allowing maxPerPeer concurrent
// connections and perSecond new connections per second for each UID.
func NewPeerLimiter(maxPerPeer, perSecond int) *PeerLimiter {
	return &PeerLimiter{
		maxPerPeer:  maxPerPeer,
		rate:        rate.Limit(perSecond),
		burst:       max(perSecond, 1),
		peers:       make(map[uint32]*peerState),
		lastCleanup: time.Now(),
	}
}

// Allow checks whether uid may open another connection and, if so, counts it.
func (l *PeerLimiter) Allow(uid uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > 5*time.Minute {
		l.cleanup(now)
		l.lastCleanup = now
	}

	p, ok := l.peers[uid]
	if !ok {
		p = &peerState{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.peers[uid] = p
	}
	p.seen = now

	if p.conns >= l.maxPerPeer {
		return false
	}
	if !p.limiter.AllowN(now, 1) {
		return false
	}
	p.conns++
	return true
}

// Release gives back a connection slot of uid.
func (l *PeerLimiter) Release(uid uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.peers[uid]; ok && p.conns > 0 {
		p.conns--
	}
}

// SetLimits changes both limits for existing and future peers.
func (l *PeerLimiter) SetLimits(maxPerPeer, perSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxPerPeer = maxPerPeer
	l.rate = rate.Limit(perSecond)
	l.burst = max(perSecond, 1)
	for _, p := range l.peers {
		p.limiter.SetLimit(l.rate)
		p.limiter.SetBurst(l.burst)
	}
}

// cleanup forgets idle peers whose bucket has refilled.
func (l *PeerLimiter) cleanup(now time.Time) {
	for uid, p := range l.peers {
		if p.conns == 0 && now.Sub(p.seen) > time.Minute {
			delete(l.peers, uid)
		}
	}
}

// GetStats returns the open connection count of uid.
func (l *PeerLimiter) GetStats(uid uint32) (connCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.peers[uid]; ok {
		connCount = p.conns
	}
	return
}
