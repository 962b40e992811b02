package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/cmsg"
)

// Session represents one accepted connection
type Session struct {
	// ID is assigned by the server in accept order
	ID int64

	// Conn is closed when the session is reaped
	Conn io.Closer

	// Peer holds the credentials the kernel recorded at connect time
	Peer cmsg.Credentials

	// CreatedAt is the session creation time
	CreatedAt time.Time

	lastActive  atomic.Int64 // unix nanoseconds
	messages    atomic.Int64
	descriptors atomic.Int64
	state       atomic.Int32
}

// SessionState represents session state
type SessionState int32

const (
	SessionStateConnected SessionState = iota
	SessionStateDraining
	SessionStateClosed
)

// New creates a connected session.
func New(id int64, conn io.Closer, peer cmsg.Credentials) *Session {
	now := time.Now()
	s := &Session{ID: id, Conn: conn, Peer: peer, CreatedAt: now}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Touch records activity: one message carrying fds descriptors.
func (s *Session) Touch(fds int) {
	s.lastActive.Store(time.Now().UnixNano())
	s.messages.Add(1)
	s.descriptors.Add(int64(fds))
}

// LastActiveAt returns the time of the last Touch.
func (s *Session) LastActiveAt() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Messages returns the number of messages handled.
func (s *Session) Messages() int64 { return s.messages.Load() }

// Descriptors returns the number of descriptors received.
func (s *Session) Descriptors() int64 { return s.descriptors.Load() }

// State returns the session state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// SetState changes the session state.
func (s *Session) SetState(st SessionState) { s.state.Store(int32(st)) }

// Manager manages sessions in memory
// Optimized: uses sharded maps to reduce lock contention
type Manager struct {
	shards [16]*SessionShard
	nextID atomic.Int64
}

// SessionShard is a shard of the session map
type SessionShard struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewManager creates a new session manager
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.shards {
		m.shards[i] = &SessionShard{
			sessions: make(map[int64]*Session),
		}
	}
	return m
}

// NextID returns a fresh session ID.
func (m *Manager) NextID() int64 {
	return m.nextID.Add(1)
}

func (m *Manager) getShard(sessionID int64) *SessionShard {
	// Use low 4 bits for shard selection (16 shards)
	return m.shards[sessionID&0xF]
}

// Add adds a session
func (m *Manager) Add(session *Session) {
	shard := m.getShard(session.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.sessions[session.ID] = session
}

// Get gets a session by session ID
func (m *Manager) Get(sessionID int64) (*Session, bool) {
	shard := m.getShard(sessionID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	session, ok := shard.sessions[sessionID]
	return session, ok
}

// Remove removes a session
func (m *Manager) Remove(sessionID int64) {
	shard := m.getShard(sessionID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.sessions, sessionID)
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		total += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return total
}

// CountByPeer returns the number of sessions opened by uid.
func (m *Manager) CountByPeer(uid uint32) int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		for _, s := range shard.sessions {
			if s.Peer.UID == uid {
				total++
			}
		}
		shard.mu.RUnlock()
	}
	return total
}

// CleanupIdle closes and removes sessions idle for longer than idleTimeout.
// Connections are closed outside the shard locks.
func (m *Manager) CleanupIdle(idleTimeout time.Duration) int {
	now := time.Now()
	var idle []*Session

	for _, shard := range m.shards {
		shard.mu.Lock()
		for id, s := range shard.sessions {
			if now.Sub(s.LastActiveAt()) > idleTimeout {
				s.SetState(SessionStateClosed)
				idle = append(idle, s)
				delete(shard.sessions, id)
			}
		}
		shard.mu.Unlock()
	}

	for _, s := range idle {
		if s.Conn != nil {
			s.Conn.Close()
		}
	}
	return len(idle)
}

// GetAll returns all sessions (for monitoring)
func (m *Manager) GetAll() []*Session {
	allSessions := make([]*Session, 0)
	for _, shard := range m.shards {
		shard.mu.RLock()
		for _, session := range shard.sessions {
			allSessions = append(allSessions, session)
		}
		shard.mu.RUnlock()
	}
	return allSessions
}
