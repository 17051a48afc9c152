package store

import (
	"context"
	"sync"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/relay"
)

type memSession struct {
	turns     []relay.Turn
	expiresAt time.Time
}

// Memory keeps sessions in process. Expired entries are invisible to reads
// and removed by Sweep.
type Memory struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]memSession
	closed   bool
}

func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:     opts.withDefaults(),
		sessions: make(map[string]memSession),
	}
}

// live returns the session if it exists and has not expired. Caller holds mu.
func (m *Memory) live(id string, now time.Time) (memSession, bool) {
	s, ok := m.sessions[id]
	if !ok || !now.Before(s.expiresAt) {
		return memSession{}, false
	}
	return s, true
}

func (m *Memory) GetContext(_ context.Context, sessionID string) ([]relay.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.live(sessionID, m.opts.Now())
	if !ok {
		return []relay.Turn{}, nil
	}
	return append([]relay.Turn(nil), s.turns...), nil
}

func (m *Memory) Append(_ context.Context, sessionID string, turns ...relay.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := m.opts.Now()
	cur, _ := m.live(sessionID, now)
	m.sessions[sessionID] = memSession{
		turns:     merge(cur.turns, turns, m.opts.MaxTurns, now),
		expiresAt: now.Add(m.opts.TTL),
	}
	return nil
}

func (m *Memory) Clear(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.live(sessionID, m.opts.Now())
	delete(m.sessions, sessionID)
	return ok, nil
}

func (m *Memory) ListSessionIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	now := m.opts.Now()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		if _, ok := m.live(id, now); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) TTL(_ context.Context, sessionID string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.opts.Now()
	s, ok := m.live(sessionID, now)
	if !ok {
		return 0, nil
	}
	return s.expiresAt.Sub(now), nil
}

func (m *Memory) Sweep(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.opts.Now()
	var n int64
	for id := range m.sessions {
		if _, ok := m.live(id, now); !ok {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.sessions = make(map[string]memSession)
	m.mu.Unlock()
	return nil
}
