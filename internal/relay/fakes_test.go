package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Vovarama1992/relay-ai-bridge/internal/ai"
)

// memStore is a minimal Store for service tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string][]Turn
	ttl      time.Duration

	getErr    error
	appendErr error
	listErr   error
	clearErr  error
	pingErr   error
	appends   int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]Turn), ttl: time.Hour}
}

func (s *memStore) GetContext(_ context.Context, id string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return append([]Turn(nil), s.sessions[id]...), nil
}

func (s *memStore) Append(_ context.Context, id string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appends++
	s.sessions[id] = append(s.sessions[id], turns...)
	return nil
}

func (s *memStore) Clear(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return false, s.clearErr
	}
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *memStore) ListSessionIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (s *memStore) TTL(_ context.Context, id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return 0, nil
	}
	return s.ttl, nil
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }
func (s *memStore) Close() error               { return nil }

func (s *memStore) turns(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.sessions[id]...)
}

func (s *memStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// fakeAI answers with reply or err and records every prompt.
type fakeAI struct {
	mu      sync.Mutex
	reply   func(ctx context.Context, history []ai.Message) (string, error)
	prompts [][]ai.Message
	pingErr error
}

func (f *fakeAI) GetReply(ctx context.Context, history []ai.Message) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, history)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return "ok", nil
	}
	return reply(ctx, history)
}

func (f *fakeAI) Ping(context.Context) error { return f.pingErr }

func (f *fakeAI) calls() [][]ai.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]ai.Message(nil), f.prompts...)
}

// hangingBackend waits for ctx to end, like a backend that never answers.
func hangingBackend(ctx context.Context, _ []ai.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type sent struct {
	ChatID   string
	Text     string
	ThreadID string
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	typing  []string
	failN   int
	sendErr error
}

func (f *fakeSender) Send(_ context.Context, chatID, text, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("transient")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text, ThreadID: threadID})
	return nil
}

func (f *fakeSender) Typing(_ context.Context, chatID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, chatID)
	return nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeSender) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.typing)
}
