package whatsappweb

import "sync"

const (
	seenCapacity = 1000
	seenEvict    = 200
)

// seenSet remembers processed message keys. Once it grows past capacity
// the oldest evict entries are forgotten in one step.
type seenSet struct {
	mu       sync.Mutex
	capacity int
	evict    int
	order    []string
	keys     map[string]struct{}
}

func newSeenSet(capacity, evict int) *seenSet {
	if evict <= 0 || evict > capacity {
		evict = capacity
	}
	return &seenSet{
		capacity: capacity,
		evict:    evict,
		keys:     make(map[string]struct{}, capacity+1),
	}
}

// Add records key and reports whether it was new.
func (s *seenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.capacity {
		for _, old := range s.order[:s.evict] {
			delete(s.keys, old)
		}
		s.order = append([]string(nil), s.order[s.evict:]...)
	}
	return true
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
