package handlers

import (
	"sync"
	"time"

	"github.com/lucsky/cuid"
)

// DefaultStateTTL is how long a sign-in attempt may take
const DefaultStateTTL = 10 * time.Minute

// StateStore issues single-use OAuth state values and checks them on the
// callback.
type StateStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	issued map[string]time.Time
}

func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		ttl:    ttl,
		now:    time.Now,
		issued: make(map[string]time.Time),
	}
}

// Issue returns a new state value
func (s *StateStore) Issue() string {
	state := cuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.issued[state] = s.now().Add(s.ttl)
	return state
}

// Consume reports whether state was issued and has not expired. A state is
// accepted at most once.
func (s *StateStore) Consume(state string) bool {
	if state == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.issued[state]
	if !ok {
		return false
	}
	delete(s.issued, state)
	return s.now().Before(expires)
}

// Pending returns the number of unexpired states
func (s *StateStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.issued)
}

func (s *StateStore) prune() {
	now := s.now()
	for state, expires := range s.issued {
		if !now.Before(expires) {
			delete(s.issued, state)
		}
	}
}
