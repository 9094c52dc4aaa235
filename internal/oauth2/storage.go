package oauth2

import "sync"

// TokenState is the access/refresh token pair held for the signed-in user.
// An empty string means the token is absent.
type TokenState struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// HasAccessToken reports whether an access token is held
func (s TokenState) HasAccessToken() bool {
	return s.AccessToken != ""
}

// HasRefreshToken reports whether a refresh token is held
func (s TokenState) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// TokenStore holds the single TokenState of the process. Save replaces the
// stored pair wholesale.
type TokenStore interface {
	Load() TokenState
	Save(state TokenState)
}

// MemoryTokenStore keeps the token pair in process memory. Nothing survives a
// restart.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	state TokenState
}

// NewMemoryTokenStore creates an empty in-memory store
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load returns a copy of the stored pair
func (s *MemoryTokenStore) Load() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Save replaces the stored pair
func (s *MemoryTokenStore) Save(state TokenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
