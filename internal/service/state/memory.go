package state

import (
	"context"
	"sync"
	"time"

	"github.com/dzerik/oauth-relay/internal/model"
)

// MemoryStore keeps flow parameters in process memory.
// Suitable for single-instance deployments and development.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]model.FlowParams
	ttl   time.Duration
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

// NewMemoryStore creates a new in-memory flow store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	store := &MemoryStore{
		flows: make(map[string]model.FlowParams),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go store.cleanup()
	return store
}

// Save stores params under the CSRF token
func (s *MemoryStore) Save(_ context.Context, csrfToken string, params model.FlowParams) error {
	if params.CreatedAt.IsZero() {
		params.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[csrfToken] = params
	return nil
}

// Take retrieves and removes the entry (one-time use)
func (s *MemoryStore) Take(_ context.Context, csrfToken string) (*model.FlowParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, ok := s.flows[csrfToken]
	if !ok {
		return nil, ErrFlowNotFound
	}
	delete(s.flows, csrfToken)

	if s.now().Sub(params.CreatedAt) > s.ttl {
		return nil, ErrFlowNotFound
	}
	return &params, nil
}

// Ping always succeeds for the memory store
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

// Close stops the cleanup goroutine
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Name returns the store type name
func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, params := range s.flows {
		if now.Sub(params.CreatedAt) > s.ttl {
			delete(s.flows, token)
		}
	}
}
