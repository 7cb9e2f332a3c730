// Package memory keeps idempotency records in process memory. Records are
// never evicted, so it only suits tests and single-node development runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

type Store struct {
	mu        sync.Mutex
	responses map[string]ports.StoredResponse
}

func NewStore() *Store {
	return &Store{responses: map[string]ports.StoredResponse{}}
}

// Get returns nil, nil for a key that has not been recorded.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	resp, ok := s.responses[key]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}
	resp.Body = slices.Clone(resp.Body)
	return &resp, nil
}

// Save is first-writer-wins.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	response.Body = slices.Clone(response.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.responses[key]; !taken {
		s.responses[key] = response
	}
	return nil
}
