package twofactor

import (
	"context"
	"sync"

	"vigil/pkg/platform/sentinel"
)

// EnrollmentStore persists enrollments keyed by user. Save replaces the
// whole record so backup-code set changes are atomic.
type EnrollmentStore interface {
	Get(ctx context.Context, userID string) (*Enrollment, error)
	Save(ctx context.Context, enrollment *Enrollment) error
}

// InMemoryStore keeps the initial implementation lightweight and testable.
type InMemoryStore struct {
	mu          sync.RWMutex
	enrollments map[string]*Enrollment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{enrollments: make(map[string]*Enrollment)}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.enrollments[userID]; ok {
		return e.Clone(), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) Save(_ context.Context, enrollment *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[enrollment.UserID] = enrollment.Clone()
	return nil
}
