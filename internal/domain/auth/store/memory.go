package store

import (
	"context"
	"sync"
	"time"

	"merchant-verify-client/internal/domain/auth/model"
)

type memoryStore struct {
	mu    sync.RWMutex
	creds *model.Credentials
}

// NewMemory builds a process-local store; nothing survives a restart.
func NewMemory() Store {
	return &memoryStore{}
}

func (s *memoryStore) Store(_ context.Context, username, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &model.Credentials{Username: username, Secret: secret, SavedAt: time.Now()}
	return nil
}

func (s *memoryStore) Get(_ context.Context) (model.Credentials, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return model.Credentials{}, false, nil
	}
	return *s.creds, true, nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Has(ctx context.Context) (bool, error) {
	_, ok, err := s.Get(ctx)
	return ok, err
}

func (s *memoryStore) Close(ctx context.Context) error {
	return s.Clear(ctx)
}
