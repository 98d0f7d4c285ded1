// Package memory provides in-memory store implementations for local runs
// and tests.
package memory

import (
	"context"
	"sync"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage"
)

// CandidateStore implements storage.CandidateStore in memory.
type CandidateStore struct {
	mu         sync.RWMutex
	candidates map[string]*domain.Candidate
	verdicts   map[string]*domain.Verdict
}

// NewCandidateStore creates a new in-memory candidate store.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		candidates: make(map[string]*domain.Candidate),
		verdicts:   make(map[string]*domain.Verdict),
	}
}

// Compile-time interface check.
var _ storage.CandidateStore = (*CandidateStore)(nil)

// Insert adds a new candidate.
func (s *CandidateStore) Insert(_ context.Context, c *domain.Candidate) error {
	if c == nil || c.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[c.PoolID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *c
	s.candidates[c.PoolID] = &cp
	return nil
}

// RecordVerdict stores the final validation outcome.
func (s *CandidateStore) RecordVerdict(_ context.Context, v *domain.Verdict) error {
	if v == nil || v.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	s.verdicts[v.PoolID] = &cp
	return nil
}

// GetByID retrieves a candidate by pool id.
func (s *CandidateStore) GetByID(_ context.Context, poolID string) (*domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candidates[poolID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetVerdict retrieves the verdict for a pool id.
func (s *CandidateStore) GetVerdict(_ context.Context, poolID string) (*domain.Verdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.verdicts[poolID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *v
	return &cp, nil
}
