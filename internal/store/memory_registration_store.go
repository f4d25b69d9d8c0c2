package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistrationStore is an in-memory implementation of RegistrationStore
type MemoryRegistrationStore struct {
	mu            sync.RWMutex
	registrations map[string]*Registration // indexed by registration id
	byFingerprint map[string]string        // fingerprint to registration id
	now           func() time.Time
}

// NewMemoryRegistrationStore creates a new in-memory registration store
func NewMemoryRegistrationStore() *MemoryRegistrationStore {
	return &MemoryRegistrationStore{
		registrations: make(map[string]*Registration),
		byFingerprint: make(map[string]string),
		now:           time.Now,
	}
}

func (s *MemoryRegistrationStore) Get(ctx context.Context, registrationID string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, exists := s.registrations[registrationID]
	if !exists {
		return nil, ErrRegistrationNotFound
	}

	return copyRegistration(reg), nil
}

func (s *MemoryRegistrationStore) GetByFingerprint(ctx context.Context, fingerprint string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byFingerprint[fingerprint]
	if !exists {
		return nil, ErrRegistrationNotFound
	}

	return copyRegistration(s.registrations[id]), nil
}

// Put stores a copy of reg. CreatedAt and Attempts are carried over from an
// existing registration with the same id.
func (s *MemoryRegistrationStore) Put(ctx context.Context, reg *Registration) error {
	if reg == nil || reg.RegistrationID == "" {
		return ErrInvalidRegistration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := copyRegistration(reg)
	stored.UpdatedAt = now
	stored.Attempts = 1

	if existing, exists := s.registrations[reg.RegistrationID]; exists {
		stored.CreatedAt = existing.CreatedAt
		stored.Attempts = existing.Attempts + 1
		if existing.Fingerprint != "" && existing.Fingerprint != stored.Fingerprint {
			delete(s.byFingerprint, existing.Fingerprint)
		}
	} else {
		stored.CreatedAt = now
	}

	s.registrations[reg.RegistrationID] = stored
	if stored.Fingerprint != "" {
		s.byFingerprint[stored.Fingerprint] = stored.RegistrationID
	}

	return nil
}

func (s *MemoryRegistrationStore) Delete(ctx context.Context, registrationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, exists := s.registrations[registrationID]
	if !exists {
		return ErrRegistrationNotFound
	}

	delete(s.registrations, registrationID)
	if reg.Fingerprint != "" {
		delete(s.byFingerprint, reg.Fingerprint)
	}

	return nil
}

// List returns registrations ordered by registration id
func (s *MemoryRegistrationStore) List(ctx context.Context, opts ListRegistrationsOptions) ([]*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Registration, 0, len(s.registrations))
	for _, reg := range s.registrations {
		if opts.AssignedHub != "" && reg.AssignedHub != opts.AssignedHub {
			continue
		}
		result = append(result, copyRegistration(reg))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RegistrationID < result[j].RegistrationID
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

func copyRegistration(reg *Registration) *Registration {
	c := *reg
	return &c
}
