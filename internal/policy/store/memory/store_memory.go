// Package memory provides the in-memory policy store. It favors clarity over
// performance and is the default wiring when no database is configured, as
// well as the workhorse of the unit suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"consentd/internal/policy"
	"consentd/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	policies map[string]*policy.Policy
}

func NewStore() *Store {
	return &Store{policies: make(map[string]*policy.Policy)}
}

func (s *Store) Create(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[p.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.policies {
		if existing.GroupID == p.GroupID && existing.Version == p.Version {
			return sentinel.ErrConflict
		}
	}
	s.policies[p.ID] = clone(p)
	return nil
}

// UpdateStatus performs the conditional write under the store mutex: version
// check, transition check, and archive-on-promote all apply atomically.
func (s *Store) UpdateStatus(_ context.Context, policyID string, status policy.Status, expectedVersion int) (*policy.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.policies[policyID]
	if !ok {
		// A vanished row is indistinguishable from a lost race to the caller.
		return nil, sentinel.ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return nil, sentinel.ErrVersionConflict
	}
	if !stored.Status.CanTransitionTo(status) {
		return nil, sentinel.ErrInvalidState
	}

	now := time.Now().UTC()
	if status == policy.StatusActive {
		for _, other := range s.policies {
			if other.GroupID == stored.GroupID && other.ID != stored.ID && other.Status == policy.StatusActive {
				other.Status = policy.StatusArchived
				other.UpdatedAt = now
			}
		}
	}
	stored.Status = status
	stored.UpdatedAt = now
	return clone(stored), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.policies[id]; ok {
		return clone(p), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) FindLatestActiveByGroup(_ context.Context, groupID string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *policy.Policy
	for _, p := range s.policies {
		if p.GroupID == groupID && p.Status == policy.StatusActive {
			if latest == nil || p.Version > latest.Version {
				latest = p
			}
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(latest), nil
}

func (s *Store) FindAllVersionsByGroup(_ context.Context, groupID string) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var versions []*policy.Policy
	for _, p := range s.policies {
		if p.GroupID == groupID {
			versions = append(versions, clone(p))
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (s *Store) List(_ context.Context) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		all = append(all, clone(p))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].GroupID != all[j].GroupID {
			return all[i].GroupID < all[j].GroupID
		}
		return all[i].Version < all[j].Version
	})
	return all, nil
}

// clone guards callers against aliasing the store's copy.
func clone(p *policy.Policy) *policy.Policy {
	cp := *p
	cp.ContentSections = append([]policy.ContentSection(nil), p.ContentSections...)
	cp.AvailableScopes = append([]policy.ScopeDefinition(nil), p.AvailableScopes...)
	return &cp
}
