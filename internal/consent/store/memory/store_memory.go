// Package memory provides an in-memory consent store for tests and local
// development. All operations are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"

	"consentd/internal/consent"
	"consentd/pkg/platform/sentinel"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]*consent.ConsentRecord
}

func NewStore() *Store {
	return &Store{records: make(map[string]*consent.ConsentRecord)}
}

func (s *Store) Create(_ context.Context, record *consent.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrConflict
	}
	s.records[record.ID] = clone(record)
	return nil
}

// Update applies the delta only if the stored version still matches
// currentVersion. The check and the write happen under one lock, which is
// what makes the version token trustworthy for concurrent revokers.
func (s *Store) Update(_ context.Context, id string, update consent.Update, currentVersion int) (*consent.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if existing.Version != currentVersion {
		return nil, sentinel.ErrVersionConflict
	}

	next := clone(existing)
	next.Version = currentVersion + 1
	next.Status = update.Status
	next.GrantedScopes = cloneGrants(update.GrantedScopes)
	next.RevokedScopes = cloneRevocations(update.RevokedScopes)
	if update.RevokedAt != nil {
		t := *update.RevokedAt
		next.RevokedAt = &t
	}
	next.UpdatedAt = update.UpdatedAt

	s.records[id] = next
	return clone(next), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*consent.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(record), nil
}

func (s *Store) FindActiveBySubject(_ context.Context, subjectID string) ([]*consent.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*consent.ConsentRecord
	for _, record := range s.records {
		if record.SubjectID == subjectID && record.Status == consent.StatusGranted {
			result = append(result, clone(record))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *Store) FindByProxyID(_ context.Context, proxyUserID string) ([]*consent.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*consent.ConsentRecord
	for _, record := range s.records {
		if record.Consenter.Type == consent.ConsenterProxy && record.Consenter.UserID == proxyUserID {
			result = append(result, clone(record))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(records []*consent.ConsentRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].ConsentedAt.Equal(records[j].ConsentedAt) {
			return records[i].ConsentedAt.After(records[j].ConsentedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func clone(r *consent.ConsentRecord) *consent.ConsentRecord {
	c := *r
	c.GrantedScopes = cloneGrants(r.GrantedScopes)
	c.RevokedScopes = cloneRevocations(r.RevokedScopes)
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		c.RevokedAt = &t
	}
	if r.Consenter.ProxyDetails != nil {
		pd := *r.Consenter.ProxyDetails
		c.Consenter.ProxyDetails = &pd
	}
	return &c
}

func cloneGrants(in map[string]consent.ScopeGrant) map[string]consent.ScopeGrant {
	out := make(map[string]consent.ScopeGrant, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRevocations(in map[string]consent.ScopeRevocation) map[string]consent.ScopeRevocation {
	out := make(map[string]consent.ScopeRevocation, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
