package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentd/internal/consent"
	"consentd/pkg/platform/sentinel"
)

func newRecord(id, subjectID string) *consent.ConsentRecord {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &consent.ConsentRecord{
		ID:        id,
		Version:   1,
		SubjectID: subjectID,
		PolicyID:  "pol-1",
		Status:    consent.StatusGranted,
		Consenter: consent.Consenter{Type: consent.ConsenterSelf, UserID: subjectID},
		GrantedScopes: map[string]consent.ScopeGrant{
			"basic_profile": {GrantedAt: now},
			"extra":         {GrantedAt: now},
		},
		RevokedScopes: map[string]consent.ScopeRevocation{},
		ConsentedAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreate_DuplicateID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))
	assert.ErrorIs(t, store.Create(ctx, newRecord("c1", "s1")), sentinel.ErrConflict)
}

func TestUpdate_IncrementsVersionByOne(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	updated, err := store.Update(ctx, "c1", consent.Update{
		Status: consent.StatusGranted,
		GrantedScopes: map[string]consent.ScopeGrant{
			"basic_profile": {GrantedAt: now},
		},
		RevokedScopes: map[string]consent.ScopeRevocation{
			"extra": {RevokedAt: now},
		},
		UpdatedAt: now,
	}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, now, updated.UpdatedAt)
	assert.Contains(t, updated.RevokedScopes, "extra")
	assert.NotContains(t, updated.GrantedScopes, "extra")
}

func TestUpdate_StaleVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))

	_, err := store.Update(ctx, "c1", consent.Update{Status: consent.StatusRevoked}, 5)
	assert.ErrorIs(t, err, sentinel.ErrVersionConflict)
}

func TestUpdate_UnknownRecord(t *testing.T) {
	store := NewStore()
	_, err := store.Update(context.Background(), "ghost", consent.Update{}, 1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestUpdate_ConcurrentSameVersionOneWins(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Update(ctx, "c1", consent.Update{
				Status:        consent.StatusRevoked,
				GrantedScopes: map[string]consent.ScopeGrant{},
				RevokedScopes: map[string]consent.ScopeRevocation{},
				UpdatedAt:     time.Now().UTC(),
			}, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, sentinel.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestUpdate_RevokedAtIsSetOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))

	first := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	updated, err := store.Update(ctx, "c1", consent.Update{
		Status:        consent.StatusRevoked,
		GrantedScopes: map[string]consent.ScopeGrant{},
		RevokedScopes: map[string]consent.ScopeRevocation{},
		RevokedAt:     &first,
		UpdatedAt:     first,
	}, 1)
	require.NoError(t, err)
	require.NotNil(t, updated.RevokedAt)
	assert.Equal(t, first, *updated.RevokedAt)

	// A later update without a revocation time keeps the original.
	later := first.Add(time.Hour)
	updated, err = store.Update(ctx, "c1", consent.Update{
		Status:        consent.StatusSuperseded,
		GrantedScopes: map[string]consent.ScopeGrant{},
		RevokedScopes: map[string]consent.ScopeRevocation{},
		UpdatedAt:     later,
	}, 2)
	require.NoError(t, err)
	require.NotNil(t, updated.RevokedAt)
	assert.Equal(t, first, *updated.RevokedAt)
}

func TestFindActiveBySubject(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))
	require.NoError(t, store.Create(ctx, newRecord("c2", "s1")))
	require.NoError(t, store.Create(ctx, newRecord("c3", "s2")))

	_, err := store.Update(ctx, "c2", consent.Update{
		Status:        consent.StatusRevoked,
		GrantedScopes: map[string]consent.ScopeGrant{},
		RevokedScopes: map[string]consent.ScopeRevocation{},
		UpdatedAt:     time.Now().UTC(),
	}, 1)
	require.NoError(t, err)

	active, err := store.FindActiveBySubject(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c1", active[0].ID)
}

func TestFindByProxyID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	proxied := newRecord("c1", "child-1")
	proxied.Consenter = consent.Consenter{
		Type:   consent.ConsenterProxy,
		UserID: "parent-1",
		ProxyDetails: &consent.ProxyDetails{
			Relationship:    "parent",
			SubjectAgeGroup: consent.AgeGroupUnder13,
		},
	}
	require.NoError(t, store.Create(ctx, proxied))
	require.NoError(t, store.Create(ctx, newRecord("c2", "parent-1")))

	records, err := store.FindByProxyID(ctx, "parent-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c1", records[0].ID)

	records, err = store.FindByProxyID(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFindByID_ReturnsDefensiveCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("c1", "s1")))

	got, err := store.FindByID(ctx, "c1")
	require.NoError(t, err)
	delete(got.GrantedScopes, "basic_profile")
	got.Status = consent.StatusRevoked

	again, err := store.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, consent.StatusGranted, again.Status)
	assert.Contains(t, again.GrantedScopes, "basic_profile")
}
