//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentd/internal/policy"
	"consentd/internal/policy/store/postgres"
	"consentd/pkg/platform/sentinel"
	"consentd/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = postgres.NewStore(s.pg.DB)
	s.Require().NoError(s.store.Initialize(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(context.Background(), "policies"))
}

func (s *PostgresStoreSuite) seed(id, groupID string, version int, status policy.Status) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Create(context.Background(), &policy.Policy{
		ID:              id,
		GroupID:         groupID,
		Version:         version,
		Status:          status,
		EffectiveDate:   now,
		ContentSections: []policy.ContentSection{{Title: "Data use", Content: "We process your data."}},
		AvailableScopes: []policy.ScopeDefinition{{Key: "basic_profile", Required: true}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}))
}

func (s *PostgresStoreSuite) TestCreateAndFindRoundTrip() {
	s.seed("p1", "g1", 1, policy.StatusDraft)

	got, err := s.store.FindByID(context.Background(), "p1")
	s.Require().NoError(err)
	s.Equal("g1", got.GroupID)
	s.Equal(policy.StatusDraft, got.Status)
	s.Require().Len(got.AvailableScopes, 1)
	s.True(got.AvailableScopes[0].Required)
}

func (s *PostgresStoreSuite) TestCreate_DuplicateVersionSlot() {
	s.seed("p1", "g1", 1, policy.StatusDraft)

	now := time.Now().UTC()
	err := s.store.Create(context.Background(), &policy.Policy{
		ID: "p2", GroupID: "g1", Version: 1, Status: policy.StatusDraft,
		EffectiveDate:   now,
		ContentSections: []policy.ContentSection{{Title: "t"}},
		AvailableScopes: []policy.ScopeDefinition{{Key: "k"}},
		CreatedAt:       now, UpdatedAt: now,
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestUpdateStatus_MissClassification() {
	ctx := context.Background()
	s.seed("p1", "g1", 2, policy.StatusArchived)

	_, err := s.store.UpdateStatus(ctx, "ghost", policy.StatusActive, 1)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.UpdateStatus(ctx, "p1", policy.StatusActive, 1)
	s.ErrorIs(err, sentinel.ErrVersionConflict)

	_, err = s.store.UpdateStatus(ctx, "p1", policy.StatusActive, 2)
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *PostgresStoreSuite) TestUpdateStatus_PromoteArchivesPriorActive() {
	ctx := context.Background()
	s.seed("p1", "g1", 1, policy.StatusActive)
	s.seed("p2", "g1", 2, policy.StatusDraft)

	updated, err := s.store.UpdateStatus(ctx, "p2", policy.StatusActive, 2)
	s.Require().NoError(err)
	s.Equal(policy.StatusActive, updated.Status)
	s.Equal(2, updated.Version)

	prior, err := s.store.FindByID(ctx, "p1")
	s.Require().NoError(err)
	s.Equal(policy.StatusArchived, prior.Status)

	active, err := s.store.FindLatestActiveByGroup(ctx, "g1")
	s.Require().NoError(err)
	s.Equal("p2", active.ID)
}

func (s *PostgresStoreSuite) TestUpdateStatus_ConcurrentPromotersOneWins() {
	ctx := context.Background()
	s.seed("p1", "g1", 1, policy.StatusDraft)

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.store.UpdateStatus(ctx, "p1", policy.StatusActive, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	s.Equal(1, wins)
}

func (s *PostgresStoreSuite) TestFindAllVersionsByGroup_Ascending() {
	ctx := context.Background()
	s.seed("p2", "g1", 2, policy.StatusActive)
	s.seed("p1", "g1", 1, policy.StatusArchived)
	s.seed("p9", "g2", 1, policy.StatusDraft)

	versions, err := s.store.FindAllVersionsByGroup(ctx, "g1")
	s.Require().NoError(err)
	s.Require().Len(versions, 2)
	s.Equal(1, versions[0].Version)
	s.Equal(2, versions[1].Version)
}
