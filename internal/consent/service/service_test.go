package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentd/internal/audit"
	"consentd/internal/consent"
	consentmem "consentd/internal/consent/store/memory"
	"consentd/internal/policy"
	policymem "consentd/internal/policy/store/memory"
	policysvc "consentd/internal/policy/service"
	dErrors "consentd/pkg/domain-errors"
	"consentd/pkg/requestcontext"
)

type ConsentServiceSuite struct {
	suite.Suite
	ctx         context.Context
	now         time.Time
	store       *consentmem.Store
	policyStore *policymem.Store
	auditStore  *audit.InMemoryStore
	svc         *Service
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.now = time.Date(2026, 4, 20, 14, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithUserID(s.ctx, "caller-1")
	s.store = consentmem.NewStore()
	s.policyStore = policymem.NewStore()
	s.auditStore = audit.NewInMemoryStore()
	s.svc = New(s.store, policysvc.New(s.policyStore),
		WithAuditPublisher(audit.NewPublisher(s.auditStore, nil)),
	)
}

// seedPolicy stores a policy with a required basic_profile scope and an
// optional extra scope.
func (s *ConsentServiceSuite) seedPolicy(id string, status policy.Status, requiresProxy bool) {
	s.Require().NoError(s.policyStore.Create(s.ctx, &policy.Policy{
		ID:                     id,
		GroupID:                "privacy-policy",
		Version:                1,
		Status:                 status,
		EffectiveDate:          s.now,
		RequiresProxyForMinors: requiresProxy,
		ContentSections:        []policy.ContentSection{{Title: "Data use"}},
		AvailableScopes: []policy.ScopeDefinition{
			{Key: "basic_profile", Name: "Basic profile", Required: true},
			{Key: "extra", Name: "Extra data"},
		},
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}))
}

func (s *ConsentServiceSuite) grantInput(scopes ...string) consent.GrantConsentInput {
	return consent.GrantConsentInput{
		SubjectID:     "subject-1",
		PolicyID:      "pol-1",
		Consenter:     consent.Consenter{Type: consent.ConsenterSelf, UserID: "subject-1"},
		GrantedScopes: scopes,
		Metadata:      consent.Metadata{ConsentMethod: "web_form"},
	}
}

func (s *ConsentServiceSuite) TestGrant_RequiredScopeOnly() {
	s.seedPolicy("pol-1", policy.StatusActive, false)

	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	s.Equal(consent.StatusGranted, record.Status)
	s.Equal(1, record.Version)
	s.Equal([]string{"basic_profile"}, record.GrantedScopeKeys())
	s.Equal(s.now, record.GrantedScopes["basic_profile"].GrantedAt)
	s.Equal(s.now, record.ConsentedAt)
	s.Empty(record.RevokedScopes)
	s.Nil(record.RevokedAt)
}

func (s *ConsentServiceSuite) TestGrant_MissingRequiredScope() {
	s.seedPolicy("pol-1", policy.StatusActive, false)

	_, err := s.svc.Grant(s.ctx, s.grantInput("extra"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "basic_profile")
}

func (s *ConsentServiceSuite) TestGrant_UnknownScopeKeysListed() {
	s.seedPolicy("pol-1", policy.StatusActive, false)

	_, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "location", "biometrics"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(err.Error(), "biometrics, location")
}

func (s *ConsentServiceSuite) TestGrant_PolicyNotActive() {
	s.seedPolicy("pol-1", policy.StatusDraft, false)

	_, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func (s *ConsentServiceSuite) TestGrant_PolicyAbsent() {
	_, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestGrant_ProxyStructuralValidation() {
	s.seedPolicy("pol-1", policy.StatusActive, false)

	// A proxy consenter without details fails before any policy rule applies.
	input := s.grantInput("basic_profile")
	input.Consenter = consent.Consenter{Type: consent.ConsenterProxy, UserID: "parent-1"}
	_, err := s.svc.Grant(s.ctx, input)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	// A self consenter must not carry proxy details.
	input.Consenter = consent.Consenter{
		Type:   consent.ConsenterSelf,
		UserID: "subject-1",
		ProxyDetails: &consent.ProxyDetails{
			Relationship:    "parent",
			SubjectAgeGroup: consent.AgeGroupUnder13,
		},
	}
	_, err = s.svc.Grant(s.ctx, input)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ConsentServiceSuite) TestGrant_ProxyForMinorAllowed() {
	s.seedPolicy("pol-1", policy.StatusActive, true)

	input := s.grantInput("basic_profile")
	input.SubjectID = "child-1"
	input.Consenter = consent.Consenter{
		Type:   consent.ConsenterProxy,
		UserID: "parent-1",
		ProxyDetails: &consent.ProxyDetails{
			Relationship:    "parent",
			SubjectAgeGroup: consent.AgeGroupTeen,
		},
	}

	record, err := s.svc.Grant(s.ctx, input)
	s.Require().NoError(err)
	s.Equal(consent.ConsenterProxy, record.Consenter.Type)
}

func (s *ConsentServiceSuite) TestGrant_ProxyForAdultRejected() {
	s.seedPolicy("pol-1", policy.StatusActive, true)

	input := s.grantInput("basic_profile")
	input.Consenter = consent.Consenter{
		Type:   consent.ConsenterProxy,
		UserID: "parent-1",
		ProxyDetails: &consent.ProxyDetails{
			Relationship:    "guardian",
			SubjectAgeGroup: consent.AgeGroupAdult,
		},
	}

	_, err := s.svc.Grant(s.ctx, input)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ConsentServiceSuite) TestRevoke_SingleScope() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)

	updated, err := s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"extra"},
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	s.Equal(consent.StatusGranted, updated.Status)
	s.Equal(2, updated.Version)
	s.Equal([]string{"basic_profile"}, updated.GrantedScopeKeys())
	s.Equal(s.now, updated.RevokedScopes["extra"].RevokedAt)
	s.Nil(updated.RevokedAt)
}

func (s *ConsentServiceSuite) TestRevoke_AllScopesByOmission() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)

	updated, err := s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	s.Equal(consent.StatusRevoked, updated.Status)
	s.Empty(updated.GrantedScopes)
	s.Require().NotNil(updated.RevokedAt)
	s.Equal(s.now, *updated.RevokedAt)
}

func (s *ConsentServiceSuite) TestRevoke_NamingEveryScopeIsFullRevocation() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)

	updated, err := s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"basic_profile", "extra"},
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)
	s.Equal(consent.StatusRevoked, updated.Status)
	s.NotNil(updated.RevokedAt)
}

func (s *ConsentServiceSuite) TestRevoke_ScopeNotGranted() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"extra"},
		CurrentVersion: record.Version,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ConsentServiceSuite) TestRevoke_StaleVersionConflicts() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)

	// First revoker wins with the shared version token.
	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"extra"},
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	// Second revoker carries the same stale token and loses.
	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"basic_profile"},
		CurrentVersion: record.Version,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrencyConflict))
}

func (s *ConsentServiceSuite) TestRevoke_TerminalRecord() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	revoked, err := s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: revoked.Version,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func (s *ConsentServiceSuite) TestRevoke_UnknownRecord() {
	_, err := s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      "ghost",
		CurrentVersion: 1,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestSupersede_BothPhasesSucceed() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)

	// The group gains a new active version; the existing consent is replaced
	// against it.
	s.seedPolicyVersion2Active()
	newGrant := s.grantInput("basic_profile")
	newGrant.PolicyID = "pol-2"

	result, err := s.svc.Supersede(s.ctx, consent.SupersedeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version,
		NewGrant:       newGrant,
	})
	s.Require().NoError(err)

	s.Equal(consent.StatusSuperseded, result.Superseded.Status)
	s.Equal(record.Version+1, result.Superseded.Version)
	s.NotNil(result.Superseded.RevokedAt)
	s.Empty(result.Superseded.GrantedScopes)

	s.Equal(consent.StatusGranted, result.Granted.Status)
	s.Equal(1, result.Granted.Version)
	s.Equal("pol-2", result.Granted.PolicyID)
	s.NotEqual(record.ID, result.Granted.ID)
}

func (s *ConsentServiceSuite) TestSupersede_GrantFailureIsPartial() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	newGrant := s.grantInput("basic_profile")
	newGrant.PolicyID = "missing-policy"

	_, err = s.svc.Supersede(s.ctx, consent.SupersedeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version,
		NewGrant:       newGrant,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePartialSupersede))

	var partial *consent.PartialSupersedeError
	s.Require().True(errors.As(err, &partial))
	s.Equal(record.ID, partial.Superseded.ID)
	s.Equal(consent.StatusSuperseded, partial.Superseded.Status)
	s.True(dErrors.HasCode(partial.GrantErr, dErrors.CodeNotFound))

	// The revoke half committed: the stored record is superseded for good.
	stored, err := s.svc.GetByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(consent.StatusSuperseded, stored.Status)
}

func (s *ConsentServiceSuite) TestSupersede_TerminalRecord() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	_, err = s.svc.Supersede(s.ctx, consent.SupersedeConsentInput{
		ConsentID:      record.ID,
		CurrentVersion: record.Version + 1,
		NewGrant:       s.grantInput("basic_profile"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
}

func (s *ConsentServiceSuite) TestReads() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile"))
	s.Require().NoError(err)

	got, err := s.svc.GetByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.ID, got.ID)

	missing, err := s.svc.GetByID(s.ctx, "ghost")
	s.NoError(err)
	s.Nil(missing)

	active, err := s.svc.FindActiveBySubject(s.ctx, "subject-1")
	s.Require().NoError(err)
	s.Len(active, 1)

	none, err := s.svc.FindByProxyID(s.ctx, "subject-1")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *ConsentServiceSuite) TestLifecycleEmitsAuditTrail() {
	s.seedPolicy("pol-1", policy.StatusActive, false)
	record, err := s.svc.Grant(s.ctx, s.grantInput("basic_profile", "extra"))
	s.Require().NoError(err)
	_, err = s.svc.Revoke(s.ctx, consent.RevokeConsentInput{
		ConsentID:      record.ID,
		ScopesToRevoke: []string{"extra"},
		CurrentVersion: record.Version,
	})
	s.Require().NoError(err)

	events, err := s.auditStore.ListBySubject(s.ctx, "subject-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.ActionConsentGranted, events[0].Action)
	s.Equal(audit.ActionConsentRevoked, events[1].Action)
	s.Equal("caller-1", events[1].ActorID)
}

// seedPolicyVersion2Active adds a second, active version of the policy group.
func (s *ConsentServiceSuite) seedPolicyVersion2Active() {
	s.Require().NoError(s.policyStore.Create(s.ctx, &policy.Policy{
		ID:              "pol-2",
		GroupID:         "privacy-policy",
		Version:         2,
		Status:          policy.StatusActive,
		EffectiveDate:   s.now,
		ContentSections: []policy.ContentSection{{Title: "Data use"}},
		AvailableScopes: []policy.ScopeDefinition{
			{Key: "basic_profile", Name: "Basic profile", Required: true},
		},
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}))
}
