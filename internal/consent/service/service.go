// Package service implements the consent lifecycle manager: granting,
// revoking, and superseding consent records against versioned policies.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"consentd/internal/audit"
	"consentd/internal/consent"
	"consentd/internal/consent/metrics"
	"consentd/internal/policy"
	dErrors "consentd/pkg/domain-errors"
	"consentd/pkg/platform/sentinel"
	"consentd/pkg/requestcontext"
)

// PolicyReader resolves the policy a grant references. (nil, nil) means the
// policy does not exist.
type PolicyReader interface {
	GetByID(ctx context.Context, id string) (*policy.Policy, error)
}

// AuditPublisher records lifecycle events for the compliance trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service governs the consent record lifecycle. It owns no state beyond its
// collaborators; concurrent mutations are arbitrated by the store's
// version-conditional write.
type Service struct {
	store    consent.Store
	policies PolicyReader
	auditor  AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store consent.Store, policies PolicyReader, opts ...Option) *Service {
	s := &Service{
		store:    store,
		policies: policies,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("consentd/consent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grant validates the request against the referenced policy and persists a
// new consent record at version 1. The policy must be active; every requested
// scope must exist on it; every scope the policy marks required must be
// requested; and when the policy requires proxy consent for minors, a proxy
// consenter must declare an under-18 subject.
func (s *Service) Grant(ctx context.Context, input consent.GrantConsentInput) (*consent.ConsentRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ConsentService.Grant",
		trace.WithAttributes(
			attribute.String("consent.subject_id", input.SubjectID),
			attribute.String("consent.policy_id", input.PolicyID),
		))
	defer span.End()

	if err := validateGrantInput(input); err != nil {
		return nil, err
	}

	p, err := s.policies.GetByID(ctx, input.PolicyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "policy "+input.PolicyID+" not found")
	}
	if p.Status != policy.StatusActive {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition,
			fmt.Sprintf("policy %s is %s; consent may only be granted against an active policy", p.ID, p.Status))
	}

	if err := validateScopesAgainstPolicy(input.GrantedScopes, p); err != nil {
		return nil, err
	}
	if err := validateProxyRules(input.Consenter, p); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	granted := make(map[string]consent.ScopeGrant, len(input.GrantedScopes))
	for _, key := range input.GrantedScopes {
		granted[key] = consent.ScopeGrant{GrantedAt: now}
	}

	record := &consent.ConsentRecord{
		ID:            uuid.NewString(),
		Version:       1,
		SubjectID:     input.SubjectID,
		PolicyID:      p.ID,
		Status:        consent.StatusGranted,
		Consenter:     input.Consenter,
		GrantedScopes: granted,
		RevokedScopes: make(map[string]consent.ScopeRevocation),
		Metadata:      input.Metadata,
		ConsentedAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, s.mapStoreErr(err, "consent "+record.ID)
	}

	s.metrics.IncGrants()
	s.emit(ctx, audit.Event{
		Action:    audit.ActionConsentGranted,
		SubjectID: record.SubjectID,
		ActorID:   requestcontext.UserID(ctx),
		PolicyID:  record.PolicyID,
		ConsentID: record.ID,
		Detail:    "scopes " + strings.Join(record.GrantedScopeKeys(), ","),
	})
	return record, nil
}

// Revoke withdraws named scopes, or the whole record when no scopes are
// named. Revoking everything that remains granted is a full revocation:
// status becomes revoked and revokedAt is set. The caller's version token is
// enforced by the store, so two revokers racing the same version see exactly
// one winner.
func (s *Service) Revoke(ctx context.Context, input consent.RevokeConsentInput) (*consent.ConsentRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ConsentService.Revoke",
		trace.WithAttributes(attribute.String("consent.id", input.ConsentID)))
	defer span.End()

	if input.ConsentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "consent id is required")
	}
	if input.CurrentVersion < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "current version must be a positive integer")
	}

	current, err := s.store.FindByID(ctx, input.ConsentID)
	if err != nil {
		return nil, s.mapStoreErr(err, "consent "+input.ConsentID)
	}
	if current.Terminal() {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition,
			fmt.Sprintf("consent %s is %s and cannot be revoked", current.ID, current.Status))
	}

	now := requestcontext.Now(ctx)
	update, full, err := buildRevocation(current, input.ScopesToRevoke, consent.StatusRevoked, now)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, input.ConsentID, update, input.CurrentVersion)
	if err != nil {
		return nil, s.mapStoreErr(err, "consent "+input.ConsentID)
	}

	kind := "partial"
	if full {
		kind = "full"
	}
	s.metrics.IncRevocations(kind)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionConsentRevoked,
		SubjectID: updated.SubjectID,
		ActorID:   requestcontext.UserID(ctx),
		PolicyID:  updated.PolicyID,
		ConsentID: updated.ID,
		Detail:    kind + " revocation",
	})
	return updated, nil
}

// Supersede replaces an existing consent with a new grant, typically against
// a newer policy version. Phase one marks the prior record superseded with
// the same mechanics as a full revocation; phase two grants the replacement.
// If the grant fails after the supersede committed, the result is a
// PartialSupersedeError carrying the durable superseded record, so the caller
// retries the grant without re-revoking.
func (s *Service) Supersede(ctx context.Context, input consent.SupersedeConsentInput) (*consent.SupersedeResult, error) {
	ctx, span := s.tracer.Start(ctx, "ConsentService.Supersede",
		trace.WithAttributes(attribute.String("consent.id", input.ConsentID)))
	defer span.End()

	if input.ConsentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "consent id is required")
	}
	if input.CurrentVersion < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "current version must be a positive integer")
	}

	current, err := s.store.FindByID(ctx, input.ConsentID)
	if err != nil {
		return nil, s.mapStoreErr(err, "consent "+input.ConsentID)
	}
	if current.Terminal() {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition,
			fmt.Sprintf("consent %s is %s and cannot be superseded", current.ID, current.Status))
	}

	now := requestcontext.Now(ctx)
	update, _, err := buildRevocation(current, nil, consent.StatusSuperseded, now)
	if err != nil {
		return nil, err
	}

	superseded, err := s.store.Update(ctx, input.ConsentID, update, input.CurrentVersion)
	if err != nil {
		return nil, s.mapStoreErr(err, "consent "+input.ConsentID)
	}
	s.emit(ctx, audit.Event{
		Action:    audit.ActionConsentSuperseded,
		SubjectID: superseded.SubjectID,
		ActorID:   requestcontext.UserID(ctx),
		PolicyID:  superseded.PolicyID,
		ConsentID: superseded.ID,
	})

	granted, err := s.Grant(ctx, input.NewGrant)
	if err != nil {
		s.metrics.IncPartialSupersedes()
		s.logger.ErrorContext(ctx, "supersede left a revoked record without a replacement",
			"consent_id", superseded.ID,
			"subject_id", superseded.SubjectID,
			"error", err.Error(),
		)
		s.emit(ctx, audit.Event{
			Action:    audit.ActionSupersedePartial,
			SubjectID: superseded.SubjectID,
			ActorID:   requestcontext.UserID(ctx),
			PolicyID:  input.NewGrant.PolicyID,
			ConsentID: superseded.ID,
			Detail:    "replacement grant failed: " + err.Error(),
		})
		// Wrap would inherit the grant failure's code; the partial outcome
		// must stay distinguishable, so the code is set explicitly.
		return nil, &dErrors.Error{
			Code:    dErrors.CodePartialSupersede,
			Message: "consent " + superseded.ID + " superseded but replacement grant failed",
			Err:     &consent.PartialSupersedeError{Superseded: superseded, GrantErr: err},
		}
	}

	s.metrics.IncSupersedes()
	return &consent.SupersedeResult{Superseded: superseded, Granted: granted}, nil
}

// GetByID is a pure read: (nil, nil) when absent.
func (s *Service) GetByID(ctx context.Context, id string) (*consent.ConsentRecord, error) {
	record, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, s.mapStoreErr(err, "consent "+id)
	}
	return record, nil
}

// FindActiveBySubject lists the subject's records still in status granted.
func (s *Service) FindActiveBySubject(ctx context.Context, subjectID string) ([]*consent.ConsentRecord, error) {
	records, err := s.store.FindActiveBySubject(ctx, subjectID)
	if err != nil {
		return nil, s.mapStoreErr(err, "consents for subject "+subjectID)
	}
	return records, nil
}

// FindByProxyID lists records where the given user consented as a proxy.
func (s *Service) FindByProxyID(ctx context.Context, proxyUserID string) ([]*consent.ConsentRecord, error) {
	records, err := s.store.FindByProxyID(ctx, proxyUserID)
	if err != nil {
		return nil, s.mapStoreErr(err, "consents for proxy "+proxyUserID)
	}
	return records, nil
}

// buildRevocation computes the conditional-write delta that moves the named
// scopes (all currently granted scopes when names is empty) from granted to
// revoked. Reports whether the revocation empties the granted set; terminal
// status and revokedAt apply only then.
func buildRevocation(current *consent.ConsentRecord, names []string, terminal consent.Status, now time.Time) (consent.Update, bool, error) {
	targets := names
	if len(targets) == 0 {
		targets = current.GrantedScopeKeys()
	}

	var unknown []string
	for _, key := range targets {
		if _, ok := current.GrantedScopes[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return consent.Update{}, false, dErrors.New(dErrors.CodeValidation,
			"scopes not currently granted: "+strings.Join(unknown, ", "))
	}

	granted := make(map[string]consent.ScopeGrant, len(current.GrantedScopes))
	for k, v := range current.GrantedScopes {
		granted[k] = v
	}
	revoked := make(map[string]consent.ScopeRevocation, len(current.RevokedScopes)+len(targets))
	for k, v := range current.RevokedScopes {
		revoked[k] = v
	}
	for _, key := range targets {
		delete(granted, key)
		revoked[key] = consent.ScopeRevocation{RevokedAt: now}
	}

	update := consent.Update{
		Status:        current.Status,
		GrantedScopes: granted,
		RevokedScopes: revoked,
		UpdatedAt:     now,
	}
	full := len(granted) == 0
	if full {
		update.Status = terminal
		if current.RevokedAt == nil {
			t := now
			update.RevokedAt = &t
		}
	}
	return update, full, nil
}

func validateGrantInput(input consent.GrantConsentInput) error {
	if input.SubjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject id is required")
	}
	if input.PolicyID == "" {
		return dErrors.New(dErrors.CodeValidation, "policy id is required")
	}
	if len(input.GrantedScopes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one granted scope is required")
	}
	if input.Consenter.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "consenter user id is required")
	}
	switch input.Consenter.Type {
	case consent.ConsenterSelf:
		if input.Consenter.ProxyDetails != nil {
			return dErrors.New(dErrors.CodeValidation, "proxy details are only valid for a proxy consenter")
		}
	case consent.ConsenterProxy:
		if input.Consenter.ProxyDetails == nil {
			return dErrors.New(dErrors.CodeValidation, "proxy consenter requires proxy details")
		}
		if input.Consenter.ProxyDetails.Relationship == "" {
			return dErrors.New(dErrors.CodeValidation, "proxy relationship is required")
		}
		if !input.Consenter.ProxyDetails.SubjectAgeGroup.Valid() {
			return dErrors.New(dErrors.CodeValidation,
				"unknown subject age group: "+string(input.Consenter.ProxyDetails.SubjectAgeGroup))
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown consenter type: "+string(input.Consenter.Type))
	}
	return nil
}

func validateScopesAgainstPolicy(requested []string, p *policy.Policy) error {
	var unknown []string
	seen := make(map[string]bool, len(requested))
	for _, key := range requested {
		if seen[key] {
			return dErrors.New(dErrors.CodeValidation, "duplicate scope key: "+key)
		}
		seen[key] = true
		if _, ok := p.Scope(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return dErrors.New(dErrors.CodeValidation,
			"scopes not defined by policy "+p.ID+": "+strings.Join(unknown, ", "))
	}

	var missing []string
	for _, key := range p.RequiredScopeKeys() {
		if !seen[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return dErrors.New(dErrors.CodeValidation,
			"required scopes missing: "+strings.Join(missing, ", "))
	}
	return nil
}

// validateProxyRules enforces the minor-consent constraint: when the policy
// requires proxy consent for minors, a proxy consenter must declare a subject
// under 18.
func validateProxyRules(consenter consent.Consenter, p *policy.Policy) error {
	if !p.RequiresProxyForMinors || consenter.Type != consent.ConsenterProxy {
		return nil
	}
	age := consenter.ProxyDetails.SubjectAgeGroup
	if age == consent.AgeGroupAdult {
		return dErrors.New(dErrors.CodeValidation,
			"proxy consent is not permitted for an adult subject under this policy")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}

func (s *Service) mapStoreErr(err error, entity string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	case errors.Is(err, sentinel.ErrVersionConflict):
		s.metrics.IncConcurrencyConflicts()
		return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, entity+": version mismatch, re-read and retry")
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncConcurrencyConflicts()
		return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, entity+": concurrent write conflict, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeAdapterFailure, entity+": consent store failure")
	}
}
