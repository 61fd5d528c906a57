// Package service implements the policy version manager: creation of policy
// versions and governance of their status transitions.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"consentd/internal/audit"
	"consentd/internal/policy"
	"consentd/internal/policy/metrics"
	dErrors "consentd/pkg/domain-errors"
	"consentd/pkg/platform/sentinel"
	"consentd/pkg/requestcontext"
)

// Cache is the optional read cache for the latest-active-policy lookup.
type Cache interface {
	GetLatestActive(ctx context.Context, groupID string) (*policy.Policy, bool, error)
	SetLatestActive(ctx context.Context, p *policy.Policy) error
	Invalidate(ctx context.Context, groupID string) error
}

// AuditPublisher records lifecycle events for the compliance trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service governs creation and status transitions of policy versions. It owns
// no state beyond its collaborators; consistency across concurrent callers is
// delegated to the store's conditional writes.
type Service struct {
	store   policy.Store
	cache   Cache
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

func WithAuditPublisher(auditor AuditPublisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store policy.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("consentd/policy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates the input, assigns the next version number within the
// group, and persists a new policy version. Two creators racing the same
// version slot are arbitrated by the store's uniqueness guarantee: the loser
// fails with a concurrency conflict and may retry.
func (s *Service) Create(ctx context.Context, input policy.CreatePolicyInput) (*policy.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "PolicyService.Create",
		trace.WithAttributes(attribute.String("policy.group_id", input.GroupID)))
	defer span.End()

	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	versions, err := s.store.FindAllVersionsByGroup(ctx, input.GroupID)
	if err != nil {
		return nil, s.mapStoreErr(err, "policy group "+input.GroupID)
	}

	next := 1
	for _, v := range versions {
		if v.Version >= next {
			next = v.Version + 1
		}
		if input.Status == policy.StatusActive && v.Status == policy.StatusActive {
			return nil, dErrors.New(dErrors.CodeInvalidStateTransition,
				fmt.Sprintf("policy group %s already has an active version; promote via a status update instead", input.GroupID))
		}
	}

	now := requestcontext.Now(ctx)
	p := &policy.Policy{
		ID:                     uuid.NewString(),
		GroupID:                input.GroupID,
		Version:                next,
		Status:                 input.Status,
		EffectiveDate:          input.EffectiveDate,
		RequiresProxyForMinors: input.RequiresProxyForMinors,
		ContentSections:        input.ContentSections,
		AvailableScopes:        input.AvailableScopes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, s.mapStoreErr(err, "policy "+p.ID)
	}

	s.metrics.IncVersionsCreated()
	s.invalidateCache(ctx, p.GroupID)
	s.emit(ctx, audit.Event{
		Action:   audit.ActionPolicyCreated,
		ActorID:  requestcontext.UserID(ctx),
		PolicyID: p.ID,
		Detail:   fmt.Sprintf("group %s version %d (%s)", p.GroupID, p.Version, p.Status),
	})
	return p, nil
}

// UpdateStatus transitions a policy version's status. The expected version is
// the optimistic concurrency token; the store applies the transition check and
// archive-on-promote atomically, so the pre-read here only improves error
// messages and never substitutes for the conditional write.
func (s *Service) UpdateStatus(ctx context.Context, input policy.UpdatePolicyStatusInput) (*policy.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "PolicyService.UpdateStatus",
		trace.WithAttributes(
			attribute.String("policy.id", input.PolicyID),
			attribute.String("policy.status", string(input.Status)),
		))
	defer span.End()

	if input.PolicyID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "policy id is required")
	}
	if !input.Status.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown policy status: "+string(input.Status))
	}
	if input.ExpectedVersion < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "expected version must be a positive integer")
	}

	current, err := s.store.FindByID(ctx, input.PolicyID)
	if err != nil {
		return nil, s.mapStoreErr(err, "policy "+input.PolicyID)
	}
	if !current.Status.CanTransitionTo(input.Status) {
		return nil, dErrors.New(dErrors.CodeInvalidStateTransition,
			fmt.Sprintf("policy %s cannot transition from %s to %s", input.PolicyID, current.Status, input.Status))
	}

	updated, err := s.store.UpdateStatus(ctx, input.PolicyID, input.Status, input.ExpectedVersion)
	if err != nil {
		return nil, s.mapStoreErr(err, "policy "+input.PolicyID)
	}

	s.metrics.IncStatusTransition(string(input.Status))
	s.invalidateCache(ctx, updated.GroupID)

	action := audit.ActionPolicyArchived
	if input.Status == policy.StatusActive {
		action = audit.ActionPolicyActivated
	}
	s.emit(ctx, audit.Event{
		Action:   action,
		ActorID:  requestcontext.UserID(ctx),
		PolicyID: updated.ID,
		Detail:   fmt.Sprintf("group %s version %d now %s", updated.GroupID, updated.Version, updated.Status),
	})
	return updated, nil
}

// GetByID is a pure read: (nil, nil) when absent.
func (s *Service) GetByID(ctx context.Context, id string) (*policy.Policy, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, s.mapStoreErr(err, "policy "+id)
	}
	return p, nil
}

// FindLatestActiveByGroup resolves the currently active version for a group:
// (nil, nil) when none is active. If a misbehaving adapter ever yields more
// than one active version, the highest version wins deterministically and the
// inconsistency is reported rather than silently accepted.
func (s *Service) FindLatestActiveByGroup(ctx context.Context, groupID string) (*policy.Policy, error) {
	ctx, span := s.tracer.Start(ctx, "PolicyService.FindLatestActiveByGroup",
		trace.WithAttributes(attribute.String("policy.group_id", groupID)))
	defer span.End()

	if s.cache != nil {
		cached, hit, err := s.cache.GetLatestActive(ctx, groupID)
		if err != nil {
			s.logger.WarnContext(ctx, "policy cache read failed", "group_id", groupID, "error", err.Error())
		} else if hit {
			s.metrics.IncCacheHits()
			return cached, nil
		}
		s.metrics.IncCacheMisses()
	}

	versions, err := s.store.FindAllVersionsByGroup(ctx, groupID)
	if err != nil {
		return nil, s.mapStoreErr(err, "policy group "+groupID)
	}

	var active *policy.Policy
	activeCount := 0
	for _, v := range versions {
		if v.Status != policy.StatusActive {
			continue
		}
		activeCount++
		if active == nil || v.Version > active.Version {
			active = v
		}
	}
	if activeCount > 1 {
		s.metrics.IncActiveInvariantBreaches()
		s.logger.ErrorContext(ctx, "policy group has multiple active versions",
			"group_id", groupID,
			"active_count", activeCount,
			"resolved_version", active.Version,
		)
	}
	if active == nil {
		return nil, nil
	}

	if s.cache != nil {
		if err := s.cache.SetLatestActive(ctx, active); err != nil {
			s.logger.WarnContext(ctx, "policy cache write failed", "group_id", groupID, "error", err.Error())
		}
	}
	return active, nil
}

// FindAllVersionsByGroup is a pure read: empty slice when the group is unknown.
func (s *Service) FindAllVersionsByGroup(ctx context.Context, groupID string) ([]*policy.Policy, error) {
	versions, err := s.store.FindAllVersionsByGroup(ctx, groupID)
	if err != nil {
		return nil, s.mapStoreErr(err, "policy group "+groupID)
	}
	return versions, nil
}

// List is a pure read over every stored policy version.
func (s *Service) List(ctx context.Context) ([]*policy.Policy, error) {
	policies, err := s.store.List(ctx)
	if err != nil {
		return nil, s.mapStoreErr(err, "policies")
	}
	return policies, nil
}

func (s *Service) invalidateCache(ctx context.Context, groupID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, groupID); err != nil {
		s.logger.WarnContext(ctx, "policy cache invalidation failed", "group_id", groupID, "error", err.Error())
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}

func validateCreateInput(input policy.CreatePolicyInput) error {
	if input.GroupID == "" {
		return dErrors.New(dErrors.CodeValidation, "policy group id is required")
	}
	if !input.Status.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown policy status: "+string(input.Status))
	}
	if input.EffectiveDate.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "effective date is required")
	}
	if len(input.ContentSections) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one content section is required")
	}
	if len(input.AvailableScopes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one available scope is required")
	}
	seen := make(map[string]bool, len(input.AvailableScopes))
	for _, scope := range input.AvailableScopes {
		if scope.Key == "" {
			return dErrors.New(dErrors.CodeValidation, "scope key must not be empty")
		}
		if seen[scope.Key] {
			return dErrors.New(dErrors.CodeValidation, "duplicate scope key: "+scope.Key)
		}
		seen[scope.Key] = true
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && (dErrors.HasCode(err, dErrors.CodeNotFound) || errors.Is(err, sentinel.ErrNotFound))
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
		return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, entity+": concurrent write claimed this version, retry")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidStateTransition, entity+": status no longer permits this transition")
	default:
		return dErrors.Wrap(err, dErrors.CodeAdapterFailure, entity+": policy store failure")
	}
}
