// Package handler exposes the policy version manager over HTTP. Handlers stay
// thin: decode, delegate, translate errors.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consentd/internal/platform/middleware"
	"consentd/internal/policy"
	dErrors "consentd/pkg/domain-errors"
	"consentd/pkg/platform/httputil"
	"consentd/pkg/requestcontext"
)

// Service defines the interface for policy operations.
type Service interface {
	Create(ctx context.Context, input policy.CreatePolicyInput) (*policy.Policy, error)
	UpdateStatus(ctx context.Context, input policy.UpdatePolicyStatusInput) (*policy.Policy, error)
	GetByID(ctx context.Context, id string) (*policy.Policy, error)
	FindLatestActiveByGroup(ctx context.Context, groupID string) (*policy.Policy, error)
	FindAllVersionsByGroup(ctx context.Context, groupID string) ([]*policy.Policy, error)
	List(ctx context.Context) ([]*policy.Policy, error)
}

// Handler handles policy endpoints.
type Handler struct {
	logger       *slog.Logger
	policies     Service
	jwtValidator middleware.JWTValidator
}

func New(policies Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		policies:     policies,
		jwtValidator: jwtValidator,
	}
}

// Register registers the policy routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.RequestTime)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Metrics)
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		router.Post("/policies", h.handleCreatePolicy)
		router.Get("/policies", h.handleListPolicies)
		router.Get("/policies/{policyID}", h.handleGetPolicy)
		router.Post("/policies/{policyID}/status", h.handleUpdateStatus)
		router.Get("/policy-groups/{groupID}/versions", h.handleGroupVersions)
		router.Get("/policy-groups/{groupID}/active", h.handleGroupActive)
	})
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input policy.CreatePolicyInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.warn(ctx, "invalid create policy request", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	created, err := h.policies.Create(ctx, input)
	if err != nil {
		h.warn(ctx, "create policy failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input policy.UpdatePolicyStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.warn(ctx, "invalid update status request", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	input.PolicyID = chi.URLParam(r, "policyID")

	updated, err := h.policies.UpdateStatus(ctx, input)
	if err != nil {
		h.warn(ctx, "update policy status failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "policyID")

	p, err := h.policies.GetByID(ctx, policyID)
	if err != nil {
		h.warn(ctx, "get policy failed", err)
		httputil.WriteError(w, err)
		return
	}
	if p == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "policy "+policyID+" not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	policies, err := h.policies.List(ctx)
	if err != nil {
		h.warn(ctx, "list policies failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) handleGroupVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := chi.URLParam(r, "groupID")

	versions, err := h.policies.FindAllVersionsByGroup(ctx, groupID)
	if err != nil {
		h.warn(ctx, "list group versions failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *Handler) handleGroupActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := chi.URLParam(r, "groupID")

	active, err := h.policies.FindLatestActiveByGroup(ctx, groupID)
	if err != nil {
		h.warn(ctx, "resolve active policy failed", err)
		httputil.WriteError(w, err)
		return
	}
	if active == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no active policy for group "+groupID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, active)
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
}
