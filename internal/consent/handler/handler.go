// Package handler exposes the consent lifecycle manager over HTTP. Handlers
// stay thin: decode, delegate, translate errors.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"consentd/internal/audit"
	"consentd/internal/consent"
	"consentd/internal/platform/middleware"
	dErrors "consentd/pkg/domain-errors"
	"consentd/pkg/platform/httputil"
	"consentd/pkg/requestcontext"
)

// Service defines the interface for consent operations.
type Service interface {
	Grant(ctx context.Context, input consent.GrantConsentInput) (*consent.ConsentRecord, error)
	Revoke(ctx context.Context, input consent.RevokeConsentInput) (*consent.ConsentRecord, error)
	Supersede(ctx context.Context, input consent.SupersedeConsentInput) (*consent.SupersedeResult, error)
	GetByID(ctx context.Context, id string) (*consent.ConsentRecord, error)
	FindActiveBySubject(ctx context.Context, subjectID string) ([]*consent.ConsentRecord, error)
	FindByProxyID(ctx context.Context, proxyUserID string) ([]*consent.ConsentRecord, error)
}

// AuditLog is the read model for the compliance trail.
type AuditLog interface {
	ListBySubject(ctx context.Context, subjectID string) ([]audit.Event, error)
}

// Handler handles consent endpoints.
type Handler struct {
	logger       *slog.Logger
	consents     Service
	auditLog     AuditLog
	jwtValidator middleware.JWTValidator
}

func New(consents Service, auditLog AuditLog, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		consents:     consents,
		auditLog:     auditLog,
		jwtValidator: jwtValidator,
	}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.RequestTime)
		router.Use(middleware.ClientMetadata)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Metrics)
		router.Use(middleware.Timeout(30 * time.Second))
		router.Use(middleware.ContentTypeJSON)
		router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		router.Post("/consents", h.handleGrant)
		router.Get("/consents/{consentID}", h.handleGet)
		router.Post("/consents/{consentID}/revoke", h.handleRevoke)
		router.Post("/consents/{consentID}/supersede", h.handleSupersede)
		router.Get("/subjects/{subjectID}/consents", h.handleListBySubject)
		router.Get("/proxies/{proxyID}/consents", h.handleListByProxy)
		if h.auditLog != nil {
			router.Get("/subjects/{subjectID}/audit-events", h.handleAuditBySubject)
		}
	})
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input consent.GrantConsentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.warn(ctx, "invalid grant request", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	fillMetadataFromContext(ctx, &input.Metadata)

	record, err := h.consents.Grant(ctx, input)
	if err != nil {
		h.warn(ctx, "grant consent failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input consent.RevokeConsentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.warn(ctx, "invalid revoke request", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	input.ConsentID = chi.URLParam(r, "consentID")

	record, err := h.consents.Revoke(ctx, input)
	if err != nil {
		h.warn(ctx, "revoke consent failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleSupersede(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input consent.SupersedeConsentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.warn(ctx, "invalid supersede request", err)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	input.ConsentID = chi.URLParam(r, "consentID")
	fillMetadataFromContext(ctx, &input.NewGrant.Metadata)

	result, err := h.consents.Supersede(ctx, input)
	if err != nil {
		h.warn(ctx, "supersede consent failed", err)
		// A partial supersede already committed the revoke half; the body
		// carries the durable record so the caller retries only the grant.
		var partial *consent.PartialSupersedeError
		if errors.As(err, &partial) {
			httputil.WriteJSON(w, http.StatusMultiStatus, map[string]any{
				"error":             string(dErrors.CodePartialSupersede),
				"error_description": partial.Error(),
				"superseded":        partial.Superseded,
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consentID := chi.URLParam(r, "consentID")

	record, err := h.consents.GetByID(ctx, consentID)
	if err != nil {
		h.warn(ctx, "get consent failed", err)
		httputil.WriteError(w, err)
		return
	}
	if record == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "consent "+consentID+" not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) handleListBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "subjectID")

	records, err := h.consents.FindActiveBySubject(ctx, subjectID)
	if err != nil {
		h.warn(ctx, "list consents by subject failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": records})
}

func (h *Handler) handleListByProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	proxyID := chi.URLParam(r, "proxyID")

	records, err := h.consents.FindByProxyID(ctx, proxyID)
	if err != nil {
		h.warn(ctx, "list consents by proxy failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": records})
}

func (h *Handler) handleAuditBySubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "subjectID")

	events, err := h.auditLog.ListBySubject(ctx, subjectID)
	if err != nil {
		h.warn(ctx, "list audit events failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// fillMetadataFromContext stamps client provenance captured by the middleware
// onto the grant when the caller did not supply it.
func fillMetadataFromContext(ctx context.Context, m *consent.Metadata) {
	if m.IPAddress == "" {
		m.IPAddress = requestcontext.ClientIP(ctx)
	}
	if m.UserAgent == "" {
		m.UserAgent = requestcontext.UserAgent(ctx)
	}
}

func (h *Handler) warn(ctx context.Context, msg string, err error) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
}
