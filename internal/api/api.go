// Package api exposes the attachment service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/domain"
	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/repository"
	"github.com/jbweber/homelab/uplink/internal/vpn"
)

// AttachmentService defines the service operations behind the API handlers
type AttachmentService interface {
	CreateUserAS(ctx context.Context, req attachment.NewUserAS, confs []domain.AttachmentConf) (domain.UserAS, []domain.AttachmentConf, error)
	UserAS(ctx context.Context, id int64) (domain.UserAS, error)
	UpdateUserAS(ctx context.Context, id int64, label string, installation domain.InstallationType) (domain.UserAS, error)
	DeleteUserAS(ctx context.Context, id int64) error
	IsActive(ctx context.Context, userASID int64) (bool, error)
	SetActive(ctx context.Context, userASID int64, active bool) error
	CurrentAttachments(ctx context.Context, userASID int64) ([]domain.AttachmentConf, error)
	AttachmentPoints(ctx context.Context, userASID int64, activeOnly bool) ([]domain.AttachmentPoint, error)
	Validate(ctx context.Context, installation domain.InstallationType, confs []domain.AttachmentConf) error
	UpdateAttachments(ctx context.Context, userASID int64, desired []domain.AttachmentConf, removed []int64) ([]domain.AttachmentConf, error)
	SplitBorderRouters(ctx context.Context, apID int64, maxIfaces int) (attachment.RebalanceResult, error)
}

// API holds the service behind the HTTP handlers
type API struct {
	svc         AttachmentService
	corsOrigins []string
}

// Option configures an API.
type Option func(*API)

// WithCORS allows cross-origin requests from the given origins.
func WithCORS(origins ...string) Option {
	return func(a *API) {
		a.corsOrigins = origins
	}
}

// NewAPI creates a new API instance
func NewAPI(svc AttachmentService, opts ...Option) *API {
	a := &API{svc: svc}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(a.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: a.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	userASes := NewUserASes(a.svc)
	r.Route("/api/v0/useras", func(r chi.Router) {
		r.Post("/", userASes.CreateUserASHandler)
		r.Get("/{id}", userASes.GetUserASHandler)
		r.Patch("/{id}", userASes.UpdateUserASHandler)
		r.Delete("/{id}", userASes.DeleteUserASHandler)
		r.Get("/{id}/attachments", userASes.ListAttachmentsHandler)
		r.Put("/{id}/attachments", userASes.UpdateAttachmentsHandler)
		r.Get("/{id}/attachment-points", userASes.ListAttachmentPointsHandler)
		r.Post("/{id}/activate", userASes.SetActiveHandler(true))
		r.Post("/{id}/deactivate", userASes.SetActiveHandler(false))
	})

	aps := NewAttachmentPoints(a.svc)
	r.Route("/api/v0/attachment-points", func(r chi.Router) {
		r.Post("/{id}/split-border-routers", aps.SplitBorderRoutersHandler)
	})

	r.Handle("/metrics", promhttp.Handler())
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnf("failed to encode response: %v", err)
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Error: err.Error()}
	var verr *attachment.ValidationError
	if errors.As(err, &verr) {
		resp.Error = attachment.ErrInvalidAttachment.Error()
		resp.Details = verr.Errors
	}
	if status == http.StatusInternalServerError {
		logging.WithField("request_id", middleware.GetReqID(r.Context())).Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attachment.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, attachment.ErrInvalidAttachment),
		errors.Is(err, attachment.ErrISDConsistency),
		errors.Is(err, attachment.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrInvalidEntity):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, datastore.ErrConcurrentModification),
		errors.Is(err, datastore.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, asid.ErrRangeExhausted), errors.Is(err, vpn.ErrSubnetExhausted):
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid ID")
		return 0, false
	}
	return id, true
}
