// Package api exposes HTTP handlers for the time-tracking service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/timetracking/internal/auth"
	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/enforcement"
	"example.com/timetracking/internal/persistence"
)

// SweepSecretHeader carries the shared secret for the sweep trigger.
const SweepSecretHeader = "X-Sweep-Secret"

const maxBodyBytes = 64 << 10

// SweepRunner runs one reconciliation sweep.
type SweepRunner interface {
	Run(ctx context.Context) (enforcement.Summary, error)
}

// Option configures optional behaviour for the Handler.
type Option func(*Handler)

// WithSweeps exposes POST /v1/internal/sweeps, guarded by secret. Without it, or with an empty
// secret, the route answers 404.
func WithSweeps(runner SweepRunner, secret string) Option {
	return func(h *Handler) {
		h.sweeper = runner
		h.sweepSecret = secret
	}
}

// WithLogger overrides the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service     *domain.Service
	sweeper     SweepRunner
	sweepSecret string
	logger      *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service, logger: slog.Default().With("component", "api")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the request/response timer endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/timers", h.startTimer)
	r.Get("/v1/timers/active", h.activeTimer)
	r.Put("/v1/timers/active", h.changeTimer)
	r.Get("/v1/time-entries", h.listEntries)
}

// InternalRoutes mounts the operator endpoints. A sweep runs as long as its timers need, so these
// must not sit behind the per-request timeout.
func (h *Handler) InternalRoutes(r chi.Router) {
	r.Post("/v1/internal/sweeps", h.runSweep)
}

func (h *Handler) startTimer(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r, auth.CanWrite, auth.ScopeTimersWrite)
	if !ok {
		return
	}

	var req StartTimerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	timer, err := h.service.Start(r.Context(), domain.StartTimerInput{
		UserID:         claims.Subject,
		OrganizationID: claims.TenantID,
		ProjectID:      strings.TrimSpace(req.ProjectID),
		TaskID:         strings.TrimSpace(req.TaskID),
		Description:    req.Description,
		Category:       req.Category,
		Tags:           req.Tags,
		IsBillable:     req.IsBillable,
		HourlyRate:     req.HourlyRate,
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			payload := ConflictResponse{Type: "conflict", Detail: "an active timer already exists"}
			if conflict.Existing != nil {
				view := toTimerView(*conflict.Existing, h.service.Now())
				payload.Timer = &view
			}
			writeJSON(w, http.StatusConflict, payload)
			return
		}
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTimerView(*timer, h.service.Now()))
}

func (h *Handler) activeTimer(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r, auth.CanRead, auth.ScopeTimersRead)
	if !ok {
		return
	}

	timer, err := h.service.Active(r.Context(), claims.TenantID, claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ActiveTimerResponse{}
	if timer != nil {
		now := h.service.Now()
		view := toTimerView(*timer, now)
		resp.Timer = &view
		resp.ElapsedMinutes = view.ElapsedMinutes
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) changeTimer(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r, auth.CanWrite, auth.ScopeTimersWrite)
	if !ok {
		return
	}

	var req ChangeTimerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "action must be one of pause, resume, update, stop")
		return
	}

	ctx := r.Context()
	org, user := claims.TenantID, claims.Subject

	var timer *domain.ActiveTimer
	switch action {
	case domain.ActionPause:
		timer, err = h.service.Pause(ctx, org, user)
	case domain.ActionResume:
		timer, err = h.service.Resume(ctx, org, user)
	case domain.ActionUpdate:
		timer, err = h.service.Update(ctx, org, user, req.patch())
	case domain.ActionStop:
		result, stopErr := h.service.Stop(ctx, org, user)
		if stopErr != nil {
			h.writeDomainError(w, stopErr)
			return
		}
		resp := StopResponse{AlreadyStopped: result.AlreadyStopped}
		if result.Entry != nil {
			view := toEntryView(*result.Entry)
			resp.Entry = &view
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerView(*timer, h.service.Now()))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r, auth.CanRead, auth.ScopeTimersRead)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.service.ListEntries(r.Context(), claims.TenantID, claims.Subject, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := ListEntriesResponse{
		Items:      make([]TimeEntryView, 0, len(entries)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, entry := range entries {
		resp.Items = append(resp.Items, toEntryView(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil || h.sweepSecret == "" {
		writeError(w, http.StatusNotFound, "not_found", "sweep trigger is disabled")
		return
	}
	presented := r.Header.Get(SweepSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.sweepSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid sweep secret")
		return
	}

	// Lift the server write deadline; a sweep is bounded by its per-timer timeouts instead.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	summary, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.logger.Error("sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, toSweepView(summary))
}

// requireClaims answers 401 or 403 itself and reports whether the caller may proceed.
func requireClaims(w http.ResponseWriter, r *http.Request, allowed func(*auth.Claims) bool, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !allowed(claims) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var invalid *domain.InvalidStateError
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "timer changed concurrently, retry the request")
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
