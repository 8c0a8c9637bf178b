package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"healthalert/internal/directory"
	"healthalert/internal/domain"
	"healthalert/internal/escalate"
	"healthalert/internal/registry"
	"healthalert/internal/store"
	"healthalert/internal/tracker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
)

// Handler serves the alert HTTP surface.
// Params: registry, tracker, escalation engine, body limit, logger.
// Returns: chi-routed JSON API.
type Handler struct {
	registry  *registry.Registry
	tracker   *tracker.Tracker
	escalator *escalate.Engine
	maxBody   int64
	logger    *slog.Logger
}

// New builds the API handler.
// Params: registry, tracker, escalation engine, max request body bytes,
// and logger.
// Returns: initialized handler.
func New(reg *registry.Registry, trk *tracker.Tracker, esc *escalate.Engine, maxBody int64, logger *slog.Logger) *Handler {
	return &Handler{registry: reg, tracker: trk, escalator: esc, maxBody: maxBody, logger: logger}
}

// Router assembles the route table.
// Params: none.
// Returns: http handler for the alert API.
func (h *Handler) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Route("/alerts", func(r chi.Router) {
		r.Post("/", h.createAlert)
		r.Get("/", h.listAlerts)
		r.Post("/bulk", h.bulkCreate)
		r.Get("/active", h.activeAlerts)
		r.Route("/{alertID}", func(r chi.Router) {
			r.Get("/", h.getAlert)
			r.Patch("/status", h.updateStatus)
			r.Post("/acknowledge", h.acknowledge)
			r.Post("/escalate", h.escalateAlert)
		})
	})
	return router
}

// actor extracts the acting user from request headers.
func actorFrom(r *http.Request) registry.Actor {
	return registry.Actor{
		ID:   strings.TrimSpace(r.Header.Get(headerUserID)),
		Role: strings.TrimSpace(r.Header.Get(headerUserRole)),
	}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	req, err := domain.DecodeAlertRequest(body)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	alert, err := h.registry.Create(r.Context(), req, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, alert)
}

type bulkRequest struct {
	Alerts           json.RawMessage `json:"alerts"`
	InterItemDelayMS int             `json:"inter_item_delay_ms"`
	StopOnFailure    bool            `json:"stop_on_failure"`
}

func (h *Handler) bulkCreate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var bulk bulkRequest
	if err := json.Unmarshal(body, &bulk); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "malformed bulk request: "+err.Error())
		return
	}
	reqs, err := domain.DecodeAlertRequests(bulk.Alerts)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	policy := registry.BulkPolicy{
		InterItemDelay: time.Duration(bulk.InterItemDelayMS) * time.Millisecond,
		StopOnFailure:  bulk.StopOnFailure,
	}
	report, err := h.registry.BulkCreate(r.Context(), reqs, policy, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if report.Created == 0 {
		status = http.StatusBadRequest
	} else if report.Failed > 0 {
		status = http.StatusMultiStatus
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.registry.Get(r.Context(), chi.URLParam(r, "alertID"), actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

type listResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := registry.Filter{
		Type:        domain.AlertType(query.Get("type")),
		Status:      domain.Status(query.Get("status")),
		Severity:    domain.Severity(query.Get("severity")),
		RecipientID: query.Get("recipient"),
	}
	if value := query.Get("from"); value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "from must be RFC 3339")
			return
		}
		filter.CreatedFrom = &at
	}
	if value := query.Get("to"); value != "" {
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "to must be RFC 3339")
			return
		}
		filter.CreatedTo = &at
	}
	if value := query.Get("acknowledged"); value != "" {
		acked, err := strconv.ParseBool(value)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "acknowledged must be a boolean")
			return
		}
		filter.Acknowledged = &acked
	}

	page := registry.Page{Limit: 50}
	if value := query.Get("offset"); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			page.Offset = n
		}
	}
	if value := query.Get("limit"); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			page.Limit = n
		}
	}

	alerts, total, err := h.registry.List(r.Context(), filter, page, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{
		Alerts: alerts, Total: total, Offset: page.Offset, Limit: page.Limit,
	})
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "malformed status request: "+err.Error())
		return
	}
	alert, err := h.registry.Transition(r.Context(), chi.URLParam(r, "alertID"), domain.Status(req.Status), actorFrom(r), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

type ackRequest struct {
	Notes   string   `json:"notes"`
	Actions []string `json:"actions"`
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.ID == "" {
		h.writeError(w, r, http.StatusUnauthorized, "missing "+headerUserID+" header")
		return
	}
	if err := registry.Require(actor.Role, registry.CapAcknowledge); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req ackRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "malformed acknowledgment: "+err.Error())
			return
		}
	}
	alert, err := h.tracker.RecordAcknowledgment(r.Context(), chi.URLParam(r, "alertID"), actor.ID, req.Notes, req.Actions)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

type escalateRequest struct {
	Targeting     domain.TargetingSpec `json:"targeting"`
	Reason        string               `json:"reason"`
	RaisePriority bool                 `json:"raise_priority"`
}

func (h *Handler) escalateAlert(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	var req escalateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "malformed escalation request: "+err.Error())
		return
	}
	alert, err := h.escalator.Escalate(r.Context(), chi.URLParam(r, "alertID"), req.Targeting, actorFrom(r), req.Reason, req.RaisePriority)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) activeAlerts(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.ID == "" {
		h.writeError(w, r, http.StatusUnauthorized, "missing "+headerUserID+" header")
		return
	}
	alerts, err := h.registry.ActiveForUser(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{Alerts: alerts, Total: len(alerts)})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encode failed", "error", err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", message)
		message = "internal error"
	}
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps engine error kinds onto HTTP status codes so
// provider and store internals never leak to callers.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var forbidden *registry.ErrForbidden
	switch {
	case errors.As(err, &forbidden):
		h.writeError(w, r, http.StatusForbidden, forbidden.Error())
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "alert not found")
	case errors.Is(err, directory.ErrUserNotFound):
		h.writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, domain.ErrRecipientNotFound):
		h.writeError(w, r, http.StatusConflict, "user is not a recipient of this alert")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidEscalation):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidTargeting):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	case isValidationError(err):
		h.writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

// isValidationError classifies request validation failures that carry
// no sentinel, such as unknown enum values.
func isValidationError(err error) bool {
	text := err.Error()
	for _, marker := range []string{"is required", "unsupported", "at least one", "must be", "must contain"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
