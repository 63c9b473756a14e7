package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"strings"

	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/queue"
	"clinic/queue-service/internal/store"
)

// QueueService is the queue as seen by the HTTP layer.
type QueueService interface {
	Join(ctx context.Context, patientID string) (models.Ticket, error)
	CallNext(ctx context.Context) (models.Ticket, bool, error)
	MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	Position(ctx context.Context, ticketID string) (queue.Position, error)
	Reset(ctx context.Context) (int64, error)
	List(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error)
	Stats(ctx context.Context, day *models.DayWindow) (models.QueueStats, error)
	ParseDay(value string) (models.DayWindow, error)
}

type Handler struct {
	queue QueueService
}

type joinQueueRequest struct {
	PatientID string `json:"patient_id"`
}

type joinQueueResponse struct {
	Message      string        `json:"message"`
	TokenDetails models.Ticket `json:"token_details"`
}

type callNextResponse struct {
	Message     string         `json:"message"`
	QueueEmpty  bool           `json:"queue_empty,omitempty"`
	CalledToken *models.Ticket `json:"called_token,omitempty"`
}

type markServedResponse struct {
	Message       string        `json:"message"`
	AlreadyServed bool          `json:"already_served"`
	ServedToken   models.Ticket `json:"served_token"`
}

type positionResponse struct {
	Message     string `json:"message,omitempty"`
	Served      bool   `json:"served,omitempty"`
	TokenNumber int    `json:"token_number,omitempty"`
	PeopleAhead *int   `json:"people_ahead,omitempty"`
	Called      bool   `json:"called,omitempty"`
}

type resetResponse struct {
	Message      string `json:"message"`
	DeletedCount int64  `json:"deleted_count"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(q QueueService) *Handler {
	return &Handler{queue: q}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/queues", h.handleQueues)
	mux.HandleFunc("/queues/", h.handleQueues)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleQueues dispatches /queues/... with or without a trailing slash.
func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/queues"), "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}

	switch len(parts) {
	case 0:
		h.allow(w, r, http.MethodGet, h.handleList)
		return
	case 1:
		switch parts[0] {
		case "join_queue":
			h.allow(w, r, http.MethodPost, h.handleJoin)
			return
		case "call_next":
			h.allow(w, r, http.MethodPost, h.handleCallNext)
			return
		case "reset_queue":
			h.allow(w, r, http.MethodPost, h.handleReset)
			return
		case "stats":
			h.allow(w, r, http.MethodGet, h.handleStats)
			return
		}
	case 2:
		ticketID := parts[0]
		switch parts[1] {
		case "mark_served":
			h.allow(w, r, http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
				h.handleMarkServed(w, r, ticketID)
			})
			return
		case "position":
			h.allow(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
				h.handlePosition(w, r, ticketID)
			})
			return
		}
	}
	writeError(w, requestIDFromRequest(r), http.StatusNotFound, "not_found", "route not found")
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, requestIDFromRequest(r), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	next(w, r)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	ticket, err := h.queue.Join(r.Context(), req.PatientID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinQueueResponse{
		Message:      "Successfully joined the queue.",
		TokenDetails: ticket,
	})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	ticket, found, err := h.queue.CallNext(r.Context())
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, callNextResponse{Message: "The queue is empty.", QueueEmpty: true})
		return
	}
	writeJSON(w, http.StatusOK, callNextResponse{Message: "Next token called.", CalledToken: &ticket})
}

func (h *Handler) handleMarkServed(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, served, err := h.queue.MarkServed(r.Context(), ticketID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	resp := markServedResponse{
		Message:     "Token successfully marked as served.",
		ServedToken: ticket,
	}
	if !served {
		resp.Message = "Token was already marked as served."
		resp.AlreadyServed = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request, ticketID string) {
	pos, err := h.queue.Position(r.Context(), ticketID)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	if pos.Served {
		writeJSON(w, http.StatusOK, positionResponse{Message: "This token has already been served.", Served: true})
		return
	}
	ahead := pos.PeopleAhead
	writeJSON(w, http.StatusOK, positionResponse{
		TokenNumber: pos.TokenNumber,
		PeopleAhead: &ahead,
		Called:      pos.Called,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.queue.Reset(r.Context())
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{
		Message:      fmt.Sprintf("Queue reset successfully. Deleted %d old entries.", deleted),
		DeletedCount: deleted,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}
	tickets, err := h.queue.List(r.Context(), day)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayFromQuery(w, r)
	if !ok {
		return
	}
	stats, err := h.queue.Stats(r.Context(), day)
	if err != nil {
		writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// dayFromQuery reads the optional date=YYYY-MM-DD parameter. A nil day means
// today.
func (h *Handler) dayFromQuery(w http.ResponseWriter, r *http.Request) (*models.DayWindow, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		return nil, true
	}
	day, err := h.queue.ParseDay(raw)
	if err != nil {
		writeMappedError(w, r, err)
		return nil, false
	}
	return &day, true
}

func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), queue.ErrInvalidInput.Error()+": ")
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "Patient not found."
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "Token not found."
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}
