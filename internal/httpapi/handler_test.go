package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/queue"
	"clinic/queue-service/internal/store"
	"clinic/queue-service/internal/store/memory"

	"github.com/rs/zerolog"
)

const (
	testPatientID = "22222222-2222-2222-2222-222222222222"
	testTicketID  = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
)

type fakeQueue struct {
	joinFn       func(ctx context.Context, patientID string) (models.Ticket, error)
	callNextFn   func(ctx context.Context) (models.Ticket, bool, error)
	markServedFn func(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	positionFn   func(ctx context.Context, ticketID string) (queue.Position, error)
	resetFn      func(ctx context.Context) (int64, error)
	listFn       func(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error)
	statsFn      func(ctx context.Context, day *models.DayWindow) (models.QueueStats, error)
}

func (f fakeQueue) Join(ctx context.Context, patientID string) (models.Ticket, error) {
	if f.joinFn == nil {
		return models.Ticket{}, nil
	}
	return f.joinFn(ctx, patientID)
}

func (f fakeQueue) CallNext(ctx context.Context) (models.Ticket, bool, error) {
	if f.callNextFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.callNextFn(ctx)
}

func (f fakeQueue) MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	if f.markServedFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.markServedFn(ctx, ticketID)
}

func (f fakeQueue) Position(ctx context.Context, ticketID string) (queue.Position, error) {
	if f.positionFn == nil {
		return queue.Position{}, nil
	}
	return f.positionFn(ctx, ticketID)
}

func (f fakeQueue) Reset(ctx context.Context) (int64, error) {
	if f.resetFn == nil {
		return 0, nil
	}
	return f.resetFn(ctx)
}

func (f fakeQueue) List(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error) {
	if f.listFn == nil {
		return []models.Ticket{}, nil
	}
	return f.listFn(ctx, day)
}

func (f fakeQueue) Stats(ctx context.Context, day *models.DayWindow) (models.QueueStats, error) {
	if f.statsFn == nil {
		return models.QueueStats{}, nil
	}
	return f.statsFn(ctx, day)
}

func (f fakeQueue) ParseDay(value string) (models.DayWindow, error) {
	day, err := models.ParseDay(value, time.UTC)
	if err != nil {
		return models.DayWindow{}, fmt.Errorf("%w: date must be YYYY-MM-DD", queue.ErrInvalidInput)
	}
	return day, nil
}

func serve(h *Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload
}

func TestHealthz(t *testing.T) {
	resp := serve(NewHandler(fakeQueue{}), http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestJoinQueueSuccess(t *testing.T) {
	var gotPatient string
	q := fakeQueue{
		joinFn: func(ctx context.Context, patientID string) (models.Ticket, error) {
			gotPatient = patientID
			return models.Ticket{TicketID: testTicketID, PatientID: patientID, TokenNumber: 1}, nil
		},
	}
	body, _ := json.Marshal(map[string]string{"patient_id": testPatientID})

	resp := serve(NewHandler(q), http.MethodPost, "/queues/join_queue/", body)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	var payload joinQueueResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if gotPatient != testPatientID {
		t.Fatalf("expected patient %s, got %s", testPatientID, gotPatient)
	}
	if payload.Message != "Successfully joined the queue." || payload.TokenDetails.TokenNumber != 1 {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestJoinQueueErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"invalid json", `{"patient_id":`, nil, http.StatusBadRequest, "invalid_json"},
		{"missing patient", `{}`, fmt.Errorf("%w: patient_id is required", queue.ErrInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"unknown patient", `{"patient_id":"` + testPatientID + `"}`, store.ErrPatientNotFound, http.StatusNotFound, "patient_not_found"},
		{"store failure", `{"patient_id":"` + testPatientID + `"}`, fmt.Errorf("%w: create ticket: %w", queue.ErrStoreFailure, errors.New("boom")), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			q := fakeQueue{
				joinFn: func(ctx context.Context, patientID string) (models.Ticket, error) {
					return models.Ticket{}, tt.err
				},
			}
			resp := serve(NewHandler(q), http.MethodPost, "/queues/join_queue", []byte(tt.body))
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, resp.Code)
			}
			if got := decodeError(t, resp).Error.Code; got != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestJoinQueueIgnoresExtraFields(t *testing.T) {
	var gotPatient string
	q := fakeQueue{
		joinFn: func(ctx context.Context, patientID string) (models.Ticket, error) {
			gotPatient = patientID
			return models.Ticket{TicketID: testTicketID, PatientID: patientID, TokenNumber: 3}, nil
		},
	}
	body := `{"patient_id":"` + testPatientID + `","note":"walk-in"}`
	resp := serve(NewHandler(q), http.MethodPost, "/queues/join_queue", []byte(body))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	if gotPatient != testPatientID {
		t.Fatalf("expected patient %s, got %s", testPatientID, gotPatient)
	}
}

func TestJoinQueueMissingPatientMessage(t *testing.T) {
	q := fakeQueue{
		joinFn: func(ctx context.Context, patientID string) (models.Ticket, error) {
			return models.Ticket{}, fmt.Errorf("%w: patient_id is required", queue.ErrInvalidInput)
		},
	}
	resp := serve(NewHandler(q), http.MethodPost, "/queues/join_queue", []byte(`{}`))
	if got := decodeError(t, resp).Error.Message; got != "patient_id is required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestCallNext(t *testing.T) {
	q := fakeQueue{
		callNextFn: func(ctx context.Context) (models.Ticket, bool, error) {
			return models.Ticket{TicketID: testTicketID, TokenNumber: 3, IsCalled: true}, true, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodPost, "/queues/call_next/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload callNextResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.CalledToken == nil || payload.CalledToken.TokenNumber != 3 || payload.QueueEmpty {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	resp := serve(NewHandler(fakeQueue{}), http.MethodPost, "/queues/call_next", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["message"] != "The queue is empty." || payload["queue_empty"] != true {
		t.Fatalf("unexpected response: %v", payload)
	}
	if _, ok := payload["called_token"]; ok {
		t.Fatalf("empty queue must not carry a ticket")
	}
}

func TestCallNextWrongMethod(t *testing.T) {
	resp := serve(NewHandler(fakeQueue{}), http.MethodGet, "/queues/call_next", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", resp.Code)
	}
}

func TestMarkServed(t *testing.T) {
	cases := []struct {
		name          string
		served        bool
		alreadyServed bool
		message       string
	}{
		{"first time", true, false, "Token successfully marked as served."},
		{"repeat", false, true, "Token was already marked as served."},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			q := fakeQueue{
				markServedFn: func(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
					gotID = ticketID
					return models.Ticket{TicketID: ticketID, TokenNumber: 1, IsServed: true}, tt.served, nil
				},
			}
			resp := serve(NewHandler(q), http.MethodPost, "/queues/"+testTicketID+"/mark_served/", nil)
			if resp.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", resp.Code)
			}
			var payload markServedResponse
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if gotID != testTicketID {
				t.Fatalf("expected ticket id %s, got %s", testTicketID, gotID)
			}
			if payload.Message != tt.message || payload.AlreadyServed != tt.alreadyServed {
				t.Fatalf("unexpected response: %+v", payload)
			}
		})
	}
}

func TestMarkServedNotFound(t *testing.T) {
	q := fakeQueue{
		markServedFn: func(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
			return models.Ticket{}, false, store.ErrTicketNotFound
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/queues/"+testTicketID+"/mark_served", nil)
	req.Header.Set("X-Request-ID", "req-1")
	resp := httptest.NewRecorder()
	NewHandler(q).Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	payload := decodeError(t, resp)
	if payload.RequestID != "req-1" || payload.Error.Code != "ticket_not_found" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestPosition(t *testing.T) {
	q := fakeQueue{
		positionFn: func(ctx context.Context, ticketID string) (queue.Position, error) {
			return queue.Position{TokenNumber: 2, PeopleAhead: 0}, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodGet, "/queues/"+testTicketID+"/position", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["token_number"] != float64(2) || payload["people_ahead"] != float64(0) {
		t.Fatalf("unexpected response: %v", payload)
	}
}

func TestPositionServed(t *testing.T) {
	q := fakeQueue{
		positionFn: func(ctx context.Context, ticketID string) (queue.Position, error) {
			return queue.Position{Served: true}, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodGet, "/queues/"+testTicketID+"/position/", nil)
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["served"] != true || payload["message"] != "This token has already been served." {
		t.Fatalf("unexpected response: %v", payload)
	}
	if _, ok := payload["people_ahead"]; ok {
		t.Fatalf("served response must not carry people_ahead")
	}
}

func TestMalformedTicketIDIsNotFound(t *testing.T) {
	st := memory.NewStore()
	h := NewHandler(queue.NewManager(st, queue.Options{Logger: zerolog.Nop()}))

	cases := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/queues/42/mark_served"},
		{http.MethodGet, "/queues/42/position"},
		{http.MethodGet, "/queues/not-a-uuid/position/"},
	}
	for _, tt := range cases {
		resp := serve(h, tt.method, tt.target, nil)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected status 404, got %d", tt.method, tt.target, resp.Code)
		}
		payload := decodeError(t, resp)
		if payload.Error.Code != "ticket_not_found" || payload.Error.Message != "Token not found." {
			t.Fatalf("%s %s: unexpected error payload: %+v", tt.method, tt.target, payload)
		}
	}
}

func TestResetQueue(t *testing.T) {
	q := fakeQueue{
		resetFn: func(ctx context.Context) (int64, error) {
			return 2, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodPost, "/queues/reset_queue/", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var payload resetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.DeletedCount != 2 || payload.Message != "Queue reset successfully. Deleted 2 old entries." {
		t.Fatalf("unexpected response: %+v", payload)
	}
}

func TestListDefaultsToToday(t *testing.T) {
	var gotDay *models.DayWindow
	q := fakeQueue{
		listFn: func(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error) {
			gotDay = day
			return []models.Ticket{{TicketID: testTicketID, TokenNumber: 1}}, nil
		},
	}
	for _, target := range []string{"/queues", "/queues/"} {
		resp := serve(NewHandler(q), http.MethodGet, target, nil)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", target, resp.Code)
		}
		var tickets []models.Ticket
		if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(tickets) != 1 || gotDay != nil {
			t.Fatalf("%s: expected today's single ticket, got %d tickets day=%v", target, len(tickets), gotDay)
		}
	}
}

func TestListWithDate(t *testing.T) {
	var gotDay *models.DayWindow
	q := fakeQueue{
		listFn: func(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error) {
			gotDay = day
			return []models.Ticket{}, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodGet, "/queues/?date=2026-10-15", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if gotDay == nil || gotDay.Key() != "2026-10-15" {
		t.Fatalf("expected day 2026-10-15, got %v", gotDay)
	}

	resp = serve(NewHandler(q), http.MethodGet, "/queues/?date=15-10-2026", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad date, got %d", resp.Code)
	}
}

func TestStats(t *testing.T) {
	q := fakeQueue{
		statsFn: func(ctx context.Context, day *models.DayWindow) (models.QueueStats, error) {
			return models.QueueStats{Day: "2026-10-16", Issued: 4, Waiting: 2, Called: 1, Served: 1, LastTokenNumber: 4}, nil
		},
	}
	resp := serve(NewHandler(q), http.MethodGet, "/queues/stats", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var stats models.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Issued != 4 || stats.LastTokenNumber != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := serve(NewHandler(fakeQueue{}), http.MethodGet, "/queues/"+testTicketID+"/history", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
