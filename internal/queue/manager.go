// Package queue implements the daily walk-in token queue on top of a
// store.Store: joining, calling, serving, position lookup and reset.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrStoreFailure = errors.New("store failure")
)

const defaultJoinAttempts = 5

const (
	EventJoined = "ticket.joined"
	EventCalled = "ticket.called"
	EventServed = "ticket.served"
	EventReset  = "queue.reset"
)

// Event describes a committed queue change. It carries no patient data.
type Event struct {
	Type        string
	Day         string
	TokenNumber int
	Deleted     int64
	OccurredAt  time.Time
}

// Notifier receives events after the store commit. Notify must not block.
type Notifier interface {
	Notify(event Event)
}

type Options struct {
	Location    *time.Location
	Clock       func() time.Time
	Logger      zerolog.Logger
	MaxAttempts int
	Notifier    Notifier
}

// Position is where a ticket stands in today's line. When Served is set the
// other fields are zero.
type Position struct {
	TokenNumber int
	PeopleAhead int
	Called      bool
	Served      bool
}

type Manager struct {
	store       store.Store
	loc         *time.Location
	clock       func() time.Time
	logger      zerolog.Logger
	maxAttempts int
	notifier    Notifier
	tracer      trace.Tracer
}

func NewManager(st store.Store, opts Options) *Manager {
	m := &Manager{
		store:       st,
		loc:         opts.Location,
		clock:       opts.Clock,
		logger:      opts.Logger,
		maxAttempts: opts.MaxAttempts,
		notifier:    opts.Notifier,
		tracer:      otel.Tracer("clinic/queue-service/internal/queue"),
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = defaultJoinAttempts
	}
	return m
}

func (m *Manager) Location() *time.Location {
	return m.loc
}

// Today returns the facility-local day containing the manager's clock.
func (m *Manager) Today() models.DayWindow {
	return models.DayWindowAt(m.clock(), m.loc)
}

// Join issues the next token of today's queue to patientID.
func (m *Manager) Join(ctx context.Context, patientID string) (models.Ticket, error) {
	ctx, span := m.tracer.Start(ctx, "queue.Join")
	defer span.End()

	patientID = strings.TrimSpace(patientID)
	if err := validateID(patientID, "patient_id"); err != nil {
		return models.Ticket{}, err
	}

	patient, err := m.store.GetPatient(ctx, patientID)
	if err != nil {
		return models.Ticket{}, m.fail(span, "get patient", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		now := m.clock()
		day := models.DayWindowAt(now, m.loc)
		ticket, err := m.store.CreateTicket(ctx, store.CreateTicketInput{
			PatientID: patient.PatientID,
			Day:       day,
			CreatedAt: now,
		})
		if err == nil {
			span.SetAttributes(
				attribute.String("queue.day", day.Key()),
				attribute.Int("queue.token_number", ticket.TokenNumber),
			)
			m.logger.Info().
				Str("ticket_id", ticket.TicketID).
				Str("patient_id", patient.PatientID).
				Str("patient_name", patient.Name).
				Int("token_number", ticket.TokenNumber).
				Str("day", day.Key()).
				Msg("patient joined queue")
			m.notify(Event{Type: EventJoined, Day: day.Key(), TokenNumber: ticket.TokenNumber})
			return ticket, nil
		}
		if !errors.Is(err, store.ErrDuplicateToken) {
			return models.Ticket{}, m.fail(span, "create ticket", err)
		}
		lastErr = err
		m.logger.Warn().Int("attempt", attempt).Str("day", day.Key()).Msg("token number conflict, retrying")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Ticket{}, m.fail(span, "create ticket", ctxErr)
		}
	}
	return models.Ticket{}, m.fail(span, "create ticket", fmt.Errorf("gave up after %d attempts: %w", m.maxAttempts, lastErr))
}

// CallNext marks today's lowest waiting token as called. found is false when
// nobody is waiting.
func (m *Manager) CallNext(ctx context.Context) (models.Ticket, bool, error) {
	ctx, span := m.tracer.Start(ctx, "queue.CallNext")
	defer span.End()

	day := m.Today()
	ticket, err := m.store.CallNext(ctx, day)
	if errors.Is(err, store.ErrQueueEmpty) {
		span.SetAttributes(attribute.Bool("queue.empty", true))
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, m.fail(span, "call next", err)
	}
	span.SetAttributes(attribute.Int("queue.token_number", ticket.TokenNumber))
	m.logger.Info().
		Str("ticket_id", ticket.TicketID).
		Int("token_number", ticket.TokenNumber).
		Str("day", day.Key()).
		Msg("ticket called")
	m.notify(Event{Type: EventCalled, Day: day.Key(), TokenNumber: ticket.TokenNumber})
	return ticket, true, nil
}

// MarkServed sets is_served on the ticket. served is false when the ticket
// had been served before; the stored ticket is returned either way.
func (m *Manager) MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	ctx, span := m.tracer.Start(ctx, "queue.MarkServed")
	defer span.End()

	ticketID = strings.TrimSpace(ticketID)
	if !isTicketID(ticketID) {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}
	ticket, served, err := m.store.MarkServed(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, false, m.fail(span, "mark served", err)
	}
	span.SetAttributes(attribute.Bool("queue.already_served", !served))
	if served {
		m.logger.Info().
			Str("ticket_id", ticket.TicketID).
			Int("token_number", ticket.TokenNumber).
			Bool("was_called", ticket.IsCalled).
			Msg("ticket served")
		m.notify(Event{
			Type:        EventServed,
			Day:         models.DayWindowAt(ticket.CreatedAt, m.loc).Key(),
			TokenNumber: ticket.TokenNumber,
		})
	}
	return ticket, served, nil
}

// Position reports how many of today's waiting tickets hold a smaller token.
func (m *Manager) Position(ctx context.Context, ticketID string) (Position, error) {
	ctx, span := m.tracer.Start(ctx, "queue.Position")
	defer span.End()

	ticketID = strings.TrimSpace(ticketID)
	if !isTicketID(ticketID) {
		return Position{}, store.ErrTicketNotFound
	}
	ticket, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return Position{}, m.fail(span, "get ticket", err)
	}
	if ticket.IsServed {
		return Position{Served: true}, nil
	}

	ahead, err := m.store.CountAhead(ctx, m.Today(), ticket.TokenNumber)
	if err != nil {
		return Position{}, m.fail(span, "count ahead", err)
	}
	return Position{
		TokenNumber: ticket.TokenNumber,
		PeopleAhead: ahead,
		Called:      ticket.IsCalled,
	}, nil
}

// Reset deletes every ticket created before today's start.
func (m *Manager) Reset(ctx context.Context) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "queue.Reset")
	defer span.End()

	day := m.Today()
	deleted, err := m.store.DeleteBefore(ctx, day.Start)
	if err != nil {
		return 0, m.fail(span, "delete before", err)
	}
	span.SetAttributes(attribute.Int64("queue.deleted", deleted))
	m.logger.Info().Int64("deleted", deleted).Str("day", day.Key()).Msg("queue reset")
	if deleted > 0 {
		m.notify(Event{Type: EventReset, Day: day.Key(), Deleted: deleted})
	}
	return deleted, nil
}

// List returns the tickets of day ordered by token number. A nil day means
// today.
func (m *Manager) List(ctx context.Context, day *models.DayWindow) ([]models.Ticket, error) {
	ctx, span := m.tracer.Start(ctx, "queue.List")
	defer span.End()

	window := m.Today()
	if day != nil {
		window = *day
	}
	tickets, err := m.store.ListTickets(ctx, window)
	if err != nil {
		return nil, m.fail(span, "list tickets", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

func (m *Manager) Stats(ctx context.Context, day *models.DayWindow) (models.QueueStats, error) {
	ctx, span := m.tracer.Start(ctx, "queue.Stats")
	defer span.End()

	window := m.Today()
	if day != nil {
		window = *day
	}
	stats, err := m.store.Stats(ctx, window)
	if err != nil {
		return models.QueueStats{}, m.fail(span, "stats", err)
	}
	return stats, nil
}

// ParseDay resolves a YYYY-MM-DD value in the facility time zone.
func (m *Manager) ParseDay(value string) (models.DayWindow, error) {
	day, err := models.ParseDay(strings.TrimSpace(value), m.loc)
	if err != nil {
		return models.DayWindow{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return day, nil
}

func (m *Manager) notify(event Event) {
	if m.notifier == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock()
	}
	m.notifier.Notify(event)
}

// fail records err on span and classifies it: not-found errors pass through,
// anything else is a store failure.
func (m *Manager) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	if errors.Is(err, store.ErrPatientNotFound) || errors.Is(err, store.ErrTicketNotFound) {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Error, op)
	m.logger.Error().Err(err).Str("op", op).Msg("queue store failure")
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

func validateID(value, field string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%w: %s must be a UUID", ErrInvalidInput, field)
	}
	return nil
}

// isTicketID reports whether value could name a ticket. Anything else is
// treated as an unknown ticket.
func isTicketID(value string) bool {
	if value == "" {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}
