package store

import (
	"context"
	"time"

	"clinic/queue-service/internal/models"
)

type CreateTicketInput struct {
	PatientID string
	Day       models.DayWindow
	CreatedAt time.Time
}

// TicketStore persists queue tickets. Every day-scoped method receives the
// window explicitly; implementations never derive "today" on their own.
type TicketStore interface {
	// CreateTicket assigns the next token number of input.Day and inserts the
	// ticket. It returns ErrDuplicateToken when another writer took the number.
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, day models.DayWindow) ([]models.Ticket, error)
	// CallNext marks the lowest waiting token of day as called. It returns
	// ErrQueueEmpty when nothing is waiting.
	CallNext(ctx context.Context, day models.DayWindow) (models.Ticket, error)
	// MarkServed sets is_served. The bool is false when the ticket had already
	// been served, in which case the stored ticket is returned unchanged.
	MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error)
	CountAhead(ctx context.Context, day models.DayWindow, tokenNumber int) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, day models.DayWindow) (models.QueueStats, error)
}

// PatientLookup is the patient directory as seen by the queue.
type PatientLookup interface {
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
}

type Store interface {
	TicketStore
	PatientLookup
}
