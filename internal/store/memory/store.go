// Package memory is a process-local TicketStore used by tests and by the
// STORE_DRIVER=memory development mode. A single mutex serializes every
// operation, which gives the same numbering and call-next guarantees the
// postgres store gets from locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	tickets  map[string]models.Ticket
	patients map[string]models.Patient
}

func NewStore() *Store {
	return &Store{
		tickets:  make(map[string]models.Ticket),
		patients: make(map[string]models.Patient),
	}
}

// AddPatient registers a patient in the in-process directory.
func (s *Store) AddPatient(patient models.Patient) models.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patient.PatientID == "" {
		patient.PatientID = uuid.NewString()
	}
	s.patients[patient.PatientID] = patient
	return patient
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patient, ok := s.patients[patientID]
	if !ok {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return patient, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patients[input.PatientID]; !ok {
		return models.Ticket{}, store.ErrPatientNotFound
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	last := 0
	for _, ticket := range s.tickets {
		if input.Day.Contains(ticket.CreatedAt) && ticket.TokenNumber > last {
			last = ticket.TokenNumber
		}
	}

	ticket := models.Ticket{
		TicketID:    uuid.NewString(),
		PatientID:   input.PatientID,
		TokenNumber: last + 1,
		CreatedAt:   createdAt,
	}
	s.tickets[ticket.TicketID] = ticket
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, day models.DayWindow) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayTickets(day), nil
}

func (s *Store) CallNext(ctx context.Context, day models.DayWindow) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticket := range s.dayTickets(day) {
		if !store.ValidTransition("call_next", ticket.State()) {
			continue
		}
		ticket.IsCalled = true
		s.tickets[ticket.TicketID] = ticket
		return ticket, nil
	}
	return models.Ticket{}, store.ErrQueueEmpty
}

func (s *Store) MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, false, store.ErrTicketNotFound
	}
	if !store.ValidTransition("mark_served", ticket.State()) {
		return ticket, false, nil
	}
	ticket.IsServed = true
	s.tickets[ticketID] = ticket
	return ticket, true, nil
}

func (s *Store) CountAhead(ctx context.Context, day models.DayWindow, tokenNumber int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, ticket := range s.tickets {
		if day.Contains(ticket.CreatedAt) && ticket.Waiting() && ticket.TokenNumber < tokenNumber {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, ticket := range s.tickets {
		if ticket.CreatedAt.Before(cutoff) {
			delete(s.tickets, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) Stats(ctx context.Context, day models.DayWindow) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.QueueStats{Day: day.Key()}
	for _, ticket := range s.dayTickets(day) {
		stats.Issued++
		switch ticket.State() {
		case models.StateCreated:
			stats.Waiting++
		case models.StateCalled:
			stats.Called++
		case models.StateServed:
			stats.Served++
		}
		if ticket.TokenNumber > stats.LastTokenNumber {
			stats.LastTokenNumber = ticket.TokenNumber
		}
	}
	return stats, nil
}

// dayTickets returns the tickets of day ordered by token number. Callers hold mu.
func (s *Store) dayTickets(day models.DayWindow) []models.Ticket {
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if day.Contains(ticket.CreatedAt) {
			tickets = append(tickets, ticket)
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].TokenNumber < tickets[j].TokenNumber
	})
	return tickets
}
