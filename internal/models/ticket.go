package models

import "time"

type Ticket struct {
	TicketID    string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	TokenNumber int       `json:"token_number"`
	IsCalled    bool      `json:"is_called"`
	IsServed    bool      `json:"is_served"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	StateCreated = "created"
	StateCalled  = "called"
	StateServed  = "served"
)

// State collapses the two queue flags into a single lifecycle state.
func (t Ticket) State() string {
	switch {
	case t.IsServed:
		return StateServed
	case t.IsCalled:
		return StateCalled
	default:
		return StateCreated
	}
}

// Waiting reports whether the ticket still counts toward the line.
func (t Ticket) Waiting() bool {
	return !t.IsCalled && !t.IsServed
}

type QueueStats struct {
	Day             string `json:"day"`
	Issued          int    `json:"issued"`
	Waiting         int    `json:"waiting"`
	Called          int    `json:"called"`
	Served          int    `json:"served"`
	LastTokenNumber int    `json:"last_token_number"`
}
