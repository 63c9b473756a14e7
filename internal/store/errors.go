package store

import "errors"

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrQueueEmpty      = errors.New("no waiting ticket")
	ErrDuplicateToken  = errors.New("token number already issued for day")
)
