package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinic/queue-service/internal/models"
	"clinic/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const ticketColumns = `ticket_id, patient_id, token_number, is_called, is_served, created_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	var patient models.Patient
	var phoneNull sql.NullString
	var dobNull sql.NullTime
	row := s.pool.QueryRow(ctx, `
		SELECT patient_id, name, email, phone, date_of_birth
		FROM patients
		WHERE patient_id = $1
	`, patientID)
	if err := row.Scan(&patient.PatientID, &patient.Name, &patient.Email, &phoneNull, &dobNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	if phoneNull.Valid {
		patient.Phone = phoneNull.String
	}
	patient.DateOfBirth = nullTimePtr(dobNull)
	return patient, nil
}

// CreateTicket serializes numbering per day with a transaction-scoped advisory
// lock, so MAX+1 is read and inserted without interleaving. The unique
// (queue_day, token_number) constraint still rejects a duplicate if a writer
// ever bypasses the lock.
func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "queue_tickets:"+input.Day.Key()); err != nil {
		return models.Ticket{}, err
	}

	var last int
	row := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0)
		FROM queue_tickets
		WHERE created_at >= $1 AND created_at < $2
	`, input.Day.Start, input.Day.End)
	if err := row.Scan(&last); err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (ticket_id, patient_id, queue_day, token_number, is_called, is_served, created_at)
		VALUES ($1, $2, $3::date, $4, FALSE, FALSE, $5)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.PatientID, input.Day.Key(), last+1, createdAt)
	ticket, err := scanTicket(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return models.Ticket{}, store.ErrDuplicateToken
			case pgForeignKeyViolation:
				return models.Ticket{}, store.ErrPatientNotFound
			}
		}
		return models.Ticket{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, day models.DayWindow) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY token_number ASC
	`, day.Start, day.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// CallNext locks the lowest waiting row and flips is_called in one
// transaction. SKIP LOCKED lets a concurrent caller move on to the following
// ticket instead of blocking on, and then re-reading, the same row.
func (s *Store) CallNext(ctx context.Context, day models.DayWindow) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		WITH next AS (
			SELECT ticket_id
			FROM queue_tickets
			WHERE created_at >= $1 AND created_at < $2
				AND is_called = FALSE AND is_served = FALSE
			ORDER BY token_number ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_tickets t
		SET is_called = TRUE
		FROM next
		WHERE t.ticket_id = next.ticket_id
		RETURNING t.ticket_id, t.patient_id, t.token_number, t.is_called, t.is_served, t.created_at
	`, day.Start, day.End)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrQueueEmpty
		}
		return models.Ticket{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) MarkServed(ctx context.Context, ticketID string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_tickets
		SET is_served = TRUE
		WHERE ticket_id = $1 AND is_served = FALSE
		RETURNING `+ticketColumns,
		ticketID)
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, err
	}

	// Nothing updated: either unknown or already served.
	existing, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	return existing, false, nil
}

func (s *Store) CountAhead(ctx context.Context, day models.DayWindow, tokenNumber int) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_tickets
		WHERE created_at >= $1 AND created_at < $2
			AND is_called = FALSE AND is_served = FALSE
			AND token_number < $3
	`, day.Start, day.End, tokenNumber)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM queue_tickets WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Stats(ctx context.Context, day models.DayWindow) (models.QueueStats, error) {
	stats := models.QueueStats{Day: day.Key()}
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_called = FALSE AND is_served = FALSE),
			COUNT(*) FILTER (WHERE is_called = TRUE AND is_served = FALSE),
			COUNT(*) FILTER (WHERE is_served = TRUE),
			COALESCE(MAX(token_number), 0)
		FROM queue_tickets
		WHERE created_at >= $1 AND created_at < $2
	`, day.Start, day.End)
	if err := row.Scan(&stats.Issued, &stats.Waiting, &stats.Called, &stats.Served, &stats.LastTokenNumber); err != nil {
		return models.QueueStats{}, err
	}
	return stats, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(&ticket.TicketID, &ticket.PatientID, &ticket.TokenNumber, &ticket.IsCalled, &ticket.IsServed, &ticket.CreatedAt)
	return ticket, err
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}
