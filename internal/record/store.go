package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anandkorat/phonepe-bridge/internal/common"
)

const pgUniqueViolation = "23505"

// Store persists payment records in Postgres. Each call is a single-row
// atomic operation; the database serialises conflicting writes to the same
// order id.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore wires a Store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Create inserts a new payment record. A duplicate order id surfaces as
// DUPLICATE_ORDER.
func (s *Store) Create(ctx context.Context, p Payment) (Payment, error) {
	if p.Status == "" {
		p.Status = StatusPending
	}
	details, err := encodeDetails(p.Details)
	if err != nil {
		return Payment{}, common.StoreError(err)
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO payments (order_id, domain_name, amount_major, status, payment_details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING order_id, domain_name, amount_major, status, payment_details, created_at, updated_at`,
		p.OrderID, p.Domain, p.Amount, string(p.Status), details,
	)
	out, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Payment{}, common.DuplicateOrderError(p.OrderID)
		}
		return Payment{}, common.StoreError(err)
	}
	return out, nil
}

// FindByOrderID loads a payment record. The boolean reports presence; an
// absent record is not an error here because reconciliation may backfill it.
func (s *Store) FindByOrderID(ctx context.Context, orderID string) (Payment, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT order_id, domain_name, amount_major, status, payment_details, created_at, updated_at
		FROM payments WHERE order_id = $1`,
		orderID,
	)
	out, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, common.StoreError(err)
	}
	return out, true, nil
}

// UpdateStatus sets the record status, shallow-merges extra into the detail
// bag by named key, and refreshes updated_at. Missing records surface as
// NOT_FOUND.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, status Status, extra map[string]any) (Payment, error) {
	details, err := encodeDetails(extra)
	if err != nil {
		return Payment{}, common.StoreError(err)
	}
	row := s.Pool.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    payment_details = payment_details || $3::jsonb,
		    updated_at = now()
		WHERE order_id = $1
		RETURNING order_id, domain_name, amount_major, status, payment_details, created_at, updated_at`,
		orderID, string(status), details,
	)
	out, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, common.NotFoundError(fmt.Sprintf("payment %s not found", orderID))
		}
		return Payment{}, common.StoreError(err)
	}
	return out, nil
}

// AppendEvent records one status transition in the audit trail. Callers treat
// failures as non-fatal; the payments row remains the source of truth.
func (s *Store) AppendEvent(ctx context.Context, orderID string, status Status, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_events (order_id, status, payload)
		VALUES ($1, $2, $3)`,
		orderID, string(status), payload,
	)
	if err != nil {
		return common.StoreError(err)
	}
	return nil
}

func encodeDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(details)
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p       Payment
		status  string
		details []byte
	)
	if err := row.Scan(&p.OrderID, &p.Domain, &p.Amount, &status, &details, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.Details); err != nil {
			return Payment{}, fmt.Errorf("decode payment details: %w", err)
		}
	}
	return p, nil
}
