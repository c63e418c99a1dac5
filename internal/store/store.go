// Package store persists normalized transactions and the raw payloads
// exchanged with remote gateways.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/billing-gateway/internal/gateway"
)

// ErrDuplicate is returned when a transaction with the same gateway and
// remote transaction id has already been recorded. Callers treat it as a
// successful replay, not a failure.
var ErrDuplicate = errors.New("store: duplicate transaction")

// ErrNotFound is returned when an update targets a transaction that was
// never recorded.
var ErrNotFound = errors.New("store: transaction not found")

const uniqueViolation = "23505"

// Store wraps the pgx pool with the queries the payment flows need.
type Store struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

// New returns a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{Pool: pool, Logger: logger}
}

// RecordTransaction inserts a normalized transaction. The (gateway,
// transaction_id) pair is unique so replayed callbacks surface as
// ErrDuplicate instead of a second row.
func (s *Store) RecordTransaction(ctx context.Context, gatewayName string, tx gateway.Transaction) error {
	invoices, err := json.Marshal(tx.Invoices)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO transactions
			(gateway, client_id, amount, currency, invoices, status,
			 reference_id, transaction_id, parent_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		gatewayName,
		tx.ClientID,
		tx.Amount.String(),
		tx.Currency,
		invoices,
		string(tx.Status),
		nullable(tx.ReferenceID),
		tx.TransactionID,
		nullable(tx.ParentTransactionID),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateTransactionStatus moves an already recorded transaction to a new
// status, used when a pending capture settles or a payment is refunded.
// Returns ErrNotFound when no row exists or the row already carries the
// status, so replayed notifications cannot re-trigger downstream effects.
func (s *Store) UpdateTransactionStatus(ctx context.Context, gatewayName, transactionID string, status gateway.Status) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE transactions
		SET status = $3, updated_at = now()
		WHERE gateway = $1 AND transaction_id = $2 AND status <> $3`,
		gatewayName, transactionID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Append implements gateway.AuditSink. Failures are logged and swallowed;
// losing an audit row must never fail a payment.
func (s *Store) Append(ctx context.Context, entry gateway.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO gateway_logs (gateway, operation, direction, payload, success)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Gateway, entry.Operation, entry.Direction, string(entry.Payload), entry.Success)
	if err != nil {
		s.Logger.Warn().Err(err).
			Str("gateway", entry.Gateway).
			Str("operation", entry.Operation).
			Msg("gateway audit insert failed")
	}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
