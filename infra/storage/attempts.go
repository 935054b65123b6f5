package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mstgnz/payflow/retry"
)

// RecordAttempt persists one failed gateway attempt
func (s *Store) RecordAttempt(ctx context.Context, a retry.Attempt) error {
	query := s.rebind(`INSERT INTO retry_attempts (payment_id, attempt, operation, failure_kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	return s.retryOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, nullString(a.PaymentID), a.Number, a.Operation,
			a.FailureKind, nullString(a.Message), a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to record retry attempt: %w", err)
		}
		return nil
	})
}

// ListAttempts returns recorded attempts for a payment in order
func (s *Store) ListAttempts(ctx context.Context, paymentID string) ([]retry.Attempt, error) {
	query := s.rebind(`SELECT payment_id, attempt, operation, failure_kind, message, created_at
		FROM retry_attempts WHERE payment_id = ? ORDER BY id`)

	var attempts []retry.Attempt
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, paymentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		attempts = attempts[:0]
		for rows.Next() {
			var (
				a                  retry.Attempt
				paymentID, message sql.NullString
			)
			if err := rows.Scan(&paymentID, &a.Number, &a.Operation, &a.FailureKind, &message, &a.CreatedAt); err != nil {
				return err
			}
			a.PaymentID = paymentID.String
			a.Message = message.String
			a.CreatedAt = a.CreatedAt.UTC()
			attempts = append(attempts, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	return attempts, nil
}
