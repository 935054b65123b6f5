package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mstgnz/payflow/idempotency"
)

// Claim inserts an in-progress record unless the key exists. Exactly one
// concurrent caller sees claimed=true.
func (s *Store) Claim(ctx context.Context, key, operation string) (bool, *idempotency.Record, error) {
	now := time.Now().UTC()
	insert := s.rebind(`INSERT INTO idempotency_records (idem_key, operation, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (idem_key) DO NOTHING`)

	var claimed bool
	err := s.retryOperation(ctx, func() error {
		res, err := s.db.ExecContext(ctx, insert, key, operation, string(idempotency.StateInProgress), now, now)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = rows == 1
		return nil
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if claimed {
		return true, nil, nil
	}

	existing, err := s.GetRecord(ctx, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// GetRecord loads an idempotency record
func (s *Store) GetRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	query := s.rebind(`SELECT idem_key, operation, state, result, created_at, updated_at
		FROM idempotency_records WHERE idem_key = ?`)

	var rec *idempotency.Record
	err := s.retryOperation(ctx, func() error {
		var err error
		rec, err = scanRecord(s.db.QueryRowContext(ctx, query, key))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("idempotency key %s: %w", key, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency record: %w", err)
	}
	return rec, nil
}

func scanRecord(row rowScanner) (*idempotency.Record, error) {
	var (
		rec    idempotency.Record
		state  string
		result sql.NullString
	)
	if err := row.Scan(&rec.Key, &rec.Operation, &state, &result, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.State = idempotency.State(state)
	rec.Result = jsonBytes(result)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Complete stores the result and marks the key completed
func (s *Store) Complete(ctx context.Context, key string, result []byte) error {
	query := s.rebind(`UPDATE idempotency_records SET state = ?, result = ?, updated_at = ?
		WHERE idem_key = ?`)
	return s.retryOperation(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, string(idempotency.StateCompleted), jsonText(result), time.Now().UTC(), key)
		if err != nil {
			return fmt.Errorf("failed to complete idempotency key: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("idempotency key %s was not claimed", key)
		}
		return nil
	})
}

// Release deletes an in-progress claim so the operation can run again.
// Completed records are never released.
func (s *Store) Release(ctx context.Context, key string) error {
	query := s.rebind(`DELETE FROM idempotency_records WHERE idem_key = ? AND state = ?`)
	return s.retryOperation(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, query, key, string(idempotency.StateInProgress)); err != nil {
			return fmt.Errorf("failed to release idempotency key: %w", err)
		}
		return nil
	})
}

// ListInProgress returns claims older than olderThan that never completed
func (s *Store) ListInProgress(ctx context.Context, olderThan time.Duration) ([]*idempotency.Record, error) {
	query := s.rebind(`SELECT idem_key, operation, state, result, created_at, updated_at
		FROM idempotency_records WHERE state = ? AND created_at <= ? ORDER BY created_at`)
	cutoff := time.Now().UTC().Add(-olderThan)

	var records []*idempotency.Record
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, string(idempotency.StateInProgress), cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list in-progress idempotency keys: %w", err)
	}
	return records, nil
}
