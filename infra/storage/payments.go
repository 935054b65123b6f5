package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mstgnz/payflow/payment"
)

const paymentColumns = `id, gateway, amount, currency, status, gateway_txn_id, merchant_reference,
	gateway_response, metadata, idempotency_key, refunded_amount, last_event_at, version,
	created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var (
		p                                    payment.Payment
		status                               string
		txnID, reference, response, metadata sql.NullString
		idemKey                              sql.NullString
		lastEventAt, deletedAt               sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Gateway, &p.Amount, &p.Currency, &status, &txnID, &reference,
		&response, &metadata, &idemKey, &p.RefundedAmount, &lastEventAt, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	p.Status = payment.Status(status)
	p.GatewayTxnID = txnID.String
	p.MerchantReference = reference.String
	p.GatewayResponse = jsonBytes(response)
	p.Metadata = jsonBytes(metadata)
	p.IdempotencyKey = idemKey.String
	p.LastEventAt = timePtr(lastEventAt)
	p.DeletedAt = timePtr(deletedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// CreatePayment inserts a new payment at version 1
func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt

	query := s.rebind(`INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return s.retryOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.ID, p.Gateway, p.Amount.StringFixed(2), p.Currency, string(p.Status),
			nullString(p.GatewayTxnID), nullString(p.MerchantReference),
			jsonText(p.GatewayResponse), jsonText(p.Metadata), nullString(p.IdempotencyKey),
			p.RefundedAmount.StringFixed(2), nullTime(p.LastEventAt), p.Version,
			p.CreatedAt, p.UpdatedAt, nullTime(p.DeletedAt))
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}
		return nil
	})
}

// GetPayment loads a live payment by id
func (s *Store) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	query := s.rebind(`SELECT ` + paymentColumns + ` FROM payments WHERE id = ? AND deleted_at IS NULL`)
	return s.findOne(ctx, query, id)
}

// FindByMerchantReference returns the newest payment of gateway with the
// given merchant reference
func (s *Store) FindByMerchantReference(ctx context.Context, gateway, reference string) (*payment.Payment, error) {
	query := s.rebind(`SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway = ? AND merchant_reference = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1`)
	return s.findOne(ctx, query, gateway, reference)
}

// FindByTransactionID returns the newest payment of gateway carrying txnID
func (s *Store) FindByTransactionID(ctx context.Context, gateway, txnID string) (*payment.Payment, error) {
	query := s.rebind(`SELECT ` + paymentColumns + ` FROM payments
		WHERE gateway = ? AND gateway_txn_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT 1`)
	return s.findOne(ctx, query, gateway, txnID)
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*payment.Payment, error) {
	var p *payment.Payment
	err := s.retryOperation(ctx, func() error {
		var err error
		p, err = scanPayment(s.db.QueryRowContext(ctx, query, args...))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return p, nil
}

// Save commits a Change atomically. The payment update only applies when
// the stored version still matches, otherwise payment.ErrConcurrentUpdate
// is returned. An event whose processor id was already recorded for the
// payment aborts the whole change with payment.ErrDuplicateEvent.
func (s *Store) Save(ctx context.Context, change payment.Change) error {
	return s.retryOperation(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if change.Event != nil {
			if err := s.insertEvent(ctx, tx, change.Event); err != nil {
				return err
			}
		}
		if change.Refund != nil {
			if err := s.insertRefund(ctx, tx, change.Refund); err != nil {
				return err
			}
		}
		var updatedAt time.Time
		if change.Payment != nil {
			if updatedAt, err = s.updatePayment(ctx, tx, change.Payment); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit payment change: %w", err)
		}
		if change.Payment != nil {
			change.Payment.Version++
			change.Payment.UpdatedAt = updatedAt
		}
		return nil
	})
}

func (s *Store) updatePayment(ctx context.Context, tx *sql.Tx, p *payment.Payment) (time.Time, error) {
	now := time.Now().UTC()
	query := s.rebind(`UPDATE payments SET
			amount = ?, currency = ?, status = ?, gateway_txn_id = ?, merchant_reference = ?,
			gateway_response = ?, metadata = ?, refunded_amount = ?, last_event_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, query,
		p.Amount.StringFixed(2), p.Currency, string(p.Status), nullString(p.GatewayTxnID),
		nullString(p.MerchantReference), jsonText(p.GatewayResponse), jsonText(p.Metadata),
		p.RefundedAmount.StringFixed(2), nullTime(p.LastEventAt), now, p.ID, p.Version)
	if err != nil {
		return now, fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return now, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return now, payment.ErrConcurrentUpdate
	}
	return now, nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, e *payment.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO payment_events
			(payment_id, type, message, payload, source, processor_txn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_id, processor_txn_id) DO NOTHING
		RETURNING id`)
	err := tx.QueryRowContext(ctx, query,
		e.PaymentID, e.Type, nullString(e.Message), jsonText(e.Payload), string(e.Source),
		nullString(e.ProcessorTxnID), e.CreatedAt).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment event: %w", err)
	}
	return nil
}

func (s *Store) insertRefund(ctx context.Context, tx *sql.Tx, r *payment.Refund) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO refunds (id, payment_id, amount, reason, status, gateway_refund_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query,
		r.ID, r.PaymentID, r.Amount.StringFixed(2), nullString(r.Reason), r.Status,
		nullString(r.GatewayRefundID), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

// HasEvent reports whether an event with the processor id exists for the payment
func (s *Store) HasEvent(ctx context.Context, paymentID, processorTxnID string) (bool, error) {
	query := s.rebind(`SELECT COUNT(1) FROM payment_events WHERE payment_id = ? AND processor_txn_id = ?`)
	var n int
	err := s.retryOperation(ctx, func() error {
		return s.db.QueryRowContext(ctx, query, paymentID, processorTxnID).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check payment event: %w", err)
	}
	return n > 0, nil
}

// ListEvents returns the payment's history oldest first
func (s *Store) ListEvents(ctx context.Context, paymentID string) ([]*payment.Event, error) {
	query := s.rebind(`SELECT id, payment_id, type, message, payload, source, processor_txn_id, created_at
		FROM payment_events WHERE payment_id = ? ORDER BY id`)

	var events []*payment.Event
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, paymentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var (
				e                         payment.Event
				source                    string
				message, payload, procTxn sql.NullString
			)
			if err := rows.Scan(&e.ID, &e.PaymentID, &e.Type, &message, &payload, &source, &procTxn, &e.CreatedAt); err != nil {
				return err
			}
			e.Message = message.String
			e.Payload = jsonBytes(payload)
			e.Source = payment.EventSource(source)
			e.ProcessorTxnID = procTxn.String
			e.CreatedAt = e.CreatedAt.UTC()
			events = append(events, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list payment events: %w", err)
	}
	return events, nil
}

// ListRefunds returns the payment's refunds oldest first
func (s *Store) ListRefunds(ctx context.Context, paymentID string) ([]*payment.Refund, error) {
	query := s.rebind(`SELECT id, payment_id, amount, reason, status, gateway_refund_id, created_at
		FROM refunds WHERE payment_id = ? ORDER BY created_at, id`)

	var refunds []*payment.Refund
	err := s.retryOperation(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, paymentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		refunds = refunds[:0]
		for rows.Next() {
			var (
				r                 payment.Refund
				reason, gatewayID sql.NullString
			)
			if err := rows.Scan(&r.ID, &r.PaymentID, &r.Amount, &reason, &r.Status, &gatewayID, &r.CreatedAt); err != nil {
				return err
			}
			r.Reason = reason.String
			r.GatewayRefundID = gatewayID.String
			r.CreatedAt = r.CreatedAt.UTC()
			refunds = append(refunds, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	return refunds, nil
}

// RefundedTotal sums recorded refunds for a payment
func (s *Store) RefundedTotal(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	refunds, err := s.ListRefunds(ctx, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	return total, nil
}
