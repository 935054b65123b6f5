package storage

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		gateway TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'ZAR',
		status TEXT NOT NULL,
		gateway_txn_id TEXT,
		merchant_reference TEXT,
		gateway_response TEXT,
		metadata TEXT,
		idempotency_key TEXT,
		refunded_amount TEXT NOT NULL DEFAULT '0',
		last_event_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_reference ON payments(gateway, merchant_reference)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_txn ON payments(gateway, gateway_txn_id)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		type TEXT NOT NULL,
		message TEXT,
		payload TEXT,
		source TEXT NOT NULL,
		processor_txn_id TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(payment_id, processor_txn_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_payment ON payment_events(payment_id, id)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		amount TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		gateway_refund_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_payment ON refunds(payment_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		idem_key TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		state TEXT NOT NULL,
		result TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retry_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id TEXT,
		attempt INTEGER NOT NULL,
		operation TEXT NOT NULL,
		failure_kind TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_attempts_payment ON retry_attempts(payment_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		gateway TEXT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'ZAR',
		status TEXT NOT NULL,
		gateway_txn_id TEXT,
		merchant_reference TEXT,
		gateway_response JSONB,
		metadata JSONB,
		idempotency_key TEXT,
		refunded_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
		last_event_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_reference ON payments(gateway, merchant_reference)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_txn ON payments(gateway, gateway_txn_id)`,
	`CREATE TABLE IF NOT EXISTS payment_events (
		id BIGSERIAL PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		type TEXT NOT NULL,
		message TEXT,
		payload JSONB,
		source TEXT NOT NULL,
		processor_txn_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(payment_id, processor_txn_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_payment ON payment_events(payment_id, id)`,
	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		amount NUMERIC(18,2) NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		gateway_refund_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_payment ON refunds(payment_id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		idem_key TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		state TEXT NOT NULL,
		result JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS retry_attempts (
		id BIGSERIAL PRIMARY KEY,
		payment_id TEXT,
		attempt INTEGER NOT NULL,
		operation TEXT NOT NULL,
		failure_kind TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_retry_attempts_payment ON retry_attempts(payment_id)`,
}
