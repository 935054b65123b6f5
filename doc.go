// Package payflow runs payment commands against pluggable gateways and keeps
// payments in step with the notifications those gateways send back.
//
// # Overview
//
// A client creates a payment, which is authorised immediately, and later
// captures, voids or refunds it. Every command reaches the gateway at most
// once per idempotency key, even across retries and concurrent callers.
// Gateways report the final outcome asynchronously through signed webhooks;
// those are verified, queued and reconciled against the stored payment.
//
//	┌──────────────┐  commands   ┌──────────────┐   API calls   ┌──────────────┐
//	│   Clients    │────────────►│   payflow    │──────────────►│   Gateways   │
//	└──────────────┘             │              │◄──────────────│ (example,    │
//	                             │              │   webhooks    │ stripe,      │
//	                             └──────┬───────┘               │ paypal)      │
//	                                    │                       └──────────────┘
//	                          payments, events, refunds,
//	                          idempotency records, retry attempts
//
// # Packages
//
//   - payment: the payment model and its state machine
//   - gateway: the adapter contract, registry and the bundled adapters
//   - idempotency: at-most-once execution keyed by operation
//   - retry: per-failure-kind backoff strategies
//   - orchestrator: the four payment commands
//   - webhook: verification, queueing and reconciliation of notifications
//   - handler, router: the HTTP API
//   - infra: storage, locks, configuration, logging and indexing
//
// # Running
//
//	GATEWAYS=example EXAMPLE_WEBHOOK_SECRET=whsec payflow serve
//
// See cmd for the remaining subcommands.
package payflow
