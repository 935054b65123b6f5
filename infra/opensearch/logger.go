package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/payment"
)

// AuditEvent is a payment event as stored in the audit index
type AuditEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	PaymentID      string    `json:"payment_id"`
	Gateway        string    `json:"gateway"`
	Status         string    `json:"status"`
	EventType      string    `json:"event_type"`
	Source         string    `json:"source"`
	ProcessorTxnID string    `json:"processor_txn_id,omitempty"`
	Message        string    `json:"message,omitempty"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Payload        string    `json:"payload,omitempty"`
}

// Logger indexes system logs and payment events
type Logger struct {
	client *Client
	log    *logger.SystemLogger
	// Timeout bounds each indexing request made by Publish
	Timeout time.Duration
}

// NewLogger creates a new OpenSearch logger. log receives indexing failures
// from Publish and must not itself be backed by this Logger.
func NewLogger(client *Client, log *logger.SystemLogger) *Logger {
	if log == nil {
		log = logger.NewNop()
	}
	return &Logger{client: client, log: log, Timeout: 5 * time.Second}
}

// LogSystemEvent indexes one system log entry
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, l.client.SystemLogIndex(), "", entry)
}

// Publish mirrors a committed payment event into the audit index.
// Failures are logged; the database remains the source of truth.
func (l *Logger) Publish(ctx context.Context, p *payment.Payment, e *payment.Event) {
	if !l.client.IsEnabled() || e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	doc := AuditEvent{
		Timestamp:      e.CreatedAt,
		PaymentID:      p.ID,
		Gateway:        p.Gateway,
		Status:         string(p.Status),
		EventType:      e.Type,
		Source:         string(e.Source),
		ProcessorTxnID: e.ProcessorTxnID,
		Message:        e.Message,
		Amount:         p.Amount.StringFixed(2),
		Currency:       p.Currency,
		Payload:        SanitizeForLog(string(e.Payload)),
	}
	var docID string
	if e.ID != 0 {
		docID = fmt.Sprintf("%s-%d", p.ID, e.ID)
	}
	if err := l.index(ctx, l.client.EventIndex(), docID, doc); err != nil {
		l.log.Warn("Failed to index payment event", logger.LogContext{
			Gateway:   p.Gateway,
			PaymentID: p.ID,
			Fields:    map[string]any{"event_type": e.Type, "error": err.Error()},
		})
	}
}

func (l *Logger) index(ctx context.Context, index, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	req := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}
	return nil
}

// PaymentEvents returns the audit trail of one payment, newest first
func (l *Logger) PaymentEvents(ctx context.Context, paymentID string, size int) ([]AuditEvent, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("opensearch indexing is disabled")
	}
	if size <= 0 {
		size = 100
	}
	query, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"payment_id": paymentID},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{l.client.EventIndex()},
		Body:  bytes.NewReader(query),
	}
	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source AuditEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}
	events := make([]AuditEvent, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		events[i] = hit.Source
	}
	return events, nil
}

var sensitivePatterns = func() []*regexp.Regexp {
	fields := []string{
		"token", "card_number", "cardNumber", "cvv", "cvc",
		"api_key", "apiKey", "secret", "password", "authorization",
	}
	out := make([]*regexp.Regexp, 0, len(fields))
	for _, field := range fields {
		out = append(out, regexp.MustCompile(fmt.Sprintf(`"(%s)"\s*:\s*"[^"]*"`, regexp.QuoteMeta(field))))
	}
	return out
}()

// SanitizeForLog redacts credential-like JSON string fields
func SanitizeForLog(data string) string {
	for _, re := range sensitivePatterns {
		data = re.ReplaceAllString(data, `"$1":"***REDACTED***"`)
	}
	return data
}
