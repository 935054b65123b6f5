package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/mstgnz/payflow/payment"
)

type request struct {
	method string
	path   string
	body   string
}

// fakeCluster answers just enough of the OpenSearch API for the client
type fakeCluster struct {
	mu       sync.Mutex
	requests []request
	search   string
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, request{method: r.Method, path: r.URL.Path, body: string(body)})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_, _ = w.Write([]byte(f.search))
	case strings.Contains(r.URL.Path, "/_doc"):
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	default:
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}
}

func (f *fakeCluster) find(method, pathPart string) []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []request
	for _, r := range f.requests {
		if r.method == method && strings.Contains(r.path, pathPart) {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, enabled bool) (*Client, *fakeCluster) {
	t.Helper()
	cluster := &fakeCluster{}
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: srv.URL, Enabled: enabled, IndexPrefix: "test"}, logger.NewNop())
	require.NoError(t, err)
	return client, cluster
}

func TestNewClient_CreatesIndices(t *testing.T) {
	client, cluster := newTestClient(t, true)

	assert.Equal(t, "test-system-logs", client.SystemLogIndex())
	assert.Equal(t, "test-payment-events", client.EventIndex())
	assert.Len(t, cluster.find(http.MethodHead, "test-"), 2)
	assert.Len(t, cluster.find(http.MethodPut, "/test-payment-events"), 1)
	assert.Len(t, cluster.find(http.MethodPut, "/test-system-logs"), 1)
}

func TestNewClient_DisabledSkipsSetup(t *testing.T) {
	client, cluster := newTestClient(t, false)

	assert.False(t, client.IsEnabled())
	assert.NotNil(t, client.GetClient())
	assert.Empty(t, cluster.find(http.MethodHead, ""))
}

func TestLogger_LogSystemEvent(t *testing.T) {
	client, cluster := newTestClient(t, true)
	l := NewLogger(client, nil)

	err := l.LogSystemEvent(context.Background(), logger.SystemLog{
		Timestamp: time.Now(),
		Level:     logger.LevelInfo,
		Message:   "hello",
	})
	require.NoError(t, err)

	docs := cluster.find(http.MethodPost, "/test-system-logs/_doc")
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].body, `"message":"hello"`)
}

func TestLogger_PublishMirrorsEvent(t *testing.T) {
	client, cluster := newTestClient(t, true)
	l := NewLogger(client, logger.NewNop())

	p := payment.New("example", decimal.NewFromInt(100), "ZAR")
	p.Status = payment.StatusAuthorised
	e := payment.NewEvent(p.ID, "authorise_attempt", "authorise succeeded", payment.SourceGateway,
		map[string]any{"token": "tok_secret", "success": true})
	e.ID = 7

	l.Publish(context.Background(), p, e)

	docs := cluster.find(http.MethodPut, "/test-payment-events/_doc/"+p.ID+"-7")
	require.Len(t, docs, 1)

	var doc AuditEvent
	require.NoError(t, json.Unmarshal([]byte(docs[0].body), &doc))
	assert.Equal(t, p.ID, doc.PaymentID)
	assert.Equal(t, "authorised", doc.Status)
	assert.Equal(t, "100.00", doc.Amount)
	assert.Equal(t, "gateway", doc.Source)
	assert.NotContains(t, doc.Payload, "tok_secret")
	assert.Contains(t, doc.Payload, "***REDACTED***")
}

func TestLogger_DisabledIsSilent(t *testing.T) {
	client, cluster := newTestClient(t, false)
	l := NewLogger(client, nil)

	require.NoError(t, l.LogSystemEvent(context.Background(), map[string]string{"m": "x"}))
	l.Publish(context.Background(), payment.New("example", decimal.NewFromInt(1), ""), &payment.Event{})
	_, err := l.PaymentEvents(context.Background(), "p1", 0)
	assert.Error(t, err)
	assert.Empty(t, cluster.find(http.MethodPost, ""))
	assert.Empty(t, cluster.find(http.MethodPut, ""))
}

func TestLogger_PaymentEvents(t *testing.T) {
	client, cluster := newTestClient(t, true)
	cluster.search = `{"hits":{"hits":[
		{"_source":{"payment_id":"p1","event_type":"refund_attempt","status":"captured"}},
		{"_source":{"payment_id":"p1","event_type":"capture_attempt","status":"captured"}}
	]}}`
	l := NewLogger(client, nil)

	events, err := l.PaymentEvents(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "refund_attempt", events[0].EventType)

	searches := cluster.find(http.MethodPost, "/test-payment-events/_search")
	require.Len(t, searches, 1)
	assert.Contains(t, searches[0].body, `"payment_id":"p1"`)
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"token", `{"token":"tok_123","amount":"10"}`, `{"token":"***REDACTED***","amount":"10"}`},
		{"spaced", `{"api_key" : "k"}`, `{"api_key":"***REDACTED***"}`},
		{"untouched", `{"amount":"10"}`, `{"amount":"10"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLog(tt.in))
		})
	}
}
