package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstgnz/payflow/infra/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*Record)}
}

func (m *memoryStore) Claim(_ context.Context, key, operation string) (bool, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		cp := *rec
		return false, &cp, nil
	}
	m.records[key] = &Record{Key: key, Operation: operation, State: StateInProgress, CreatedAt: time.Now()}
	return true, nil, nil
}

func (m *memoryStore) Complete(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return errors.New("missing record")
	}
	rec.State = StateCompleted
	rec.Result = append([]byte(nil), result...)
	return nil
}

func (m *memoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memoryStore) get(key string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key]
}

type result struct {
	TransactionID string `json:"transaction_id"`
	Attempt       int    `json:"attempt"`
}

type doubtful struct{ doubt bool }

func (d *doubtful) Error() string { return "gateway failure" }
func (d *doubtful) InDoubt() bool { return d.doubt }

func TestExecute_RunsOnceAndReplays(t *testing.T) {
	store := newMemoryStore()
	guard := NewGuard(store, logger.NewNop())
	var calls int32

	op := func(ctx context.Context) (*result, error) {
		n := atomic.AddInt32(&calls, 1)
		return &result{TransactionID: "txn_abc123", Attempt: int(n)}, nil
	}

	first, err := Execute(context.Background(), guard, "capture:p1", "capture", op)
	require.NoError(t, err)
	second, err := Execute(context.Background(), guard, "capture:p1", "capture", op)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, first, second)
	assert.Equal(t, StateCompleted, store.get("capture:p1").State)
	assert.JSONEq(t, `{"transaction_id":"txn_abc123","attempt":1}`, string(store.get("capture:p1").Result))
}

func TestExecute_ConcurrentCallersSingleWinner(t *testing.T) {
	store := newMemoryStore()
	guard := NewGuard(store, logger.NewNop())
	var calls int32
	unblock := make(chan struct{})
	started := make(chan struct{})

	op := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-unblock
		return "done", nil
	}

	winner := make(chan error, 1)
	go func() {
		_, err := Execute(context.Background(), guard, "authorise:p1", "authorise", op)
		winner <- err
	}()
	<-started

	var wg sync.WaitGroup
	var races int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(context.Background(), guard, "authorise:p1", "authorise", op)
			var race *RaceError
			if errors.As(err, &race) {
				atomic.AddInt32(&races, 1)
			}
		}()
	}
	wg.Wait()
	close(unblock)

	require.NoError(t, <-winner)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, int32(10), races)

	out, err := Execute(context.Background(), guard, "authorise:p1", "authorise", op)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestExecute_InProgressIsNeverSuccess(t *testing.T) {
	store := newMemoryStore()
	_, _, err := store.Claim(context.Background(), "void:p1", "void")
	require.NoError(t, err)

	guard := NewGuard(store, logger.NewNop(), WithResolver(func(ctx context.Context, rec *Record) (*Record, error) {
		return rec, nil
	}))

	called := false
	_, err = Execute(context.Background(), guard, "void:p1", "void", func(ctx context.Context) (bool, error) {
		called = true
		return true, nil
	})

	var race *RaceError
	require.ErrorAs(t, err, &race)
	assert.Equal(t, "void:p1", race.Key)
	assert.False(t, called)
}

func TestExecute_ReleasePolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantState bool
	}{
		{"definite_failure_released", &doubtful{doubt: false}, false},
		{"in_doubt_failure_kept", &doubtful{doubt: true}, true},
		{"cancellation_kept", context.Canceled, true},
		{"plain_error_released", errors.New("declined"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			guard := NewGuard(store, logger.NewNop())

			_, err := Execute(context.Background(), guard, "refund:p1:x", "refund", func(ctx context.Context) (int, error) {
				return 0, tt.err
			})
			assert.ErrorIs(t, err, tt.err)

			rec := store.get("refund:p1:x")
			if tt.wantState {
				require.NotNil(t, rec)
				assert.Equal(t, StateInProgress, rec.State)
			} else {
				assert.Nil(t, rec)
			}
		})
	}
}

func TestExecute_KeyConflict(t *testing.T) {
	store := newMemoryStore()
	guard := NewGuard(store, logger.NewNop())

	_, err := Execute(context.Background(), guard, "k1", "capture", func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	_, err = Execute(context.Background(), guard, "k1", "void", func(ctx context.Context) (int, error) { return 2, nil })
	var conflict *KeyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "capture", conflict.Existing)
}

func TestReleaseDefinite(t *testing.T) {
	assert.True(t, ReleaseDefinite(errors.New("x")))
	assert.False(t, ReleaseDefinite(context.DeadlineExceeded))
	assert.False(t, ReleaseDefinite(&doubtful{doubt: true}))
	assert.True(t, ReleaseDefinite(&doubtful{doubt: false}))
}
