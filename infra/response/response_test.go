package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()

	Success(w, http.StatusCreated, "Created", map[string]string{"key": "value"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, map[string]any{"key": "value"}, resp.Data)
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "Test error", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.ErrorCode)
}

func TestFailResponse(t *testing.T) {
	w := httptest.NewRecorder()

	Fail(w, http.StatusConflict, "state_conflict", "Payment cannot be captured", errors.New("cannot capture"), map[string]string{"payment_id": "p1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "state_conflict", resp.ErrorCode)
	assert.Equal(t, "cannot capture", resp.Error)
	assert.Equal(t, map[string]any{"payment_id": "p1"}, resp.Data)
}

func BenchmarkSuccessResponse(b *testing.B) {
	data := map[string]string{"test": "data"}

	for b.Loop() {
		w := httptest.NewRecorder()
		Success(w, http.StatusOK, "Benchmark test", data)
	}
}
