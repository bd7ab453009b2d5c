package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/logging"
	"github.com/rpattn/bulkorders/internal/repository"
)

type emptyOrderRepo struct {
	repository.OrderRepository
}

func (emptyOrderRepo) GetByIDs(context.Context, []uuid.UUID) ([]domain.Order, error) {
	return nil, nil
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(logging.New(&buf, "info", "text"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "status=418")
	assert.Contains(t, buf.String(), "path=/healthz")
	assert.Contains(t, buf.String(), "bytes=15")
}

func TestResponseWriterFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.Flush()
	assert.True(t, rec.Flushed)
}

func TestDataLoaderMiddlewareAttachesLoader(t *testing.T) {
	var seen bool
	handler := DataLoaderMiddleware(emptyOrderRepo{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loader := OrderLoaderFromContext(r.Context())
		require.NotNil(t, loader)
		found, err := loader.LoadMany(r.Context(), []uuid.UUID{uuid.New()})
		require.NoError(t, err)
		assert.Empty(t, found)
		seen = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, seen)
	assert.Nil(t, OrderLoaderFromContext(context.Background()))
}
