package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkorders/internal/auth"
	"github.com/rpattn/bulkorders/internal/clock"
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/internal/ingestion"
	"github.com/rpattn/bulkorders/internal/lifecycle"
	"github.com/rpattn/bulkorders/internal/notify"
	"github.com/rpattn/bulkorders/internal/repository/gormstore"
)

const uploadCSV = `clientReference,senderName,senderPhone,receiverName,receiverPhone,receiverAddress,receiverCity,packageCount,packageWeight,serviceType
INV-1,Acme,5550100,Bo,5550200,1 Main St,Springfield,1,1.5,STANDARD
INV-2,Acme,5550100,,5550200,1 Main St,Springfield,1,1.5,STANDARD
`

type fixture struct {
	server *Server
	hub    *notify.Hub
	clock  *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gormstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	store := gormstore.New(db)
	require.NoError(t, store.AutoMigrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	clk := clock.NewFixed(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	hub := notify.NewHub(16)
	orders := lifecycle.NewService(store, clk, hub)
	coordinator := ingestion.NewService(store, orders, clk, hub, ingestion.Config{})

	server := NewServer(Deps{Store: store, Ingestion: coordinator, Orders: orders, Hub: hub})
	return &fixture{server: server, hub: hub, clock: clk}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, data string) ingestion.BatchSummary {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "orders.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/batches", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var summary ingestion.BatchSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	return summary
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBatchEndpoints(t *testing.T) {
	f := newFixture(t)
	summary := f.upload(t, uploadCSV)
	assert.Equal(t, 1, summary.CreatedCount)
	assert.Equal(t, 1, summary.FailedCount)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches?status=completed&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []domain.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, summary.BatchID, batches[0].ID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/"+summary.BatchID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Batch domain.Batch `json:"batch"`
		Rows  []struct {
			RowIndex    int     `json:"rowIndex"`
			Status      string  `json:"status"`
			OrderStatus *string `json:"orderStatus"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, 2, detail.Batch.TotalRows)
	require.Len(t, detail.Rows, 2)
	for _, row := range detail.Rows {
		if row.Status == "CREATED" {
			require.NotNil(t, row.OrderStatus)
			assert.Equal(t, "PENDING", *row.OrderStatus)
		} else {
			assert.Nil(t, row.OrderStatus)
		}
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/7f1b8f6e-0000-4000-8000-000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchReport(t *testing.T) {
	f := newFixture(t)
	summary := f.upload(t, uploadCSV)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/"+summary.BatchID.String()+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "orders-")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "1,CREATED,CLIENT_REFERENCE,INV-1,"))
	assert.True(t, strings.HasPrefix(lines[2], "2,FAILED_VALIDATION,"))
	assert.Contains(t, lines[2], "receiverName")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/"+summary.BatchID.String()+"/report?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderTransitionEndpoints(t *testing.T) {
	f := newFixture(t)
	summary := f.upload(t, uploadCSV)

	var orderID string
	for _, row := range summary.Rows {
		if row.OrderID != nil {
			orderID = row.OrderID.String()
		}
	}
	require.NotEmpty(t, orderID)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders/"+orderID+"/status", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.ActorHeader, "dispatcher")
		return f.do(t, req)
	}

	rec := post(`{"status":"DELIVERED"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, lifecycle.CodeInvalidTransition, errBody.Code)

	rec = post(`{"status":"MISSING"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = post(`{"status":"CONFIRMED","latitude":91,"longitude":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = post(`{"status":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(`{"status":"confirmed","reason":"customer called"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var change lifecycle.StatusChange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &change))
	assert.Equal(t, domain.OrderStatusConfirmed, change.Order.Status)
	assert.Equal(t, "dispatcher", change.Event.ChangedBy)
	assert.Len(t, change.Order.History, 2)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/orders/"+orderID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Status             string   `json:"status"`
		AllowedTransitions []string `json:"allowedTransitions"`
		History            []any    `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "CONFIRMED", view.Status)
	assert.ElementsMatch(t, []string{"PICKED_UP", "CANCELLED"}, view.AllowedTransitions)
	assert.Len(t, view.History, 2)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?clientId=dashboard", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	f.hub.Publish(context.Background(), notify.EventBatchCompleted, map[string]int{"totalRows": 3})

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, notify.EventBatchCompleted, eventLine)
	assert.Contains(t, dataLine, `"totalRows":3`)
}

func TestEventStreamOutlivesWriteTimeout(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewUnstartedServer(f.server)
	ts.Config.WriteTimeout = 300 * time.Millisecond
	ts.Start()
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?clientId=long-lived", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	time.Sleep(2 * ts.Config.WriteTimeout)
	f.hub.Publish(context.Background(), notify.EventOrderCreated, map[string]string{"orderId": "late"})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err, "stream closed after the write timeout")
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, notify.EventOrderCreated, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
			return
		}
	}
}
