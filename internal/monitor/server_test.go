package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/wsclient/internal/metrics"
	"github.com/sawpanic/wsclient/internal/ws"
)

type fakeStatus struct{ st ws.Status }

func (f fakeStatus) Status() ws.Status { return f.st }

type fakeReports struct {
	reports []ws.ErrorReport
	err     error
	limit   int
}

func (f *fakeReports) Recent(ctx context.Context, limit int) ([]ws.ErrorReport, error) {
	f.limit = limit
	return f.reports, f.err
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	up := NewServer(DefaultConfig(), fakeStatus{ws.Status{Active: true, Connected: true}}, nil, nil, zerolog.Nop())
	rec := do(t, up.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	down := NewServer(DefaultConfig(), fakeStatus{ws.Status{Active: true}}, nil, nil, zerolog.Nop())
	rec = do(t, down.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	st := ws.Status{Host: "ws://x/ws", Active: true, Connected: true, ConnID: "abc", Connects: 3, LastSent: "hi"}
	s := NewServer(DefaultConfig(), fakeStatus{st}, nil, nil, zerolog.Nop())

	rec := do(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got ws.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, st.Host, got.Host)
	assert.Equal(t, uint64(3), got.Connects)
	assert.Equal(t, "hi", got.LastSent)
	assert.NotContains(t, rec.Body.String(), `"metrics"`)
}

func TestStatusWithMetricsAndThrottling(t *testing.T) {
	const host = "ws://x/ws"
	collector := metrics.NewCollector()
	collector.ObserveConnect(host)
	collector.ObserveReceive(host, 42)
	collector.ObserveError(host, ws.KindDecode)

	st := ws.Status{Host: host, Active: true, DialThrottled: true}
	s := NewServer(DefaultConfig(), fakeStatus{st}, nil, collector, zerolog.Nop())

	rec := do(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Host          string                `json:"host"`
		DialThrottled bool                  `json:"dial_throttled"`
		Metrics       *metrics.HostSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, host, got.Host)
	assert.True(t, got.DialThrottled)
	require.NotNil(t, got.Metrics)
	assert.Equal(t, 1.0, got.Metrics.Connects)
	assert.True(t, got.Metrics.Connected)
	assert.Equal(t, 42.0, got.Metrics.BytesIn)
	assert.Equal(t, 1.0, got.Metrics.Errors["decode"])
}

func TestReports(t *testing.T) {
	reports := &fakeReports{reports: []ws.ErrorReport{{Kind: "decode", Time: time.Now().UTC()}}}
	s := NewServer(DefaultConfig(), fakeStatus{}, reports, nil, zerolog.Nop())

	rec := do(t, s.Handler(), "/reports?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, reports.limit)

	var got []ws.ErrorReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "decode", got[0].Kind)

	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), "/reports?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), "/reports?limit=0").Code)

	reports.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, s.Handler(), "/reports").Code)
	assert.Equal(t, 50, reports.limit)
}

func TestReportsWithoutStore(t *testing.T) {
	s := NewServer(DefaultConfig(), fakeStatus{}, nil, nil, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), "/reports").Code)
}

func TestMetrics(t *testing.T) {
	collector := metrics.NewCollector()
	collector.ObserveConnect("ws://x/ws")
	s := NewServer(DefaultConfig(), fakeStatus{}, nil, collector, zerolog.Nop())

	rec := do(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wsclient_connects_total")

	noMetrics := NewServer(DefaultConfig(), fakeStatus{}, nil, nil, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, noMetrics.Handler(), "/metrics").Code)
}

func TestNotFound(t *testing.T) {
	s := NewServer(DefaultConfig(), fakeStatus{}, nil, nil, zerolog.Nop())
	rec := do(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")
}

func TestStartAndShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg, fakeStatus{}, nil, nil, zerolog.Nop())

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errc)
}
