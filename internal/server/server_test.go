package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudedugcp/journald-broker/internal/metrics"
	"github.com/cloudedugcp/journald-broker/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(ready *atomic.Bool) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Addr: "127.0.0.1:0"}, logger, []rules.Rule{
		{Name: "disk-failure", Pattern: "disk failure", Script: "/usr/local/bin/disk.sh", Timeout: 20 * time.Second},
		{Name: "usb-reset", Pattern: `usb \d+`, Delay: time.Minute, Script: "/usr/local/bin/usb.sh"},
	}, ready.Load)
}

func TestHealth(t *testing.T) {
	var ready atomic.Bool
	h := newTestServer(&ready).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEvents(t *testing.T) {
	var ready atomic.Bool
	h := newTestServer(&ready).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var events []eventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Equal(t, []eventView{
		{Name: "disk-failure", Message: "disk failure", Script: "/usr/local/bin/disk.sh", ScriptTimeout: "20s", Wait: true},
		{Name: "usb-reset", Message: `usb \d+`, Script: "/usr/local/bin/usb.sh", NextWatchDelay: "1m0s"},
	}, events)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics(t *testing.T) {
	var ready atomic.Bool
	h := newTestServer(&ready).Handler()
	metrics.RecordsTotal.Inc()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "journald_broker_records_total")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	s := newTestServer(&ready)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var ready atomic.Bool
	s := New(Config{Addr: ln.Addr().String()}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, ready.Load)
	assert.ErrorContains(t, s.Run(context.Background()), "listen on")
}
