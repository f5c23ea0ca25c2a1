package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/zonectl/internal/dispatch"
	"github.com/mattjoyce/zonectl/internal/events"
	"github.com/mattjoyce/zonectl/internal/journal"
	"github.com/mattjoyce/zonectl/internal/zone"
)

// mockHistory implements History for testing
type mockHistory struct {
	mu      sync.Mutex
	zone    string
	limit   int
	entries []journal.Entry
	err     error
}

func (m *mockHistory) Recent(_ context.Context, zoneName string, limit int) ([]journal.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zone, m.limit = zoneName, limit
	return m.entries, m.err
}

type testDevice struct{ name string }

func (d *testDevice) Name() string { return d.name }

type testEnv struct {
	server     *Server
	dispatcher *dispatch.Dispatcher
	hub        *events.Hub
	history    *mockHistory
	handler    http.Handler
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := events.NewHub(64)
	d := dispatch.New(dispatch.Options{
		Worker: zone.DefaultOptions(),
		Logger: logger,
		Events: hub,
	})
	t.Cleanup(d.ResetAll)

	history := &mockHistory{}
	srv := New(Config{Listen: "127.0.0.1:0", Token: token}, d, history, hub, logger)
	return &testEnv{
		server:     srv,
		dispatcher: d,
		hub:        hub,
		history:    history,
		handler:    srv.Handler(),
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthzNoAuth(t *testing.T) {
	env := newTestEnv(t, "secret")
	require.NoError(t, env.dispatcher.DispatchCommand(zone.NewFunc("play", nil), "Kitchen"))

	rr := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Zones)
	assert.Equal(t, 1, resp.Pending)
	assert.False(t, resp.Stopping)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic secret"}, http.StatusUnauthorized},
		{"blank token", []string{"Authorization", "Bearer   "}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", []string{"Authorization", "Bearer secret"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/zones", "", tt.header...)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, http.MethodGet, "/zones", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDispatchQueuesOnUndiscoveredZone(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodPost, "/zones/kitchen/commands", `{"action":"volume:level=20"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	resp := decode[CommandResponse](t, rr)
	assert.Equal(t, "KITCHEN", resp.Zone)
	assert.Equal(t, "volume", resp.Action)
	assert.Equal(t, map[string]string{"level": "20"}, resp.Params)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.CommandID)

	rr = env.do(t, http.MethodGet, "/zones/Kitchen", "")
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[dispatch.ZoneStatus](t, rr)
	assert.Equal(t, "KITCHEN", st.Zone)
	assert.False(t, st.Discovered)
	assert.Equal(t, 1, st.Pending)
}

func TestDispatchWithExplicitParams(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodPost, "/zones/Office/commands", `{"action":"play","params":{"uri":"radio:1"}}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decode[CommandResponse](t, rr)
	assert.Equal(t, "play", resp.Action)
	assert.Equal(t, map[string]string{"uri": "radio:1"}, resp.Params)
}

func TestDispatchBadRequests(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty action", `{"action":"  "}`},
		{"empty action with params", `{"action":"","params":{"a":"b"}}`},
		{"malformed param", `{"action":"volume:level"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/zones/Kitchen/commands", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[ErrorResponse](t, rr).Error)
		})
	}
	assert.Empty(t, env.dispatcher.ZoneNames())
}

func TestGetUnknownZone(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, http.MethodGet, "/zones/attic", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "zone not found", decode[ErrorResponse](t, rr).Error)
}

func TestListZonesSorted(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.dispatcher.RegisterZoneAsAvailable(&testDevice{name: "o-1"}, "office"))
	require.NoError(t, env.dispatcher.DispatchCommand(zone.NewFunc("play", nil), "Den"))

	rr := env.do(t, http.MethodGet, "/zones", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[ZoneListResponse](t, rr)
	require.Len(t, resp.Zones, 2)
	assert.Equal(t, "DEN", resp.Zones[0].Zone)
	assert.Equal(t, "OFFICE", resp.Zones[1].Zone)
	assert.Equal(t, "o-1", resp.Zones[1].Device)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, "")
	env.history.entries = []journal.Entry{{ID: "1", Zone: "KITCHEN", Command: "play", Status: journal.StatusSucceeded}}

	rr := env.do(t, http.MethodGet, "/zones/kitchen/history?limit=5000", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[HistoryResponse](t, rr)
	assert.Equal(t, "KITCHEN", resp.Zone)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "KITCHEN", env.history.zone)
	assert.Equal(t, maxHistoryLimit, env.history.limit)

	rr = env.do(t, http.MethodGet, "/zones/kitchen/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultHistoryLimit, env.history.limit)

	rr = env.do(t, http.MethodGet, "/zones/kitchen/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	env.history.err = errors.New("disk gone")
	rr = env.do(t, http.MethodGet, "/zones/kitchen/history", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHistoryDisabled(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	d := dispatch.New(dispatch.Options{Worker: zone.DefaultOptions(), Logger: logger})
	t.Cleanup(d.ResetAll)
	srv := New(Config{}, d, nil, nil, logger)

	for _, path := range []string{"/zones/kitchen/history", "/events"} {
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}
}

func TestSummaryReportsUndiscoveredZone(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.dispatcher.DispatchCommand(zone.NewFunc("play", nil), "Office"))

	rr := env.do(t, http.MethodGet, "/summary", "")
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[dispatch.Report](t, rr)
	assert.Contains(t, report.Problems, "Zone [OFFICE] hasn't been found on the network by discovery")
	assert.Contains(t, report.Problems, "Zone [OFFICE] has 1 awaiting command(s) that won't be processed")
}

func TestStopRejectsFurtherCommands(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.dispatcher.RegisterZoneAsAvailable(&testDevice{name: "k"}, "Kitchen"))

	rr := env.do(t, http.MethodPost, "/stop", "")
	require.Equal(t, http.StatusAccepted, rr.Code)

	w, ok := env.dispatcher.Lookup("kitchen")
	require.True(t, ok)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	rr = env.do(t, http.MethodPost, "/zones/Kitchen/commands", `{"action":"play"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodGet, "/healthz", "")
	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "stopping", resp.Status)
	assert.True(t, resp.Stopping)
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.dispatcher.DispatchCommand(zone.NewFunc("play", nil), "Kitchen"))

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?type=zone.", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Replayed from the buffer.
	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, "event: "+events.ZoneCreated, nextEventLine(t, scanner))

	// Delivered live.
	require.NoError(t, env.dispatcher.RegisterZoneAsAvailable(&testDevice{name: "k"}, "kitchen"))
	assert.Equal(t, "event: "+events.ZoneAvailable, nextEventLine(t, scanner))
}

func nextEventLine(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
			return line
		}
	}
	t.Fatalf("stream ended: %v", scanner.Err())
	return ""
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}

func TestOpenAPIDoc(t *testing.T) {
	env := newTestEnv(t, "secret")

	rr := env.do(t, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)

	doc := decode[map[string]any](t, rr)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/healthz", "/zones", "/zones/{zone}", "/zones/{zone}/commands", "/zones/{zone}/history", "/summary", "/stop", "/events"} {
		assert.Contains(t, paths, p)
	}
	assert.Contains(t, doc, "components")

	unsecured := buildOpenAPIDoc(false)
	assert.NotContains(t, unsecured, "components")
}
