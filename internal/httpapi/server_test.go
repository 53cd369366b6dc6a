package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/resilience"
	"watchlist-dashboard/internal/store"
	"watchlist-dashboard/internal/stream"
)

type fakeDashboard struct {
	mu        sync.Mutex
	snap      models.Snapshot
	entries   []models.WatchlistEntry
	refreshes int
	err       error
	hub       *stream.Hub
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{
		snap: models.Snapshot{
			Instance: "dash-1",
			State:    models.PollSuccess,
			Cycle:    3,
			Stocks: []models.ClassifiedStock{
				{WatchlistEntry: models.WatchlistEntry{Symbol: "NVDA", TargetEntry: models.Float(169)}, Price: 160, Status: models.StatusBuy},
				{WatchlistEntry: models.WatchlistEntry{Symbol: "MSFT"}, Price: 410, Status: models.StatusHold},
			},
			UpdatedAt: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		},
		entries: []models.WatchlistEntry{
			{Symbol: "NVDA", TargetEntry: models.Float(169)},
			{Symbol: "MSFT"},
		},
	}
}

func (f *fakeDashboard) Instance() string { return "dash-1" }

func (f *fakeDashboard) Snapshot() models.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone()
}

func (f *fakeDashboard) Entries() []models.WatchlistEntry { return f.entries }

func (f *fakeDashboard) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.refreshes++
	f.snap.Cycle++
	snap := f.snap.Clone()
	err := f.err
	f.mu.Unlock()

	if f.hub != nil && err == nil {
		f.hub.Publish(snap)
	}
	return err
}

func (f *fakeDashboard) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeCycleLog struct {
	filter store.CycleFilter
}

func (f *fakeCycleLog) RecentCycles(ctx context.Context, filter store.CycleFilter) ([]models.CycleRecord, error) {
	f.filter = filter
	return []models.CycleRecord{{Instance: "dash-1", Cycle: 3, Outcome: models.OutcomeSuccess, Count: 2}}, nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDashboardEndpoint(t *testing.T) {
	srv := NewServer(newFakeDashboard(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[DashboardResponse](t, rec)
	if resp.Cycle != 3 || len(resp.Stocks) != 2 || resp.Stocks[0].Symbol != "NVDA" {
		t.Errorf("unexpected snapshot %+v", resp.Snapshot)
	}
	if resp.Counts[models.StatusBuy] != 1 || resp.Counts[models.StatusAlert] != 0 {
		t.Errorf("counts = %v", resp.Counts)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	dash := newFakeDashboard()
	srv := NewServer(dash, nil, WithRefreshLimit(1))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first refresh status = %d", rec.Code)
	}
	if resp := decode[DashboardResponse](t, rec); resp.Cycle != 4 {
		t.Errorf("Cycle = %d, want 4", resp.Cycle)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second refresh status = %d, want 429", rec.Code)
	}
	if dash.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", dash.refreshCount())
	}
}

func TestRefreshEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not started", apperrors.ErrNotStarted, http.StatusServiceUnavailable},
		{"fetch failure still returns snapshot", apperrors.NewFetchError("http", 500, "bad", nil), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dash := newFakeDashboard()
			dash.err = tt.err
			rec := httptest.NewRecorder()
			NewServer(dash, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	dash := newFakeDashboard()
	dash.err = apperrors.NewFetchError("http", 502, "bad gateway", nil)
	srv := NewServer(dash, nil, WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var messages []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("log line %q: %v", scanner.Text(), err)
		}
		if line["method"] != "POST" || line["path"] != "/api/refresh" {
			t.Errorf("log line without request fields: %v", line)
		}
		messages = append(messages, line["message"].(string))
	}
	want := []string{"Manual refresh failed", "Request served"}
	if strings.Join(messages, "|") != strings.Join(want, "|") {
		t.Errorf("log messages = %v, want %v", messages, want)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(newFakeDashboard(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/refresh", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestWatchlistEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(newFakeDashboard(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	resp := decode[WatchlistResponse](t, rec)
	if len(resp.Stocks) != 2 || resp.Stocks[1].Symbol != "MSFT" || resp.Stocks[1].HasTarget() {
		t.Errorf("unexpected watchlist %+v", resp.Stocks)
	}
}

func TestCyclesEndpoint(t *testing.T) {
	log := &fakeCycleLog{}
	h := NewServer(newFakeDashboard(), nil, WithCycleLog(log)).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles?limit=9999&outcome=error", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if log.filter.Instance != "dash-1" || log.filter.Limit != maxCycleLimit || log.filter.Outcome != models.OutcomeError {
		t.Errorf("filter = %+v", log.filter)
	}
	if resp := decode[CyclesResponse](t, rec); len(resp.Cycles) != 1 {
		t.Errorf("cycles = %+v", resp.Cycles)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles?instance=all", nil))
	if log.filter.Instance != "" || log.filter.Limit != defaultCycleLimit {
		t.Errorf("filter = %+v", log.filter)
	}

	for _, q := range []string{"limit=-1", "limit=abc", "outcome=maybe"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestCyclesEndpointWithoutLog(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(newFakeDashboard(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(newFakeDashboard(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" || resp.State != models.PollSuccess || resp.LastSuccess == nil {
		t.Errorf("unexpected health %+v", resp)
	}
}

type fakeProvider struct{ state resilience.State }

func (f fakeProvider) Stats() resilience.BreakerStats {
	return resilience.BreakerStats{Name: "fmp", State: f.state}
}

func TestHealthzProvider(t *testing.T) {
	tests := []struct {
		state resilience.State
		want  string
	}{
		{resilience.StateClosed, "ok"},
		{resilience.StateOpen, "degraded"},
		{resilience.StateHalfOpen, "degraded"},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv := NewServer(newFakeDashboard(), nil, WithProviderHealth(fakeProvider{tt.state}))
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			resp := decode[HealthResponse](t, rec)
			if resp.Status != tt.want {
				t.Errorf("Status = %q, want %q", resp.Status, tt.want)
			}
			if resp.Provider == nil || resp.Provider.State != tt.state {
				t.Errorf("Provider = %+v", resp.Provider)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := NewServer(newFakeDashboard(), nil, WithAllowedOrigin("http://localhost:3000/")).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/refresh", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	rec = httptest.NewRecorder()
	NewServer(newFakeDashboard(), nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin without config = %q", got)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed string
		origin  string
		host    string
		want    bool
	}{
		{"no origin header", "", "", "api.local", true},
		{"same host", "", "http://api.local", "api.local", true},
		{"foreign host", "", "http://evil.example", "api.local", false},
		{"configured origin", "http://ui.local", "http://ui.local", "api.local", true},
		{"wildcard", "*", "http://anything", "api.local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(newFakeDashboard(), nil, WithAllowedOrigin(tt.allowed))
			r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]json.RawMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func msgType(msg map[string]json.RawMessage) string {
	var s string
	_ = json.Unmarshal(msg["type"], &s)
	return s
}

// readSnapshot reads until a snapshot message arrives.
func readSnapshot(t *testing.T, conn *websocket.Conn) models.Snapshot {
	t.Helper()
	for i := 0; i < 5; i++ {
		msg := readMsg(t, conn)
		if msgType(msg) != MsgSnapshot {
			continue
		}
		var snap models.Snapshot
		if err := json.Unmarshal(msg["snapshot"], &snap); err != nil {
			t.Fatal(err)
		}
		return snap
	}
	t.Fatal("no snapshot received")
	return models.Snapshot{}
}

func TestWebSocketStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub()
	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer hub.Stop()

	dash := newFakeDashboard()
	dash.hub = hub
	ts := httptest.NewServer(NewServer(dash, hub).Handler())
	defer ts.Close()

	conn := dialWS(t, ts)

	if snap := readSnapshot(t, conn); snap.Cycle != 3 || len(snap.Stocks) != 2 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	// Wait for the subscription to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetSubscriberCount("dash-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(models.Snapshot{Instance: "dash-1", State: models.PollLoading, Cycle: 3, InFlight: 1})
	if snap := readSnapshot(t, conn); snap.State != models.PollLoading || snap.InFlight != 1 {
		t.Fatalf("pushed snapshot = %+v", snap)
	}

	// Other instances are not forwarded; the refresh result is.
	hub.Publish(models.Snapshot{Instance: "other", Cycle: 99})
	if err := conn.WriteJSON(ControlMsg{Type: MsgControl, Action: "refresh"}); err != nil {
		t.Fatal(err)
	}
	if snap := readSnapshot(t, conn); snap.Cycle != 4 || snap.Instance != "dash-1" {
		t.Fatalf("refresh snapshot = %+v", snap)
	}
	if dash.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", dash.refreshCount())
	}
}

func TestWebSocketRefreshLimited(t *testing.T) {
	dash := newFakeDashboard()
	srv := NewServer(dash, nil, WithRefreshLimit(1))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Consume the only token.
	if !srv.allowRefresh() {
		t.Fatal("expected a token")
	}

	conn := dialWS(t, ts)
	readSnapshot(t, conn)

	if err := conn.WriteJSON(ControlMsg{Type: MsgControl, Action: "refresh"}); err != nil {
		t.Fatal(err)
	}
	msg := readMsg(t, conn)
	if msgType(msg) != MsgStatus || !strings.Contains(string(msg["text"]), "rate limit") {
		t.Errorf("unexpected message %v", msg)
	}
	if dash.refreshCount() != 0 {
		t.Errorf("refreshes = %d, want 0", dash.refreshCount())
	}
}

func TestWebSocketClosedOnHubStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub()
	_ = hub.Start(ctx)

	ts := httptest.NewServer(NewServer(newFakeDashboard(), hub).Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readSnapshot(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetSubscriberCount("dash-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	srv := NewServer(newFakeDashboard(), nil)
	go func() { errCh <- srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
