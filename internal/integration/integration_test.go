// Package integration exercises the dashboard end to end: an HTTP quote
// provider, the poller, the cycle log and the HTTP API.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"watchlist-dashboard/internal/httpapi"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/poller"
	"watchlist-dashboard/internal/quotes"
	"watchlist-dashboard/internal/resilience"
	"watchlist-dashboard/internal/store"
	"watchlist-dashboard/internal/stream"
)

// provider is a fake quote API whose body and status can be swapped.
type provider struct {
	mu       sync.Mutex
	status   int
	body     string
	requests int
	lastPath string
	lastKey  string
}

func (p *provider) set(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status, p.body = status, body
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.lastPath = r.URL.Path
	p.lastKey = r.URL.Query().Get("apikey")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(p.status)
	fmt.Fprint(w, p.body)
}

func (p *provider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

var testWatchlist = []models.WatchlistEntry{
	{Symbol: "NVDA", Name: "NVIDIA", TargetEntry: models.Float(169)},
	{Symbol: "MSFT", Name: "Microsoft"},
	{Symbol: "AMD", TargetEntry: models.Float(100)},
	{Symbol: "AAPL", TargetEntry: models.Float(150)},
}

const firstQuotes = `[
  {"symbol":"NVDA","price":160,"change":-2,"changesPercentage":-1.2},
  {"symbol":"MSFT","price":"400.10","change":-26,"changesPercentage":-6.1},
  {"symbol":"AMD","price":104,"change":1,"changesPercentage":1},
  {"symbol":"AAPL","price":190,"change":0.5,"changesPercentage":0.3},
  {"symbol":"TSLA","price":250,"change":4,"changesPercentage":1.6}
]`

const secondQuotes = `[
  {"symbol":"NVDA","price":185,"change":3,"changesPercentage":1.6},
  {"symbol":"MSFT","price":402,"change":2,"changesPercentage":0.5},
  {"symbol":"AMD","price":-1,"change":0,"changesPercentage":0},
  {"symbol":"AAPL","price":149,"change":-1,"changesPercentage":-0.7}
]`

type env struct {
	provider *provider
	store    *store.SQLiteStore
	hub      *stream.Hub
	poller   *poller.Poller
	breaker  *resilience.Breaker
	api      *httptest.Server
	updates  <-chan models.Snapshot
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	prov := &provider{status: http.StatusOK, body: firstQuotes}
	upstream := httptest.NewServer(prov)
	t.Cleanup(upstream.Close)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "watchdash.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := stream.NewHub()
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("hub.Start() error = %v", err)
	}
	t.Cleanup(hub.Stop)

	breaker := resilience.NewBreaker("provider", resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})
	fetcher := resilience.Guard(breaker, quotes.NewHTTPFetcher(upstream.URL, "secret-key",
		quotes.WithTimeout(2*time.Second)))

	p, err := poller.New(poller.Config{
		Interval: time.Hour,
		Timeout:  2 * time.Second,
		Fallback: poller.FallbackStale,
	}, testWatchlist, fetcher,
		poller.WithPublisher(hub),
		poller.WithRecorder(st),
		poller.WithInstanceID("it"),
	)
	if err != nil {
		t.Fatalf("poller.New() error = %v", err)
	}

	updates := hub.Subscribe("it")
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		p.Stop(stopCtx)
	})

	api := httptest.NewServer(httpapi.NewServer(p, hub,
		httpapi.WithCycleLog(st),
		httpapi.WithProviderHealth(breaker),
	).Handler())
	t.Cleanup(api.Close)

	return &env{provider: prov, store: st, hub: hub, poller: p, breaker: breaker, api: api, updates: updates}
}

// waitFor returns the first published snapshot matching ok.
func waitFor(t *testing.T, updates <-chan models.Snapshot, ok func(models.Snapshot) bool) models.Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap := <-updates:
			if ok(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return models.Snapshot{}
		}
	}
}

func getJSON[T any](t *testing.T, url string) T {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
	return v
}

func refresh(t *testing.T, base string) httpapi.DashboardResponse {
	t.Helper()
	resp, err := http.Post(base+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/refresh: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/refresh: status %d", resp.StatusCode)
	}
	var out httpapi.DashboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func order(stocks []models.ClassifiedStock) string {
	parts := make([]string, len(stocks))
	for i, s := range stocks {
		parts[i] = s.Symbol + ":" + string(s.Status)
	}
	return strings.Join(parts, " ")
}

// TestEndToEndDashboard drives a full session: the initial cycle, a manual
// refresh with changed prices, a provider outage and the cycle log.
func TestEndToEndDashboard(t *testing.T) {
	e := setup(t)

	waitFor(t, e.updates, func(s models.Snapshot) bool { return s.State == models.PollSuccess })

	dash := getJSON[httpapi.DashboardResponse](t, e.api.URL+"/api/dashboard")
	if got, want := order(dash.Stocks), "NVDA:buy MSFT:alert AMD:near AAPL:hold"; got != want {
		t.Errorf("initial order = %q, want %q", got, want)
	}
	if dash.Counts[models.StatusBuy] != 1 || dash.Counts[models.StatusHold] != 1 {
		t.Errorf("counts = %v", dash.Counts)
	}
	if dash.Stocks[1].Price != 400.10 {
		t.Errorf("string-encoded price decoded as %v", dash.Stocks[1].Price)
	}

	e.provider.mu.Lock()
	if e.provider.lastPath != "/quote/NVDA,MSFT,AMD,AAPL" || e.provider.lastKey != "secret-key" {
		t.Errorf("provider request path=%q key=%q", e.provider.lastPath, e.provider.lastKey)
	}
	e.provider.mu.Unlock()

	// AMD's quote is invalid this time, so it drops out of the result set.
	e.provider.set(http.StatusOK, secondQuotes)
	dash = refresh(t, e.api.URL)
	if got, want := order(dash.Stocks), "AAPL:buy NVDA:hold MSFT:hold"; got != want {
		t.Errorf("refreshed order = %q, want %q", got, want)
	}
	if dash.State != models.PollSuccess || dash.Cycle != 2 {
		t.Errorf("refreshed state = %s cycle = %d", dash.State, dash.Cycle)
	}

	// Outage: the previous results stay on display with the error.
	e.provider.set(http.StatusBadGateway, `{"message":"upstream unavailable"}`)
	dash = refresh(t, e.api.URL)
	if dash.State != models.PollError || dash.Error == "" {
		t.Errorf("outage state = %s error = %q", dash.State, dash.Error)
	}
	if got, want := order(dash.Stocks), "AAPL:buy NVDA:hold MSFT:hold"; got != want {
		t.Errorf("stale order = %q, want %q", got, want)
	}
	if strings.Contains(dash.Error, "secret-key") {
		t.Errorf("error leaks the API key: %q", dash.Error)
	}

	cycles := getJSON[httpapi.CyclesResponse](t, e.api.URL+"/api/cycles")
	if len(cycles.Cycles) != 3 {
		t.Fatalf("got %d cycles, want 3", len(cycles.Cycles))
	}
	outcomes := map[models.CycleOutcome]int{}
	for _, c := range cycles.Cycles {
		outcomes[c.Outcome]++
		if c.Instance != "it" {
			t.Errorf("cycle instance = %q", c.Instance)
		}
	}
	if outcomes[models.OutcomeSuccess] != 2 || outcomes[models.OutcomeError] != 1 {
		t.Errorf("outcomes = %v", outcomes)
	}

	failed := getJSON[httpapi.CyclesResponse](t, e.api.URL+"/api/cycles?outcome=error")
	if len(failed.Cycles) != 1 || failed.Cycles[0].Trigger != models.TriggerManual {
		t.Errorf("error cycles = %+v", failed.Cycles)
	}
}

// A second failure opens the breaker; later cycles fail without calling the
// provider and /healthz reports degraded.
func TestProviderBreakerOpens(t *testing.T) {
	e := setup(t)
	waitFor(t, e.updates, func(s models.Snapshot) bool { return s.State == models.PollSuccess })

	e.provider.set(http.StatusInternalServerError, `{}`)
	refresh(t, e.api.URL)
	refresh(t, e.api.URL)
	if e.breaker.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", e.breaker.State())
	}

	before := e.provider.count()
	dash := refresh(t, e.api.URL)
	if e.provider.count() != before {
		t.Error("provider called while the breaker is open")
	}
	if dash.State != models.PollError || !strings.Contains(dash.Error, "circuit open") {
		t.Errorf("state = %s error = %q", dash.State, dash.Error)
	}

	health := getJSON[httpapi.HealthResponse](t, e.api.URL+"/healthz")
	if health.Status != "degraded" || health.Provider == nil || health.Provider.TotalRejected != 1 {
		t.Errorf("health = %+v provider = %+v", health, health.Provider)
	}
}

func TestWebSocketReceivesRefresh(t *testing.T) {
	e := setup(t)
	waitFor(t, e.updates, func(s models.Snapshot) bool { return s.State == models.PollSuccess })

	wsURL := "ws" + strings.TrimPrefix(e.api.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() httpapi.SnapshotMsg {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg httpapi.SnapshotMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != httpapi.MsgSnapshot || msg.Snapshot.Cycle != 1 {
		t.Fatalf("initial message = %+v", msg)
	}

	e.provider.set(http.StatusOK, secondQuotes)
	if err := conn.WriteJSON(httpapi.ControlMsg{Type: httpapi.MsgControl, Action: "refresh"}); err != nil {
		t.Fatal(err)
	}
	for {
		msg := read()
		if msg.Type == httpapi.MsgSnapshot && msg.Snapshot.Cycle == 2 && msg.Snapshot.State == models.PollSuccess {
			if got := order(msg.Snapshot.Stocks); got != "AAPL:buy NVDA:hold MSFT:hold" {
				t.Errorf("pushed order = %q", got)
			}
			return
		}
	}
}
