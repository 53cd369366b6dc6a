package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"watchlist-dashboard/internal/config"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/quotes"
	"watchlist-dashboard/internal/resilience"
)

// newTestApp returns an App with a config rooted in a temp dir and no
// provider access.
func newTestApp(t *testing.T) *App {
	t.Helper()
	for _, key := range []string{config.EnvAPIKey, config.EnvBaseURL, config.EnvInterval, config.EnvWatchlist} {
		t.Setenv(key, "")
	}
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Logging.File = false
	cfg.Notifications.Enabled = false
	return &App{Config: cfg, Logger: zerolog.Nop()}
}

func runCmd(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd(app)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// fixedQuotes serves the given quotes and ignores the requested symbols.
func fixedQuotes(qs ...models.RawQuote) quotes.Fetcher {
	return quotes.FetcherFunc(func(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
		return qs, nil
	})
}

func writeWatchlistFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "core.yaml")
	doc := `stocks:
  - symbol: nvda
    name: NVIDIA
    targetEntry: 169
  - symbol: MSFT
    name: Microsoft
  - symbol: AMD
    targetEntry: 100
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	app := newTestApp(t)

	out, err := runCmd(t, app, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("output %q missing version %s", out, Version)
	}
}

func TestWatchlistImportListAndCheck(t *testing.T) {
	app := newTestApp(t)
	file := writeWatchlistFile(t)

	if _, err := runCmd(t, app, "watchlist", "import", file, "--list", "core"); err != nil {
		t.Fatalf("import error = %v", err)
	}

	out, err := runCmd(t, app, "--json", "watchlist", "list", "--stored")
	if err != nil {
		t.Fatalf("list --stored error = %v", err)
	}
	if !strings.Contains(out, `"core"`) {
		t.Errorf("stored list missing core: %s", out)
	}

	app.Config.Watchlist.Source = config.SourceStore
	app.Config.Watchlist.Name = "core"
	app.Fetcher = fixedQuotes(
		models.RawQuote{Symbol: "NVDA", Price: 160, Change: -2, ChangePercent: -1.2},
		models.RawQuote{Symbol: "MSFT", Price: 400, Change: -26, ChangePercent: -6.1},
		models.RawQuote{Symbol: "AMD", Price: 104, Change: 1, ChangePercent: 1},
	)

	out, err = runCmd(t, app, "--json", "check")
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}

	want := []struct {
		symbol string
		status models.Status
	}{
		{"NVDA", models.StatusBuy},
		{"MSFT", models.StatusAlert},
		{"AMD", models.StatusNear},
	}
	if len(snap.Stocks) != len(want) {
		t.Fatalf("got %d stocks, want %d", len(snap.Stocks), len(want))
	}
	for i, w := range want {
		if snap.Stocks[i].Symbol != w.symbol || snap.Stocks[i].Status != w.status {
			t.Errorf("stocks[%d] = %s/%s, want %s/%s", i,
				snap.Stocks[i].Symbol, snap.Stocks[i].Status, w.symbol, w.status)
		}
	}
	if snap.State != models.PollSuccess {
		t.Errorf("State = %s, want success", snap.State)
	}
}

func TestCheckTableOutput(t *testing.T) {
	app := newTestApp(t)

	out, err := runCmd(t, app, "--demo", "check")
	if err != nil {
		t.Fatalf("check --demo error = %v", err)
	}
	for _, want := range []string{"Watchlist: builtin", "NVDA", "NEAR", "$169.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckFetchErrorFails(t *testing.T) {
	app := newTestApp(t)
	app.Fetcher = quotes.FetcherFunc(func(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
		return nil, errors.New("provider down")
	})

	out, err := runCmd(t, app, "check")
	if err == nil {
		t.Fatal("expected error from failed fetch")
	}
	if !strings.Contains(out, "Quote fetch failed") {
		t.Errorf("output %q missing failure message", out)
	}
}

func TestCheckWithoutAPIKey(t *testing.T) {
	app := newTestApp(t)

	_, err := runCmd(t, app, "check")
	if !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Fatalf("error = %v, want config error", err)
	}
	if !strings.Contains(err.Error(), config.EnvAPIKey) {
		t.Errorf("error %q does not name %s", err, config.EnvAPIKey)
	}
}

func TestWatchlistAddRemove(t *testing.T) {
	app := newTestApp(t)

	if _, err := runCmd(t, app, "watchlist", "add", "tsla", "--target", "180", "--list", "ev"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	out, err := runCmd(t, app, "--json", "watchlist", "list", "--list", "ev")
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, `"TSLA"`) || !strings.Contains(out, `"targetEntry": 180`) {
		t.Errorf("list output missing TSLA with target: %s", out)
	}

	if _, err := runCmd(t, app, "watchlist", "remove", "TSLA", "--list", "ev"); err != nil {
		t.Fatalf("remove error = %v", err)
	}
	_, err = runCmd(t, app, "watchlist", "remove", "TSLA", "--list", "ev")
	if !errors.Is(err, apperrors.ErrDataNotFound) {
		t.Errorf("second remove error = %v, want not found", err)
	}
}

func TestWatchlistAddRejectsBadInput(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad symbol", []string{"watchlist", "add", "NV DA!"}},
		{"negative target", []string{"watchlist", "add", "NVDA", "--target", "-5"}},
		{"zero target", []string{"watchlist", "add", "NVDA", "--target", "0"}},
		{"bad list name", []string{"watchlist", "add", "NVDA", "--list", "../etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCmd(t, app, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWatchlistValidate(t *testing.T) {
	app := newTestApp(t)

	out, err := runCmd(t, app, "watchlist", "validate", writeWatchlistFile(t))
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "3 symbols, 2 with a target entry") {
		t.Errorf("unexpected output %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"stocks":[{"symbol":"NVDA","targetEntry":-1}]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, app, "watchlist", "validate", bad); err == nil {
		t.Error("expected error for negative target")
	}
}

func TestWatchlistExport(t *testing.T) {
	app := newTestApp(t)
	if _, err := runCmd(t, app, "watchlist", "import", writeWatchlistFile(t), "--list", "core"); err != nil {
		t.Fatalf("import error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "out.json")
	if _, err := runCmd(t, app, "watchlist", "export", path, "--list", "core"); err != nil {
		t.Fatalf("export error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"NVDA"`) {
		t.Errorf("export missing NVDA: %s", data)
	}
}

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	output := NewPlainOutput(&buf, false)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	snap := models.Snapshot{
		State: models.PollSuccess,
		Cycle: 4,
		Stocks: []models.ClassifiedStock{
			{
				WatchlistEntry:  models.WatchlistEntry{Symbol: "NVDA", Name: "NVIDIA", TargetEntry: models.Float(169)},
				Price:           160,
				Change:          -2,
				ChangePercent:   -1.2,
				Status:          models.StatusBuy,
				DistancePercent: models.Float(-5.33),
			},
			{
				WatchlistEntry: models.WatchlistEntry{Symbol: "MSFT"},
				Price:          400,
				Status:         models.StatusHold,
			},
		},
		UpdatedAt: now.Add(-30 * time.Second),
	}

	renderDashboard(output, snap, now)
	out := buf.String()

	for _, want := range []string{"BUY", "NVDA", "$160.00", "$169.00", "-5.33%", "HOLD", "MSFT", "30s ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "NVDA") > strings.Index(out, "MSFT") {
		t.Error("rows not in snapshot order")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain output contains ANSI codes")
	}
}

func TestRenderDashboardEmptyAndPlaceholder(t *testing.T) {
	var buf bytes.Buffer
	output := NewPlainOutput(&buf, false)

	renderDashboard(output, models.Snapshot{}, time.Now())
	if !strings.Contains(buf.String(), "No quotes yet") {
		t.Errorf("empty dashboard output %q", buf.String())
	}

	buf.Reset()
	renderDashboard(output, models.Snapshot{
		Placeholder: true,
		Stocks:      []models.ClassifiedStock{{WatchlistEntry: models.WatchlistEntry{Symbol: "AMD"}, Status: models.StatusHold}},
	}, time.Now())
	if !strings.Contains(buf.String(), "placeholder") {
		t.Errorf("placeholder warning missing: %q", buf.String())
	}
}

func TestWatchStatusLine(t *testing.T) {
	output := NewPlainOutput(&bytes.Buffer{}, false)
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	line := watchStatusLine(output, models.Snapshot{
		State:     models.PollError,
		Cycle:     7,
		UpdatedAt: now.Add(-2 * time.Minute),
		Error:     "fetch error [fmp]: timeout",
		InFlight:  1,
	}, time.Minute, now)

	for _, want := range []string{"error", "cycle 7", "updated 2m 0s ago", "every 1m 0s", "1 in flight", "last error: fetch error"} {
		if !strings.Contains(line, want) {
			t.Errorf("status line %q missing %q", line, want)
		}
	}
}

func TestReadCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := readCommands(ctx, strings.NewReader("R\n\n  q  \n"))
	var got []string
	for line := range ch {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "r" || got[1] != "q" {
		t.Errorf("readCommands = %v, want [r q]", got)
	}
}

func TestFetcherGuardedByBreaker(t *testing.T) {
	app := newTestApp(t)
	app.Config.Credentials.APIKey = "test-key"

	f, err := app.fetcher(nil)
	if err != nil {
		t.Fatalf("fetcher() error = %v", err)
	}
	if _, ok := f.(*resilience.GuardedFetcher); !ok || app.breaker == nil {
		t.Errorf("fetcher = %T, want breaker-guarded", f)
	}

	app.breaker = nil
	app.Config.Provider.BreakerThreshold = 0
	f, err = app.fetcher(nil)
	if err != nil {
		t.Fatalf("fetcher() error = %v", err)
	}
	if _, ok := f.(*quotes.HTTPFetcher); !ok || app.breaker != nil {
		t.Errorf("fetcher = %T, want bare HTTP fetcher", f)
	}
}
