package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"watchlist-dashboard/internal/config"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/notify"
	"watchlist-dashboard/internal/poller"
	"watchlist-dashboard/internal/quotes"
	"watchlist-dashboard/internal/resilience"
	"watchlist-dashboard/internal/store"
	"watchlist-dashboard/internal/watchlist"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore

	// Demo swaps the HTTP provider for deterministic placeholder quotes.
	Demo bool

	// Fetcher overrides the quote fetcher built from config; used by tests.
	Fetcher quotes.Fetcher

	// breaker guards the HTTP provider once fetcher has built it.
	breaker *resilience.Breaker
}

// ensureStore opens the SQLite store on first use.
func (app *App) ensureStore() (store.DataStore, error) {
	if app.Store != nil {
		return app.Store, nil
	}
	path := app.Config.Store.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.Wrap(err, "creating store directory")
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, apperrors.Wrap(err, "opening store")
	}
	app.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	app.Store = s
	return s, nil
}

// Close releases the store, if opened.
func (app *App) Close() error {
	if app.Store == nil {
		return nil
	}
	err := app.Store.Close()
	app.Store = nil
	return err
}

// watchlistSource builds the configured watchlist source.
func (app *App) watchlistSource() (watchlist.Source, error) {
	switch app.Config.Watchlist.Source {
	case config.SourceFile:
		return watchlist.NewFileSource(app.Config.Watchlist.Path), nil
	case config.SourceStore:
		s, err := app.ensureStore()
		if err != nil {
			return nil, err
		}
		return watchlist.NewStoreSource(s, app.Config.Watchlist.Name), nil
	default:
		return watchlist.Builtin(), nil
	}
}

// loadEntries loads and validates the active watchlist.
func (app *App) loadEntries(ctx context.Context) ([]models.WatchlistEntry, string, error) {
	src, err := app.watchlistSource()
	if err != nil {
		return nil, "", err
	}
	entries, err := watchlist.Load(ctx, src)
	if err != nil {
		return nil, src.Name(), err
	}
	app.Logger.Debug().Str("source", src.Name()).Int("symbols", len(entries)).Msg("Watchlist loaded")
	return entries, src.Name(), nil
}

// fetcher builds the quote fetcher for entries.
func (app *App) fetcher(entries []models.WatchlistEntry) (quotes.Fetcher, error) {
	if app.Fetcher != nil {
		return app.Fetcher, nil
	}
	if app.Demo {
		return quotes.NewDemoFetcher(entries), nil
	}
	if !app.Config.HasAPIKey() {
		return nil, apperrors.NewConfigError(config.EnvAPIKey,
			"no provider API key; set it in the environment or .env, or use --demo", nil)
	}

	p := app.Config.Provider
	logger := logging.WithOperation(app.Logger, "fetch")
	httpFetcher := quotes.NewHTTPFetcher(p.BaseURL, app.Config.Credentials.APIKey,
		quotes.WithPath(p.Path),
		quotes.WithTimeout(p.Timeout),
		quotes.WithRateLimit(p.MaxRequestsPerMinute),
		quotes.WithLogger(logger),
	)
	if p.BreakerThreshold == 0 {
		return httpFetcher, nil
	}

	app.breaker = resilience.NewBreaker("provider", resilience.BreakerConfig{
		FailureThreshold: p.BreakerThreshold,
		SuccessThreshold: 1,
		Cooldown:         p.BreakerCooldown,
	}, resilience.WithLogger(logger))
	return resilience.Guard(app.breaker, httpFetcher), nil
}

// notifier builds the configured notification fan-out.
func (app *App) notifier() *notify.MultiNotifier {
	return notify.NewMultiNotifier(&app.Config.Notifications)
}

// newPoller wires a poller for entries with the app's recorder and logger.
// A store that cannot be opened only disables the cycle log.
func (app *App) newPoller(entries []models.WatchlistEntry, opts ...poller.Option) (*poller.Poller, error) {
	fetcher, err := app.fetcher(entries)
	if err != nil {
		return nil, err
	}

	fallback, err := poller.ParseFallback(app.Config.Poller.Fallback)
	if err != nil {
		return nil, apperrors.NewConfigError("poller.fallback", err.Error(), nil)
	}

	cfg := poller.Config{
		Interval: app.Config.Poller.Interval,
		Timeout:  app.Config.Provider.Timeout,
		Fallback: fallback,
	}

	base := []poller.Option{
		poller.WithLogger(logging.WithOperation(app.Logger, "poll")),
	}
	if s, err := app.ensureStore(); err != nil {
		app.Logger.Warn().Err(err).Msg("Cycle log unavailable")
	} else {
		base = append(base, poller.WithRecorder(s))
	}

	p, err := poller.New(cfg, entries, fetcher, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	return p, nil
}
