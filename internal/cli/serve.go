package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"watchlist-dashboard/internal/httpapi"
	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/poller"
	"watchlist-dashboard/internal/stream"
)

// addServeCommands adds the HTTP dashboard server.
func addServeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP and WebSocket",
		Long: `Run the poller in the background and expose the ranked dashboard:

  GET  /api/dashboard  current snapshot with per-tier counts
  POST /api/refresh    run a manual cycle and return the new snapshot
  GET  /api/watchlist  the watched entries
  GET  /api/cycles     recent poll cycles (?limit=, ?outcome=, ?instance=all)
  GET  /api/ws         live snapshot stream
  GET  /healthz        liveness`,
		Example: `  watchdash serve
  watchdash serve --addr :9090 --demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			entries, source, err := app.loadEntries(ctx)
			if err != nil {
				output.Error("Failed to load watchlist: %v", err)
				return err
			}

			hub := stream.NewHub()
			p, err := app.newPoller(entries,
				poller.WithPublisher(hub),
				poller.WithNotifier(app.notifier()),
			)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			opts := []httpapi.Option{
				httpapi.WithLogger(logging.WithOperation(app.Logger, "http")),
				httpapi.WithAllowedOrigin(app.Config.Server.AllowedOrigin),
				httpapi.WithRefreshLimit(app.Config.Server.RefreshPerMinute),
			}
			if app.Store != nil {
				opts = append(opts, httpapi.WithCycleLog(app.Store))
			}
			if app.breaker != nil {
				opts = append(opts, httpapi.WithProviderHealth(app.breaker))
			}
			server := httpapi.NewServer(p, hub, opts...)

			app.Logger.Info().
				Str("instance", p.Instance()).
				Str("watchlist", source).
				Int("symbols", len(entries)).
				Dur("interval", p.Config().Interval).
				Msg("Starting dashboard server")
			output.Success("✓ Serving %d symbols from %s on http://%s", len(entries), source, addr)

			g, gctx := errgroup.WithContext(ctx)

			if err := hub.Start(gctx); err != nil {
				return err
			}
			defer hub.Stop()

			if err := p.Start(gctx); err != nil {
				return err
			}

			g.Go(func() error {
				return server.Run(gctx, addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return p.Stop(stopCtx)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				output.Error("Server stopped: %v", err)
				return err
			}
			app.Logger.Info().Msg("Dashboard server stopped")
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default: server.addr from config)")
	return cmd
}
