package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/notify"
	"watchlist-dashboard/internal/poller"
	"watchlist-dashboard/internal/stream"
)

// addMonitoringCommands adds the one-shot and live dashboard commands.
func addMonitoringCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

func newCheckCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fetch quotes once and print the ranked dashboard",
		Long: `Run a single poll cycle against the active watchlist and print every
symbol ranked by status: buy, alert, near, hold.

Exits non-zero when the quote fetch fails.`,
		Example: `  watchdash check
  watchdash check --json
  watchdash check --demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			entries, source, err := app.loadEntries(ctx)
			if err != nil {
				output.Error("Failed to load watchlist: %v", err)
				return err
			}
			p, err := app.newPoller(entries)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			snap, err := p.RunOnce(ctx)
			if output.IsJSON() {
				if jerr := output.JSON(snap); jerr != nil {
					return jerr
				}
				return err
			}

			output.Bold("Watchlist: %s", source)
			output.Println()
			if err != nil {
				output.Error("Quote fetch failed: %v", err)
				if len(snap.Stocks) == 0 {
					return err
				}
			}
			renderDashboard(output, snap, time.Now())
			return err
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live dashboard in the terminal",
		Long: `Poll the active watchlist on the configured interval and redraw the
ranked dashboard after every cycle.

Commands (type and press Enter):
  r - Refresh now
  q - Quit`,
		Example: `  watchdash watch
  watchdash watch --interval 30s
  watchdash watch --demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// The terminal belongs to the dashboard; log to file only.
			if app.Config.Logging.File {
				app.Logger = app.newLogger(cmd, false)
			} else {
				app.Logger = zerolog.Nop()
			}

			if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
				app.Config.Poller.Interval = interval
			}
			bell, _ := cmd.Flags().GetBool("bell")

			entries, source, err := app.loadEntries(ctx)
			if err != nil {
				output.Error("Failed to load watchlist: %v", err)
				return err
			}

			overlay := notify.NewNotificationOverlay(5, 10*time.Minute)
			terminal := notify.NewTerminalNotifier(output.Writer(), overlay)
			terminal.SetBellEnabled(bell)
			notifier := app.notifier()
			notifier.AddChannel(terminal)

			hub := stream.NewHub()
			if err := hub.Start(ctx); err != nil {
				return err
			}
			defer hub.Stop()

			p, err := app.newPoller(entries,
				poller.WithPublisher(hub),
				poller.WithNotifier(notifier),
			)
			if err != nil {
				output.Error("%v", err)
				return err
			}

			updates := hub.Subscribe(p.Instance())
			defer hub.Unsubscribe(p.Instance(), updates)

			if err := p.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = p.Stop(stopCtx)
			}()

			keys := readCommands(ctx, cmd.InOrStdin())
			draw := func(snap models.Snapshot) {
				clearScreen(output)
				output.Bold("Watchlist: %s", source)
				output.Printf("  %s\n\n", watchStatusLine(output, snap, app.Config.Poller.Interval, time.Now()))
				renderDashboard(output, snap, time.Now())
				if block := overlay.Render(output.ColorEnabled()); block != "" {
					output.Println()
					output.Printf("%s", block)
				}
				output.Println()
				output.Dim("r+Enter refresh · q+Enter quit")
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case snap, ok := <-updates:
					if !ok {
						return nil
					}
					draw(snap)
				case key, ok := <-keys:
					if !ok {
						// stdin closed; keep polling until interrupted
						keys = nil
						continue
					}
					switch key {
					case "q", "quit", "exit":
						return nil
					case "r", "refresh":
						go func() {
							if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
								app.Logger.Warn().Err(err).Msg("Manual refresh failed")
							}
						}()
					}
				}
			}
		},
	}

	cmd.Flags().Duration("interval", 0, "poll interval (default: poller.interval from config)")
	cmd.Flags().Bool("bell", true, "ring the terminal bell on buy and alert signals")
	return cmd
}

// readCommands delivers trimmed, lower-cased input lines until r is
// exhausted or ctx is done.
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func clearScreen(output *Output) {
	if output.ColorEnabled() {
		output.Printf("\033[H\033[2J")
	}
}

// watchStatusLine summarises poll state, cycle age and the last error.
func watchStatusLine(output *Output, snap models.Snapshot, interval time.Duration, now time.Time) string {
	parts := []string{output.PollState(snap.State)}
	if snap.Cycle > 0 {
		parts = append(parts, fmt.Sprintf("cycle %d", snap.Cycle))
	}
	if !snap.UpdatedAt.IsZero() {
		parts = append(parts, "updated "+FormatAge(snap.UpdatedAt, now))
	}
	parts = append(parts, "every "+FormatDuration(interval))
	if snap.InFlight > 0 {
		parts = append(parts, fmt.Sprintf("%d in flight", snap.InFlight))
	}
	line := strings.Join(parts, " · ")
	if snap.Error != "" {
		line += "\n  " + output.Red("last error: "+TruncateString(snap.Error, 100))
	}
	return line
}

// renderDashboard prints the ranked stocks and the per-tier counts.
func renderDashboard(output *Output, snap models.Snapshot, now time.Time) {
	if len(snap.Stocks) == 0 {
		output.Dim("No quotes yet.")
		return
	}
	if snap.Placeholder {
		output.Warning("Showing placeholder quotes; the provider is unavailable.")
	}

	table := NewTable(output, "Status", "Symbol", "Name", "Price", "Change", "Target", "Distance")
	for _, s := range snap.Stocks {
		table.AddRow(
			output.Status(s.Status),
			output.BoldText(s.Symbol),
			TruncateString(s.Name, 24),
			FormatUSD(s.Price),
			output.paint(ChangeColor(s.ChangePercent), FormatChange(s.Change, s.ChangePercent)),
			FormatTarget(s.TargetEntry),
			FormatDistance(s.DistancePercent),
		)
	}
	table.Render()

	counts := snap.Counts()
	output.Println()
	output.Printf("  %s %d  %s %d  %s %d  %s %d\n",
		output.Status(models.StatusBuy), counts[models.StatusBuy],
		output.Status(models.StatusAlert), counts[models.StatusAlert],
		output.Status(models.StatusNear), counts[models.StatusNear],
		output.Status(models.StatusHold), counts[models.StatusHold],
	)
	if !snap.UpdatedAt.IsZero() {
		output.Dim("  as of %s (%s)", FormatTime(snap.UpdatedAt), FormatAge(snap.UpdatedAt, now))
	}
}
