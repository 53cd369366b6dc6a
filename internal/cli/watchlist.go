package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/security"
	"watchlist-dashboard/internal/watchlist"
)

// syncKey is the last-sync key for a stored watchlist.
func syncKey(list string) string {
	return "watchlist:" + list
}

func addWatchlistCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newWatchlistCmd(app))
}

func newWatchlistCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Watchlist management",
		Long: `List, import, edit and validate watchlists.

Stored watchlists live in the local database and are used when
watchlist.source = "store". Files are JSON or YAML documents shaped
{ "stocks": [ { "symbol": "NVDA", "targetEntry": 169 }, ... ] }.`,
	}

	cmd.PersistentFlags().StringP("list", "l", "", "stored watchlist name (default: watchlist.name from config)")

	cmd.AddCommand(newWatchlistListCmd(app))
	cmd.AddCommand(newWatchlistImportCmd(app))
	cmd.AddCommand(newWatchlistExportCmd(app))
	cmd.AddCommand(newWatchlistAddCmd(app))
	cmd.AddCommand(newWatchlistRemoveCmd(app))
	cmd.AddCommand(newWatchlistValidateCmd(app))

	return cmd
}

func listName(cmd *cobra.Command, app *App) (string, error) {
	name, _ := cmd.Flags().GetString("list")
	if name == "" {
		name = app.Config.Watchlist.Name
	}
	if err := security.ValidateWatchlistName(name); err != nil {
		return "", err
	}
	return name, nil
}

func newWatchlistListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the active watchlist, or stored watchlists",
		Example: `  watchdash watchlist list
  watchdash watchlist list --stored
  watchdash watchlist list --list semis`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if stored, _ := cmd.Flags().GetBool("stored"); stored {
				s, err := app.ensureStore()
				if err != nil {
					return err
				}
				summaries, err := s.ListWatchlists(ctx)
				if err != nil {
					output.Error("Failed to list watchlists: %v", err)
					return err
				}
				if output.IsJSON() {
					return output.JSON(summaries)
				}
				if len(summaries) == 0 {
					output.Dim("No stored watchlists. Use 'watchdash watchlist import <file>' to add one.")
					return nil
				}
				output.Bold("Stored watchlists")
				table := NewTable(output, "Name", "Symbols", "Updated", "Last import")
				for _, w := range summaries {
					table.AddRow(output.Cyan(w.Name), fmt.Sprintf("%d", w.Count),
						FormatDateTime(w.UpdatedAt), FormatDateTime(s.GetLastSync(syncKey(w.Name))))
				}
				table.Render()
				return nil
			}

			var (
				entries []models.WatchlistEntry
				source  string
				err     error
			)
			if cmd.Flags().Changed("list") {
				name, nerr := listName(cmd, app)
				if nerr != nil {
					return nerr
				}
				s, serr := app.ensureStore()
				if serr != nil {
					return serr
				}
				source = "store:" + name
				entries, err = watchlist.Load(ctx, watchlist.NewStoreSource(s, name))
			} else {
				entries, source, err = app.loadEntries(ctx)
			}
			if err != nil {
				output.Error("Failed to load watchlist: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"source": source,
					"stocks": entries,
				})
			}

			output.Bold("Watchlist: %s", source)
			output.Printf("  %d symbols\n\n", len(entries))
			renderEntries(output, entries)
			return nil
		},
	}
	cmd.Flags().Bool("stored", false, "list stored watchlists")
	return cmd
}

func renderEntries(output *Output, entries []models.WatchlistEntry) {
	table := NewTable(output, "Symbol", "Name", "Target", "Stop", "Priority")
	for _, e := range entries {
		table.AddRow(
			output.BoldText(e.Symbol),
			TruncateString(e.Name, 28),
			FormatTarget(e.TargetEntry),
			TruncateString(e.StopLoss, 16),
			e.Priority,
		)
	}
	table.Render()
}

func newWatchlistImportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON or YAML watchlist into the store",
		Long:  "Validate a watchlist file and replace the stored watchlist with its contents.",
		Example: `  watchdash watchlist import semis.yaml --list semis
  watchdash watchlist import watchlist.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			name, err := listName(cmd, app)
			if err != nil {
				return err
			}
			entries, err := watchlist.Load(ctx, watchlist.NewFileSource(args[0]))
			if err != nil {
				output.Error("Invalid watchlist: %v", err)
				return err
			}

			s, err := app.ensureStore()
			if err != nil {
				return err
			}
			if err := s.SaveWatchlist(ctx, name, entries); err != nil {
				output.Error("Failed to save watchlist: %v", err)
				return err
			}
			if err := s.SetLastSync(syncKey(name), time.Now()); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to record import time")
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"name": name, "symbols": len(entries)})
			}
			output.Success("✓ Imported %d symbols into '%s'", len(entries), name)
			return nil
		},
	}
}

func newWatchlistExportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export a stored watchlist to a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			name, err := listName(cmd, app)
			if err != nil {
				return err
			}
			s, err := app.ensureStore()
			if err != nil {
				return err
			}
			entries, err := s.GetWatchlist(cmd.Context(), name)
			if err != nil {
				output.Error("Failed to read watchlist: %v", err)
				return err
			}
			if err := watchlist.WriteFile(args[0], entries); err != nil {
				output.Error("Failed to write file: %v", err)
				return err
			}
			output.Success("✓ Exported %d symbols from '%s' to %s", len(entries), name, args[0])
			return nil
		},
	}
}

func newWatchlistAddCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <symbol>",
		Short: "Add or update a symbol in a stored watchlist",
		Example: `  watchdash watchlist add NVDA --target 169 --name "NVIDIA"
  watchdash watchlist add MSFT --list core`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			name, err := listName(cmd, app)
			if err != nil {
				return err
			}
			symbol := models.NormalizeSymbol(args[0])
			if err := security.ValidateSymbol(symbol); err != nil {
				output.Error("Invalid symbol: %v", err)
				return err
			}

			entry := models.WatchlistEntry{Symbol: symbol}
			if cmd.Flags().Changed("target") {
				target, _ := cmd.Flags().GetFloat64("target")
				if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
					err := apperrors.NewValidationError("target", target, "must be a positive number")
					output.Error("%v", err)
					return err
				}
				entry.TargetEntry = models.Float(target)
			}
			entry.Name, _ = cmd.Flags().GetString("name")
			entry.StopLoss, _ = cmd.Flags().GetString("stop")
			entry.Rationale, _ = cmd.Flags().GetString("rationale")
			entry.Priority, _ = cmd.Flags().GetString("priority")
			entry.Name = security.SanitizeText(entry.Name)
			entry.Rationale = security.SanitizeText(entry.Rationale)

			s, err := app.ensureStore()
			if err != nil {
				return err
			}
			if err := s.AddToWatchlist(cmd.Context(), name, entry); err != nil {
				output.Error("Failed to add to watchlist: %v", err)
				return err
			}

			output.Success("✓ Added %s to watchlist '%s'", symbol, name)
			return nil
		},
	}
	cmd.Flags().Float64("target", 0, "target entry price")
	cmd.Flags().String("name", "", "company name")
	cmd.Flags().String("stop", "", "stop-loss note")
	cmd.Flags().String("rationale", "", "why the symbol is watched")
	cmd.Flags().String("priority", "", "free-form priority label")
	return cmd
}

func newWatchlistRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <symbol>",
		Short: "Remove a symbol from a stored watchlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			name, err := listName(cmd, app)
			if err != nil {
				return err
			}
			symbol := models.NormalizeSymbol(args[0])

			s, err := app.ensureStore()
			if err != nil {
				return err
			}
			if err := s.RemoveFromWatchlist(cmd.Context(), name, symbol); err != nil {
				if apperrors.Is(err, apperrors.ErrDataNotFound) {
					output.Warning("%s is not in watchlist '%s'", symbol, name)
				} else {
					output.Error("Failed to remove from watchlist: %v", err)
				}
				return err
			}

			output.Success("✓ Removed %s from watchlist '%s'", symbol, name)
			return nil
		},
	}
}

func newWatchlistValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a watchlist file, or the active watchlist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			var (
				entries []models.WatchlistEntry
				source  string
				err     error
			)
			if len(args) == 1 {
				source = args[0]
				entries, err = watchlist.Load(ctx, watchlist.NewFileSource(args[0]))
			} else {
				entries, source, err = app.loadEntries(ctx)
			}
			if err != nil {
				if output.IsJSON() {
					_ = output.JSON(map[string]interface{}{"valid": false, "source": source, "error": err.Error()})
				} else {
					output.Error("✗ %v", err)
				}
				return err
			}

			targets := 0
			for _, e := range entries {
				if e.HasTarget() {
					targets++
				}
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"valid": true, "source": source, "symbols": len(entries), "targets": targets,
				})
			}
			output.Success("✓ %s: %d symbols, %d with a target entry", source, len(entries), targets)
			return nil
		},
	}
}
