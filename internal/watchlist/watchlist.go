// Package watchlist loads and validates the ordered list of symbols a
// dashboard tracks.
package watchlist

import (
	"context"
	"fmt"
	"math"

	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/security"
)

// Source supplies a watchlist.
type Source interface {
	Load(ctx context.Context) ([]models.WatchlistEntry, error)
	Name() string
}

// Load reads entries from src, normalises their symbols and validates the
// result. Any failure is a startup-level ConfigError.
func Load(ctx context.Context, src Source) ([]models.WatchlistEntry, error) {
	entries, err := src.Load(ctx)
	if err != nil {
		var cfgErr *apperrors.ConfigError
		if apperrors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, apperrors.NewConfigError(src.Name(), "failed to load watchlist", err)
	}

	entries = Normalize(entries)
	if err := Validate(src.Name(), entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Normalize returns a copy of entries with trimmed upper-case symbols.
func Normalize(entries []models.WatchlistEntry) []models.WatchlistEntry {
	out := make([]models.WatchlistEntry, len(entries))
	for i, e := range entries {
		e.Symbol = models.NormalizeSymbol(e.Symbol)
		if e.TargetEntry != nil {
			e.TargetEntry = models.Float(*e.TargetEntry)
		}
		out[i] = e
	}
	return out
}

// Validate checks that entries form a usable watchlist: non-empty, every
// symbol well formed and unique, every target finite and positive.
func Validate(source string, entries []models.WatchlistEntry) error {
	if len(entries) == 0 {
		return apperrors.NewConfigError(source, "no symbols to watch", apperrors.ErrWatchlistEmpty)
	}

	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		symbol := models.NormalizeSymbol(e.Symbol)
		if err := security.ValidateSymbol(symbol); err != nil {
			return apperrors.NewConfigError(source, fmt.Sprintf("entry %d", i+1), err)
		}
		if prev, dup := seen[symbol]; dup {
			return apperrors.NewConfigError(source,
				fmt.Sprintf("duplicate symbol %s (entries %d and %d)", symbol, prev+1, i+1), nil)
		}
		seen[symbol] = i

		if e.TargetEntry != nil {
			t := *e.TargetEntry
			if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
				return apperrors.NewConfigError(source,
					fmt.Sprintf("%s: target entry must be a positive number, got %v", symbol, t), nil)
			}
		}
	}
	return nil
}
