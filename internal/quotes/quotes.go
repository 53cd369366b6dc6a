// Package quotes fetches price quotes for watchlist symbols from a market-data
// provider.
package quotes

import (
	"context"

	"watchlist-dashboard/internal/models"
)

// Fetcher retrieves one quote per symbol for a poll cycle. Implementations
// return an error when no usable quote could be obtained; partial results
// carry only the symbols that passed validation.
type Fetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, symbols []string) ([]models.RawQuote, error)

func (f FetcherFunc) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	return f(ctx, symbols)
}

// DemoFetcher returns deterministic placeholder quotes derived from the
// watchlist: 2% above target, or 100 when no target is tracked, and no
// day-over-day change.
type DemoFetcher struct {
	targets map[string]*float64
}

// PlaceholderMarkup is the premium over target used for placeholder prices.
const PlaceholderMarkup = 1.02

// PlaceholderPrice is used for entries without a target.
const PlaceholderPrice = 100.0

// NewDemoFetcher builds a DemoFetcher for entries.
func NewDemoFetcher(entries []models.WatchlistEntry) *DemoFetcher {
	targets := make(map[string]*float64, len(entries))
	for _, e := range entries {
		targets[models.NormalizeSymbol(e.Symbol)] = e.TargetEntry
	}
	return &DemoFetcher{targets: targets}
}

func (d *DemoFetcher) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.RawQuote, 0, len(symbols))
	for _, sym := range symbols {
		sym = models.NormalizeSymbol(sym)
		price := PlaceholderPrice
		if t := d.targets[sym]; t != nil {
			price = *t * PlaceholderMarkup
		}
		out = append(out, models.RawQuote{Symbol: sym, Price: price})
	}
	return out, nil
}
