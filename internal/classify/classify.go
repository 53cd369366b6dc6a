// Package classify turns watchlist entries and provider quotes into ranked,
// status-tiered results.
package classify

import (
	"math"
	"sort"

	"watchlist-dashboard/internal/models"
)

const (
	// NearBandPercent is how far above the target, in percent, a price may
	// sit and still count as near.
	NearBandPercent = 5.0
	// AlertDropPercent is the day-over-day change below which a symbol is
	// flagged as an alert regardless of its target.
	AlertDropPercent = -5.0
)

// Classify derives the status tier and distance-to-target for one entry.
// It is a pure function of its inputs.
func Classify(entry models.WatchlistEntry, quote models.RawQuote) models.ClassifiedStock {
	stock := models.ClassifiedStock{
		WatchlistEntry: entry,
		Price:          quote.Price,
		Change:         quote.Change,
		ChangePercent:  quote.ChangePercent,
		Status:         models.StatusHold,
	}
	if entry.TargetEntry != nil {
		stock.TargetEntry = models.Float(*entry.TargetEntry)
	}

	if entry.HasTarget() {
		target := entry.Target()
		distance := (quote.Price - target) / target * 100
		stock.DistancePercent = &distance

		if quote.Price <= target {
			stock.Status = models.StatusBuy
		} else if distance <= NearBandPercent {
			stock.Status = models.StatusNear
		}
	}

	// The drop rule overrides every target-based tier.
	if quote.ChangePercent < AlertDropPercent {
		stock.Status = models.StatusAlert
	}

	return stock
}

// ValidQuote reports whether a quote is usable for classification.
func ValidQuote(q models.RawQuote) bool {
	if models.NormalizeSymbol(q.Symbol) == "" {
		return false
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
		return false
	}
	if math.IsNaN(q.Change) || math.IsInf(q.Change, 0) {
		return false
	}
	if math.IsNaN(q.ChangePercent) || math.IsInf(q.ChangePercent, 0) {
		return false
	}
	return true
}

// ClassifyAll joins quotes to entries by symbol and classifies each match.
// The result follows watchlist order. Entries without a valid quote are
// dropped from the cycle, quotes for symbols not on the watchlist are
// ignored, and when a symbol is quoted twice the first quote wins.
func ClassifyAll(entries []models.WatchlistEntry, quotes []models.RawQuote) []models.ClassifiedStock {
	bySymbol := make(map[string]models.RawQuote, len(quotes))
	for _, q := range quotes {
		sym := models.NormalizeSymbol(q.Symbol)
		if _, seen := bySymbol[sym]; seen {
			continue
		}
		bySymbol[sym] = q
	}

	result := make([]models.ClassifiedStock, 0, len(entries))
	for _, entry := range entries {
		q, ok := bySymbol[models.NormalizeSymbol(entry.Symbol)]
		if !ok || !ValidQuote(q) {
			continue
		}
		result = append(result, Classify(entry, q))
	}
	return result
}

// Rank orders stocks by status priority: buy, alert, near, hold. The sort is
// stable, so stocks in the same tier keep their incoming relative order. The
// input slice is not modified.
func Rank(stocks []models.ClassifiedStock) []models.ClassifiedStock {
	ranked := make([]models.ClassifiedStock, len(stocks))
	copy(ranked, stocks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Status.Priority() < ranked[j].Status.Priority()
	})
	return ranked
}

// Evaluate runs ClassifyAll followed by Rank.
func Evaluate(entries []models.WatchlistEntry, quotes []models.RawQuote) []models.ClassifiedStock {
	return Rank(ClassifyAll(entries, quotes))
}
