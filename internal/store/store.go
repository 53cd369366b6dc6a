// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"watchlist-dashboard/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Watchlists
	SaveWatchlist(ctx context.Context, name string, entries []models.WatchlistEntry) error
	GetWatchlist(ctx context.Context, name string) ([]models.WatchlistEntry, error)
	AddToWatchlist(ctx context.Context, name string, entry models.WatchlistEntry) error
	RemoveFromWatchlist(ctx context.Context, name, symbol string) error
	ListWatchlists(ctx context.Context) ([]WatchlistSummary, error)

	// Poll cycle log
	RecordCycle(ctx context.Context, record models.CycleRecord) error
	RecentCycles(ctx context.Context, filter CycleFilter) ([]models.CycleRecord, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// WatchlistSummary describes one stored watchlist.
type WatchlistSummary struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CycleFilter represents filters for querying the poll-cycle log.
type CycleFilter struct {
	Instance string
	Outcome  models.CycleOutcome
	Since    time.Time
	Limit    int
}
