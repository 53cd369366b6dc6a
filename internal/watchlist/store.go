package watchlist

import (
	"context"

	"watchlist-dashboard/internal/models"
)

// Reader is the slice of the data store a StoreSource needs.
type Reader interface {
	GetWatchlist(ctx context.Context, name string) ([]models.WatchlistEntry, error)
}

// StoreSource reads a named list from the local database.
type StoreSource struct {
	store Reader
	list  string
}

// NewStoreSource creates a source for the named stored list.
func NewStoreSource(store Reader, list string) *StoreSource {
	return &StoreSource{store: store, list: list}
}

func (s *StoreSource) Name() string { return "store:" + s.list }

func (s *StoreSource) Load(ctx context.Context) ([]models.WatchlistEntry, error) {
	return s.store.GetWatchlist(ctx, s.list)
}
