// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Watchlist entries; position preserves display order
	CREATE TABLE IF NOT EXISTS watchlist_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		list_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT,
		target_entry REAL,
		rationale TEXT,
		exit_strategy TEXT,
		stop_loss TEXT,
		invalidation TEXT,
		catalyst TEXT,
		source TEXT,
		priority TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(list_name, symbol)
	);

	-- Poll cycle log; outcome metadata only, no quote values
	CREATE TABLE IF NOT EXISTS poll_cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		trigger_kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		outcome TEXT NOT NULL,
		stock_count INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_watchlist_entries_list ON watchlist_entries(list_name, position);
	CREATE INDEX IF NOT EXISTS idx_poll_cycles_instance ON poll_cycles(instance, cycle);
	CREATE INDEX IF NOT EXISTS idx_poll_cycles_started ON poll_cycles(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Watchlist Methods
// ============================================================================

// SaveWatchlist replaces the named watchlist with entries, in order.
func (s *SQLiteStore) SaveWatchlist(ctx context.Context, name string, entries []models.WatchlistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist_entries WHERE list_name = ?`, name); err != nil {
		return fmt.Errorf("failed to clear watchlist: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, entryArgs(name, i, e)...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.Symbol, err)
		}
	}

	return tx.Commit()
}

const insertEntrySQL = `
	INSERT INTO watchlist_entries
		(list_name, position, symbol, name, target_entry, rationale, exit_strategy,
		 stop_loss, invalidation, catalyst, source, priority, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(list_name, symbol) DO UPDATE SET
		name = excluded.name,
		target_entry = excluded.target_entry,
		rationale = excluded.rationale,
		exit_strategy = excluded.exit_strategy,
		stop_loss = excluded.stop_loss,
		invalidation = excluded.invalidation,
		catalyst = excluded.catalyst,
		source = excluded.source,
		priority = excluded.priority,
		updated_at = excluded.updated_at
`

func entryArgs(list string, position int, e models.WatchlistEntry) []interface{} {
	var target sql.NullFloat64
	if e.TargetEntry != nil {
		target = sql.NullFloat64{Float64: *e.TargetEntry, Valid: true}
	}
	return []interface{}{
		list, position, models.NormalizeSymbol(e.Symbol), e.Name, target,
		e.Rationale, e.ExitStrategy, e.StopLoss, e.Invalidation, e.Catalyst,
		e.Source, e.Priority, time.Now(),
	}
}

// GetWatchlist retrieves the entries of a watchlist in display order.
func (s *SQLiteStore) GetWatchlist(ctx context.Context, name string) ([]models.WatchlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, COALESCE(name, ''), target_entry, COALESCE(rationale, ''),
		       COALESCE(exit_strategy, ''), COALESCE(stop_loss, ''), COALESCE(invalidation, ''),
		       COALESCE(catalyst, ''), COALESCE(source, ''), COALESCE(priority, '')
		FROM watchlist_entries WHERE list_name = ? ORDER BY position ASC, id ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []models.WatchlistEntry
	for rows.Next() {
		var e models.WatchlistEntry
		var target sql.NullFloat64
		if err := rows.Scan(&e.Symbol, &e.Name, &target, &e.Rationale, &e.ExitStrategy,
			&e.StopLoss, &e.Invalidation, &e.Catalyst, &e.Source, &e.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist entry: %w", err)
		}
		if target.Valid {
			e.TargetEntry = models.Float(target.Float64)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "watchlist %q", name)
	}
	return entries, nil
}

// AddToWatchlist appends an entry to a watchlist, or updates it in place if
// the symbol is already listed.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, name string, entry models.WatchlistEntry) error {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM watchlist_entries WHERE list_name = ?
	`, name).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read watchlist position: %w", err)
	}

	// ON CONFLICT keeps the existing position
	if _, err := s.db.ExecContext(ctx, insertEntrySQL, entryArgs(name, next, entry)...); err != nil {
		return fmt.Errorf("failed to add to watchlist: %w", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from a watchlist.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, name, symbol string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlist_entries WHERE list_name = ? AND symbol = ?
	`, name, models.NormalizeSymbol(symbol))
	if err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Wrapf(apperrors.ErrDataNotFound, "%s in watchlist %q", symbol, name)
	}
	return nil
}

// ListWatchlists summarises every stored watchlist.
func (s *SQLiteStore) ListWatchlists(ctx context.Context) ([]WatchlistSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT list_name, COUNT(*), MAX(updated_at)
		FROM watchlist_entries GROUP BY list_name ORDER BY list_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlists: %w", err)
	}
	defer rows.Close()

	var lists []WatchlistSummary
	for rows.Next() {
		var w WatchlistSummary
		var updated sql.NullString
		if err := rows.Scan(&w.Name, &w.Count, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist summary: %w", err)
		}
		if updated.Valid {
			w.UpdatedAt = parseTimestamp(updated.String)
		}
		lists = append(lists, w)
	}
	return lists, rows.Err()
}

// parseTimestamp handles the text forms SQLite returns for aggregated
// DATETIME columns, which bypass the driver's time conversion.
func parseTimestamp(v string) time.Time {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ============================================================================
// Poll Cycle Methods
// ============================================================================

// RecordCycle appends a poll cycle to the log.
func (s *SQLiteStore) RecordCycle(ctx context.Context, record models.CycleRecord) error {
	var errText sql.NullString
	if record.Error != "" {
		errText = sql.NullString{String: record.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_cycles (instance, cycle, trigger_kind, started_at, finished_at, outcome, stock_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Instance, int64(record.Cycle), string(record.Trigger), record.StartedAt.UTC(),
		record.FinishedAt.UTC(), string(record.Outcome), record.Count, errText)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// RecentCycles returns logged cycles matching filter, newest first.
func (s *SQLiteStore) RecentCycles(ctx context.Context, filter CycleFilter) ([]models.CycleRecord, error) {
	query := `
		SELECT instance, cycle, trigger_kind, started_at, finished_at, outcome, stock_count, COALESCE(error, '')
		FROM poll_cycles WHERE 1=1
	`
	var args []interface{}

	if filter.Instance != "" {
		query += " AND instance = ?"
		args = append(args, filter.Instance)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY started_at DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var records []models.CycleRecord
	for rows.Next() {
		var r models.CycleRecord
		var cycle int64
		var trigger, outcome string
		if err := rows.Scan(&r.Instance, &cycle, &trigger, &r.StartedAt, &r.FinishedAt,
			&outcome, &r.Count, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		r.Cycle = uint64(cycle)
		r.Trigger = models.Trigger(trigger)
		r.Outcome = models.CycleOutcome(outcome)
		records = append(records, r)
	}

	return records, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

// Compile-time interface check.
var _ DataStore = (*SQLiteStore)(nil)
