package watchlist

import (
	"context"

	"watchlist-dashboard/internal/models"
)

// StaticSource serves a compiled-in list.
type StaticSource struct {
	name    string
	entries []models.WatchlistEntry
}

// NewStaticSource returns a source that always yields a copy of entries.
func NewStaticSource(name string, entries []models.WatchlistEntry) *StaticSource {
	return &StaticSource{name: name, entries: Normalize(entries)}
}

// Builtin returns the default hard-coded watchlist.
func Builtin() *StaticSource {
	return NewStaticSource("builtin", builtinEntries)
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Load(ctx context.Context) ([]models.WatchlistEntry, error) {
	return Normalize(s.entries), nil
}

var builtinEntries = []models.WatchlistEntry{
	{
		Symbol:       "NVDA",
		Name:         "NVIDIA",
		TargetEntry:  models.Float(169),
		Rationale:    "Data-centre accelerator demand; pullback to prior breakout level",
		ExitStrategy: "Trim into strength above prior high",
		StopLoss:     "Weekly close below 150",
		Catalyst:     "Quarterly earnings",
		Priority:     "high",
	},
	{
		Symbol:       "AMD",
		Name:         "Advanced Micro Devices",
		TargetEntry:  models.Float(246),
		Rationale:    "Second-source accelerator share gains",
		ExitStrategy: "Scale out over two earnings cycles",
		StopLoss:     "Close below 220",
		Priority:     "medium",
	},
	{
		Symbol:       "IONQ",
		Name:         "IonQ",
		TargetEntry:  models.Float(36),
		Rationale:    "Speculative position; only at support",
		Invalidation: "Dilutive raise below target",
		Priority:     "low",
	},
	{
		Symbol:      "AVGO",
		Name:        "Broadcom",
		TargetEntry: models.Float(330),
		Rationale:   "Custom silicon and networking backlog",
		Priority:    "medium",
	},
	{
		Symbol:      "TSM",
		Name:        "Taiwan Semiconductor",
		TargetEntry: models.Float(280),
		Rationale:   "Leading-edge foundry capacity",
		Priority:    "medium",
	},
	{
		Symbol:    "MSFT",
		Name:      "Microsoft",
		Rationale: "Core holding; tracked for drawdowns only",
	},
	{
		Symbol:    "GOOGL",
		Name:      "Alphabet",
		Rationale: "Core holding; tracked for drawdowns only",
	},
}
