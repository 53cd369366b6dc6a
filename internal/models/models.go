// Package models provides domain models for the watchlist dashboard.
package models

import (
	"fmt"
	"strings"
)

// Status is the urgency tier derived for a watched symbol.
type Status string

const (
	StatusBuy   Status = "buy"   // price at or below the target entry
	StatusAlert Status = "alert" // day-over-day drop beyond the alert threshold
	StatusNear  Status = "near"  // within the near band above the target
	StatusHold  Status = "hold"  // baseline tier
)

// Priority returns the sort rank of the status; lower sorts first.
func (s Status) Priority() int {
	switch s {
	case StatusBuy:
		return 0
	case StatusAlert:
		return 1
	case StatusNear:
		return 2
	default:
		return 3
	}
}

// IsSignal reports whether the status is one worth pushing to notification channels.
func (s Status) IsSignal() bool {
	return s == StatusBuy || s == StatusAlert
}

// ParseStatus parses a canonical status name.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusBuy:
		return StatusBuy, nil
	case StatusAlert:
		return StatusAlert, nil
	case StatusNear:
		return StatusNear, nil
	case StatusHold:
		return StatusHold, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// WatchlistEntry is one tracked symbol with its optional target entry price
// and the descriptive fields shown in the detail view.
type WatchlistEntry struct {
	Symbol       string   `json:"symbol" yaml:"symbol"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	TargetEntry  *float64 `json:"targetEntry,omitempty" yaml:"targetEntry,omitempty"`
	Rationale    string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	ExitStrategy string   `json:"exitStrategy,omitempty" yaml:"exitStrategy,omitempty"`
	StopLoss     string   `json:"stopLoss,omitempty" yaml:"stopLoss,omitempty"`
	Invalidation string   `json:"invalidation,omitempty" yaml:"invalidation,omitempty"`
	Catalyst     string   `json:"catalyst,omitempty" yaml:"catalyst,omitempty"`
	Source       string   `json:"source,omitempty" yaml:"source,omitempty"`
	Priority     string   `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// HasTarget reports whether a target entry price is tracked.
func (e WatchlistEntry) HasTarget() bool {
	return e.TargetEntry != nil
}

// Target returns the target entry price, or zero if none is tracked.
func (e WatchlistEntry) Target() float64 {
	if e.TargetEntry == nil {
		return 0
	}
	return *e.TargetEntry
}

// Float returns a pointer to v. Useful for literal targets.
func Float(v float64) *float64 {
	return &v
}

// NormalizeSymbol returns the canonical form used to match quotes to entries.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Symbols returns the symbols of the entries in watchlist order.
func Symbols(entries []WatchlistEntry) []string {
	symbols := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.Symbol
	}
	return symbols
}

// RawQuote is one provider quote for a symbol within a single poll cycle.
type RawQuote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// ClassifiedStock is a watchlist entry joined with its quote and derived tier.
type ClassifiedStock struct {
	WatchlistEntry
	Price           float64  `json:"price"`
	Change          float64  `json:"change"`
	ChangePercent   float64  `json:"changePercent"`
	Status          Status   `json:"status"`
	DistancePercent *float64 `json:"distancePercent"`
}

// Clone returns a copy that shares no pointers with s.
func (s ClassifiedStock) Clone() ClassifiedStock {
	c := s
	if s.TargetEntry != nil {
		c.TargetEntry = Float(*s.TargetEntry)
	}
	if s.DistancePercent != nil {
		c.DistancePercent = Float(*s.DistancePercent)
	}
	return c
}
