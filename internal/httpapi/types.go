package httpapi

import (
	"time"

	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/resilience"
)

// DashboardResponse is the body of GET /api/dashboard and POST /api/refresh.
type DashboardResponse struct {
	models.Snapshot
	Counts map[models.Status]int `json:"counts"`
}

// WatchlistResponse is the body of GET /api/watchlist.
type WatchlistResponse struct {
	Stocks []models.WatchlistEntry `json:"stocks"`
}

// CyclesResponse is the body of GET /api/cycles.
type CyclesResponse struct {
	Cycles []models.CycleRecord `json:"cycles"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string           `json:"status"`
	State       models.PollState `json:"state"`
	Instance    string           `json:"instance"`
	Uptime      string           `json:"uptime"`
	LastSuccess *time.Time       `json:"lastSuccess,omitempty"`

	Provider *resilience.BreakerStats `json:"provider,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Websocket message types.
const (
	MsgSnapshot = "snapshot"
	MsgStatus   = "status"
	MsgControl  = "control"
)

// SnapshotMsg carries a snapshot to websocket clients.
type SnapshotMsg struct {
	Type     string          `json:"type"`
	Snapshot models.Snapshot `json:"snapshot"`
}

// StatusMsg carries a short status line to websocket clients.
type StatusMsg struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Text  string `json:"text"`
}

// ControlMsg is sent by websocket clients.
type ControlMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}
