package models

import "time"

// PollState is the lifecycle state of a dashboard's poller.
type PollState string

const (
	PollIdle    PollState = "idle"
	PollLoading PollState = "loading"
	PollSuccess PollState = "success"
	PollError   PollState = "error"
)

// Trigger identifies what started a poll cycle.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
)

// CycleOutcome is the recorded result of a poll cycle.
type CycleOutcome string

const (
	OutcomeSuccess   CycleOutcome = "success"
	OutcomeError     CycleOutcome = "error"
	OutcomeDiscarded CycleOutcome = "discarded"
)

// Snapshot is a read-only view of a dashboard's current result set.
type Snapshot struct {
	Instance    string            `json:"instance"`
	State       PollState         `json:"state"`
	Cycle       uint64            `json:"cycle"`
	Stocks      []ClassifiedStock `json:"stocks"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Error       string            `json:"error,omitempty"`
	InFlight    int               `json:"inFlight"`
	Placeholder bool              `json:"placeholder,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Stocks != nil {
		c.Stocks = make([]ClassifiedStock, len(s.Stocks))
		for i, st := range s.Stocks {
			c.Stocks[i] = st.Clone()
		}
	}
	return c
}

// Counts returns how many stocks are in each status tier.
func (s Snapshot) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, st := range s.Stocks {
		counts[st.Status]++
	}
	return counts
}

// CycleRecord is one row of the poll-cycle log. It never carries prices.
type CycleRecord struct {
	Instance   string       `json:"instance"`
	Cycle      uint64       `json:"cycle"`
	Trigger    Trigger      `json:"trigger"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Outcome    CycleOutcome `json:"outcome"`
	Count      int          `json:"count"`
	Error      string       `json:"error,omitempty"`
}

// Duration returns how long the cycle took.
func (r CycleRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
