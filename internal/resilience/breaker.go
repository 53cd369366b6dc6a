// Package resilience guards the quote provider with a circuit breaker so a
// dead provider is not hammered on every poll cycle.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/quotes"
)

// State is the state of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"    // requests pass through
	StateOpen     State = "open"      // requests are rejected until the cooldown ends
	StateHalfOpen State = "half_open" // one trial request decides
)

// ErrOpen is returned while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of trial successes that closes it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a trial request.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         2 * time.Minute,
	}
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithLogger logs state transitions.
func WithLogger(logger zerolog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name   string
	config BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	probing         bool
	openedAt        time.Time
	lastStateChange time.Time

	totalRequests int64
	totalFailures int64
	totalRejected int64
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(name string, config BreakerConfig, opts ...BreakerOption) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}

	b := &Breaker{
		name:   name,
		config: config,
		logger: zerolog.Nop(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastStateChange = b.now()
	return b
}

// Do runs fn unless the circuit is open. A cancelled context is not counted
// as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(err, trial)
	return err
}

// allow admits a request. trial reports whether it is the single half-open
// trial request.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			b.totalRejected++
			return false, ErrOpen
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		trial = true
	case StateHalfOpen:
		if b.probing {
			b.totalRejected++
			return false, ErrOpen
		}
		b.probing = true
		trial = true
	}
	b.totalRequests++
	return trial, nil
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		b.totalFailures++
	}
	// Only the trial decides a half-open circuit.
	if b.state == StateHalfOpen && !trial {
		return
	}

	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transitionTo(StateClosed)
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

// transitionTo must be called with mu held.
func (b *Breaker) transitionTo(state State) {
	from := b.state
	b.state = state
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
	if state == StateOpen {
		b.openedAt = b.lastStateChange
	}

	event := b.logger.Info()
	if state == StateOpen {
		event = b.logger.Warn().Dur("cooldown", b.config.Cooldown)
	}
	event.
		Str("breaker", b.name).
		Str("from", string(from)).
		Str("to", string(state)).
		Msg("Circuit breaker state changed")
}

// State returns the current state. An open circuit whose cooldown has
// elapsed still reports open until the next request.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
	b.failures = 0
	b.probing = false
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.failures,
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
		TotalRejected:       b.totalRejected,
		LastStateChange:     b.lastStateChange,
	}
}

// BreakerStats holds circuit breaker statistics.
type BreakerStats struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	TotalRequests       int64     `json:"totalRequests"`
	TotalFailures       int64     `json:"totalFailures"`
	TotalRejected       int64     `json:"totalRejected"`
	LastStateChange     time.Time `json:"lastStateChange"`
}

// FailureRate returns the failure rate as a percentage.
func (s BreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}

// GuardedFetcher is a quotes.Fetcher behind a Breaker.
type GuardedFetcher struct {
	breaker *Breaker
	next    quotes.Fetcher
}

// Guard wraps next with b. Rejected requests fail as fetch errors.
func Guard(b *Breaker, next quotes.Fetcher) *GuardedFetcher {
	return &GuardedFetcher{breaker: b, next: next}
}

// Breaker returns the guarding breaker.
func (g *GuardedFetcher) Breaker() *Breaker {
	return g.breaker
}

func (g *GuardedFetcher) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	var out []models.RawQuote
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		qs, err := g.next.FetchQuotes(ctx, symbols)
		out = qs
		return err
	})
	if errors.Is(err, ErrOpen) {
		return nil, apperrors.NewFetchError(g.breaker.Name(), 0, "provider circuit open, request skipped", err)
	}
	return out, err
}

var _ quotes.Fetcher = (*GuardedFetcher)(nil)
