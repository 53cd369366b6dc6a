// Package poller drives the fetch, classify and rank cycle for one dashboard
// instance on a fixed interval and on manual refresh.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"watchlist-dashboard/internal/classify"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/quotes"
)

// FallbackPolicy decides what a dashboard shows after a failed cycle.
type FallbackPolicy string

const (
	// FallbackStale keeps the previous cycle's results on display.
	FallbackStale FallbackPolicy = "stale"
	// FallbackPlaceholder replaces results with synthetic demo quotes.
	FallbackPlaceholder FallbackPolicy = "placeholder"
)

// ParseFallback parses a fallback policy name.
func ParseFallback(s string) (FallbackPolicy, error) {
	switch FallbackPolicy(s) {
	case FallbackStale, "":
		return FallbackStale, nil
	case FallbackPlaceholder:
		return FallbackPlaceholder, nil
	}
	return "", fmt.Errorf("unknown fallback policy %q", s)
}

const (
	// MinInterval is the shortest accepted poll interval.
	MinInterval = time.Second

	notifyTimeout = 10 * time.Second
)

// Config holds poller configuration.
type Config struct {
	Interval time.Duration  // Poll interval (default: 60s)
	Timeout  time.Duration  // Per-fetch timeout (default: 10s)
	Fallback FallbackPolicy // Display policy after a failed fetch (default: stale)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 60 * time.Second,
		Timeout:  10 * time.Second,
		Fallback: FallbackStale,
	}
}

// Recorder persists the outcome of each cycle.
type Recorder interface {
	RecordCycle(ctx context.Context, record models.CycleRecord) error
}

// Publisher receives every snapshot change. Publish is called with the
// poller's lock held, so it must not block or call back into the poller.
type Publisher interface {
	Publish(snap models.Snapshot)
}

// Notifier is told about symbols entering a signal tier and about fetch
// failures.
type Notifier interface {
	SendSignal(ctx context.Context, stock models.ClassifiedStock) error
	SendError(ctx context.Context, err error, source string) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithRecorder sets the cycle log sink.
func WithRecorder(r Recorder) Option {
	return func(p *Poller) { p.recorder = r }
}

// WithPublisher sets the snapshot fan-out.
func WithPublisher(pub Publisher) Option {
	return func(p *Poller) { p.publisher = pub }
}

// WithNotifier sets the signal notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Poller) { p.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithFallback overrides the fetcher used to produce placeholder data.
func WithFallback(f quotes.Fetcher) Option {
	return func(p *Poller) { p.placeholder = f }
}

// WithInstanceID sets the dashboard instance id instead of a random one.
func WithInstanceID(id string) Option {
	return func(p *Poller) { p.instance = id }
}

// Poller owns one dashboard's displayed result set. Only the completion of a
// cycle mutates it, and a cycle's result is applied only if no newer cycle
// has already been applied.
type Poller struct {
	cfg         Config
	entries     []models.WatchlistEntry
	symbols     []string
	fetcher     quotes.Fetcher
	placeholder quotes.Fetcher
	logger      zerolog.Logger
	recorder    Recorder
	publisher   Publisher
	notifier    Notifier
	now         func() time.Time
	instance    string

	seq      atomic.Uint64
	inFlight atomic.Int32

	mu          sync.RWMutex
	snap        models.Snapshot
	lastApplied uint64
	settled     models.PollState
	signals     map[string]models.Status
	failing     bool

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Poller for entries. The watchlist must be non-empty.
func New(cfg Config, entries []models.WatchlistEntry, fetcher quotes.Fetcher, opts ...Option) (*Poller, error) {
	if len(entries) == 0 {
		return nil, apperrors.NewConfigError("poller", "no symbols to watch", apperrors.ErrWatchlistEmpty)
	}
	if fetcher == nil {
		return nil, apperrors.NewConfigError("poller", "no quote fetcher configured", nil)
	}

	def := DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Interval < MinInterval {
		return nil, apperrors.NewConfigError("poller",
			fmt.Sprintf("interval %s is below the minimum of %s", cfg.Interval, MinInterval), nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	fallback, err := ParseFallback(string(cfg.Fallback))
	if err != nil {
		return nil, apperrors.NewConfigError("poller", err.Error(), nil)
	}
	cfg.Fallback = fallback

	own := make([]models.WatchlistEntry, len(entries))
	for i, e := range entries {
		e.Symbol = models.NormalizeSymbol(e.Symbol)
		if e.TargetEntry != nil {
			e.TargetEntry = models.Float(*e.TargetEntry)
		}
		own[i] = e
	}

	p := &Poller{
		cfg:     cfg,
		entries: own,
		symbols: models.Symbols(own),
		fetcher: fetcher,
		logger:  zerolog.Nop(),
		now:     time.Now,
		signals: make(map[string]models.Status),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.instance == "" {
		p.instance = uuid.NewString()
	}
	if p.placeholder == nil {
		p.placeholder = quotes.NewDemoFetcher(own)
	}
	p.logger = p.logger.With().Str("instance", p.instance).Logger()
	p.snap = models.Snapshot{Instance: p.instance, State: models.PollIdle}
	p.settled = models.PollIdle

	return p, nil
}

// Instance returns the dashboard instance id.
func (p *Poller) Instance() string {
	return p.instance
}

// Entries returns a copy of the watchlist being polled.
func (p *Poller) Entries() []models.WatchlistEntry {
	out := make([]models.WatchlistEntry, len(p.entries))
	for i, e := range p.entries {
		if e.TargetEntry != nil {
			e.TargetEntry = models.Float(*e.TargetEntry)
		}
		out[i] = e
	}
	return out
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Start fires the first cycle immediately and then one per interval until
// Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.started {
		return fmt.Errorf("poller %s already started", p.instance)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	p.mu.Lock()
	p.snap.State = models.PollLoading
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Dur("timeout", p.cfg.Timeout).
		Str("fallback", string(p.cfg.Fallback)).
		Int("symbols", len(p.symbols)).
		Msg("Poller started")

	return nil
}

// Stop cancels the timer and any in-flight cycles and waits for them to
// return, or for ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.runMu.Lock()
	if !p.started || p.stopped {
		p.runMu.Unlock()
		return nil
	}
	p.stopped = true
	p.cancel()
	p.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh runs a manual cycle, even if another cycle is still in flight, and
// waits for it. The returned error is the cycle's fetch error; it is also
// reflected in the snapshot. If ctx ends first the cycle keeps running.
func (p *Poller) Refresh(ctx context.Context) error {
	p.runMu.Lock()
	if !p.started || p.stopped {
		p.runMu.Unlock()
		return apperrors.ErrNotStarted
	}
	p.wg.Add(1)
	p.runMu.Unlock()

	result := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		result <- p.runCycle(models.TriggerManual)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs a single cycle without arming the timer and returns the
// resulting snapshot together with the cycle's fetch error. A poller used
// with RunOnce cannot be started afterwards.
func (p *Poller) RunOnce(ctx context.Context) (models.Snapshot, error) {
	p.runMu.Lock()
	if p.started {
		p.runMu.Unlock()
		return models.Snapshot{}, fmt.Errorf("poller %s already started", p.instance)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true
	p.stopped = true
	p.runMu.Unlock()
	defer p.cancel()

	err := p.runCycle(models.TriggerInitial)
	return p.Snapshot(), err
}

// Snapshot returns a deep copy of the current result set.
func (p *Poller) Snapshot() models.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap.Clone()
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.runCycle(models.TriggerInitial)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(models.TriggerTimer)
		}
	}
}

// runCycle performs one fetch, classify and rank pass and applies it if it
// is the newest completed cycle.
func (p *Poller) runCycle(trigger models.Trigger) error {
	seq := p.seq.Add(1)
	started := p.now()
	logger := logging.WithCycle(p.logger, seq)

	p.inFlight.Add(1)
	p.mu.Lock()
	p.snap.State = models.PollLoading
	p.snap.InFlight = int(p.inFlight.Load())
	p.publish(p.snap.Clone())
	p.mu.Unlock()

	stocks, fetchErr := p.fetch()

	outcome := models.OutcomeSuccess
	var fallback []models.ClassifiedStock
	if fetchErr != nil {
		outcome = models.OutcomeError
		fallback = p.fallbackStocks()
	}

	var (
		applied  bool
		entering []models.ClassifiedStock
		newError bool
	)

	p.mu.Lock()
	p.inFlight.Add(-1)
	p.snap.InFlight = int(p.inFlight.Load())
	switch {
	case p.ctx.Err() != nil:
		// Torn down mid-cycle.
	case seq <= p.lastApplied:
		// A newer cycle already completed.
	default:
		applied = true
		p.lastApplied = seq
		if fetchErr == nil {
			entering = p.applySuccess(seq, stocks)
		} else {
			newError = p.applyError(seq, fetchErr, fallback)
		}
		p.settled = p.snap.State
	}
	if !applied && p.snap.InFlight == 0 {
		p.snap.State = p.settled
	}
	// Publishing under the lock keeps hub order equal to apply order.
	p.publish(p.snap.Clone())
	p.mu.Unlock()

	finished := p.now()
	if !applied {
		outcome = models.OutcomeDiscarded
	}
	count := len(stocks)
	logging.LogCycle(logger, seq, string(trigger), string(outcome), count, finished.Sub(started), fetchErr)

	p.record(models.CycleRecord{
		Instance:   p.instance,
		Cycle:      seq,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    outcome,
		Count:      count,
		Error:      errorText(fetchErr),
	})

	if applied {
		p.notify(logger, entering, newError, fetchErr)
	}

	return fetchErr
}

// fetch retrieves and ranks quotes. Every failure comes back as a FetchError.
func (p *Poller) fetch() ([]models.ClassifiedStock, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	raw, err := p.fetcher.FetchQuotes(ctx, p.symbols)
	if err != nil {
		return nil, asFetchError(ctx, err, p.cfg.Timeout)
	}

	stocks := classify.Evaluate(p.entries, raw)
	if len(stocks) == 0 {
		return nil, apperrors.NewFetchError("poller", 0, "no quotes matched the watchlist", apperrors.ErrBadResponse)
	}
	return stocks, nil
}

func asFetchError(ctx context.Context, err error, timeout time.Duration) error {
	var fe *apperrors.FetchError
	if apperrors.As(err, &fe) {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return apperrors.NewFetchError("poller", 0, fmt.Sprintf("no response within %s", timeout), apperrors.ErrTimeout)
	}
	return apperrors.NewFetchError("poller", 0, "fetch failed", err)
}

// applySuccess replaces the result set wholesale and returns the stocks that
// newly entered a signal tier. Caller holds p.mu.
func (p *Poller) applySuccess(seq uint64, stocks []models.ClassifiedStock) []models.ClassifiedStock {
	p.snap.Cycle = seq
	p.snap.State = models.PollSuccess
	p.snap.Stocks = stocks
	p.snap.UpdatedAt = p.now()
	p.snap.Error = ""
	p.snap.Placeholder = false
	p.failing = false

	var entering []models.ClassifiedStock
	next := make(map[string]models.Status, len(stocks))
	for _, s := range stocks {
		if !s.Status.IsSignal() {
			continue
		}
		next[s.Symbol] = s.Status
		if p.signals[s.Symbol] != s.Status {
			entering = append(entering, s.Clone())
		}
	}
	p.signals = next
	return entering
}

// fallbackStocks returns placeholder results when that policy is active.
func (p *Poller) fallbackStocks() []models.ClassifiedStock {
	if p.cfg.Fallback != FallbackPlaceholder {
		return nil
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	raw, err := p.placeholder.FetchQuotes(ctx, p.symbols)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Placeholder data unavailable")
		return nil
	}
	return classify.Evaluate(p.entries, raw)
}

// applyError moves to the error state. Previous results stay on display
// unless placeholder results are supplied. It reports whether this is the
// first failure since the last success. Caller holds p.mu.
func (p *Poller) applyError(seq uint64, err error, placeholder []models.ClassifiedStock) bool {
	p.snap.Cycle = seq
	p.snap.State = models.PollError
	p.snap.Error = err.Error()
	if placeholder != nil {
		p.snap.Stocks = placeholder
		p.snap.Placeholder = true
	}

	first := !p.failing
	p.failing = true
	return first
}

func (p *Poller) publish(snap models.Snapshot) {
	if p.publisher != nil {
		p.publisher.Publish(snap)
	}
}

func (p *Poller) record(rec models.CycleRecord) {
	if p.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), notifyTimeout)
	defer cancel()
	if err := p.recorder.RecordCycle(ctx, rec); err != nil {
		p.logger.Warn().Err(err).Uint64("cycle", rec.Cycle).Msg("Failed to record poll cycle")
	}
}

func (p *Poller) notify(logger zerolog.Logger, entering []models.ClassifiedStock, newError bool, fetchErr error) {
	for _, s := range entering {
		logging.LogSignal(logger, s.Symbol, string(s.Status), s.Price, s.ChangePercent)
	}
	if p.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, notifyTimeout)
	defer cancel()

	for _, s := range entering {
		if err := p.notifier.SendSignal(ctx, s); err != nil {
			l := logging.WithSymbol(logger, s.Symbol)
			l.Warn().Err(err).Msg("Failed to send signal notification")
		}
	}
	if newError {
		if err := p.notifier.SendError(ctx, fetchErr, "quote fetch"); err != nil {
			logger.Warn().Err(err).Msg("Failed to send error notification")
		}
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
