package quotes

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"watchlist-dashboard/internal/classify"
	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/security"
)

const (
	// DefaultTimeout bounds a single quote request.
	DefaultTimeout = 10 * time.Second

	// DefaultPath is the batched quote endpoint; %s receives the
	// comma-separated symbol list.
	DefaultPath = "/quote/%s"

	providerName = "http"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 4 << 20
)

// HTTPFetcher retrieves quotes with one batched GET per cycle.
type HTTPFetcher struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// NewHTTPFetcher creates a fetcher for the provider at baseURL.
func NewHTTPFetcher(baseURL, apiKey string, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultPath,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// WithPath sets the endpoint path template. It must contain one %s.
func WithPath(path string) Option {
	return func(f *HTTPFetcher) {
		if strings.Contains(path, "%s") {
			f.path = path
		}
	}
}

// WithRateLimit caps outgoing requests per minute. Zero disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(f *HTTPFetcher) {
		if perMinute <= 0 {
			f.limiter = nil
			return
		}
		f.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// FetchQuotes performs one batched request for symbols.
func (f *HTTPFetcher) FetchQuotes(ctx context.Context, symbols []string) ([]models.RawQuote, error) {
	if len(symbols) == 0 {
		return nil, apperrors.NewFetchError(providerName, 0, "no symbols requested", apperrors.ErrWatchlistEmpty)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, apperrors.NewFetchError(providerName, 0, "request throttled",
				fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	endpoint := f.endpoint(symbols)
	logged := security.RedactURL(endpoint)

	start := time.Now()
	body, err := f.get(ctx, endpoint)
	logging.LogAPICall(f.logger, http.MethodGet, logged, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	quotes, skipped, err := decodeQuotes(body)
	if err != nil {
		return nil, apperrors.NewFetchError(providerName, 0, "undecodable response",
			fmt.Errorf("%w: %v", apperrors.ErrBadResponse, err))
	}
	if len(quotes) == 0 && len(skipped) == 0 {
		return nil, apperrors.NewFetchError(providerName, 0, "empty quote collection", apperrors.ErrBadResponse)
	}

	valid := quotes[:0]
	for _, q := range quotes {
		if !classify.ValidQuote(q) {
			l := logging.WithSymbol(f.logger, q.Symbol)
			l.Warn().
				Float64("price", q.Price).
				Msg("Skipping invalid quote")
			continue
		}
		valid = append(valid, q)
	}
	for _, s := range skipped {
		f.logger.Warn().Int("index", s.Index).Str("reason", s.Reason).Msg("Skipping malformed quote element")
	}

	if len(valid) == 0 {
		return nil, apperrors.NewFetchError(providerName, 0, "no valid quotes in response", apperrors.ErrBadResponse)
	}
	return valid, nil
}

func (f *HTTPFetcher) endpoint(symbols []string) string {
	escaped := make([]string, len(symbols))
	for i, s := range symbols {
		escaped[i] = url.PathEscape(models.NormalizeSymbol(s))
	}

	full := f.baseURL + fmt.Sprintf(f.path, strings.Join(escaped, ","))
	if f.apiKey == "" {
		return full
	}

	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + url.Values{"apikey": {f.apiKey}}.Encode()
}

func (f *HTTPFetcher) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewFetchError(providerName, 0, "create request", scrub(err, f.apiKey))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewFetchError(providerName, 0,
				fmt.Sprintf("no response within %s", f.timeout), apperrors.ErrTimeout)
		}
		return nil, apperrors.NewFetchError(providerName, 0, "request failed", scrub(err, f.apiKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewFetchError(providerName, resp.StatusCode,
				fmt.Sprintf("no response within %s", f.timeout), apperrors.ErrTimeout)
		}
		return nil, apperrors.NewFetchError(providerName, resp.StatusCode, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var cause error
		if resp.StatusCode == http.StatusTooManyRequests {
			cause = apperrors.ErrRateLimited
		}
		return nil, apperrors.NewFetchError(providerName, resp.StatusCode, http.StatusText(resp.StatusCode), cause)
	}

	return body, nil
}

// scrub removes the API key from transport errors, which quote the URL. The
// original error stays reachable through Unwrap.
func scrub(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, apiKey) {
		return err
	}
	return &scrubbedError{msg: strings.ReplaceAll(msg, apiKey, security.MaskCredential(apiKey)), err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
