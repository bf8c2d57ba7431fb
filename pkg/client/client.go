// Package client implements the DENUE Cuantificar HTTP client with
// credential rotation, retry handling, and error classification.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mxstats/denue-census/pkg/codes"
	"github.com/mxstats/denue-census/pkg/ratelimit"
	"github.com/mxstats/denue-census/pkg/token"
)

// DefaultBaseURL is the production DENUE Cuantificar endpoint.
const DefaultBaseURL = "https://www.inegi.org.mx/app/api/denue/v1/consulta/Cuantificar"

// Prometheus metrics for DENUE client operations.
var (
	denueRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denue_requests_total",
		Help: "Total DENUE requests by status",
	}, []string{"status"})

	denueRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "denue_request_duration_seconds",
		Help:    "DENUE request duration in seconds, one attempt per observation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	denueErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denue_errors_total",
		Help: "Total DENUE attempt errors by class",
	}, []string{"class"})

	denueRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denue_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	denueRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "denue_retry_exhausted_total",
		Help: "Total number of lookups that exhausted their retry budget by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of attempt failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses, including rejected tokens.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents well-delivered but malformed bodies.
	ErrorClassParse ErrorClass = "parse"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Cuantificar endpoint. Tests point this at a mock.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Tokens is the credential rotation ring shared by all workers.
	Tokens *token.Ring

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the number of retries after the initial attempt.
	// Every retry draws a fresh credential from the ring.
	MaxRetries int

	// RetryBackoff is an optional fixed delay before each retry.
	RetryBackoff time.Duration

	// Pacer optionally caps the outbound request rate. Nil disables pacing.
	Pacer *ratelimit.Pacer
}

// DefaultConfig returns a safe default configuration for the given ring.
func DefaultConfig(ring *token.Ring) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserAgent:  "denue-census/1.0",
		Tokens:     ring,
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	}
}

// Client is the DENUE Cuantificar client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new DENUE client.
func New(cfg Config) (*Client, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token ring is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "denue-client").Logger(),
	}, nil
}

// Count performs the remote lookup for one (municipality, sector, stratum)
// combination and returns the number of economic units. Sector "" or "0"
// collapses the sector filter (aggregate-all mode). On exhaustion it
// returns a *FetchError carrying the combination and the last cause.
func (c *Client) Count(ctx context.Context, municipality, sector string, stratum int) (int, error) {
	if sector == "" {
		sector = codes.AggregateAll
	}
	if !codes.ValidSector(sector) || !codes.ValidMunicipality(municipality) || stratum < 1 || stratum > 7 {
		return 0, fmt.Errorf("%w: municipality=%q sector=%q stratum=%d",
			ErrInvalidQuery, municipality, sector, stratum)
	}

	records, err := c.fetchRecords(ctx, sector, municipality, stratum)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, rec := range records {
		total += rec.Total.Value
	}
	return total, nil
}

// Sectors queries the activity catalog and returns the distinct 2-digit
// sector codes known to the API, sorted numerically. The catalog lives at
// the unfiltered combination (sector 0, area 0, stratum 0).
func (c *Client) Sectors(ctx context.Context) ([]string, error) {
	records, err := c.fetchRecords(ctx, codes.AggregateAll, codes.AggregateAll, 0)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var sectors []string
	for _, rec := range records {
		id := string(rec.ID)
		if len(id) != 2 || !codes.ValidSector(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sectors = append(sectors, id)
	}

	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })

	c.logger.Info().Int("sectors", len(sectors)).Msg("Fetched sector catalog")
	return sectors, nil
}

// fetchRecords runs the retry-and-rotate loop for one combination. Every
// attempt, including the first, draws the next credential from the ring;
// any transport error, non-2xx status, or malformed body consumes one unit
// of the retry budget.
func (c *Client) fetchRecords(ctx context.Context, sector, municipality string, stratum int) ([]record, error) {
	maxAttempts := c.config.MaxRetries + 1

	var lastErr error
	var lastClass ErrorClass

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.config.Pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pacing wait: %w", err)
		}

		tok, tokenIndex := c.config.Tokens.Next()

		records, class, err := c.attempt(ctx, sector, municipality, stratum, tok)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("municipality", municipality).
					Str("sector", sector).
					Int("stratum", stratum).
					Int("attempt", attempt).
					Msg("Lookup succeeded after retry")
			}
			return records, nil
		}

		lastErr = err
		lastClass = class
		denueErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Err(err).
			Str("municipality", municipality).
			Str("sector", sector).
			Int("stratum", stratum).
			Int("attempt", attempt).
			Int("token_index", tokenIndex).
			Str("error_class", string(class)).
			Msg("DENUE attempt failed")

		if attempt >= maxAttempts {
			break
		}

		denueRetriesTotal.WithLabelValues(string(class)).Inc()

		if c.config.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			case <-time.After(c.config.RetryBackoff):
			}
		}
	}

	denueRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	return nil, &FetchError{
		Municipality: municipality,
		Sector:       sector,
		Stratum:      stratum,
		Attempts:     maxAttempts,
		Err:          lastErr,
	}
}

// attempt performs one HTTP request and parse. The token travels as the
// final path segment, so the full URL is never logged.
func (c *Client) attempt(ctx context.Context, sector, municipality string, stratum int, tok string) ([]record, ErrorClass, error) {
	url := fmt.Sprintf("%s/%s/%s/%d/%s", c.config.BaseURL, sector, municipality, stratum, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ErrorClassNetwork, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	denueRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		denueRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, ErrorClassNetwork, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	denueRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		return nil, class, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrorClassNetwork, fmt.Errorf("read response body: %w", err)
	}

	records, err := parseEnvelope(body)
	if err != nil {
		return nil, ErrorClassParse, err
	}
	return records, "", nil
}

// classifyStatus categorizes a non-2xx status for observability and logging.
func classifyStatus(status int) ErrorClass {
	if status >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}
