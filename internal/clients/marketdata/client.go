// Package marketdata provides a client for the market data provider API
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/klyrlabs/blindspot/internal/common"
	"github.com/klyrlabs/blindspot/internal/models"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultRetries   = 3  // attempts beyond the first

	initialBackoff = 500 * time.Millisecond
)

// Client implements the MarketDataClient interface against an EODHD-style
// HTTP API: rate-limited, bounded timeouts, and a small number of retries
// with exponential backoff on transient failures.
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	retries    int
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetries sets the retry budget for transient failures
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		c.retries = retries
	}
}

// NewClient creates a new market data client. Prices are reported in the
// given currency; the core never converts across currencies.
func NewClient(apiKey, currency string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		currency: currency,
		retries:  DefaultRetries,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ProviderError represents a provider API failure with enough classification
// for callers to decide between retry, backoff, and degraded fallback.
type ProviderError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimited reports whether the provider throttled the request.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether a retry could plausibly succeed.
func (e *ProviderError) Transient() bool {
	return e.RateLimited() || e.StatusCode >= 500
}

// get performs a rate-limited GET with retries and exponential backoff on
// timeouts, rate limiting, and server errors.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	var lastErr error
	backoff := initialBackoff

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Msg("Retrying provider request")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		lastErr = c.doGet(ctx, path, params, result)
		if lastErr == nil {
			return nil
		}

		var provErr *ProviderError
		if errors.As(lastErr, &provErr) && !provErr.Transient() {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return lastErr
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Provider API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// GetEOD retrieves end-of-day closing prices for [from, to], ascending.
func (c *Client) GetEOD(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}

	var bars []eodBarResponse
	if err := c.get(ctx, fmt.Sprintf("/eod/%s", symbol), params, &bars); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(bars))
	for _, bar := range bars {
		date, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		points = append(points, models.PricePoint{
			Date:  date.UTC(),
			Close: closeToCents(bar.Close, c.currency),
		})
	}

	return points, nil
}

// GetProfile retrieves instrument classification data: sector/country for a
// plain security, full sector and geography weight tables for a fund.
func (c *Client) GetProfile(ctx context.Context, symbol string) (*models.InstrumentProfile, error) {
	var raw profileResponse
	if err := c.get(ctx, fmt.Sprintf("/fundamentals/%s", symbol), nil, &raw); err != nil {
		return nil, err
	}

	profile := &models.InstrumentProfile{
		Symbol:  symbol,
		Name:    raw.General.Name,
		Sector:  raw.General.Sector,
		Country: raw.General.CountryISO,
		IsFund:  raw.General.Type == "ETF" || raw.General.Type == "FUND",
	}

	for _, w := range raw.FundData.SectorWeights {
		profile.SectorWeights = append(profile.SectorWeights, models.SectorWeight{
			Sector: w.Name,
			Weight: w.Weight,
		})
	}
	for _, w := range raw.FundData.CountryWeights {
		profile.CountryWeights = append(profile.CountryWeights, models.CountryWeight{
			Country: w.Name,
			Weight:  w.Weight,
		})
	}

	return profile, nil
}

// closeToCents converts a provider close price (major units) to exact cents,
// banker's rounding on sub-cent quotes.
func closeToCents(close decimal.Decimal, currency string) models.Money {
	cents := close.Shift(2).RoundBank(0)
	return models.NewMoney(cents.IntPart(), currency)
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date  string          `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// profileResponse represents the API response for fundamentals
type profileResponse struct {
	General struct {
		Name       string `json:"Name"`
		Type       string `json:"Type"`
		Sector     string `json:"Sector"`
		CountryISO string `json:"CountryISO"`
	} `json:"General"`
	FundData struct {
		SectorWeights  []weightResponse `json:"SectorWeights"`
		CountryWeights []weightResponse `json:"CountryWeights"`
	} `json:"FundData"`
}

type weightResponse struct {
	Name   string          `json:"name"`
	Weight decimal.Decimal `json:"weight"` // fraction, 0.25 = 25%
}
