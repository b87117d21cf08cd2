package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	baseURL = "https://open-api-v4.coinglass.com"

	priceHistoryPath   = "/api/futures/price/history"
	oiHistoryPath      = "/api/futures/open-interest/history"
	fundingHistoryPath = "/api/futures/funding-rate/history"
	takerHistoryPath   = "/api/futures/taker-buy-sell-volume/history"

	// requestTimeout bounds one vendor call.
	requestTimeout = time.Second * 30
	// retryBaseDelay is the first retry backoff, multiplied by
	// retryBackoffFactor on each subsequent attempt.
	retryBaseDelay     = time.Second * 2
	retryBackoffFactor = 1.5
	// maxAttempts is the total tries per call for transient failures.
	maxAttempts = 3
	// breakerFailureFloor trips the circuit after this many consecutive
	// failures.
	breakerFailureFloor = 5

	// Plan names and their minimum delay between calls.
	StartupPlan      = "startup"
	StandardPlan     = "standard"
	ProfessionalPlan = "professional"
)

// planDelay returns the minimum delay between calls of the provided plan.
func planDelay(plan string) time.Duration {
	switch strings.ToLower(plan) {
	case ProfessionalPlan:
		return time.Millisecond * 120
	case StandardPlan:
		return time.Millisecond * 600
	default:
		return time.Millisecond * 2100
	}
}

// CoinglassConfig represents the configuration for the Coinglass client.
type CoinglassConfig struct {
	// APIKey is the Coinglass API key.
	APIKey string
	// Plan is the subscribed Coinglass plan, which fixes the call rate.
	Plan string
	// BaseURL overrides the api base url, used by tests.
	BaseURL string
	// Logger represents the client logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *CoinglassConfig) Validate() error {
	if cfg.APIKey == "" {
		return fmt.Errorf("coinglass api key cannot be an empty string")
	}
	if cfg.Logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}

	return nil
}

// CoinglassClient represents the Coinglass derivatives data API client.
type CoinglassClient struct {
	cfg     *CoinglassConfig
	httpc   http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	buf     *bytes.Buffer
}

// Ensure the CoinglassClient implements the MarketFetcher interface.
var _ shared.MarketFetcher = (*CoinglassClient)(nil)

// NewCoinglassClient instantiates a new Coinglass client.
func NewCoinglassClient(cfg *CoinglassConfig) (*CoinglassClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating coinglass config: %w", err)
	}

	settings := gobreaker.Settings{
		Name: "coinglass",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureFloor
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn().Msgf("%s circuit %s -> %s", name, from.String(), to.String())
		},
	}

	return &CoinglassClient{
		cfg:     cfg,
		httpc:   http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Every(planDelay(cfg.Plan)), 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
		buf:     bytes.NewBuffer(make([]byte, 0, 512)),
	}, nil
}

// formURL creates full urls including parameters for the api.
func (c *CoinglassClient) formURL(path string, params string) string {
	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// pairFor maps the venue to its tracked perpetual pair. Bybit is the
// coin-margined inverse contract, Binance the usdt-margined linear one.
func pairFor(venue shared.Venue, symbol string) string {
	switch venue {
	case shared.Bybit:
		return symbol + "USD"
	default:
		return symbol + "USDT"
	}
}

// seriesParams builds the common query parameters of a series request.
func (c *CoinglassClient) seriesParams(req shared.SeriesRequest) url.Values {
	params := url.Values{}
	params.Add("exchange", req.Venue.String())
	params.Add("symbol", pairFor(req.Venue, req.Symbol))
	params.Add("interval", req.Timeframe.String())
	if req.Limit > 0 {
		params.Add("limit", fmt.Sprintf("%d", req.Limit))
	}
	if req.StartTime > 0 {
		params.Add("start_time", fmt.Sprintf("%d", req.StartTime))
	}
	if req.EndTime > 0 {
		params.Add("end_time", fmt.Sprintf("%d", req.EndTime))
	}

	return params
}

// fetch executes one rate-limited vendor call with retries and returns the
// data rows of the response envelope.
func (c *CoinglassClient) fetch(ctx context.Context, path string, params url.Values) ([]gjson.Result, error) {
	delay := retryBaseDelay

	for attempt := 1; ; attempt++ {
		err := c.limiter.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		rows, err := c.fetchOnce(ctx, path, params, attempt)
		if err == nil {
			return rows, nil
		}

		// Rate limits and structured vendor rejections are never retried.
		var transient *shared.TransientNetworkError
		var timeout *shared.TimeoutError
		retryable := (errors.As(err, &transient) || errors.As(err, &timeout)) && ctx.Err() == nil
		if !retryable || attempt >= maxAttempts {
			return nil, err
		}

		c.cfg.Logger.Warn().Msgf("retrying %s in %s: %v", path, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * retryBackoffFactor)
	}
}

// fetchOnce executes a single attempt through the circuit breaker.
func (c *CoinglassClient) fetchOnce(ctx context.Context, path string, params url.Values, attempt int) ([]gjson.Result, error) {
	started := time.Now()

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(path, params.Encode()), nil)
		if err != nil {
			return nil, fmt.Errorf("creating request for %s: %w", path, err)
		}
		req.Header.Set("CG-API-KEY", c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			var netErr net.Error
			if ctx.Err() == context.DeadlineExceeded ||
				(errors.As(err, &netErr) && netErr.Timeout()) {
				return nil, &shared.TimeoutError{Endpoint: path, Timeout: requestTimeout}
			}
			return nil, &shared.TransientNetworkError{Endpoint: path, Message: err.Error(), Attempt: attempt}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &shared.TransientNetworkError{Endpoint: path, Message: err.Error(), Attempt: attempt}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := planDelay(c.cfg.Plan)
			return nil, &shared.RateLimitError{
				Endpoint:   path,
				Message:    gjson.GetBytes(body, "msg").String(),
				RetryAfter: retryAfter,
			}
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, &shared.TransientNetworkError{
				Endpoint: path,
				Message:  fmt.Sprintf("status %d", resp.StatusCode),
				Attempt:  attempt,
			}
		case resp.StatusCode != http.StatusOK:
			return nil, &shared.VendorAPIError{
				Endpoint:   path,
				Code:       fmt.Sprintf("%d", resp.StatusCode),
				Message:    gjson.GetBytes(body, "msg").String(),
				Attempt:    attempt,
				DurationMs: time.Since(started).Milliseconds(),
			}
		}

		return body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &shared.TransientNetworkError{Endpoint: path, Message: err.Error(), Attempt: attempt}
		}
		return nil, err
	}

	raw := body.([]byte)
	code := gjson.GetBytes(raw, "code").String()
	if code != "0" {
		return nil, &shared.VendorAPIError{
			Endpoint:   path,
			Code:       code,
			Message:    gjson.GetBytes(raw, "msg").String(),
			RequestID:  gjson.GetBytes(raw, "request_id").String(),
			Attempt:    attempt,
			DurationMs: time.Since(started).Milliseconds(),
		}
	}

	return gjson.GetBytes(raw, "data").Array(), nil
}

// FetchPriceCandles fetches ohlcv candles for the provided request.
func (c *CoinglassClient) FetchPriceCandles(ctx context.Context, req shared.SeriesRequest) ([]shared.Candle, error) {
	rows, err := c.fetch(ctx, priceHistoryPath, c.seriesParams(req))
	if err != nil {
		return nil, err
	}

	candles := make([]shared.Candle, 0, len(rows))
	for idx := range rows {
		candles = append(candles, shared.Candle{
			Venue:     req.Venue,
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Timestamp: rows[idx].Get("time").Int(),
			Open:      rows[idx].Get("open").Float(),
			High:      rows[idx].Get("high").Float(),
			Low:       rows[idx].Get("low").Float(),
			Close:     rows[idx].Get("close").Float(),
			Volume:    rows[idx].Get("volume_usd").Float(),
		})
	}
	sortCandles(candles)

	return candles, nil
}

// FetchOpenInterest fetches open interest readings for the provided request.
func (c *CoinglassClient) FetchOpenInterest(ctx context.Context, req shared.SeriesRequest) ([]shared.SeriesPoint, error) {
	return c.fetchSeries(ctx, oiHistoryPath, req)
}

// FetchFunding fetches funding rate readings for the provided request.
func (c *CoinglassClient) FetchFunding(ctx context.Context, req shared.SeriesRequest) ([]shared.SeriesPoint, error) {
	return c.fetchSeries(ctx, fundingHistoryPath, req)
}

// fetchSeries fetches one close-valued ohlc series.
func (c *CoinglassClient) fetchSeries(ctx context.Context, path string, req shared.SeriesRequest) ([]shared.SeriesPoint, error) {
	rows, err := c.fetch(ctx, path, c.seriesParams(req))
	if err != nil {
		return nil, err
	}

	series := make([]shared.SeriesPoint, 0, len(rows))
	for idx := range rows {
		series = append(series, shared.SeriesPoint{
			Timestamp: rows[idx].Get("time").Int(),
			Value:     rows[idx].Get("close").Float(),
		})
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp < series[j].Timestamp
	})

	return series, nil
}

// FetchTakerVolume fetches aggressive buy and sell volume readings for the
// provided request.
func (c *CoinglassClient) FetchTakerVolume(ctx context.Context, req shared.SeriesRequest) ([]shared.TakerVolume, error) {
	rows, err := c.fetch(ctx, takerHistoryPath, c.seriesParams(req))
	if err != nil {
		return nil, err
	}

	takers := make([]shared.TakerVolume, 0, len(rows))
	for idx := range rows {
		takers = append(takers, shared.TakerVolume{
			Timestamp: rows[idx].Get("time").Int(),
			Buy:       rows[idx].Get("taker_buy_volume_usd").Float(),
			Sell:      rows[idx].Get("taker_sell_volume_usd").Float(),
		})
	}
	sort.Slice(takers, func(i, j int) bool {
		return takers[i].Timestamp < takers[j].Timestamp
	})

	return takers, nil
}

// sortCandles orders candles ascending by timestamp.
func sortCandles(candles []shared.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
}
