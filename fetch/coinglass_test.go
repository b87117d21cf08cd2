package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func testClient(t *testing.T, baseURL string) *CoinglassClient {
	t.Helper()

	logger := zerolog.Nop()
	client, err := NewCoinglassClient(&CoinglassConfig{
		APIKey:  "test-key",
		Plan:    ProfessionalPlan,
		BaseURL: baseURL,
		Logger:  &logger,
	})
	assert.NoError(t, err)
	return client
}

func TestNewCoinglassClientValidation(t *testing.T) {
	logger := zerolog.Nop()

	_, err := NewCoinglassClient(&CoinglassConfig{Logger: &logger})
	assert.Error(t, err)

	_, err = NewCoinglassClient(&CoinglassConfig{APIKey: "key"})
	assert.Error(t, err)
}

func TestPlanDelay(t *testing.T) {
	assert.Equal(t, 120*time.Millisecond, planDelay(ProfessionalPlan))
	assert.Equal(t, 600*time.Millisecond, planDelay(StandardPlan))
	assert.Equal(t, 2100*time.Millisecond, planDelay(StartupPlan))
	// Unknown plans fall back to the slowest rate.
	assert.Equal(t, 2100*time.Millisecond, planDelay("unknown"))
}

func TestPairFor(t *testing.T) {
	// Bybit tracks the coin-margined inverse pair, Binance the linear one.
	assert.Equal(t, "BTCUSD", pairFor(shared.Bybit, "BTC"))
	assert.Equal(t, "BTCUSDT", pairFor(shared.Binance, "BTC"))
}

func TestFetchPriceCandles(t *testing.T) {
	var gotHeader string
	var gotQuery url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("CG-API-KEY")
		gotQuery = r.URL.Query()
		assert.Equal(t, priceHistoryPath, r.URL.Path)

		// Rows arrive newest first; the client must sort them ascending.
		fmt.Fprint(w, `{"code":"0","msg":"success","data":[
			{"time":7200000,"open":101,"high":103,"low":100,"close":102,"volume_usd":2000},
			{"time":3600000,"open":100,"high":102,"low":99,"close":101,"volume_usd":1000}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	candles, err := client.FetchPriceCandles(context.Background(), shared.SeriesRequest{
		Venue:     shared.Bybit,
		Symbol:    "BTC",
		Timeframe: shared.FourHour,
		Limit:     60,
		StartTime: 1_000,
		EndTime:   8_000_000,
	})
	assert.NoError(t, err)

	assert.Equal(t, "test-key", gotHeader)
	assert.Equal(t, "bybit", gotQuery.Get("exchange"))
	assert.Equal(t, "BTCUSD", gotQuery.Get("symbol"))
	assert.Equal(t, "4h", gotQuery.Get("interval"))
	assert.Equal(t, "60", gotQuery.Get("limit"))
	assert.Equal(t, "1000", gotQuery.Get("start_time"))
	assert.Equal(t, "8000000", gotQuery.Get("end_time"))

	assert.Equal(t, 2, len(candles))
	assert.Equal(t, int64(3_600_000), candles[0].Timestamp)
	assert.Equal(t, int64(7_200_000), candles[1].Timestamp)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 1000.0, candles[0].Volume)
	assert.Equal(t, shared.Bybit, candles[0].Venue)
	assert.Equal(t, shared.FourHour, candles[0].Timeframe)
}

func TestFetchOpenInterest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, oiHistoryPath, r.URL.Path)
		fmt.Fprint(w, `{"code":"0","data":[
			{"time":7200000,"open":11000,"close":11500},
			{"time":3600000,"open":10000,"close":11000}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	series, err := client.FetchOpenInterest(context.Background(), shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(series))
	assert.Equal(t, int64(3_600_000), series[0].Timestamp)
	assert.Equal(t, 11000.0, series[0].Value)
	assert.Equal(t, 11500.0, series[1].Value)
}

func TestFetchTakerVolume(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, takerHistoryPath, r.URL.Path)
		fmt.Fprint(w, `{"code":"0","data":[
			{"time":3600000,"taker_buy_volume_usd":2000000,"taker_sell_volume_usd":1500000}
		]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	takers, err := client.FetchTakerVolume(context.Background(), shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(takers))
	assert.Equal(t, 2_000_000.0, takers[0].Buy)
	assert.Equal(t, 1_500_000.0, takers[0].Sell)
}

func TestFetchRateLimitNotRetried(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":"429","msg":"rate limit exceeded"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.FetchPriceCandles(context.Background(), shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})

	var rateLimited *shared.RateLimitError
	assert.True(t, errors.As(err, &rateLimited))
	assert.Equal(t, "rate limit exceeded", rateLimited.Message)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchVendorErrorNotRetried(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"code":"50001","msg":"invalid symbol","request_id":"req-1"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	_, err := client.FetchPriceCandles(context.Background(), shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "NOPE", Timeframe: shared.OneHour,
	})

	var vendorErr *shared.VendorAPIError
	assert.True(t, errors.As(err, &vendorErr))
	assert.Equal(t, "50001", vendorErr.Code)
	assert.Equal(t, "req-1", vendorErr.RequestID)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"code":"0","data":[{"time":3600000,"close":100}]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	series, err := client.FetchOpenInterest(context.Background(), shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(series))
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchCancelledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := testClient(t, server.URL)
	started := time.Now()
	_, err := client.FetchOpenInterest(ctx, shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})
	assert.Error(t, err)
	// The retry backoff never outlives the context.
	assert.True(t, time.Since(started) < retryBaseDelay)
}

func TestFetchTimeoutSurfacesTimeoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"code":"0","data":[]}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	client.httpc.Timeout = 50 * time.Millisecond
	params := client.seriesParams(shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})

	_, err := client.fetchOnce(context.Background(), oiHistoryPath, params, 1)
	var timeoutErr *shared.TimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, oiHistoryPath, timeoutErr.Endpoint)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"msg":"bad request"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	params := client.seriesParams(shared.SeriesRequest{
		Venue: shared.Binance, Symbol: "BTC", Timeframe: shared.OneHour,
	})

	// Http-level rejections count against the breaker; the floor trips it.
	for idx := 0; idx < breakerFailureFloor; idx++ {
		_, err := client.fetchOnce(context.Background(), oiHistoryPath, params, 1)
		var vendorErr *shared.VendorAPIError
		assert.True(t, errors.As(err, &vendorErr))
	}

	_, err := client.fetchOnce(context.Background(), oiHistoryPath, params, 1)
	var transient *shared.TransientNetworkError
	assert.True(t, errors.As(err, &transient))
}
