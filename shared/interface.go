package shared

import "context"

// SeriesRequest describes one vendor series fetch. A zero start or end time
// means unbounded on that side.
type SeriesRequest struct {
	Venue     Venue
	Symbol    string
	Timeframe Timeframe
	Limit     int
	StartTime int64
	EndTime   int64
}

// MarketFetcher defines the requirements for fetching derivatives series
// from the data vendor. All series are returned sorted ascending by
// timestamp.
type MarketFetcher interface {
	// FetchPriceCandles fetches ohlcv candles.
	FetchPriceCandles(ctx context.Context, req SeriesRequest) ([]Candle, error)
	// FetchOpenInterest fetches open interest readings.
	FetchOpenInterest(ctx context.Context, req SeriesRequest) ([]SeriesPoint, error)
	// FetchFunding fetches funding rate readings.
	FetchFunding(ctx context.Context, req SeriesRequest) ([]SeriesPoint, error)
	// FetchTakerVolume fetches aggressive buy/sell volume readings.
	FetchTakerVolume(ctx context.Context, req SeriesRequest) ([]TakerVolume, error)
}

// CandleSource defines the requirements for the local historical candle
// store consulted before the vendor.
type CandleSource interface {
	// CountCandles counts stored candles in the provided range.
	CountCandles(ctx context.Context, venue Venue, symbol string, timeframe Timeframe, start, end int64) (int, error)
	// RangeCandles returns stored candles in the provided range, sorted
	// ascending.
	RangeCandles(ctx context.Context, venue Venue, symbol string, timeframe Timeframe, start, end int64) ([]Candle, error)
	// UpsertCandles stores the provided candles, replacing duplicates.
	UpsertCandles(ctx context.Context, candles []Candle) error
}
