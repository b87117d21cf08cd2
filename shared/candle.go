package shared

import "time"

// Candle represents a single closed candle for a market on a venue. The
// timestamp is the candle-open boundary in milliseconds utc; a candle only
// becomes visible after it closes.
type Candle struct {
	Venue     Venue
	Symbol    string
	Timeframe Timeframe
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	// Derivatives extras. Nil means the value was never recorded for the
	// row, which is distinct from zero.
	OI          *float64
	FundingRate *float64
	BuyVolume   *float64
	SellVolume  *float64
}

// OpenTime returns the candle open boundary as a time.
func (c *Candle) OpenTime() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// SeriesPoint represents a single timestamped value in a series.
type SeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TakerVolume represents aggressive buy and sell volume for one candle.
type TakerVolume struct {
	Timestamp int64   `json:"timestamp"`
	Buy       float64 `json:"buy"`
	Sell      float64 `json:"sell"`
}

// Float64Ptr returns a pointer to the provided float, for optional candle
// columns.
func Float64Ptr(v float64) *float64 {
	return &v
}

// ClosePrices extracts the close prices of the provided candles.
func ClosePrices(candles []Candle) []float64 {
	closes := make([]float64, len(candles))
	for idx := range candles {
		closes[idx] = candles[idx].Close
	}

	return closes
}
