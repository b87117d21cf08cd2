package engine

import (
	"math"

	"github.com/dnldd/vigil/shared"
)

const (
	// fastEmaPeriod and slowEmaPeriod are the moving average periods used
	// for trend detection.
	fastEmaPeriod = 20
	slowEmaPeriod = 50
	// slopePeriod is the lookback of the ordinary least squares trend slope.
	slopePeriod = 20
	// realizedVolPeriod is the lookback of the realized volatility estimate.
	realizedVolPeriod = 30
	// trendSlopeThreshold is the normalized slope past which the market is
	// trending.
	trendSlopeThreshold = 0.1
)

// EMA returns the exponential moving average of the provided values over the
// provided period. The series is seeded with the first value.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}

	k := 2.0 / (float64(period) + 1.0)
	ema := values[0]
	for idx := 1; idx < len(values); idx++ {
		ema = values[idx]*k + ema*(1-k)
	}

	return ema
}

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}

	if period > len(values) {
		period = len(values)
	}

	var sum float64
	for idx := len(values) - period; idx < len(values); idx++ {
		sum += values[idx]
	}

	return sum / float64(period)
}

// Std returns the population standard deviation of the provided values.
func Std(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for idx := range values {
		sum += values[idx]
	}
	mean := sum / float64(len(values))

	var variance float64
	for idx := range values {
		diff := values[idx] - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}

// ZScore returns the z-score of the last value against the full series.
func ZScore(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	std := Std(values)
	if std == 0 {
		return 0
	}

	var sum float64
	for idx := range values {
		sum += values[idx]
	}
	mean := sum / float64(len(values))

	return (values[len(values)-1] - mean) / std
}

// Slope returns the ordinary least squares slope of the last period values,
// with the candle index as the independent variable.
func Slope(values []float64, period int) float64 {
	if period > len(values) {
		period = len(values)
	}
	if period < 2 {
		return 0
	}

	window := values[len(values)-period:]

	var sumX, sumY, sumXY, sumXX float64
	for idx := range window {
		x := float64(idx)
		sumX += x
		sumY += window[idx]
		sumXY += x * window[idx]
		sumXX += x * x
	}

	n := float64(period)
	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}

	return (n*sumXY - sumX*sumY) / denominator
}

// RealizedVolatility returns the annual-free realized volatility of the last
// period closes: the standard deviation of log returns scaled by the square
// root of the sample size, as a percentage.
func RealizedVolatility(closes []float64, period int) float64 {
	if period > len(closes) {
		period = len(closes)
	}
	if period < 2 {
		return 0
	}

	window := closes[len(closes)-period:]
	returns := make([]float64, 0, len(window)-1)
	for idx := 1; idx < len(window); idx++ {
		if window[idx-1] <= 0 || window[idx] <= 0 {
			continue
		}
		returns = append(returns, math.Log(window[idx]/window[idx-1]))
	}

	if len(returns) == 0 {
		return 0
	}

	return Std(returns) * math.Sqrt(float64(len(returns))) * 100
}

// MaxDrawdown returns the maximum peak to trough decline of the provided
// closes as a positive percentage.
func MaxDrawdown(closes []float64) float64 {
	if len(closes) == 0 {
		return 0
	}

	peak := closes[0]
	var maxDrawdown float64
	for idx := range closes {
		if closes[idx] > peak {
			peak = closes[idx]
		}
		if peak > 0 {
			drawdown := (peak - closes[idx]) / peak * 100
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return maxDrawdown
}

// BuildTechnicalFeatures derives indicator readings from the provided closed
// candle history.
func BuildTechnicalFeatures(candles []shared.Candle) *shared.TechnicalFeatures {
	if len(candles) == 0 {
		return &shared.TechnicalFeatures{}
	}

	closes := shared.ClosePrices(candles)
	lastClose := closes[len(closes)-1]

	features := &shared.TechnicalFeatures{
		LastClose:      lastClose,
		EMA20:          EMA(closes, fastEmaPeriod),
		EMA50:          EMA(closes, slowEmaPeriod),
		SMA20:          SMA(closes, fastEmaPeriod),
		Slope20:        Slope(closes, slopePeriod),
		RealizedVol:    RealizedVolatility(closes, realizedVolPeriod),
		MaxDrawdownPct: MaxDrawdown(closes),
		ZScore:         ZScore(closes),
	}

	// Normalize the slope to percent-per-candle of the average price so the
	// trend threshold is price scale independent.
	sma := features.SMA20
	if sma > 0 {
		features.NormalizedSlope = features.Slope20 / sma * 100
	}

	switch {
	case features.NormalizedSlope > trendSlopeThreshold:
		features.Trend = shared.UpTrend
	case features.NormalizedSlope < -trendSlopeThreshold:
		features.Trend = shared.DownTrend
	default:
		features.Trend = shared.SidewaysTrend
	}

	return features
}
