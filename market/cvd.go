package market

import (
	"fmt"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

// WindowSpec fixes the cvd fetch resolution and window for one target
// timeframe. Cvd is never computed at a coarser resolution than its target.
type WindowSpec struct {
	// Resolution is the api interval taker rows are fetched at.
	Resolution shared.Timeframe
	// WindowCandles is the rolling window length.
	WindowCandles int
	// MinCandles is the completeness floor, roughly eighty percent of the
	// window.
	MinCandles int
}

// cvdWindows maps each target timeframe to its window spec.
var cvdWindows = map[shared.Timeframe]WindowSpec{
	shared.ThirtyMinute: {Resolution: shared.ThirtyMinute, WindowCandles: 48, MinCandles: 38},
	shared.OneHour:      {Resolution: shared.OneHour, WindowCandles: 24, MinCandles: 19},
	shared.FourHour:     {Resolution: shared.FourHour, WindowCandles: 18, MinCandles: 14},
	shared.OneDay:       {Resolution: shared.OneDay, WindowCandles: 14, MinCandles: 11},
}

// CVDWindow returns the window spec of the provided target timeframe.
func CVDWindow(timeframe shared.Timeframe) (WindowSpec, error) {
	spec, ok := cvdWindows[timeframe]
	if !ok {
		return WindowSpec{}, fmt.Errorf("no cvd window for timeframe %s", timeframe.String())
	}

	return spec, nil
}

// ComputeCVD derives the cumulative volume delta and its reliability gates
// over the provided taker rows, which must already be limited to the target
// window and sorted ascending.
func ComputeCVD(rows []shared.TakerVolume, timeframe shared.Timeframe,
	gates *params.Gates) (CVDResult, error) {
	spec, err := CVDWindow(timeframe)
	if err != nil {
		return CVDResult{}, err
	}

	if len(rows) > spec.WindowCandles {
		rows = rows[len(rows)-spec.WindowCandles:]
	}

	result := CVDResult{
		Resolution:         spec.Resolution,
		RequestedTimeframe: timeframe,
		WindowCandles:      spec.WindowCandles,
		ActualCandles:      len(rows),
	}

	var zeroRun, longestZeroRun int
	for idx := range rows {
		buy := rows[idx].Buy
		sell := rows[idx].Sell
		result.CVD += buy - sell
		result.TotalVolume += buy + sell

		if buy+sell == 0 {
			zeroRun++
			if zeroRun > longestZeroRun {
				longestZeroRun = zeroRun
			}
		} else {
			zeroRun = 0
		}
	}

	if len(rows) > 0 {
		last := rows[len(rows)-1]
		result.Delta = last.Buy - last.Sell
		result.AvgVolumePerCandle = result.TotalVolume / float64(len(rows))
	}
	if result.TotalVolume > 0 {
		result.Normalized = result.CVD / result.TotalVolume
	}

	switch {
	case result.ActualCandles < spec.MinCandles:
		result.DataReason = fmt.Sprintf("only %d of %d candles present (need %d)",
			result.ActualCandles, spec.WindowCandles, spec.MinCandles)
	case longestZeroRun > gates.MaxZeroVolumeRun:
		result.DataReason = fmt.Sprintf("zero-volume run of %d exceeds %d",
			longestZeroRun, gates.MaxZeroVolumeRun)
	default:
		result.DataComplete = true
	}

	minVolume := gates.CVDMinVolume(timeframe)
	if result.AvgVolumePerCandle >= minVolume {
		result.MarketImpactReliable = true
	} else {
		result.MarketReason = fmt.Sprintf("avg volume %.0f below %.0f floor",
			result.AvgVolumePerCandle, minVolume)
	}

	result.ReliableForTf = result.DataComplete && result.MarketImpactReliable

	return result, nil
}

// CVDResult is the computed cumulative volume delta window for one venue and
// timeframe.
type CVDResult struct {
	CVD                  float64
	Delta                float64
	Normalized           float64
	Resolution           shared.Timeframe
	RequestedTimeframe   shared.Timeframe
	WindowCandles        int
	ActualCandles        int
	DataComplete         bool
	MarketImpactReliable bool
	ReliableForTf        bool
	DataReason           string
	MarketReason         string
	TotalVolume          float64
	AvgVolumePerCandle   float64
}

// Apply copies the result onto the provided snapshot.
func (r *CVDResult) Apply(snapshot *shared.PerTimeframeSnapshot) {
	snapshot.CVD = r.CVD
	snapshot.CVDDelta = r.Delta
	snapshot.CVDNormalized = r.Normalized
	snapshot.CVDResolution = r.Resolution
	snapshot.CVDRequestedTimeframe = r.RequestedTimeframe
	snapshot.CVDWindowCandles = r.WindowCandles
	snapshot.CVDActualCandles = r.ActualCandles
	snapshot.CVDDataComplete = r.DataComplete
	snapshot.CVDMarketImpactReliable = r.MarketImpactReliable
	snapshot.CVDReliableForTf = r.ReliableForTf
	snapshot.CVDDataReason = r.DataReason
	snapshot.CVDMarketReason = r.MarketReason
	snapshot.CVDTotalVolume = r.TotalVolume
	snapshot.CVDAvgVolumePerCandle = r.AvgVolumePerCandle
}
