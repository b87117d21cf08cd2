package market

import (
	"testing"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
)

// takerRows builds count rows with the provided per-candle buy and sell.
func takerRows(count int, buy, sell float64) []shared.TakerVolume {
	rows := make([]shared.TakerVolume, count)
	for idx := range rows {
		rows[idx] = shared.TakerVolume{
			Timestamp: int64(idx) * 3_600_000,
			Buy:       buy,
			Sell:      sell,
		}
	}
	return rows
}

func TestCVDWindow(t *testing.T) {
	tests := []struct {
		timeframe   shared.Timeframe
		wantWindow  int
		wantMinimum int
	}{
		{shared.ThirtyMinute, 48, 38},
		{shared.OneHour, 24, 19},
		{shared.FourHour, 18, 14},
		{shared.OneDay, 14, 11},
	}

	for _, test := range tests {
		spec, err := CVDWindow(test.timeframe)
		assert.NoError(t, err)
		assert.Equal(t, test.timeframe, spec.Resolution)
		assert.Equal(t, test.wantWindow, spec.WindowCandles)
		assert.Equal(t, test.wantMinimum, spec.MinCandles)
	}

	_, err := CVDWindow(shared.Timeframe(99))
	assert.Error(t, err)
}

func TestComputeCVD(t *testing.T) {
	gates := &params.Default().Gates

	// A full window of one-sided buying, well above the volume floor.
	rows := takerRows(24, 2_000_000, 1_000_000)
	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	assert.Equal(t, 24, result.ActualCandles)
	assert.Equal(t, 24_000_000.0, result.CVD)
	assert.Equal(t, 72_000_000.0, result.TotalVolume)
	assert.Equal(t, 1_000_000.0, result.Delta)
	assert.Equal(t, 3_000_000.0, result.AvgVolumePerCandle)
	assert.True(t, result.DataComplete)
	assert.True(t, result.MarketImpactReliable)
	assert.True(t, result.ReliableForTf)
	assert.Equal(t, shared.OneHour, result.Resolution)
	assert.Equal(t, shared.OneHour, result.RequestedTimeframe)
}

func TestComputeCVDTrimsToWindow(t *testing.T) {
	gates := &params.Default().Gates

	// Forty rows arrive but only the trailing twenty four count.
	rows := takerRows(40, 2_000_000, 1_000_000)
	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	assert.Equal(t, 24, result.ActualCandles)
	assert.Equal(t, 24_000_000.0, result.CVD)
}

func TestComputeCVDIncompleteWindow(t *testing.T) {
	gates := &params.Default().Gates

	rows := takerRows(10, 2_000_000, 1_000_000)
	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	assert.Equal(t, false, result.DataComplete)
	assert.Equal(t, false, result.ReliableForTf)
	assert.True(t, result.DataReason != "")
	// The volume gate still passes independently.
	assert.True(t, result.MarketImpactReliable)
}

func TestComputeCVDZeroVolumeRun(t *testing.T) {
	gates := &params.Default().Gates

	rows := takerRows(24, 4_000_000, 2_000_000)
	// Four consecutive dead candles exceed the allowed run of three.
	for idx := 10; idx < 14; idx++ {
		rows[idx].Buy = 0
		rows[idx].Sell = 0
	}

	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	assert.Equal(t, false, result.DataComplete)
	assert.Equal(t, false, result.ReliableForTf)
	assert.True(t, result.DataReason != "")
}

func TestComputeCVDVolumeFloor(t *testing.T) {
	gates := &params.Default().Gates

	// Complete window but the per-candle volume is far below the floor.
	rows := takerRows(24, 200, 100)
	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	assert.True(t, result.DataComplete)
	assert.Equal(t, false, result.MarketImpactReliable)
	assert.Equal(t, false, result.ReliableForTf)
	assert.True(t, result.MarketReason != "")
}

func TestComputeCVDNormalized(t *testing.T) {
	gates := &params.Default().Gates

	rows := takerRows(24, 3_000_000, 1_000_000)
	result, err := ComputeCVD(rows, shared.OneHour, gates)
	assert.NoError(t, err)
	// Delta over total: (3-1)/(3+1).
	assert.Equal(t, 0.5, result.Normalized)
}

func TestCVDResultApply(t *testing.T) {
	result := CVDResult{
		CVD:                  100,
		Delta:                5,
		Normalized:           0.25,
		Resolution:           shared.FourHour,
		RequestedTimeframe:   shared.FourHour,
		WindowCandles:        18,
		ActualCandles:        18,
		DataComplete:         true,
		MarketImpactReliable: true,
		ReliableForTf:        true,
		TotalVolume:          400,
		AvgVolumePerCandle:   22,
	}

	snapshot := &shared.PerTimeframeSnapshot{}
	result.Apply(snapshot)

	assert.Equal(t, 100.0, snapshot.CVD)
	assert.Equal(t, 5.0, snapshot.CVDDelta)
	assert.Equal(t, 0.25, snapshot.CVDNormalized)
	assert.Equal(t, shared.FourHour, snapshot.CVDResolution)
	assert.Equal(t, 18, snapshot.CVDActualCandles)
	assert.True(t, snapshot.CVDReliableForTf)
	assert.Equal(t, 400.0, snapshot.CVDTotalVolume)
}
