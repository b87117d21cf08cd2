package engine

import (
	"testing"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
)

// snapshotWith builds a per-timeframe snapshot with a reliable cvd window.
func snapshotWith(venue shared.Venue, tf shared.Timeframe, oiUSD, oiChangePct, cvd, takerVolume float64) *shared.PerTimeframeSnapshot {
	return &shared.PerTimeframeSnapshot{
		Venue:                 venue,
		Timeframe:             tf,
		OI:                    oiUSD,
		OIChangePct:           oiChangePct,
		CVD:                   cvd,
		CVDResolution:         tf,
		CVDRequestedTimeframe: tf,
		CVDReliableForTf:      true,
		CVDTotalVolume:        takerVolume,
	}
}

func TestWhaleRetailRatio(t *testing.T) {
	gates := &params.Default().Gates

	tests := []struct {
		name         string
		bybitPct     float64
		binancePct   float64
		bybitOiUSD   float64
		timeframe    shared.Timeframe
		wantRatio    float64
		wantReliable bool
	}{
		{
			name:         "sub-floor move is neutral",
			bybitPct:     0.1,
			binancePct:   1.0,
			bybitOiUSD:   5_000_000_000,
			timeframe:    shared.FourHour,
			wantRatio:    1,
			wantReliable: false,
		},
		{
			name:         "tiny usd delta is neutral",
			bybitPct:     1.0,
			binancePct:   1.0,
			bybitOiUSD:   100_000,
			timeframe:    shared.FourHour,
			wantRatio:    1,
			wantReliable: false,
		},
		{
			name:         "ratio of the two moves",
			bybitPct:     2.0,
			binancePct:   1.0,
			bybitOiUSD:   5_000_000_000,
			timeframe:    shared.FourHour,
			wantRatio:    2,
			wantReliable: true,
		},
		{
			name:         "quiet binance scales against the floor",
			bybitPct:     1.0,
			binancePct:   0.1,
			bybitOiUSD:   5_000_000_000,
			timeframe:    shared.FourHour,
			wantRatio:    2,
			wantReliable: true,
		},
		{
			name:         "ratio is capped",
			bybitPct:     10.0,
			binancePct:   0.6,
			bybitOiUSD:   5_000_000_000,
			timeframe:    shared.OneDay,
			wantRatio:    10,
			wantReliable: true,
		},
	}

	for _, test := range tests {
		ratio, reliable := WhaleRetailRatio(test.bybitPct, test.binancePct, test.bybitOiUSD,
			test.timeframe, gates)
		assert.Equal(t, test.wantRatio, ratio)
		assert.Equal(t, test.wantReliable, reliable)
	}
}

func TestWhaleRetailRatioScalpingFloors(t *testing.T) {
	gates := &params.Default().Gates

	// A move too small for the macro floors qualifies on the scalping ones.
	_, reliable := WhaleRetailRatio(0.3, 0.3, 2_000_000_000, shared.FourHour, gates)
	assert.Equal(t, false, reliable)

	_, reliable = WhaleRetailRatio(0.3, 0.3, 2_000_000_000, shared.ThirtyMinute, gates)
	assert.Equal(t, true, reliable)
}

func TestDetectDivergenceMissingVenue(t *testing.T) {
	gates := &params.Default().Gates
	result := DetectDivergence(&divergenceInput{
		timeframe: shared.FourHour,
		binance:   snapshotWith(shared.Binance, shared.FourHour, 10_000_000_000, 1, 100, 1_000_000),
	}, gates)

	assert.Equal(t, shared.UnclearScenario, result.Scenario)
	assert.Equal(t, shared.LeanNeutral, result.Lean)
	assert.Equal(t, 1, len(result.Warnings))
}

func TestDetectDivergenceLadder(t *testing.T) {
	gates := &params.Default().Gates
	thresholds := params.Default().Thresholds.FourHour
	tf := shared.FourHour

	tests := []struct {
		name     string
		input    *divergenceInput
		want     shared.Scenario
		wantLean shared.Lean
	}{
		{
			name: "whale distribution",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 0.8, -500, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, -1.2, -200, 2_000_000),
				binancePrice: ClassifyPriceMove(1.8, thresholds),
				bybitPrice:   ClassifyPriceMove(1.8, thresholds),
				binanceOi:    ClassifyOiMove(0.8, thresholds),
				bybitOi:      ClassifyOiMove(-1.2, thresholds),
			},
			want:     shared.WhaleDistribution,
			wantLean: shared.LeanShort,
		},
		{
			name: "whale distribution upgrades on aggressive binance oi",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 1.5, -500, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, -1.2, -200, 2_000_000),
				binancePrice: ClassifyPriceMove(1.8, thresholds),
				bybitPrice:   ClassifyPriceMove(1.8, thresholds),
				binanceOi:    ClassifyOiMove(1.5, thresholds),
				bybitOi:      ClassifyOiMove(-1.2, thresholds),
			},
			want:     shared.WhaleDistribution,
			wantLean: shared.LeanStrongShort,
		},
		{
			name: "whale accumulation",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, -0.2, 100, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.9, 300, 2_000_000),
				binancePrice: ClassifyPriceMove(0.1, thresholds),
				bybitPrice:   ClassifyPriceMove(0.1, thresholds),
				binanceOi:    ClassifyOiMove(-0.2, thresholds),
				bybitOi:      ClassifyOiMove(0.9, thresholds),
			},
			want:     shared.WhaleAccumulation,
			wantLean: shared.LeanLong,
		},
		{
			name: "retail fomo rally",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 0.8, -500, 8_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.1, 100, 1_000_000),
				binancePrice: ClassifyPriceMove(1.0, thresholds),
				bybitPrice:   ClassifyPriceMove(1.0, thresholds),
				binanceOi:    ClassifyOiMove(0.8, thresholds),
				bybitOi:      ClassifyOiMove(0.1, thresholds),
				funding:      ClassifyFundingLevel(0.08, 1.5, 0),
			},
			want:     shared.RetailFomoRally,
			wantLean: shared.LeanShort,
		},
		{
			name: "short squeeze setup",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 0.8, -100, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.9, 300, 2_000_000),
				binancePrice: ClassifyPriceMove(-1.0, thresholds),
				bybitPrice:   ClassifyPriceMove(-1.0, thresholds),
				binanceOi:    ClassifyOiMove(0.8, thresholds),
				bybitOi:      ClassifyOiMove(0.9, thresholds),
				funding:      ClassifyFundingLevel(-0.05, -1.5, 0),
			},
			want:     shared.ShortSqueezeSetup,
			wantLean: shared.LeanLong,
		},
		{
			name: "synchronized bullish strong",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 0.8, 500, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.9, 300, 2_000_000),
				binancePrice: ClassifyPriceMove(1.8, thresholds),
				bybitPrice:   ClassifyPriceMove(1.8, thresholds),
				binanceOi:    ClassifyOiMove(0.8, thresholds),
				bybitOi:      ClassifyOiMove(0.9, thresholds),
			},
			want:     shared.SynchronizedBullish,
			wantLean: shared.LeanStrongLong,
		},
		{
			name: "synchronized bearish",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 0.8, -500, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.9, -300, 2_000_000),
				binancePrice: ClassifyPriceMove(-1.0, thresholds),
				bybitPrice:   ClassifyPriceMove(-1.0, thresholds),
				binanceOi:    ClassifyOiMove(0.8, thresholds),
				bybitOi:      ClassifyOiMove(0.9, thresholds),
			},
			want:     shared.SynchronizedBearish,
			wantLean: shared.LeanShort,
		},
		{
			name: "binance noise",
			input: &divergenceInput{
				timeframe:    tf,
				binance:      snapshotWith(shared.Binance, tf, 12_000_000_000, 1.5, 100, 5_000_000),
				bybit:        snapshotWith(shared.Bybit, tf, 3_000_000_000, 0.1, 0, 2_000_000),
				binancePrice: ClassifyPriceMove(0.1, thresholds),
				bybitPrice:   ClassifyPriceMove(0.1, thresholds),
				binanceOi:    ClassifyOiMove(1.5, thresholds),
				bybitOi:      ClassifyOiMove(0.1, thresholds),
			},
			want:     shared.BinanceNoise,
			wantLean: shared.LeanNeutral,
		},
	}

	for _, test := range tests {
		result := DetectDivergence(test.input, gates)
		if result.Scenario != test.want {
			t.Errorf("%s: expected scenario %s, got %s", test.name,
				test.want.String(), result.Scenario.String())
		}
		if result.Lean != test.wantLean {
			t.Errorf("%s: expected lean %s, got %s", test.name,
				test.wantLean.String(), result.Lean.String())
		}
	}
}

func TestDetectDivergenceUnreliableCvdWarns(t *testing.T) {
	gates := &params.Default().Gates
	thresholds := params.Default().Thresholds.FourHour

	binance := snapshotWith(shared.Binance, shared.FourHour, 12_000_000_000, 0.8, 500, 5_000_000)
	bybit := snapshotWith(shared.Bybit, shared.FourHour, 3_000_000_000, 0.9, 300, 2_000_000)
	bybit.CVDReliableForTf = false

	result := DetectDivergence(&divergenceInput{
		timeframe:    shared.FourHour,
		binance:      binance,
		bybit:        bybit,
		binancePrice: ClassifyPriceMove(1.8, thresholds),
		bybitPrice:   ClassifyPriceMove(1.8, thresholds),
		binanceOi:    ClassifyOiMove(0.8, thresholds),
		bybitOi:      ClassifyOiMove(0.9, thresholds),
	}, gates)

	// An unusable cvd window blocks the synchronized scenario and warns.
	if result.Scenario == shared.SynchronizedBullish {
		t.Fatal("expected synchronized scenario to be blocked by unreliable cvd")
	}
	assert.True(t, len(result.Warnings) > 0)
}

func TestCompareVolume(t *testing.T) {
	dominance, binancePct := compareVolume(8_000_000, 2_000_000)
	assert.Equal(t, shared.RetailVolume, dominance)
	assert.Equal(t, 0.8, binancePct)

	dominance, _ = compareVolume(2_000_000, 8_000_000)
	assert.Equal(t, shared.WhaleVolume, dominance)

	dominance, _ = compareVolume(5_000_000, 5_000_000)
	assert.Equal(t, shared.BalancedVolume, dominance)

	dominance, binancePct = compareVolume(0, 0)
	assert.Equal(t, shared.BalancedVolume, dominance)
	assert.Equal(t, 0.0, binancePct)
}
