package engine

import (
	"fmt"
	"math"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

const (
	// whaleDominanceRatio is the volume multiple past which one venue
	// dominates taker flow.
	whaleDominanceRatio = 1.5
	// hedgingRatioFloor is the whale/retail ratio past which whale hedging
	// is considered in play.
	hedgingRatioFloor = 1.5
	// leadingRatioFloor is the whale/retail ratio past which bybit flow is
	// considered to lead the market.
	leadingRatioFloor = 2.0
	// accumulationOiGapPct is the binance minus bybit oi change gap below
	// which whales accumulate against retail.
	accumulationOiGapPct = -0.5
	// scalpingRatioCap caps the whale/retail ratio when binance is quiet.
	scalpingRatioCap = 5.0
	// ratioCap caps the whale/retail ratio outright.
	ratioCap = 10.0
)

// divergenceInput groups everything the scenario ladder needs for one
// timeframe.
type divergenceInput struct {
	timeframe    shared.Timeframe
	binance      *shared.PerTimeframeSnapshot
	bybit        *shared.PerTimeframeSnapshot
	binancePrice shared.PriceMove
	bybitPrice   shared.PriceMove
	binanceOi    shared.OiMove
	bybitOi      shared.OiMove
	funding      shared.FundingState
}

// WhaleRetailRatio derives how strongly coin-margined (whale) open interest
// flow outweighs USDT-margined (retail) flow. Moves below the timeframe's
// qualification floors return a neutral, unreliable ratio.
func WhaleRetailRatio(bybitOiChangePct, binanceOiChangePct, bybitOiUSD float64,
	timeframe shared.Timeframe, gates *params.Gates) (float64, bool) {
	minPct := gates.WhaleRatioMacroMinPct
	minUSD := gates.WhaleRatioMacroMinUSD
	if timeframe.IsScalping() {
		minPct = gates.WhaleRatioScalpingMinPct
		minUSD = gates.WhaleRatioScalpingMinUSD
	}

	bybitAbs := math.Abs(bybitOiChangePct)
	deltaUSD := math.Abs(bybitOiChangePct / 100 * bybitOiUSD)
	if bybitAbs < minPct || deltaUSD < minUSD {
		return 1, false
	}

	binanceAbs := math.Abs(binanceOiChangePct)
	if binanceAbs < minPct {
		// Binance is quiet while bybit qualifies; scale against the floor
		// rather than dividing by noise.
		return math.Min(bybitAbs/minPct, scalpingRatioCap), true
	}

	return math.Min(bybitAbs/binanceAbs, ratioCap), true
}

// compareVolume derives which venue dominates taker volume. Only direction is
// comparable across venues, the units differ.
func compareVolume(binanceVolume, bybitVolume float64) (shared.VolumeDominance, float64) {
	total := binanceVolume + bybitVolume
	if total <= 0 {
		return shared.BalancedVolume, 0
	}

	binancePct := binanceVolume / total
	switch {
	case bybitVolume > whaleDominanceRatio*binanceVolume:
		return shared.WhaleVolume, binancePct
	case binanceVolume > whaleDominanceRatio*bybitVolume:
		return shared.RetailVolume, binancePct
	default:
		return shared.BalancedVolume, binancePct
	}
}

// cvdSign reads the venue's cvd sign, treating an unreliable window as
// unusable and recording a warning.
func cvdSign(snapshot *shared.PerTimeframeSnapshot, warnings *[]string) (positive, negative, usable bool) {
	if snapshot == nil {
		return false, false, false
	}

	if !snapshot.CVDReliableForTf {
		*warnings = append(*warnings, fmt.Sprintf("%s cvd unreliable for %s: ignored",
			snapshot.Venue.String(), snapshot.Timeframe.String()))
		return false, false, false
	}

	return snapshot.CVD > 0, snapshot.CVD < 0, true
}

// DetectDivergence evaluates the exchange divergence scenario ladder in
// priority order and returns the first matching scenario.
func DetectDivergence(input *divergenceInput, gates *params.Gates) *shared.DivergenceResult {
	result := &shared.DivergenceResult{
		Scenario:         shared.UnclearScenario,
		Lean:             shared.LeanNeutral,
		Confidence:       4,
		WhaleRetailRatio: 1,
	}

	if input.binance == nil || input.bybit == nil {
		result.Warnings = append(result.Warnings, "missing venue snapshot: divergence unclear")
		return result
	}

	warnings := []string{}
	binanceCvdPositive, binanceCvdNegative, _ := cvdSign(input.binance, &warnings)
	bybitCvdPositive, bybitCvdNegative, bybitCvdReliable := cvdSign(input.bybit, &warnings)

	ratio, ratioReliable := WhaleRetailRatio(input.bybit.OIChangePct, input.binance.OIChangePct,
		input.bybit.OI, input.timeframe, gates)
	dominance, binancePct := compareVolume(input.binance.CVDTotalVolume, input.bybit.CVDTotalVolume)

	result.WhaleRetailRatio = ratio
	result.RatioReliable = ratioReliable
	result.Dominance = dominance
	result.BinanceVolumePct = binancePct
	result.Warnings = warnings

	priceUp := input.binancePrice.Direction == shared.Up
	priceDown := input.binancePrice.Direction == shared.Down
	priceStrong := input.binancePrice.Strength == shared.StrongStrength
	binanceOiRising := input.binanceOi.Direction == shared.Up
	binanceOiAggressive := input.binanceOi.Strength == shared.AggressiveOi
	bybitOiRising := input.bybitOi.Direction == shared.Up
	bybitOiFalling := input.bybitOi.Direction == shared.Down
	bybitOiAggressive := input.bybitOi.Strength == shared.AggressiveOi
	oiGap := input.binance.OIChangePct - input.bybit.OIChangePct

	switch {
	case priceUp && priceStrong && bybitOiFalling && bybitOiAggressive && binanceOiRising &&
		bybitCvdReliable && binanceCvdNegative:
		// Whales unwind into a retail-driven rally.
		result.Scenario = shared.WhaleDistribution
		result.Lean = shared.LeanShort
		result.Confidence = 7
		if binanceOiAggressive {
			result.Lean = shared.LeanStrongShort
			result.Confidence = 8.5
		}

	case bybitOiRising && bybitCvdPositive && oiGap < accumulationOiGapPct:
		// Whales build while retail stays flat or exits.
		result.Scenario = shared.WhaleAccumulation
		result.Lean = shared.LeanLong
		result.Confidence = 7
		if bybitOiAggressive {
			result.Lean = shared.LeanStrongLong
			result.Confidence = 8
		}

	case priceUp && binanceOiRising && !bybitOiRising && binanceCvdNegative &&
		fundingElevated(input.funding):
		// Retail chases a rally whales are not joining.
		result.Scenario = shared.RetailFomoRally
		result.Lean = shared.LeanShort
		result.Confidence = 7

	case binanceOiRising && priceDown && fundingNegative(input.funding) && bybitOiRising &&
		bybitCvdPositive:
		// Shorts pile in against whale buying with funding already negative.
		result.Scenario = shared.ShortSqueezeSetup
		result.Lean = shared.LeanLong
		result.Confidence = 7

	case priceUp && bybitOiRising && bybitCvdNegative && ratio > hedgingRatioFloor:
		result.Scenario = shared.WhaleHedging
		result.Lean = shared.LeanShort
		result.Confidence = 6.5

	case priceUp && binanceOiRising && bybitOiRising && binanceCvdPositive && bybitCvdPositive:
		result.Scenario = shared.SynchronizedBullish
		result.Lean = shared.LeanLong
		result.Confidence = 7
		if priceStrong {
			result.Lean = shared.LeanStrongLong
			result.Confidence = 8
		}

	case priceDown && binanceOiRising && bybitOiRising && binanceCvdNegative && bybitCvdNegative:
		result.Scenario = shared.SynchronizedBearish
		result.Lean = shared.LeanShort
		result.Confidence = 7
		if input.binancePrice.Strength == shared.StrongStrength {
			result.Lean = shared.LeanStrongShort
			result.Confidence = 8
		}

	case ratioReliable && ratio > leadingRatioFloor && input.bybitOi.Direction != shared.Flat:
		// Bybit flow leads, follow its direction.
		result.Scenario = shared.BybitLeading
		result.Confidence = 6
		if bybitOiRising {
			result.Lean = shared.LeanLong
		} else {
			result.Lean = shared.LeanShort
		}

	case binanceOiAggressive && input.bybitOi.Strength == shared.QuietOi:
		// Retail churn with no whale participation.
		result.Scenario = shared.BinanceNoise
		result.Lean = shared.LeanNeutral
		result.Confidence = 5
	}

	return result
}
