package engine

import (
	"math"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

const (
	// criticalFundingZScore is the z-score past which funding is critical.
	criticalFundingZScore = 2.0
	// elevatedFundingZScore is the z-score past which funding is elevated.
	elevatedFundingZScore = 1.0
)

// ClassifyPriceMove classifies the provided percentage price change using the
// timeframe's thresholds. Scaling the change never weakens the classification.
func ClassifyPriceMove(changePct float64, thresholds params.TimeframeThresholds) shared.PriceMove {
	move := shared.PriceMove{ChangePct: changePct}

	abs := math.Abs(changePct)
	switch {
	case abs < thresholds.PriceNoise:
		move.Direction = shared.Flat
		move.Strength = shared.NoiseStrength
	case abs >= thresholds.PriceStrong:
		move.Strength = shared.StrongStrength
	default:
		move.Strength = shared.NormalStrength
	}

	if move.Strength != shared.NoiseStrength {
		if changePct > 0 {
			move.Direction = shared.Up
		} else {
			move.Direction = shared.Down
		}
	}

	return move
}

// ClassifyOiMove classifies the provided percentage open interest change
// using the timeframe's thresholds.
func ClassifyOiMove(changePct float64, thresholds params.TimeframeThresholds) shared.OiMove {
	move := shared.OiMove{ChangePct: changePct}

	abs := math.Abs(changePct)
	switch {
	case abs < thresholds.OiQuiet:
		move.Direction = shared.Flat
		move.Strength = shared.QuietOi
	case abs >= thresholds.OiAggressive:
		move.Strength = shared.AggressiveOi
	default:
		move.Strength = shared.NormalOi
	}

	if move.Strength != shared.QuietOi {
		if changePct > 0 {
			move.Direction = shared.Up
		} else {
			move.Direction = shared.Down
		}
	}

	return move
}

// ClassifyFundingLevel classifies the provided funding rate. The z-score of
// the rate against its lookback is the primary input; when the lookback is
// too short to score, the raw rate against the timeframe threshold
// classifies instead.
func ClassifyFundingLevel(rate float64, zScore float64, ratePctThreshold float64) shared.FundingState {
	state := shared.FundingState{
		Rate:   rate,
		ZScore: zScore,
		Level:  shared.NormalFunding,
		Bias:   shared.Wait,
	}

	switch {
	case zScore > criticalFundingZScore:
		// Extremely crowded longs pay shorts, a contrarian short signal.
		state.Level = shared.CriticalHighFunding
		state.Bias = shared.Short
	case zScore < -criticalFundingZScore:
		state.Level = shared.CriticalLowFunding
		state.Bias = shared.Long
	case zScore > elevatedFundingZScore:
		state.Level = shared.HighFunding
		state.Bias = shared.Short
	case zScore < -elevatedFundingZScore:
		state.Level = shared.LowFunding
		state.Bias = shared.Long
	case zScore == 0 && ratePctThreshold > 0 && rate >= ratePctThreshold:
		state.Level = shared.HighFunding
		state.Bias = shared.Short
	case zScore == 0 && ratePctThreshold > 0 && rate <= -ratePctThreshold:
		state.Level = shared.LowFunding
		state.Bias = shared.Long
	}

	return state
}

// fundingElevated reports whether the funding state reads as crowded longs.
func fundingElevated(state shared.FundingState) bool {
	return state.Level == shared.HighFunding || state.Level == shared.CriticalHighFunding
}

// fundingNegative reports whether the funding state reads as crowded shorts.
func fundingNegative(state shared.FundingState) bool {
	return state.Rate < 0 || state.Level == shared.LowFunding || state.Level == shared.CriticalLowFunding
}
