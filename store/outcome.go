package store

import (
	"fmt"

	"github.com/dnldd/vigil/shared"
)

const (
	// waitDirectionalityFloor is the share of the horizon range the final
	// move must cover for a wait verdict to count as wrong.
	waitDirectionalityFloor = 0.6
	// waitThresholdMultiplier scales the significance threshold for wait
	// verdicts, which need a larger move to be disproven.
	waitThresholdMultiplier = 1.5
)

// HorizonHours returns the labeling horizon of the provided primary
// timeframe.
func HorizonHours(timeframe shared.Timeframe) int {
	switch timeframe {
	case shared.ThirtyMinute:
		return 6
	case shared.OneHour:
		return 12
	case shared.FourHour:
		return 24
	case shared.OneDay:
		return 72
	default:
		return 24
	}
}

// LabelOutcome classifies how price resolved after the provided state. The
// candles must cover the horizon window past the state timestamp. It is a
// pure function so labeling runs are reproducible.
func LabelOutcome(state *shared.MarketState, candles []shared.Candle, significancePct float64) (*shared.Outcome, error) {
	if state.FinalDecision == nil {
		return nil, fmt.Errorf("labeling outcome: state %s has no decision", state.ID)
	}

	entry := state.Price()
	if entry <= 0 {
		return nil, fmt.Errorf("labeling outcome: state %s has no entry price", state.ID)
	}

	horizon := HorizonHours(state.PrimaryTimeframe)
	horizonEnd := state.Timestamp + int64(horizon)*3_600_000

	var window []shared.Candle
	for idx := range candles {
		if candles[idx].Timestamp > state.Timestamp && candles[idx].Timestamp <= horizonEnd {
			window = append(window, candles[idx])
		}
	}
	if len(window) == 0 {
		return nil, &shared.InsufficientDataError{
			Timeframe: state.PrimaryTimeframe,
			Need:      1,
			Context:   "outcome horizon candles",
		}
	}

	maxHighPct := (window[0].High - entry) / entry * 100
	minLowPct := (window[0].Low - entry) / entry * 100
	for idx := range window {
		highPct := (window[idx].High - entry) / entry * 100
		lowPct := (window[idx].Low - entry) / entry * 100
		if highPct > maxHighPct {
			maxHighPct = highPct
		}
		if lowPct < minLowPct {
			minLowPct = lowPct
		}
	}

	finalPrice := window[len(window)-1].Close
	finalMovePct := (finalPrice - entry) / entry * 100

	outcome := &shared.Outcome{
		HorizonHours: horizon,
		FinalPrice:   finalPrice,
		FinalMovePct: finalMovePct,
		LabeledAt:    window[len(window)-1].Timestamp,
	}

	switch state.FinalDecision.Bias {
	case shared.Long:
		outcome.MFE = maxHighPct
		outcome.MAE = minLowPct
		switch {
		case finalMovePct >= significancePct:
			outcome.Label = shared.Continuation
			outcome.Reason = fmt.Sprintf("price advanced %.2f%% with a long bias", finalMovePct)
		case finalMovePct <= -significancePct:
			outcome.Label = shared.Reversal
			outcome.Reason = fmt.Sprintf("price fell %.2f%% against a long bias", finalMovePct)
		default:
			outcome.Label = shared.Noise
			outcome.Reason = fmt.Sprintf("move of %.2f%% stayed inside the %.2f%% significance band",
				finalMovePct, significancePct)
		}

	case shared.Short:
		outcome.MFE = -minLowPct
		outcome.MAE = -maxHighPct
		switch {
		case finalMovePct <= -significancePct:
			outcome.Label = shared.Continuation
			outcome.Reason = fmt.Sprintf("price fell %.2f%% with a short bias", finalMovePct)
		case finalMovePct >= significancePct:
			outcome.Label = shared.Reversal
			outcome.Reason = fmt.Sprintf("price advanced %.2f%% against a short bias", finalMovePct)
		default:
			outcome.Label = shared.Noise
			outcome.Reason = fmt.Sprintf("move of %.2f%% stayed inside the %.2f%% significance band",
				finalMovePct, significancePct)
		}

	default:
		// A wait verdict is wrong only when the market resolved
		// directionally, a wide but round-trip range vindicates it. A
		// missed directional resolve is a continuation of the move the
		// wait sat out, an undirected market is noise.
		outcome.MFE = maxHighPct
		outcome.MAE = minLowPct
		rangePct := maxHighPct - minLowPct
		var directionality float64
		if rangePct > 0 {
			directionality = absFloat(finalMovePct) / rangePct
		}

		if directionality > waitDirectionalityFloor &&
			absFloat(finalMovePct) >= waitThresholdMultiplier*significancePct {
			outcome.Label = shared.Continuation
			outcome.Reason = fmt.Sprintf("market resolved %.2f%% directionally past a wait verdict", finalMovePct)
		} else {
			outcome.Label = shared.Noise
			outcome.Reason = fmt.Sprintf("market stayed undirected (%.2f%% of a %.2f%% range)",
				finalMovePct, rangePct)
		}
	}

	return outcome, nil
}

func absFloat(value float64) float64 {
	if value < 0 {
		return -value
	}

	return value
}
