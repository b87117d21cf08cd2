package engine

import (
	"fmt"
	"math"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

const (
	// Signal names carried into the decision payload.
	divergenceSignal    = "exchange_divergence"
	regimeSignal        = "market_regime"
	structureSignal     = "structure"
	volumeProfileSignal = "volume_profile"
	technicalSignal     = "technical"
	fundingSignal       = "funding"
	cvdSignal           = "cvd"

	// nearLevelPct is how close (percent) price must be to a level for the
	// structure signal to lean on it.
	nearLevelPct = 0.5

	// Signal confidences for rule-derived biases.
	bosConfidence       = 7
	levelConfidence     = 5
	profileConfidence   = 6
	technicalConfidence = 6
	criticalFundingConf = 8
	elevatedFundingConf = 6
	cvdAgreeConfidence  = 6
	cvdDivergeConf      = 4
	neutralConfidence   = 3
)

// decisionInput groups the per-timeframe features a decision draws on.
type decisionInput struct {
	timeframe  shared.Timeframe
	divergence *shared.DivergenceResult
	regime     *shared.RegimeResult
	technical  *shared.TechnicalFeatures
	funding    *shared.FundingFeatures
	profile    *shared.VolumeProfile
	structure  *shared.Structure
	cvd        *shared.PerTimeframeSnapshot
	priceMove  shared.PriceMove
}

// cvdGate decides whether the cvd signal may contribute for the timeframe.
// A gated signal is excluded outright, it never degrades to a guess.
func cvdGate(snapshot *shared.PerTimeframeSnapshot, timeframe shared.Timeframe) (bool, string) {
	if snapshot == nil {
		return false, "CVD excluded: no snapshot"
	}

	if snapshot.CVDRequestedTimeframe != timeframe {
		return false, "CVD excluded: resolution mismatch"
	}

	if timeframe.IsScalping() && snapshot.CVDResolution != timeframe {
		return false, "CVD excluded: resolution mismatch"
	}

	if !snapshot.CVDReliableForTf {
		return false, "CVD excluded: unreliable window"
	}

	return true, ""
}

// structureBias derives the structure signal from a break of structure or
// proximity to a level.
func structureBias(structure *shared.Structure, lastClose float64) (shared.Bias, float64) {
	if structure == nil || lastClose <= 0 {
		return shared.Wait, neutralConfidence
	}

	switch structure.Bos {
	case shared.BullishBos:
		return shared.Long, bosConfidence
	case shared.BearishBos:
		return shared.Short, bosConfidence
	}

	if structure.Support > 0 {
		distancePct := (lastClose - structure.Support) / lastClose * 100
		if distancePct >= 0 && distancePct <= nearLevelPct {
			return shared.Long, levelConfidence
		}
	}
	if structure.Resistance > 0 {
		distancePct := (structure.Resistance - lastClose) / lastClose * 100
		if distancePct >= 0 && distancePct <= nearLevelPct {
			return shared.Short, levelConfidence
		}
	}

	return shared.Wait, neutralConfidence
}

// profileBias derives the volume profile signal from the value area.
func profileBias(profile *shared.VolumeProfile, lastClose float64) (shared.Bias, float64) {
	if profile == nil || profile.TotalVolume <= 0 || lastClose <= 0 {
		return shared.Wait, neutralConfidence
	}

	switch {
	case lastClose < profile.VAL:
		return shared.Long, profileConfidence
	case lastClose > profile.VAH:
		return shared.Short, profileConfidence
	default:
		return shared.Wait, neutralConfidence
	}
}

// technicalBias derives the technical signal from the ema cross and trend.
func technicalBias(technical *shared.TechnicalFeatures) (shared.Bias, float64) {
	if technical == nil {
		return shared.Wait, neutralConfidence
	}

	switch {
	case technical.EMA20 > technical.EMA50 && technical.Trend == shared.UpTrend:
		return shared.Long, technicalConfidence
	case technical.EMA20 < technical.EMA50 && technical.Trend == shared.DownTrend:
		return shared.Short, technicalConfidence
	default:
		return shared.Wait, neutralConfidence
	}
}

// fundingBias derives the funding signal from the classified level.
func fundingBias(funding *shared.FundingFeatures) (shared.Bias, float64) {
	if funding == nil {
		return shared.Wait, neutralConfidence
	}

	switch funding.State.Level {
	case shared.CriticalHighFunding, shared.CriticalLowFunding:
		return funding.State.Bias, criticalFundingConf
	case shared.HighFunding, shared.LowFunding:
		return funding.State.Bias, elevatedFundingConf
	default:
		return shared.Wait, neutralConfidence
	}
}

// cvdBias derives the cvd signal from the sign of the window delta against
// the price direction.
func cvdBias(snapshot *shared.PerTimeframeSnapshot, price shared.PriceMove) (shared.Bias, float64) {
	switch {
	case snapshot.CVD > 0:
		if price.Direction == shared.Up {
			return shared.Long, cvdAgreeConfidence
		}
		return shared.Long, cvdDivergeConf
	case snapshot.CVD < 0:
		if price.Direction == shared.Down {
			return shared.Short, cvdAgreeConfidence
		}
		return shared.Short, cvdDivergeConf
	default:
		return shared.Wait, neutralConfidence
	}
}

// clamp bounds the provided value to [low, high].
func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

// Decide runs the weighted multi-signal decision for one timeframe.
func Decide(input *decisionInput, cfg *params.Config) *shared.Decision {
	signals := make([]shared.Signal, 0, 7)
	reasoning := []string{}
	warning := ""

	lastClose := 0.0
	if input.technical != nil {
		lastClose = input.technical.LastClose
	}

	// exchange_divergence.
	signals = append(signals, shared.Signal{
		Name:       divergenceSignal,
		Weight:     cfg.Weights.ExchangeDivergence,
		Confidence: input.divergence.Confidence,
		Bias:       input.divergence.Lean.Bias(),
	})
	if input.divergence.Scenario != shared.UnclearScenario {
		reasoning = append(reasoning, fmt.Sprintf("divergence scenario %s (%.1f)",
			input.divergence.Scenario.String(), input.divergence.Confidence))
	}

	// market_regime.
	signals = append(signals, shared.Signal{
		Name:       regimeSignal,
		Weight:     cfg.Weights.MarketRegime,
		Confidence: input.regime.Confidence,
		Bias:       input.regime.Bias,
	})
	reasoning = append(reasoning, fmt.Sprintf("regime %s.%s (%.1f)",
		input.regime.Regime.String(), input.regime.Subtype.String(), input.regime.Confidence))

	// structure.
	bias, confidence := structureBias(input.structure, lastClose)
	signals = append(signals, shared.Signal{
		Name:       structureSignal,
		Weight:     cfg.Weights.Structure,
		Confidence: confidence,
		Bias:       bias,
	})

	// volume_profile.
	bias, confidence = profileBias(input.profile, lastClose)
	signals = append(signals, shared.Signal{
		Name:       volumeProfileSignal,
		Weight:     cfg.Weights.VolumeProfile,
		Confidence: confidence,
		Bias:       bias,
	})

	// technical.
	bias, confidence = technicalBias(input.technical)
	signals = append(signals, shared.Signal{
		Name:       technicalSignal,
		Weight:     cfg.Weights.Technical,
		Confidence: confidence,
		Bias:       bias,
	})

	// funding.
	bias, confidence = fundingBias(input.funding)
	signals = append(signals, shared.Signal{
		Name:       fundingSignal,
		Weight:     cfg.Weights.Funding,
		Confidence: confidence,
		Bias:       bias,
	})

	// cvd, gated on window reliability and resolution.
	usable, gateReason := cvdGate(input.cvd, input.timeframe)
	cvdSig := shared.Signal{Name: cvdSignal, Weight: cfg.Weights.CVD}
	if usable {
		cvdSig.Bias, cvdSig.Confidence = cvdBias(input.cvd, input.priceMove)
	} else {
		cvdSig.Weight = 0
		cvdSig.Bias = shared.Wait
		cvdSig.Excluded = true
		cvdSig.Reason = gateReason
		warning = gateReason
	}
	signals = append(signals, cvdSig)

	// Score each side by weighted confidence, then renormalize over the
	// active weight so excluded signals do not dilute the scale.
	var activeWeight float64
	for idx := range signals {
		if signals[idx].Weight > 0 {
			activeWeight += signals[idx].Weight
		}
	}

	scores := shared.Scores{}
	for idx := range signals {
		if signals[idx].Weight <= 0 {
			continue
		}
		contribution := signals[idx].Confidence / 10 * signals[idx].Weight
		switch signals[idx].Bias {
		case shared.Long:
			scores.Long += contribution
		case shared.Short:
			scores.Short += contribution
		default:
			scores.Wait += contribution
		}
	}

	if activeWeight > 0 {
		scores.Long = scores.Long / activeWeight * 10
		scores.Short = scores.Short / activeWeight * 10
		scores.Wait = scores.Wait / activeWeight * 10
	}

	directionConfidence := math.Max(scores.Long, scores.Short)
	var conflictBonus float64
	if directionConfidence > 0 {
		conflictBonus = clamp(math.Min(scores.Long, scores.Short)/directionConfidence*
			cfg.Penalties.ConflictBonusCap, 0, cfg.Penalties.ConflictBonusCap)
	}
	noTradeConfidence := clamp(10-directionConfidence+conflictBonus, 0, 10)

	decision := &shared.Decision{
		Scores:        scores,
		Signals:       signals,
		PrimaryRegime: input.regime.Regime,
		Warning:       warning,
	}

	switch {
	case scores.Long > cfg.Thresholds.LongShortBuffer*scores.Short &&
		scores.Long > cfg.Thresholds.WaitBuffer*scores.Wait:
		decision.Bias = shared.Long
		decision.Confidence = directionConfidence
		decision.ConfidenceType = shared.DirectionConfidence
	case scores.Short > cfg.Thresholds.LongShortBuffer*scores.Long &&
		scores.Short > cfg.Thresholds.WaitBuffer*scores.Wait:
		decision.Bias = shared.Short
		decision.Confidence = directionConfidence
		decision.ConfidenceType = shared.DirectionConfidence
	default:
		decision.Bias = shared.Wait
		decision.Confidence = noTradeConfidence
		decision.ConfidenceType = shared.NoTradeConfidence
	}

	decision.Reasoning = append(reasoning, fmt.Sprintf("scores long %.1f short %.1f wait %.1f",
		scores.Long, scores.Short, scores.Wait))
	decision.TradeStance = tradeStance(decision, cfg)
	decision.RiskMode = riskMode(decision, input.regime, input.divergence, cfg)

	return decision
}

// tradeStance derives the actionable stance of a decision.
func tradeStance(decision *shared.Decision, cfg *params.Config) shared.TradeStance {
	avoidRegime := decision.PrimaryRegime == shared.Range ||
		decision.PrimaryRegime == shared.Trap ||
		decision.PrimaryRegime == shared.Covering

	if decision.Confidence < cfg.Thresholds.AvoidConfidence || avoidRegime {
		return shared.AvoidTrading
	}

	switch decision.Bias {
	case shared.Long:
		return shared.LookForLongs
	case shared.Short:
		return shared.LookForShorts
	default:
		return shared.AvoidTrading
	}
}

// riskMode derives the risk posture of a decision.
func riskMode(decision *shared.Decision, regime *shared.RegimeResult,
	divergence *shared.DivergenceResult, cfg *params.Config) shared.RiskMode {
	if regime.Regime == shared.Trap || regime.Regime == shared.Covering ||
		decision.Confidence < cfg.Thresholds.DefensiveConfidence {
		return shared.DefensiveRisk
	}

	healthyTrend := regime.Subtype == shared.HealthyBull || regime.Subtype == shared.HealthyBear
	if decision.Confidence >= cfg.Thresholds.AggressiveConfidence &&
		divergence.Scenario.Synchronized() && healthyTrend {
		return shared.AggressiveRisk
	}

	return shared.NormalRisk
}
