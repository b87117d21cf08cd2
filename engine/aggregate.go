package engine

import (
	"fmt"
	"math"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

const (
	// macroAnchorReason is the reasoning entry prepended when the macro
	// bias overrides the aggregate.
	macroAnchorReason = "macro timeframes oppose the aggregated bias, standing down"
	// consolidationWarning is attached when the macro anchors but the
	// scalping bucket has no direction yet.
	consolidationWarning = "Lower timeframe consolidating, wait for setup"
	// maxBucketBullets caps the templated bullets per bucket.
	maxBucketBullets = 3
)

// bucketMembers lists the member timeframes of each bucket, highest first.
var bucketMembers = map[shared.BucketName][]shared.Timeframe{
	shared.MacroBucket:    {shared.OneDay, shared.FourHour},
	shared.MicroBucket:    {shared.FourHour, shared.OneHour},
	shared.ScalpingBucket: {shared.OneHour, shared.ThirtyMinute},
}

// Aggregate combines the per-timeframe decisions into the final decision and
// the timeframe buckets.
func Aggregate(metrics []shared.TimeframeMetrics, cfg *params.Config) (*shared.Decision, *shared.TimeframeBuckets) {
	decision := aggregateScores(metrics, cfg)
	buckets := buildBuckets(metrics, cfg)

	macroBias := macroBias(metrics, cfg)
	if macroBias != shared.Wait && macroBias.Opposes(decision.Bias) {
		decision.Bias = shared.Wait
		decision.Confidence = math.Min(decision.Confidence, cfg.Penalties.MacroOverrideConfidenceCap)
		decision.ConfidenceType = shared.NoTradeConfidence
		decision.MacroOverride = &shared.MacroOverride{
			Triggered: true,
			Reason:    macroAnchorReason,
		}
		decision.Reasoning = append([]string{macroAnchorReason}, decision.Reasoning...)
		decision.TradeStance = shared.AvoidTrading
		decision.RiskMode = shared.DefensiveRisk
		return decision, buckets
	}

	// Macro hierarchy: a confident macro bucket anchors the final bias
	// unless the scalping bucket actively opposes it.
	macro := buckets.Macro
	scalping := buckets.Scalping
	if macro != nil && macro.Bias != shared.NeutralBucket &&
		macro.Confidence >= cfg.Thresholds.MacroAgreeConfidence {
		opposed := scalping != nil && scalping.Bias.Bias().Opposes(macro.Bias.Bias())
		if !opposed {
			decision.Bias = macro.Bias.Bias()
			decision.MacroAnchored = true
			if scalping != nil && scalping.Bias == shared.NeutralBucket {
				decision.Warning = consolidationWarning
			}
			decision.TradeStance = anchoredStance(decision, cfg)
		}
	}

	return decision, buckets
}

// aggregateScores blends per-timeframe scores with the configured timeframe
// weights and applies the bucket buffer rule to pick the bias.
func aggregateScores(metrics []shared.TimeframeMetrics, cfg *params.Config) *shared.Decision {
	var activeWeight float64
	scores := shared.Scores{}
	reasoning := []string{}
	primaryRegime := shared.UnclearRegime

	for idx := range metrics {
		tf := metrics[idx].Timeframe
		tfDecision := metrics[idx].FinalDecision
		if tfDecision == nil {
			continue
		}

		weight := cfg.Weights.TimeframeWeight(tf)
		if weight <= 0 {
			continue
		}

		activeWeight += weight
		scores.Long += tfDecision.Scores.Long * weight
		scores.Short += tfDecision.Scores.Short * weight
		scores.Wait += tfDecision.Scores.Wait * weight
		reasoning = append(reasoning, fmt.Sprintf("%s: %s %.1f", tf.String(),
			tfDecision.Bias.String(), tfDecision.Confidence))

		if tf == shared.FourHour {
			primaryRegime = tfDecision.PrimaryRegime
		}
	}

	if activeWeight > 0 {
		scores.Long /= activeWeight
		scores.Short /= activeWeight
		scores.Wait /= activeWeight
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
		Reasoning:     reasoning,
		PrimaryRegime: primaryRegime,
	}

	switch {
	case scores.Long > cfg.Thresholds.BucketBuffer*scores.Short &&
		scores.Long > cfg.Thresholds.WaitBuffer*scores.Wait:
		decision.Bias = shared.Long
		decision.Confidence = directionConfidence
		decision.ConfidenceType = shared.DirectionConfidence
	case scores.Short > cfg.Thresholds.BucketBuffer*scores.Long &&
		scores.Short > cfg.Thresholds.WaitBuffer*scores.Wait:
		decision.Bias = shared.Short
		decision.Confidence = directionConfidence
		decision.ConfidenceType = shared.DirectionConfidence
	default:
		decision.Bias = shared.Wait
		decision.Confidence = noTradeConfidence
		decision.ConfidenceType = shared.NoTradeConfidence
	}

	decision.TradeStance = tradeStance(decision, cfg)
	decision.RiskMode = aggregateRiskMode(decision, cfg)

	return decision
}

// aggregateRiskMode derives the aggregate risk posture without scenario
// context, which only exists per timeframe.
func aggregateRiskMode(decision *shared.Decision, cfg *params.Config) shared.RiskMode {
	if decision.PrimaryRegime == shared.Trap || decision.PrimaryRegime == shared.Covering ||
		decision.Confidence < cfg.Thresholds.DefensiveConfidence {
		return shared.DefensiveRisk
	}

	return shared.NormalRisk
}

// anchoredStance recomputes the stance after a macro anchor changes the bias.
func anchoredStance(decision *shared.Decision, cfg *params.Config) shared.TradeStance {
	if decision.Confidence < cfg.Thresholds.AvoidConfidence {
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

// macroBias derives the consensus bias of the two highest timeframes.
func macroBias(metrics []shared.TimeframeMetrics, cfg *params.Config) shared.Bias {
	var fourHour, oneDay *shared.Decision
	for idx := range metrics {
		switch metrics[idx].Timeframe {
		case shared.FourHour:
			fourHour = metrics[idx].FinalDecision
		case shared.OneDay:
			oneDay = metrics[idx].FinalDecision
		}
	}

	if fourHour != nil && oneDay != nil &&
		fourHour.Bias == oneDay.Bias && fourHour.Bias != shared.Wait &&
		fourHour.Confidence >= cfg.Thresholds.MacroAgreeConfidence &&
		oneDay.Confidence >= cfg.Thresholds.MacroAgreeConfidence {
		return fourHour.Bias
	}

	if oneDay != nil && oneDay.Bias != shared.Wait &&
		oneDay.Confidence >= cfg.Thresholds.MacroSoloConfidence {
		return oneDay.Bias
	}

	oneDayNeutral := oneDay == nil || oneDay.Bias == shared.Wait
	if fourHour != nil && fourHour.Bias != shared.Wait && oneDayNeutral &&
		fourHour.Confidence >= cfg.Thresholds.MacroSoloConfidence {
		return fourHour.Bias
	}

	return shared.Wait
}

// buildBuckets aggregates the per-timeframe scores into the macro, micro and
// scalping buckets.
func buildBuckets(metrics []shared.TimeframeMetrics, cfg *params.Config) *shared.TimeframeBuckets {
	byTimeframe := map[shared.Timeframe]*shared.TimeframeMetrics{}
	for idx := range metrics {
		byTimeframe[metrics[idx].Timeframe] = &metrics[idx]
	}

	build := func(name shared.BucketName) *shared.TimeframeBucket {
		members := bucketMembers[name]
		bucket := &shared.TimeframeBucket{Name: name}

		var count int
		for _, tf := range members {
			member := byTimeframe[tf]
			if member == nil || member.FinalDecision == nil {
				continue
			}

			bucket.Members = append(bucket.Members, tf)
			bucket.AvgScores.Long += member.FinalDecision.Scores.Long
			bucket.AvgScores.Short += member.FinalDecision.Scores.Short
			bucket.AvgScores.Wait += member.FinalDecision.Scores.Wait
			bucket.Confidence += member.FinalDecision.Confidence
			count++
		}

		if count == 0 {
			bucket.Summary = "no data"
			return bucket
		}

		bucket.AvgScores.Long /= float64(count)
		bucket.AvgScores.Short /= float64(count)
		bucket.AvgScores.Wait /= float64(count)
		bucket.Confidence /= float64(count)

		switch {
		case bucket.AvgScores.Long > cfg.Thresholds.BucketBuffer*bucket.AvgScores.Short:
			bucket.Bias = shared.BullishBucket
		case bucket.AvgScores.Short > cfg.Thresholds.BucketBuffer*bucket.AvgScores.Long:
			bucket.Bias = shared.BearishBucket
		default:
			bucket.Bias = shared.NeutralBucket
		}

		switch {
		case bucket.Bias == shared.BullishBucket && bucket.Confidence >= cfg.Thresholds.BucketStanceMin:
			bucket.TradeStance = shared.LookForLongs
		case bucket.Bias == shared.BearishBucket && bucket.Confidence >= cfg.Thresholds.BucketStanceMin:
			bucket.TradeStance = shared.LookForShorts
		default:
			bucket.TradeStance = shared.AvoidTrading
		}

		bucket.Summary = fmt.Sprintf("%s %s (%.1f) across %d timeframes",
			name.String(), bucket.Bias.String(), bucket.Confidence, count)
		bucket.Bullets = bucketBullets(members, byTimeframe)

		return bucket
	}

	return &shared.TimeframeBuckets{
		Macro:    build(shared.MacroBucket),
		Micro:    build(shared.MicroBucket),
		Scalping: build(shared.ScalpingBucket),
	}
}

// bucketBullets templates up to three member highlights from the oi, cvd,
// funding and regime features.
func bucketBullets(members []shared.Timeframe, byTimeframe map[shared.Timeframe]*shared.TimeframeMetrics) []string {
	bullets := []string{}

	for _, tf := range members {
		member := byTimeframe[tf]
		if member == nil {
			continue
		}

		if member.MarketRegime != nil && member.MarketRegime.Regime != shared.UnclearRegime &&
			len(bullets) < maxBucketBullets {
			bullets = append(bullets, fmt.Sprintf("%s regime %s.%s", tf.String(),
				member.MarketRegime.Regime.String(), member.MarketRegime.Subtype.String()))
		}

		if member.OIAdvanced != nil && member.OIAdvanced.Bybit.Direction != shared.Flat &&
			len(bullets) < maxBucketBullets {
			bullets = append(bullets, fmt.Sprintf("%s bybit oi %s %.2f%%", tf.String(),
				member.OIAdvanced.Bybit.Direction.String(), member.OIAdvanced.Bybit.ChangePct))
		}

		if member.FundingAdvanced != nil && member.FundingAdvanced.State.Level != shared.NormalFunding &&
			len(bullets) < maxBucketBullets {
			bullets = append(bullets, fmt.Sprintf("%s funding %s (z %.1f)", tf.String(),
				member.FundingAdvanced.State.Level.String(), member.FundingAdvanced.State.ZScore))
		}
	}

	return bullets
}
