package engine

import (
	"testing"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

// tfMetric builds one timeframe's metrics with a final decision.
func tfMetric(tf shared.Timeframe, bias shared.Bias, confidence float64, scores shared.Scores) shared.TimeframeMetrics {
	return shared.TimeframeMetrics{
		Timeframe: tf,
		FinalDecision: &shared.Decision{
			Bias:       bias,
			Confidence: confidence,
			Scores:     scores,
		},
	}
}

func TestAggregateConsensusLong(t *testing.T) {
	cfg := params.Default()
	scores := shared.Scores{Long: 7, Short: 1, Wait: 1}

	metrics := []shared.TimeframeMetrics{
		tfMetric(shared.ThirtyMinute, shared.Long, 7, scores),
		tfMetric(shared.OneHour, shared.Long, 7, scores),
		tfMetric(shared.FourHour, shared.Long, 7, scores),
		tfMetric(shared.OneDay, shared.Long, 7, scores),
	}

	decision, buckets := Aggregate(metrics, cfg)

	assert.Equal(t, shared.Long, decision.Bias)
	assert.Equal(t, shared.DirectionConfidence, decision.ConfidenceType)
	assert.Equal(t, 7.0, decision.Confidence)
	assert.True(t, decision.MacroAnchored)
	assert.Equal(t, shared.LookForLongs, decision.TradeStance)
	assert.Nil(t, decision.MacroOverride)

	assert.Equal(t, shared.BullishBucket, buckets.Macro.Bias)
	assert.Equal(t, shared.BullishBucket, buckets.Micro.Bias)
	assert.Equal(t, shared.BullishBucket, buckets.Scalping.Bias)
	assert.Equal(t, shared.LookForLongs, buckets.Macro.TradeStance)
}

func TestAggregateMacroOverride(t *testing.T) {
	cfg := params.Default()

	// The lower timeframes push long while both macro timeframes are
	// confidently short. The macro read wins and forces a stand-down.
	metrics := []shared.TimeframeMetrics{
		tfMetric(shared.ThirtyMinute, shared.Long, 9, shared.Scores{Long: 9, Short: 0.5, Wait: 0.5}),
		tfMetric(shared.OneHour, shared.Long, 9, shared.Scores{Long: 9, Short: 0.5, Wait: 0.5}),
		tfMetric(shared.FourHour, shared.Short, 7, shared.Scores{Long: 0.5, Short: 7, Wait: 1}),
		tfMetric(shared.OneDay, shared.Short, 7, shared.Scores{Long: 0.5, Short: 7, Wait: 1}),
	}

	decision, _ := Aggregate(metrics, cfg)

	assert.Equal(t, shared.Wait, decision.Bias)
	assert.Equal(t, shared.NoTradeConfidence, decision.ConfidenceType)
	assert.True(t, decision.Confidence <= cfg.Penalties.MacroOverrideConfidenceCap)
	assert.NotNil(t, decision.MacroOverride)
	assert.True(t, decision.MacroOverride.Triggered)
	assert.Equal(t, shared.AvoidTrading, decision.TradeStance)
	assert.Equal(t, shared.DefensiveRisk, decision.RiskMode)
	assert.Equal(t, macroAnchorReason, decision.Reasoning[0])
}

func TestAggregateMacroAnchorConsolidation(t *testing.T) {
	cfg := params.Default()

	// A confident macro bucket anchors the bias while the scalping bucket is
	// still neutral, which reads as consolidation.
	metrics := []shared.TimeframeMetrics{
		tfMetric(shared.ThirtyMinute, shared.Wait, 6, shared.Scores{Long: 2, Short: 2, Wait: 4}),
		tfMetric(shared.OneHour, shared.Wait, 6, shared.Scores{Long: 2, Short: 2, Wait: 4}),
		tfMetric(shared.FourHour, shared.Long, 7, shared.Scores{Long: 7, Short: 1, Wait: 1}),
		tfMetric(shared.OneDay, shared.Long, 7, shared.Scores{Long: 7, Short: 1, Wait: 1}),
	}

	decision, buckets := Aggregate(metrics, cfg)

	assert.Equal(t, shared.Long, decision.Bias)
	assert.True(t, decision.MacroAnchored)
	assert.Equal(t, consolidationWarning, decision.Warning)
	assert.Equal(t, shared.NeutralBucket, buckets.Scalping.Bias)
}

func TestMacroBias(t *testing.T) {
	cfg := params.Default()

	tests := []struct {
		name    string
		metrics []shared.TimeframeMetrics
		want    shared.Bias
	}{
		{
			name: "agreement above the floor",
			metrics: []shared.TimeframeMetrics{
				tfMetric(shared.FourHour, shared.Short, 6, shared.Scores{}),
				tfMetric(shared.OneDay, shared.Short, 6.5, shared.Scores{}),
			},
			want: shared.Short,
		},
		{
			name: "daily alone above the solo floor",
			metrics: []shared.TimeframeMetrics{
				tfMetric(shared.FourHour, shared.Wait, 8, shared.Scores{}),
				tfMetric(shared.OneDay, shared.Long, 7.5, shared.Scores{}),
			},
			want: shared.Long,
		},
		{
			name: "four hour alone with a neutral daily",
			metrics: []shared.TimeframeMetrics{
				tfMetric(shared.FourHour, shared.Short, 7.5, shared.Scores{}),
				tfMetric(shared.OneDay, shared.Wait, 5, shared.Scores{}),
			},
			want: shared.Short,
		},
		{
			name: "disagreement below solo floors is neutral",
			metrics: []shared.TimeframeMetrics{
				tfMetric(shared.FourHour, shared.Long, 6.5, shared.Scores{}),
				tfMetric(shared.OneDay, shared.Short, 6.5, shared.Scores{}),
			},
			want: shared.Wait,
		},
		{
			name: "agreement below the floor is neutral",
			metrics: []shared.TimeframeMetrics{
				tfMetric(shared.FourHour, shared.Long, 5, shared.Scores{}),
				tfMetric(shared.OneDay, shared.Long, 5, shared.Scores{}),
			},
			want: shared.Wait,
		},
		{
			name:    "no macro data is neutral",
			metrics: []shared.TimeframeMetrics{},
			want:    shared.Wait,
		},
	}

	for _, test := range tests {
		bias := macroBias(test.metrics, cfg)
		if bias != test.want {
			t.Errorf("%s: expected %s, got %s", test.name, test.want.String(), bias.String())
		}
	}
}

func TestBuildBuckets(t *testing.T) {
	cfg := params.Default()

	metrics := []shared.TimeframeMetrics{
		tfMetric(shared.OneHour, shared.Long, 7, shared.Scores{Long: 6, Short: 2, Wait: 2}),
		tfMetric(shared.FourHour, shared.Short, 5, shared.Scores{Long: 1, Short: 5, Wait: 2}),
		tfMetric(shared.OneDay, shared.Short, 5, shared.Scores{Long: 1, Short: 5, Wait: 2}),
	}

	buckets := buildBuckets(metrics, cfg)

	// Macro averages the daily and four hour members.
	assert.Equal(t, 2, len(buckets.Macro.Members))
	assert.Equal(t, shared.BearishBucket, buckets.Macro.Bias)
	assert.Equal(t, 5.0, buckets.Macro.Confidence)
	// Bearish but below the stance confidence floor.
	assert.Equal(t, shared.AvoidTrading, buckets.Macro.TradeStance)

	// Micro blends an opposing pair into a neutral read.
	// Averages are long 3.5 short 3.5, neither clears the bucket buffer.
	assert.Equal(t, shared.NeutralBucket, buckets.Micro.Bias)

	// Scalping has a single surviving member.
	assert.Equal(t, 1, len(buckets.Scalping.Members))
	assert.Equal(t, shared.BullishBucket, buckets.Scalping.Bias)
	assert.Equal(t, shared.LookForLongs, buckets.Scalping.TradeStance)
}

func TestBuildBucketsNoData(t *testing.T) {
	cfg := params.Default()
	buckets := buildBuckets(nil, cfg)

	assert.Equal(t, "no data", buckets.Macro.Summary)
	assert.Equal(t, "no data", buckets.Micro.Summary)
	assert.Equal(t, "no data", buckets.Scalping.Summary)
}

func TestBucketBullets(t *testing.T) {
	metrics := []shared.TimeframeMetrics{
		{
			Timeframe: shared.OneDay,
			MarketRegime: &shared.RegimeResult{
				Regime:  shared.Distribution,
				Subtype: shared.WhaleExit,
			},
			OIAdvanced: &shared.OIFeatures{
				Bybit: shared.OiMove{Direction: shared.Down, ChangePct: -1.2},
			},
			FundingAdvanced: &shared.FundingFeatures{
				State: shared.FundingState{Level: shared.HighFunding, ZScore: 1.6},
			},
		},
		{
			Timeframe: shared.FourHour,
			MarketRegime: &shared.RegimeResult{
				Regime:  shared.Trending,
				Subtype: shared.HealthyBear,
			},
		},
	}

	byTimeframe := map[shared.Timeframe]*shared.TimeframeMetrics{}
	for idx := range metrics {
		byTimeframe[metrics[idx].Timeframe] = &metrics[idx]
	}

	bullets := bucketBullets(bucketMembers[shared.MacroBucket], byTimeframe)
	assert.Equal(t, maxBucketBullets, len(bullets))
}

func TestAggregateDeterministic(t *testing.T) {
	cfg := params.Default()

	metrics := []shared.TimeframeMetrics{
		tfMetric(shared.ThirtyMinute, shared.Long, 7, shared.Scores{Long: 6, Short: 2, Wait: 2}),
		tfMetric(shared.OneHour, shared.Wait, 6, shared.Scores{Long: 3, Short: 3, Wait: 4}),
		tfMetric(shared.FourHour, shared.Long, 7, shared.Scores{Long: 7, Short: 1, Wait: 1}),
		tfMetric(shared.OneDay, shared.Long, 6, shared.Scores{Long: 6, Short: 1, Wait: 2}),
	}

	first, firstBuckets := Aggregate(metrics, cfg)
	second, secondBuckets := Aggregate(metrics, cfg)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("decision mismatch (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstBuckets, secondBuckets); diff != "" {
		t.Fatalf("buckets mismatch (-first +second):\n%s", diff)
	}
}
