package params

import (
	"fmt"
	"math"

	"github.com/dnldd/vigil/shared"
)

const (
	// weightSumTolerance is the allowed deviation of the signal weight sum
	// from one.
	weightSumTolerance = 0.001
)

// Meta describes a config version.
type Meta struct {
	Version    string `json:"version"`
	ModifiedAt int64  `json:"modifiedAt"`
	ModifiedBy string `json:"modifiedBy"`
	Notes      string `json:"notes"`
}

// TimeframeThresholds holds the move classification thresholds of one
// timeframe. Price and oi thresholds are percentages, funding is an absolute
// rate.
type TimeframeThresholds struct {
	PriceNoise   float64 `json:"priceNoise"`
	PriceStrong  float64 `json:"priceStrong"`
	OiQuiet      float64 `json:"oiQuiet"`
	OiAggressive float64 `json:"oiAggressive"`
	Funding      float64 `json:"funding"`
}

// Thresholds groups classification and decision thresholds.
type Thresholds struct {
	ThirtyMinute TimeframeThresholds `json:"thirtyMinute"`
	OneHour      TimeframeThresholds `json:"oneHour"`
	FourHour     TimeframeThresholds `json:"fourHour"`
	OneDay       TimeframeThresholds `json:"oneDay"`

	// LongShortBuffer is the multiple a side must exceed the opposing side
	// by to win the bias. WaitBuffer is the multiple of the wait score the
	// winning side must clear.
	LongShortBuffer float64 `json:"longShortBuffer"`
	WaitBuffer      float64 `json:"waitBuffer"`
	// BucketBuffer is the multiple used when classifying bucket consensus.
	BucketBuffer float64 `json:"bucketBuffer"`
	// BucketStanceMin is the minimum bucket confidence for a directional
	// bucket stance.
	BucketStanceMin float64 `json:"bucketStanceMin"`
	// AvoidConfidence is the confidence floor below which the trade stance
	// is avoid.
	AvoidConfidence float64 `json:"avoidConfidence"`
	// DefensiveConfidence is the confidence floor below which the risk mode
	// turns defensive.
	DefensiveConfidence float64 `json:"defensiveConfidence"`
	// AggressiveConfidence is the confidence needed for aggressive risk.
	AggressiveConfidence float64 `json:"aggressiveConfidence"`
	// MacroAgreeConfidence is the confidence both macro timeframes need to
	// anchor when they agree.
	MacroAgreeConfidence float64 `json:"macroAgreeConfidence"`
	// MacroSoloConfidence is the confidence a single macro timeframe needs
	// to anchor alone.
	MacroSoloConfidence float64 `json:"macroSoloConfidence"`
}

// For returns the thresholds of the provided timeframe.
func (t *Thresholds) For(timeframe shared.Timeframe) TimeframeThresholds {
	switch timeframe {
	case shared.ThirtyMinute:
		return t.ThirtyMinute
	case shared.OneHour:
		return t.OneHour
	case shared.FourHour:
		return t.FourHour
	case shared.OneDay:
		return t.OneDay
	default:
		return t.OneHour
	}
}

// Weights holds the decision signal weights. They must sum to one.
type Weights struct {
	ExchangeDivergence float64 `json:"exchangeDivergence"`
	MarketRegime       float64 `json:"marketRegime"`
	Structure          float64 `json:"structure"`
	VolumeProfile      float64 `json:"volumeProfile"`
	Technical          float64 `json:"technical"`
	Funding            float64 `json:"funding"`
	CVD                float64 `json:"cvd"`

	// Timeframe aggregation weights.
	ThirtyMinute float64 `json:"thirtyMinute"`
	OneHour      float64 `json:"oneHour"`
	FourHour     float64 `json:"fourHour"`
	OneDay       float64 `json:"oneDay"`
}

// SignalSum returns the sum of the signal weights.
func (w *Weights) SignalSum() float64 {
	return w.ExchangeDivergence + w.MarketRegime + w.Structure + w.VolumeProfile +
		w.Technical + w.Funding + w.CVD
}

// TimeframeWeight returns the aggregation weight of the provided timeframe.
func (w *Weights) TimeframeWeight(timeframe shared.Timeframe) float64 {
	switch timeframe {
	case shared.ThirtyMinute:
		return w.ThirtyMinute
	case shared.OneHour:
		return w.OneHour
	case shared.FourHour:
		return w.FourHour
	case shared.OneDay:
		return w.OneDay
	default:
		return 0
	}
}

// Gates holds the reliability gates applied before signals may contribute.
type Gates struct {
	// Minimum average taker volume per candle (usd) for cvd market impact,
	// per timeframe.
	CVDMinVolumeThirtyMinute float64 `json:"cvdMinVolumeThirtyMinute"`
	CVDMinVolumeOneHour      float64 `json:"cvdMinVolumeOneHour"`
	CVDMinVolumeFourHour     float64 `json:"cvdMinVolumeFourHour"`
	CVDMinVolumeOneDay       float64 `json:"cvdMinVolumeOneDay"`
	// MaxZeroVolumeRun is the longest tolerated run of zero-volume candles
	// in a cvd window.
	MaxZeroVolumeRun int `json:"maxZeroVolumeRun"`

	// Whale/retail ratio qualification floors.
	WhaleRatioScalpingMinPct float64 `json:"whaleRatioScalpingMinPct"`
	WhaleRatioScalpingMinUSD float64 `json:"whaleRatioScalpingMinUsd"`
	WhaleRatioMacroMinPct    float64 `json:"whaleRatioMacroMinPct"`
	WhaleRatioMacroMinUSD    float64 `json:"whaleRatioMacroMinUsd"`

	// MaxLagMultiplier is the staleness gate: a timeframe whose latest
	// candle is older than the multiplier times the interval is stale.
	MaxLagMultiplier float64 `json:"maxLagMultiplier"`
}

// CVDMinVolume returns the minimum average candle volume gate of the
// provided timeframe.
func (g *Gates) CVDMinVolume(timeframe shared.Timeframe) float64 {
	switch timeframe {
	case shared.ThirtyMinute:
		return g.CVDMinVolumeThirtyMinute
	case shared.OneHour:
		return g.CVDMinVolumeOneHour
	case shared.FourHour:
		return g.CVDMinVolumeFourHour
	case shared.OneDay:
		return g.CVDMinVolumeOneDay
	default:
		return g.CVDMinVolumeOneHour
	}
}

// Penalties holds confidence caps and penalty terms.
type Penalties struct {
	// ConflictBonusCap caps the bonus added to the no-trade confidence when
	// the directional sides conflict.
	ConflictBonusCap float64 `json:"conflictBonusCap"`
	// MacroOverrideConfidenceCap caps the final confidence after a macro
	// override forces a wait.
	MacroOverrideConfidenceCap float64 `json:"macroOverrideConfidenceCap"`
	// RegimeBonusCap caps the per-regime base bonus.
	RegimeBonusCap float64 `json:"regimeBonusCap"`
}

// Bound declares the legal range and the maximum per-save relative step of a
// parameter group.
type Bound struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	MaxStepPct float64 `json:"maxStepPct"`
}

// Bounds groups the declared bounds of each parameter family.
type Bounds struct {
	Thresholds Bound `json:"thresholds"`
	Weights    Bound `json:"weights"`
	Gates      Bound `json:"gates"`
	Penalties  Bound `json:"penalties"`
}

// Config is one versioned analyzer parameter bundle.
type Config struct {
	Meta       Meta       `json:"meta"`
	Thresholds Thresholds `json:"thresholds"`
	Weights    Weights    `json:"weights"`
	Gates      Gates      `json:"gates"`
	Penalties  Penalties  `json:"penalties"`
	Bounds     Bounds     `json:"bounds"`
}

// Default returns the default analyzer configuration.
func Default() *Config {
	return &Config{
		Meta: Meta{
			Version:    "1.0.0",
			ModifiedBy: "system",
			Notes:      "defaults",
		},
		Thresholds: Thresholds{
			ThirtyMinute: TimeframeThresholds{
				PriceNoise: 0.25, PriceStrong: 0.50, OiQuiet: 0.15, OiAggressive: 0.30, Funding: 0.03,
			},
			OneHour: TimeframeThresholds{
				PriceNoise: 0.40, PriceStrong: 0.80, OiQuiet: 0.25, OiAggressive: 0.50, Funding: 0.04,
			},
			FourHour: TimeframeThresholds{
				PriceNoise: 0.65, PriceStrong: 1.30, OiQuiet: 0.50, OiAggressive: 1.00, Funding: 0.05,
			},
			OneDay: TimeframeThresholds{
				PriceNoise: 1.15, PriceStrong: 2.30, OiQuiet: 1.00, OiAggressive: 2.00, Funding: 0.06,
			},
			LongShortBuffer:      1.3,
			WaitBuffer:           0.8,
			BucketBuffer:         1.2,
			BucketStanceMin:      6.0,
			AvoidConfidence:      5.0,
			DefensiveConfidence:  6.0,
			AggressiveConfidence: 8.0,
			MacroAgreeConfidence: 6.0,
			MacroSoloConfidence:  7.0,
		},
		Weights: Weights{
			ExchangeDivergence: 0.35,
			MarketRegime:       0.20,
			Structure:          0.15,
			VolumeProfile:      0.10,
			Technical:          0.10,
			Funding:            0.05,
			CVD:                0.05,

			ThirtyMinute: 0.25,
			OneHour:      0.25,
			FourHour:     0.30,
			OneDay:       0.20,
		},
		Gates: Gates{
			CVDMinVolumeThirtyMinute: 500_000,
			CVDMinVolumeOneHour:      1_000_000,
			CVDMinVolumeFourHour:     5_000_000,
			CVDMinVolumeOneDay:       50_000_000,
			MaxZeroVolumeRun:         3,

			WhaleRatioScalpingMinPct: 0.2,
			WhaleRatioScalpingMinUSD: 2_000_000,
			WhaleRatioMacroMinPct:    0.5,
			WhaleRatioMacroMinUSD:    10_000_000,

			MaxLagMultiplier: 2.0,
		},
		Penalties: Penalties{
			ConflictBonusCap:           3.0,
			MacroOverrideConfidenceCap: 4.0,
			RegimeBonusCap:             5.0,
		},
		Bounds: Bounds{
			Thresholds: Bound{Min: 0.01, Max: 10, MaxStepPct: 0.5},
			Weights:    Bound{Min: 0, Max: 1, MaxStepPct: 0.5},
			Gates:      Bound{Min: 0, Max: 1_000_000_000, MaxStepPct: 1.0},
			Penalties:  Bound{Min: 0, Max: 10, MaxStepPct: 0.5},
		},
	}
}

// Validate asserts the config has sane, in-bounds values.
func (c *Config) Validate() error {
	violations := []string{}

	sum := c.Weights.SignalSum()
	if math.Abs(sum-1.0) > weightSumTolerance {
		violations = append(violations, fmt.Sprintf("signal weights sum to %.4f, expected 1.0", sum))
	}

	for _, weight := range []struct {
		name  string
		value float64
	}{
		{"weights.exchangeDivergence", c.Weights.ExchangeDivergence},
		{"weights.marketRegime", c.Weights.MarketRegime},
		{"weights.structure", c.Weights.Structure},
		{"weights.volumeProfile", c.Weights.VolumeProfile},
		{"weights.technical", c.Weights.Technical},
		{"weights.funding", c.Weights.Funding},
		{"weights.cvd", c.Weights.CVD},
		{"weights.thirtyMinute", c.Weights.ThirtyMinute},
		{"weights.oneHour", c.Weights.OneHour},
		{"weights.fourHour", c.Weights.FourHour},
		{"weights.oneDay", c.Weights.OneDay},
	} {
		if weight.value < c.Bounds.Weights.Min || weight.value > c.Bounds.Weights.Max {
			violations = append(violations, fmt.Sprintf("%s (%.4f) outside bounds [%.2f, %.2f]",
				weight.name, weight.value, c.Bounds.Weights.Min, c.Bounds.Weights.Max))
		}
	}

	for _, tf := range shared.AllTimeframes {
		thresholds := c.Thresholds.For(tf)
		if thresholds.PriceNoise <= 0 || thresholds.PriceStrong <= thresholds.PriceNoise {
			violations = append(violations, fmt.Sprintf("thresholds.%s: strong price threshold must exceed noise", tf.String()))
		}
		if thresholds.OiQuiet <= 0 || thresholds.OiAggressive <= thresholds.OiQuiet {
			violations = append(violations, fmt.Sprintf("thresholds.%s: aggressive oi threshold must exceed quiet", tf.String()))
		}
		for _, value := range []float64{thresholds.PriceNoise, thresholds.PriceStrong,
			thresholds.OiQuiet, thresholds.OiAggressive, thresholds.Funding} {
			if value < c.Bounds.Thresholds.Min || value > c.Bounds.Thresholds.Max {
				violations = append(violations, fmt.Sprintf("thresholds.%s: value %.4f outside bounds [%.2f, %.2f]",
					tf.String(), value, c.Bounds.Thresholds.Min, c.Bounds.Thresholds.Max))
			}
		}
	}

	if c.Thresholds.LongShortBuffer <= 1 {
		violations = append(violations, "thresholds.longShortBuffer must exceed 1")
	}
	if c.Thresholds.WaitBuffer <= 0 || c.Thresholds.WaitBuffer > 1 {
		violations = append(violations, "thresholds.waitBuffer must be in (0, 1]")
	}
	if c.Thresholds.BucketBuffer <= 1 {
		violations = append(violations, "thresholds.bucketBuffer must exceed 1")
	}

	if c.Gates.MaxZeroVolumeRun < 0 {
		violations = append(violations, "gates.maxZeroVolumeRun cannot be negative")
	}
	if c.Gates.MaxLagMultiplier < 1 {
		violations = append(violations, "gates.maxLagMultiplier cannot be below 1")
	}
	for _, gate := range []struct {
		name  string
		value float64
	}{
		{"gates.cvdMinVolumeThirtyMinute", c.Gates.CVDMinVolumeThirtyMinute},
		{"gates.cvdMinVolumeOneHour", c.Gates.CVDMinVolumeOneHour},
		{"gates.cvdMinVolumeFourHour", c.Gates.CVDMinVolumeFourHour},
		{"gates.cvdMinVolumeOneDay", c.Gates.CVDMinVolumeOneDay},
		{"gates.whaleRatioScalpingMinUsd", c.Gates.WhaleRatioScalpingMinUSD},
		{"gates.whaleRatioMacroMinUsd", c.Gates.WhaleRatioMacroMinUSD},
	} {
		if gate.value < c.Bounds.Gates.Min || gate.value > c.Bounds.Gates.Max {
			violations = append(violations, fmt.Sprintf("%s (%.0f) outside bounds [%.0f, %.0f]",
				gate.name, gate.value, c.Bounds.Gates.Min, c.Bounds.Gates.Max))
		}
	}

	for _, penalty := range []struct {
		name  string
		value float64
	}{
		{"penalties.conflictBonusCap", c.Penalties.ConflictBonusCap},
		{"penalties.macroOverrideConfidenceCap", c.Penalties.MacroOverrideConfidenceCap},
		{"penalties.regimeBonusCap", c.Penalties.RegimeBonusCap},
	} {
		if penalty.value < c.Bounds.Penalties.Min || penalty.value > c.Bounds.Penalties.Max {
			violations = append(violations, fmt.Sprintf("%s (%.2f) outside bounds [%.2f, %.2f]",
				penalty.name, penalty.value, c.Bounds.Penalties.Min, c.Bounds.Penalties.Max))
		}
	}

	if len(violations) > 0 {
		return &shared.ValidationError{Violations: violations}
	}

	return nil
}

// ValidateDelta asserts every changed field moved by no more than the
// declared maximum step relative to the previous config.
func (c *Config) ValidateDelta(previous *Config) error {
	violations := []string{}

	check := func(name string, old, new, maxStepPct float64) {
		if old == 0 {
			// A field moving off zero has no relative step; bounds
			// validation covers it.
			return
		}
		step := math.Abs(new-old) / math.Abs(old)
		if step > maxStepPct {
			violations = append(violations, fmt.Sprintf("%s: step %.2f exceeds max %.2f", name, step, maxStepPct))
		}
	}

	check("weights.exchangeDivergence", previous.Weights.ExchangeDivergence, c.Weights.ExchangeDivergence, c.Bounds.Weights.MaxStepPct)
	check("weights.marketRegime", previous.Weights.MarketRegime, c.Weights.MarketRegime, c.Bounds.Weights.MaxStepPct)
	check("weights.structure", previous.Weights.Structure, c.Weights.Structure, c.Bounds.Weights.MaxStepPct)
	check("weights.volumeProfile", previous.Weights.VolumeProfile, c.Weights.VolumeProfile, c.Bounds.Weights.MaxStepPct)
	check("weights.technical", previous.Weights.Technical, c.Weights.Technical, c.Bounds.Weights.MaxStepPct)
	check("weights.funding", previous.Weights.Funding, c.Weights.Funding, c.Bounds.Weights.MaxStepPct)
	check("weights.cvd", previous.Weights.CVD, c.Weights.CVD, c.Bounds.Weights.MaxStepPct)
	check("weights.thirtyMinute", previous.Weights.ThirtyMinute, c.Weights.ThirtyMinute, c.Bounds.Weights.MaxStepPct)
	check("weights.oneHour", previous.Weights.OneHour, c.Weights.OneHour, c.Bounds.Weights.MaxStepPct)
	check("weights.fourHour", previous.Weights.FourHour, c.Weights.FourHour, c.Bounds.Weights.MaxStepPct)
	check("weights.oneDay", previous.Weights.OneDay, c.Weights.OneDay, c.Bounds.Weights.MaxStepPct)

	oldTfs := []TimeframeThresholds{previous.Thresholds.ThirtyMinute, previous.Thresholds.OneHour,
		previous.Thresholds.FourHour, previous.Thresholds.OneDay}
	newTfs := []TimeframeThresholds{c.Thresholds.ThirtyMinute, c.Thresholds.OneHour,
		c.Thresholds.FourHour, c.Thresholds.OneDay}
	for idx, tf := range shared.AllTimeframes {
		prefix := fmt.Sprintf("thresholds.%s", tf.String())
		check(prefix+".priceNoise", oldTfs[idx].PriceNoise, newTfs[idx].PriceNoise, c.Bounds.Thresholds.MaxStepPct)
		check(prefix+".priceStrong", oldTfs[idx].PriceStrong, newTfs[idx].PriceStrong, c.Bounds.Thresholds.MaxStepPct)
		check(prefix+".oiQuiet", oldTfs[idx].OiQuiet, newTfs[idx].OiQuiet, c.Bounds.Thresholds.MaxStepPct)
		check(prefix+".oiAggressive", oldTfs[idx].OiAggressive, newTfs[idx].OiAggressive, c.Bounds.Thresholds.MaxStepPct)
		check(prefix+".funding", oldTfs[idx].Funding, newTfs[idx].Funding, c.Bounds.Thresholds.MaxStepPct)
	}

	check("gates.cvdMinVolumeThirtyMinute", previous.Gates.CVDMinVolumeThirtyMinute, c.Gates.CVDMinVolumeThirtyMinute, c.Bounds.Gates.MaxStepPct)
	check("gates.cvdMinVolumeOneHour", previous.Gates.CVDMinVolumeOneHour, c.Gates.CVDMinVolumeOneHour, c.Bounds.Gates.MaxStepPct)
	check("gates.cvdMinVolumeFourHour", previous.Gates.CVDMinVolumeFourHour, c.Gates.CVDMinVolumeFourHour, c.Bounds.Gates.MaxStepPct)
	check("gates.cvdMinVolumeOneDay", previous.Gates.CVDMinVolumeOneDay, c.Gates.CVDMinVolumeOneDay, c.Bounds.Gates.MaxStepPct)
	check("gates.whaleRatioScalpingMinPct", previous.Gates.WhaleRatioScalpingMinPct, c.Gates.WhaleRatioScalpingMinPct, c.Bounds.Gates.MaxStepPct)
	check("gates.whaleRatioScalpingMinUsd", previous.Gates.WhaleRatioScalpingMinUSD, c.Gates.WhaleRatioScalpingMinUSD, c.Bounds.Gates.MaxStepPct)
	check("gates.whaleRatioMacroMinPct", previous.Gates.WhaleRatioMacroMinPct, c.Gates.WhaleRatioMacroMinPct, c.Bounds.Gates.MaxStepPct)
	check("gates.whaleRatioMacroMinUsd", previous.Gates.WhaleRatioMacroMinUSD, c.Gates.WhaleRatioMacroMinUSD, c.Bounds.Gates.MaxStepPct)

	check("penalties.conflictBonusCap", previous.Penalties.ConflictBonusCap, c.Penalties.ConflictBonusCap, c.Bounds.Penalties.MaxStepPct)
	check("penalties.macroOverrideConfidenceCap", previous.Penalties.MacroOverrideConfidenceCap, c.Penalties.MacroOverrideConfidenceCap, c.Bounds.Penalties.MaxStepPct)
	check("penalties.regimeBonusCap", previous.Penalties.RegimeBonusCap, c.Penalties.RegimeBonusCap, c.Bounds.Penalties.MaxStepPct)

	if len(violations) > 0 {
		return &shared.ValidationError{Violations: violations}
	}

	return nil
}

// Clone returns a deep copy of the config. All fields are value types so a
// struct copy suffices.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// BumpPatch increments the patch component of the provided semantic version.
func BumpPatch(version string) string {
	var major, minor, patch int
	_, err := fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &patch)
	if err != nil {
		return "1.0.1"
	}

	return fmt.Sprintf("%d.%d.%d", major, minor, patch+1)
}
