package engine

import (
	"math"

	"github.com/dnldd/vigil/shared"
)

const (
	// Per-regime base confidence bonuses, each below the configured cap.
	distributionBonus = 2
	accumulationBonus = 2
	trapBonus         = 3
	trendingBonus     = 1
	coveringBonus     = 2
	// chopConfidence is the fixed confidence of a detected range.
	chopConfidence = 3
	// unclearConfidence is the fixed confidence of mixed signals.
	unclearConfidence = 4
	// maxConfidence is the confidence scale ceiling.
	maxConfidence = 10
)

// regimeInput groups the combined classified reads regime detection works on.
type regimeInput struct {
	price     shared.PriceMove
	oi        shared.OiMove
	funding   shared.FundingState
	cvd       float64
	cvdUsable bool
	scenario  shared.Scenario
}

// conditionSet counts how many of a regime's conditions hold.
type conditionSet struct {
	met   int
	total int
}

// add records one condition.
func (c *conditionSet) add(holds bool) {
	c.total++
	if holds {
		c.met++
	}
}

// allMet reports whether every condition holds.
func (c *conditionSet) allMet() bool {
	return c.total > 0 && c.met == c.total
}

// confidence derives the condition-driven confidence with the provided base
// bonus, capped at the scale ceiling and the configured bonus cap.
func (c *conditionSet) confidence(bonus float64, bonusCap float64) float64 {
	if bonus > bonusCap {
		bonus = bonusCap
	}

	raw := math.Round(float64(c.met)/float64(c.total)*10) + bonus
	return math.Min(raw, maxConfidence)
}

// DetectRegime classifies the market regime for one timeframe. States are
// evaluated in priority order, then the covering and range overrides get the
// last word.
func DetectRegime(input *regimeInput, bonusCap float64) *shared.RegimeResult {
	priceUp := input.price.Direction == shared.Up
	priceDown := input.price.Direction == shared.Down
	priceFlat := input.price.Direction == shared.Flat
	oiRising := input.oi.Direction == shared.Up
	oiFalling := input.oi.Direction == shared.Down
	oiFlat := input.oi.Direction == shared.Flat
	cvdPositive := input.cvdUsable && input.cvd > 0
	cvdNegative := input.cvdUsable && input.cvd < 0

	var result *shared.RegimeResult

	// distribution.whale_exit.
	{
		set := conditionSet{}
		set.add(priceFlat || priceUp)
		set.add(oiRising)
		set.add(fundingElevated(input.funding))
		set.add(cvdNegative)
		if set.allMet() || input.scenario == shared.WhaleDistribution {
			if input.scenario == shared.WhaleDistribution {
				set.add(true)
			}
			result = &shared.RegimeResult{
				Regime:     shared.Distribution,
				Subtype:    shared.WhaleExit,
				Bias:       shared.Short,
				Confidence: set.confidence(distributionBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"supply distributed into strength"},
			}
		}
	}

	// accumulation.whale_entry.
	if result == nil {
		set := conditionSet{}
		set.add(priceFlat)
		set.add(oiRising)
		set.add(fundingNegative(input.funding))
		set.add(cvdPositive)
		if set.allMet() || input.scenario == shared.WhaleAccumulation {
			if input.scenario == shared.WhaleAccumulation {
				set.add(true)
			}
			result = &shared.RegimeResult{
				Regime:     shared.Accumulation,
				Subtype:    shared.WhaleEntry,
				Bias:       shared.Long,
				Confidence: set.confidence(accumulationBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"quiet absorption against crowded shorts"},
			}
		}
	}

	// trap.long_trap.
	if result == nil {
		set := conditionSet{}
		set.add(priceUp)
		set.add(oiRising)
		set.add(fundingElevated(input.funding))
		set.add(cvdNegative)
		if set.allMet() {
			result = &shared.RegimeResult{
				Regime:     shared.Trap,
				Subtype:    shared.LongTrap,
				Bias:       shared.Short,
				Confidence: set.confidence(trapBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"longs crowd a rally real flow is selling"},
			}
		}
	}

	// trap.short_trap.
	if result == nil {
		set := conditionSet{}
		set.add(priceDown)
		set.add(oiRising)
		set.add(fundingNegative(input.funding))
		set.add(cvdPositive)
		if set.allMet() {
			result = &shared.RegimeResult{
				Regime:     shared.Trap,
				Subtype:    shared.ShortTrap,
				Bias:       shared.Long,
				Confidence: set.confidence(trapBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"shorts crowd a dip real flow is buying"},
			}
		}
	}

	// trending.healthy_bull / healthy_bear.
	if result == nil {
		set := conditionSet{}
		set.add(priceUp)
		set.add(oiRising)
		set.add(cvdPositive)
		set.add(!input.funding.Level.Extreme())
		set.add(input.scenario == shared.SynchronizedBullish)
		if set.allMet() {
			result = &shared.RegimeResult{
				Regime:     shared.Trending,
				Subtype:    shared.HealthyBull,
				Bias:       shared.Long,
				Confidence: set.confidence(trendingBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"price and oi rising together with buy flow"},
			}
		}
	}
	if result == nil {
		set := conditionSet{}
		set.add(priceDown)
		set.add(oiRising)
		set.add(cvdNegative)
		set.add(!input.funding.Level.Extreme())
		set.add(input.scenario == shared.SynchronizedBearish)
		if set.allMet() {
			result = &shared.RegimeResult{
				Regime:     shared.Trending,
				Subtype:    shared.HealthyBear,
				Bias:       shared.Short,
				Confidence: set.confidence(trendingBonus, bonusCap),
				MetCount:   set.met,
				Conditions: set.total,
				Reasons:    []string{"price and oi falling together with sell flow"},
			}
		}
	}

	// High-priority overrides, checked last and winning when they hold.
	switch {
	case priceDown && oiFalling:
		// Soft conditions shade the confidence, the hard pair decides.
		set := conditionSet{}
		set.add(priceDown)
		set.add(oiFalling)
		set.add(cvdNegative)
		set.add(fundingNegative(input.funding))
		result = &shared.RegimeResult{
			Regime:     shared.Covering,
			Subtype:    shared.LongSqueeze,
			Bias:       shared.Wait,
			Confidence: set.confidence(coveringBonus, bonusCap),
			MetCount:   set.met,
			Conditions: set.total,
			Reasons:    []string{"longs forced out, positions closing"},
		}
	case priceUp && oiFalling:
		set := conditionSet{}
		set.add(priceUp)
		set.add(oiFalling)
		set.add(cvdPositive)
		set.add(fundingElevated(input.funding))
		result = &shared.RegimeResult{
			Regime:     shared.Covering,
			Subtype:    shared.ShortSqueeze,
			Bias:       shared.Wait,
			Confidence: set.confidence(coveringBonus, bonusCap),
			MetCount:   set.met,
			Conditions: set.total,
			Reasons:    []string{"shorts forced out, positions closing"},
		}
	case priceFlat && oiFlat:
		result = &shared.RegimeResult{
			Regime:     shared.Range,
			Subtype:    shared.Chop,
			Bias:       shared.Wait,
			Confidence: chopConfidence,
			MetCount:   2,
			Conditions: 2,
			Reasons:    []string{"no directional participation"},
		}
	}

	if result == nil {
		result = &shared.RegimeResult{
			Regime:     shared.UnclearRegime,
			Subtype:    shared.MixedSignals,
			Bias:       shared.Wait,
			Confidence: unclearConfidence,
			Reasons:    []string{"no regime conditions met"},
		}
	}

	return result
}
