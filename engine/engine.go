package engine

import (
	"fmt"
	"math"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
)

// PrimaryTimeframe is the timeframe mirrored at the top level of a market
// state.
const PrimaryTimeframe = shared.FourHour

// Evaluate derives a full market state from the provided snapshot, lookback
// history and analyzer parameters. It is a pure function: identical inputs
// produce identical states, and it performs no i/o.
func Evaluate(snapshot *shared.MarketSnapshot, history *shared.HistorySet, cfg *params.Config) (*shared.MarketState, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("evaluating market state: nil snapshot")
	}
	if cfg == nil {
		return nil, fmt.Errorf("evaluating market state: nil config")
	}

	state := &shared.MarketState{
		Timestamp: snapshot.Timestamp,
		Symbol:    snapshot.Symbol,
		Raw:       snapshot,
	}

	warnings := []string{}
	droppedTimeframe := false
	staleTimeframe := false

	for _, tf := range shared.AllTimeframes {
		binance := snapshot.TimeframeSnapshot(shared.Binance, tf)
		bybit := snapshot.TimeframeSnapshot(shared.Bybit, tf)
		if binance == nil && bybit == nil {
			// A timeframe missing both venues is dropped entirely, the
			// aggregation renormalizes over what remains.
			warnings = append(warnings, fmt.Sprintf("%s dropped: no venue data", tf.String()))
			droppedTimeframe = true
			continue
		}

		if (binance != nil && binance.Stale) || (bybit != nil && bybit.Stale) {
			staleTimeframe = true
		}

		metrics := evaluateTimeframe(tf, binance, bybit, history, cfg)
		state.Timeframes = append(state.Timeframes, *metrics)
	}

	if len(state.Timeframes) == 0 {
		return nil, &shared.InsufficientDataError{
			Timeframe: PrimaryTimeframe,
			Context:   "all timeframes dropped",
		}
	}

	finalDecision, buckets := Aggregate(state.Timeframes, cfg)
	state.FinalDecision = finalDecision
	state.TimeframeBuckets = buckets

	primary := state.Metrics(PrimaryTimeframe)
	if primary == nil {
		primary = &state.Timeframes[len(state.Timeframes)-1]
	}
	state.PrimaryTimeframe = primary.Timeframe
	state.ExchangeDivergence = primary.ExchangeDivergence
	state.MarketRegime = primary.MarketRegime
	state.Technical = primary.Technical
	state.FundingAdvanced = primary.FundingAdvanced
	state.OIAdvanced = primary.OIAdvanced
	state.VolumeProfile = primary.VolumeProfile
	state.Structure = primary.Structure

	switch {
	case droppedTimeframe:
		state.DataQuality = shared.DegradedQuality
	case snapshot.Meta.PartialData || staleTimeframe:
		state.DataQuality = shared.PartialQuality
	default:
		state.DataQuality = shared.FullQuality
	}
	state.Warnings = append(warnings, snapshot.Meta.Warnings...)
	if finalDecision.Warning != "" {
		state.Warnings = append(state.Warnings, finalDecision.Warning)
	}

	return state, nil
}

// evaluateTimeframe runs the full per-timeframe pipeline.
func evaluateTimeframe(tf shared.Timeframe, binance, bybit *shared.PerTimeframeSnapshot,
	history *shared.HistorySet, cfg *params.Config) *shared.TimeframeMetrics {
	thresholds := cfg.Thresholds.For(tf)

	reference := binance
	referenceVenue := shared.Binance
	if reference == nil {
		reference = bybit
		referenceVenue = shared.Bybit
	}

	var binancePrice, bybitPrice shared.PriceMove
	var binanceOi, bybitOi shared.OiMove
	if binance != nil {
		binancePrice = ClassifyPriceMove(binance.PriceChangePct, thresholds)
		binanceOi = ClassifyOiMove(binance.OIChangePct, thresholds)
	}
	if bybit != nil {
		bybitPrice = ClassifyPriceMove(bybit.PriceChangePct, thresholds)
		bybitOi = ClassifyOiMove(bybit.OIChangePct, thresholds)
	}

	referencePrice := binancePrice
	if binance == nil {
		referencePrice = bybitPrice
	}

	funding := buildFundingFeatures(tf, binance, bybit, history, referenceVenue, thresholds.Funding)

	oiFeatures := &shared.OIFeatures{
		Binance: binanceOi,
		Bybit:   bybitOi,
	}
	if bybit != nil {
		oiFeatures.BybitOiUSD = bybit.OI
	}
	if binance != nil && bybit != nil {
		oiFeatures.DeltaPct = binance.OIChangePct - bybit.OIChangePct
	}

	var technical *shared.TechnicalFeatures
	var profile *shared.VolumeProfile
	var structure *shared.Structure
	priceHistory := history.History(referenceVenue, tf)
	if priceHistory != nil && len(priceHistory.Price) > 0 {
		technical = BuildTechnicalFeatures(priceHistory.Price)
		profile = BuildVolumeProfile(priceHistory.Price)
		structure = BuildStructure(priceHistory.Price)
	} else {
		technical = &shared.TechnicalFeatures{}
		profile = &shared.VolumeProfile{}
		structure = &shared.Structure{}
		if reference != nil {
			technical.LastClose = reference.Price
		}
	}

	divergence := DetectDivergence(&divergenceInput{
		timeframe:    tf,
		binance:      binance,
		bybit:        bybit,
		binancePrice: binancePrice,
		bybitPrice:   bybitPrice,
		binanceOi:    binanceOi,
		bybitOi:      bybitOi,
		funding:      funding.State,
	}, &cfg.Gates)

	// Regime detection reads combined venue flow.
	combinedOiChange := combinedChange(binance, bybit)
	combinedOi := ClassifyOiMove(combinedOiChange, thresholds)
	cvd, cvdUsable := combinedCvd(binance, bybit)

	regime := DetectRegime(&regimeInput{
		price:     referencePrice,
		oi:        combinedOi,
		funding:   funding.State,
		cvd:       cvd,
		cvdUsable: cvdUsable,
		scenario:  divergence.Scenario,
	}, cfg.Penalties.RegimeBonusCap)

	decision := Decide(&decisionInput{
		timeframe:  tf,
		divergence: divergence,
		regime:     regime,
		technical:  technical,
		funding:    funding,
		profile:    profile,
		structure:  structure,
		cvd:        reference,
		priceMove:  referencePrice,
	}, cfg)

	return &shared.TimeframeMetrics{
		Timeframe:          tf,
		ExchangeDivergence: divergence,
		MarketRegime:       regime,
		Technical:          technical,
		FundingAdvanced:    funding,
		OIAdvanced:         oiFeatures,
		VolumeProfile:      profile,
		Structure:          structure,
		FinalDecision:      decision,
	}
}

// buildFundingFeatures classifies funding for the timeframe using the
// lookback z-score and derives the pain index.
func buildFundingFeatures(tf shared.Timeframe, binance, bybit *shared.PerTimeframeSnapshot,
	history *shared.HistorySet, referenceVenue shared.Venue, fundingThresholdPct float64) *shared.FundingFeatures {
	var rate float64
	var count int
	var totalOi float64
	for _, snapshot := range []*shared.PerTimeframeSnapshot{binance, bybit} {
		if snapshot == nil {
			continue
		}
		rate += snapshot.FundingAvgPct
		totalOi += snapshot.OI
		count++
	}
	if count > 0 {
		rate /= float64(count)
	}

	var zScore float64
	fundingHistory := history.History(referenceVenue, tf)
	if fundingHistory != nil && len(fundingHistory.Funding) > 1 {
		values := make([]float64, 0, len(fundingHistory.Funding)+1)
		for idx := range fundingHistory.Funding {
			values = append(values, fundingHistory.Funding[idx].Value)
		}
		values = append(values, rate)
		zScore = ZScore(values)
	}

	// The pain index proxies squeeze pressure: the usd paid per funding
	// interval at the current rate across outstanding contracts.
	painIndex := math.Abs(rate) / 100 * totalOi

	return &shared.FundingFeatures{
		State:        ClassifyFundingLevel(rate, zScore, fundingThresholdPct),
		AvgRatePct:   rate,
		PainIndexUSD: painIndex,
	}
}

// combinedChange averages the oi change of the present venues.
func combinedChange(binance, bybit *shared.PerTimeframeSnapshot) float64 {
	var total float64
	var count int
	if binance != nil {
		total += binance.OIChangePct
		count++
	}
	if bybit != nil {
		total += bybit.OIChangePct
		count++
	}
	if count == 0 {
		return 0
	}

	return total / float64(count)
}

// combinedCvd sums the cvd of venues whose window is reliable for the
// timeframe.
func combinedCvd(binance, bybit *shared.PerTimeframeSnapshot) (float64, bool) {
	var cvd float64
	var usable bool
	for _, snapshot := range []*shared.PerTimeframeSnapshot{binance, bybit} {
		if snapshot == nil || !snapshot.CVDReliableForTf {
			continue
		}
		cvd += snapshot.CVD
		usable = true
	}

	return cvd, usable
}
