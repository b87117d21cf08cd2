package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
	"github.com/rs/zerolog"
)

const (
	// lookbackCandles is the history depth fetched per venue and timeframe.
	lookbackCandles = 60
	// minLookbackCandles is the floor below which a replay widens its
	// fetch window.
	minLookbackCandles = 30
	// minSnapshotCandles is the minimum candles needed to compute changes.
	minSnapshotCandles = 2
	// fundingAvgWindow is how many recent funding readings the snapshot
	// average covers.
	fundingAvgWindow = 3
)

// ServiceConfig represents the configuration for the data service.
type ServiceConfig struct {
	// Fetcher is the vendor client. The data service is the only component
	// that talks to it.
	Fetcher shared.MarketFetcher
	// Candles is the local historical candle store, consulted before the
	// vendor. May be nil.
	Candles shared.CandleSource
	// Symbol is the tracked asset.
	Symbol string
	// LocalOnly disables vendor fetches; missing local data raises
	// insufficient data.
	LocalOnly bool
	// MinLocalCandles is the row count past which local data is preferred.
	MinLocalCandles int
	// Logger represents the service logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ServiceConfig) Validate() error {
	var errs error

	if cfg.Fetcher == nil && !cfg.LocalOnly {
		errs = errors.Join(errs, fmt.Errorf("market fetcher cannot be nil"))
	}
	if cfg.LocalOnly && cfg.Candles == nil {
		errs = errors.Join(errs, fmt.Errorf("local-only mode requires a candle source"))
	}
	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Service fetches coherent per-timeframe market snapshots and lookback
// history for each venue.
type Service struct {
	cfg *ServiceConfig
}

// NewService initializes the data service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating data service config: %w", err)
	}

	if cfg.MinLocalCandles <= 0 {
		cfg.MinLocalCandles = minLookbackCandles
	}

	return &Service{cfg: cfg}, nil
}

// LiveSnapshot fetches the current snapshot and lookback history across all
// venues and timeframes.
func (s *Service) LiveSnapshot(ctx context.Context, now time.Time, gates *params.Gates) (*shared.MarketSnapshot, *shared.HistorySet, error) {
	return s.snapshot(ctx, now, 0, gates)
}

// ReplaySnapshot fetches the snapshot and history as they stood at the
// provided time. Candles past the last fully closed boundary are never
// visible.
func (s *Service) ReplaySnapshot(ctx context.Context, asOf time.Time, gates *params.Gates) (*shared.MarketSnapshot, *shared.HistorySet, error) {
	return s.snapshot(ctx, asOf, asOf.UnixMilli(), gates)
}

// snapshot builds the full market snapshot. A non-zero asOfMs marks a replay.
func (s *Service) snapshot(ctx context.Context, now time.Time, asOfMs int64, gates *params.Gates) (*shared.MarketSnapshot, *shared.HistorySet, error) {
	snapshot := &shared.MarketSnapshot{
		Symbol:    s.cfg.Symbol,
		Timestamp: now.UnixMilli(),
		Venues:    make(map[shared.Venue]*shared.VenueSnapshot),
	}
	history := &shared.HistorySet{
		Venues: make(map[shared.Venue]map[shared.Timeframe]*shared.LookbackHistory),
	}
	if asOfMs > 0 {
		snapshot.Meta.AsOf = &asOfMs
	}

	for _, venue := range shared.AllVenues {
		venueSnapshot := &shared.VenueSnapshot{
			Venue:      venue,
			Timeframes: make(map[shared.Timeframe]*shared.PerTimeframeSnapshot),
		}
		venueHistory := make(map[shared.Timeframe]*shared.LookbackHistory)

		var venueFailures int
		for _, tf := range shared.AllTimeframes {
			tfSnapshot, tfHistory, err := s.buildTimeframe(ctx, venue, tf, now, asOfMs, gates)
			if err != nil {
				// Rate limits, cancellations and replay shortfalls abort
				// the snapshot; other failures degrade it.
				var rateLimited *shared.RateLimitError
				var insufficient *shared.InsufficientDataError
				if errors.As(err, &rateLimited) || ctx.Err() != nil ||
					(asOfMs > 0 && errors.As(err, &insufficient)) {
					return nil, nil, err
				}

				s.cfg.Logger.Warn().Msgf("fetching %s %s: %v", venue.String(), tf.String(), err)
				snapshot.Meta.Warnings = append(snapshot.Meta.Warnings,
					fmt.Sprintf("%s %s unavailable: %v", venue.String(), tf.String(), err))
				venueFailures++
				continue
			}

			venueSnapshot.Timeframes[tf] = tfSnapshot
			venueHistory[tf] = tfHistory
		}

		if venueFailures == len(shared.AllTimeframes) {
			// The venue failed entirely; its branch stays null and the
			// pipeline runs with whatever data is present.
			snapshot.Meta.PartialData = true
			continue
		}

		snapshot.Venues[venue] = venueSnapshot
		history.Venues[venue] = venueHistory
	}

	if len(snapshot.Venues) == 0 {
		return nil, nil, &shared.InsufficientDataError{
			Timeframe: shared.FourHour,
			Context:   "all venues failed",
		}
	}

	return snapshot, history, nil
}

// buildTimeframe fetches the four series of one venue and timeframe and
// derives its snapshot and lookback history.
func (s *Service) buildTimeframe(ctx context.Context, venue shared.Venue, tf shared.Timeframe,
	now time.Time, asOfMs int64, gates *params.Gates) (*shared.PerTimeframeSnapshot, *shared.LookbackHistory, error) {
	var endTime int64
	if asOfMs > 0 {
		aligned, err := tf.AlignToLastClosed(asOfMs)
		if err != nil {
			return nil, nil, err
		}
		endTime = aligned
	}

	candles, err := s.fetchPriceCandles(ctx, venue, tf, endTime)
	if err != nil {
		return nil, nil, err
	}
	if len(candles) < minSnapshotCandles {
		return nil, nil, &shared.InsufficientDataError{
			Timeframe: tf,
			Got:       len(candles),
			Need:      minSnapshotCandles,
			Context:   fmt.Sprintf("%s price candles", venue.String()),
		}
	}

	oi, err := s.fetchSeries(ctx, venue, tf, endTime, s.cfg.Fetcher.FetchOpenInterest)
	if err != nil {
		return nil, nil, err
	}
	funding, err := s.fetchSeries(ctx, venue, tf, endTime, s.cfg.Fetcher.FetchFunding)
	if err != nil {
		return nil, nil, err
	}

	spec, err := CVDWindow(tf)
	if err != nil {
		return nil, nil, err
	}
	takers, err := s.cfg.Fetcher.FetchTakerVolume(ctx, shared.SeriesRequest{
		Venue:     venue,
		Symbol:    s.cfg.Symbol,
		Timeframe: spec.Resolution,
		Limit:     spec.WindowCandles,
		EndTime:   endTime,
	})
	if err != nil {
		return nil, nil, err
	}
	takers = filterTakers(takers, endTime)

	snapshot, err := s.deriveSnapshot(venue, tf, candles, oi, funding, takers, now, asOfMs, gates)
	if err != nil {
		return nil, nil, err
	}

	history := &shared.LookbackHistory{
		Price:   candles,
		OI:      oi,
		Funding: funding,
	}

	return snapshot, history, nil
}

// fetchPriceCandles fetches the candle lookback, preferring local data and
// enforcing the no-lookahead and widen-once replay contracts.
func (s *Service) fetchPriceCandles(ctx context.Context, venue shared.Venue, tf shared.Timeframe, endTime int64) ([]shared.Candle, error) {
	intervalMs := tf.Milliseconds()
	end := endTime
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	start := end - int64(lookbackCandles)*intervalMs

	// Local data is used verbatim when it covers the range.
	if s.cfg.Candles != nil {
		count, err := s.cfg.Candles.CountCandles(ctx, venue, s.cfg.Symbol, tf, start, end)
		if err == nil && count >= s.cfg.MinLocalCandles {
			candles, err := s.cfg.Candles.RangeCandles(ctx, venue, s.cfg.Symbol, tf, start, end)
			if err == nil && len(candles) >= s.cfg.MinLocalCandles {
				return filterCandles(candles, endTime), nil
			}
		}

		if s.cfg.LocalOnly {
			return nil, &shared.InsufficientDataError{
				Timeframe: tf,
				Got:       count,
				Need:      s.cfg.MinLocalCandles,
				Context:   fmt.Sprintf("%s local candles", venue.String()),
			}
		}
	}

	candles, err := s.cfg.Fetcher.FetchPriceCandles(ctx, shared.SeriesRequest{
		Venue:     venue,
		Symbol:    s.cfg.Symbol,
		Timeframe: tf,
		Limit:     lookbackCandles,
		StartTime: start,
		EndTime:   endTime,
	})
	if err != nil {
		return nil, err
	}
	candles = filterCandles(candles, endTime)

	if endTime > 0 && len(candles) < minLookbackCandles {
		// Widen the window once before giving up.
		candles, err = s.cfg.Fetcher.FetchPriceCandles(ctx, shared.SeriesRequest{
			Venue:     venue,
			Symbol:    s.cfg.Symbol,
			Timeframe: tf,
			Limit:     lookbackCandles * 2,
			StartTime: end - int64(lookbackCandles)*intervalMs*2,
			EndTime:   endTime,
		})
		if err != nil {
			return nil, err
		}
		candles = filterCandles(candles, endTime)

		if len(candles) < minLookbackCandles {
			return nil, &shared.InsufficientDataError{
				Timeframe: tf,
				Got:       len(candles),
				Need:      minLookbackCandles,
				Context:   fmt.Sprintf("%s replay candles", venue.String()),
			}
		}
	}

	return candles, nil
}

// fetchSeries fetches one auxiliary series with replay post-filtering.
func (s *Service) fetchSeries(ctx context.Context, venue shared.Venue, tf shared.Timeframe,
	endTime int64, fetch func(context.Context, shared.SeriesRequest) ([]shared.SeriesPoint, error)) ([]shared.SeriesPoint, error) {
	series, err := fetch(ctx, shared.SeriesRequest{
		Venue:     venue,
		Symbol:    s.cfg.Symbol,
		Timeframe: tf,
		Limit:     lookbackCandles,
		EndTime:   endTime,
	})
	if err != nil {
		return nil, err
	}

	if endTime > 0 {
		filtered := series[:0]
		for idx := range series {
			if series[idx].Timestamp <= endTime {
				filtered = append(filtered, series[idx])
			}
		}
		series = filtered
	}

	return series, nil
}

// deriveSnapshot computes the per-timeframe snapshot from the fetched series.
func (s *Service) deriveSnapshot(venue shared.Venue, tf shared.Timeframe, candles []shared.Candle,
	oi, funding []shared.SeriesPoint, takers []shared.TakerVolume, now time.Time, asOfMs int64,
	gates *params.Gates) (*shared.PerTimeframeSnapshot, error) {
	last := candles[len(candles)-1]
	previous := candles[len(candles)-2]

	snapshot := &shared.PerTimeframeSnapshot{
		Venue:     venue,
		Timeframe: tf,
		Price:     last.Close,
		Volume:    last.Volume,
	}
	if previous.Close != 0 {
		snapshot.PriceChangePct = (last.Close - previous.Close) / previous.Close * 100
	}

	if len(oi) > 0 {
		snapshot.OI = oi[len(oi)-1].Value
		if len(oi) > 1 && oi[len(oi)-2].Value != 0 {
			snapshot.OIChangePct = (oi[len(oi)-1].Value - oi[len(oi)-2].Value) / oi[len(oi)-2].Value * 100
		}
	}

	if len(funding) > 0 {
		window := funding
		if len(window) > fundingAvgWindow {
			window = window[len(window)-fundingAvgWindow:]
		}
		var sum float64
		for idx := range window {
			sum += window[idx].Value
		}
		snapshot.FundingAvgPct = sum / float64(len(window))
	}

	cvd, err := ComputeCVD(takers, tf, gates)
	if err != nil {
		return nil, err
	}
	cvd.Apply(snapshot)

	// Staleness is warn-only; the cycle continues with the flag set.
	reference := now.UnixMilli()
	if asOfMs > 0 {
		reference = asOfMs
	}
	ageMs := reference - last.Timestamp
	snapshot.AgeMinutes = float64(ageMs) / float64(time.Minute.Milliseconds())
	if float64(ageMs) > gates.MaxLagMultiplier*float64(tf.Milliseconds()) {
		snapshot.Stale = true
		s.cfg.Logger.Warn().Msgf("%s %s data is stale: %.1f minutes old",
			venue.String(), tf.String(), snapshot.AgeMinutes)
	}

	return snapshot, nil
}

// filterCandles drops candles past the replay boundary. A zero boundary
// keeps everything.
func filterCandles(candles []shared.Candle, endTime int64) []shared.Candle {
	if endTime == 0 {
		return candles
	}

	filtered := candles[:0]
	for idx := range candles {
		if candles[idx].Timestamp <= endTime {
			filtered = append(filtered, candles[idx])
		}
	}

	return filtered
}

// filterTakers drops taker rows past the replay boundary.
func filterTakers(takers []shared.TakerVolume, endTime int64) []shared.TakerVolume {
	if endTime == 0 {
		return takers
	}

	filtered := takers[:0]
	for idx := range takers {
		if takers[idx].Timestamp <= endTime {
			filtered = append(filtered, takers[idx])
		}
	}

	return filtered
}
