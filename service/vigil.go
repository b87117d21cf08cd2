package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnldd/vigil/alert"
	"github.com/dnldd/vigil/candle"
	"github.com/dnldd/vigil/engine"
	"github.com/dnldd/vigil/fetch"
	"github.com/dnldd/vigil/market"
	"github.com/dnldd/vigil/params"
	"github.com/dnldd/vigil/shared"
	"github.com/dnldd/vigil/store"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	// ScanCycle is the live analysis cadence.
	ScanCycle = time.Minute * 5
	// alertHydrationWindow is how far back stored alerts seed the alert
	// engine cooldowns on startup.
	alertHydrationWindow = time.Hour * 4
	// biasHydrationStates is how many recent states seed oscillation
	// tracking on startup.
	biasHydrationStates = 6
	// labelSweepBatch caps the states labeled per sweep.
	labelSweepBatch = 50
	// candleRetention is how long raw candles are kept.
	candleRetention = time.Hour * 24 * 730
)

// VigilConfig represents the configuration struct for the vigil service.
type VigilConfig struct {
	// Symbol is the tracked asset.
	Symbol string
	// CoinglassAPIKey is the Coinglass API key.
	CoinglassAPIKey string
	// CoinglassPlan is the subscribed Coinglass plan.
	CoinglassPlan string
	// DBEndpoint represents the database connection endpoint.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// EnableCronJobs enables the scheduled jobs.
	EnableCronJobs bool
	// EnableStartupCache warms the candle store on startup.
	EnableStartupCache bool
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config has sane inputs.
func (cfg *VigilConfig) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if cfg.CoinglassAPIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("coinglass api key cannot be an empty string"))
	}
	if cfg.DBEndpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("database endpoint cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// Vigil represents the continuous market intelligence service.
type Vigil struct {
	cfg           *VigilConfig
	fetcher       *fetch.CoinglassClient
	candles       *candle.Store
	marketService *market.Service
	configService *params.Service
	stateStore    *store.Store
	alertEngine   *alert.Engine
	scheduler     *gocron.Scheduler
	logger        *zerolog.Logger

	previous *shared.MarketState
	paused   atomic.Bool
	busy     atomic.Bool
	mtx      sync.Mutex
}

// NewVigil initializes a new vigil service.
func NewVigil(ctx context.Context, cfg *VigilConfig) (*Vigil, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating vigil config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "vigil").Logger()

	fetcherLogger := logger.With().Str("component", "coinglass").Logger()
	fetcher, err := fetch.NewCoinglassClient(&fetch.CoinglassConfig{
		APIKey: cfg.CoinglassAPIKey,
		Plan:   cfg.CoinglassPlan,
		Logger: &fetcherLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating coinglass client: %w", err)
	}

	candleLogger := logger.With().Str("component", "candlestore").Logger()
	candles, err := candle.NewStore(ctx, &candle.StoreConfig{
		Endpoint: cfg.DBEndpoint,
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Logger:   &candleLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating candle store: %w", err)
	}

	marketLogger := logger.With().Str("component", "marketservice").Logger()
	marketService, err := market.NewService(&market.ServiceConfig{
		Fetcher: fetcher,
		Candles: candles,
		Symbol:  cfg.Symbol,
		Logger:  &marketLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating market service: %w", err)
	}

	configLogger := logger.With().Str("component", "configservice").Logger()
	configService, err := params.NewService(ctx, &params.ServiceConfig{
		Endpoint: cfg.DBEndpoint,
		User:     cfg.DBUser,
		Pass:     cfg.DBPass,
		Logger:   &configLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config service: %w", err)
	}

	storeLogger := logger.With().Str("component", "statestore").Logger()
	stateStore, err := store.NewStore(ctx, &store.StoreConfig{
		Endpoint:  cfg.DBEndpoint,
		User:      cfg.DBUser,
		Pass:      cfg.DBPass,
		ScanCycle: ScanCycle,
		Logger:    &storeLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating state store: %w", err)
	}

	alertLogger := logger.With().Str("component", "alertengine").Logger()
	alertEngine, err := alert.NewEngine(&alert.EngineConfig{Logger: &alertLogger})
	if err != nil {
		return nil, fmt.Errorf("creating alert engine: %w", err)
	}

	svc := &Vigil{
		cfg:           cfg,
		fetcher:       fetcher,
		candles:       candles,
		marketService: marketService,
		configService: configService,
		stateStore:    stateStore,
		alertEngine:   alertEngine,
		scheduler:     gocron.NewScheduler(time.UTC),
		logger:        &logger,
	}

	err = svc.hydrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("hydrating vigil service: %w", err)
	}

	return svc, nil
}

// hydrate seeds the alert engine and the previous state from storage so a
// restart does not re-emit alerts or duplicate states.
func (v *Vigil) hydrate(ctx context.Context) error {
	cutoff := time.Now().Add(-alertHydrationWindow).UnixMilli()
	alerts, err := v.stateStore.RecentAlerts(ctx, cutoff)
	if err != nil {
		return err
	}

	states, err := v.stateStore.RecentStates(ctx, v.cfg.Symbol, biasHydrationStates)
	if err != nil {
		return err
	}

	// Recent states arrive newest first, bias history wants oldest first.
	biases := make([]shared.Bias, 0, len(states))
	for idx := len(states) - 1; idx >= 0; idx-- {
		if states[idx].FinalDecision != nil {
			biases = append(biases, states[idx].FinalDecision.Bias)
		}
	}
	if len(states) > 0 {
		v.previous = states[0]
	}

	v.alertEngine.Hydrate(alerts, biases)

	return nil
}

// Pause stops live cycles from analyzing until resumed. Scheduled jobs keep
// firing and skip while paused.
func (v *Vigil) Pause() {
	v.paused.Store(true)
	v.logger.Info().Msg("analysis paused")
}

// Resume reenables live cycles.
func (v *Vigil) Resume() {
	v.paused.Store(false)
	v.logger.Info().Msg("analysis resumed")
}

// runCycle executes one live scan cycle: fetch, evaluate, persist, alert.
func (v *Vigil) runCycle(ctx context.Context) {
	if v.paused.Load() {
		return
	}
	if !v.busy.CompareAndSwap(false, true) {
		// The previous cycle is still running, skip rather than stack.
		v.logger.Warn().Msg("previous cycle still running, skipping")
		return
	}
	defer v.busy.Store(false)

	started := time.Now()
	cfg := v.configService.Active()

	snapshot, history, err := v.marketService.LiveSnapshot(ctx, started, &cfg.Gates)
	if err != nil {
		var rateLimited *shared.RateLimitError
		if errors.As(err, &rateLimited) {
			v.logger.Warn().Msgf("rate limited, skipping cycle: %v", err)
			return
		}
		v.logger.Error().Msgf("fetching snapshot: %v", err)
		return
	}

	v.persistCandles(ctx, history)

	state, err := engine.Evaluate(snapshot, history, cfg)
	if err != nil {
		v.logger.Error().Msgf("evaluating market state: %v", err)
		return
	}

	id, deduplicated, err := v.stateStore.SaveState(ctx, state)
	if err != nil {
		// Persistence failures degrade the cycle, the next one reattempts.
		v.logger.Error().Msgf("saving market state: %v", err)
	}
	state.ID = id

	if !deduplicated {
		alerts := v.alertEngine.Evaluate(v.previous, state, started)
		if len(alerts) > 0 {
			err = v.stateStore.SaveAlerts(ctx, alerts)
			if err != nil {
				v.logger.Error().Msgf("saving alerts: %v", err)
			}
			for idx := range alerts {
				v.logger.Info().Msgf("alert [%s/%s]: %s", alerts[idx].Priority.String(),
					alerts[idx].Category.String(), alerts[idx].Title)
			}
		}

		v.mtx.Lock()
		v.previous = state
		v.mtx.Unlock()
	}

	elapsed := time.Since(started)
	if elapsed > ScanCycle {
		v.logger.Warn().Msgf("cycle took %s, longer than the %s cadence", elapsed, ScanCycle)
	}

	if state.FinalDecision != nil {
		v.logger.Info().Msgf("%s %s %.1f (%s, %s quality, dedup %v, %s)", state.Symbol,
			state.FinalDecision.Bias.String(), state.FinalDecision.Confidence,
			state.FinalDecision.TradeStance.String(), state.DataQuality.String(),
			deduplicated, elapsed.Round(time.Millisecond))
	}
}

// persistCandles upserts the fetched lookback candles so replay and labeling
// runs can serve from local data.
func (v *Vigil) persistCandles(ctx context.Context, history *shared.HistorySet) {
	for _, venue := range shared.AllVenues {
		for _, tf := range shared.AllTimeframes {
			lookback := history.History(venue, tf)
			if lookback == nil || len(lookback.Price) == 0 {
				continue
			}

			err := v.candles.UpsertCandles(ctx, lookback.Price)
			if err != nil {
				v.logger.Warn().Msgf("caching %s %s candles: %v", venue.String(), tf.String(), err)
			}
		}
	}
}

// runLabelSweep labels stored states whose horizon has expired.
func (v *Vigil) runLabelSweep(ctx context.Context) {
	now := time.Now()
	cfg := v.configService.Active()

	// Only states old enough for the shortest horizon can be mature.
	cutoff := now.Add(-time.Duration(store.HorizonHours(shared.ThirtyMinute)) * time.Hour).UnixMilli()
	states, err := v.stateStore.PendingOutcomeStates(ctx, cutoff, labelSweepBatch)
	if err != nil {
		v.logger.Error().Msgf("listing pending outcomes: %v", err)
		return
	}

	var labeled int
	for _, state := range states {
		horizon := time.Duration(store.HorizonHours(state.PrimaryTimeframe)) * time.Hour
		if state.Timestamp+horizon.Milliseconds() > now.UnixMilli() {
			continue
		}

		candles, err := v.horizonCandles(ctx, state, horizon)
		if err != nil {
			v.logger.Warn().Msgf("fetching horizon candles for %s: %v", state.ID, err)
			continue
		}

		significance := cfg.Thresholds.For(state.PrimaryTimeframe).PriceStrong
		outcome, err := store.LabelOutcome(state, candles, significance)
		if err != nil {
			v.logger.Warn().Msgf("labeling %s: %v", state.ID, err)
			continue
		}

		err = v.stateStore.SaveOutcome(ctx, state, outcome)
		if err != nil {
			v.logger.Error().Msgf("saving outcome for %s: %v", state.ID, err)
			continue
		}
		labeled++
	}

	if labeled > 0 {
		v.logger.Info().Msgf("labeled %d states", labeled)
	}
}

// horizonCandles loads the primary timeframe candles covering a state's
// labeling horizon, from the local store first and the vendor as fallback.
func (v *Vigil) horizonCandles(ctx context.Context, state *shared.MarketState, horizon time.Duration) ([]shared.Candle, error) {
	tf := state.PrimaryTimeframe
	start := state.Timestamp
	end := state.Timestamp + horizon.Milliseconds()

	candles, err := v.candles.RangeCandles(ctx, shared.Binance, state.Symbol, tf, start, end)
	if err == nil && len(candles) > 0 {
		return candles, nil
	}

	return v.fetcher.FetchPriceCandles(ctx, shared.SeriesRequest{
		Venue:     shared.Binance,
		Symbol:    state.Symbol,
		Timeframe: tf,
		StartTime: start,
		EndTime:   end,
	})
}

// runDailySummary aggregates the previous utc day.
func (v *Vigil) runDailySummary(ctx context.Context) {
	day := time.Now().UTC().Add(-time.Hour * 24)
	start := day.Truncate(time.Hour * 24)
	end := start.Add(time.Hour * 24)

	// The day's price action comes from the cached lookback candles.
	candles, err := v.candles.RangeCandles(ctx, shared.Binance, v.cfg.Symbol,
		shared.ThirtyMinute, start.UnixMilli(), end.UnixMilli()-1)
	if err != nil {
		v.logger.Warn().Msgf("loading daily candles: %v", err)
	}

	summary, err := v.stateStore.BuildDailySummary(ctx, day, v.cfg.Symbol, candles)
	if err != nil {
		v.logger.Error().Msgf("building daily summary: %v", err)
		return
	}

	v.logger.Info().Msgf("daily summary %s: %d states, avg confidence %.1f",
		summary.Day, summary.States, summary.AvgConfidence)
}

// runCleanup prunes stored rows past retention.
func (v *Vigil) runCleanup(ctx context.Context) {
	now := time.Now()
	err := v.stateStore.Cleanup(ctx, now)
	if err != nil {
		v.logger.Error().Msgf("cleaning up state store: %v", err)
	}

	err = v.candles.PruneCandles(ctx, now.Add(-candleRetention).UnixMilli())
	if err != nil {
		v.logger.Error().Msgf("pruning candles: %v", err)
	}
}

// warmCache fetches the full lookback for every venue and timeframe into the
// candle store before the first cycle.
func (v *Vigil) warmCache(ctx context.Context) {
	started := time.Now()
	cfg := v.configService.Active()

	_, history, err := v.marketService.LiveSnapshot(ctx, started, &cfg.Gates)
	if err != nil {
		v.logger.Warn().Msgf("warming candle cache: %v", err)
		return
	}

	v.persistCandles(ctx, history)
	v.logger.Info().Msgf("candle cache warmed in %s", time.Since(started).Round(time.Millisecond))
}

// Run handles the lifecycle processes of the vigil service.
func (v *Vigil) Run(ctx context.Context) {
	if v.cfg.EnableStartupCache {
		v.warmCache(ctx)
	}

	if v.cfg.EnableCronJobs {
		_, err := v.scheduler.Every(ScanCycle).Do(func() { v.runCycle(ctx) })
		if err != nil {
			v.logger.Error().Msgf("scheduling scan cycle: %v", err)
		}
		_, err = v.scheduler.Every(1).Hour().Do(func() { v.runLabelSweep(ctx) })
		if err != nil {
			v.logger.Error().Msgf("scheduling label sweep: %v", err)
		}
		_, err = v.scheduler.Every(1).Day().At("00:00").Do(func() { v.runDailySummary(ctx) })
		if err != nil {
			v.logger.Error().Msgf("scheduling daily summary: %v", err)
		}
		_, err = v.scheduler.Every(1).Day().At("03:00").Do(func() { v.runCleanup(ctx) })
		if err != nil {
			v.logger.Error().Msgf("scheduling cleanup: %v", err)
		}

		v.scheduler.StartAsync()
	}

	v.runCycle(ctx)

	<-ctx.Done()
	v.scheduler.Stop()
	v.logger.Info().Msg("vigil service stopped")
}
