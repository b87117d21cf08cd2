package alert

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Per-category cooldowns. A category stays silent for its cooldown
	// after emitting.
	biasShiftCooldown       = time.Minute * 30
	regimeChangeCooldown    = time.Hour
	confidenceSpikeCooldown = time.Hour
	trapDetectedCooldown    = time.Hour
	squeezeActiveCooldown   = time.Hour
	fundingExtremeCooldown  = time.Hour * 4

	// confidenceSpikeDelta is the minimum confidence jump for a spike.
	confidenceSpikeDelta = 3.0
	// confidenceSpikeFloor is the minimum current confidence for a spike.
	confidenceSpikeFloor = 7.0
	// confidenceSpikeHighFloor upgrades the spike priority.
	confidenceSpikeHighFloor = 9.0
	// fundingExtremeZ is the absolute funding z-score that counts as extreme.
	fundingExtremeZ = 2.0

	// biasHistorySize is how many recent final biases oscillation
	// suppression tracks.
	biasHistorySize = 6
	// oscillationChangeFloor is the change count within the history past
	// which bias shift alerts are suppressed.
	oscillationChangeFloor = 3
)

// cooldownFor returns the cooldown of the provided category.
func cooldownFor(category shared.AlertCategory) time.Duration {
	switch category {
	case shared.BiasShift:
		return biasShiftCooldown
	case shared.RegimeChange:
		return regimeChangeCooldown
	case shared.ConfidenceSpike:
		return confidenceSpikeCooldown
	case shared.TrapDetected:
		return trapDetectedCooldown
	case shared.SqueezeActive:
		return squeezeActiveCooldown
	case shared.FundingExtreme:
		return fundingExtremeCooldown
	default:
		return time.Hour
	}
}

// EngineConfig represents the configuration for the alert engine.
type EngineConfig struct {
	// Logger represents the engine logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	return nil
}

// Engine compares consecutive market states and emits alerts for material
// changes, with per-category cooldowns and oscillation suppression.
type Engine struct {
	cfg         *EngineConfig
	mtx         sync.Mutex
	lastEmitted map[shared.AlertCategory]int64
	biasHistory []shared.Bias
}

// NewEngine initializes the alert engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating alert engine config: %w", err)
	}

	return &Engine{
		cfg:         cfg,
		lastEmitted: make(map[shared.AlertCategory]int64),
	}, nil
}

// Hydrate seeds the cooldown and oscillation trackers from stored history so
// a restart does not re-emit recent alerts.
func (e *Engine) Hydrate(alerts []shared.Alert, biases []shared.Bias) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	for idx := range alerts {
		if alerts[idx].Timestamp > e.lastEmitted[alerts[idx].Category] {
			e.lastEmitted[alerts[idx].Category] = alerts[idx].Timestamp
		}
	}

	if len(biases) > biasHistorySize {
		biases = biases[len(biases)-biasHistorySize:]
	}
	e.biasHistory = append([]shared.Bias{}, biases...)
}

// Evaluate derives the alerts triggered by the transition from the previous
// state to the current one, sorted by descending priority.
func (e *Engine) Evaluate(previous, current *shared.MarketState, now time.Time) []shared.Alert {
	if current == nil || current.FinalDecision == nil {
		return nil
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	nowMs := now.UnixMilli()
	oscillating := e.pushBias(current.FinalDecision.Bias)

	alerts := []shared.Alert{}
	emit := func(category shared.AlertCategory, priority shared.Priority,
		title, description string, context shared.AlertContext, insight string) {
		last, seen := e.lastEmitted[category]
		cooldown := cooldownFor(category)
		if seen && nowMs-last < cooldown.Milliseconds() {
			return
		}

		e.lastEmitted[category] = nowMs
		alerts = append(alerts, shared.Alert{
			ID:                uuid.NewString(),
			Timestamp:         nowMs,
			Category:          category,
			Priority:          priority,
			Title:             title,
			Description:       description,
			Context:           context,
			ActionableInsight: insight,
			ExpiresAt:         nowMs + cooldown.Milliseconds(),
			MarketStateID:     current.ID,
		})
	}

	e.evaluateBiasShift(previous, current, oscillating, emit)
	e.evaluateRegimeChange(previous, current, emit)
	e.evaluateConfidenceSpike(previous, current, emit)
	e.evaluateRegimeEntries(previous, current, emit)
	e.evaluateFundingExtreme(previous, current, emit)

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Priority > alerts[j].Priority
	})

	return alerts
}

type emitFunc func(category shared.AlertCategory, priority shared.Priority,
	title, description string, context shared.AlertContext, insight string)

// pushBias records the current final bias and reports whether the recent
// history is oscillating.
func (e *Engine) pushBias(bias shared.Bias) bool {
	e.biasHistory = append(e.biasHistory, bias)
	if len(e.biasHistory) > biasHistorySize {
		e.biasHistory = e.biasHistory[len(e.biasHistory)-biasHistorySize:]
	}

	var changes int
	for idx := 1; idx < len(e.biasHistory); idx++ {
		if e.biasHistory[idx] != e.biasHistory[idx-1] {
			changes++
		}
	}

	return changes >= oscillationChangeFloor
}

func (e *Engine) evaluateBiasShift(previous, current *shared.MarketState, oscillating bool, emit emitFunc) {
	if previous == nil || previous.FinalDecision == nil {
		return
	}

	previousBias := previous.FinalDecision.Bias
	currentBias := current.FinalDecision.Bias
	if previousBias == currentBias {
		return
	}

	if oscillating {
		e.cfg.Logger.Debug().Msgf("suppressing oscillating bias shift %s -> %s",
			previousBias.String(), currentBias.String())
		return
	}

	emit(shared.BiasShift, shared.HighPriority,
		fmt.Sprintf("Bias shifted to %s", currentBias.String()),
		fmt.Sprintf("The aggregated bias moved from %s to %s at %.1f confidence.",
			previousBias.String(), currentBias.String(), current.FinalDecision.Confidence),
		shared.AlertContext{
			Previous:     previousBias.String(),
			Current:      currentBias.String(),
			TriggerEvent: "final bias changed",
		},
		"Reassess open exposure against the new bias before the next cycle.")
}

func (e *Engine) evaluateRegimeChange(previous, current *shared.MarketState, emit emitFunc) {
	if previous == nil || previous.MarketRegime == nil || current.MarketRegime == nil {
		return
	}

	previousRegime := previous.MarketRegime.Regime
	currentRegime := current.MarketRegime.Regime
	if previousRegime == currentRegime {
		return
	}

	emit(shared.RegimeChange, shared.HighPriority,
		fmt.Sprintf("Regime changed to %s", currentRegime.String()),
		fmt.Sprintf("The primary timeframe regime moved from %s to %s (%s).",
			previousRegime.String(), currentRegime.String(), current.MarketRegime.Subtype.String()),
		shared.AlertContext{
			Previous:     previousRegime.String(),
			Current:      currentRegime.String(),
			TriggerEvent: "primary regime changed",
		},
		"Regime transitions often precede volatility, tighten risk until the new regime confirms.")
}

func (e *Engine) evaluateConfidenceSpike(previous, current *shared.MarketState, emit emitFunc) {
	if previous == nil || previous.FinalDecision == nil {
		return
	}

	previousConfidence := previous.FinalDecision.Confidence
	currentConfidence := current.FinalDecision.Confidence
	if currentConfidence-previousConfidence < confidenceSpikeDelta ||
		currentConfidence < confidenceSpikeFloor {
		return
	}

	priority := shared.MediumPriority
	if currentConfidence >= confidenceSpikeHighFloor {
		priority = shared.HighPriority
	}

	emit(shared.ConfidenceSpike, priority,
		fmt.Sprintf("Confidence spiked to %.1f", currentConfidence),
		fmt.Sprintf("Confidence jumped from %.1f to %.1f on a %s bias.",
			previousConfidence, currentConfidence, current.FinalDecision.Bias.String()),
		shared.AlertContext{
			Previous:     fmt.Sprintf("%.1f", previousConfidence),
			Current:      fmt.Sprintf("%.1f", currentConfidence),
			TriggerEvent: "confidence jump",
		},
		"A sharp confidence jump marks signal alignment, review the reasoning entries.")
}

// evaluateRegimeEntries covers the trap and squeeze entry alerts, which fire
// only when the state newly enters the regime.
func (e *Engine) evaluateRegimeEntries(previous, current *shared.MarketState, emit emitFunc) {
	if current.MarketRegime == nil {
		return
	}

	var previousRegime shared.Regime
	if previous != nil && previous.MarketRegime != nil {
		previousRegime = previous.MarketRegime.Regime
	}
	currentRegime := current.MarketRegime.Regime

	if currentRegime == shared.Trap && previousRegime != shared.Trap {
		emit(shared.TrapDetected, shared.HighPriority,
			fmt.Sprintf("Trap detected: %s", current.MarketRegime.Subtype.String()),
			fmt.Sprintf("Price and positioning flow mark a %s at %.1f confidence.",
				current.MarketRegime.Subtype.String(), current.MarketRegime.Confidence),
			shared.AlertContext{
				Previous:     previousRegime.String(),
				Current:      currentRegime.String(),
				TriggerEvent: "trap regime entered",
			},
			"Trapped positioning resolves violently, avoid chasing the trapped side.")
	}

	if currentRegime == shared.Covering && previousRegime != shared.Covering {
		emit(shared.SqueezeActive, shared.MediumPriority,
			fmt.Sprintf("Squeeze active: %s", current.MarketRegime.Subtype.String()),
			fmt.Sprintf("Open interest is unwinding into a %s.",
				current.MarketRegime.Subtype.String()),
			shared.AlertContext{
				Previous:     previousRegime.String(),
				Current:      currentRegime.String(),
				TriggerEvent: "covering regime entered",
			},
			"Squeeze moves fade once the unwind completes, avoid initiating with the squeeze.")
	}
}

func (e *Engine) evaluateFundingExtreme(previous, current *shared.MarketState, emit emitFunc) {
	if current.FundingAdvanced == nil {
		return
	}

	currentZ := current.FundingAdvanced.State.ZScore
	var previousZ float64
	if previous != nil && previous.FundingAdvanced != nil {
		previousZ = previous.FundingAdvanced.State.ZScore
	}

	// Only the upward crossing of the extreme band fires; a persistently
	// extreme reading stays silent until it resets.
	if math.Abs(currentZ) < fundingExtremeZ || math.Abs(previousZ) >= fundingExtremeZ {
		return
	}

	emit(shared.FundingExtreme, shared.MediumPriority,
		fmt.Sprintf("Funding extreme (z %.1f)", currentZ),
		fmt.Sprintf("Average funding of %.4f%% sits %.1f standard deviations from its lookback mean.",
			current.FundingAdvanced.AvgRatePct, currentZ),
		shared.AlertContext{
			Previous:     fmt.Sprintf("%.1f", previousZ),
			Current:      fmt.Sprintf("%.1f", currentZ),
			TriggerEvent: "funding z-score crossed extreme band",
		},
		"Extreme funding makes the crowded side pay to hold, squeeze risk is elevated.")
}
