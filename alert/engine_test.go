package alert

import (
	"testing"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()

	logger := zerolog.Nop()
	engine, err := NewEngine(&EngineConfig{Logger: &logger})
	assert.NoError(t, err)
	return engine
}

// alertState builds a market state with the provided verdict and regime.
func alertState(bias shared.Bias, confidence float64, regime shared.Regime, fundingZ float64) *shared.MarketState {
	return &shared.MarketState{
		ID: "state-1",
		FinalDecision: &shared.Decision{
			Bias:       bias,
			Confidence: confidence,
		},
		MarketRegime: &shared.RegimeResult{
			Regime:     regime,
			Subtype:    shared.MixedSignals,
			Confidence: confidence,
		},
		FundingAdvanced: &shared.FundingFeatures{
			State: shared.FundingState{ZScore: fundingZ},
		},
	}
}

func findAlert(alerts []shared.Alert, category shared.AlertCategory) *shared.Alert {
	for idx := range alerts {
		if alerts[idx].Category == category {
			return &alerts[idx]
		}
	}
	return nil
}

func TestEvaluateNilStates(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	assert.Nil(t, engine.Evaluate(nil, nil, now))

	// A first state with no predecessor emits nothing transition-driven.
	current := alertState(shared.Long, 7, shared.Trending, 0.5)
	alerts := engine.Evaluate(nil, current, now)
	assert.Equal(t, 0, len(alerts))
}

func TestEvaluateBiasShift(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	previous := alertState(shared.Wait, 5, shared.Trending, 0.5)
	current := alertState(shared.Long, 6, shared.Trending, 0.5)

	alerts := engine.Evaluate(previous, current, now)
	shift := findAlert(alerts, shared.BiasShift)
	assert.NotNil(t, shift)
	assert.Equal(t, shared.HighPriority, shift.Priority)
	assert.Equal(t, "WAIT", shift.Context.Previous)
	assert.Equal(t, "LONG", shift.Context.Current)
	assert.Equal(t, "state-1", shift.MarketStateID)
	assert.True(t, shift.ExpiresAt > shift.Timestamp)
}

func TestEvaluateBiasShiftCooldown(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	previous := alertState(shared.Wait, 5, shared.Trending, 0.5)
	current := alertState(shared.Long, 6, shared.Trending, 0.5)

	alerts := engine.Evaluate(previous, current, now)
	assert.NotNil(t, findAlert(alerts, shared.BiasShift))

	// A second shift inside the cooldown stays silent.
	alerts = engine.Evaluate(current, previous, now.Add(10*time.Minute))
	assert.Nil(t, findAlert(alerts, shared.BiasShift))

	// Past the cooldown it may fire again.
	alerts = engine.Evaluate(previous, current, now.Add(31*time.Minute))
	assert.NotNil(t, findAlert(alerts, shared.BiasShift))
}

func TestEvaluateBiasShiftOscillationSuppression(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	long := alertState(shared.Long, 6, shared.Trending, 0.5)
	short := alertState(shared.Short, 6, shared.Trending, 0.5)

	// Flip the bias every cycle, spaced past the cooldown so only the
	// oscillation tracker can suppress.
	states := []*shared.MarketState{long, short, long, short, long}
	var suppressed bool
	for idx := 1; idx < len(states); idx++ {
		at := now.Add(time.Duration(idx) * 31 * time.Minute)
		alerts := engine.Evaluate(states[idx-1], states[idx], at)
		if findAlert(alerts, shared.BiasShift) == nil {
			suppressed = true
		}
	}

	assert.True(t, suppressed)
}

func TestEvaluateRegimeChange(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	previous := alertState(shared.Long, 6, shared.Trending, 0.5)
	current := alertState(shared.Long, 6, shared.Distribution, 0.5)

	alerts := engine.Evaluate(previous, current, now)
	change := findAlert(alerts, shared.RegimeChange)
	assert.NotNil(t, change)
	assert.Equal(t, shared.HighPriority, change.Priority)
	assert.Equal(t, "trending", change.Context.Previous)
	assert.Equal(t, "distribution", change.Context.Current)
}

func TestEvaluateConfidenceSpike(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	tests := []struct {
		name         string
		previous     float64
		current      float64
		want         bool
		wantPriority shared.Priority
	}{
		{
			name:     "small jump stays silent",
			previous: 5,
			current:  7.5,
			want:     false,
		},
		{
			name:     "jump below the floor stays silent",
			previous: 2,
			current:  6,
			want:     false,
		},
		{
			name:         "qualifying spike",
			previous:     4,
			current:      7.5,
			want:         true,
			wantPriority: shared.MediumPriority,
		},
		{
			name:         "spike into high confidence upgrades priority",
			previous:     5,
			current:      9.5,
			want:         true,
			wantPriority: shared.HighPriority,
		},
	}

	for idx, test := range tests {
		// Space the evaluations past the cooldown.
		at := now.Add(time.Duration(idx) * 2 * time.Hour)
		previous := alertState(shared.Long, test.previous, shared.Trending, 0.5)
		current := alertState(shared.Long, test.current, shared.Trending, 0.5)

		spike := findAlert(engine.Evaluate(previous, current, at), shared.ConfidenceSpike)
		if test.want && spike == nil {
			t.Errorf("%s: expected a confidence spike alert", test.name)
			continue
		}
		if !test.want {
			if spike != nil {
				t.Errorf("%s: expected no confidence spike alert", test.name)
			}
			continue
		}
		assert.Equal(t, test.wantPriority, spike.Priority)
	}
}

func TestEvaluateRegimeEntries(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	previous := alertState(shared.Long, 6, shared.Trending, 0.5)
	trap := alertState(shared.Short, 7, shared.Trap, 0.5)

	alerts := engine.Evaluate(previous, trap, now)
	detected := findAlert(alerts, shared.TrapDetected)
	assert.NotNil(t, detected)
	assert.Equal(t, shared.HighPriority, detected.Priority)

	// Staying in the trap regime does not re-fire, even past the cooldown.
	alerts = engine.Evaluate(trap, trap, now.Add(2*time.Hour))
	assert.Nil(t, findAlert(alerts, shared.TrapDetected))

	covering := alertState(shared.Wait, 6, shared.Covering, 0.5)
	alerts = engine.Evaluate(trap, covering, now.Add(4*time.Hour))
	squeeze := findAlert(alerts, shared.SqueezeActive)
	assert.NotNil(t, squeeze)
	assert.Equal(t, shared.MediumPriority, squeeze.Priority)
}

func TestEvaluateFundingExtreme(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	normal := alertState(shared.Long, 6, shared.Trending, 0.5)
	extreme := alertState(shared.Long, 6, shared.Trending, 2.4)

	// The upward crossing fires.
	alerts := engine.Evaluate(normal, extreme, now)
	funding := findAlert(alerts, shared.FundingExtreme)
	assert.NotNil(t, funding)
	assert.Equal(t, shared.MediumPriority, funding.Priority)

	// Persistently extreme readings stay silent, even past the cooldown.
	stillExtreme := alertState(shared.Long, 6, shared.Trending, 2.6)
	alerts = engine.Evaluate(extreme, stillExtreme, now.Add(5*time.Hour))
	assert.Nil(t, findAlert(alerts, shared.FundingExtreme))

	// After a reset the next crossing fires again.
	alerts = engine.Evaluate(stillExtreme, normal, now.Add(10*time.Hour))
	assert.Nil(t, findAlert(alerts, shared.FundingExtreme))
	negative := alertState(shared.Long, 6, shared.Trending, -2.2)
	alerts = engine.Evaluate(normal, negative, now.Add(15*time.Hour))
	assert.NotNil(t, findAlert(alerts, shared.FundingExtreme))
}

func TestEvaluatePrioritySort(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	// One transition triggers a high-priority regime change alongside a
	// medium-priority squeeze and funding extreme.
	previous := alertState(shared.Long, 6, shared.Trending, 0.5)
	current := alertState(shared.Long, 6, shared.Covering, 2.5)

	alerts := engine.Evaluate(previous, current, now)
	assert.True(t, len(alerts) >= 3)
	for idx := 1; idx < len(alerts); idx++ {
		if alerts[idx].Priority > alerts[idx-1].Priority {
			t.Fatal("alerts are not sorted by descending priority")
		}
	}
	assert.Equal(t, shared.RegimeChange, alerts[0].Category)
}

func TestHydrate(t *testing.T) {
	engine := testEngine(t)
	now := time.Now()

	// A stored bias shift from twenty minutes ago keeps the category on
	// cooldown after a restart.
	engine.Hydrate([]shared.Alert{
		{Category: shared.BiasShift, Timestamp: now.Add(-20 * time.Minute).UnixMilli()},
	}, []shared.Bias{shared.Wait, shared.Wait, shared.Wait})

	previous := alertState(shared.Wait, 5, shared.Trending, 0.5)
	current := alertState(shared.Long, 6, shared.Trending, 0.5)
	alerts := engine.Evaluate(previous, current, now)
	assert.Nil(t, findAlert(alerts, shared.BiasShift))

	// Past the hydrated cooldown the shift fires.
	alerts = engine.Evaluate(previous, current, now.Add(15*time.Minute))
	assert.NotNil(t, findAlert(alerts, shared.BiasShift))
}
