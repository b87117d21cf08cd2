package store

import (
	"errors"
	"testing"

	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
)

const hourMs = int64(3_600_000)

// outcomeState builds a minimal labelable state with the provided verdict.
func outcomeState(bias shared.Bias, entry float64, timestamp int64) *shared.MarketState {
	return &shared.MarketState{
		ID:               "state-1",
		Timestamp:        timestamp,
		Symbol:           "BTC",
		PrimaryTimeframe: shared.FourHour,
		FinalDecision:    &shared.Decision{Bias: bias},
		Raw: &shared.MarketSnapshot{
			Symbol: "BTC",
			Venues: map[shared.Venue]*shared.VenueSnapshot{
				shared.Binance: {
					Venue: shared.Binance,
					Timeframes: map[shared.Timeframe]*shared.PerTimeframeSnapshot{
						shared.FourHour: {Price: entry},
					},
				},
			},
		},
	}
}

// horizonCandle builds one candle at the provided hour offset from the state.
func horizonCandle(stateTs int64, hoursAfter int, high, low, close float64) shared.Candle {
	return shared.Candle{
		Timestamp: stateTs + int64(hoursAfter)*hourMs,
		Open:      close,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1_000,
	}
}

func TestHorizonHours(t *testing.T) {
	tests := []struct {
		timeframe shared.Timeframe
		want      int
	}{
		{shared.ThirtyMinute, 6},
		{shared.OneHour, 12},
		{shared.FourHour, 24},
		{shared.OneDay, 72},
		{shared.UnknownTimeframe, 24},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, HorizonHours(test.timeframe))
	}
}

func TestLabelOutcomeLong(t *testing.T) {
	stateTs := int64(1_700_000_000_000)

	tests := []struct {
		name      string
		candles   []shared.Candle
		wantLabel shared.OutcomeLabel
	}{
		{
			name: "continuation",
			candles: []shared.Candle{
				horizonCandle(stateTs, 4, 103, 99, 102.5),
			},
			wantLabel: shared.Continuation,
		},
		{
			name: "reversal",
			candles: []shared.Candle{
				horizonCandle(stateTs, 4, 101, 96, 97),
			},
			wantLabel: shared.Reversal,
		},
		{
			name: "noise",
			candles: []shared.Candle{
				horizonCandle(stateTs, 4, 101, 99.5, 100.5),
			},
			wantLabel: shared.Noise,
		},
	}

	for _, test := range tests {
		state := outcomeState(shared.Long, 100, stateTs)
		outcome, err := LabelOutcome(state, test.candles, 1.0)
		assert.NoError(t, err)
		if outcome.Label != test.wantLabel {
			t.Errorf("%s: expected %s, got %s", test.name,
				test.wantLabel.String(), outcome.Label.String())
		}
		assert.True(t, outcome.Reason != "")
		assert.Equal(t, 24, outcome.HorizonHours)
	}
}

func TestLabelOutcomeLongExcursions(t *testing.T) {
	stateTs := int64(1_700_000_000_000)
	state := outcomeState(shared.Long, 100, stateTs)

	candles := []shared.Candle{
		horizonCandle(stateTs, 4, 103, 99, 102),
		horizonCandle(stateTs, 8, 104, 101, 102.5),
	}

	outcome, err := LabelOutcome(state, candles, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, 4.0, outcome.MFE)
	assert.Equal(t, -1.0, outcome.MAE)
	assert.Equal(t, 2.5, outcome.FinalMovePct)
	assert.Equal(t, 102.5, outcome.FinalPrice)
	assert.Equal(t, stateTs+8*hourMs, outcome.LabeledAt)
}

func TestLabelOutcomeShort(t *testing.T) {
	stateTs := int64(1_700_000_000_000)
	state := outcomeState(shared.Short, 100, stateTs)

	candles := []shared.Candle{
		horizonCandle(stateTs, 4, 101, 96, 97),
	}

	outcome, err := LabelOutcome(state, candles, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Continuation, outcome.Label)
	// Favorable excursion for a short is the downside wick.
	assert.Equal(t, 4.0, outcome.MFE)
	assert.Equal(t, -1.0, outcome.MAE)

	reversal, err := LabelOutcome(state, []shared.Candle{
		horizonCandle(stateTs, 4, 103, 99, 102.5),
	}, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Reversal, reversal.Label)
}

func TestLabelOutcomeWait(t *testing.T) {
	stateTs := int64(1_700_000_000_000)
	state := outcomeState(shared.Wait, 100, stateTs)

	// A directional resolution means the wait missed a continuation.
	directional, err := LabelOutcome(state, []shared.Candle{
		horizonCandle(stateTs, 4, 102, 99.5, 101.5),
		horizonCandle(stateTs, 8, 105, 101, 105),
	}, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Continuation, directional.Label)

	// A wide round trip vindicates it as noise.
	roundTrip, err := LabelOutcome(state, []shared.Candle{
		horizonCandle(stateTs, 4, 105, 98, 104),
		horizonCandle(stateTs, 8, 104, 95, 100.5),
	}, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Noise, roundTrip.Label)

	// Directional but below the scaled significance floor stays vindicated.
	smallMove, err := LabelOutcome(state, []shared.Candle{
		horizonCandle(stateTs, 4, 101.2, 99.9, 101.1),
	}, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Noise, smallMove.Label)
}

func TestLabelOutcomeHorizonWindow(t *testing.T) {
	stateTs := int64(1_700_000_000_000)
	state := outcomeState(shared.Long, 100, stateTs)

	candles := []shared.Candle{
		// At the state timestamp, excluded.
		horizonCandle(stateTs, 0, 150, 50, 100),
		horizonCandle(stateTs, 4, 103, 99, 102.5),
		// Past the 24 hour horizon, excluded.
		horizonCandle(stateTs, 30, 200, 10, 10),
	}

	outcome, err := LabelOutcome(state, candles, 1.0)
	assert.NoError(t, err)
	assert.Equal(t, shared.Continuation, outcome.Label)
	assert.Equal(t, 3.0, outcome.MFE)
	assert.Equal(t, stateTs+4*hourMs, outcome.LabeledAt)
}

func TestLabelOutcomeErrors(t *testing.T) {
	stateTs := int64(1_700_000_000_000)

	// No decision on the state.
	noDecision := outcomeState(shared.Long, 100, stateTs)
	noDecision.FinalDecision = nil
	_, err := LabelOutcome(noDecision, []shared.Candle{horizonCandle(stateTs, 4, 101, 99, 100)}, 1.0)
	assert.Error(t, err)

	// No entry price resolvable from the raw snapshot.
	noEntry := outcomeState(shared.Long, 100, stateTs)
	noEntry.Raw = nil
	_, err = LabelOutcome(noEntry, []shared.Candle{horizonCandle(stateTs, 4, 101, 99, 100)}, 1.0)
	assert.Error(t, err)

	// No candles inside the horizon window.
	state := outcomeState(shared.Long, 100, stateTs)
	_, err = LabelOutcome(state, []shared.Candle{horizonCandle(stateTs, 30, 101, 99, 100)}, 1.0)
	var insufficient *shared.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))
}
