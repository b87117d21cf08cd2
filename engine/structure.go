package engine

import "github.com/dnldd/vigil/shared"

const (
	// fractalWing is the number of candles on each side of a fractal swing
	// point.
	fractalWing = 2
)

// BuildStructure identifies fractal swing points, the nearest support and
// resistance, and any break of structure over the provided candle history.
func BuildStructure(candles []shared.Candle) *shared.Structure {
	structure := &shared.Structure{}
	if len(candles) < fractalWing*2+1 {
		return structure
	}

	// A swing high is a strict local maximum against its two neighbours on
	// each side, a swing low the strict local minimum.
	for idx := fractalWing; idx < len(candles)-fractalWing; idx++ {
		isHigh := true
		isLow := true
		for wing := 1; wing <= fractalWing; wing++ {
			if candles[idx].High <= candles[idx-wing].High || candles[idx].High <= candles[idx+wing].High {
				isHigh = false
			}
			if candles[idx].Low >= candles[idx-wing].Low || candles[idx].Low >= candles[idx+wing].Low {
				isLow = false
			}
		}

		if isHigh {
			structure.SwingHighs = append(structure.SwingHighs, shared.SwingPoint{
				Timestamp: candles[idx].Timestamp,
				Price:     candles[idx].High,
				High:      true,
			})
		}
		if isLow {
			structure.SwingLows = append(structure.SwingLows, shared.SwingPoint{
				Timestamp: candles[idx].Timestamp,
				Price:     candles[idx].Low,
			})
		}
	}

	currentClose := candles[len(candles)-1].Close

	// Resistance is the lowest swing high above the current price, support
	// the highest swing low below it.
	for idx := range structure.SwingHighs {
		price := structure.SwingHighs[idx].Price
		if price > currentClose && (structure.Resistance == 0 || price < structure.Resistance) {
			structure.Resistance = price
		}
	}
	for idx := range structure.SwingLows {
		price := structure.SwingLows[idx].Price
		if price < currentClose && price > structure.Support {
			structure.Support = price
		}
	}

	// A close beyond the most recent prior swing extremum breaks structure.
	if len(structure.SwingHighs) > 0 {
		recentHigh := structure.SwingHighs[len(structure.SwingHighs)-1]
		if currentClose > recentHigh.Price {
			structure.Bos = shared.BullishBos
		}
	}
	if structure.Bos == shared.NoBos && len(structure.SwingLows) > 0 {
		recentLow := structure.SwingLows[len(structure.SwingLows)-1]
		if currentClose < recentLow.Price {
			structure.Bos = shared.BearishBos
		}
	}

	return structure
}
