package engine

import "github.com/dnldd/vigil/shared"

const (
	// profileBins is the number of price bins in a volume profile.
	profileBins = 50
	// valueAreaPct is the share of total volume contained in the value area.
	valueAreaPct = 0.70
)

// BuildVolumeProfile computes the point of control and value area over the
// provided candle history. Each candle's volume is split evenly across the
// bins its [low, high] range intersects.
func BuildVolumeProfile(candles []shared.Candle) *shared.VolumeProfile {
	if len(candles) == 0 {
		return &shared.VolumeProfile{Bins: profileBins}
	}

	low := candles[0].Low
	high := candles[0].High
	for idx := range candles {
		if candles[idx].Low < low {
			low = candles[idx].Low
		}
		if candles[idx].High > high {
			high = candles[idx].High
		}
	}

	if high <= low {
		// Degenerate range, all volume sits at a single price.
		return &shared.VolumeProfile{
			POC: low, VAH: low, VAL: low, Bins: profileBins,
		}
	}

	binSize := (high - low) / float64(profileBins)
	volumes := make([]float64, profileBins)
	var totalVolume float64

	binIndex := func(price float64) int {
		idx := int((price - low) / binSize)
		if idx < 0 {
			idx = 0
		}
		if idx >= profileBins {
			idx = profileBins - 1
		}
		return idx
	}

	for idx := range candles {
		candle := &candles[idx]
		if candle.Volume <= 0 {
			continue
		}

		first := binIndex(candle.Low)
		last := binIndex(candle.High)
		share := candle.Volume / float64(last-first+1)
		for bin := first; bin <= last; bin++ {
			volumes[bin] += share
		}
		totalVolume += candle.Volume
	}

	poc := 0
	for bin := range volumes {
		if volumes[bin] > volumes[poc] {
			poc = bin
		}
	}

	// Expand symmetrically from the point of control, taking the larger
	// adjacent bin, until the value area holds the target share of volume.
	upper := poc
	lower := poc
	captured := volumes[poc]
	target := totalVolume * valueAreaPct
	for captured < target && (lower > 0 || upper < profileBins-1) {
		var above, below float64 = -1, -1
		if upper < profileBins-1 {
			above = volumes[upper+1]
		}
		if lower > 0 {
			below = volumes[lower-1]
		}

		if above >= below {
			upper++
			captured += above
		} else {
			lower--
			captured += below
		}
	}

	binPrice := func(bin int) float64 {
		return low + (float64(bin)+0.5)*binSize
	}

	return &shared.VolumeProfile{
		POC:         binPrice(poc),
		VAH:         low + float64(upper+1)*binSize,
		VAL:         low + float64(lower)*binSize,
		TotalVolume: totalVolume,
		BinSize:     binSize,
		Bins:        profileBins,
	}
}
