package shared

import (
	"fmt"
	"time"
)

// Timeframe represents the market data time period.
type Timeframe int

const (
	ThirtyMinute Timeframe = iota
	OneHour
	FourHour
	OneDay
	UnknownTimeframe
)

// AllTimeframes lists the tracked timeframes in ascending order.
var AllTimeframes = []Timeframe{ThirtyMinute, OneHour, FourHour, OneDay}

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	switch t {
	case ThirtyMinute:
		return "30m"
	case OneHour:
		return "1h"
	case FourHour:
		return "4h"
	case OneDay:
		return "1d"
	default:
		return "unknown"
	}
}

// ParseTimeframe parses a timeframe from its string form. Unknown values map
// to UnknownTimeframe, never to a tracked timeframe.
func ParseTimeframe(str string) Timeframe {
	switch str {
	case "30m":
		return ThirtyMinute
	case "1h":
		return OneHour
	case "4h":
		return FourHour
	case "1d", "24h":
		return OneDay
	default:
		return UnknownTimeframe
	}
}

// Duration returns the length of one candle of the timeframe.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case ThirtyMinute:
		return time.Minute * 30
	case OneHour:
		return time.Hour
	case FourHour:
		return time.Hour * 4
	case OneDay:
		return time.Hour * 24
	default:
		return 0
	}
}

// Milliseconds returns the length of one candle of the timeframe in
// milliseconds.
func (t Timeframe) Milliseconds() int64 {
	return t.Duration().Milliseconds()
}

// IsScalping reports whether the timeframe belongs to the scalping set.
func (t Timeframe) IsScalping() bool {
	return t == ThirtyMinute || t == OneHour
}

// AlignToLastClosed floors the provided millisecond timestamp to the open of
// the last fully closed candle of the timeframe. A still-forming candle is
// never visible past this boundary.
func (t Timeframe) AlignToLastClosed(unixMs int64) (int64, error) {
	intervalMs := t.Milliseconds()
	if intervalMs == 0 {
		return 0, fmt.Errorf("aligning timestamp: unknown timeframe %d", int(t))
	}

	return (unixMs / intervalMs) * intervalMs, nil
}

// TimeBucket floors the provided millisecond timestamp to the provided scan
// cycle, used to deduplicate persisted states.
func TimeBucket(unixMs int64, scanCycleMs int64) int64 {
	if scanCycleMs <= 0 {
		return unixMs
	}

	return (unixMs / scanCycleMs) * scanCycleMs
}
