package shared

// Bias represents the engine's directional verdict.
type Bias int

const (
	Wait Bias = iota
	Long
	Short
	UnknownBias
)

// String stringifies the provided bias.
func (b Bias) String() string {
	switch b {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	case Wait:
		return "WAIT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the bias for json payloads.
func (b Bias) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a persisted bias. Unknown values map to UnknownBias.
func (b *Bias) UnmarshalText(data []byte) error {
	*b = ParseBias(string(data))
	return nil
}

// ParseBias parses a bias from its string form.
func ParseBias(str string) Bias {
	switch str {
	case "LONG":
		return Long
	case "SHORT":
		return Short
	case "WAIT":
		return Wait
	default:
		return UnknownBias
	}
}

// Opposes reports whether the two biases are in direct directional conflict.
func (b Bias) Opposes(other Bias) bool {
	return (b == Long && other == Short) || (b == Short && other == Long)
}

// Lean represents a directional reading with strength, produced by the
// exchange divergence scenarios.
type Lean int

const (
	LeanNeutral Lean = iota
	LeanLong
	LeanStrongLong
	LeanShort
	LeanStrongShort
)

// String stringifies the provided lean.
func (l Lean) String() string {
	switch l {
	case LeanLong:
		return "LONG"
	case LeanStrongLong:
		return "STRONG_LONG"
	case LeanShort:
		return "SHORT"
	case LeanStrongShort:
		return "STRONG_SHORT"
	default:
		return "NEUTRAL"
	}
}

// MarshalText encodes the lean for json payloads.
func (l Lean) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Bias collapses the lean to a directional bias.
func (l Lean) Bias() Bias {
	switch l {
	case LeanLong, LeanStrongLong:
		return Long
	case LeanShort, LeanStrongShort:
		return Short
	default:
		return Wait
	}
}

// TradeStance represents the actionable stance derived from a decision.
type TradeStance int

const (
	AvoidTrading TradeStance = iota
	LookForLongs
	LookForShorts
	UnknownTradeStance
)

// String stringifies the provided trade stance.
func (s TradeStance) String() string {
	switch s {
	case LookForLongs:
		return "LOOK_FOR_LONGS"
	case LookForShorts:
		return "LOOK_FOR_SHORTS"
	case AvoidTrading:
		return "AVOID_TRADING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the trade stance for json payloads.
func (s TradeStance) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseTradeStance parses a trade stance from its string form.
func ParseTradeStance(str string) TradeStance {
	switch str {
	case "LOOK_FOR_LONGS":
		return LookForLongs
	case "LOOK_FOR_SHORTS":
		return LookForShorts
	case "AVOID_TRADING":
		return AvoidTrading
	default:
		return UnknownTradeStance
	}
}

// RiskMode represents the risk posture attached to a decision.
type RiskMode int

const (
	NormalRisk RiskMode = iota
	DefensiveRisk
	AggressiveRisk
	UnknownRiskMode
)

// String stringifies the provided risk mode.
func (r RiskMode) String() string {
	switch r {
	case NormalRisk:
		return "NORMAL"
	case DefensiveRisk:
		return "DEFENSIVE"
	case AggressiveRisk:
		return "AGGRESSIVE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the risk mode for json payloads.
func (r RiskMode) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ConfidenceType labels which confidence scale a decision reports.
type ConfidenceType int

const (
	DirectionConfidence ConfidenceType = iota
	NoTradeConfidence
)

// String stringifies the provided confidence type.
func (c ConfidenceType) String() string {
	switch c {
	case NoTradeConfidence:
		return "noTradeConfidence"
	default:
		return "directionConfidence"
	}
}

// MarshalText encodes the confidence type for json payloads.
func (c ConfidenceType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// BucketBias represents the consensus direction of a timeframe bucket.
type BucketBias int

const (
	NeutralBucket BucketBias = iota
	BullishBucket
	BearishBucket
)

// String stringifies the provided bucket bias.
func (b BucketBias) String() string {
	switch b {
	case BullishBucket:
		return "BULLISH"
	case BearishBucket:
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

// MarshalText encodes the bucket bias for json payloads.
func (b BucketBias) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Bias collapses the bucket bias to a directional bias.
func (b BucketBias) Bias() Bias {
	switch b {
	case BullishBucket:
		return Long
	case BearishBucket:
		return Short
	default:
		return Wait
	}
}
