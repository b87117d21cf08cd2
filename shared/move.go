package shared

// Direction represents the direction of a classified move.
type Direction int

const (
	Flat Direction = iota
	Up
	Down
)

// String stringifies the provided direction.
func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "FLAT"
	}
}

// MarshalText encodes the direction for json payloads.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Strength represents the magnitude class of a move.
type Strength int

const (
	NoiseStrength Strength = iota
	NormalStrength
	StrongStrength
)

// String stringifies the provided strength.
func (s Strength) String() string {
	switch s {
	case NormalStrength:
		return "normal"
	case StrongStrength:
		return "strong"
	default:
		return "noise"
	}
}

// MarshalText encodes the strength for json payloads.
func (s Strength) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PriceMove is a classified price change.
type PriceMove struct {
	Direction Direction `json:"direction"`
	Strength  Strength  `json:"strength"`
	ChangePct float64   `json:"changePct"`
}

// OiStrength represents the magnitude class of an open interest change.
type OiStrength int

const (
	QuietOi OiStrength = iota
	NormalOi
	AggressiveOi
)

// String stringifies the provided oi strength.
func (s OiStrength) String() string {
	switch s {
	case NormalOi:
		return "normal"
	case AggressiveOi:
		return "aggressive"
	default:
		return "quiet"
	}
}

// MarshalText encodes the oi strength for json payloads.
func (s OiStrength) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OiMove is a classified open interest change.
type OiMove struct {
	Direction Direction  `json:"direction"`
	Strength  OiStrength `json:"strength"`
	ChangePct float64    `json:"changePct"`
}

// FundingLevel represents the crowding class of a funding rate.
type FundingLevel int

const (
	NormalFunding FundingLevel = iota
	LowFunding
	CriticalLowFunding
	HighFunding
	CriticalHighFunding
)

// String stringifies the provided funding level.
func (f FundingLevel) String() string {
	switch f {
	case LowFunding:
		return "low"
	case CriticalLowFunding:
		return "critical_low"
	case HighFunding:
		return "high"
	case CriticalHighFunding:
		return "critical_high"
	default:
		return "normal"
	}
}

// MarshalText encodes the funding level for json payloads.
func (f FundingLevel) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Extreme reports whether the funding level is at a critical extreme.
func (f FundingLevel) Extreme() bool {
	return f == CriticalLowFunding || f == CriticalHighFunding
}

// FundingState is a classified funding reading.
type FundingState struct {
	Level  FundingLevel `json:"level"`
	Bias   Bias         `json:"bias"`
	Rate   float64      `json:"rate"`
	ZScore float64      `json:"zScore"`
}

// DataQuality labels how complete the inputs behind a market state were.
type DataQuality int

const (
	FullQuality DataQuality = iota
	PartialQuality
	DegradedQuality
)

// String stringifies the provided data quality.
func (d DataQuality) String() string {
	switch d {
	case PartialQuality:
		return "partial"
	case DegradedQuality:
		return "degraded"
	default:
		return "full"
	}
}

// MarshalText encodes the data quality for json payloads.
func (d DataQuality) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
