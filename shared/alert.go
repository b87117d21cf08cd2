package shared

// AlertCategory identifies the event class an alert belongs to.
type AlertCategory int

const (
	BiasShift AlertCategory = iota
	RegimeChange
	ConfidenceSpike
	TrapDetected
	SqueezeActive
	FundingExtreme
	UnknownCategory
)

// AllAlertCategories lists the tracked alert categories.
var AllAlertCategories = []AlertCategory{
	BiasShift, RegimeChange, ConfidenceSpike, TrapDetected, SqueezeActive, FundingExtreme,
}

// String stringifies the provided alert category.
func (c AlertCategory) String() string {
	switch c {
	case BiasShift:
		return "BIAS_SHIFT"
	case RegimeChange:
		return "REGIME_CHANGE"
	case ConfidenceSpike:
		return "CONFIDENCE_SPIKE"
	case TrapDetected:
		return "TRAP_DETECTED"
	case SqueezeActive:
		return "SQUEEZE_ACTIVE"
	case FundingExtreme:
		return "FUNDING_EXTREME"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the alert category for json payloads.
func (c AlertCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseAlertCategory parses an alert category from its string form. Unknown
// values map to UnknownCategory.
func ParseAlertCategory(str string) AlertCategory {
	switch str {
	case "BIAS_SHIFT":
		return BiasShift
	case "REGIME_CHANGE":
		return RegimeChange
	case "CONFIDENCE_SPIKE":
		return ConfidenceSpike
	case "TRAP_DETECTED":
		return TrapDetected
	case "SQUEEZE_ACTIVE":
		return SqueezeActive
	case "FUNDING_EXTREME":
		return FundingExtreme
	default:
		return UnknownCategory
	}
}

// Priority represents the urgency of an alert.
type Priority int

const (
	LowPriority Priority = iota
	MediumPriority
	HighPriority
	CriticalPriority
	UnknownPriority
)

// String stringifies the provided priority.
func (p Priority) String() string {
	switch p {
	case LowPriority:
		return "low"
	case MediumPriority:
		return "medium"
	case HighPriority:
		return "high"
	case CriticalPriority:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the priority for json payloads.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePriority parses a priority from its string form.
func ParsePriority(str string) Priority {
	switch str {
	case "low":
		return LowPriority
	case "medium":
		return MediumPriority
	case "high":
		return HighPriority
	case "critical":
		return CriticalPriority
	default:
		return UnknownPriority
	}
}

// AlertContext carries the before and after readings that triggered an alert.
type AlertContext struct {
	Previous     string `json:"previous"`
	Current      string `json:"current"`
	TriggerEvent string `json:"triggerEvent"`
}

// Alert represents one emitted market event.
type Alert struct {
	ID                string        `json:"id"`
	Timestamp         int64         `json:"timestamp"`
	Category          AlertCategory `json:"category"`
	Priority          Priority      `json:"priority"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	Context           AlertContext  `json:"context"`
	ActionableInsight string        `json:"actionableInsight"`
	ExpiresAt         int64         `json:"expiresAt"`
	MarketStateID     string        `json:"marketStateId,omitempty"`
	Acknowledged      bool          `json:"acknowledged"`
	AcknowledgedAt    *int64        `json:"acknowledgedAt,omitempty"`
}
