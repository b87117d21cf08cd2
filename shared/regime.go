package shared

// Regime represents a named macro state of the market.
type Regime int

const (
	UnclearRegime Regime = iota
	Distribution
	Accumulation
	Trap
	Trending
	Covering
	Range
	UnknownRegime
)

// String stringifies the provided regime.
func (r Regime) String() string {
	switch r {
	case Distribution:
		return "distribution"
	case Accumulation:
		return "accumulation"
	case Trap:
		return "trap"
	case Trending:
		return "trending"
	case Covering:
		return "covering"
	case Range:
		return "range"
	case UnclearRegime:
		return "unclear"
	default:
		return "unknown"
	}
}

// MarshalText encodes the regime for json payloads.
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a persisted regime. Unknown values map to
// UnknownRegime, never silently to a tracked regime.
func (r *Regime) UnmarshalText(data []byte) error {
	*r = ParseRegime(string(data))
	return nil
}

// ParseRegime parses a regime from its string form.
func ParseRegime(str string) Regime {
	switch str {
	case "distribution":
		return Distribution
	case "accumulation":
		return Accumulation
	case "trap":
		return Trap
	case "trending":
		return Trending
	case "covering":
		return Covering
	case "range":
		return Range
	case "unclear":
		return UnclearRegime
	default:
		return UnknownRegime
	}
}

// Subtype refines a regime to its concrete state.
type Subtype int

const (
	MixedSignals Subtype = iota
	WhaleExit
	WhaleEntry
	LongTrap
	ShortTrap
	HealthyBull
	HealthyBear
	LongSqueeze
	ShortSqueeze
	Chop
	UnknownSubtype
)

// String stringifies the provided subtype.
func (s Subtype) String() string {
	switch s {
	case WhaleExit:
		return "whale_exit"
	case WhaleEntry:
		return "whale_entry"
	case LongTrap:
		return "long_trap"
	case ShortTrap:
		return "short_trap"
	case HealthyBull:
		return "healthy_bull"
	case HealthyBear:
		return "healthy_bear"
	case LongSqueeze:
		return "long_squeeze"
	case ShortSqueeze:
		return "short_squeeze"
	case Chop:
		return "chop"
	case MixedSignals:
		return "mixed_signals"
	default:
		return "unknown"
	}
}

// MarshalText encodes the subtype for json payloads.
func (s Subtype) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a persisted subtype. Unknown values map to
// UnknownSubtype.
func (s *Subtype) UnmarshalText(data []byte) error {
	*s = ParseSubtype(string(data))
	return nil
}

// ParseSubtype parses a subtype from its string form.
func ParseSubtype(str string) Subtype {
	switch str {
	case "whale_exit":
		return WhaleExit
	case "whale_entry":
		return WhaleEntry
	case "long_trap":
		return LongTrap
	case "short_trap":
		return ShortTrap
	case "healthy_bull":
		return HealthyBull
	case "healthy_bear":
		return HealthyBear
	case "long_squeeze":
		return LongSqueeze
	case "short_squeeze":
		return ShortSqueeze
	case "chop":
		return Chop
	case "mixed_signals":
		return MixedSignals
	default:
		return UnknownSubtype
	}
}

// Regime returns the regime the subtype belongs to.
func (s Subtype) Regime() Regime {
	switch s {
	case WhaleExit:
		return Distribution
	case WhaleEntry:
		return Accumulation
	case LongTrap, ShortTrap:
		return Trap
	case HealthyBull, HealthyBear:
		return Trending
	case LongSqueeze, ShortSqueeze:
		return Covering
	case Chop:
		return Range
	case MixedSignals:
		return UnclearRegime
	default:
		return UnknownRegime
	}
}

// Scenario represents an exchange divergence scenario between the two venues.
type Scenario int

const (
	UnclearScenario Scenario = iota
	WhaleDistribution
	WhaleAccumulation
	RetailFomoRally
	ShortSqueezeSetup
	WhaleHedging
	SynchronizedBullish
	SynchronizedBearish
	BybitLeading
	BinanceNoise
	UnknownScenario
)

// String stringifies the provided scenario.
func (s Scenario) String() string {
	switch s {
	case WhaleDistribution:
		return "whale_distribution"
	case WhaleAccumulation:
		return "whale_accumulation"
	case RetailFomoRally:
		return "retail_fomo_rally"
	case ShortSqueezeSetup:
		return "short_squeeze_setup"
	case WhaleHedging:
		return "whale_hedging"
	case SynchronizedBullish:
		return "synchronized_bullish"
	case SynchronizedBearish:
		return "synchronized_bearish"
	case BybitLeading:
		return "bybit_leading"
	case BinanceNoise:
		return "binance_noise"
	case UnclearScenario:
		return "unclear"
	default:
		return "unknown"
	}
}

// MarshalText encodes the scenario for json payloads.
func (s Scenario) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Synchronized reports whether the scenario is a synchronized two-venue move.
func (s Scenario) Synchronized() bool {
	return s == SynchronizedBullish || s == SynchronizedBearish
}
