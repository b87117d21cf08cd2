package shared

// DefaultSymbol is the tracked perpetual futures asset.
const DefaultSymbol = "BTC"

// Venue represents a derivatives exchange supplying market data.
type Venue int

const (
	// Binance is the USDT-margined perpetual venue, dominated by retail flow.
	Binance Venue = iota
	// Bybit is the coin-margined perpetual venue, dominated by whale flow.
	Bybit
	UnknownVenue
)

// AllVenues lists the tracked venues in processing order.
var AllVenues = []Venue{Binance, Bybit}

// String stringifies the provided venue.
func (v Venue) String() string {
	switch v {
	case Binance:
		return "binance"
	case Bybit:
		return "bybit"
	default:
		return "unknown"
	}
}

// ParseVenue parses a venue from its string form. Unknown values map to
// UnknownVenue.
func ParseVenue(str string) Venue {
	switch str {
	case "binance":
		return Binance
	case "bybit":
		return Bybit
	default:
		return UnknownVenue
	}
}
