package shared

// Trend represents the technical trend direction.
type Trend int

const (
	SidewaysTrend Trend = iota
	UpTrend
	DownTrend
)

// String stringifies the provided trend.
func (t Trend) String() string {
	switch t {
	case UpTrend:
		return "up"
	case DownTrend:
		return "down"
	default:
		return "sideways"
	}
}

// MarshalText encodes the trend for json payloads.
func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// BosKind represents a break of structure classification.
type BosKind int

const (
	NoBos BosKind = iota
	BullishBos
	BearishBos
)

// String stringifies the provided break of structure kind.
func (b BosKind) String() string {
	switch b {
	case BullishBos:
		return "bullish_bos"
	case BearishBos:
		return "bearish_bos"
	default:
		return "none"
	}
}

// MarshalText encodes the break of structure kind for json payloads.
func (b BosKind) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// VolumeDominance labels which venue dominates taker volume.
type VolumeDominance int

const (
	BalancedVolume VolumeDominance = iota
	WhaleVolume
	RetailVolume
)

// String stringifies the provided volume dominance.
func (v VolumeDominance) String() string {
	switch v {
	case WhaleVolume:
		return "whale"
	case RetailVolume:
		return "retail"
	default:
		return "balanced"
	}
}

// MarshalText encodes the volume dominance for json payloads.
func (v VolumeDominance) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// DivergenceResult is the outcome of the exchange divergence scenario ladder
// for one timeframe.
type DivergenceResult struct {
	Scenario         Scenario        `json:"scenario"`
	Lean             Lean            `json:"bias"`
	Confidence       float64         `json:"confidence"`
	Warnings         []string        `json:"warnings,omitempty"`
	WhaleRetailRatio float64         `json:"whaleRetailRatio"`
	RatioReliable    bool            `json:"ratioReliable"`
	Dominance        VolumeDominance `json:"volumeDominance"`
	BinanceVolumePct float64         `json:"binanceVolumePct"`
}

// RegimeResult is the outcome of regime detection for one timeframe.
type RegimeResult struct {
	Regime     Regime   `json:"regime"`
	Subtype    Subtype  `json:"subtype"`
	Bias       Bias     `json:"bias"`
	Confidence float64  `json:"confidence"`
	MetCount   int      `json:"metCount"`
	Conditions int      `json:"conditions"`
	Reasons    []string `json:"reasons,omitempty"`
}

// TechnicalFeatures holds indicator readings over closed-candle closes.
type TechnicalFeatures struct {
	LastClose       float64 `json:"lastClose"`
	EMA20           float64 `json:"ema20"`
	EMA50           float64 `json:"ema50"`
	SMA20           float64 `json:"sma20"`
	Slope20         float64 `json:"slope20"`
	NormalizedSlope float64 `json:"normalizedSlope"`
	Trend           Trend   `json:"trend"`
	RealizedVol     float64 `json:"realizedVol"`
	MaxDrawdownPct  float64 `json:"maxDrawdownPct"`
	ZScore          float64 `json:"zScore"`
}

// FundingFeatures holds classified funding readings for one timeframe.
type FundingFeatures struct {
	State        FundingState `json:"state"`
	AvgRatePct   float64      `json:"avgRatePct"`
	PainIndexUSD float64      `json:"painIndexUsd"`
}

// OIFeatures holds classified open interest readings across venues.
type OIFeatures struct {
	Binance    OiMove  `json:"binance"`
	Bybit      OiMove  `json:"bybit"`
	BybitOiUSD float64 `json:"bybitOiUsd"`
	DeltaPct   float64 `json:"deltaPct"`
}

// VolumeProfile holds the point of control and value area for a lookback
// window.
type VolumeProfile struct {
	POC         float64 `json:"poc"`
	VAH         float64 `json:"vah"`
	VAL         float64 `json:"val"`
	TotalVolume float64 `json:"totalVolume"`
	BinSize     float64 `json:"binSize"`
	Bins        int     `json:"bins"`
}

// SwingPoint represents a fractal swing high or low.
type SwingPoint struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	High      bool    `json:"high"`
}

// Structure holds swing structure readings for one timeframe.
type Structure struct {
	SwingHighs []SwingPoint `json:"swingHighs,omitempty"`
	SwingLows  []SwingPoint `json:"swingLows,omitempty"`
	Support    float64      `json:"support"`
	Resistance float64      `json:"resistance"`
	Bos        BosKind      `json:"bos"`
}

// Scores holds the three-sided decision scores, each on a 0-10 scale.
type Scores struct {
	Long  float64 `json:"long"`
	Short float64 `json:"short"`
	Wait  float64 `json:"wait"`
}

// Signal is one weighted contributor to a decision.
type Signal struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
	Bias       Bias    `json:"bias"`
	Excluded   bool    `json:"excluded,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// MacroOverride records a macro anchoring override of the aggregated bias.
type MacroOverride struct {
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason"`
}

// Decision is the engine's verdict for a timeframe or for the aggregate.
type Decision struct {
	Bias           Bias           `json:"bias"`
	Confidence     float64        `json:"confidence"`
	ConfidenceType ConfidenceType `json:"confidenceType"`
	Scores         Scores         `json:"scores"`
	Signals        []Signal       `json:"signals"`
	Reasoning      []string       `json:"reasoning"`
	TradeStance    TradeStance    `json:"tradeStance"`
	PrimaryRegime  Regime         `json:"primaryRegime"`
	RiskMode       RiskMode       `json:"riskMode"`
	MacroAnchored  bool           `json:"macroAnchored"`
	Warning        string         `json:"warning,omitempty"`
	MacroOverride  *MacroOverride `json:"macroOverride,omitempty"`
}

// TimeframeMetrics groups all derived features of one timeframe.
type TimeframeMetrics struct {
	Timeframe          Timeframe          `json:"timeframe"`
	ExchangeDivergence *DivergenceResult  `json:"exchangeDivergence"`
	MarketRegime       *RegimeResult      `json:"marketRegime"`
	Technical          *TechnicalFeatures `json:"technical"`
	FundingAdvanced    *FundingFeatures   `json:"fundingAdvanced"`
	OIAdvanced         *OIFeatures        `json:"oiAdvanced"`
	VolumeProfile      *VolumeProfile     `json:"volumeProfile"`
	Structure          *Structure         `json:"structure"`
	FinalDecision      *Decision          `json:"finalDecision"`
}

// BucketName identifies a timeframe bucket.
type BucketName int

const (
	MacroBucket BucketName = iota
	MicroBucket
	ScalpingBucket
)

// String stringifies the provided bucket name.
func (b BucketName) String() string {
	switch b {
	case MacroBucket:
		return "MACRO"
	case MicroBucket:
		return "MICRO"
	default:
		return "SCALPING"
	}
}

// MarshalText encodes the bucket name for json payloads.
func (b BucketName) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// TimeframeBucket aggregates a small set of adjacent timeframes.
type TimeframeBucket struct {
	Name        BucketName  `json:"name"`
	Members     []Timeframe `json:"members"`
	Bias        BucketBias  `json:"bias"`
	Confidence  float64     `json:"confidence"`
	AvgScores   Scores      `json:"avgScores"`
	TradeStance TradeStance `json:"tradeStance"`
	Summary     string      `json:"summary"`
	Bullets     []string    `json:"bullets,omitempty"`
}

// TimeframeBuckets groups the three standard buckets.
type TimeframeBuckets struct {
	Macro    *TimeframeBucket `json:"macro"`
	Micro    *TimeframeBucket `json:"micro"`
	Scalping *TimeframeBucket `json:"scalping"`
}

// OutcomeLabel classifies how price resolved after a state was emitted.
type OutcomeLabel int

const (
	PendingOutcome OutcomeLabel = iota
	Continuation
	Reversal
	Noise
	UnknownOutcome
)

// String stringifies the provided outcome label.
func (o OutcomeLabel) String() string {
	switch o {
	case Continuation:
		return "CONTINUATION"
	case Reversal:
		return "REVERSAL"
	case Noise:
		return "NOISE"
	case PendingOutcome:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the outcome label for json payloads.
func (o OutcomeLabel) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ParseOutcomeLabel parses an outcome label from its string form.
func ParseOutcomeLabel(str string) OutcomeLabel {
	switch str {
	case "CONTINUATION":
		return Continuation
	case "REVERSAL":
		return Reversal
	case "NOISE":
		return Noise
	case "PENDING":
		return PendingOutcome
	default:
		return UnknownOutcome
	}
}

// Outcome records how a state's verdict resolved after its horizon expired.
// It is written exactly once per state by the labeling job.
type Outcome struct {
	Label        OutcomeLabel `json:"label"`
	Reason       string       `json:"reason"`
	HorizonHours int          `json:"horizon"`
	FinalPrice   float64      `json:"finalPrice"`
	FinalMovePct float64      `json:"finalMovePct"`
	MFE          float64      `json:"mfe"`
	MAE          float64      `json:"mae"`
	LabeledAt    int64        `json:"labeledAt"`
}

// MarketState is the engine's full output for one scan cycle. Its json form
// is the stable contract with the ui, the llm explanation layer and alert
// distributors.
type MarketState struct {
	ID               string             `json:"id,omitempty"`
	Timestamp        int64              `json:"timestamp"`
	Symbol           string             `json:"symbol"`
	PrimaryTimeframe Timeframe          `json:"primaryTimeframe"`
	FinalDecision    *Decision          `json:"finalDecision"`

	// Primary timeframe features, mirrored at the top level.
	ExchangeDivergence *DivergenceResult  `json:"exchangeDivergence"`
	MarketRegime       *RegimeResult      `json:"marketRegime"`
	Technical          *TechnicalFeatures `json:"technical"`
	FundingAdvanced    *FundingFeatures   `json:"fundingAdvanced"`
	OIAdvanced         *OIFeatures        `json:"oiAdvanced"`
	VolumeProfile      *VolumeProfile     `json:"volumeProfile"`
	Structure          *Structure         `json:"structure"`

	Timeframes       []TimeframeMetrics `json:"timeframes"`
	TimeframeBuckets *TimeframeBuckets  `json:"timeframeBuckets"`
	Raw              *MarketSnapshot    `json:"raw,omitempty"`
	DataQuality      DataQuality        `json:"dataQuality"`
	Warnings         []string           `json:"warnings,omitempty"`
	OutcomeLabel     *Outcome           `json:"outcomeLabel,omitempty"`
}

// Metrics returns the timeframe metrics of the provided timeframe, or nil.
func (m *MarketState) Metrics(timeframe Timeframe) *TimeframeMetrics {
	for idx := range m.Timeframes {
		if m.Timeframes[idx].Timeframe == timeframe {
			return &m.Timeframes[idx]
		}
	}

	return nil
}

// Price returns the primary timeframe price of the state, preferring the
// binance branch of the raw snapshot.
func (m *MarketState) Price() float64 {
	if m.Raw == nil {
		return 0
	}

	for _, venue := range AllVenues {
		snapshot := m.Raw.TimeframeSnapshot(venue, m.PrimaryTimeframe)
		if snapshot != nil && snapshot.Price > 0 {
			return snapshot.Price
		}
	}

	return 0
}
