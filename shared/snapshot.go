package shared

// PerTimeframeSnapshot represents the latest derivatives reading for one
// venue and timeframe. It is immutable once built.
type PerTimeframeSnapshot struct {
	Venue          Venue     `json:"venue"`
	Timeframe      Timeframe `json:"interval"`
	Price          float64   `json:"price"`
	PriceChangePct float64   `json:"priceChangePct"`
	OI             float64   `json:"oi"`
	OIChangePct    float64   `json:"oiChangePct"`
	Volume         float64   `json:"volume"`
	FundingAvgPct  float64   `json:"fundingRateAvgPct"`

	// Cumulative volume delta over the timeframe window, with the
	// reliability gates described by the windowing contract.
	CVD                     float64   `json:"cvd"`
	CVDDelta                float64   `json:"cvdDelta"`
	CVDNormalized           float64   `json:"cvdNormalized"`
	CVDResolution           Timeframe `json:"cvdResolution"`
	CVDRequestedTimeframe   Timeframe `json:"cvdRequestedTimeframe"`
	CVDWindowCandles        int       `json:"cvdWindowCandles"`
	CVDActualCandles        int       `json:"cvdActualCandles"`
	CVDDataComplete         bool      `json:"cvdDataComplete"`
	CVDMarketImpactReliable bool      `json:"cvdMarketImpactReliable"`
	CVDReliableForTf        bool      `json:"cvdReliableForTf"`
	CVDDataReason           string    `json:"cvdDataReason,omitempty"`
	CVDMarketReason         string    `json:"cvdMarketReason,omitempty"`
	CVDTotalVolume          float64   `json:"cvdTotalVolume"`
	CVDAvgVolumePerCandle   float64   `json:"cvdAvgVolumePerCandle"`

	Stale      bool    `json:"stale"`
	AgeMinutes float64 `json:"ageMinutes"`
}

// LookbackHistory holds the ordered lookback series for one venue and
// timeframe. All series are sorted ascending by timestamp.
type LookbackHistory struct {
	Price   []Candle      `json:"priceHistory"`
	OI      []SeriesPoint `json:"oiHistory"`
	Funding []SeriesPoint `json:"fundingHistory"`
}

// VenueSnapshot groups the per-timeframe snapshots of one venue.
type VenueSnapshot struct {
	Venue      Venue                               `json:"venue"`
	Timeframes map[Timeframe]*PerTimeframeSnapshot `json:"timeframes"`
}

// Snapshot returns the snapshot of the provided timeframe, or nil.
func (v *VenueSnapshot) Snapshot(timeframe Timeframe) *PerTimeframeSnapshot {
	if v == nil {
		return nil
	}

	return v.Timeframes[timeframe]
}

// SnapshotMeta carries cycle-level metadata about a market snapshot.
type SnapshotMeta struct {
	PartialData bool     `json:"partialData"`
	AsOf        *int64   `json:"asOf,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// MarketSnapshot is one coherent pull of derivatives data across both venues
// and all tracked timeframes. A venue branch is nil when the venue failed
// entirely for the cycle.
type MarketSnapshot struct {
	Symbol    string                   `json:"symbol"`
	Timestamp int64                    `json:"timestamp"`
	Venues    map[Venue]*VenueSnapshot `json:"venues"`
	Meta      SnapshotMeta             `json:"_meta"`
}

// VenueSnapshotFor returns the venue branch of the snapshot, or nil.
func (m *MarketSnapshot) VenueSnapshotFor(venue Venue) *VenueSnapshot {
	if m == nil {
		return nil
	}

	return m.Venues[venue]
}

// TimeframeSnapshot returns the per-timeframe snapshot of the provided venue
// and timeframe, or nil when either branch is missing.
func (m *MarketSnapshot) TimeframeSnapshot(venue Venue, timeframe Timeframe) *PerTimeframeSnapshot {
	return m.VenueSnapshotFor(venue).Snapshot(timeframe)
}

// HistorySet groups lookback histories by venue and timeframe.
type HistorySet struct {
	Venues map[Venue]map[Timeframe]*LookbackHistory `json:"venues"`
}

// History returns the lookback history of the provided venue and timeframe,
// or nil.
func (h *HistorySet) History(venue Venue, timeframe Timeframe) *LookbackHistory {
	if h == nil {
		return nil
	}

	byTf := h.Venues[venue]
	if byTf == nil {
		return nil
	}

	return byTf[timeframe]
}
