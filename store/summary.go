package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/vigil/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
)

// dayLayout formats the daily summary key.
const dayLayout = "2006-01-02"

// DailySummary aggregates one utc day of states, alerts and price action.
type DailySummary struct {
	Day                string             `json:"day"`
	Symbol             string             `json:"symbol"`
	States             int                `json:"states"`
	AvgConfidence      float64            `json:"avgConfidence"`
	PredominantBias    string             `json:"predominantBias"`
	BiasCounts         map[string]int     `json:"biasCounts"`
	BiasPcts           map[string]float64 `json:"biasPcts"`
	RegimeDistribution map[string]int     `json:"regimeDistribution"`
	AlertCounts        map[string]int     `json:"alertCounts"`
	HighPriorityAlerts int                `json:"highPriorityAlerts"`
	Open               float64            `json:"open"`
	High               float64            `json:"high"`
	Low                float64            `json:"low"`
	Close              float64            `json:"close"`
	GeneratedAt        int64              `json:"generatedAt"`
}

// LabelStats aggregates outcome labels across all labeled states, broken
// down by the bias that was held.
type LabelStats struct {
	Total   int                       `json:"total"`
	ByLabel map[string]int            `json:"byLabel"`
	ByBias  map[string]map[string]int `json:"byBias"`
}

// BuildDailySummary aggregates the states, alerts and candles of the utc day
// holding the provided time and persists the result. Rebuilding a day
// overwrites it.
func (s *Store) BuildDailySummary(ctx context.Context, day time.Time, symbol string,
	candles []shared.Candle) (*DailySummary, error) {
	start := day.UTC().Truncate(time.Hour * 24)
	end := start.Add(time.Hour * 24)

	summary := &DailySummary{
		Day:                start.Format(dayLayout),
		Symbol:             symbol,
		BiasCounts:         make(map[string]int),
		BiasPcts:           make(map[string]float64),
		RegimeDistribution: make(map[string]int),
		AlertCounts:        make(map[string]int),
		GeneratedAt:        time.Now().UnixMilli(),
	}

	resp, err := s.client.QuerySingle(ctx, summaryStatsSQL, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, &shared.StorageError{Op: "summary state stats", Message: err.Error()}
	}
	results := resp.GetQueryResultsAssoc()
	if len(results) > 0 {
		var confidenceSum float64
		for _, row := range results[0].Rows {
			count := int(rowFloat(row, "count"))
			summary.BiasCounts[rowString(row, "bias")] = count
			summary.States += count
			confidenceSum += rowFloat(row, "avgconfidence") * float64(count)
		}
		if summary.States > 0 {
			summary.AvgConfidence = confidenceSum / float64(summary.States)
		}
	}
	summary.finalizeBiasStats()

	resp, err = s.client.QuerySingle(ctx, summaryRegimesSQL, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, &shared.StorageError{Op: "summary regime stats", Message: err.Error()}
	}
	results = resp.GetQueryResultsAssoc()
	if len(results) > 0 {
		for _, row := range results[0].Rows {
			summary.RegimeDistribution[rowString(row, "regime")] = int(rowFloat(row, "count"))
		}
	}

	resp, err = s.client.QuerySingle(ctx, summaryAlertsSQL, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, &shared.StorageError{Op: "summary alert stats", Message: err.Error()}
	}
	results = resp.GetQueryResultsAssoc()
	if len(results) > 0 {
		for _, row := range results[0].Rows {
			summary.AlertCounts[rowString(row, "category")] = int(rowFloat(row, "count"))
		}
	}

	resp, err = s.client.QuerySingle(ctx, summaryHighAlertsSQL, start.UnixMilli(), end.UnixMilli(),
		shared.HighPriority.String(), shared.CriticalPriority.String())
	if err != nil {
		return nil, &shared.StorageError{Op: "summary high alert stats", Message: err.Error()}
	}
	results = resp.GetQueryResultsAssoc()
	if len(results) > 0 && len(results[0].Rows) > 0 {
		summary.HighPriorityAlerts = int(rowFloat(results[0].Rows[0], "count"))
	}

	summary.Open, summary.High, summary.Low, summary.Close = dayRange(candles)

	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshaling daily summary: %w", err)
	}

	execResp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL:              persistSummarySQL,
			PositionalParams: []any{summary.Day, summary.GeneratedAt, string(payload)},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return nil, &shared.StorageError{Op: "save daily summary", Message: err.Error()}
	}
	has, idx, errStr := execResp.HasError()
	if has {
		return nil, &shared.StorageError{Op: "save daily summary",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return summary, nil
}

// DailySummaryFor returns the stored summary of the provided day, or nil.
func (s *Store) DailySummaryFor(ctx context.Context, day time.Time) (*DailySummary, error) {
	resp, err := s.client.QuerySingle(ctx, findSummarySQL, day.UTC().Format(dayLayout))
	if err != nil {
		return nil, &shared.StorageError{Op: "find daily summary", Message: err.Error()}
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return nil, nil
	}

	var summary DailySummary
	err = json.Unmarshal([]byte(rowString(results[0].Rows[0], "payload")), &summary)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling daily summary: %w", err)
	}

	return &summary, nil
}

// finalizeBiasStats derives the bias shares and the predominant bias from the
// counted states.
func (s *DailySummary) finalizeBiasStats() {
	if s.States == 0 {
		return
	}

	for bias, count := range s.BiasCounts {
		s.BiasPcts[bias] = float64(count) / float64(s.States) * 100
	}
	s.PredominantBias = predominantBias(s.BiasCounts)
}

// predominantBias returns the most frequent bias of the day, ties resolved in
// declaration order.
func predominantBias(counts map[string]int) string {
	var best string
	var bestCount int
	for _, bias := range []shared.Bias{shared.Long, shared.Short, shared.Wait} {
		if counts[bias.String()] > bestCount {
			best = bias.String()
			bestCount = counts[bias.String()]
		}
	}

	return best
}

// dayRange collapses the day's candles to their combined ohlc.
func dayRange(candles []shared.Candle) (float64, float64, float64, float64) {
	if len(candles) == 0 {
		return 0, 0, 0, 0
	}

	open := candles[0].Open
	closePrice := candles[len(candles)-1].Close
	high := candles[0].High
	low := candles[0].Low
	for idx := range candles {
		if candles[idx].High > high {
			high = candles[idx].High
		}
		if candles[idx].Low < low {
			low = candles[idx].Low
		}
	}

	return open, high, low, closePrice
}

// LabelStatistics aggregates outcome labels across all labeled states.
func (s *Store) LabelStatistics(ctx context.Context) (*LabelStats, error) {
	resp, err := s.client.QuerySingle(ctx, labelStatsSQL)
	if err != nil {
		return nil, &shared.StorageError{Op: "label statistics", Message: err.Error()}
	}

	stats := &LabelStats{
		ByLabel: make(map[string]int),
		ByBias:  make(map[string]map[string]int),
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return stats, nil
	}

	for _, row := range results[0].Rows {
		bias := rowString(row, "bias")
		label := rowString(row, "outcome")
		count := int(rowFloat(row, "count"))
		if bias == "" || label == "" {
			s.cfg.Logger.Error().Msgf("unexpected label statistics row: %s", spew.Sdump(row))
			continue
		}

		stats.Total += count
		stats.ByLabel[label] += count
		if stats.ByBias[bias] == nil {
			stats.ByBias[bias] = make(map[string]int)
		}
		stats.ByBias[bias][label] += count
	}

	return stats, nil
}
