package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/google/uuid"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createStateTableSQL = "CREATE TABLE IF NOT EXISTS market_state (id TEXT PRIMARY KEY, " +
		"symbol TEXT, timestamp INTEGER, timebucket INTEGER, bias TEXT, confidence REAL, " +
		"regime TEXT, dataquality TEXT, outcome TEXT, payload TEXT, " +
		"UNIQUE (symbol, timebucket))"
	createAlertTableSQL = "CREATE TABLE IF NOT EXISTS alert (id TEXT PRIMARY KEY, " +
		"timestamp INTEGER, category TEXT, priority TEXT, acknowledged INTEGER, " +
		"acknowledgedon INTEGER, marketstateid TEXT, payload TEXT)"
	createSummaryTableSQL = "CREATE TABLE IF NOT EXISTS daily_summary (day TEXT PRIMARY KEY, " +
		"createdon INTEGER, payload TEXT)"

	persistStateSQL = "INSERT INTO market_state(id, symbol, timestamp, timebucket, bias, " +
		"confidence, regime, dataquality, outcome, payload) VALUES(?,?,?,?,?,?,?,?,?,?)"
	findStateByBucketSQL = "SELECT id FROM market_state WHERE symbol = ? AND timebucket = ?"
	findStateSQL         = "SELECT payload FROM market_state WHERE id = ?"
	recentStatesSQL      = "SELECT payload FROM market_state WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?"
	recentBucketsSQL     = "SELECT id, symbol, timebucket FROM market_state WHERE timestamp >= ?"
	pendingOutcomesSQL   = "SELECT payload FROM market_state WHERE outcome IS NULL AND timestamp <= ? LIMIT ?"
	setOutcomeSQL        = "UPDATE market_state SET outcome = ?, payload = ? WHERE id = ?"
	pruneStatesSQL       = "DELETE FROM market_state WHERE timestamp < ?"

	persistAlertSQL = "INSERT INTO alert(id, timestamp, category, priority, acknowledged, " +
		"acknowledgedon, marketstateid, payload) VALUES(?,?,?,?,?,?,?,?)"
	recentAlertsSQL     = "SELECT payload FROM alert WHERE timestamp >= ? ORDER BY timestamp DESC"
	acknowledgeAlertSQL = "UPDATE alert SET acknowledged = 1, acknowledgedon = ? WHERE id = ?"
	pruneAlertsSQL      = "DELETE FROM alert WHERE timestamp < ?"

	persistSummarySQL = "INSERT INTO daily_summary(day, createdon, payload) VALUES(?,?,?) " +
		"ON CONFLICT(day) DO UPDATE SET createdon = excluded.createdon, payload = excluded.payload"
	findSummarySQL   = "SELECT payload FROM daily_summary WHERE day = ?"
	pruneSummarySQL  = "DELETE FROM daily_summary WHERE createdon < ?"
	labelStatsSQL        = "SELECT bias, outcome, COUNT(*) AS count FROM market_state WHERE outcome IS NOT NULL GROUP BY bias, outcome"
	summaryStatsSQL      = "SELECT bias, COUNT(*) AS count, AVG(confidence) AS avgconfidence FROM market_state WHERE timestamp >= ? AND timestamp < ? GROUP BY bias"
	summaryRegimesSQL    = "SELECT regime, COUNT(*) AS count FROM market_state WHERE timestamp >= ? AND timestamp < ? GROUP BY regime"
	summaryAlertsSQL     = "SELECT category, COUNT(*) AS count FROM alert WHERE timestamp >= ? AND timestamp < ? GROUP BY category"
	summaryHighAlertsSQL = "SELECT COUNT(*) AS count FROM alert WHERE timestamp >= ? AND timestamp < ? AND (priority = ? OR priority = ?)"

	// dedupRetention is how long dedup entries are held in memory.
	dedupRetention = time.Hour
	// stateRetention is how long market states are kept.
	stateRetention = time.Hour * 24 * 90
	// alertRetention is how long alerts are kept.
	alertRetention = time.Hour * 24 * 90
	// summaryRetention is how long daily summaries are kept.
	summaryRetention = time.Hour * 24 * 730
)

// StoreConfig is the configuration for the state store.
type StoreConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// ScanCycle is the analysis cadence, which fixes the dedup time bucket.
	ScanCycle time.Duration
	// Logger is the store logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *StoreConfig) Validate() error {
	if cfg.ScanCycle <= 0 {
		return fmt.Errorf("scan cycle must be positive")
	}
	if cfg.Logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	return nil
}

// Store persists market states, alerts and daily summaries, with in-memory
// time-bucket deduplication of states.
type Store struct {
	cfg    *StoreConfig
	client *rqlitehttp.Client

	dedupMtx sync.Mutex
	dedup    map[string]dedupEntry
}

type dedupEntry struct {
	id       string
	recorded int64
}

// NewStore initializes a new state store.
func NewStore(ctx context.Context, cfg *StoreConfig) (*Store, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating state store config: %w", err)
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating state store client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	store := &Store{
		cfg:    cfg,
		client: client,
		dedup:  make(map[string]dedupEntry),
	}

	err = store.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping state store: %w", err)
	}

	err = store.rehydrateDedup(ctx)
	if err != nil {
		return nil, fmt.Errorf("rehydrating dedup cache: %w", err)
	}

	return store, nil
}

// bootstrap initializes the store tables.
func (s *Store) bootstrap(ctx context.Context) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createStateTableSQL},
		{SQL: createAlertTableSQL},
		{SQL: createSummaryTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// rehydrateDedup reloads recent state buckets so a restart inside a bucket
// does not duplicate its state.
func (s *Store) rehydrateDedup(ctx context.Context) error {
	cutoff := time.Now().Add(-dedupRetention).UnixMilli()
	resp, err := s.client.QuerySingle(ctx, recentBucketsSQL, cutoff)
	if err != nil {
		return err
	}

	s.dedupMtx.Lock()
	defer s.dedupMtx.Unlock()

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil
	}

	for _, row := range results[0].Rows {
		key := dedupKey(rowString(row, "symbol"), int64(rowFloat(row, "timebucket")))
		s.dedup[key] = dedupEntry{
			id:       rowString(row, "id"),
			recorded: time.Now().UnixMilli(),
		}
	}

	return nil
}

// dedupKey forms the dedup cache key of one symbol and time bucket.
func dedupKey(symbol string, bucket int64) string {
	return fmt.Sprintf("%s|%d", symbol, bucket)
}

// SaveState persists the provided state. A second save within the same time
// bucket is deduplicated and returns the already stored id.
func (s *Store) SaveState(ctx context.Context, state *shared.MarketState) (string, bool, error) {
	bucket := shared.TimeBucket(state.Timestamp, s.cfg.ScanCycle.Milliseconds())
	key := dedupKey(state.Symbol, bucket)

	s.dedupMtx.Lock()
	s.pruneDedupLocked()
	entry, exists := s.dedup[key]
	s.dedupMtx.Unlock()
	if exists {
		return entry.id, true, nil
	}

	// The cache can miss a bucket written by a prior process, the unique
	// constraint backstop is checked before inserting.
	resp, err := s.client.QuerySingle(ctx, findStateByBucketSQL, state.Symbol, bucket)
	if err != nil {
		return "", false, &shared.StorageError{Op: "find state bucket", Message: err.Error()}
	}
	results := resp.GetQueryResultsAssoc()
	if len(results) > 0 && len(results[0].Rows) > 0 {
		id := rowString(results[0].Rows[0], "id")
		s.recordDedup(key, id)
		return id, true, nil
	}

	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return "", false, fmt.Errorf("marshaling market state: %w", err)
	}

	var bias, regime string
	var confidence float64
	if state.FinalDecision != nil {
		bias = state.FinalDecision.Bias.String()
		confidence = state.FinalDecision.Confidence
	}
	if state.MarketRegime != nil {
		regime = state.MarketRegime.Regime.String()
	}

	execResp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistStateSQL,
			PositionalParams: []any{state.ID, state.Symbol, state.Timestamp, bucket, bias,
				confidence, regime, state.DataQuality.String(), nil, string(payload)},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return "", false, &shared.StorageError{Op: "save state", Message: err.Error()}
	}
	has, idx, errStr := execResp.HasError()
	if has {
		return "", false, &shared.StorageError{Op: "save state",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	s.recordDedup(key, state.ID)

	return state.ID, false, nil
}

// recordDedup stores a dedup entry.
func (s *Store) recordDedup(key, id string) {
	s.dedupMtx.Lock()
	s.dedup[key] = dedupEntry{id: id, recorded: time.Now().UnixMilli()}
	s.dedupMtx.Unlock()
}

// pruneDedupLocked drops dedup entries past retention. The dedup mutex must
// be held.
func (s *Store) pruneDedupLocked() {
	cutoff := time.Now().Add(-dedupRetention).UnixMilli()
	for key, entry := range s.dedup {
		if entry.recorded < cutoff {
			delete(s.dedup, key)
		}
	}
}

// State returns the stored state with the provided id, or nil.
func (s *Store) State(ctx context.Context, id string) (*shared.MarketState, error) {
	resp, err := s.client.QuerySingle(ctx, findStateSQL, id)
	if err != nil {
		return nil, &shared.StorageError{Op: "find state", Message: err.Error()}
	}

	states, err := parseStates(resp)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}

	return states[0], nil
}

// RecentStates returns the most recent states of the provided symbol, newest
// first.
func (s *Store) RecentStates(ctx context.Context, symbol string, limit int) ([]*shared.MarketState, error) {
	resp, err := s.client.QuerySingle(ctx, recentStatesSQL, symbol, limit)
	if err != nil {
		return nil, &shared.StorageError{Op: "recent states", Message: err.Error()}
	}

	return parseStates(resp)
}

// PendingOutcomeStates returns unlabeled states old enough to label.
func (s *Store) PendingOutcomeStates(ctx context.Context, cutoff int64, limit int) ([]*shared.MarketState, error) {
	resp, err := s.client.QuerySingle(ctx, pendingOutcomesSQL, cutoff, limit)
	if err != nil {
		return nil, &shared.StorageError{Op: "pending outcomes", Message: err.Error()}
	}

	return parseStates(resp)
}

// SaveOutcome attaches the provided outcome to its state. Labels are written
// once and never revised.
func (s *Store) SaveOutcome(ctx context.Context, state *shared.MarketState, outcome *shared.Outcome) error {
	state.OutcomeLabel = outcome
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling labeled state: %w", err)
	}

	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL:              setOutcomeSQL,
			PositionalParams: []any{outcome.Label.String(), string(payload), state.ID},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "save outcome", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "save outcome",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// SaveAlerts persists the provided alerts.
func (s *Store) SaveAlerts(ctx context.Context, alerts []shared.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	stmts := make(rqlitehttp.SQLStatements, 0, len(alerts))
	for idx := range alerts {
		alert := &alerts[idx]
		payload, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshaling alert: %w", err)
		}

		acknowledged := 0
		if alert.Acknowledged {
			acknowledged = 1
		}
		stmts = append(stmts, &rqlitehttp.SQLStatement{
			SQL: persistAlertSQL,
			PositionalParams: []any{alert.ID, alert.Timestamp, alert.Category.String(),
				alert.Priority.String(), acknowledged, nullableInt(alert.AcknowledgedAt),
				alert.MarketStateID, string(payload)},
		})
	}

	resp, err := s.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "save alerts", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "save alerts",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// RecentAlerts returns alerts emitted at or after the provided cutoff, newest
// first.
func (s *Store) RecentAlerts(ctx context.Context, cutoff int64) ([]shared.Alert, error) {
	resp, err := s.client.QuerySingle(ctx, recentAlertsSQL, cutoff)
	if err != nil {
		return nil, &shared.StorageError{Op: "recent alerts", Message: err.Error()}
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}

	alerts := make([]shared.Alert, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		var alert shared.Alert
		err = json.Unmarshal([]byte(rowString(row, "payload")), &alert)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	return alerts, nil
}

// AcknowledgeAlert marks the provided alert acknowledged.
func (s *Store) AcknowledgeAlert(ctx context.Context, id string, at time.Time) error {
	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: acknowledgeAlertSQL, PositionalParams: []any{at.UnixMilli(), id}},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "acknowledge alert", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "acknowledge alert",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// Cleanup prunes stored rows past their retention windows.
func (s *Store) Cleanup(ctx context.Context, now time.Time) error {
	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: pruneStatesSQL, PositionalParams: []any{now.Add(-stateRetention).UnixMilli()}},
		{SQL: pruneAlertsSQL, PositionalParams: []any{now.Add(-alertRetention).UnixMilli()}},
		{SQL: pruneSummarySQL, PositionalParams: []any{now.Add(-summaryRetention).UnixMilli()}},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "cleanup", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "cleanup",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// parseStates unmarshals state payload rows.
func parseStates(resp *rqlitehttp.QueryResponse) ([]*shared.MarketState, error) {
	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}

	states := make([]*shared.MarketState, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		var state shared.MarketState
		err := json.Unmarshal([]byte(rowString(row, "payload")), &state)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling market state: %w", err)
		}
		states = append(states, &state)
	}

	return states, nil
}

// nullableInt converts an optional timestamp to a sql parameter.
func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}

	return *value
}

// rowFloat reads a numeric column from an assoc row.
func rowFloat(row map[string]any, key string) float64 {
	value, ok := row[key].(float64)
	if !ok {
		return 0
	}

	return value
}

// rowString reads a text column from an assoc row.
func rowString(row map[string]any, key string) string {
	value, ok := row[key].(string)
	if !ok {
		return ""
	}

	return value
}
