package candle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dnldd/vigil/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createCandleTableSQL = "CREATE TABLE IF NOT EXISTS candle (venue TEXT, symbol TEXT, " +
		"timeframe TEXT, timestamp INTEGER, open REAL, high REAL, low REAL, close REAL, " +
		"volume REAL, oi REAL, fundingrate REAL, buyvolume REAL, sellvolume REAL, " +
		"PRIMARY KEY (venue, symbol, timeframe, timestamp))"
	upsertCandleSQL = "INSERT INTO candle(venue, symbol, timeframe, timestamp, open, high, " +
		"low, close, volume, oi, fundingrate, buyvolume, sellvolume) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?) " +
		"ON CONFLICT(venue, symbol, timeframe, timestamp) DO UPDATE SET open = excluded.open, " +
		"high = excluded.high, low = excluded.low, close = excluded.close, volume = excluded.volume, " +
		"oi = excluded.oi, fundingrate = excluded.fundingrate, buyvolume = excluded.buyvolume, " +
		"sellvolume = excluded.sellvolume"
	countCandlesSQL = "SELECT COUNT(*) AS count FROM candle WHERE venue = ? AND symbol = ? " +
		"AND timeframe = ? AND timestamp >= ? AND timestamp <= ?"
	rangeCandlesSQL = "SELECT * FROM candle WHERE venue = ? AND symbol = ? AND timeframe = ? " +
		"AND timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC"
	pruneCandlesSQL = "DELETE FROM candle WHERE timestamp < ?"
)

// StoreConfig is the configuration for the candle store.
type StoreConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the store logger.
	Logger *zerolog.Logger
}

// Store persists historical candles, consulted before the vendor on fetches.
type Store struct {
	cfg    *StoreConfig
	client *rqlitehttp.Client
}

// Ensure the store implements the CandleSource interface.
var _ shared.CandleSource = (*Store)(nil)

// NewStore initializes a new candle store.
func NewStore(ctx context.Context, cfg *StoreConfig) (*Store, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating candle store client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	store := &Store{
		cfg:    cfg,
		client: client,
	}

	err = store.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping candle store: %w", err)
	}

	return store, nil
}

// bootstrap initializes the candle table.
func (s *Store) bootstrap(ctx context.Context) error {
	_, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createCandleTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// UpsertCandles stores the provided candles, replacing duplicates. The unique
// key spans venue, symbol, timeframe and timestamp so refetched candles
// overwrite in place.
func (s *Store) UpsertCandles(ctx context.Context, candles []shared.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	stmts := make(rqlitehttp.SQLStatements, 0, len(candles))
	for idx := range candles {
		candle := &candles[idx]
		stmts = append(stmts, &rqlitehttp.SQLStatement{
			SQL: upsertCandleSQL,
			PositionalParams: []any{candle.Venue.String(), candle.Symbol, candle.Timeframe.String(),
				candle.Timestamp, candle.Open, candle.High, candle.Low, candle.Close, candle.Volume,
				nullable(candle.OI), nullable(candle.FundingRate),
				nullable(candle.BuyVolume), nullable(candle.SellVolume)},
		})
	}

	resp, err := s.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "upsert candles", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "upsert candles",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// CountCandles counts stored candles in the provided range.
func (s *Store) CountCandles(ctx context.Context, venue shared.Venue, symbol string,
	timeframe shared.Timeframe, start, end int64) (int, error) {
	resp, err := s.client.QuerySingle(ctx, countCandlesSQL, venue.String(), symbol,
		timeframe.String(), start, end)
	if err != nil {
		return 0, &shared.StorageError{Op: "count candles", Message: err.Error()}
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return 0, nil
	}

	return int(rowFloat(results[0].Rows[0], "count")), nil
}

// RangeCandles returns stored candles in the provided range, sorted ascending.
func (s *Store) RangeCandles(ctx context.Context, venue shared.Venue, symbol string,
	timeframe shared.Timeframe, start, end int64) ([]shared.Candle, error) {
	resp, err := s.client.QuerySingle(ctx, rangeCandlesSQL, venue.String(), symbol,
		timeframe.String(), start, end)
	if err != nil {
		return nil, &shared.StorageError{Op: "range candles", Message: err.Error()}
	}

	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}

	candles := make([]shared.Candle, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		candles = append(candles, shared.Candle{
			Venue:       shared.ParseVenue(rowString(row, "venue")),
			Symbol:      rowString(row, "symbol"),
			Timeframe:   shared.ParseTimeframe(rowString(row, "timeframe")),
			Timestamp:   int64(rowFloat(row, "timestamp")),
			Open:        rowFloat(row, "open"),
			High:        rowFloat(row, "high"),
			Low:         rowFloat(row, "low"),
			Close:       rowFloat(row, "close"),
			Volume:      rowFloat(row, "volume"),
			OI:          rowFloatPtr(row, "oi"),
			FundingRate: rowFloatPtr(row, "fundingrate"),
			BuyVolume:   rowFloatPtr(row, "buyvolume"),
			SellVolume:  rowFloatPtr(row, "sellvolume"),
		})
	}

	return candles, nil
}

// PruneCandles deletes candles older than the provided cutoff.
func (s *Store) PruneCandles(ctx context.Context, cutoff int64) error {
	resp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: pruneCandlesSQL, PositionalParams: []any{cutoff}},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "prune candles", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "prune candles",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// nullable converts an optional float to a sql parameter. Absence persists as
// null, never as zero.
func nullable(value *float64) any {
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

// rowFloatPtr reads a nullable numeric column from an assoc row.
func rowFloatPtr(row map[string]any, key string) *float64 {
	value, ok := row[key].(float64)
	if !ok {
		return nil
	}

	return &value
}

// rowString reads a text column from an assoc row.
func rowString(row map[string]any, key string) string {
	value, ok := row[key].(string)
	if !ok {
		return ""
	}

	return value
}
