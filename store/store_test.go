package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/vigil/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// rqliteStub fakes a database node, recording every statement body it
// receives and serving canned rows through the respond hook.
type rqliteStub struct {
	server *httptest.Server

	mtx     sync.Mutex
	bodies  []string
	respond func(body string) string
}

func newRqliteStub(t *testing.T) *rqliteStub {
	stub := &rqliteStub{}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("reading statement body: %v", err)
		}
		body := string(raw)

		stub.mtx.Lock()
		stub.bodies = append(stub.bodies, body)
		respond := stub.respond
		stub.mtx.Unlock()

		if respond != nil {
			if resp := respond(body); resp != "" {
				fmt.Fprint(w, resp)
				return
			}
		}

		if strings.Contains(r.URL.Path, "query") {
			fmt.Fprint(w, `{"results":[{"types":{},"rows":[]}]}`)
			return
		}
		fmt.Fprint(w, `{"results":[{}]}`)
	}))
	t.Cleanup(stub.server.Close)

	return stub
}

// setRespond installs the canned row hook.
func (s *rqliteStub) setRespond(respond func(body string) string) {
	s.mtx.Lock()
	s.respond = respond
	s.mtx.Unlock()
}

// received counts recorded statement bodies containing the provided fragment.
func (s *rqliteStub) received(fragment string) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	count := 0
	for _, body := range s.bodies {
		if strings.Contains(body, fragment) {
			count++
		}
	}

	return count
}

func newTestStore(t *testing.T, endpoint string) *Store {
	logger := zerolog.Nop()
	store, err := NewStore(context.Background(), &StoreConfig{
		Endpoint:  endpoint,
		ScanCycle: time.Minute * 5,
		Logger:    &logger,
	})
	assert.NoError(t, err)

	return store
}

func bucketState(timestamp int64) *shared.MarketState {
	return &shared.MarketState{
		Symbol:    "BTCUSD",
		Timestamp: timestamp,
		FinalDecision: &shared.Decision{
			Bias:       shared.Long,
			Confidence: 6.5,
		},
	}
}

func TestSaveStateDeduplicatesWithinBucket(t *testing.T) {
	stub := newRqliteStub(t)
	store := newTestStore(t, stub.server.URL)

	ctx := context.Background()
	now := shared.TimeBucket(time.Now().UnixMilli(), (time.Minute * 5).Milliseconds())

	id, deduplicated, err := store.SaveState(ctx, bucketState(now))
	assert.NoError(t, err)
	assert.Equal(t, false, deduplicated)
	if id == "" {
		t.Fatal("expected a state id from the first save")
	}

	// A second save inside the same scan cycle bucket returns the stored id
	// without touching the database again.
	laterID, deduplicated, err := store.SaveState(ctx, bucketState(now+time.Minute.Milliseconds()))
	assert.NoError(t, err)
	assert.Equal(t, true, deduplicated)
	assert.Equal(t, id, laterID)
	assert.Equal(t, 1, stub.received("INSERT INTO market_state"))

	// The next bucket inserts again.
	_, deduplicated, err = store.SaveState(ctx, bucketState(now+(time.Minute*6).Milliseconds()))
	assert.NoError(t, err)
	assert.Equal(t, false, deduplicated)
	assert.Equal(t, 2, stub.received("INSERT INTO market_state"))
}

func TestSaveStateBucketBackstop(t *testing.T) {
	stub := newRqliteStub(t)
	store := newTestStore(t, stub.server.URL)

	// A prior process already wrote this bucket, so the cache misses but the
	// bucket lookup finds the row.
	stub.setRespond(func(body string) string {
		if strings.Contains(body, "SELECT id FROM market_state") {
			return `{"results":[{"types":{"id":"text"},"rows":[{"id":"prior-state"}]}]}`
		}
		return ""
	})

	id, deduplicated, err := store.SaveState(context.Background(), bucketState(time.Now().UnixMilli()))
	assert.NoError(t, err)
	assert.Equal(t, true, deduplicated)
	assert.Equal(t, "prior-state", id)
	assert.Equal(t, 0, stub.received("INSERT INTO market_state"))
}

func TestBuildDailySummary(t *testing.T) {
	stub := newRqliteStub(t)
	store := newTestStore(t, stub.server.URL)

	stub.setRespond(func(body string) string {
		switch {
		case strings.Contains(body, "GROUP BY bias"):
			return `{"results":[{"types":{},"rows":[` +
				`{"bias":"LONG","count":6,"avgconfidence":7},` +
				`{"bias":"WAIT","count":4,"avgconfidence":5}]}]}`
		case strings.Contains(body, "GROUP BY regime"):
			return `{"results":[{"types":{},"rows":[` +
				`{"regime":"trending","count":6},{"regime":"distribution","count":4}]}]}`
		case strings.Contains(body, "GROUP BY category"):
			return `{"results":[{"types":{},"rows":[{"category":"BIAS_SHIFT","count":3}]}]}`
		case strings.Contains(body, "priority = ?"):
			return `{"results":[{"types":{},"rows":[{"count":2}]}]}`
		}
		return ""
	})

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	candles := []shared.Candle{
		{Open: 64000, High: 64900, Low: 63800, Close: 64500},
		{Open: 64500, High: 65500, Low: 64200, Close: 65100},
	}

	summary, err := store.BuildDailySummary(context.Background(), day, "BTCUSD", candles)
	assert.NoError(t, err)

	assert.Equal(t, "2026-08-23", summary.Day)
	assert.Equal(t, "BTCUSD", summary.Symbol)
	assert.Equal(t, 10, summary.States)
	assert.Equal(t, 6.2, summary.AvgConfidence)
	assert.Equal(t, "LONG", summary.PredominantBias)
	assert.Equal(t, 60.0, summary.BiasPcts["LONG"])
	assert.Equal(t, 40.0, summary.BiasPcts["WAIT"])
	assert.Equal(t, 6, summary.RegimeDistribution["trending"])
	assert.Equal(t, 3, summary.AlertCounts["BIAS_SHIFT"])
	assert.Equal(t, 2, summary.HighPriorityAlerts)
	assert.Equal(t, 64000.0, summary.Open)
	assert.Equal(t, 65500.0, summary.High)
	assert.Equal(t, 63800.0, summary.Low)
	assert.Equal(t, 65100.0, summary.Close)
	assert.Equal(t, 1, stub.received("INSERT INTO daily_summary"))
}
