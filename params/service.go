package params

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnldd/vigil/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createConfigTableSQL = "CREATE TABLE IF NOT EXISTS config (version TEXT PRIMARY KEY, " +
		"createdon INTEGER, active INTEGER, payload TEXT)"
	findActiveConfigSQL  = "SELECT payload FROM config WHERE active = 1"
	findConfigSQL        = "SELECT payload FROM config WHERE version = ?"
	configHistorySQL     = "SELECT payload FROM config ORDER BY createdon DESC LIMIT ?"
	deactivateConfigSQL  = "UPDATE config SET active = 0 WHERE active = 1"
	persistConfigSQL     = "INSERT INTO config(version, createdon, active, payload) VALUES(?,?,1,?)"
	reactivateConfigSQL  = "UPDATE config SET active = 1 WHERE version = ?"
)

// ServiceConfig represents the configuration for the config service.
type ServiceConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger represents the service logger.
	Logger *zerolog.Logger
}

// Validate asserts the config has sane inputs.
func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger cannot be nil")
	}

	return nil
}

// Service owns the versioned analyzer parameters. Reads return the active
// snapshot without locking, saves serialize behind optimistic version checks
// and append to history rather than overwrite.
type Service struct {
	cfg    *ServiceConfig
	client *rqlitehttp.Client

	active  atomic.Pointer[Config]
	saveMtx sync.Mutex
}

// NewService initializes the config service, seeding the defaults when no
// active config exists yet.
func NewService(ctx context.Context, cfg *ServiceConfig) (*Service, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config service config: %w", err)
	}

	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating config service client: %w", err)
	}

	client.SetBasicAuth(cfg.User, cfg.Pass)

	svc := &Service{
		cfg:    cfg,
		client: client,
	}

	_, err = svc.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createConfigTableSQL},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return nil, fmt.Errorf("bootstrapping config table: %w", err)
	}

	active, err := svc.loadActive(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		active = Default()
		active.Meta.ModifiedAt = time.Now().UnixMilli()
		err = svc.persist(ctx, active, false)
		if err != nil {
			return nil, fmt.Errorf("seeding default config: %w", err)
		}
		cfg.Logger.Info().Msgf("seeded default config version %s", active.Meta.Version)
	}

	svc.active.Store(active)

	return svc, nil
}

// Active returns the current config snapshot. The returned config is shared
// and must not be mutated; use Clone before editing.
func (s *Service) Active() *Config {
	return s.active.Load()
}

// Save validates and persists the provided config as the new active version.
// The save must be based on the current active version or it is rejected
// with a version conflict.
func (s *Service) Save(ctx context.Context, next *Config, basedOnVersion string) (*Config, error) {
	s.saveMtx.Lock()
	defer s.saveMtx.Unlock()

	current := s.active.Load()
	if current.Meta.Version != basedOnVersion {
		return nil, &shared.VersionConflictError{
			Expected: basedOnVersion,
			Actual:   current.Meta.Version,
		}
	}

	candidate := next.Clone()
	candidate.Meta.Version = BumpPatch(current.Meta.Version)
	candidate.Meta.ModifiedAt = time.Now().UnixMilli()

	err := candidate.Validate()
	if err != nil {
		return nil, err
	}
	err = candidate.ValidateDelta(current)
	if err != nil {
		return nil, err
	}

	err = s.persist(ctx, candidate, true)
	if err != nil {
		return nil, err
	}

	s.active.Store(candidate)
	s.cfg.Logger.Info().Msgf("config %s activated (from %s, by %s)",
		candidate.Meta.Version, current.Meta.Version, candidate.Meta.ModifiedBy)

	return candidate, nil
}

// Rollback reactivates a previously stored config version. The rolled back
// config is revalidated structurally but skips delta checks, its values were
// legal when first saved.
func (s *Service) Rollback(ctx context.Context, version string) (*Config, error) {
	s.saveMtx.Lock()
	defer s.saveMtx.Unlock()

	resp, err := s.client.QuerySingle(ctx, findConfigSQL, version)
	if err != nil {
		return nil, &shared.StorageError{Op: "find config", Message: err.Error()}
	}
	configs, err := parseConfigs(resp)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("rolling back config: version %s not found", version)
	}

	target := configs[0]
	err = target.Validate()
	if err != nil {
		return nil, err
	}

	execResp, err := s.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: deactivateConfigSQL},
		{SQL: reactivateConfigSQL, PositionalParams: []any{version}},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return nil, &shared.StorageError{Op: "rollback config", Message: err.Error()}
	}
	has, idx, errStr := execResp.HasError()
	if has {
		return nil, &shared.StorageError{Op: "rollback config",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	s.active.Store(target)
	s.cfg.Logger.Info().Msgf("config rolled back to %s", version)

	return target, nil
}

// History returns stored configs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*Config, error) {
	resp, err := s.client.QuerySingle(ctx, configHistorySQL, limit)
	if err != nil {
		return nil, &shared.StorageError{Op: "config history", Message: err.Error()}
	}

	return parseConfigs(resp)
}

// loadActive loads the active config row, or nil when none exists.
func (s *Service) loadActive(ctx context.Context) (*Config, error) {
	resp, err := s.client.QuerySingle(ctx, findActiveConfigSQL)
	if err != nil {
		return nil, &shared.StorageError{Op: "load active config", Message: err.Error()}
	}

	configs, err := parseConfigs(resp)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, nil
	}

	return configs[0], nil
}

// persist writes the provided config as the active row, deactivating the
// previous one when requested.
func (s *Service) persist(ctx context.Context, config *Config, deactivate bool) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	stmts := rqlitehttp.SQLStatements{}
	if deactivate {
		stmts = append(stmts, &rqlitehttp.SQLStatement{SQL: deactivateConfigSQL})
	}
	stmts = append(stmts, &rqlitehttp.SQLStatement{
		SQL:              persistConfigSQL,
		PositionalParams: []any{config.Meta.Version, config.Meta.ModifiedAt, string(payload)},
	})

	resp, err := s.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return &shared.StorageError{Op: "persist config", Message: err.Error()}
	}
	has, idx, errStr := resp.HasError()
	if has {
		return &shared.StorageError{Op: "persist config",
			Message: fmt.Sprintf("statement %d: %s", idx, errStr)}
	}

	return nil
}

// parseConfigs unmarshals config payload rows.
func parseConfigs(resp *rqlitehttp.QueryResponse) ([]*Config, error) {
	results := resp.GetQueryResultsAssoc()
	if len(results) == 0 {
		return nil, nil
	}

	configs := make([]*Config, 0, len(results[0].Rows))
	for _, row := range results[0].Rows {
		payload, ok := row["payload"].(string)
		if !ok {
			continue
		}

		var config Config
		err := json.Unmarshal([]byte(payload), &config)
		if err != nil {
			return nil, fmt.Errorf("unmarshaling config: %w", err)
		}
		configs = append(configs, &config)
	}

	return configs, nil
}
