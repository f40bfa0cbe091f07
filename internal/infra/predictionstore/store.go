// Package predictionstore implements the local durable store for prediction
// records and settings. A primary indexed database is preferred; when it
// cannot be opened the store runs on a bounded flat list kept in a kv slot.
package predictionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/kvslot"
	"github.com/cardiopredict/riskdash/pkg/metrics"
)

// Backend tags which mechanism serves the store.
type Backend string

const (
	BackendPrimary  Backend = "primary"
	BackendFallback Backend = "fallback"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultFallbackLimit = 50
	DefaultLegacyKey     = "predictionHistory"
	DefaultFallbackKey   = "predictionHistoryFallback"
	DefaultSettingsKey   = "predictionSettings"
)

// Options configures Open.
type Options struct {
	Driver           string
	SQLitePath       string
	PostgresDSN      string
	PostgresMaxConns int32

	// Slot backs the fallback list and holds legacy data. Defaults to memory.
	Slot          kvslot.Slot
	FallbackKey   string
	LegacyKey     string
	SettingsKey   string
	FallbackLimit int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverSQLite
	}
	if o.Slot == nil {
		o.Slot = kvslot.NewMemorySlot()
	}
	if o.FallbackKey == "" {
		o.FallbackKey = DefaultFallbackKey
	}
	if o.LegacyKey == "" {
		o.LegacyKey = DefaultLegacyKey
	}
	if o.SettingsKey == "" {
		o.SettingsKey = DefaultSettingsKey
	}
	if o.FallbackLimit <= 0 {
		o.FallbackLimit = DefaultFallbackLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// primary is the contract shared by the indexed database backends.
type primary interface {
	prediction.Store
	prediction.LevelIndex
	Name() string
	Ping(ctx context.Context) error
	Close() error
}

// Store is the local durable store. When the primary is active, individual
// calls that fail on it are retried against the fallback list so callers see
// one uniform interface.
type Store struct {
	primary   primary
	fallback  *fallbackStore
	backend   Backend
	slot      kvslot.Slot
	legacyKey string
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open selects the backend. Any failure to open the primary is logged and
// results in a Fallback store; only invalid options are returned as errors.
func Open(ctx context.Context, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "predictionstore")

	store := &Store{
		fallback:  newFallbackStore(opts.Slot, opts.FallbackKey, opts.SettingsKey, opts.FallbackLimit),
		backend:   BackendFallback,
		slot:      opts.Slot,
		legacyKey: opts.LegacyKey,
		logger:    logger,
	}

	var (
		p   primary
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case DriverSQLite:
		p, err = OpenSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		p, err = OpenPostgres(ctx, opts.PostgresDSN, opts.PostgresMaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		logger.Warn("primary store unavailable, using fallback list", "driver", opts.Driver, "error", err, "limit", opts.FallbackLimit)
	} else {
		store.primary = p
		store.backend = BackendPrimary
		logger.Info("primary store ready", "driver", p.Name())
	}

	metrics.StoreBackend.WithLabelValues(string(BackendPrimary)).Set(boolGauge(store.backend == BackendPrimary))
	metrics.StoreBackend.WithLabelValues(string(BackendFallback)).Set(boolGauge(store.backend == BackendFallback))
	return store, nil
}

// Backend reports which mechanism was selected at Open.
func (s *Store) Backend() Backend {
	return s.backend
}

// Status implements prediction.StatusReporter.
func (s *Store) Status() prediction.StoreStatus {
	status := prediction.StoreStatus{Backend: string(s.backend)}
	if s.primary != nil {
		status.Driver = s.primary.Name()
	} else {
		status.Driver = "kvslot"
	}
	return status
}

func (s *Store) Put(ctx context.Context, record prediction.PredictionResult) error {
	if s.primary != nil {
		err := s.primary.Put(ctx, record)
		s.count("put", err)
		if err == nil {
			return nil
		}
		s.logger.Warn("primary put failed, writing to fallback list", "id", record.ID, "error", err)
		if ferr := s.fallback.put(ctx, record); ferr != nil {
			return errors.Join(err, ferr)
		}
		return nil
	}
	err := s.fallback.put(ctx, record)
	s.count("put", err)
	return err
}

func (s *Store) GetAll(ctx context.Context) ([]prediction.PredictionResult, error) {
	if s.primary != nil {
		records, err := s.primary.GetAll(ctx)
		s.count("get_all", err)
		if err == nil {
			return s.withStranded(ctx, records, ""), nil
		}
		s.logger.Warn("primary read failed, reading fallback list", "error", err)
		fallback, ferr := s.fallback.getAll(ctx)
		if ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return fallback, nil
	}
	records, err := s.fallback.getAll(ctx)
	s.count("get_all", err)
	return records, err
}

func (s *Store) GetByRiskLevel(ctx context.Context, level prediction.RiskLevel) ([]prediction.PredictionResult, error) {
	if s.primary != nil {
		records, err := s.primary.GetByRiskLevel(ctx, level)
		s.count("get_by_level", err)
		if err == nil {
			return s.withStranded(ctx, records, level), nil
		}
		s.logger.Warn("primary index read failed, filtering fallback list", "level", level, "error", err)
	}
	all, err := s.fallback.getAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterLevel(all, level), nil
}

// GetByID consults the fallback list whenever the primary does not have the
// record, since a failed primary write may have left it there.
func (s *Store) GetByID(ctx context.Context, id string) (prediction.PredictionResult, bool, error) {
	if s.primary != nil {
		record, ok, err := s.primary.GetByID(ctx, id)
		s.count("get", err)
		if err == nil && ok {
			return record, true, nil
		}
		if err != nil {
			s.logger.Warn("primary get failed, reading fallback list", "id", id, "error", err)
		}
	}
	return s.fallback.getByID(ctx, id)
}

// withStranded merges records that were written to the fallback list while
// the primary was active, so a Put that succeeded is always readable. The
// primary copy wins on duplicate ids. A failed fallback read only logs.
func (s *Store) withStranded(ctx context.Context, records []prediction.PredictionResult, level prediction.RiskLevel) []prediction.PredictionResult {
	stranded, err := s.fallback.getAll(ctx)
	if err != nil {
		s.logger.Warn("fallback list unreadable, serving primary records only", "error", err)
		return records
	}
	if level != "" {
		stranded = filterLevel(stranded, level)
	}
	if len(stranded) == 0 {
		return records
	}

	seen := make(map[string]struct{}, len(records))
	merged := make([]prediction.PredictionResult, 0, len(records)+len(stranded))
	for _, rec := range records {
		seen[rec.ID] = struct{}{}
		merged = append(merged, rec)
	}
	for _, rec := range stranded {
		if _, dup := seen[rec.ID]; !dup {
			merged = append(merged, rec)
		}
	}
	sortNewestFirst(merged)
	return merged
}

func filterLevel(records []prediction.PredictionResult, level prediction.RiskLevel) []prediction.PredictionResult {
	out := make([]prediction.PredictionResult, 0, len(records))
	for _, rec := range records {
		if rec.RiskLevel == level {
			out = append(out, rec)
		}
	}
	return out
}

// Delete removes the record from the active backend and from the fallback
// list, so a later migration cannot bring it back.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.primary != nil {
		if err := s.primary.Delete(ctx, id); err != nil {
			s.count("delete", err)
			return err
		}
	}
	err := s.fallback.delete(ctx, id)
	s.count("delete", err)
	return err
}

// Clear empties the active backend and the fallback list.
func (s *Store) Clear(ctx context.Context) error {
	if s.primary != nil {
		if err := s.primary.Clear(ctx); err != nil {
			s.count("clear", err)
			return err
		}
	}
	err := s.fallback.clear(ctx)
	s.count("clear", err)
	return err
}

func (s *Store) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if s.primary != nil {
		err := s.primary.PutSetting(ctx, key, value)
		s.count("put_setting", err)
		if err == nil {
			return nil
		}
		s.logger.Warn("primary setting write failed, using fallback", "key", key, "error", err)
	}
	return s.fallback.putSetting(ctx, key, value)
}

func (s *Store) GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if s.primary != nil {
		value, ok, err := s.primary.GetSetting(ctx, key)
		s.count("get_setting", err)
		if err == nil && ok {
			return value, true, nil
		}
		if err != nil {
			s.logger.Warn("primary setting read failed, using fallback", "key", key, "error", err)
		}
	}
	return s.fallback.getSetting(ctx, key)
}

// MigrationReport summarises one Migrate run.
type MigrationReport struct {
	Records  int      `json:"records"`
	Settings int      `json:"settings"`
	Drained  []string `json:"drained"`
}

// Migrate copies flat-list data (the legacy key, then the fallback list and
// fallback settings) into the primary backend, removing each key only after
// every entry under it was written. Writes are upserts, so an interrupted run
// can simply be repeated. On a Fallback store it does nothing.
func (s *Store) Migrate(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport
	if s.primary == nil {
		return report, nil
	}

	keys := []string{s.legacyKey}
	if s.fallback.key != s.legacyKey {
		keys = append(keys, s.fallback.key)
	}
	for _, key := range keys {
		n, found, err := s.drainRecords(ctx, key)
		report.Records += n
		if err != nil {
			return report, fmt.Errorf("migrate %q: %w", key, err)
		}
		if found {
			report.Drained = append(report.Drained, key)
		}
	}

	n, found, err := s.drainSettings(ctx)
	report.Settings = n
	if err != nil {
		return report, fmt.Errorf("migrate %q: %w", s.fallback.settingsKey, err)
	}
	if found {
		report.Drained = append(report.Drained, s.fallback.settingsKey)
	}

	if len(report.Drained) > 0 {
		s.logger.Info("migrated flat-list data", "records", report.Records, "settings", report.Settings, "keys", report.Drained)
	}
	return report, nil
}

func (s *Store) drainRecords(ctx context.Context, key string) (int, bool, error) {
	s.fallback.mu.Lock()
	defer s.fallback.mu.Unlock()

	list, found, err := readRecordList(ctx, s.slot, key)
	if err != nil || !found {
		return 0, found, err
	}
	migrated := 0
	for _, rec := range list {
		if err := s.primary.Put(ctx, rec); err != nil {
			return migrated, true, err
		}
		migrated++
	}
	if err := s.slot.Remove(ctx, key); err != nil {
		return migrated, true, err
	}
	return migrated, true, nil
}

func (s *Store) drainSettings(ctx context.Context) (int, bool, error) {
	s.fallback.mu.Lock()
	defer s.fallback.mu.Unlock()

	_, found, err := s.slot.Get(ctx, s.fallback.settingsKey)
	if err != nil || !found {
		return 0, found, err
	}
	settings, err := s.fallback.loadSettings(ctx)
	if err != nil {
		return 0, true, err
	}
	migrated := 0
	for key, value := range settings {
		if err := s.primary.PutSetting(ctx, key, value); err != nil {
			return migrated, true, err
		}
		migrated++
	}
	if err := s.slot.Remove(ctx, s.fallback.settingsKey); err != nil {
		return migrated, true, err
	}
	return migrated, true, nil
}

// Ping checks the active backend.
func (s *Store) Ping(ctx context.Context) error {
	if s.primary != nil {
		return s.primary.Ping(ctx)
	}
	_, _, err := s.slot.Get(ctx, s.fallback.key)
	return err
}

// Close releases the primary backend. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.primary != nil {
			s.closeErr = s.primary.Close()
		}
	})
	return s.closeErr
}

func (s *Store) count(operation string, err error) {
	metrics.StoreOperations.WithLabelValues(string(s.backend), operation).Inc()
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues(operation).Inc()
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
