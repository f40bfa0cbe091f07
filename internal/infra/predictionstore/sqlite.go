package predictionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
)

const schemaVersion = 1

// SQLiteStore is the on-device primary backend. Records are stored whole as
// JSON payloads with the indexed columns copied out alongside.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating when needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps writes serialised and the pragmas below in effect
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("sqlite schema version %d is newer than supported %d", version, schemaVersion)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		risk_level TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_risk_level ON predictions(risk_level);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create sqlite schema: %w", err)
	}
	if version < schemaVersion {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Put(ctx context.Context, record prediction.PredictionResult) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO predictions (id, created_at, risk_level, payload)
		VALUES (?, ?, ?, ?)
	`, record.ID, record.CreatedAt.UnixNano(), string(record.RiskLevel), string(payload))
	return err
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]prediction.PredictionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM predictions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	return scanPayloadRows(rows)
}

func (s *SQLiteStore) GetByRiskLevel(ctx context.Context, level prediction.RiskLevel) ([]prediction.PredictionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM predictions
		WHERE risk_level = ?
		ORDER BY created_at DESC, id DESC
	`, string(level))
	if err != nil {
		return nil, err
	}
	return scanPayloadRows(rows)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (prediction.PredictionResult, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM predictions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return prediction.PredictionResult{}, false, nil
	}
	if err != nil {
		return prediction.PredictionResult{}, false, err
	}
	record, err := decodeRecord([]byte(payload))
	if err != nil {
		return prediction.PredictionResult{}, false, err
	}
	return record, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM predictions`)
	return err
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(value))
	return err
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanPayloadRows(rows *sql.Rows) ([]prediction.PredictionResult, error) {
	defer rows.Close()
	out := []prediction.PredictionResult{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := decodeRecord([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func decodeRecord(payload []byte) (prediction.PredictionResult, error) {
	var record prediction.PredictionResult
	if err := json.Unmarshal(payload, &record); err != nil {
		return prediction.PredictionResult{}, fmt.Errorf("decode prediction payload: %w", err)
	}
	return record, nil
}
