package predictionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
)

// PostgresStore is the primary backend for shared server deployments.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			risk_level TEXT NOT NULL,
			payload JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_predictions_risk_level ON predictions (risk_level);
		CREATE TABLE IF NOT EXISTS prediction_settings (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Put(ctx context.Context, record prediction.PredictionResult) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO predictions (id, created_at, risk_level, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET created_at = EXCLUDED.created_at,
			risk_level = EXCLUDED.risk_level,
			payload = EXCLUDED.payload
	`, record.ID, record.CreatedAt, string(record.RiskLevel), payload)
	return err
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]prediction.PredictionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM predictions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	return collectPayloads(rows)
}

func (s *PostgresStore) GetByRiskLevel(ctx context.Context, level prediction.RiskLevel) ([]prediction.PredictionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM predictions
		WHERE risk_level = $1
		ORDER BY created_at DESC, id DESC
	`, string(level))
	if err != nil {
		return nil, err
	}
	return collectPayloads(rows)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (prediction.PredictionResult, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM predictions WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return prediction.PredictionResult{}, false, nil
	}
	if err != nil {
		return prediction.PredictionResult{}, false, err
	}
	record, err := decodeRecord(payload)
	if err != nil {
		return prediction.PredictionResult{}, false, err
	}
	return record, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM predictions WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM predictions`)
	return err
}

func (s *PostgresStore) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prediction_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, []byte(value))
	return err
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM prediction_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(value), true, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectPayloads(rows pgx.Rows) ([]prediction.PredictionResult, error) {
	defer rows.Close()
	out := []prediction.PredictionResult{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
