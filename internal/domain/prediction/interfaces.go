package prediction

import (
	"context"
	"encoding/json"
)

// Store is the local durable store contract. Each call is independently
// atomic; callers must not assume multi-call transactions.
type Store interface {
	Put(ctx context.Context, record PredictionResult) error
	// GetAll returns every record ordered by CreatedAt descending.
	GetAll(ctx context.Context) ([]PredictionResult, error)
	GetByID(ctx context.Context, id string) (PredictionResult, bool, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
	GetSetting(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// LevelIndex is implemented by stores that can serve a risk level filter
// from a secondary index. Results keep the GetAll ordering.
type LevelIndex interface {
	GetByRiskLevel(ctx context.Context, level RiskLevel) ([]PredictionResult, error)
}

// StatusReporter is implemented by stores that can name their active backend.
type StatusReporter interface {
	Status() StoreStatus
}

// ScoringClient performs one upstream scoring call. Transport failures are
// returned as errors; any HTTP answer, including 5xx, is a response.
type ScoringClient interface {
	Score(ctx context.Context, input WireInput) (UpstreamResponse, error)
}

// ExportArchive keeps a copy of export blobs outside the local store.
type ExportArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
