package predictionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/kvslot"
)

// fallbackStore keeps the most recent records as one JSON array inside a
// kv slot, plus a settings object under a second key. Every operation is a
// read-modify-write of the whole value, so calls are serialised.
type fallbackStore struct {
	mu          sync.Mutex
	slot        kvslot.Slot
	key         string
	settingsKey string
	limit       int
}

func newFallbackStore(slot kvslot.Slot, key, settingsKey string, limit int) *fallbackStore {
	return &fallbackStore{slot: slot, key: key, settingsKey: settingsKey, limit: limit}
}

func (f *fallbackStore) put(ctx context.Context, record prediction.PredictionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, err := f.load(ctx)
	if err != nil {
		return err
	}
	next := make([]prediction.PredictionResult, 0, len(list)+1)
	next = append(next, record)
	for _, rec := range list {
		if rec.ID != record.ID {
			next = append(next, rec)
		}
	}
	sortNewestFirst(next)
	if len(next) > f.limit {
		next = next[:f.limit]
	}
	return f.save(ctx, next)
}

func (f *fallbackStore) getAll(ctx context.Context) ([]prediction.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, err := f.load(ctx)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(list)
	return list, nil
}

func (f *fallbackStore) getByID(ctx context.Context, id string) (prediction.PredictionResult, bool, error) {
	list, err := f.getAll(ctx)
	if err != nil {
		return prediction.PredictionResult{}, false, err
	}
	for _, rec := range list {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return prediction.PredictionResult{}, false, nil
}

func (f *fallbackStore) delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, err := f.load(ctx)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, rec := range list {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return f.save(ctx, kept)
}

func (f *fallbackStore) clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot.Remove(ctx, f.key)
}

func (f *fallbackStore) putSetting(ctx context.Context, key string, value json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, err := f.loadSettings(ctx)
	if err != nil {
		return err
	}
	settings[key] = value
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return f.slot.Set(ctx, f.settingsKey, string(payload))
}

func (f *fallbackStore) getSetting(ctx context.Context, key string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, err := f.loadSettings(ctx)
	if err != nil {
		return nil, false, err
	}
	value, ok := settings[key]
	return value, ok, nil
}

func (f *fallbackStore) load(ctx context.Context) ([]prediction.PredictionResult, error) {
	list, _, err := readRecordList(ctx, f.slot, f.key)
	return list, err
}

func (f *fallbackStore) save(ctx context.Context, list []prediction.PredictionResult) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return f.slot.Set(ctx, f.key, string(payload))
}

func (f *fallbackStore) loadSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)
	raw, ok, err := f.slot.Get(ctx, f.settingsKey)
	if err != nil || !ok {
		return settings, err
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("decode fallback settings: %w", err)
	}
	return settings, nil
}

// readRecordList decodes the JSON array stored under key. A missing key
// yields an empty list and ok=false.
func readRecordList(ctx context.Context, slot kvslot.Slot, key string) ([]prediction.PredictionResult, bool, error) {
	raw, ok, err := slot.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok || raw == "" {
		return []prediction.PredictionResult{}, ok, nil
	}
	var list []prediction.PredictionResult
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, true, fmt.Errorf("decode record list %q: %w", key, err)
	}
	if list == nil {
		list = []prediction.PredictionResult{}
	}
	return list, true, nil
}

func sortNewestFirst(list []prediction.PredictionResult) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
