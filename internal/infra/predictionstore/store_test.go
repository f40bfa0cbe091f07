package predictionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	"github.com/cardiopredict/riskdash/internal/infra/kvslot"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatPtr(v float64) *float64 { return &v }

func makeRecord(i int) prediction.PredictionResult {
	level := []prediction.RiskLevel{prediction.RiskLow, prediction.RiskMedium, prediction.RiskHigh}[i%3]
	return prediction.PredictionResult{
		ID:     fmt.Sprintf("pred-%03d", i),
		UserID: "user-1",
		Input: prediction.PredictionInput{
			Age:                    40 + i,
			Gender:                 prediction.GenderFemale,
			Cholesterol:            190,
			BloodPressureSystolic:  130,
			BloodPressureDiastolic: 85,
			BMI:                    floatPtr(24.5),
		},
		RiskScore:       20 + i,
		RiskLevel:       level,
		Recommendations: []string{"Continue maintaining healthy lifestyle habits"},
		Factors:         []prediction.RiskFactor{},
		ModelVersion:    "v2.1.0",
		CreatedAt:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
	}
}

func newestFirst(records ...prediction.PredictionResult) []prediction.PredictionResult {
	out := append([]prediction.PredictionResult(nil), records...)
	sortNewestFirst(out)
	return out
}

func openSQLite(t *testing.T, slot kvslot.Slot) *Store {
	t.Helper()
	store, err := Open(context.Background(), Options{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "riskdash.db"),
		Slot:       slot,
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, kvslot.NewMemorySlot())
	require.Equal(t, BackendPrimary, store.Backend())
	require.Equal(t, prediction.StoreStatus{Backend: "primary", Driver: "sqlite"}, store.Status())

	var want []prediction.PredictionResult
	for i := 0; i < 5; i++ {
		rec := makeRecord(i)
		rec.Input.FamilyHistory = new(bool)
		rec.Input.Weight = floatPtr(68.5)
		require.NoError(t, store.Put(ctx, rec))
		want = append(want, rec)
	}

	got, err := store.GetAll(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(newestFirst(want...), got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("GetAll mismatch (-want +got):\n%s", diff)
	}

	rec, ok, err := store.GetByID(ctx, "pred-002")
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(want[2], rec, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("GetByID mismatch (-want +got):\n%s", diff)
	}

	_, ok, err = store.GetByID(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLitePutIsUpsert(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, kvslot.NewMemorySlot())

	rec := makeRecord(1)
	require.NoError(t, store.Put(ctx, rec))
	rec.RiskScore = 77
	rec.RiskLevel = prediction.RiskHigh
	require.NoError(t, store.Put(ctx, rec))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, 77, all[0].RiskScore)

	high, err := store.GetByRiskLevel(ctx, prediction.RiskHigh)
	require.NoError(t, err)
	require.Len(t, high, 1)
}

func TestSQLiteRiskLevelIndex(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, kvslot.NewMemorySlot())
	for i := 0; i < 9; i++ {
		require.NoError(t, store.Put(ctx, makeRecord(i)))
	}

	medium, err := store.GetByRiskLevel(ctx, prediction.RiskMedium)
	require.NoError(t, err)
	ids := make([]string, 0, len(medium))
	for _, rec := range medium {
		ids = append(ids, rec.ID)
	}
	require.Equal(t, []string{"pred-007", "pred-004", "pred-001"}, ids)
}

func TestSQLiteDeleteClearAndSettings(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, kvslot.NewMemorySlot())
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put(ctx, makeRecord(i)))
	}

	require.NoError(t, store.Delete(ctx, "pred-001"))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, store.Clear(ctx))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)

	require.NoError(t, store.PutSetting(ctx, "units", json.RawMessage(`"metric"`)))
	require.NoError(t, store.PutSetting(ctx, "units", json.RawMessage(`"imperial"`)))
	value, ok, err := store.GetSetting(ctx, "units")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"imperial"`, string(value))

	_, ok, err = store.GetSetting(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "riskdash.db")

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, makeRecord(1)))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	var version int
	require.NoError(t, second.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	require.Equal(t, schemaVersion, version)

	all, err := second.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOpenFallsBackWhenSQLiteUnavailable(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store, err := Open(ctx, Options{
		Driver:     DriverSQLite,
		SQLitePath: filepath.Join(blocker, "riskdash.db"),
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, BackendFallback, store.Backend())
	require.Equal(t, "fallback", store.Status().Backend)

	require.NoError(t, store.Put(ctx, makeRecord(1)))
	require.NoError(t, store.Put(ctx, makeRecord(2)))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"pred-002", "pred-001"}, []string{all[0].ID, all[1].ID})

	report, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, MigrationReport{}, report)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "leveldb", Logger: testLogger()})
	require.Error(t, err)
}

func TestFallbackKeepsMostRecentFifty(t *testing.T) {
	ctx := context.Background()
	fb := newFallbackStore(kvslot.NewMemorySlot(), DefaultFallbackKey, DefaultSettingsKey, DefaultFallbackLimit)

	for i := 0; i < 60; i++ {
		require.NoError(t, fb.put(ctx, makeRecord(i)))
	}
	all, err := fb.getAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, DefaultFallbackLimit)
	require.Equal(t, "pred-059", all[0].ID)
	require.Equal(t, "pred-010", all[len(all)-1].ID)

	_, ok, err := fb.getByID(ctx, "pred-005")
	require.NoError(t, err)
	require.False(t, ok)

	// re-putting an existing id replaces rather than duplicates
	require.NoError(t, fb.put(ctx, makeRecord(30)))
	all, err = fb.getAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, DefaultFallbackLimit)
}

func TestFallbackEvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	fb := newFallbackStore(kvslot.NewMemorySlot(), DefaultFallbackKey, DefaultSettingsKey, DefaultFallbackLimit)
	for i := 10; i < 60; i++ {
		require.NoError(t, fb.put(ctx, makeRecord(i)))
	}

	// an older record arriving late must not push out a newer one
	require.NoError(t, fb.put(ctx, makeRecord(0)))

	all, err := fb.getAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, DefaultFallbackLimit)
	require.Equal(t, "pred-059", all[0].ID)
	require.Equal(t, "pred-010", all[len(all)-1].ID)
	_, ok, err := fb.getByID(ctx, "pred-000")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFallbackSettings(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	fb := newFallbackStore(slot, DefaultFallbackKey, DefaultSettingsKey, DefaultFallbackLimit)

	require.NoError(t, fb.putSetting(ctx, "theme", json.RawMessage(`"dark"`)))
	value, ok, err := fb.getSetting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"dark"`, string(value))

	raw, ok, err := slot.Get(ctx, DefaultSettingsKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"theme":"dark"}`, raw)
}

func seedList(t *testing.T, slot kvslot.Slot, key string, records ...prediction.PredictionResult) {
	t.Helper()
	payload, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, slot.Set(context.Background(), key, string(payload)))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	seedList(t, slot, DefaultLegacyKey, makeRecord(1), makeRecord(2), makeRecord(3))
	store := openSQLite(t, slot)

	report, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.Records)
	require.Equal(t, []string{DefaultLegacyKey}, report.Drained)

	_, ok, err := slot.Get(ctx, DefaultLegacyKey)
	require.NoError(t, err)
	require.False(t, ok)

	first, err := store.GetAll(ctx)
	require.NoError(t, err)

	report, err = store.Migrate(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Records)
	require.Empty(t, report.Drained)

	second, err := store.GetAll(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("second migration changed records (-first +second):\n%s", diff)
	}
	require.Len(t, second, 3)
}

func TestMigrateOverlappingRecordsUpserts(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	store := openSQLite(t, slot)
	require.NoError(t, store.Put(ctx, makeRecord(1)))

	seedList(t, slot, DefaultLegacyKey, makeRecord(1), makeRecord(2))
	_, err := store.Migrate(ctx)
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMigrateEmptyLegacyArrayRemovesKey(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	require.NoError(t, slot.Set(ctx, DefaultLegacyKey, "[]"))
	store := openSQLite(t, slot)

	report, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Records)
	_, ok, err := slot.Get(ctx, DefaultLegacyKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMigrateDrainsFallbackListAndSettings(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	seedList(t, slot, DefaultFallbackKey, makeRecord(7))
	require.NoError(t, slot.Set(ctx, DefaultSettingsKey, `{"theme":"dark"}`))
	store := openSQLite(t, slot)

	report, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Records)
	require.Equal(t, 1, report.Settings)
	require.ElementsMatch(t, []string{DefaultFallbackKey, DefaultSettingsKey}, report.Drained)

	value, ok, err := store.primary.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"dark"`, string(value))

	_, ok, err = store.primary.GetByID(ctx, "pred-007")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMigrateCorruptLegacyKeyIsKept(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	require.NoError(t, slot.Set(ctx, DefaultLegacyKey, "{not an array"))
	store := openSQLite(t, slot)

	_, err := store.Migrate(ctx)
	require.Error(t, err)
	_, ok, err := slot.Get(ctx, DefaultLegacyKey)
	require.NoError(t, err)
	require.True(t, ok)
}

// flakyPrimary fails every Put after the first allowPuts calls.
type flakyPrimary struct {
	*SQLiteStore
	allowPuts  int
	puts       int
	readErr    error
	settingErr error
}

func (p *flakyPrimary) PutSetting(ctx context.Context, key string, value json.RawMessage) error {
	if p.settingErr != nil {
		return p.settingErr
	}
	return p.SQLiteStore.PutSetting(ctx, key, value)
}

func (p *flakyPrimary) Put(ctx context.Context, record prediction.PredictionResult) error {
	p.puts++
	if p.puts > p.allowPuts {
		return errors.New("disk I/O error")
	}
	return p.SQLiteStore.Put(ctx, record)
}

func (p *flakyPrimary) GetAll(ctx context.Context) ([]prediction.PredictionResult, error) {
	if p.readErr != nil {
		return nil, p.readErr
	}
	return p.SQLiteStore.GetAll(ctx)
}

func newFlakyStore(t *testing.T, slot kvslot.Slot, allowPuts int) (*Store, *flakyPrimary) {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "flaky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	p := &flakyPrimary{SQLiteStore: sqlite, allowPuts: allowPuts}
	return &Store{
		primary:   p,
		fallback:  newFallbackStore(slot, DefaultFallbackKey, DefaultSettingsKey, DefaultFallbackLimit),
		backend:   BackendPrimary,
		slot:      slot,
		legacyKey: DefaultLegacyKey,
		logger:    testLogger(),
	}, p
}

func TestMigrateFailureLeavesKeyForRetry(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	seedList(t, slot, DefaultLegacyKey, makeRecord(1), makeRecord(2), makeRecord(3))
	store, p := newFlakyStore(t, slot, 1)

	report, err := store.Migrate(ctx)
	require.Error(t, err)
	require.Equal(t, 1, report.Records)
	_, ok, err := slot.Get(ctx, DefaultLegacyKey)
	require.NoError(t, err)
	require.True(t, ok)

	p.allowPuts = 100
	report, err = store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.Records)

	all, err := p.SQLiteStore.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestPutFallsBackWhenPrimaryWriteFails(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	store, p := newFlakyStore(t, slot, 0)

	require.NoError(t, store.Put(ctx, makeRecord(4)))
	stranded, found, err := readRecordList(ctx, slot, DefaultFallbackKey)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, stranded, 1)

	p.readErr = errors.New("database is locked")
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "pred-004", all[0].ID)

	p.readErr = nil
	p.allowPuts = 100
	report, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Records)
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFailedPrimaryPutStaysReadable(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	store, p := newFlakyStore(t, slot, 0)

	require.NoError(t, p.SQLiteStore.Put(ctx, makeRecord(8)))
	require.NoError(t, store.Put(ctx, makeRecord(7)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(newestFirst(makeRecord(7), makeRecord(8)), all, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("GetAll mismatch (-want +got):\n%s", diff)
	}

	got, ok, err := store.GetByID(ctx, "pred-007")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, makeRecord(7).RiskScore, got.RiskScore)

	medium, err := store.GetByRiskLevel(ctx, prediction.RiskMedium)
	require.NoError(t, err)
	require.Len(t, medium, 1)
	require.Equal(t, "pred-007", medium[0].ID)

	high, err := store.GetByRiskLevel(ctx, prediction.RiskHigh)
	require.NoError(t, err)
	require.Len(t, high, 1)
	require.Equal(t, "pred-008", high[0].ID)

	_, ok, err = store.GetByID(ctx, "pred-404")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStrandedDuplicateLosesToPrimaryCopy(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	store, p := newFlakyStore(t, slot, 0)

	stale := makeRecord(5)
	stale.RiskScore = 99
	seedList(t, slot, DefaultFallbackKey, stale)
	require.NoError(t, p.SQLiteStore.Put(ctx, makeRecord(5)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, makeRecord(5).RiskScore, all[0].RiskScore)
}

func TestFailedPrimarySettingWriteStaysReadable(t *testing.T) {
	ctx := context.Background()
	store, p := newFlakyStore(t, kvslot.NewMemorySlot(), 0)
	p.settingErr = errors.New("disk I/O error")

	require.NoError(t, store.PutSetting(ctx, "theme", json.RawMessage(`"dark"`)))
	value, ok, err := store.GetSetting(ctx, "theme")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `"dark"`, string(value))
}

func TestDeleteAndClearAlsoTouchFallbackList(t *testing.T) {
	ctx := context.Background()
	slot := kvslot.NewMemorySlot()
	seedList(t, slot, DefaultFallbackKey, makeRecord(1), makeRecord(2))
	store := openSQLite(t, slot)

	require.NoError(t, store.Delete(ctx, "pred-001"))
	list, _, err := readRecordList(ctx, slot, DefaultFallbackKey)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.Clear(ctx))
	_, ok, err := slot.Get(ctx, DefaultFallbackKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	store := openSQLite(t, kvslot.NewMemorySlot())
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("RISKDASH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RISKDASH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, Options{Driver: DriverPostgres, PostgresDSN: dsn, Logger: testLogger()})
	require.NoError(t, err)
	defer store.Close()
	require.Equal(t, BackendPrimary, store.Backend())
	require.NoError(t, store.Clear(ctx))

	want := []prediction.PredictionResult{makeRecord(1), makeRecord(2)}
	for _, rec := range want {
		require.NoError(t, store.Put(ctx, rec))
	}
	got, err := store.GetAll(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(newestFirst(want...), got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("GetAll mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, store.Clear(ctx))
}
