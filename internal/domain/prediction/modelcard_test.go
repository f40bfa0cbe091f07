package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCurrentModelMetrics(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	card := CurrentModelMetrics(now)
	require.Equal(t, 0.7334, card.Accuracy)
	require.Equal(t, DefaultModelVersion, card.ModelVersion)
	require.Len(t, card.FeatureImportance, 11)
	require.Equal(t, now, card.LastUpdated)
}

func TestAccuracyHistoryCoversThirtyDays(t *testing.T) {
	now := time.Date(2024, 3, 5, 18, 0, 0, 0, time.UTC)

	low := AccuracyHistory(now, func() float64 { return 0 })
	require.Len(t, low, 31)
	require.Equal(t, "2024-02-04", low[0].Date)
	require.Equal(t, "2024-03-05", low[30].Date)
	require.InDelta(t, 0.7134, low[0].Accuracy, 1e-9)
	require.InDelta(t, 0.73, low[0].Precision, 1e-9)
	require.InDelta(t, 0.67, low[0].Recall, 1e-9)

	high := AccuracyHistory(now, func() float64 { return 0.999 })
	for _, p := range high {
		require.Less(t, p.Accuracy, 0.7534)
		require.Less(t, p.Precision, 0.77)
		require.Less(t, p.Recall, 0.71)
	}
}

func TestDatasetSamplesRangesAndLimits(t *testing.T) {
	maxDraw := func(n int) int { return n - 1 }
	samples := DatasetSamples(3, maxDraw)
	require.Len(t, samples, 3)
	require.Equal(t, DatasetSample{Age: 80, Cholesterol: 300, Risk: 1, Gender: GenderOther}, samples[0])

	minDraw := func(int) int { return 0 }
	require.Equal(t, DatasetSample{Age: 30, Cholesterol: 150, Risk: 0, Gender: GenderMale}, DatasetSamples(1, minDraw)[0])

	require.Len(t, DatasetSamples(0, minDraw), DefaultDatasetSamples)
	require.Len(t, DatasetSamples(MaxDatasetSamples+5, minDraw), MaxDatasetSamples)
}
