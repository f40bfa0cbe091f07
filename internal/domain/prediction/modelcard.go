package prediction

import "time"

// FeatureImportance is one bar of the feature importance chart.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ModelMetrics describes the evaluation of the deployed scoring model.
type ModelMetrics struct {
	Accuracy          float64             `json:"accuracy"`
	Precision         float64             `json:"precision"`
	Recall            float64             `json:"recall"`
	F1Score           float64             `json:"f1Score"`
	ConfusionMatrix   [][]int             `json:"confusionMatrix"`
	FeatureImportance []FeatureImportance `json:"featureImportance"`
	ModelVersion      string              `json:"modelVersion"`
	LastUpdated       time.Time           `json:"lastUpdated"`
}

// CurrentModelMetrics returns the published card for the upstream model.
// The values come from the model's hold-out evaluation and are not
// recomputed locally.
func CurrentModelMetrics(now time.Time) ModelMetrics {
	return ModelMetrics{
		Accuracy:  0.7334,
		Precision: 0.75,
		Recall:    0.69,
		F1Score:   0.72,
		ConfusionMatrix: [][]int{
			{5411, 1527},
			{2131, 4654},
		},
		FeatureImportance: []FeatureImportance{
			{Feature: "Age", Importance: 0.25},
			{Feature: "Blood Pressure (Systolic)", Importance: 0.18},
			{Feature: "Blood Pressure (Diastolic)", Importance: 0.14},
			{Feature: "BMI", Importance: 0.12},
			{Feature: "Cholesterol", Importance: 0.10},
			{Feature: "Weight", Importance: 0.08},
			{Feature: "Glucose", Importance: 0.05},
			{Feature: "Height", Importance: 0.03},
			{Feature: "Smoking", Importance: 0.02},
			{Feature: "Physical Activity", Importance: 0.02},
			{Feature: "Alcohol", Importance: 0.01},
		},
		ModelVersion: DefaultModelVersion,
		LastUpdated:  now,
	}
}

const (
	accuracyHistoryDays = 30

	DefaultDatasetSamples = 100
	MaxDatasetSamples     = 1000
)

// AccuracyPoint is one day of the accuracy trend chart.
type AccuracyPoint struct {
	Date      string  `json:"date"`
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// AccuracyHistory returns one point per day for the last 30 days, oldest
// first, ending on now's date. Each metric stays within a 4 point band just
// below its published value; jitter must return values in [0,1).
func AccuracyHistory(now time.Time, jitter func() float64) []AccuracyPoint {
	points := make([]AccuracyPoint, 0, accuracyHistoryDays+1)
	for i := accuracyHistoryDays; i >= 0; i-- {
		points = append(points, AccuracyPoint{
			Date:      now.UTC().AddDate(0, 0, -i).Format("2006-01-02"),
			Accuracy:  0.7134 + jitter()*0.04,
			Precision: 0.73 + jitter()*0.04,
			Recall:    0.67 + jitter()*0.04,
		})
	}
	return points
}

// DatasetSample is one point of the age/cholesterol scatter plot.
type DatasetSample struct {
	Age         int    `json:"age"`
	Cholesterol int    `json:"cholesterol"`
	Risk        int    `json:"risk"`
	Gender      Gender `json:"gender"`
}

// DatasetSamples draws limit synthetic training-set points: age 30-80,
// cholesterol 150-300, binary risk. limit is clamped to
// [1, MaxDatasetSamples]; zero means DefaultDatasetSamples.
func DatasetSamples(limit int, intn func(n int) int) []DatasetSample {
	switch {
	case limit <= 0:
		limit = DefaultDatasetSamples
	case limit > MaxDatasetSamples:
		limit = MaxDatasetSamples
	}
	genders := []Gender{GenderMale, GenderFemale, GenderOther}
	samples := make([]DatasetSample, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, DatasetSample{
			Cholesterol: 150 + intn(151),
			Age:         30 + intn(51),
			Risk:        intn(2),
			Gender:      genders[intn(len(genders))],
		})
	}
	return samples
}
