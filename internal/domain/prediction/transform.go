package prediction

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/cardiopredict/riskdash/pkg/util"
)

const (
	defaultHeightCM = 170.0
	defaultBMI      = 25.0
)

// ToWireFormat maps form input onto the upstream schema. Height defaults to
// 170 cm, BMI to 25 and weight is derived from both when absent. Alcohol and
// activity are not collected and are sent as non-drinker and active.
func ToWireFormat(in PredictionInput) WireInput {
	bmi := defaultBMI
	if in.BMI != nil && *in.BMI > 0 {
		bmi = *in.BMI
	}
	height := defaultHeightCM
	if in.Height != nil && *in.Height > 0 {
		height = *in.Height
	}
	weight := math.Round(bmi * math.Pow(height/100, 2))
	if in.Weight != nil && *in.Weight > 0 {
		weight = *in.Weight
	}

	return WireInput{
		Age:         in.Age,
		Gender:      wireGender(in.Gender),
		Height:      int(math.Round(height)),
		Weight:      weight,
		APHi:        in.BloodPressureSystolic,
		APLo:        in.BloodPressureDiastolic,
		Cholesterol: cholesterolLevel(in.Cholesterol),
		Gluc:        glucoseLevel(in.Diabetes),
		Smoke:       boolFlag(in.Smoking),
		Alco:        0,
		Active:      1,
		BMI:         bmi,
	}
}

// wireGender encodes 1=female, 2=male; "other" is sent as male.
func wireGender(g Gender) int {
	if g == GenderFemale {
		return 1
	}
	return 2
}

func cholesterolLevel(mgdl float64) int {
	switch {
	case mgdl > 240:
		return 3
	case mgdl >= 200:
		return 2
	default:
		return 1
	}
}

func glucoseLevel(diabetes bool) int {
	if diabetes {
		return 2
	}
	return 1
}

func boolFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Transformer turns an upstream risk signal into a displayable record.
// The score is drawn pseudo-randomly inside the band selected by the signal,
// so identical inputs can produce different scores across calls.
type Transformer struct {
	modelVersion string
	userID       string
	intn         func(n int) int
	now          func() time.Time
	newID        func() string
}

// NewTransformer builds a Transformer with real randomness, clock and ids.
func NewTransformer(modelVersion, userID string) *Transformer {
	return &Transformer{
		modelVersion: modelVersion,
		userID:       userID,
		intn:         rand.IntN,
		now:          util.NowUTC,
		newID:        newPredictionID,
	}
}

// newPredictionID returns a time-ordered identifier (UUIDv7).
func newPredictionID() string {
	return "pred-" + uuid.Must(uuid.NewV7()).String()
}

// FromWireFormat builds the record for a risk signal. A zero signal scores in
// [5,25); any other signal scores in [35,85).
func (t *Transformer) FromWireFormat(resp WireResponse, in PredictionInput) PredictionResult {
	signal := 0
	if resp.Risk != nil {
		signal = *resp.Risk
	}

	var score int
	if signal == 0 {
		score = 5 + t.intn(20)
	} else {
		score = 35 + t.intn(50)
	}

	return PredictionResult{
		ID:              t.newID(),
		UserID:          t.userID,
		Input:           in,
		RiskScore:       score,
		RiskLevel:       LevelForScore(score),
		Recommendations: recommendationsFor(in),
		Factors:         factorsFor(in),
		ModelVersion:    t.modelVersion,
		CreatedAt:       t.now().UTC(),
	}
}

const genericRecommendation = "Continue maintaining healthy lifestyle habits"

func recommendationsFor(in PredictionInput) []string {
	var out []string
	if in.Smoking {
		out = append(out, "Consider smoking cessation programs")
	}
	if in.BloodPressureSystolic > 140 {
		out = append(out, "Monitor blood pressure regularly")
	}
	if in.Cholesterol > 200 {
		out = append(out, "Consider dietary changes to reduce cholesterol")
	}
	if in.Diabetes {
		out = append(out, "Maintain blood glucose control")
	}
	if in.BMI != nil && *in.BMI > 25 {
		out = append(out, "Consider weight management plan")
	}
	if len(out) == 0 {
		out = append(out, genericRecommendation)
	}
	return out
}

func factorsFor(in PredictionInput) []RiskFactor {
	out := []RiskFactor{}
	if in.Smoking {
		out = append(out, RiskFactor{Name: "Smoking", Impact: 25, Description: "Smoking significantly increases cardiovascular risk"})
	}
	if in.BloodPressureSystolic > 140 {
		out = append(out, RiskFactor{Name: "High Blood Pressure", Impact: 30, Description: "Elevated systolic blood pressure"})
	}
	if in.Cholesterol > 240 {
		out = append(out, RiskFactor{Name: "High Cholesterol", Impact: 20, Description: "Cholesterol level above recommended range"})
	}
	if in.Age > 55 {
		out = append(out, RiskFactor{Name: "Age", Impact: 15, Description: "Age is a non-modifiable risk factor"})
	}
	return out
}
