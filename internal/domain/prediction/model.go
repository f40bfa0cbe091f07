package prediction

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/cardiopredict/riskdash/pkg/errors"
)

// Gender is the patient gender as collected by the dashboard form.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// RiskLevel is the three-valued banding derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel accepts "", "all" (meaning no filter) or one of the three levels.
func ParseRiskLevel(raw string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", "all":
		return "", nil
	case RiskLow:
		return RiskLow, nil
	case RiskMedium:
		return RiskMedium, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", apperrors.Wrap(CodeInvalidInput, fmt.Sprintf("unknown risk level %q", raw), nil)
	}
}

// LevelForScore bands a 0-100 score: below 35 is low, up to and including 50 is medium.
func LevelForScore(score int) RiskLevel {
	switch {
	case score < 35:
		return RiskLow
	case score <= 50:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// PredictionInput holds the clinical fields entered on the assessment form.
type PredictionInput struct {
	Age                    int      `json:"age"`
	Gender                 Gender   `json:"gender"`
	Height                 *float64 `json:"height,omitempty"`
	Weight                 *float64 `json:"weight,omitempty"`
	Cholesterol            float64  `json:"cholesterol"`
	BloodPressureSystolic  int      `json:"bloodPressureSystolic"`
	BloodPressureDiastolic int      `json:"bloodPressureDiastolic"`
	Smoking                bool     `json:"smoking"`
	Diabetes               bool     `json:"diabetes"`
	BMI                    *float64 `json:"bmi,omitempty"`
	FamilyHistory          *bool    `json:"familyHistory,omitempty"`
}

// Validate applies the assessment form's range and consistency rules.
// The pipeline itself never calls it; transports do before calling Predict.
func (in PredictionInput) Validate() error {
	var problems []string
	if in.Age < 18 || in.Age > 120 {
		problems = append(problems, "age must be between 18 and 120")
	}
	switch in.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		problems = append(problems, "gender must be one of male, female, other")
	}
	if in.Cholesterol < 100 || in.Cholesterol > 400 {
		problems = append(problems, "cholesterol must be between 100 and 400 mg/dL")
	}
	if in.BloodPressureSystolic < 70 || in.BloodPressureSystolic > 250 {
		problems = append(problems, "systolic blood pressure must be between 70 and 250 mmHg")
	}
	if in.BloodPressureDiastolic < 40 || in.BloodPressureDiastolic > 150 {
		problems = append(problems, "diastolic blood pressure must be between 40 and 150 mmHg")
	}
	if in.BloodPressureSystolic <= in.BloodPressureDiastolic {
		problems = append(problems, "systolic blood pressure must be greater than diastolic")
	}
	if in.BMI != nil && (*in.BMI < 10 || *in.BMI > 60) {
		problems = append(problems, "bmi must be between 10 and 60")
	}
	if in.Height != nil && *in.Height <= 0 {
		problems = append(problems, "height must be positive")
	}
	if in.Weight != nil && *in.Weight <= 0 {
		problems = append(problems, "weight must be positive")
	}
	if len(problems) > 0 {
		return apperrors.Wrap(CodeInvalidInput, strings.Join(problems, "; "), nil)
	}
	return nil
}

// WireInput is the exact payload the remote scoring service expects.
type WireInput struct {
	Age         int     `json:"age"`
	Gender      int     `json:"gender"`
	Height      int     `json:"height"`
	Weight      float64 `json:"weight"`
	APHi        int     `json:"ap_hi"`
	APLo        int     `json:"ap_lo"`
	Cholesterol int     `json:"cholesterol"`
	Gluc        int     `json:"gluc"`
	Smoke       int     `json:"smoke"`
	Alco        int     `json:"alco"`
	Active      int     `json:"active"`
	BMI         float64 `json:"bmi"`
}

// WireResponse is the upstream success body: a single binary risk signal.
type WireResponse struct {
	Risk *int `json:"risk"`
}

// RiskFactor explains one contribution to the displayed risk.
type RiskFactor struct {
	Name        string `json:"name"`
	Impact      int    `json:"impact"`
	Description string `json:"description"`
}

// PredictionResult is the persisted, immutable outcome of one assessment.
type PredictionResult struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Input           PredictionInput `json:"input"`
	RiskScore       int             `json:"riskScore"`
	RiskLevel       RiskLevel       `json:"riskLevel"`
	Recommendations []string        `json:"recommendations"`
	Factors         []RiskFactor    `json:"factors"`
	ModelVersion    string          `json:"modelVersion"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// HistoryFilters narrows and paginates the history view.
type HistoryFilters struct {
	RiskLevel RiskLevel
	Page      int
	Limit     int
}

// Page is one slice of the (filtered) history.
type Page struct {
	Data    []PredictionResult `json:"data"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"hasMore"`
}

// Summary backs the dashboard stat cards.
type Summary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

// ExportBlob is a downloadable export payload.
type ExportBlob struct {
	Filename    string
	ContentType string
	Data        []byte
}

// StoreStatus reports which local store backend is serving requests.
type StoreStatus struct {
	Backend string `json:"backend"`
	Driver  string `json:"driver,omitempty"`
}

// UpstreamResponse is the raw HTTP outcome of one scoring call.
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
}
