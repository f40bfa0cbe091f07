package prediction

import "fmt"

// Error codes carried by apperrors.AppError values returned from this package.
const (
	CodeInvalidInput       = "invalid_input"
	CodeColdStartExhausted = "cold_start_exhausted"
	CodeUpstreamRejected   = "upstream_rejected"
	CodeNetworkUnavailable = "network_unavailable"
	CodePersistenceFailure = "persistence_failure"
	CodeNotFound           = "not_found"
)

// FailureKind classifies a terminal Predict failure.
type FailureKind string

const (
	// FailureColdStartExhausted means every attempt hit a warming upstream (5xx) or timed out.
	FailureColdStartExhausted FailureKind = "cold_start_exhausted"
	// FailureUpstreamRejected is a definitive non-retryable upstream answer.
	FailureUpstreamRejected FailureKind = "upstream_rejected"
	// FailureNetworkUnavailable means the last attempt could not connect at all.
	FailureNetworkUnavailable FailureKind = "network_unavailable"
)

// PredictionError carries the details of a terminal upstream failure.
// It is wrapped inside an apperrors.AppError whose Code equals string(Kind).
type PredictionError struct {
	Kind         FailureKind
	Attempts     int
	StatusCode   int
	UpstreamCode string
	Message      string
	Err          error
}

func (e *PredictionError) Error() string {
	msg := fmt.Sprintf("%s after %d attempt(s)", e.Kind, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
