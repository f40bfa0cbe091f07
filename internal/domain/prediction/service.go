package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/cardiopredict/riskdash/pkg/errors"
	"github.com/cardiopredict/riskdash/pkg/metrics"
)

// Service exposes the resilient prediction pipeline.
type Service interface {
	Predict(ctx context.Context, input PredictionInput) (PredictionResult, error)
}

type service struct {
	cfg         Config
	client      ScoringClient
	store       Store
	transformer *Transformer
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewService wires the pipeline: transform, call upstream with retries, persist.
func NewService(cfg Config, client ScoringClient, store Store, logger *slog.Logger) Service {
	cfg = cfg.withDefaults()
	return &service{
		cfg:         cfg,
		client:      client,
		store:       store,
		transformer: NewTransformer(cfg.ModelVersion, cfg.UserID),
		logger:      logger.With("component", "prediction.service"),
		sleep:       sleepContext,
	}
}

type runState int

const (
	stateAttempting runState = iota
	stateBackoff
	stateSucceeded
	stateExhausted
)

type outcomeKind string

const (
	outcomeSuccess   outcomeKind = "success"
	outcomeColdStart outcomeKind = "cold_start"
	outcomeTimeout   outcomeKind = "timeout"
	outcomeNetwork   outcomeKind = "network"
	outcomeRejected  outcomeKind = "rejected"
	outcomeMalformed outcomeKind = "malformed"
	outcomeCanceled  outcomeKind = "canceled"
)

type attemptOutcome struct {
	kind         outcomeKind
	statusCode   int
	response     WireResponse
	upstreamCode string
	message      string
	err          error
}

func (o attemptOutcome) retryable() bool {
	switch o.kind {
	case outcomeColdStart, outcomeTimeout, outcomeNetwork:
		return true
	default:
		return false
	}
}

// Predict runs Attempting -> (Backoff -> Attempting)* -> Succeeded | Exhausted.
// Attempts are strictly sequential; cancelling ctx aborts the in-flight attempt
// and stops further retries.
func (s *service) Predict(ctx context.Context, input PredictionInput) (PredictionResult, error) {
	wire := ToWireFormat(input)
	policy := backoff.WithMaxRetries(&linearBackOff{base: s.cfg.BaseBackoff}, uint64(s.cfg.MaxAttempts-1))

	var (
		state   = stateAttempting
		attempt int
		last    attemptOutcome
	)
	for {
		switch state {
		case stateAttempting:
			attempt++
			s.logger.Debug("scoring attempt", "attempt", attempt, "max_attempts", s.cfg.MaxAttempts)
			last = s.attempt(ctx, wire)
			metrics.PredictAttempts.WithLabelValues(string(last.kind)).Inc()

			switch {
			case last.kind == outcomeSuccess:
				state = stateSucceeded
			case last.kind == outcomeCanceled:
				metrics.PredictResults.WithLabelValues("canceled").Inc()
				return PredictionResult{}, fmt.Errorf("prediction canceled on attempt %d: %w", attempt, last.err)
			case last.retryable():
				state = stateBackoff
			default:
				return PredictionResult{}, s.terminal(FailureUpstreamRejected, attempt, last)
			}

		case stateBackoff:
			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				state = stateExhausted
				continue
			}
			s.logger.Warn("upstream not ready, retrying",
				"attempt", attempt,
				"max_attempts", s.cfg.MaxAttempts,
				"outcome", last.kind,
				"status", last.statusCode,
				"retry_in", delay.String(),
			)
			metrics.RetryBackoff.Observe(delay.Seconds())
			if err := s.sleep(ctx, delay); err != nil {
				metrics.PredictResults.WithLabelValues("canceled").Inc()
				return PredictionResult{}, fmt.Errorf("prediction canceled during backoff after attempt %d: %w", attempt, err)
			}
			state = stateAttempting

		case stateSucceeded:
			result := s.transformer.FromWireFormat(last.response, input)
			if err := s.store.Put(ctx, result); err != nil {
				metrics.PersistenceFailures.WithLabelValues("put").Inc()
				s.logger.Warn("persist prediction failed, returning unsaved result", "id", result.ID, "error", err)
			}
			metrics.PredictResults.WithLabelValues("success").Inc()
			s.logger.Info("prediction completed", "id", result.ID, "attempts", attempt, "risk_level", result.RiskLevel)
			return result, nil

		case stateExhausted:
			kind := FailureColdStartExhausted
			if last.kind == outcomeNetwork {
				kind = FailureNetworkUnavailable
			}
			return PredictionResult{}, s.terminal(kind, attempt, last)
		}
	}
}

func (s *service) attempt(ctx context.Context, wire WireInput) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	resp, err := s.client.Score(attemptCtx, wire)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return attemptOutcome{kind: outcomeCanceled, err: ctx.Err()}
		case isTimeout(err):
			return attemptOutcome{kind: outcomeTimeout, err: err}
		default:
			return attemptOutcome{kind: outcomeNetwork, err: err}
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var decoded WireResponse
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return attemptOutcome{kind: outcomeMalformed, statusCode: resp.StatusCode, message: "malformed upstream response", err: err}
		}
		if decoded.Risk == nil {
			return attemptOutcome{kind: outcomeMalformed, statusCode: resp.StatusCode, message: "upstream response missing risk"}
		}
		return attemptOutcome{kind: outcomeSuccess, statusCode: resp.StatusCode, response: decoded}
	}

	code, message := parseErrorBody(resp)
	kind := outcomeRejected
	if isColdStartStatus(resp.StatusCode) {
		kind = outcomeColdStart
	}
	return attemptOutcome{kind: kind, statusCode: resp.StatusCode, upstreamCode: code, message: message}
}

func (s *service) terminal(kind FailureKind, attempts int, last attemptOutcome) error {
	perr := &PredictionError{
		Kind:         kind,
		Attempts:     attempts,
		StatusCode:   last.statusCode,
		UpstreamCode: last.upstreamCode,
		Message:      last.message,
		Err:          last.err,
	}
	metrics.PredictResults.WithLabelValues(string(kind)).Inc()
	s.logger.Error("prediction failed", "kind", kind, "attempts", attempts, "status", last.statusCode, "error", perr)

	var message string
	switch kind {
	case FailureColdStartExhausted:
		message = fmt.Sprintf("prediction service did not respond after %d attempts, it may still be starting up", attempts)
	case FailureNetworkUnavailable:
		message = "unable to reach the prediction service"
	default:
		message = "prediction service rejected the request"
		if last.message != "" {
			message += ": " + last.message
		}
	}
	return apperrors.Wrap(string(kind), message, perr)
}

func isColdStartStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseErrorBody extracts {message|detail, code} from a non-2xx body,
// falling back to the raw status text.
func parseErrorBody(resp UpstreamResponse) (code, message string) {
	var body struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
		Code    string          `json:"code"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		message = body.Message
		if message == "" && len(body.Detail) > 0 {
			var detail string
			if json.Unmarshal(body.Detail, &detail) == nil {
				message = detail
			} else {
				message = string(body.Detail)
			}
		}
		code = body.Code
	}
	if message == "" {
		raw := strings.TrimSpace(string(resp.Body))
		if raw != "" && len(raw) <= 512 {
			message = raw
		} else {
			message = fmt.Sprintf("status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
	}
	return code, message
}

// linearBackOff yields base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base time.Duration
	step int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.step++
	return b.base * time.Duration(b.step)
}

func (b *linearBackOff) Reset() {
	b.step = 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
