package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
	apperrors "github.com/cardiopredict/riskdash/pkg/errors"
)

// HTTPError captures the metadata required to serialize an error response consistently.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewHTTPError is a helper to build an HTTPError instance.
func NewHTTPError(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

var codeStatus = map[string]int{
	prediction.CodeInvalidInput:       http.StatusBadRequest,
	prediction.CodeNotFound:           http.StatusNotFound,
	prediction.CodeUpstreamRejected:   http.StatusBadGateway,
	prediction.CodeColdStartExhausted: http.StatusGatewayTimeout,
	prediction.CodeNetworkUnavailable: http.StatusServiceUnavailable,
	prediction.CodePersistenceFailure: http.StatusInternalServerError,
}

// fromDomainError maps an AppError code onto a transport status.
func fromDomainError(err error) *HTTPError {
	code := apperrors.CodeOf(err)
	if status, ok := codeStatus[code]; ok {
		return NewHTTPError(status, code, apperrors.MessageOf(err), err)
	}
	if errors.Is(err, context.Canceled) {
		return NewHTTPError(http.StatusRequestTimeout, "canceled", "request canceled", err)
	}
	return asHTTPError(err)
}

func asHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "something went wrong",
		Err:     err,
	}
}

// abortWithError records err for errorHandlingMiddleware and stops the chain.
func abortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}
