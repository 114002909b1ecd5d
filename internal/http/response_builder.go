// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for JSON responses and the
// mapping from service errors to status codes.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"budgetly/internal/auth"
	"budgetly/internal/core"
	"budgetly/internal/form"
	"budgetly/internal/log"
	"budgetly/internal/optimistic"
	"budgetly/internal/store"
)

// Banner messages shown by the front-end when a request fails as a whole.
const (
	BannerStoreUnavailable = "Could not reach the data store. Please try again."
	BannerTimeout          = "The data store took too long to answer. Please try again."
	BannerBusy             = "An update for this record is still running."
	BannerNotFound         = "Record not found."
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A nil body writes no content.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is the shape of every error response: a banner, inline field
// errors, or both.
type errorBody struct {
	Error  string           `json:"error,omitempty"`
	Errors core.FieldErrors `json:"errors,omitempty"`
}

// ErrorResponse creates a banner error response.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

// FieldErrorResponse creates a response carrying inline field errors.
func FieldErrorResponse(statusCode int, fe core.FieldErrors) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Errors: fe})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// classify maps err to a status code, a banner and inline field errors.
// Field errors become 422 (401 and 403 for credential and deactivation
// failures), missing records 404, concurrent updates 409 and store
// failures 502.
func classify(err error) (int, string, core.FieldErrors) {
	var fe core.FieldErrors
	hasFields := errors.As(err, &fe)
	var se *store.StatusError

	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest, "Request body could not be read.", nil
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "Request body is too large.", nil
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "", fe
	case errors.Is(err, auth.ErrUserInactive):
		return http.StatusForbidden, "", fe
	case hasFields:
		return http.StatusUnprocessableEntity, "", fe
	case errors.Is(err, core.ErrInvalidMonth):
		return http.StatusUnprocessableEntity, "", core.FieldErrors{"month": "Month must use the YYYY-MM format."}
	case errors.Is(err, optimistic.ErrInFlight), errors.Is(err, form.ErrSubmitting), errors.Is(err, form.ErrClosed):
		return http.StatusConflict, BannerBusy, nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, BannerNotFound, nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, BannerTimeout, nil
	case errors.As(err, &se) && se.Code >= 400 && se.Code < 500:
		return se.Code, BannerStoreUnavailable, nil
	default:
		return http.StatusBadGateway, BannerStoreUnavailable, nil
	}
}

// ErrorFor builds the error response for err.
func ErrorFor(err error) *JSONResponseBuilder {
	code, banner, fe := classify(err)
	return NewJSONResponse().Status(code).Body(errorBody{Error: banner, Errors: fe})
}

// logFailure logs err with the request logger. Rejections are expected
// traffic and logged at debug.
func logFailure(r *http.Request, op string, code int, err error) {
	logger := log.FromContext(r.Context())
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op, log.FieldPath, r.URL.Path, log.FieldError, err)
		return
	}
	logger.DebugContext(r.Context(), "Request rejected",
		log.FieldOperation, op, log.FieldStatusCode, code, log.FieldError, err)
}

// writeError logs err and writes its response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFor(err)
	logFailure(r, op, resp.statusCode, err)
	resp.Write(w)
}
