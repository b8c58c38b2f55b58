// Package errors defines the application error type shared by the CLI and
// the HTTP server, and its JSON rendering.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/tidwall/gjson"
)

// Error codes.
const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_UNAVAILABLE"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
)

type requestIDKey struct{}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code      string
	Status    int
	Message   string
	Details   map[string]any
	RequestID string
	Err       error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Envelope converts e to a gofulmen error envelope.
func (e *AppError) Envelope() *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if e.RequestID != "" {
		env = env.WithCorrelationID(e.RequestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// New creates an AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NewMethodNotAllowed reports an unsupported method.
func NewMethodNotAllowed(message string) *AppError {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, message)
}

// NewServiceUnavailable reports an unhealthy service with health check details.
func NewServiceUnavailable(message string, details map[string]any) *AppError {
	e := New(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
	e.Details = details
	return e
}

// NewExternalServiceError reports an unreachable dependency.
func NewExternalServiceError(message string) *AppError {
	return New(http.StatusBadGateway, CodeExternalService, message)
}

// NewInvalidArgument reports bad caller input.
func NewInvalidArgument(message string, err error) *AppError {
	e := New(http.StatusBadRequest, CodeInvalidArgument, message)
	e.Err = err
	return e
}

// WrapInternal wraps err as an internal error, tagging the request id from ctx.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	e := New(http.StatusInternalServerError, CodeInternal, message)
	e.Err = err
	e.RequestID = RequestID(ctx)
	return e
}

// HTTPError is the error body of an HTTP error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON shape of every error the server returns.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// FromEnvelope renders a gofulmen envelope as an HTTP error body.
//
// The envelope is read through its JSON form so only its wire contract
// matters here.
func FromEnvelope(env *gferrors.ErrorEnvelope) HTTPErrorResponse {
	raw, err := json.Marshal(env)
	if err != nil {
		return HTTPErrorResponse{Error: HTTPError{Code: CodeInternal, Message: "unrenderable error"}}
	}
	doc := gjson.ParseBytes(raw)
	out := HTTPError{
		Code:      doc.Get("code").String(),
		Message:   doc.Get("message").String(),
		RequestID: doc.Get("correlation_id").String(),
	}
	if ctx := doc.Get("context"); ctx.IsObject() {
		if details, ok := ctx.Value().(map[string]any); ok && len(details) > 0 {
			out.Details = details
		}
	}
	return HTTPErrorResponse{Error: out}
}

// WriteEnvelope writes env as a JSON error response with status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(FromEnvelope(env))
}

// RespondWithError writes err as a JSON error response.
//
// An *AppError keeps its status and code; anything else becomes a 500.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		appErr = WrapInternal(r.Context(), err, "internal server error")
	}
	if appErr.RequestID == "" {
		appErr.RequestID = RequestID(r.Context())
	}
	WriteEnvelope(w, appErr.Envelope(), appErr.Status)
}
