package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"dfsportal/internal/types"
)

// maxRequestBodySize bounds JSON request bodies. A full sales report draft
// is a few kilobytes.
const maxRequestBodySize = 1 << 20

// RetryAfterDetail is the AppError detail key Error turns into a Retry-After
// header. The value is whole seconds.
const RetryAfterDetail = "retry_after_seconds"

// APIResponse is the success envelope: {"data": ..., "meta": ...}.
type APIResponse struct {
	Data any                 `json:"data,omitempty"`
	Meta *types.ResponseMeta `json:"meta,omitempty"`
}

// APIErrorResponse is the error envelope: {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is what a client learns about a failure.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes v with status. A value that cannot be marshalled turns into a
// 500 internal_unexpected_error instead of a truncated body.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to encode response",
			RequestID: types.GetRequestID(r.Context()),
		}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Data writes payload in the success envelope.
func Data(w http.ResponseWriter, r *http.Request, status int, payload any) {
	JSON(w, r, status, APIResponse{Data: payload})
}

// DataWithWarnings is Data with non-blocking warnings in meta, e.g. a stats
// snapshot that is older than expected. No warnings means no meta.
func DataWithWarnings(w http.ResponseWriter, r *http.Request, status int, payload any, warnings ...string) {
	resp := APIResponse{Data: payload}
	if len(warnings) > 0 {
		resp.Meta = &types.ResponseMeta{Warnings: warnings}
	}
	JSON(w, r, status, resp)
}

// List writes items with their count in meta. A nil slice is encoded as [].
func List[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	JSON(w, r, http.StatusOK, APIResponse{Data: items, Meta: &types.ResponseMeta{Count: &n}})
}

// Error writes err in the error envelope with the status its code maps to.
// Wrapped causes stay in the process; only code, message and details reach
// the client. A RetryAfterDetail is also sent as a Retry-After header.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr := clientError(err)
	if secs, ok := appErr.Details[RetryAfterDetail].(int); ok && secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{Error: ErrorDetail{
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: types.GetRequestID(r.Context()),
	}})
}

// clientError maps err onto the AppError the client sees. A draft scan cut
// short by the request deadline is a retryable 503, anything that is not an
// AppError an opaque 500.
func clientError(err error) *types.AppError {
	var appErr *types.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(types.ErrCodeRequestTimeout, "the request took too long; try again", err)
	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}
}

// DecodeJSON reads exactly one JSON object from the body into dst. Unknown
// fields, an empty or oversized body and trailing values are all rejected
// with validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeFailure(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil, nil)
	}
	return nil
}

func invalidJSON(msg string, err error, details map[string]any) *types.AppError {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, msg, err, details)
}

func decodeFailure(err error) *types.AppError {
	var (
		tooLarge *http.MaxBytesError
		syntax   *json.SyntaxError
		mismatch *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err,
			map[string]any{"limit_bytes": tooLarge.Limit})
	case errors.As(err, &syntax):
		return invalidJSON("malformed JSON in request body", err, map[string]any{"offset": syntax.Offset})
	case errors.As(err, &mismatch):
		return invalidJSON("invalid value for field", err,
			map[string]any{"field": mismatch.Field, "expected": mismatch.Type.String()})
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err, nil)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("request body ends inside a JSON value", err, nil)
	}
	// encoding/json has no typed error for DisallowUnknownFields.
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return invalidJSON("unknown field in request body", err, map[string]any{"field": strings.Trim(field, `"`)})
	}
	return invalidJSON("invalid JSON in request body", err, nil)
}
