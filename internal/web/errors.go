package web

// errors.go turns errors into JSON responses.
//
// Every error is logged with its technical detail and the request id, then
// answered with the coded user message from core.MapError. The status code
// is chosen from the error itself so handlers only pass it through.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/warranty/internal/core"
	"github.com/JonMunkholm/warranty/internal/logging"
	"github.com/JonMunkholm/warranty/internal/sheet"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(err error) *ErrorResponse {
	msg := core.MapError(err)
	return &ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, sheet.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoSource),
		errors.Is(err, core.ErrMissingColumns),
		errors.Is(err, sheet.ErrInvalidWorkbook),
		errors.Is(err, sheet.ErrSheetNotFound),
		errors.Is(err, sheet.ErrNoHeader):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRegistryLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this status.
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes its user message with the matching status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := newErrorResponse(err)

	logger := logging.FromContext(r.Context())
	log := logger.Warn
	if status >= http.StatusInternalServerError {
		log = logger.Error
	}
	log("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", resp.Code,
	)

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "10")
	}
	writeJSON(w, r, status, resp)
}

// writeJSON encodes v as JSON with status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
