package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// WHY HELPERS?
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// With helpers, handlers are cleaner and more consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "scene not found with id abc123"}
//
// Validation errors also name the offending field:
//   {"error": "validation_error", "message": "video URL is required", "field": "videoUrl"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/scene-capture/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Input field at fault, when known
}

// MessageResponse is the body of operations that only confirm success.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
// Any header changes after that are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor is the one place application error kinds become HTTP codes.
//
// WHY HERE AND NOT IN THE SERVICE?
// The service layer should not know about HTTP status codes. It returns a
// Kind; this switch decides what that Kind means on the wire. The switch is
// exhaustive over the closed Kind set; anything unknown is already
// KindInternal by the time it gets here.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindInvalidInput:
		return http.StatusBadRequest // 400
	case apperror.KindUnauthenticated:
		return http.StatusUnauthorized // 401
	case apperror.KindForbidden:
		return http.StatusForbidden // 403
	case apperror.KindNotFound:
		return http.StatusNotFound // 404
	case apperror.KindConflict:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}

// writeError maps an application error to a status code and sends it.
//
// errors.As() UNWRAPPING:
// errors.As walks the chain (via Unwrap) and fills appErr with the first
// *AppError it finds, which carries the client-safe message and field.
//
// Internal errors never expose their text: it may contain SQL, file paths,
// or other details the client has no business seeing.
func writeError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	resp := ErrorResponse{Error: kind.String()}

	var appErr *apperror.AppError
	switch {
	case kind == apperror.KindInternal:
		resp.Message = "An internal error occurred"
	case errors.As(err, &appErr):
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	default:
		resp.Message = err.Error()
	}

	writeJSON(w, statusFor(kind), resp)
}
