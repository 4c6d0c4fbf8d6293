// Package httputil provides HTTP response helper functions.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// envelope is the standard response body: exactly one of the two fields set.
type envelope struct {
	Data  any      `json:"data,omitempty"`
	Error *errBody `json:"error,omitempty"`
}

type errBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// JSON writes a raw JSON response without envelope.
// Use Success for {"data": ...} wrapped responses.
func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes a JSON response with {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

// Error writes a JSON response with {"error": {"message": ...}} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: &errBody{Message: message}})
}

// ValidationError writes a 400 with per-field details when err is a
// validator.ValidationErrors; any other error is reported as a plain string.
func ValidationError(w http.ResponseWriter, err error) {
	var details any = err.Error()

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, map[string]string{
				"field":   fe.Field(),
				"message": fe.Tag(),
			})
		}
		details = fields
	}

	writeJSON(w, http.StatusBadRequest, envelope{Error: &errBody{
		Message: "validation error",
		Details: details,
	}})
}
