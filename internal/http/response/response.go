package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape for every endpoint. Data is omitted
// for errors; Message is always human-readable and never carries internal
// error text.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func Success(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Status: "success", Message: message, Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Status: "error", Message: message, Data: nil})
}

// ValidationError reports field-level problems under data so clients can
// attach messages to individual form fields.
func ValidationError(w http.ResponseWriter, fields map[string]string) {
	write(w, http.StatusUnprocessableEntity, Envelope{
		Status:  "error",
		Message: "validation failed",
		Data:    map[string]any{"errors": fields},
	})
}

func ServerError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, "internal server error")
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
