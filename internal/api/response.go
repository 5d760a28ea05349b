// Package api implements the internal admin surface: endpoint, rule,
// and log management under /__internal/, guarded by a shared secret.
package api

import (
	"encoding/json"
	"net/http"
)

// dataEnvelope wraps every successful read/write response.
type dataEnvelope struct {
	Data any `json:"data"`
}

// successEnvelope acknowledges deletions.
type successEnvelope struct {
	Success bool `json:"success"`
}

// errorEnvelope carries a human-readable error message.
type errorEnvelope struct {
	Error string `json:"error"`
}

// WriteData writes {"data": ...} with the given status code.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// WriteSuccess writes {"success": true}.
func WriteSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true})
}

// WriteError writes {"error": message} with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
