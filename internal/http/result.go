// Package httpapi is the HTTP surface: routing, middleware and the
// /v1 handlers. Behavior lives in the components it delegates to.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, errorBody{Error: true, Reason: reason})
}
