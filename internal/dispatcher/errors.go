package dispatcher

import (
	"encoding/json"
	"net/http"
)

// Failure categories surfaced in structured error bodies.
const (
	CategoryRouteNotFound      = "route_not_found"
	CategoryCircuitOpen        = "circuit_open"
	CategoryBackendUnreachable = "backend_unreachable"
	CategoryBackendTimeout     = "backend_timeout"
	CategoryBackendError       = "backend_error"
)

// ErrorBody is the JSON payload returned for every dispatch failure the
// gateway itself produces. Backend 5xx bodies are forwarded verbatim
// instead and never replaced by this shape.
type ErrorBody struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	Backend  string `json:"backend,omitempty"`
}

func writeError(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
