package apierr

import (
	"encoding/json"
	"net/http"
)

// Envelope is the Anthropic-style error body every route in the pipeline
// renders errors as: {"type":"error","error":{"type":"<kind>","message":"..."}}.
type Envelope struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteHTTP renders err as the Anthropic error envelope with the status code
// its Kind implies, logging nothing itself (callers log before calling this
// if they want a retry/account trail).
func WriteHTTP(w http.ResponseWriter, err error) {
	env := Envelope{Type: "error"}
	env.Error.Type = string(KindOf(err))
	env.Error.Message = err.Error()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(env)
}
