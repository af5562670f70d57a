package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/hnolan/ccrouter/internal/apierr"
	"github.com/hnolan/ccrouter/internal/mapping"
)

// newRequestID returns a short random hex id used to correlate a request
// across logs, cache entries, and the response body's "id" field.
func newRequestID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "req_" + hex.EncodeToString(b[:])
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "ok", "service": "ccrouter"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEventLogging accepts and discards Antigravity's client telemetry
// batch. The client treats any non-error response as delivered, so there's
// nothing further to do with the body.
func (s *Server) handleEventLogging(w http.ResponseWriter, r *http.Request) {
	_, _ = readBodyLimited(r)
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ModelsResponse mirrors the OpenAI /v1/models list shape, since that's the
// endpoint most client tooling probes for available models.
type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	data := make([]modelInfo, 0, len(mapping.AllModels))
	for _, m := range mapping.AllModels {
		data = append(data, modelInfo{ID: string(m), Object: "model", OwnedBy: "google"})
	}
	writeJSONBody(w, http.StatusOK, modelsResponse{Object: "list", Data: data})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, s.stats.Summary())
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSONBody(w, http.StatusOK, s.cache.Stats(r.Context()))
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear(r.Context())
	writeJSONBody(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// accountLimitSnapshot reports one account's quota posture without leaking
// its credentials.
type accountLimitSnapshot struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	Enabled         bool   `json:"enabled"`
	Invalid         bool   `json:"invalid"`
	TokensAvailable int    `json:"tokens_available"`
	LastUsed        int64  `json:"last_used,omitempty"`
}

func (s *Server) handleAccountLimits(w http.ResponseWriter, r *http.Request) {
	accounts := s.accounts.All()
	out := make([]accountLimitSnapshot, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountLimitSnapshot{
			ID:              a.ID,
			Email:           a.Email,
			Enabled:         a.Enabled,
			Invalid:         a.IsInvalid,
			TokensAvailable: int(a.TokensAvailable),
			LastUsed:        a.LastUsed,
		})
	}
	writeJSONBody(w, http.StatusOK, out)
}

// handleLogStream is a diagnostic SSE tail of the server's log lines. Only
// a liveness line is emitted today; wiring the logger itself into a
// broadcast channel would let this forward real log traffic.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteHTTP(w, apierr.NotImplementedError{Message: "log streaming unsupported on this transport"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("event: connected\ndata: {}\n\n"))
	flusher.Flush()
	<-r.Context().Done()
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	apierr.WriteHTTP(w, apierr.NotImplementedError{Message: "count_tokens is not implemented"})
}
