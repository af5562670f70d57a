package server

import (
	"encoding/json"
	"net/http"

	"github.com/hnolan/ccrouter/internal/apierr"
	"github.com/hnolan/ccrouter/internal/transcode"
)

// handleMessages serves both /v1/messages and /messages: the native
// Anthropic Messages API entry point.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if err := requireJSON(r); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	body, err := readBodyLimited(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	var req transcode.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequestError{Message: "malformed JSON body: " + err.Error()})
		return
	}

	req.Model = s.resolver.Resolve(req.Model)
	if err := validateMessagesRequest(&req); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	requestID := newRequestID()
	bypassCache := r.Header.Get(cacheBypassHeader) != ""

	res, err := s.resolveWithFallback(r.Context(), &req, "/v1/messages", bypassCache, requestID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	if res.events != nil {
		writeSSEStream(w, res.events)
		return
	}

	respBody, err := json.Marshal(res.response)
	if err != nil {
		apierr.WriteHTTP(w, apierr.HTTPError{Msg: "failed to marshal response: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, respBody, res.cacheStatus)
}
