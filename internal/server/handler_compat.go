package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hnolan/ccrouter/internal/apierr"
	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/transcode"
)

// handleChatCompletions serves POST /v1/chat/completions: OpenAI Chat
// Completions requests are converted to Anthropic's shape, dispatched
// through the same pipeline as the native route, and converted back.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if err := requireJSON(r); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	body, err := readBodyLimited(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	var req transcode.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequestError{Message: "malformed JSON body: " + err.Error()})
		return
	}
	if req.N != nil && *req.N > 1 {
		apierr.WriteHTTP(w, apierr.InvalidRequestError{Message: "n > 1 is not supported"})
		return
	}

	anthropicReq := transcode.OpenAIToAnthropic(&req)
	anthropicReq.Model = s.resolver.Resolve(anthropicReq.Model)
	if err := validateMessagesRequest(anthropicReq); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	requestID := newRequestID()
	res, err := s.resolveWithFallback(r.Context(), anthropicReq, "/v1/chat/completions", false, requestID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	resp := res.response
	if resp == nil {
		// A streaming upstream call was made (because the thinking model
		// branch always streams); collapse it into one Anthropic response
		// the same way the non-streaming thinking path does.
		collapsed := transcode.FromEvents(res.events, anthropicReq.Model, requestID)
		resp = &collapsed
	}

	chatResp := transcode.AnthropicToOpenAI(resp, anthropicReq.Model, requestID, time.Now().Unix())
	if req.Stream {
		writeChatCompletionStream(w, chatResp)
		return
	}
	writeJSONBody(w, http.StatusOK, chatResp)
}

// handleResponses serves POST /v1/responses: the OpenAI Responses API.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	if err := requireJSON(r); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	body, err := readBodyLimited(r)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	var req transcode.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequestError{Message: "malformed JSON body: " + err.Error()})
		return
	}

	anthropicReq := transcode.ResponsesToAnthropic(&req)
	anthropicReq.Model = s.resolver.Resolve(anthropicReq.Model)
	if err := validateMessagesRequest(anthropicReq); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	requestID := newRequestID()
	res, err := s.resolveWithFallback(r.Context(), anthropicReq, "/v1/responses", false, requestID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	resp := res.response
	if resp == nil {
		collapsed := transcode.FromEvents(res.events, anthropicReq.Model, requestID)
		resp = &collapsed
	}

	responsesResp := transcode.AnthropicToResponses(resp, anthropicReq.Model, requestID, float64(time.Now().Unix()))
	writeJSONBody(w, http.StatusOK, responsesResp)
}

// resolveWithFallback wraps resolve with the same one-shot fallback-model
// retry handleMessages performs, so every entry point honors
// accounts.fallback consistently.
func (s *Server) resolveWithFallback(ctx context.Context, req *transcode.MessagesRequest, endpoint string, bypassCache bool, requestID string) (*result, error) {
	res, err := s.resolve(ctx, req, endpoint, bypassCache, requestID)
	if quota, isQuota := err.(apierr.QuotaExhaustedError); isQuota && s.cfg.Accounts.Fallback {
		if fallback, ok := mapping.GetFallbackModel(req.Model); ok {
			fallbackReq := *req
			fallbackReq.Model = fallback
			s.log.Info("model %s exhausted, retrying once on fallback %s", quota.Model, fallback)
			return s.resolve(ctx, &fallbackReq, endpoint, bypassCache, requestID)
		}
	}
	return res, err
}

// writeChatCompletionStream renders a complete Chat Completions response as
// a single-chunk SSE stream, the minimum shape OpenAI streaming clients
// expect. The pipeline always resolves the full upstream response before
// rendering (see resolve), so there is no incremental content to forward
// chunk by chunk here.
func writeChatCompletionStream(w http.ResponseWriter, resp transcode.ChatCompletionResponse) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	line, err := json.Marshal(resp)
	if err == nil {
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(line)
		_, _ = w.Write([]byte("\n\n"))
	}
	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
