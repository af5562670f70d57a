package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hnolan/ccrouter/internal/apierr"
	"github.com/hnolan/ccrouter/internal/cache"
	"github.com/hnolan/ccrouter/internal/dispatch"
	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/sse"
	"github.com/hnolan/ccrouter/internal/transcode"
)

// validateMessagesRequest implements the Anthropic entry point's request
// checks: max_tokens >= 1, messages non-empty, and every message has a
// recognized role.
func validateMessagesRequest(req *transcode.MessagesRequest) error {
	if req.MaxTokens < 1 {
		return apierr.InvalidRequestError{Message: "max_tokens must be at least 1"}
	}
	if len(req.Messages) == 0 {
		return apierr.InvalidRequestError{Message: "messages must not be empty"}
	}
	for _, m := range req.Messages {
		if m.Role != transcode.RoleUser && m.Role != transcode.RoleAssistant {
			return apierr.InvalidRequestError{Message: "message role must be \"user\" or \"assistant\""}
		}
	}
	return nil
}

// result holds the outcome of dispatching an already-resolved request,
// before any wire-format-specific rendering: either a complete Anthropic
// response (cacheStatus set) or a sequence of Anthropic stream events for a
// caller to format itself.
type result struct {
	response    *transcode.MessagesResponse
	events      []transcode.StreamEvent
	cacheStatus string // "HIT", "MISS", or "BYPASS"; empty for a streaming result
}

// resolve runs the account-selection/dispatch/outcome-recording pipeline
// for req and returns its result without writing anything to a client,
// so that both the native Anthropic handler and the OpenAI-compatible
// handlers can render the same underlying call in their own wire format.
func (s *Server) resolve(ctx context.Context, req *transcode.MessagesRequest, endpoint string, bypassCache bool, requestID string) (*result, error) {
	model := req.Model
	s.stats.RecordRequest(model, endpoint)

	isStreaming := req.Stream
	var cacheKey string
	if !isStreaming && !bypassCache {
		cacheKey = s.makeCacheKey(req)
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			var resp transcode.MessagesResponse
			if err := json.Unmarshal(cached, &resp); err == nil {
				return &result{response: &resp, cacheStatus: "HIT"}, nil
			}
		}
	}

	sessionID := dispatch.DeriveSessionID(req)
	accountID, ok := s.accounts.Select(model, sessionID)
	if !ok {
		return nil, apierr.OAuthFailedError{Msg: "no enabled accounts available"}
	}

	accessToken, err := s.tokens.GetAccessToken(ctx, accountID)
	if err != nil {
		s.accounts.RecordFailure(accountID)
		return nil, err
	}

	snap, _ := s.accounts.Snapshot(accountID)
	envelope := dispatch.BuildEnvelope(req, snap.ProjectID, s.sigCache)
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, apierr.HTTPError{Msg: "failed to marshal Cloud Code request: " + err.Error()}
	}

	isThinking := mapping.IsThinkingModel(model)

	var out *result
	var outcomeErr error
	switch {
	case isStreaming:
		var events []transcode.StreamEvent
		events, outcomeErr = s.collectStreamEvents(ctx, body, accessToken, model)
		if outcomeErr == nil {
			out = &result{events: events}
		}
	case isThinking:
		var events []transcode.StreamEvent
		events, outcomeErr = s.collectStreamEvents(ctx, body, accessToken, model)
		if outcomeErr == nil {
			resp := transcode.FromEvents(events, model, requestID)
			out = &result{response: &resp, cacheStatus: "BYPASS"}
			s.storeCacheIfKeyed(ctx, cacheKey, &resp)
		}
	default:
		var resp *transcode.MessagesResponse
		resp, outcomeErr = s.dispatchOneShot(ctx, body, accessToken, model, requestID)
		if outcomeErr == nil {
			out = &result{response: resp, cacheStatus: "MISS"}
			s.storeCacheIfKeyed(ctx, cacheKey, resp)
		}
	}

	s.recordOutcome(accountID, model, outcomeErr)
	if outcomeErr != nil {
		return nil, outcomeErr
	}
	return out, nil
}

func (s *Server) storeCacheIfKeyed(ctx context.Context, cacheKey string, resp *transcode.MessagesResponse) {
	if cacheKey == "" {
		return
	}
	if body, err := json.Marshal(resp); err == nil {
		s.cache.Put(ctx, cacheKey, body)
	}
}

// makeCacheKey fingerprints the parts of the request that affect the
// response.
func (s *Server) makeCacheKey(req *transcode.MessagesRequest) string {
	messagesJSON, _ := json.Marshal(req.Messages)
	var systemJSON, toolsJSON *string
	if req.System != nil {
		if b, err := json.Marshal(req.System); err == nil {
			v := string(b)
			systemJSON = &v
		}
	}
	if len(req.Tools) > 0 {
		if b, err := json.Marshal(req.Tools); err == nil {
			v := string(b)
			toolsJSON = &v
		}
	}
	return cache.MakeKey(req.Model, string(messagesJSON), systemJSON, toolsJSON, req.Temperature)
}

// dispatchOneShot is the non-streaming, non-thinking path: one call to
// generateContent, converted to Anthropic's response shape.
func (s *Server) dispatchOneShot(ctx context.Context, body []byte, accessToken, model, requestID string) (*transcode.MessagesResponse, error) {
	res, err := s.dispatcher.Send(ctx, body, accessToken, model)
	if err != nil {
		return nil, err
	}

	var envelope transcode.CloudCodeResponse
	if err := json.Unmarshal(res.Body, &envelope); err != nil {
		return nil, apierr.HTTPError{Msg: "failed to parse Cloud Code response: " + err.Error()}
	}
	resp := transcode.FromGoogle(&envelope.Response, model, requestID, s.sigCache)
	return &resp, nil
}

// collectStreamEvents opens the streaming endpoint and parses its full SSE
// body into Anthropic stream events, without writing anything to a client.
// Used both for genuinely streaming requests and for thinking models, which
// must use the streaming endpoint even to answer a non-streaming request.
func (s *Server) collectStreamEvents(ctx context.Context, body []byte, accessToken, model string) ([]transcode.StreamEvent, error) {
	streamResp, err := s.dispatcher.SendStreaming(ctx, body, accessToken, model)
	if err != nil {
		return nil, err
	}
	defer streamResp.Body.Close()

	parser := sse.New(model, s.sigCache)
	var events []transcode.StreamEvent
	buf := make([]byte, 4096)
	for {
		n, readErr := streamResp.Body.Read(buf)
		if n > 0 {
			events = append(events, parser.Feed(string(buf[:n]))...)
		}
		if readErr != nil {
			break
		}
	}
	events = append(events, parser.Finish()...)
	return events, nil
}

// writeSSEStream renders a fully-collected event sequence as an Anthropic
// SSE body. Genuine upstream streaming is flattened to "collect then
// write" rather than byte-for-byte forwarding, since the signature cache
// and thinking-block bookkeeping in sse.Parser need the whole upstream
// body to resolve a conversation's running state regardless.
func writeSSEStream(w http.ResponseWriter, events []transcode.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for _, ev := range events {
		writeSSEEvent(w, ev)
	}
	writeSSEEvent(w, sse.MessageStopEvent())
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEEvent(w http.ResponseWriter, ev transcode.StreamEvent) {
	line, err := sse.Format(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte(line))
}

// recordOutcome translates the dispatch result into account-store
// bookkeeping: a clean success clears any rate limit the model was under;
// a rate-limit or quota error stamps one in with the upstream-reported
// reset time.
func (s *Server) recordOutcome(accountID, model string, err error) {
	if err == nil {
		s.accounts.RecordSuccess(accountID)
		s.accounts.ClearRateLimit(accountID, model)
		return
	}

	s.accounts.RecordFailure(accountID)
	now := time.Now().Unix()
	switch e := err.(type) {
	case apierr.RateLimitedError:
		s.accounts.RecordRateLimit(accountID, model, now+int64(e.RetryAfter.Seconds()))
	case apierr.QuotaExhaustedError:
		if t, parseErr := time.Parse(time.RFC3339, e.ResetTime); parseErr == nil {
			s.accounts.RecordRateLimit(accountID, model, t.Unix())
		}
	}
}

// writeJSON writes a pre-marshaled JSON body with the given x-cache
// disposition header.
func writeJSON(w http.ResponseWriter, status int, body []byte, cacheStatus string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
