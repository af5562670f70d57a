// Package dispatch implements the dispatcher (component I): the HTTP
// client that sends a built Cloud Code request to Google, handling dual
// endpoint failover, the per-model rate-limit/backoff ladder, and the
// distinction between a one-shot JSON response and a raw streaming body.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hnolan/ccrouter/internal/apierr"
	"github.com/hnolan/ccrouter/internal/config"
	"github.com/hnolan/ccrouter/internal/logging"
	"github.com/hnolan/ccrouter/internal/ratelimit"
)

// Endpoints is Google's Cloud Code API endpoint pair, tried daily-channel
// first and falling back to the production channel on failure.
var Endpoints = [2]string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// Client dispatches requests to Cloud Code with throttling, retry, and
// dual-endpoint failover.
type Client struct {
	http        *http.Client
	rateLimit   *ratelimit.Coordinator
	log         *logging.Logger
	sem         chan struct{}
	minInterval time.Duration
	lastMu      chan struct{} // 1-buffered mutex substitute guarding lastAt
	lastAt      time.Time
	timeout     time.Duration
	maxRetries  uint32
	clock       func() time.Time
	sleep       func(time.Duration)
}

// New builds a Client from cfg, sharing rl (the process-wide rate-limit
// coordinator) with whatever else tracks per-model 429 state.
func New(cfg config.CloudCodeConfig, rl *ratelimit.Coordinator) *Client {
	sem := make(chan struct{}, max(cfg.MaxConcurrentRequests, 1))
	lastMu := make(chan struct{}, 1)
	lastMu <- struct{}{}

	return &Client{
		http:        &http.Client{},
		rateLimit:   rl,
		log:         logging.New("dispatch"),
		sem:         sem,
		minInterval: time.Duration(cfg.MinRequestIntervalMs) * time.Millisecond,
		lastMu:      lastMu,
		lastAt:      time.Now().Add(-time.Hour),
		timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
		maxRetries:  cfg.MaxRetries,
		clock:       time.Now,
		sleep:       time.Sleep,
	}
}

// acquire blocks for a free concurrency slot and for the minimum
// inter-request interval to elapse, returning a release function.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-c.sem }

	<-c.lastMu
	elapsed := c.clock().Sub(c.lastAt)
	if elapsed < c.minInterval {
		c.sleep(c.minInterval - elapsed)
	}
	c.lastAt = c.clock()
	c.lastMu <- struct{}{}

	return release, nil
}

// Send performs a one-shot (non-streaming) generateContent call, retrying
// across both endpoints per the rate-limit/capacity decision table, and
// returns the decoded Google response body.
func (c *Client) Send(ctx context.Context, body []byte, accessToken, model string) (*Result, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	headers := BuildHeaders(accessToken, model, false)
	start := c.clock()
	var lastErr error
	var capacityRetries uint32

	for _, endpoint := range Endpoints {
		url := endpoint + "/v1internal:generateContent"
		retries := uint32(0)

		for {
			if elapsed := c.clock().Sub(start); elapsed > ratelimit.MaxWaitBeforeError {
				c.log.Warn("max total wait time exceeded after %s", elapsed)
				if lastErr == nil {
					lastErr = apierr.QuotaExhaustedError{Model: model, ResetTime: "unknown"}
				}
				return nil, lastErr
			}

			respBody, status, postErr := c.post(ctx, url, headers, body)
			if postErr != nil {
				c.log.Warn("endpoint %s failed: %v", endpoint, postErr)
				lastErr = postErr
				break
			}

			if status < 200 || status >= 300 {
				retryErr, retry, wait := c.classifyHTTPFailure(status, respBody, model, &retries, &capacityRetries, c.clock().Sub(start))
				if retry {
					c.sleep(wait)
					continue
				}
				lastErr = retryErr
				if isFatal(retryErr) {
					return nil, retryErr
				}
				break
			}

			var parsed struct {
				Error *struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
					Status  string `json:"status"`
				} `json:"error"`
			}
			if err := json.Unmarshal(respBody, &parsed); err != nil {
				return nil, apierr.HTTPError{Msg: fmt.Sprintf("invalid response JSON: %v", err)}
			}

			if parsed.Error != nil {
				retryErr, retry, wait := c.classifyEmbeddedError(parsed.Error.Code, parsed.Error.Message, model, &retries, &capacityRetries, c.clock().Sub(start))
				if retry {
					c.sleep(wait)
					continue
				}
				if isFatal(retryErr) {
					return nil, retryErr
				}
				lastErr = retryErr
				break
			}

			c.rateLimit.ClearRateLimitState(model)
			return &Result{Body: respBody}, nil
		}
	}

	if lastErr == nil {
		lastErr = apierr.HTTPError{Msg: "all endpoints failed"}
	}
	return nil, lastErr
}

// Result wraps a successfully-decoded one-shot response body.
type Result struct {
	Body []byte
}

// StreamingResponse is a successfully-opened SSE body the caller is
// responsible for reading and closing.
type StreamingResponse struct {
	Body       io.ReadCloser
	StatusCode int
}

// SendStreaming performs a streamGenerateContent call and, on success,
// returns the open response body for the caller to read as SSE. Retries
// follow the same decision table as Send, but operate on raw status codes
// and bodies rather than an embedded-error JSON field (the streaming
// endpoint reports failures as ordinary non-2xx HTTP responses).
func (c *Client) SendStreaming(ctx context.Context, body []byte, accessToken, model string) (*StreamingResponse, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	headers := BuildHeaders(accessToken, model, true)
	start := c.clock()
	var lastErr error
	var capacityRetries uint32

	for _, endpoint := range Endpoints {
		url := endpoint + "/v1internal:streamGenerateContent?alt=sse"
		retries := uint32(0)

		for {
			if elapsed := c.clock().Sub(start); elapsed > ratelimit.MaxWaitBeforeError {
				c.log.Warn("max total wait time exceeded after %s", elapsed)
				if lastErr == nil {
					lastErr = apierr.QuotaExhaustedError{Model: model, ResetTime: "unknown"}
				}
				return nil, lastErr
			}

			resp, postErr := c.postRaw(ctx, url, headers, body)
			if postErr != nil {
				c.log.Warn("streaming request to %s failed: %v", endpoint, postErr)
				lastErr = postErr
				break
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.rateLimit.ClearRateLimitState(model)
				return &StreamingResponse{Body: resp.Body, StatusCode: resp.StatusCode}, nil
			}

			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			_ = resp.Body.Close()
			preview := string(errBody)
			if len(preview) > 500 {
				preview = preview[:500]
			}

			if resp.StatusCode == 503 && ratelimit.IsModelCapacityExhausted(preview) && capacityRetries < ratelimit.MaxCapacityRetries {
				wait := capacityTierWait(capacityRetries)
				capacityRetries++
				c.log.Info("503 model capacity exhausted, retrying in %s", wait)
				c.sleep(wait)
				continue
			}

			retryErr, retry, wait := c.classifyHTTPFailure(resp.StatusCode, errBody, model, &retries, &capacityRetries, c.clock().Sub(start))
			if retry {
				c.sleep(wait)
				continue
			}
			lastErr = retryErr
			if isFatal(retryErr) {
				return nil, retryErr
			}
			break
		}
	}

	if lastErr == nil {
		lastErr = apierr.HTTPError{Msg: "all endpoints failed"}
	}
	return nil, lastErr
}

// classifyHTTPFailure decides whether a transport-level non-2xx response
// should be retried in place (wait > 0, retry=true), or converted to a
// terminal error for this endpoint.
func (c *Client) classifyHTTPFailure(status int, respBody []byte, model string, retries, capacityRetries *uint32, elapsed time.Duration) (err error, retry bool, wait time.Duration) {
	message := string(respBody)

	if status == 429 && *retries < c.maxRetries {
		*retries++
		return c.retry429(message, model, capacityRetries, elapsed)
	}

	switch status {
	case 401:
		return apierr.TokenExpiredError{}, false, 0
	case 400:
		return apierr.InvalidRequestError{Message: message}, false, 0
	case 413:
		return apierr.RequestTooLargeError{Size: 0, Max: 10 * 1024 * 1024}, false, 0
	default:
		if status >= 500 {
			return apierr.ServerError{Status: status, Message: message}, false, 0
		}
		return apierr.HTTPError{Msg: fmt.Sprintf("HTTP %d: %s", status, message)}, false, 0
	}
}

// classifyEmbeddedError decides whether a 200-wrapped Google error field
// should be retried, mirroring classifyHTTPFailure for the one-shot path
// where Cloud Code reports failures inside an otherwise-200 body.
func (c *Client) classifyEmbeddedError(code int, message, model string, retries, capacityRetries *uint32, elapsed time.Duration) (err error, retry bool, wait time.Duration) {
	if code == 429 && *retries < c.maxRetries {
		*retries++
		return c.retry429(message, model, capacityRetries, elapsed)
	}

	switch code {
	case 401:
		return apierr.TokenExpiredError{}, false, 0
	case 400:
		return apierr.InvalidRequestError{Message: message}, false, 0
	case 503:
		if strings.Contains(message, "capacity") {
			return apierr.CapacityExhaustedError{}, false, 0
		}
		return apierr.ServerError{Status: code, Message: message}, false, 0
	default:
		return apierr.ServerError{Status: code, Message: message}, false, 0
	}
}

// retry429 implements the shared 429 decision table: model-capacity tiers,
// a long-reset quota failure, a short wait retried immediately, or the
// smart-backoff/dedup path for everything else.
func (c *Client) retry429(message, model string, capacityRetries *uint32, elapsed time.Duration) (error, bool, time.Duration) {
	waitMs, resetTime := ratelimit.ParseResetTime(message, ratelimit.FirstRetryDelayMs)

	if ratelimit.IsModelCapacityExhausted(message) && *capacityRetries < ratelimit.MaxCapacityRetries {
		wait := capacityTierWait(*capacityRetries)
		*capacityRetries++
		c.log.Info("model capacity exhausted, retrying in %s", wait)
		return nil, true, wait
	}

	if waitMs > ratelimit.MaxWaitBeforeError.Milliseconds() {
		return apierr.QuotaExhaustedError{Model: model, ResetTime: resetTime}, false, 0
	}

	if waitMs < 1000 {
		return nil, true, time.Duration(waitMs) * time.Millisecond
	}

	backoff := c.rateLimit.GetRateLimitBackoff(model, &waitMs)
	if backoff.IsDuplicate {
		c.log.Info("duplicate rate limit for %s, attempt %d", model, backoff.Attempt)
	}

	smart := ratelimit.CalculateSmartBackoff(message, &waitMs, 0)
	actual := smart
	if backoff.Attempt == 1 && smart <= ratelimit.DefaultCooldownMs {
		actual = backoff.DelayMs
	}

	remaining := ratelimit.MaxWaitBeforeError.Milliseconds() - elapsed.Milliseconds()
	if remaining < 0 {
		remaining = 0
	}
	if actual > remaining {
		actual = remaining
	}

	if actual == 0 {
		return apierr.QuotaExhaustedError{Model: model, ResetTime: resetTime}, false, 0
	}

	c.log.Info("rate limited (429), waiting %dms before retry (attempt %d)", actual, backoff.Attempt)
	return nil, true, time.Duration(actual) * time.Millisecond
}

func capacityTierWait(tier uint32) time.Duration {
	idx := int(tier)
	if idx >= len(ratelimit.CapacityBackoffTiersMs) {
		idx = len(ratelimit.CapacityBackoffTiersMs) - 1
	}
	return time.Duration(ratelimit.CapacityBackoffTiersMs[idx]) * time.Millisecond
}

// isFatal reports whether err should short-circuit further endpoint
// attempts rather than falling through to the next one. Auth failures and
// client-side invalid-request errors will not be fixed by retrying a
// different Google datacenter.
func isFatal(err error) bool {
	switch err.(type) {
	case apierr.TokenExpiredError, apierr.InvalidRequestError:
		return true
	default:
		return false
	}
}

func (c *Client) post(ctx context.Context, url string, headers map[string]string, body []byte) (respBody []byte, status int, err error) {
	resp, err := c.doRequest(ctx, url, headers, body)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apierr.HTTPError{Msg: err.Error()}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) postRaw(ctx context.Context, url string, headers map[string]string, body []byte) (*http.Response, error) {
	return c.doRequest(ctx, url, headers, body)
}

func (c *Client) doRequest(ctx context.Context, url string, headers map[string]string, body []byte) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, apierr.HTTPError{Msg: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return nil, apierr.TimeoutError{Duration: c.timeout}
		}
		return nil, apierr.HTTPError{Msg: err.Error()}
	}
	// The context is kept alive until the caller finishes reading the
	// body (important for the streaming path); a wrapped body fires
	// cancel on Close.
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
