package server

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hnolan/ccrouter/internal/apierr"
)

// apiKeyAuth rejects the request unless it carries the configured API key
// in either an authorization: Bearer header or an x-api-key header,
// compared by constant-time equality. A server with no configured key
// admits every request.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Server.APIKey
		if want == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get("X-Api-Key")
		if got == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			apierr.WriteHTTP(w, apierr.InvalidAPIKeyError{})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestTimeout wraps the whole pipeline in the configured per-request
// deadline; on expiry the client gets a structured timeout error instead
// of a hung connection.
func (s *Server) requestTimeout(next http.Handler) http.Handler {
	timeout := time.Duration(s.cfg.Server.RequestTimeoutSecs) * time.Second
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readBodyLimited reads r.Body up to maxRequestSize+1 bytes so an
// over-limit body is detected without buffering the whole thing, honoring
// a content-length header when present as a cheap pre-flight check.
func readBodyLimited(r *http.Request) ([]byte, error) {
	if r.ContentLength > maxRequestSize {
		return nil, apierr.RequestTooLargeError{Size: r.ContentLength, Max: maxRequestSize}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestSize {
		return nil, apierr.RequestTooLargeError{Size: int64(len(data)), Max: maxRequestSize}
	}
	return data, nil
}

func requireJSON(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return apierr.InvalidRequestError{Message: "Content-Type must be application/json"}
	}
	return nil
}
