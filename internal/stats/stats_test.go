package stats

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordRequest_Summary(t *testing.T) {
	s := New()
	s.RecordRequest("claude-sonnet-4-5", "/v1/messages")
	s.RecordRequest("claude-sonnet-4-5", "/v1/messages")
	s.RecordRequest("claude-opus-4-5", "/v1/chat/completions")

	summary := s.Summary()
	if summary.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", summary.TotalRequests)
	}
	if len(summary.Models) != 2 {
		t.Fatalf("got %d models, want 2", len(summary.Models))
	}
	if len(summary.Endpoints) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(summary.Endpoints))
	}
}

func TestUptime(t *testing.T) {
	s := New()
	now := s.startTime
	s.clock = func() time.Time { return now.Add(10 * time.Second) }
	if got := s.Uptime(); got != 10*time.Second {
		t.Fatalf("Uptime = %v, want 10s", got)
	}
}

func TestRateHistory_TracksCurrentSecond(t *testing.T) {
	s := New()
	now := s.startTime
	s.clock = func() time.Time { return now }

	s.RecordRequest("m", "/v1/messages")
	s.RecordRequest("m", "/v1/messages")

	hist := s.RateHistory()
	if len(hist) != rateHistorySize {
		t.Fatalf("got %d buckets, want %d", len(hist), rateHistorySize)
	}
	if hist[len(hist)-1] != 2 {
		t.Errorf("last bucket = %d, want 2", hist[len(hist)-1])
	}
}

func TestRateHistory_RotatesBuckets(t *testing.T) {
	s := New()
	now := s.startTime
	s.clock = func() time.Time { return now }
	s.RecordRequest("m", "/e")

	now = now.Add(1 * time.Second)
	s.clock = func() time.Time { return now }
	s.RecordRequest("m", "/e")
	s.RecordRequest("m", "/e")

	hist := s.RateHistory()
	if hist[len(hist)-1] != 2 {
		t.Errorf("current-second bucket = %d, want 2", hist[len(hist)-1])
	}
	if hist[len(hist)-2] != 1 {
		t.Errorf("previous-second bucket = %d, want 1", hist[len(hist)-2])
	}
}

func TestHandler_ServesPrometheusExposition(t *testing.T) {
	s := New()
	s.RecordRequest("claude-sonnet-4-5", "/v1/messages")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ccrouter_requests_by_model_total") {
		t.Errorf("expected metric name in body, got: %s", body)
	}
}
