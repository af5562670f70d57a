// Package stats implements process-wide request counters backing the
// /stats, /v1/stats, and /metrics endpoints. Per-model and per-endpoint
// totals are Prometheus counters so /metrics can be scraped directly;
// the rolling request-rate history backing the dashboard's sparkline is a
// small ring buffer with no Prometheus equivalent, ported as plain Go
// state behind the same mutex.
package stats

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// rateHistorySize is the number of one-second buckets the rate graph
// keeps.
const rateHistorySize = 60

// Stats is the process-wide counter set. Safe for concurrent use.
type Stats struct {
	registry *prometheus.Registry

	requestsByModel    *prometheus.CounterVec
	requestsByEndpoint *prometheus.CounterVec

	mu        sync.Mutex
	startTime time.Time
	clock     func() time.Time
	models    map[string]uint64
	endpoints map[string]uint64
	rate      rateHistory
}

// rateHistory is a ring buffer of per-second request counts, read oldest
// to newest.
type rateHistory struct {
	buckets      [rateHistorySize]uint64
	currentIdx   int
	lastSecond   uint64
	currentCount uint64
}

func (r *rateHistory) record(nowSecs uint64) {
	if r.lastSecond == 0 {
		r.lastSecond = nowSecs
	}
	for r.lastSecond < nowSecs {
		r.buckets[r.currentIdx] = r.currentCount
		r.currentCount = 0
		r.currentIdx = (r.currentIdx + 1) % rateHistorySize
		r.lastSecond++
	}
	r.currentCount++
}

func (r *rateHistory) history(nowSecs uint64) []uint64 {
	result := make([]uint64, 0, rateHistorySize)
	elapsed := int(nowSecs - r.lastSecond)
	if elapsed < 0 {
		elapsed = 0
	}

	for i := 0; i < rateHistorySize; i++ {
		idx := (r.currentIdx + i + 1) % rateHistorySize
		if i < rateHistorySize-elapsed {
			result = append(result, r.buckets[idx])
		} else {
			result = append(result, 0)
		}
	}

	if elapsed == 0 && len(result) > 0 {
		result[len(result)-1] = r.currentCount
	}
	return result
}

// New builds a Stats with its own Prometheus registry.
func New() *Stats {
	reg := prometheus.NewRegistry()
	s := &Stats{
		registry:  reg,
		startTime: time.Now(),
		clock:     time.Now,
		models:    make(map[string]uint64),
		endpoints: make(map[string]uint64),
		requestsByModel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccrouter_requests_by_model_total",
			Help: "Total requests dispatched, labeled by target model.",
		}, []string{"model"}),
		requestsByEndpoint: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ccrouter_requests_by_endpoint_total",
			Help: "Total requests received, labeled by HTTP endpoint.",
		}, []string{"endpoint"}),
	}
	reg.MustRegister(s.requestsByModel, s.requestsByEndpoint)
	return s
}

// RecordRequest records one request against model and endpoint, and bumps
// the current second's rate-history bucket.
func (s *Stats) RecordRequest(model, endpoint string) {
	s.requestsByModel.WithLabelValues(model).Inc()
	s.requestsByEndpoint.WithLabelValues(endpoint).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[model]++
	s.endpoints[endpoint]++
	s.rate.record(uint64(s.clock().Sub(s.startTime).Seconds()))
}

// Uptime returns how long the process has been recording stats.
func (s *Stats) Uptime() time.Duration {
	return s.clock().Sub(s.startTime)
}

// RateHistory returns the last 60 one-second request-rate buckets, oldest
// first.
func (s *Stats) RateHistory() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate.history(uint64(s.clock().Sub(s.startTime).Seconds()))
}

// ModelStats is one model's running request count.
type ModelStats struct {
	Model    string `json:"model"`
	Requests uint64 `json:"requests"`
}

// EndpointStats is one endpoint's running request count.
type EndpointStats struct {
	Endpoint string `json:"endpoint"`
	Requests uint64 `json:"requests"`
}

// Summary is the JSON body served at /stats and /v1/stats.
type Summary struct {
	UptimeSeconds int64           `json:"uptime_seconds"`
	TotalRequests uint64          `json:"total_requests"`
	Models        []ModelStats    `json:"models"`
	Endpoints     []EndpointStats `json:"endpoints"`
	RateHistory   []uint64        `json:"rate_history"`
}

// Summary snapshots every counter into a single JSON-ready struct.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	var total uint64
	models := make([]ModelStats, 0, len(s.models))
	for m, n := range s.models {
		models = append(models, ModelStats{Model: m, Requests: n})
		total += n
	}
	endpoints := make([]EndpointStats, 0, len(s.endpoints))
	for e, n := range s.endpoints {
		endpoints = append(endpoints, EndpointStats{Endpoint: e, Requests: n})
	}
	rate := s.rate.history(uint64(s.clock().Sub(s.startTime).Seconds()))
	s.mu.Unlock()

	return Summary{
		UptimeSeconds: int64(s.Uptime().Seconds()),
		TotalRequests: total,
		Models:        models,
		Endpoints:     endpoints,
		RateHistory:   rate,
	}
}

// Handler returns the Prometheus exposition endpoint for /metrics.
func (s *Stats) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
