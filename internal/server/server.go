// Package server implements the request pipeline (component J): the HTTP
// front door that turns an Anthropic/OpenAI-shaped request into a Cloud
// Code call and the response back, wiring together every other component
// package.
package server

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/hnolan/ccrouter/internal/account"
	"github.com/hnolan/ccrouter/internal/cache"
	"github.com/hnolan/ccrouter/internal/config"
	"github.com/hnolan/ccrouter/internal/dispatch"
	"github.com/hnolan/ccrouter/internal/logging"
	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/ratelimit"
	"github.com/hnolan/ccrouter/internal/signature"
	"github.com/hnolan/ccrouter/internal/stats"
	"github.com/hnolan/ccrouter/internal/token"
)

// maxRequestSize is the content-length ceiling enforced on every POST
// route before the body is read.
const maxRequestSize = 10 * 1024 * 1024

// cacheBypassHeader, when present on a non-streaming request with any
// value, suppresses both the cache read and the cache write for that
// request.
const cacheBypassHeader = "X-No-Cache"

// Server holds the HTTP router and every component the pipeline wires
// together.
type Server struct {
	router chi.Router

	cfg        *config.Config
	accounts   *account.Store
	tokens     *token.Manager
	dispatcher *dispatch.Client
	rateLimit  *ratelimit.Coordinator
	cache      *cache.Cache
	sigCache   *signature.Cache
	resolver   *mapping.Resolver
	stats      *stats.Stats
	log        *logging.Logger
}

// New builds a Server around an already-loaded account store and token
// manager, constructing the dispatcher, cache, signature cache, model
// resolver, and stats tracker from cfg.
func New(cfg *config.Config, accounts *account.Store, tokens *token.Manager) *Server {
	rl := ratelimit.New()

	s := &Server{
		cfg:        cfg,
		accounts:   accounts,
		tokens:     tokens,
		dispatcher: dispatch.New(cfg.CloudCode, rl),
		rateLimit:  rl,
		cache:      cache.New(newCacheStore(cfg.Cache), cfg.Cache.Enabled, time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries),
		sigCache:   signature.New(),
		resolver:   newResolver(cfg.Mappings),
		stats:      stats.New(),
		log:        logging.New("server"),
	}
	s.routes()
	return s
}

// newCacheStore picks Redis when cfg names an address (so multiple
// ccrouter processes can share one cache), falling back to the in-process
// LRU map otherwise.
func newCacheStore(cfg config.CacheConfig) cache.Store {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryStore(cfg.MaxEntries)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return cache.NewRedisStore(client, "ccrouter:cache:")
}

// newResolver builds the model resolver from config: user-defined rules
// take priority over the selected preset's built-in rules, which in turn
// take priority over the hardcoded alias table (Resolver.Resolve's
// fallthrough). A configured custom script, if it fails to load, is
// logged and skipped rather than failing startup.
func newResolver(cfg config.MappingsConfig) *mapping.Resolver {
	preset := mapping.ParsePreset(cfg.Preset)

	userRules := make([]mapping.Rule, len(cfg.Rules))
	for i, r := range cfg.Rules {
		userRules[i] = mapping.Rule{From: r.From, To: r.To}
	}
	rules := append(userRules, preset.Rules()...)

	r := &mapping.Resolver{Rules: rules, BackgroundTaskModel: cfg.BackgroundTaskModel}
	if preset == mapping.PresetCustom && cfg.ScriptPath != "" {
		if src, err := os.ReadFile(cfg.ScriptPath); err == nil {
			if script, err := mapping.LoadCustomScript(string(src)); err == nil {
				r.Script = script
			} else {
				logging.New("server").Warn("failed to load mapping script %s: %v", cfg.ScriptPath, err)
			}
		} else {
			logging.New("server").Warn("failed to read mapping script %s: %v", cfg.ScriptPath, err)
		}
	}
	return r
}

// routes builds the chi router with the teacher's same middleware
// (access logging, panic recovery) generalized to the full route table.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.requestTimeout)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyAuth)

		r.Post("/v1/messages", s.handleMessages)
		r.Post("/messages", s.handleMessages)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/responses", s.handleResponses)
		r.Post("/v1/messages/count_tokens", s.handleCountTokens)
		r.Post("/api/event_logging/batch", s.handleEventLogging)
		r.Post("/", s.handleEventLogging)

		r.Get("/v1/models", s.handleModels)
		r.Get("/stats", s.handleStats)
		r.Get("/v1/stats", s.handleStats)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/clear", s.handleCacheClear)
		r.Get("/account-limits", s.handleAccountLimits)
		r.Get("/api/logs/stream", s.handleLogStream)
	})

	r.Get("/metrics", s.stats.Handler().ServeHTTP)

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
