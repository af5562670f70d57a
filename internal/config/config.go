// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the ccrouter gateway.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Accounts  AccountsConfig  `koanf:"accounts"`
	Cache     CacheConfig     `koanf:"cache"`
	CloudCode CloudCodeConfig `koanf:"cloudcode"`
	Mappings  MappingsConfig  `koanf:"mappings"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               int           `koanf:"port"`
	Host               string        `koanf:"host"`
	APIKey             string        `koanf:"api_key"`
	RequestTimeoutSecs uint64        `koanf:"request_timeout_secs"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
}

// LoggingConfig controls the logger wired up in cmd/ccrouter.
type LoggingConfig struct {
	Debug       bool `koanf:"debug"`
	LogRequests bool `koanf:"log_requests"`
}

// AccountsConfig controls how the account store persists accounts and picks
// one for a given request.
type AccountsConfig struct {
	Path           string  `koanf:"path"`
	Strategy       string  `koanf:"strategy"`
	QuotaThreshold float64 `koanf:"quota_threshold"`
	Fallback       bool    `koanf:"fallback"`
}

// DefaultAccountsConfig mirrors the defaults the account store falls back to
// when an accounts section is absent from the config file.
func DefaultAccountsConfig() AccountsConfig {
	return AccountsConfig{
		Path:           "accounts.json",
		Strategy:       "round_robin",
		QuotaThreshold: 0.1,
		Fallback:       true,
	}
}

// CacheConfig controls the response cache's sizing and lifetime. RedisAddr
// is optional: when set, the cache is backed by Redis (shared across
// multiple ccrouter processes) instead of the default in-process LRU map.
type CacheConfig struct {
	Enabled    bool   `koanf:"enabled"`
	TTLSeconds uint64 `koanf:"ttl_seconds"`
	MaxEntries int    `koanf:"max_entries"`
	RedisAddr  string `koanf:"redis_addr"`
}

// DefaultCacheConfig returns the cache defaults used when a cache section is
// absent from the config file.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Enabled: true, TTLSeconds: 300, MaxEntries: 1000}
}

// MappingRule overrides a single model alias beyond what the mappings
// package's built-in preset tables cover.
type MappingRule struct {
	From string `koanf:"from"`
	To   string `koanf:"to"`
}

// MappingsConfig selects the alias preset and any ad-hoc overrides on top of
// it.
type MappingsConfig struct {
	Preset              string        `koanf:"preset"`
	BackgroundTaskModel string        `koanf:"background_task_model"`
	Rules               []MappingRule `koanf:"rules"`
	ScriptPath          string        `koanf:"script_path"`
}

// CloudCodeConfig controls the dispatcher's HTTP client to Google's Cloud
// Code API: request timeout, retry ceiling, and the concurrency/pacing gate
// that keeps a burst of client requests from hammering a single account.
type CloudCodeConfig struct {
	TimeoutSecs          uint64 `koanf:"timeout_secs"`
	MaxRetries           uint32 `koanf:"max_retries"`
	MaxConcurrentRequests int   `koanf:"max_concurrent_requests"`
	MinRequestIntervalMs uint64 `koanf:"min_request_interval_ms"`
}

// DefaultCloudCodeConfig returns the dispatcher defaults used when a
// cloudcode section is absent from the config file.
func DefaultCloudCodeConfig() CloudCodeConfig {
	return CloudCodeConfig{
		TimeoutSecs:           120,
		MaxRetries:            5,
		MaxConcurrentRequests: 1,
		MinRequestIntervalMs:  500,
	}
}

// ValidationError reports a config field set to a value outside its
// allowed set, naming the field, the offending value, and what would have
// been accepted.
type ValidationError struct {
	Field       string
	Value       string
	ValidValues []string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for %q (valid values: %s)",
		e.Value, e.Field, strings.Join(e.ValidValues, ", "))
}

// validStrategies are the accounts.strategy aliases account.ParseStrategy
// recognizes, grouped as account.Store.Select's three selection modes.
var validStrategies = []string{
	"sticky",
	"roundrobin", "round-robin", "round_robin", "rr",
	"hybrid", "smart",
}

// Validate checks the fields the original implementation rejects a
// malformed config file over: an accounts.strategy outside the known
// alias set, and an accounts.quota_threshold outside [0.0, 1.0].
func (c *Config) Validate() error {
	strategy := strings.ToLower(c.Accounts.Strategy)
	valid := false
	for _, s := range validStrategies {
		if strategy == s {
			valid = true
			break
		}
	}
	if !valid {
		return ValidationError{
			Field:       "accounts.strategy",
			Value:       c.Accounts.Strategy,
			ValidValues: validStrategies,
		}
	}

	if c.Accounts.QuotaThreshold < 0.0 || c.Accounts.QuotaThreshold > 1.0 {
		return ValidationError{
			Field:       "accounts.quota_threshold",
			Value:       fmt.Sprintf("%v", c.Accounts.QuotaThreshold),
			ValidValues: []string{"0.0 to 1.0"},
		}
	}

	return nil
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated, validated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "CCROUTER_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   CCROUTER_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("CCROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "CCROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct. The ""
	// means start from the root.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.CloudCode == (CloudCodeConfig{}) {
		cfg.CloudCode = DefaultCloudCodeConfig()
	}
	if cfg.Accounts == (AccountsConfig{}) {
		cfg.Accounts = DefaultAccountsConfig()
	}
	if cfg.Cache == (CacheConfig{}) {
		cfg.Cache = DefaultCacheConfig()
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 300
	}

	// Expand a ${VAR_NAME} placeholder in server.api_key. koanf doesn't do
	// this automatically, so we handle it ourselves using os.Getenv to look
	// up the actual environment variable value.
	if strings.HasPrefix(cfg.Server.APIKey, "${") && strings.HasSuffix(cfg.Server.APIKey, "}") {
		envVar := cfg.Server.APIKey[2 : len(cfg.Server.APIKey)-1] // strip ${ and }
		cfg.Server.APIKey = os.Getenv(envVar)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
