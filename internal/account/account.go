// Package account implements the account store (component D): a set of
// OAuth-authenticated Google accounts with per-model quota/rate-limit/health
// state, three selection strategies, and a per-account token-bucket
// throttle.
package account

import (
	"crypto/rand"
	"encoding/hex"
)

// ModelRateLimit is per-model short-term throttling state.
type ModelRateLimit struct {
	Until int64 `json:"until"` // unix seconds
}

// ModelQuota is per-model periodic allocation state.
type ModelQuota struct {
	RemainingFraction float64 `json:"remaining_fraction"`
	ResetTime         int64   `json:"reset_time"`
}

// Account is a single Google account with all of its durable and volatile
// state. Invariants (enforced by the methods below, never by callers
// mutating fields directly outside the store): HealthScore stays in
// [0,1]; TokensAvailable stays <= MaxTokens; AccessToken and
// AccessTokenExpires are set or cleared together.
type Account struct {
	ID                  string             `json:"id"`
	Email               string             `json:"email"`
	RefreshToken        string             `json:"refresh_token"`
	ProjectID           string             `json:"project_id,omitempty"`
	Enabled             bool               `json:"enabled"`
	SubscriptionTier    string             `json:"subscription_tier,omitempty"`
	Quota               map[string]ModelQuota      `json:"quota,omitempty"`
	RateLimits          map[string]ModelRateLimit  `json:"rate_limits,omitempty"`
	HealthScore         float64            `json:"health_score"`
	LastUsed            int64              `json:"last_used"`
	TokensAvailable     uint32             `json:"tokens_available"`
	IsInvalid           bool               `json:"is_invalid"`
	InvalidReason       string             `json:"invalid_reason,omitempty"`
	QuotaThreshold      *float64           `json:"quota_threshold,omitempty"`
	ModelQuotaThresholds map[string]float64 `json:"model_quota_thresholds,omitempty"`

	// Volatile, not persisted.
	AccessToken        string `json:"-"`
	AccessTokenExpires int64  `json:"-"`
}

const (
	MaxTokens           uint32  = 50
	DefaultQuotaThreshold float64 = 0.1
)

// New creates an account from OAuth credentials with default state.
func New(email, refreshToken string) *Account {
	return &Account{
		ID:              newID(),
		Email:           email,
		RefreshToken:    refreshToken,
		Enabled:         true,
		Quota:           make(map[string]ModelQuota),
		RateLimits:      make(map[string]ModelRateLimit),
		HealthScore:     1.0,
		TokensAvailable: MaxTokens,
	}
}

func newID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// IsAccessTokenValid reports whether the cached access token still has more
// than 60 seconds of life.
func (a *Account) IsAccessTokenValid(nowUnix int64) bool {
	if a.AccessToken == "" || a.AccessTokenExpires == 0 {
		return false
	}
	return nowUnix+60 < a.AccessTokenExpires
}

// IsRateLimited reports whether model is currently within its rate-limit
// window on this account.
func (a *Account) IsRateLimited(model string, nowUnix int64) bool {
	limit, ok := a.RateLimits[model]
	if !ok {
		return false
	}
	return nowUnix < limit.Until
}

// RateLimitRemaining returns the remaining rate-limit seconds for model, or
// 0 if not rate-limited.
func (a *Account) RateLimitRemaining(model string, nowUnix int64) int64 {
	limit, ok := a.RateLimits[model]
	if !ok || nowUnix >= limit.Until {
		return 0
	}
	return limit.Until - nowUnix
}

// SetRateLimit marks model rate-limited until the given unix timestamp.
func (a *Account) SetRateLimit(model string, until int64) {
	if a.RateLimits == nil {
		a.RateLimits = make(map[string]ModelRateLimit)
	}
	a.RateLimits[model] = ModelRateLimit{Until: until}
}

// ClearRateLimit removes model's rate limit.
func (a *Account) ClearRateLimit(model string) {
	delete(a.RateLimits, model)
}

// GetQuotaFraction returns the known remaining quota fraction for model,
// defaulting to 1.0 (fully available) when unknown.
func (a *Account) GetQuotaFraction(model string) float64 {
	if q, ok := a.Quota[model]; ok {
		return q.RemainingFraction
	}
	return 1.0
}

// GetEffectiveQuotaThreshold resolves the threshold for model: per-model
// override, else per-account override, else the store's global threshold.
func (a *Account) GetEffectiveQuotaThreshold(model string, globalThreshold float64) float64 {
	if t, ok := a.ModelQuotaThresholds[model]; ok {
		return t
	}
	if a.QuotaThreshold != nil {
		return *a.QuotaThreshold
	}
	return globalThreshold
}

// IsQuotaBelowThreshold reports whether model's remaining quota is below
// the effective threshold.
func (a *Account) IsQuotaBelowThreshold(model string, globalThreshold float64) bool {
	return a.GetQuotaFraction(model) < a.GetEffectiveQuotaThreshold(model, globalThreshold)
}

// IsUsable reports whether the account may currently serve model.
func (a *Account) IsUsable(model string, nowUnix int64) bool {
	return a.Enabled && !a.IsInvalid && !a.IsRateLimited(model, nowUnix)
}

// RecordSuccess bumps health up (clamped to 1.0), clears invalid state, and
// stamps last-used.
func (a *Account) RecordSuccess(nowUnix int64) {
	a.HealthScore = clamp01(a.HealthScore + 0.1)
	a.LastUsed = nowUnix
	a.IsInvalid = false
	a.InvalidReason = ""
}

// RecordFailure drops health (clamped to 0.0) and stamps last-used.
func (a *Account) RecordFailure(nowUnix int64) {
	a.HealthScore = clamp01(a.HealthScore - 0.2)
	a.LastUsed = nowUnix
}

// ConsumeToken decrements the token bucket, returning false if empty.
func (a *Account) ConsumeToken() bool {
	if a.TokensAvailable > 0 {
		a.TokensAvailable--
		return true
	}
	return false
}

// RefillTokens adds amount to the bucket, capped at MaxTokens.
func (a *Account) RefillTokens(amount uint32) {
	a.TokensAvailable += amount
	if a.TokensAvailable > MaxTokens {
		a.TokensAvailable = MaxTokens
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
