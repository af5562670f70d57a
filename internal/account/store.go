package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgryski/go-rendezvous"
)

// Strategy selects which account serves the next request for a model.
type Strategy int

const (
	// StrategyHybrid scores every usable account on health, token
	// headroom, quota headroom and idle time, and picks the highest
	// score. Default strategy.
	StrategyHybrid Strategy = iota
	// StrategySticky keeps using the active account until it becomes
	// unusable, to maximize prompt-cache reuse on the provider side.
	StrategySticky
	// StrategyRoundRobin cycles through usable accounts in turn.
	StrategyRoundRobin
)

// Store holds the full set of accounts plus selection state behind a
// single RWMutex. No method ever returns a *Account to the caller: every
// read returns a value copy, so the lock never has to be held across
// network I/O. Callers that need to mutate a single account's volatile
// state (token refresh, rate-limit bookkeeping) go through the dedicated
// Record*/Set* methods below.
type Store struct {
	mu              sync.RWMutex
	accounts        []*Account // insertion order preserved
	byID            map[string]int
	activeAccountID string
	strategy        Strategy
	quotaThreshold  float64
	path            string
	clock           func() time.Time
}

// NewStore creates an empty store with the given persistence path.
func NewStore(path string) *Store {
	return &Store{
		accounts:       make([]*Account, 0),
		byID:           make(map[string]int),
		strategy:       StrategyHybrid,
		quotaThreshold: DefaultQuotaThreshold,
		path:           path,
		clock:          time.Now,
	}
}

// SetStrategy overrides the default selection strategy.
func (s *Store) SetStrategy(strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
}

// SetQuotaThreshold overrides the default global quota threshold.
func (s *Store) SetQuotaThreshold(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaThreshold = threshold
}

func (s *Store) now() int64 { return s.clock().Unix() }

// AddAccount inserts a new account, or replaces an existing one with the
// same email.
func (s *Store) AddAccount(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			*existing = *a
			s.byID[a.ID] = indexOf(s.accounts, existing)
			return
		}
	}
	s.byID[a.ID] = len(s.accounts)
	s.accounts = append(s.accounts, a)
}

func indexOf(accounts []*Account, target *Account) int {
	for i, a := range accounts {
		if a == target {
			return i
		}
	}
	return -1
}

// RemoveAccount deletes the account with the given id.
func (s *Store) RemoveAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.accounts = append(s.accounts[:idx], s.accounts[idx+1:]...)
	delete(s.byID, id)
	for i := idx; i < len(s.accounts); i++ {
		s.byID[s.accounts[i].ID] = i
	}
	if s.activeAccountID == id {
		s.activeAccountID = ""
	}
	return true
}

// SetActive forces the active account id, bypassing selection.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAccountID = id
}

// Snapshot returns a value copy of the account, for read-only reporting
// endpoints (e.g. /v1/accounts).
func (s *Store) Snapshot(id string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return Account{}, false
	}
	return *s.accounts[idx], true
}

// All returns value copies of every account, insertion order.
func (s *Store) All() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, len(s.accounts))
	for i, a := range s.accounts {
		out[i] = *a
	}
	return out
}

// Len returns the number of accounts in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// TokenState returns the cached access token state and refresh token for
// the token manager, without exposing the *Account.
func (s *Store) TokenState(id string) (accessToken string, expiresAt int64, refreshToken string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, found := s.byID[id]
	if !found {
		return "", 0, "", false
	}
	a := s.accounts[idx]
	return a.AccessToken, a.AccessTokenExpires, a.RefreshToken, true
}

// SetAccessToken stores a freshly-minted access token for id.
func (s *Store) SetAccessToken(id, token string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("account: unknown id %q", id)
	}
	a := s.accounts[idx]
	a.AccessToken = token
	a.AccessTokenExpires = expiresAt
	return nil
}

// MarkInvalid flags id as needing re-authorization.
func (s *Store) MarkInvalid(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		s.accounts[idx].IsInvalid = true
		s.accounts[idx].InvalidReason = reason
	}
}

// RecordSuccess updates health/last-used on id after a successful call.
func (s *Store) RecordSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		s.accounts[idx].RecordSuccess(s.now())
	}
}

// RecordFailure updates health/last-used on id after a failed call.
func (s *Store) RecordFailure(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		s.accounts[idx].RecordFailure(s.now())
	}
}

// RecordRateLimit marks model rate-limited on id until the given unix
// timestamp.
func (s *Store) RecordRateLimit(id, model string, until int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		s.accounts[idx].SetRateLimit(model, until)
	}
}

// ClearRateLimit clears model's rate limit on id.
func (s *Store) ClearRateLimit(id, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[id]; ok {
		s.accounts[idx].ClearRateLimit(model)
	}
}

// ConsumeToken consumes one token from id's bucket, reporting whether one
// was available.
func (s *Store) ConsumeToken(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	return s.accounts[idx].ConsumeToken()
}

// RefillAll adds amount tokens to every account's bucket. Intended to be
// called periodically from a background ticker.
func (s *Store) RefillAll(amount uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		a.RefillTokens(amount)
	}
}

// Select chooses an account id to serve model using the store's
// configured strategy, stamps its last_used time, and consumes one token
// from its bucket — all inside the single write lock the selection itself
// already holds, so no caller ever observes a selected account between the
// pick and its last_used/token-bucket update. sessionID, when non-empty,
// lets StrategySticky use rendezvous hashing for its emergency-fallback
// branch so that repeated calls for the same conversation land on the same
// account even as the active account rotates out from under a cold store;
// pass "" to get the literal first-usable-in-insertion-order behavior.
func (s *Store) Select(model, sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var id string
	var ok bool
	switch s.strategy {
	case StrategySticky:
		id, ok = s.selectSticky(model, sessionID, now)
	case StrategyRoundRobin:
		id, ok = s.selectRoundRobin(model, now)
	default:
		id, ok = s.selectHybrid(model, now)
	}
	if !ok {
		return "", false
	}
	if idx, found := s.byID[id]; found {
		a := s.accounts[idx]
		a.LastUsed = now
		a.ConsumeToken()
	}
	return id, true
}

func (s *Store) selectSticky(model, sessionID string, now int64) (string, bool) {
	if s.activeAccountID != "" {
		if idx, ok := s.byID[s.activeAccountID]; ok {
			active := s.accounts[idx]
			if active.IsUsable(model, now) {
				return active.ID, true
			}
			if active.IsRateLimited(model, now) && active.RateLimitRemaining(model, now) < 120 {
				return active.ID, true
			}
		}
	}

	usable := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsUsable(model, now) {
			usable = append(usable, a)
		}
	}
	if len(usable) > 0 {
		var chosen *Account
		if sessionID != "" {
			chosen = rendezvousPick(usable, sessionID)
		} else {
			chosen = usable[0]
		}
		s.activeAccountID = chosen.ID
		return chosen.ID, true
	}

	for _, a := range s.accounts {
		if a.Enabled {
			return a.ID, true
		}
	}
	return "", false
}

func rendezvousPick(candidates []*Account, sessionID string) *Account {
	ids := make([]string, len(candidates))
	byID := make(map[string]*Account, len(candidates))
	for i, a := range candidates {
		ids[i] = a.ID
		byID[a.ID] = a
	}
	hasher := rendezvous.New(ids, xxhashString)
	return byID[hasher.Get(sessionID)]
}

func (s *Store) selectRoundRobin(model string, now int64) (string, bool) {
	usable := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.IsUsable(model, now) {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		for _, a := range s.accounts {
			if a.Enabled {
				return a.ID, true
			}
		}
		return "", false
	}

	currentIdx := 0
	if s.activeAccountID != "" {
		for i, a := range usable {
			if a.ID == s.activeAccountID {
				currentIdx = i
				break
			}
		}
	}
	next := usable[(currentIdx+1)%len(usable)]
	s.activeAccountID = next.ID
	return next.ID, true
}

func (s *Store) selectHybrid(model string, now int64) (string, bool) {
	type scored struct {
		a     *Account
		score float64
	}
	candidates := make([]scored, 0, len(s.accounts))
	for _, a := range s.accounts {
		if !a.Enabled || a.IsInvalid || a.IsRateLimited(model, now) {
			continue
		}
		if a.IsQuotaBelowThreshold(model, s.quotaThreshold) {
			continue
		}
		freshness := 100.0
		if a.LastUsed != 0 {
			idleMinutes := float64(now-a.LastUsed) / 60.0
			if idleMinutes < 100.0 {
				freshness = idleMinutes
			}
		}
		score := a.HealthScore*2.0 +
			(float64(a.TokensAvailable)/float64(MaxTokens)*100.0)*5.0 +
			(a.GetQuotaFraction(model)*100.0)*3.0 +
			freshness*0.1
		candidates = append(candidates, scored{a, score})
	}

	if len(candidates) == 0 {
		for _, a := range s.accounts {
			if a.Enabled {
				s.activeAccountID = a.ID
				return a.ID, true
			}
		}
		return "", false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	s.activeAccountID = best.a.ID
	return best.a.ID, true
}

// --- persistence ---

type persistedStore struct {
	Accounts        []*Account `json:"accounts"`
	ActiveAccountID string     `json:"active_account_id,omitempty"`
	Strategy        string     `json:"strategy,omitempty"`
	QuotaThreshold  float64    `json:"quota_threshold"`
}

func strategyName(s Strategy) string {
	switch s {
	case StrategySticky:
		return "sticky"
	case StrategyRoundRobin:
		return "round_robin"
	default:
		return "hybrid"
	}
}

// ParseStrategy maps a config-file strategy name to a Strategy, accepting
// the same aliases config.Validate checks against: "sticky";
// "roundrobin"/"round-robin"/"round_robin"/"rr" for StrategyRoundRobin;
// "hybrid"/"smart" (or anything unrecognized, for persisted data written
// before an alias was added) for StrategyHybrid.
func ParseStrategy(name string) Strategy {
	return parseStrategy(name)
}

func parseStrategy(name string) Strategy {
	switch strings.ToLower(name) {
	case "sticky":
		return StrategySticky
	case "roundrobin", "round-robin", "round_robin", "rr":
		return StrategyRoundRobin
	default:
		return StrategyHybrid
	}
}

// Load reads accounts.json from path. A missing file is not an error: it
// yields an empty store ready for OAuth enrollment. Importing accounts
// from another tool's on-disk format is out of scope; an operator moving
// from elsewhere reauthenticates through the normal OAuth flow instead.
func Load(path string) (*Store, error) {
	s := NewStore(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account: read %s: %w", path, err)
	}
	var p persistedStore
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("account: parse %s: %w", path, err)
	}
	s.accounts = p.Accounts
	s.byID = make(map[string]int, len(s.accounts))
	for i, a := range s.accounts {
		if a.Quota == nil {
			a.Quota = make(map[string]ModelQuota)
		}
		if a.RateLimits == nil {
			a.RateLimits = make(map[string]ModelRateLimit)
		}
		s.byID[a.ID] = i
	}
	s.activeAccountID = p.ActiveAccountID
	s.strategy = parseStrategy(p.Strategy)
	if p.QuotaThreshold > 0 {
		s.quotaThreshold = p.QuotaThreshold
	}
	return s, nil
}

// Save writes the store to its configured path as pretty-printed JSON.
func (s *Store) Save() error {
	s.mu.RLock()
	p := persistedStore{
		Accounts:        s.accounts,
		ActiveAccountID: s.activeAccountID,
		Strategy:        strategyName(s.strategy),
		QuotaThreshold:  s.quotaThreshold,
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("account: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("account: mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(s.path, data, 0o600)
}
