// Package ratelimit implements the rate-limit coordinator (component C): a
// process-wide, per-model state machine tracking consecutive 429s, computing
// backoff, classifying error reasons, and parsing server-reported reset
// hints. Shared across all in-flight requests.
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	DedupWindow        = 2 * time.Second
	StateResetWindow   = 120 * time.Second
	FirstRetryDelayMs  = 1000
	MaxBackoffMs       = 60_000
	MinBackoffMs       = 2000
	MaxWaitBeforeError = 120_000 * time.Millisecond
	DefaultCooldownMs  = 10_000

	backoffRateLimitExceededMs    = 30_000
	backoffModelCapacityMs        = 15_000
	backoffServerErrorMs          = 20_000
	backoffUnknownMs              = 60_000

	MaxCapacityRetries = 5
)

// CapacityBackoffTiersMs is the fixed capacity-tier schedule, orthogonal to
// the ordinary 429 retry counter.
var CapacityBackoffTiersMs = [5]int64{5000, 10000, 20000, 30000, 60000}

var quotaExhaustedBackoffTiersMs = [4]int64{60_000, 300_000, 1_800_000, 7_200_000}

// Reason classifies the cause of a 429/5xx as reported by upstream error
// text.
type Reason int

const (
	ReasonQuotaExhausted Reason = iota
	ReasonModelCapacityExhausted
	ReasonRateLimitExceeded
	ReasonServerError
	ReasonUnknown
)

var (
	quotaResetDelayRe     = regexp.MustCompile(`quotaresetdelay[:\s"]+([\d.]+)(ms|s)`)
	quotaResetTimestampRe = regexp.MustCompile(`quotaresettimestamp[:\s"]+(\d{4}-\d{2}-\d{2}T[\d:.]+Z?)`)
)

// Classify maps error_text to a Reason by case-insensitive substring match.
// Pure function.
func Classify(errorText string) Reason {
	lower := strings.ToLower(errorText)

	switch {
	case strings.Contains(lower, "quota_exhausted"),
		strings.Contains(lower, "quotaresetdelay"),
		strings.Contains(lower, "quotaresettimestamp"),
		strings.Contains(lower, "resource_exhausted"),
		strings.Contains(lower, "daily limit"),
		strings.Contains(lower, "quota exceeded"):
		return ReasonQuotaExhausted
	case strings.Contains(lower, "model_capacity_exhausted"),
		strings.Contains(lower, "capacity_exhausted"),
		strings.Contains(lower, "model is currently overloaded"),
		strings.Contains(lower, "service temporarily unavailable"):
		return ReasonModelCapacityExhausted
	case strings.Contains(lower, "rate_limit_exceeded"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "throttl"):
		return ReasonRateLimitExceeded
	case strings.Contains(lower, "internal server error"),
		strings.Contains(lower, "server error"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "502"),
		strings.Contains(lower, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// IsModelCapacityExhausted reports whether error_text indicates the model
// (not the account's quota) is temporarily overloaded.
func IsModelCapacityExhausted(errorText string) bool {
	lower := strings.ToLower(errorText)
	return strings.Contains(lower, "model_capacity_exhausted") ||
		strings.Contains(lower, "capacity_exhausted") ||
		strings.Contains(lower, "model is currently overloaded") ||
		strings.Contains(lower, "service temporarily unavailable")
}

type rateLimitState struct {
	consecutive429 uint32
	lastAt         time.Time
}

// Backoff is the result of a backoff decision.
type Backoff struct {
	Attempt     uint32
	DelayMs     int64
	IsDuplicate bool
}

// Coordinator holds the process-wide rate-limit table.
type Coordinator struct {
	mu    sync.RWMutex
	state map[string]*rateLimitState
	clock func() time.Time
}

// New returns an empty rate-limit coordinator.
func New() *Coordinator {
	return &Coordinator{state: make(map[string]*rateLimitState), clock: time.Now}
}

// GetRateLimitBackoff computes the next backoff decision for model, given an
// optional server-reported retry-after hint in milliseconds.
//
// The fast path is a read lock: if the existing entry was touched within the
// dedup window, this call reports is_duplicate=true without mutating state,
// preventing a thundering herd of concurrent callers from each bumping the
// attempt counter for what is really one rate-limit event.
func (c *Coordinator) GetRateLimitBackoff(model string, serverRetryAfterMs *int64) Backoff {
	now := c.clock()

	c.mu.RLock()
	if state, ok := c.state[model]; ok {
		elapsed := now.Sub(state.lastAt)
		if elapsed < DedupWindow {
			base := FirstRetryDelayMs
			if serverRetryAfterMs != nil {
				base = int(*serverRetryAfterMs)
			}
			delay := calculateBackoff(int64(base), state.consecutive429)
			attempt := state.consecutive429
			c.mu.RUnlock()
			return Backoff{Attempt: attempt, DelayMs: delay, IsDuplicate: true}
		}
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var attempt uint32 = 1
	if state, ok := c.state[model]; ok {
		if now.Sub(state.lastAt) < StateResetWindow {
			attempt = state.consecutive429 + 1
		}
	}
	c.state[model] = &rateLimitState{consecutive429: attempt, lastAt: now}

	base := FirstRetryDelayMs
	if serverRetryAfterMs != nil {
		base = int(*serverRetryAfterMs)
	}
	delay := calculateBackoff(int64(base), attempt)

	return Backoff{Attempt: attempt, DelayMs: delay, IsDuplicate: false}
}

// ClearRateLimitState removes model's entry, called after any successful
// response.
func (c *Coordinator) ClearRateLimitState(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, model)
}

func calculateBackoff(base int64, attempt uint32) int64 {
	if attempt == 0 {
		attempt = 1
	}
	shift := attempt - 1
	var multiplier int64 = 1
	if shift < 63 {
		multiplier = int64(1) << shift
	} else {
		multiplier = 1 << 62
	}
	delay := base * multiplier
	if delay > MaxBackoffMs {
		delay = MaxBackoffMs
	}
	if delay < base {
		delay = base
	}
	return delay
}

// CalculateSmartBackoff picks a wait time for error_text: the server hint if
// present (clamped to MinBackoffMs), else a fixed table indexed by
// consecutive_failures for QuotaExhausted, else a flat per-reason delay.
func CalculateSmartBackoff(errorText string, serverResetMs *int64, consecutiveFailures uint32) int64 {
	if serverResetMs != nil && *serverResetMs > 0 {
		if *serverResetMs > MinBackoffMs {
			return *serverResetMs
		}
		return MinBackoffMs
	}

	switch Classify(errorText) {
	case ReasonQuotaExhausted:
		idx := int(consecutiveFailures)
		if idx >= len(quotaExhaustedBackoffTiersMs) {
			idx = len(quotaExhaustedBackoffTiersMs) - 1
		}
		return quotaExhaustedBackoffTiersMs[idx]
	case ReasonRateLimitExceeded:
		return backoffRateLimitExceededMs
	case ReasonModelCapacityExhausted:
		return backoffModelCapacityMs
	case ReasonServerError:
		return backoffServerErrorMs
	default:
		return backoffUnknownMs
	}
}

// ParseResetTime extracts a wait duration and a human-readable form from an
// upstream error body, trying quotaResetDelay, then quotaResetTimeStamp,
// then a free-form duration string, then retry-after, falling back to
// defaultMs.
func ParseResetTime(errorBody string, defaultMs int64) (int64, string) {
	lower := strings.ToLower(errorBody)

	var resetMs *int64
	if ms, ok := parseQuotaResetDelay(lower); ok {
		resetMs = &ms
	}
	if resetMs == nil {
		if ms, ok := parseQuotaResetTimestamp(lower); ok {
			resetMs = &ms
		}
	}
	if resetMs == nil {
		if ms, ok := parseDurationString(lower); ok {
			resetMs = &ms
		}
	}
	if resetMs == nil {
		if ms, ok := parseRetryAfter(lower); ok {
			resetMs = &ms
		}
	}

	var finalMs int64
	switch {
	case resetMs == nil:
		finalMs = defaultMs
	case *resetMs == 0:
		finalMs = 500
	case *resetMs < 500:
		finalMs = *resetMs + 200
	default:
		finalMs = *resetMs
	}

	return finalMs, FormatDuration(finalMs)
}

func parseQuotaResetDelay(text string) (int64, bool) {
	m := quotaResetDelayRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] == "s" {
		return int64(ceilF(value * 1000.0)), true
	}
	return int64(ceilF(value)), true
}

func ceilF(v float64) float64 {
	i := int64(v)
	if float64(i) < v {
		i++
	}
	return float64(i)
}

func parseQuotaResetTimestamp(text string) (int64, bool) {
	m := quotaResetTimestampRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return 0, false
	}
	delta := ts.Sub(time.Now())
	if delta > 0 {
		return delta.Milliseconds(), true
	}
	return 500, true
}

// parseDurationString looks for a free-form "1h23m45s"-style duration
// embedded in text, carefully distinguishing the minutes marker 'm' from
// the "ms" unit suffix.
func parseDurationString(text string) (int64, bool) {
	var total int64
	found := false

	if pos := strings.IndexByte(text, 'h'); pos > 0 {
		start := digitsStart(text, pos)
		if hours, err := strconv.ParseInt(text[start:pos], 10, 64); err == nil {
			total += hours * 3600 * 1000
			found = true
		}
	}

	if pos := strings.IndexByte(text, 'm'); pos >= 0 {
		if pos+1 < len(text) && text[pos+1] == 's' {
			// part of "ms", not a minutes marker.
		} else if pos > 0 {
			start := digitsStart(text, pos)
			if mins, err := strconv.ParseInt(text[start:pos], 10, 64); err == nil {
				total += mins * 60 * 1000
				found = true
			}
		}
	}

	for i := 0; i < len(text); i++ {
		if text[i] != 's' || i == 0 {
			continue
		}
		if text[i-1] == 'm' {
			continue
		}
		start := digitsStart(text, i)
		if start < i {
			if secs, err := strconv.ParseInt(text[start:i], 10, 64); err == nil {
				total += secs * 1000
				found = true
			}
		}
		break
	}

	return total, found
}

func digitsStart(text string, end int) int {
	i := end
	for i > 0 && text[i-1] >= '0' && text[i-1] <= '9' {
		i--
	}
	return i
}

func parseRetryAfter(text string) (int64, bool) {
	pos := strings.Index(text, "retry")
	if pos < 0 {
		return 0, false
	}
	after := text[pos+5:]
	start := strings.IndexFunc(after, isDigit)
	if start < 0 {
		return 0, false
	}
	after = after[start:]
	end := strings.IndexFunc(after, func(r rune) bool { return !isDigit(r) })
	if end < 0 {
		end = len(after)
	}
	secs, err := strconv.ParseInt(after[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return secs * 1000, true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// FormatDuration renders ms as a compact human string: "5s", "1m5s",
// "1h1m5s".
func FormatDuration(ms int64) string {
	totalSecs := ms / 1000
	hours := totalSecs / 3600
	mins := (totalSecs % 3600) / 60
	secs := totalSecs % 60

	var b strings.Builder
	switch {
	case hours > 0:
		b.WriteString(strconv.FormatInt(hours, 10))
		b.WriteByte('h')
		b.WriteString(strconv.FormatInt(mins, 10))
		b.WriteByte('m')
		b.WriteString(strconv.FormatInt(secs, 10))
		b.WriteByte('s')
	case mins > 0:
		b.WriteString(strconv.FormatInt(mins, 10))
		b.WriteByte('m')
		b.WriteString(strconv.FormatInt(secs, 10))
		b.WriteByte('s')
	default:
		b.WriteString(strconv.FormatInt(secs, 10))
		b.WriteByte('s')
	}
	return b.String()
}

// CapacityRetryCounter is a lock-free counter for the capacity-tier retry
// budget, kept separate from the ordinary 429 retry counter per request (the
// dispatcher owns one per in-flight request, so go.uber.org/atomic's typed
// wrapper is used directly rather than a shared table).
type CapacityRetryCounter struct {
	n atomic.Uint32
}

// NextTierMs returns the wait for the next capacity-tier retry and whether
// the retry budget (MaxCapacityRetries) is still available, incrementing the
// counter as a side effect.
func (c *CapacityRetryCounter) NextTierMs() (int64, bool) {
	n := c.n.Load()
	if n >= MaxCapacityRetries {
		return 0, false
	}
	idx := int(n)
	if idx >= len(CapacityBackoffTiersMs) {
		idx = len(CapacityBackoffTiersMs) - 1
	}
	c.n.Inc()
	return CapacityBackoffTiersMs[idx], true
}
