// Package signature implements the cross-turn signature cache (component A):
// a short-lived mapping from tool-call id to the opaque signature certain
// upstream models attach to their own output, and from signature to the
// model family that produced it, so a later turn can reattach a signature a
// client stripped.
package signature

import (
	"sync"
	"time"
)

const (
	// TTL is how long an entry survives after insertion.
	TTL = 2 * time.Hour

	// MinLength rejects signatures shorter than this at insertion time.
	MinLength = 50

	// FamilyClaude and FamilyGemini are the only families the thinking
	// signature table tracks.
	FamilyClaude = "claude"
	FamilyGemini = "gemini"

	// SkipValidatorSentinel is used as the outbound thought_signature on
	// tool calls sent to Gemini when no real signature is cached for them.
	SkipValidatorSentinel = "skip_thought_signature_validator"
)

type toolEntry struct {
	signature  string
	insertedAt time.Time
}

type thinkingEntry struct {
	family     string
	insertedAt time.Time
}

// Cache holds the two process-wide signature tables. Zero value is not
// usable; construct with New.
type Cache struct {
	mu       sync.RWMutex
	tools    map[string]toolEntry
	thinking map[string]thinkingEntry
	clock    func() time.Time
}

// New returns an empty signature cache.
func New() *Cache {
	return &Cache{
		tools:    make(map[string]toolEntry),
		thinking: make(map[string]thinkingEntry),
		clock:    time.Now,
	}
}

// CacheToolSignature records sig for tool-call id. No-op if id is empty,
// sig is empty, or sig is shorter than MinLength.
func (c *Cache) CacheToolSignature(id, sig string) {
	if id == "" || len(sig) < MinLength {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[id] = toolEntry{signature: sig, insertedAt: c.clock()}
}

// GetCachedToolSignature returns the signature cached for id, if any and
// not expired. Expired entries are removed as a side effect.
func (c *Cache) GetCachedToolSignature(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tools[id]
	if !ok {
		return "", false
	}
	if c.clock().Sub(entry.insertedAt) > TTL {
		delete(c.tools, id)
		return "", false
	}
	return entry.signature, true
}

// CacheThinkingSignature records which family produced sig. No-op if sig is
// shorter than MinLength.
func (c *Cache) CacheThinkingSignature(sig, family string) {
	if len(sig) < MinLength {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking[sig] = thinkingEntry{family: family, insertedAt: c.clock()}
}

// IsSignatureCompatible reports whether sig may be sent to a target of
// targetFamily. Claude accepts any signature (it validates its own); Gemini
// only accepts a signature it is known to have produced itself.
func (c *Cache) IsSignatureCompatible(sig, targetFamily string) bool {
	if targetFamily == FamilyClaude {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.thinking[sig]
	if !ok {
		return false
	}
	if c.clock().Sub(entry.insertedAt) > TTL {
		delete(c.thinking, sig)
		return false
	}
	return entry.family == targetFamily
}
