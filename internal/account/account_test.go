package account

import "testing"

func TestAccountNew(t *testing.T) {
	a := New("user@example.com", "refresh-token")
	if a.Email != "user@example.com" || a.RefreshToken != "refresh-token" {
		t.Fatalf("unexpected account: %+v", a)
	}
	if !a.Enabled {
		t.Fatalf("new account should be enabled")
	}
	if a.HealthScore != 1.0 {
		t.Fatalf("expected health_score 1.0, got %v", a.HealthScore)
	}
	if a.TokensAvailable != MaxTokens {
		t.Fatalf("expected full token bucket, got %d", a.TokensAvailable)
	}
}

func TestAccountRateLimit(t *testing.T) {
	a := New("user@example.com", "rt")
	now := int64(1_000_000)

	if a.IsRateLimited("gemini-3-flash", now) {
		t.Fatalf("fresh account should not be rate-limited")
	}

	a.SetRateLimit("gemini-3-flash", now+60)
	if !a.IsRateLimited("gemini-3-flash", now) {
		t.Fatalf("expected rate-limited immediately after SetRateLimit")
	}
	if got := a.RateLimitRemaining("gemini-3-flash", now); got != 60 {
		t.Fatalf("expected 60s remaining, got %d", got)
	}

	a.ClearRateLimit("gemini-3-flash")
	if a.IsRateLimited("gemini-3-flash", now) {
		t.Fatalf("expected rate limit cleared")
	}
}

func TestAccountHealth(t *testing.T) {
	a := New("user@example.com", "rt")
	a.HealthScore = 0.95
	a.RecordSuccess(1)
	if a.HealthScore != 1.0 {
		t.Fatalf("expected health clamped to 1.0, got %v", a.HealthScore)
	}

	a.RecordFailure(2)
	a.RecordFailure(3)
	a.RecordFailure(4)
	a.RecordFailure(5)
	a.RecordFailure(6)
	a.RecordFailure(7)
	if a.HealthScore != 0.0 {
		t.Fatalf("expected health clamped to 0.0, got %v", a.HealthScore)
	}
}

func TestAccountStoreAddRemove(t *testing.T) {
	s := NewStore("")
	a := New("one@example.com", "rt1")
	s.AddAccount(a)
	if s.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", s.Len())
	}

	b := New("two@example.com", "rt2")
	s.AddAccount(b)
	if s.Len() != 2 {
		t.Fatalf("expected 2 accounts, got %d", s.Len())
	}

	s.SetActive(a.ID)
	if !s.RemoveAccount(a.ID) {
		t.Fatalf("expected remove to succeed")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 account after remove, got %d", s.Len())
	}
	if _, ok := s.Snapshot(a.ID); ok {
		t.Fatalf("removed account should not be found")
	}
	snap, ok := s.Snapshot(b.ID)
	if !ok || snap.Email != "two@example.com" {
		t.Fatalf("remaining account corrupted: %+v", snap)
	}
}

func TestHybridSelection(t *testing.T) {
	s := NewStore("")
	s.SetStrategy(StrategyHybrid)

	weak := New("weak@example.com", "rt1")
	weak.HealthScore = 0.5
	s.AddAccount(weak)

	strong := New("strong@example.com", "rt2")
	strong.HealthScore = 1.0
	s.AddAccount(strong)

	id, ok := s.Select("gemini-3-flash", "")
	if !ok {
		t.Fatalf("expected a selection")
	}
	if id != strong.ID {
		t.Fatalf("expected the higher-health account to win, got %s", id)
	}
}

func TestPerAccountQuotaThreshold(t *testing.T) {
	s := NewStore("")
	a := New("user@example.com", "rt")
	s.AddAccount(a)

	if got := a.GetEffectiveQuotaThreshold("gemini-3-flash", 0.2); got != 0.2 {
		t.Fatalf("expected global threshold 0.2, got %v", got)
	}

	accountThreshold := 0.05
	a.QuotaThreshold = &accountThreshold
	if got := a.GetEffectiveQuotaThreshold("gemini-3-flash", 0.2); got != 0.05 {
		t.Fatalf("expected per-account threshold 0.05, got %v", got)
	}

	a.ModelQuotaThresholds = map[string]float64{"gemini-3-flash": 0.01}
	if got := a.GetEffectiveQuotaThreshold("gemini-3-flash", 0.2); got != 0.01 {
		t.Fatalf("expected per-model threshold 0.01, got %v", got)
	}
	if got := a.GetEffectiveQuotaThreshold("gemini-3-pro", 0.2); got != 0.05 {
		t.Fatalf("per-model override should not leak to other models, got %v", got)
	}
}

func TestIsQuotaBelowThreshold(t *testing.T) {
	a := New("user@example.com", "rt")
	a.Quota = map[string]ModelQuota{
		"gemini-3-flash": {RemainingFraction: 0.15},
	}

	if a.IsQuotaBelowThreshold("gemini-3-flash", 0.1) {
		t.Fatalf("0.15 should not be below a 0.1 threshold")
	}
	if !a.IsQuotaBelowThreshold("gemini-3-flash", 0.2) {
		t.Fatalf("0.15 should be below a 0.2 threshold")
	}

	a.ModelQuotaThresholds = map[string]float64{"gemini-3-flash": 0.3}
	if !a.IsQuotaBelowThreshold("gemini-3-flash", 0.1) {
		t.Fatalf("per-model threshold of 0.3 should win over global 0.1")
	}
}

func TestRoundRobinSelection(t *testing.T) {
	s := NewStore("")
	s.SetStrategy(StrategyRoundRobin)

	a := New("a@example.com", "rt")
	b := New("b@example.com", "rt")
	s.AddAccount(a)
	s.AddAccount(b)

	first, _ := s.Select("gemini-3-flash", "")
	second, _ := s.Select("gemini-3-flash", "")
	if first == second {
		t.Fatalf("round robin should alternate accounts, got %s twice", first)
	}
	third, _ := s.Select("gemini-3-flash", "")
	if third != first {
		t.Fatalf("round robin should cycle back to the first account")
	}
}

func TestStickyKeepsActiveAccount(t *testing.T) {
	s := NewStore("")
	s.SetStrategy(StrategySticky)

	a := New("a@example.com", "rt")
	b := New("b@example.com", "rt")
	s.AddAccount(a)
	s.AddAccount(b)

	first, _ := s.Select("gemini-3-flash", "")
	second, _ := s.Select("gemini-3-flash", "")
	if first != second {
		t.Fatalf("sticky strategy should keep returning %s, got %s", first, second)
	}
}

func TestTokenBucket(t *testing.T) {
	s := NewStore("")
	a := New("a@example.com", "rt")
	s.AddAccount(a)

	for i := uint32(0); i < MaxTokens; i++ {
		if !s.ConsumeToken(a.ID) {
			t.Fatalf("expected token %d to be available", i)
		}
	}
	if s.ConsumeToken(a.ID) {
		t.Fatalf("bucket should be empty")
	}

	s.RefillAll(10)
	snap, _ := s.Snapshot(a.ID)
	if snap.TokensAvailable != 10 {
		t.Fatalf("expected 10 tokens after refill, got %d", snap.TokensAvailable)
	}
}
