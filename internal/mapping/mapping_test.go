package mapping

import "testing"

func TestModelFamily(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5":   "claude",
		"gemini-3-flash":      "gemini",
		"gpt-oss-120b-medium": "gpt-oss",
		"unknown-model":       "unknown",
	}
	for in, want := range cases {
		if got := GetModelFamily(in); got != want {
			t.Errorf("GetModelFamily(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsThinkingModel(t *testing.T) {
	thinking := []string{
		"claude-opus-4-6-thinking",
		"claude-opus-4-5-thinking",
		"claude-sonnet-4-5-thinking",
		"gemini-3-flash",
		"gemini-3-pro-high",
		"gemini-4-flash",
	}
	for _, m := range thinking {
		if !IsThinkingModel(m) {
			t.Errorf("expected %q to be a thinking model", m)
		}
	}

	notThinking := []string{"claude-sonnet-4-5", "gpt-oss-120b-medium"}
	for _, m := range notThinking {
		if IsThinkingModel(m) {
			t.Errorf("expected %q to not be a thinking model", m)
		}
	}
}

func TestResolveModelAlias(t *testing.T) {
	cases := map[string]string{
		"opus":                     "claude-opus-4-6-thinking",
		"opus-4-5":                 "claude-opus-4-5-thinking",
		"sonnet":                   "claude-sonnet-4-5",
		"sonnet-thinking":          "claude-sonnet-4-5-thinking",
		"flash":                    "gemini-3-flash",
		"pro":                      "gemini-3-pro-high",
		"3-flash":                  "gemini-3-flash",
		"3-pro":                    "gemini-3-pro-high",
		"gpt-oss":                  "gpt-oss-120b-medium",
		"oss":                      "gpt-oss-120b-medium",
		"claude-opus-4-6-thinking": "claude-opus-4-6-thinking",
		"claude-opus-4-5-thinking": "claude-opus-4-5-thinking",
		"gemini-3-flash":           "gemini-3-flash",
		"gpt-oss-120b-medium":      "gpt-oss-120b-medium",
		"unknown-model":            "unknown-model",
	}
	for in, want := range cases {
		if got := ResolveModelAlias(in); got != want {
			t.Errorf("ResolveModelAlias(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetFallbackModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
		ok    bool
	}{
		{"gemini-3-pro-high", "claude-opus-4-6-thinking", true},
		{"gemini-3-flash", "claude-sonnet-4-5-thinking", true},
		{"claude-opus-4-6-thinking", "claude-opus-4-5-thinking", true},
		{"claude-opus-4-5-thinking", "gemini-3-pro-high", true},
		{"claude-sonnet-4-5-thinking", "gemini-3-flash", true},
		{"gpt-oss-120b-medium", "gemini-3-flash", true},
		{"unknown-model", "", false},
	}
	for _, c := range cases {
		got, ok := GetFallbackModel(c.model)
		if ok != c.ok || got != c.want {
			t.Errorf("GetFallbackModel(%q) = (%q, %v), want (%q, %v)", c.model, got, ok, c.want, c.ok)
		}
	}
}

func TestGlobMatch(t *testing.T) {
	trueCases := [][2]string{
		{"gpt-4*", "gpt-4"},
		{"gpt-4*", "gpt-4o"},
		{"gpt-4*", "gpt-4o-mini"},
		{"gpt-4*", "GPT-4O"},
		{"*-thinking", "claude-opus-4-5-thinking"},
		{"claude-*-thinking", "claude-opus-4-5-thinking"},
		{"gpt-4", "gpt-4"},
		{"GPT-4", "gpt-4"},
		{"claude-3-haiku-*", "claude-3-haiku-20240307"},
		{"o1-*", "o1-preview"},
	}
	for _, c := range trueCases {
		if !GlobMatch(c[0], c[1]) {
			t.Errorf("GlobMatch(%q, %q) = false, want true", c[0], c[1])
		}
	}

	falseCases := [][2]string{
		{"gpt-4*", "gpt-3.5-turbo"},
		{"*-thinking", "claude-sonnet-4-5"},
		{"claude-*-thinking", "claude-sonnet-4-5"},
		{"gpt-4", "gpt-4o"},
	}
	for _, c := range falseCases {
		if GlobMatch(c[0], c[1]) {
			t.Errorf("GlobMatch(%q, %q) = true, want false", c[0], c[1])
		}
	}
}

func TestResolverPriorityChain(t *testing.T) {
	r := &Resolver{
		Rules: []Rule{
			{From: "gpt-4*", To: "gemini-3-pro-high"},
			{From: "claude-3-haiku-*", To: "gemini-3-flash"},
		},
		BackgroundTaskModel: "gemini-3-flash",
	}

	if got := r.Resolve("gpt-4o"); got != "gemini-3-pro-high" {
		t.Errorf("user rule should take priority, got %q", got)
	}
	if got := r.Resolve("opus"); got != "claude-opus-4-6-thinking" {
		t.Errorf("should fall through to hardcoded alias, got %q", got)
	}
	if got := r.Resolve("internal-background-task"); got != "gemini-3-flash" {
		t.Errorf("background task model substitution failed, got %q", got)
	}
	if got := r.Resolve("totally-unknown"); got != "totally-unknown" {
		t.Errorf("unknown model should pass through, got %q", got)
	}
}

func TestPresetRulesAndCycling(t *testing.T) {
	if len(PresetBalanced.Rules()) == 0 {
		t.Fatalf("balanced preset should have rules")
	}
	if len(PresetPerformance.Rules()) == 0 {
		t.Fatalf("performance preset should have rules")
	}
	if len(PresetCost.Rules()) == 0 {
		t.Fatalf("cost preset should have rules")
	}
	if len(PresetNone.Rules()) != 0 || len(PresetCustom.Rules()) != 0 {
		t.Fatalf("none/custom presets should have no built-in rules")
	}

	if ParsePreset("balanced") != PresetBalanced || ParsePreset("bogus") != PresetNone {
		t.Fatalf("ParsePreset round-trip failed")
	}
	if PresetNone.Next() != PresetBalanced || PresetCustom.Next() != PresetNone {
		t.Fatalf("preset cycling failed")
	}
}

func TestCustomScriptResolve(t *testing.T) {
	script, err := LoadCustomScript(`
		function map_model(model)
			if model == "my-alias" then
				return "gemini-3-flash"
			end
			return nil
		end
	`)
	if err != nil {
		t.Fatalf("LoadCustomScript: %v", err)
	}
	defer script.Close()

	got, ok := script.Resolve("my-alias")
	if !ok || got != "gemini-3-flash" {
		t.Fatalf("got (%q, %v)", got, ok)
	}

	if _, ok := script.Resolve("something-else"); ok {
		t.Fatalf("expected script to defer on unmatched model")
	}
}
