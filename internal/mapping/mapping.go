// Package mapping resolves the model name a client asked for to the
// Cloud Code model id ccrouter actually dispatches, via aliasing,
// user-defined rules, presets, and family/fallback/thinking-model
// classification.
package mapping

import "strings"

// Model is one of the eight Cloud Code models ccrouter knows how to
// dispatch to.
type Model string

const (
	ClaudeOpus4_6Thinking   Model = "claude-opus-4-6-thinking"
	ClaudeOpus4_5Thinking   Model = "claude-opus-4-5-thinking"
	ClaudeSonnet4_5         Model = "claude-sonnet-4-5"
	ClaudeSonnet4_5Thinking Model = "claude-sonnet-4-5-thinking"
	Gemini3Flash            Model = "gemini-3-flash"
	Gemini3ProHigh          Model = "gemini-3-pro-high"
	Gemini3ProLow           Model = "gemini-3-pro-low"
	GptOss120bMedium        Model = "gpt-oss-120b-medium"
)

// AllModels lists every model ccrouter can dispatch to, in declaration
// order, for the mappings UI's "target model" picker.
var AllModels = []Model{
	ClaudeOpus4_6Thinking,
	ClaudeOpus4_5Thinking,
	ClaudeSonnet4_5,
	ClaudeSonnet4_5Thinking,
	Gemini3Flash,
	Gemini3ProHigh,
	Gemini3ProLow,
	GptOss120bMedium,
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}

func startsWithFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// GetModelFamily classifies a model name into "claude", "gemini",
// "gpt-oss", or "unknown" by case-insensitive substring.
func GetModelFamily(modelName string) string {
	switch {
	case containsFold(modelName, "claude"):
		return "claude"
	case containsFold(modelName, "gemini"):
		return "gemini"
	case containsFold(modelName, "gpt-oss"):
		return "gpt-oss"
	default:
		return "unknown"
	}
}

var datedPrefixRules = []struct {
	prefixes []string
	target   string
}{
	{[]string{"claude-opus-4-6", "claude-opus-4.6"}, string(ClaudeOpus4_6Thinking)},
	{[]string{"claude-opus-4-5", "claude-opus-4.5"}, string(ClaudeOpus4_5Thinking)},
	{[]string{"claude-sonnet-4-5-thinking", "claude-sonnet-4.5-thinking"}, string(ClaudeSonnet4_5Thinking)},
	{[]string{"claude-sonnet-4-5", "claude-sonnet-4.5"}, string(ClaudeSonnet4_5)},
}

var aliasTable = map[string]string{
	"opus":            string(ClaudeOpus4_6Thinking),
	"opus-thinking":   string(ClaudeOpus4_6Thinking),
	"claude-opus":     string(ClaudeOpus4_6Thinking),
	"opus-4-5":        string(ClaudeOpus4_5Thinking),
	"opus-4.5":        string(ClaudeOpus4_5Thinking),
	"claude-opus-4-5": string(ClaudeOpus4_5Thinking),
	"sonnet":          string(ClaudeSonnet4_5),
	"claude-sonnet":   string(ClaudeSonnet4_5),

	"sonnet-thinking":        string(ClaudeSonnet4_5Thinking),
	"claude-sonnet-thinking": string(ClaudeSonnet4_5Thinking),

	"haiku":            string(Gemini3Flash),
	"claude-haiku":     string(Gemini3Flash),
	"claude-haiku-4-5": string(Gemini3Flash),

	"gpt-5.2-codex": string(ClaudeOpus4_6Thinking),
	"gpt-5.2":       string(ClaudeOpus4_6Thinking),
	"gpt-5":         string(ClaudeOpus4_6Thinking),
	"o3":            string(ClaudeOpus4_6Thinking),
	"o3-high":       string(ClaudeOpus4_6Thinking),

	"flash":                  string(Gemini3Flash),
	"gemini-flash":           string(Gemini3Flash),
	"flash-lite":             string(Gemini3Flash),
	"gemini-flash-lite":      string(Gemini3Flash),
	"flash-thinking":         string(Gemini3Flash),
	"gemini-flash-thinking":  string(Gemini3Flash),
	"pro":                    string(Gemini3ProHigh),
	"gemini-pro":             string(Gemini3ProHigh),

	"3-flash":        string(Gemini3Flash),
	"gemini3-flash":  string(Gemini3Flash),
	"3-pro":          string(Gemini3ProHigh),
	"3-pro-high":     string(Gemini3ProHigh),
	"gemini3-pro":    string(Gemini3ProHigh),
	"3-pro-low":      string(Gemini3ProLow),
	"gemini3-pro-low": string(Gemini3ProLow),

	"gpt-oss":     string(GptOss120bMedium),
	"gpt-oss-120b": string(GptOss120bMedium),
	"oss":         string(GptOss120bMedium),
}

// ResolveModelAlias expands shorthand ("opus", "flash", "sonnet-thinking")
// to a full Cloud Code model id. Unrecognized input passes through
// unchanged.
func ResolveModelAlias(model string) string {
	for _, rule := range datedPrefixRules {
		for _, prefix := range rule.prefixes {
			if startsWithFold(model, prefix) {
				return rule.target
			}
		}
	}
	if target, ok := aliasTable[strings.ToLower(model)]; ok {
		return target
	}
	return model
}

var fallbackTable = map[string]string{
	string(Gemini3ProHigh):          string(ClaudeOpus4_6Thinking),
	string(Gemini3ProLow):           string(ClaudeSonnet4_5),
	string(Gemini3Flash):            string(ClaudeSonnet4_5Thinking),
	string(ClaudeOpus4_6Thinking):   string(ClaudeOpus4_5Thinking),
	string(ClaudeOpus4_5Thinking):   string(Gemini3ProHigh),
	string(ClaudeSonnet4_5Thinking): string(Gemini3Flash),
	string(ClaudeSonnet4_5):         string(Gemini3Flash),
	string(GptOss120bMedium):        string(Gemini3Flash),
}

// GetFallbackModel returns the model ccrouter should retry with when
// model is unavailable, and whether one is configured.
func GetFallbackModel(model string) (string, bool) {
	target, ok := fallbackTable[model]
	return target, ok
}

// IsThinkingModel reports whether model_name should be treated as a
// reasoning/thinking model. Claude models need an explicit "thinking"
// marker; every Gemini 3+ model is a thinking model implicitly.
func IsThinkingModel(modelName string) bool {
	if containsFold(modelName, "claude") && containsFold(modelName, "thinking") {
		return true
	}
	if containsFold(modelName, "gemini") {
		if containsFold(modelName, "thinking") {
			return true
		}
		lower := strings.ToLower(modelName)
		rest, ok := strings.CutPrefix(lower, "gemini-")
		if ok && len(rest) > 0 && rest[0] >= '3' && rest[0] <= '9' {
			return true
		}
	}
	return false
}

// GlobMatch matches pattern against input case-insensitively. A single
// '*' in pattern may appear anywhere: at the end (prefix match), at the
// start (suffix match), or in the middle (prefix-and-suffix match). A
// pattern with no '*' requires an exact (case-insensitive) match.
func GlobMatch(pattern, input string) bool {
	pattern = strings.ToLower(pattern)
	input = strings.ToLower(input)

	idx := strings.IndexByte(pattern, '*')
	if idx < 0 {
		return pattern == input
	}
	prefix, suffix := pattern[:idx], pattern[idx+1:]
	switch {
	case suffix == "":
		return strings.HasPrefix(input, prefix)
	case prefix == "":
		return strings.HasSuffix(input, suffix)
	default:
		return strings.HasPrefix(input, prefix) && strings.HasSuffix(input, suffix) &&
			len(input) >= len(prefix)+len(suffix)
	}
}

// Rule is a single user-defined "from glob -> to model" mapping,
// evaluated in order, first match wins.
type Rule struct {
	From string `json:"from" koanf:"from"`
	To   string `json:"to" koanf:"to"`
}

// Resolver resolves a requested model name to the model ccrouter should
// actually dispatch to, consulting (highest priority first): the
// internal-background-task special case, a custom Lua scoring script if
// one is configured, user-defined glob Rules, and finally the hardcoded
// alias table.
type Resolver struct {
	Rules               []Rule
	BackgroundTaskModel string
	Script              *CustomScript // nil unless MappingPreset is "custom" with a script configured
}

// Resolve implements the priority chain described on Resolver.
func (r *Resolver) Resolve(model string) string {
	if model == "internal-background-task" {
		return r.BackgroundTaskModel
	}
	if r.Script != nil {
		if target, ok := r.Script.Resolve(model); ok {
			return target
		}
	}
	for _, rule := range r.Rules {
		if GlobMatch(rule.From, model) {
			return rule.To
		}
	}
	return ResolveModelAlias(model)
}

// Preset names a built-in mapping configuration.
type Preset string

const (
	PresetNone        Preset = "none"
	PresetBalanced     Preset = "balanced"
	PresetPerformance  Preset = "performance"
	PresetCost         Preset = "cost"
	PresetCustom       Preset = "custom"
)

// ParsePreset parses a preset name, defaulting to PresetNone for anything
// unrecognized.
func ParsePreset(name string) Preset {
	switch strings.ToLower(name) {
	case "balanced":
		return PresetBalanced
	case "performance":
		return PresetPerformance
	case "cost":
		return PresetCost
	case "custom":
		return PresetCustom
	default:
		return PresetNone
	}
}

// Next cycles a preset forward, for a UI toggle control.
func (p Preset) Next() Preset {
	switch p {
	case PresetNone:
		return PresetBalanced
	case PresetBalanced:
		return PresetPerformance
	case PresetPerformance:
		return PresetCost
	case PresetCost:
		return PresetCustom
	default:
		return PresetNone
	}
}

// Label is the human-readable name shown in the mappings UI.
func (p Preset) Label() string {
	switch p {
	case PresetBalanced:
		return "Balanced"
	case PresetPerformance:
		return "Performance"
	case PresetCost:
		return "Cost Optimized"
	case PresetCustom:
		return "Custom"
	default:
		return "None"
	}
}

// Description explains what the preset does, shown in the mappings UI.
func (p Preset) Description() string {
	switch p {
	case PresetBalanced:
		return "Smart tiering based on model capability class"
	case PresetPerformance:
		return "Map everything to the most capable models"
	case PresetCost:
		return "Map everything to the cheapest capable models"
	case PresetCustom:
		return "User-defined custom mapping rules or script"
	default:
		return "No mappings - pass model names through unchanged"
	}
}

// Rules returns the default rule set for a preset. PresetNone and
// PresetCustom have no built-in rules of their own: None passes
// everything through, Custom is driven entirely by user Rules/Script.
func (p Preset) Rules() []Rule {
	switch p {
	case PresetBalanced:
		return []Rule{
			{"claude-3-haiku-*", string(Gemini3Flash)},
			{"claude-haiku-*", string(Gemini3Flash)},
			{"gpt-4o*", string(Gemini3Flash)},
			{"gpt-4*", string(Gemini3ProHigh)},
			{"gpt-3.5*", string(Gemini3Flash)},
			{"o1-*", string(Gemini3ProHigh)},
			{"o3-*", string(Gemini3ProHigh)},
			{"claude-3-opus-*", string(ClaudeOpus4_6Thinking)},
			{"claude-3-5-sonnet-*", string(ClaudeSonnet4_5)},
			{"claude-opus-4-*", string(ClaudeOpus4_6Thinking)},
		}
	case PresetPerformance:
		return []Rule{
			{"claude-3-haiku-*", string(Gemini3Flash)},
			{"claude-haiku-*", string(Gemini3Flash)},
			{"gpt-4o*", string(Gemini3ProHigh)},
			{"gpt-4*", string(Gemini3ProHigh)},
			{"gpt-3.5*", string(Gemini3Flash)},
			{"o1-*", string(ClaudeOpus4_6Thinking)},
			{"o3-*", string(ClaudeOpus4_6Thinking)},
			{"claude-3-opus-*", string(ClaudeOpus4_6Thinking)},
			{"claude-3-5-sonnet-*", string(ClaudeSonnet4_5Thinking)},
			{"claude-opus-4-*", string(ClaudeOpus4_6Thinking)},
		}
	case PresetCost:
		return []Rule{
			{"claude-3-haiku-*", string(GptOss120bMedium)},
			{"claude-haiku-*", string(GptOss120bMedium)},
			{"gpt-4o*", string(Gemini3Flash)},
			{"gpt-4*", string(Gemini3Flash)},
			{"gpt-3.5*", string(GptOss120bMedium)},
			{"o1-*", string(Gemini3Flash)},
			{"o3-*", string(Gemini3Flash)},
			{"claude-3-opus-*", string(ClaudeSonnet4_5)},
			{"claude-3-5-sonnet-*", string(Gemini3Flash)},
			{"claude-opus-4-*", string(ClaudeSonnet4_5)},
		}
	default:
		return nil
	}
}
