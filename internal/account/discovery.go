package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hnolan/ccrouter/internal/mapping"
)

// discoveryEndpoints is tried in order for both fetchAvailableModels and
// loadCodeAssist; a daily-channel failure falls back to production.
var discoveryEndpoints = [2]string{
	"https://daily-cloudcode-pa.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// loadCodeAssistEndpoints tries production first, matching the order Cloud
// Code's own onboarding flow uses.
var loadCodeAssistEndpoints = [2]string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.googleapis.com",
}

// QuotaResult is one model's periodic allocation, as reported by
// fetchAvailableModels.
type QuotaResult struct {
	ModelID           string
	RemainingFraction float64
	ResetTime         string
}

type fetchAvailableModelsResponse struct {
	Models map[string]struct {
		QuotaInfo *struct {
			RemainingFraction *float64 `json:"remainingFraction"`
			ResetTime         *string  `json:"resetTime"`
		} `json:"quotaInfo"`
	} `json:"models"`
}

// FetchModelQuotas calls fetchAvailableModels and returns the remaining
// quota fraction for every Claude/Gemini model Cloud Code reports, sorted
// by model id. Non-Claude/Gemini models (the local gpt-oss scoring path)
// are dropped, since nothing in this account's quota bookkeeping tracks
// them.
func FetchModelQuotas(ctx context.Context, httpClient *http.Client, accessToken, projectID string) ([]QuotaResult, error) {
	body := []byte("{}")
	if projectID != "" {
		body = []byte(fmt.Sprintf(`{"project":%q}`, projectID))
	}

	var lastErr error
	for _, endpoint := range discoveryEndpoints {
		url := endpoint + "/v1internal:fetchAvailableModels"
		resp, err := doPost(ctx, httpClient, url, accessToken, body)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed fetchAvailableModelsResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return nil, fmt.Errorf("account: parse fetchAvailableModels response: %w", err)
		}

		quotas := make([]QuotaResult, 0, len(parsed.Models))
		for modelID, data := range parsed.Models {
			family := mapping.GetModelFamily(modelID)
			if family != "claude" && family != "gemini" {
				continue
			}
			if data.QuotaInfo == nil {
				continue
			}
			var remaining float64
			switch {
			case data.QuotaInfo.RemainingFraction != nil:
				remaining = *data.QuotaInfo.RemainingFraction
			case data.QuotaInfo.ResetTime != nil:
				remaining = 0.0
			default:
				remaining = 1.0
			}
			resetTime := ""
			if data.QuotaInfo.ResetTime != nil {
				resetTime = *data.QuotaInfo.ResetTime
			}
			quotas = append(quotas, QuotaResult{
				ModelID:           modelID,
				RemainingFraction: remaining,
				ResetTime:         resetTime,
			})
		}
		sort.Slice(quotas, func(i, j int) bool { return quotas[i].ModelID < quotas[j].ModelID })
		return quotas, nil
	}

	return nil, fmt.Errorf("account: fetchAvailableModels failed on all endpoints: %w", lastErr)
}

// ApplyQuotas writes a freshly-fetched quota snapshot onto id, parsing each
// RFC3339 reset time to a unix timestamp (a malformed or absent reset time
// is stored as 0, meaning "unknown").
func (s *Store) ApplyQuotas(id string, quotas []QuotaResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return
	}
	a := s.accounts[idx]
	if a.Quota == nil {
		a.Quota = make(map[string]ModelQuota)
	}
	for _, q := range quotas {
		var resetUnix int64
		if q.ResetTime != "" {
			if t, err := time.Parse(time.RFC3339, q.ResetTime); err == nil {
				resetUnix = t.Unix()
			}
		}
		a.Quota[q.ModelID] = ModelQuota{RemainingFraction: q.RemainingFraction, ResetTime: resetUnix}
	}
}

type loadCodeAssistRequest struct {
	Metadata loadCodeAssistMetadata `json:"metadata"`
}

type loadCodeAssistMetadata struct {
	IdeType     string  `json:"ideType"`
	Platform    string  `json:"platform"`
	PluginType  string  `json:"pluginType"`
	DuetProject *string `json:"duetProject,omitempty"`
}

type loadCodeAssistResponse struct {
	CloudAICompanionProject json.RawMessage `json:"cloudaicompanionProject"`
	PaidTier                *tierInfo       `json:"paidTier"`
	CurrentTier             *tierInfo       `json:"currentTier"`
	AllowedTiers            []tierInfo      `json:"allowedTiers"`
}

type tierInfo struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

// DiscoveryResult is what loadCodeAssist told us about an account's
// project binding and subscription level.
type DiscoveryResult struct {
	ProjectID        string
	SubscriptionTier string
}

// parseTierID normalizes a raw tier id string ("standard-tier",
// "free-tier", a Google One product id containing "ultra"/"pro"/"premium")
// into one of "ultra", "pro", "free", or "" if unrecognized.
func parseTierID(tierID string) string {
	lower := strings.ToLower(tierID)
	switch {
	case strings.Contains(lower, "ultra"):
		return "ultra"
	case lower == "standard-tier":
		return "pro"
	case strings.Contains(lower, "pro"), strings.Contains(lower, "premium"):
		return "pro"
	case lower == "free-tier", strings.Contains(lower, "free"):
		return "free"
	default:
		return ""
	}
}

func extractSubscriptionTier(data loadCodeAssistResponse) string {
	if data.PaidTier != nil {
		if t := parseTierID(data.PaidTier.ID); t != "" {
			return t
		}
	}
	if data.CurrentTier != nil {
		if t := parseTierID(data.CurrentTier.ID); t != "" {
			return t
		}
	}
	if len(data.AllowedTiers) > 0 {
		chosen := data.AllowedTiers[0]
		for _, tier := range data.AllowedTiers {
			if tier.IsDefault {
				chosen = tier
				break
			}
		}
		if t := parseTierID(chosen.ID); t != "" {
			return t
		}
	}
	return ""
}

// extractProjectID unwraps cloudaicompanionProject, which Google returns
// as either a bare string or an {"id": "..."} object depending on account
// type.
func extractProjectID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// DiscoverProjectAndTier calls loadCodeAssist to resolve the Cloud Code
// project id and subscription tier backing accessToken. existingProjectID
// is sent as a hint and used as a last-resort fallback if every endpoint
// fails to report a project.
func DiscoverProjectAndTier(ctx context.Context, httpClient *http.Client, accessToken, existingProjectID string) (DiscoveryResult, error) {
	meta := loadCodeAssistMetadata{
		IdeType:    "IDE_UNSPECIFIED",
		Platform:   "PLATFORM_UNSPECIFIED",
		PluginType: "GEMINI",
	}
	if existingProjectID != "" {
		meta.DuetProject = &existingProjectID
	}
	body, err := json.Marshal(loadCodeAssistRequest{Metadata: meta})
	if err != nil {
		return DiscoveryResult{}, fmt.Errorf("account: marshal loadCodeAssist request: %w", err)
	}

	var lastErr error
	for _, endpoint := range loadCodeAssistEndpoints {
		url := endpoint + "/v1internal:loadCodeAssist"
		respBody, err := doPost(ctx, httpClient, url, accessToken, body)
		if err != nil {
			lastErr = err
			continue
		}

		var data loadCodeAssistResponse
		if err := json.Unmarshal(respBody, &data); err != nil {
			lastErr = fmt.Errorf("parse loadCodeAssist response: %w", err)
			continue
		}

		projectID := extractProjectID(data.CloudAICompanionProject)
		tier := extractSubscriptionTier(data)

		if projectID != "" {
			return DiscoveryResult{ProjectID: projectID, SubscriptionTier: tier}, nil
		}
		if tier != "" {
			return DiscoveryResult{ProjectID: existingProjectID, SubscriptionTier: tier}, nil
		}
		lastErr = fmt.Errorf("no project in loadCodeAssist response")
	}

	if existingProjectID != "" {
		return DiscoveryResult{ProjectID: existingProjectID}, nil
	}
	return DiscoveryResult{}, fmt.Errorf("account: failed to discover project: %w", lastErr)
}

// ApplyDiscovery writes a loadCodeAssist result onto id.
func (s *Store) ApplyDiscovery(id string, result DiscoveryResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return
	}
	if result.ProjectID != "" {
		s.accounts[idx].ProjectID = result.ProjectID
	}
	if result.SubscriptionTier != "" {
		s.accounts[idx].SubscriptionTier = result.SubscriptionTier
	}
}

func doPost(ctx context.Context, httpClient *http.Client, url, accessToken string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
