// Package token implements component E: OAuth access-token refresh for
// Google accounts held in internal/account.Store.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hnolan/ccrouter/internal/apierr"
)

// These OAuth client credentials are intentionally public. Google's
// "installed application" (native/CLI) OAuth flow has no confidential
// client secret; the flow's security rests on PKCE and the localhost
// redirect, not on these values. See
// https://developers.google.com/identity/protocols/oauth2/native-app.
const (
	ClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	ClientSecret = "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"
	TokenURL     = "https://oauth2.googleapis.com/token"
	UserInfoURL  = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// Store is the narrow slice of account.Store the manager needs. Defined
// here (rather than depending on the concrete type) so the manager can be
// tested against a fake without importing internal/account.
type Store interface {
	TokenState(id string) (accessToken string, expiresAt int64, refreshToken string, ok bool)
	SetAccessToken(id, token string, expiresAt int64) error
}

// Manager refreshes and caches Google OAuth access tokens.
type Manager struct {
	store       Store
	client      *http.Client
	clock       func() time.Time
	tokenURL    string
	userInfoURL string
}

// New creates a token manager backed by store.
func New(store Store, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{
		store:       store,
		client:      client,
		clock:       time.Now,
		tokenURL:    TokenURL,
		userInfoURL: UserInfoURL,
	}
}

// GetAccessToken returns a valid access token for the account, refreshing
// it via the OAuth token endpoint when the cached one has less than 60
// seconds left. The store lock is never held across the network call:
// TokenState and SetAccessToken are two separate, narrow critical
// sections around the HTTP round trip done here.
func (m *Manager) GetAccessToken(ctx context.Context, accountID string) (string, error) {
	accessToken, expiresAt, refreshToken, ok := m.store.TokenState(accountID)
	if !ok {
		return "", fmt.Errorf("token: unknown account %q", accountID)
	}

	now := m.clock().Unix()
	if accessToken != "" && now+60 < expiresAt {
		return accessToken, nil
	}

	newToken, expiresIn, err := m.refreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	newExpiresAt := now + int64(expiresIn)
	if err := m.store.SetAccessToken(accountID, newToken, newExpiresAt); err != nil {
		return "", err
	}
	return newToken, nil
}

// splitCompositeRefreshToken handles the refreshToken|projectId|managedProjectId
// composite format some accounts are stored with.
func splitCompositeRefreshToken(refreshToken string) string {
	if idx := strings.IndexByte(refreshToken, '|'); idx >= 0 {
		return refreshToken[:idx]
	}
	return refreshToken
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *Manager) refreshAccessToken(ctx context.Context, refreshToken string) (string, int64, error) {
	actual := splitCompositeRefreshToken(refreshToken)

	form := url.Values{}
	form.Set("client_id", ClientID)
	form.Set("client_secret", ClientSecret)
	form.Set("refresh_token", actual)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, apierr.RefreshFailedError{Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, apierr.RefreshFailedError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, apierr.RefreshFailedError{Msg: fmt.Sprintf("token endpoint returned %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, apierr.RefreshFailedError{Msg: err.Error()}
	}
	return tr.AccessToken, tr.ExpiresIn, nil
}

type userInfoResponse struct {
	Email string `json:"email"`
}

// GetUserEmail resolves the account email for a freshly-authorized access
// token, used once at OAuth enrollment time.
func (m *Manager) GetUserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return "", apierr.OAuthFailedError{Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", apierr.OAuthFailedError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apierr.OAuthFailedError{Msg: fmt.Sprintf("userinfo endpoint returned %d", resp.StatusCode)}
	}

	var ui userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return "", apierr.OAuthFailedError{Msg: err.Error()}
	}
	return ui.Email, nil
}
