package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// OAuth endpoint and client identity, matching the values the upstream
// desktop client itself uses for its refresh-token exchange.
const (
	oauthTokenURL = "https://oauth2.googleapis.com/token"
	oauthClientID = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
)

// RefreshParts are the components of a composite refresh token, format
// "refreshToken|projectId|managedProjectId".
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts splits a composite refresh token string.
func ParseRefreshParts(composite string) RefreshParts {
	parts := strings.Split(composite, "|")
	var out RefreshParts
	if len(parts) > 0 {
		out.RefreshToken = parts[0]
	}
	if len(parts) > 1 {
		out.ProjectID = parts[1]
	}
	if len(parts) > 2 {
		out.ManagedProjectID = parts[2]
	}
	return out
}

// refreshAccessToken exchanges a refresh token for a fresh access token.
func refreshAccessToken(ctx context.Context, clientSecret, refreshToken string) (string, error) {
	data := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh failed: %s", string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("refresh response carried no access_token")
	}
	return parsed.AccessToken, nil
}
