package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// discoverProjectID calls the ordered list of project-discovery endpoints
// and returns the first well-formed project id (spec §4.2).
func discoverProjectID(ctx context.Context, accessToken string, endpoints []string) (string, error) {
	reqBody, err := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"ideType":    "IDE_UNSPECIFIED",
			"platform":   "PLATFORM_UNSPECIFIED",
			"pluginType": "GEMINI",
		},
	})
	if err != nil {
		return "", err
	}

	for _, endpoint := range endpoints {
		projectID, ok := tryDiscoverProject(ctx, accessToken, endpoint, reqBody)
		if ok {
			return projectID, nil
		}
	}
	return "", fmt.Errorf("no project discovery endpoint returned a project id")
}

func tryDiscoverProject(ctx context.Context, accessToken, endpoint string, body []byte) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", false
	}

	if projectID, ok := data["cloudaicompanionProject"].(string); ok && projectID != "" {
		return projectID, true
	}
	if obj, ok := data["cloudaicompanionProject"].(map[string]any); ok {
		if projectID, ok := obj["id"].(string); ok && projectID != "" {
			return projectID, true
		}
	}
	return "", false
}
