// Package token implements the Token Resolver (spec §4.2): per-account
// access-token and project-id resolution with TTL caching, optionally
// mirrored to Redis.
package token

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// authStatusRow is the JSON value stored under the antigravityAuthStatus
// key in a local Antigravity installation's SQLite state database.
type authStatusRow struct {
	APIKey string `json:"apiKey"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// extractFromDatabase opens dbPath read-only and extracts the stored API
// key. ctx should carry the Token Resolver's database-extraction timeout
// budget (spec §4.2, §5: 5s).
func extractFromDatabase(ctx context.Context, dbPath string) (string, error) {
	if dbPath == "" {
		return "", fmt.Errorf("no database path configured for this account")
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return "", fmt.Errorf("database not found at %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM ItemTable WHERE key = 'antigravityAuthStatus'").Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no auth status found in database")
	}
	if err != nil {
		return "", fmt.Errorf("query database: %w", err)
	}

	var row authStatusRow
	if err := json.Unmarshal([]byte(value), &row); err != nil {
		return "", fmt.Errorf("parse auth data: %w", err)
	}
	if row.APIKey == "" {
		return "", fmt.Errorf("auth data missing apiKey field")
	}
	return row.APIKey, nil
}
