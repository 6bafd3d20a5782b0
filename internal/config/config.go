// Package config provides runtime configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config represents the runtime configuration. It is constructed explicitly
// at startup and threaded through the App and its handlers rather than kept
// as package-level state.
type Config struct {
	mu sync.RWMutex

	// Admin access. An empty AdminKey means the admin endpoints are open
	// (spec §6: "missing secret ⇒ the admin key is absent from config ⇒
	// open access").
	AdminKey string `json:"adminKey"`
	APIKey   string `json:"apiKey"`

	// Logging
	Debug    bool   `json:"debug"`
	LogLevel string `json:"logLevel"`

	// Retry / backoff tunables for the request pipeline.
	MaxRetries  int   `json:"maxRetries"`
	RetryBaseMs int64 `json:"retryBaseMs"`
	RetryMaxMs  int64 `json:"retryMaxMs"`

	// Account pool tunables (spec §4.3, §9 open questions).
	AffinityLockWindowMs   int64 `json:"affinityLockWindowMs"`
	ShortWaitThresholdMs   int64 `json:"shortWaitThresholdMs"`
	MaxWaitBeforeErrorMs   int64 `json:"maxWaitBeforeErrorMs"`
	DefaultCooldownMs      int64 `json:"defaultCooldownMs"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"`
	MaxAccounts            int   `json:"maxAccounts"`

	// Model mapping (client-declared model -> effective model).
	ModelMapping map[string]string `json:"modelMapping"`

	// Redis mirror for token/project caches (optional; degrades to
	// memory-only when unset or unreachable).
	RedisAddr     string `json:"redisAddr"`
	RedisPassword string `json:"redisPassword"`
	RedisDB       int    `json:"redisDB"`

	// Flow monitor tunables (spec §4.9, ambient).
	MaxFlowEntries   int `json:"maxFlowEntries"`
	FlowRetentionDays int `json:"flowRetentionDays"`

	// Server
	Port int    `json:"port"`
	Host string `json:"host"`

	// allowLanAccess is part of the admin-config surface (spec §6); it does
	// not change listener behavior in this port, only the reported value.
	AllowLanAccess bool `json:"allowLanAccess"`
	Telemetry      bool `json:"telemetry"`
}

// DefaultConfig returns a Config populated with the spec's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:               "info",
		MaxRetries:             5,
		RetryBaseMs:            1000,
		RetryMaxMs:             30000,
		AffinityLockWindowMs:   60_000,
		ShortWaitThresholdMs:   10_000,
		MaxWaitBeforeErrorMs:   60_000,
		DefaultCooldownMs:      10_000,
		MaxConsecutiveFailures: 3,
		MaxAccounts:            10,
		ModelMapping:           make(map[string]string),
		RedisDB:                0,
		MaxFlowEntries:         500,
		FlowRetentionDays:      7,
		Port:                   8080,
		Host:                   "0.0.0.0",
	}
}

// Load overlays a JSON document at path (if present) and then environment
// variables on top of the receiver. Missing file is not an error; a
// malformed one is returned to the caller to log as a warning, per the
// Credential Store's "best-effort, never block" persistence stance.
func (c *Config) Load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, c); err != nil {
				return fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	c.loadFromEnv()
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		c.AdminKey = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			c.Port = p
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("ANTIGRAVITY_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			c.Port = p
		}
	}
	if v := os.Getenv("ANTIGRAVITY_HOST"); v != "" {
		c.Host = v
	}
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// AdminConfigView is the subset of config exposed through
// GET/POST /api/admin/config (spec §6).
type AdminConfigView struct {
	AllowLanAccess bool `json:"allowLanAccess"`
	MaxFlowEntries int  `json:"maxFlowEntries"`
	Telemetry      bool `json:"telemetry"`
}

// GetAdminView returns the admin-editable config subset.
func (c *Config) GetAdminView() AdminConfigView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AdminConfigView{
		AllowLanAccess: c.AllowLanAccess,
		MaxFlowEntries: c.MaxFlowEntries,
		Telemetry:      c.Telemetry,
	}
}

// ApplyAdminView validates and applies an admin-config patch, returning
// whether a listener restart would be required (AllowLanAccess changed).
func (c *Config) ApplyAdminView(v AdminConfigView) (requiresRestart bool, err error) {
	if v.MaxFlowEntries < 50 || v.MaxFlowEntries > 2000 {
		return false, fmt.Errorf("maxFlowEntries must be in [50, 2000], got %d", v.MaxFlowEntries)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	requiresRestart = v.AllowLanAccess != c.AllowLanAccess
	c.AllowLanAccess = v.AllowLanAccess
	c.MaxFlowEntries = v.MaxFlowEntries
	c.Telemetry = v.Telemetry
	return requiresRestart, nil
}

// GetPublic returns a redacted snapshot suitable for logging or display.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"adminKey":               redact(c.AdminKey),
		"apiKey":                 redact(c.APIKey),
		"debug":                  c.Debug,
		"logLevel":               c.LogLevel,
		"maxRetries":             c.MaxRetries,
		"retryBaseMs":            c.RetryBaseMs,
		"retryMaxMs":             c.RetryMaxMs,
		"affinityLockWindowMs":   c.AffinityLockWindowMs,
		"shortWaitThresholdMs":   c.ShortWaitThresholdMs,
		"maxWaitBeforeErrorMs":   c.MaxWaitBeforeErrorMs,
		"defaultCooldownMs":      c.DefaultCooldownMs,
		"maxConsecutiveFailures": c.MaxConsecutiveFailures,
		"maxAccounts":            c.MaxAccounts,
		"modelMapping":           c.ModelMapping,
		"redisAddr":              c.RedisAddr,
		"redisPassword":          redact(c.RedisPassword),
		"port":                   c.Port,
		"host":                   c.Host,
	}
}

// IsAdminAuthorized implements the spec §6 admin-auth rule: an empty
// AdminKey means the surface is open; otherwise the caller's header value
// must match exactly.
func (c *Config) IsAdminAuthorized(headerValue string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.AdminKey == "" {
		return true
	}
	return headerValue == c.AdminKey
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
