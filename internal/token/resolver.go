package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antigravity/cloudcode-gateway/internal/pool"
	redisstore "github.com/antigravity/cloudcode-gateway/pkg/redis"
)

// tokenEntry is the in-memory Token Cache Entry (spec §3).
type tokenEntry struct {
	token       string
	extractedAt time.Time
}

// AccountInvalidator is the narrow slice of *pool.Pool the resolver needs,
// kept as an interface so this package doesn't otherwise depend on pool's
// full surface.
type AccountInvalidator interface {
	MarkInvalid(email, reason string)
	ClearInvalid(email string)
}

// Resolver implements the Token Resolver (spec §4.2): per-account access
// token and project id resolution, with TTL caching optionally mirrored to
// Redis, and singleflight coalescing so concurrent requests for the same
// account only trigger one refresh.
type Resolver struct {
	mu sync.RWMutex

	tokens   map[string]tokenEntry
	projects map[string]string

	cache *redisstore.CacheStore // nil when Redis is not configured/reachable

	tokenTTL        time.Duration
	dbTimeout       time.Duration
	clientSecret    string
	discoveryURLs   []string
	defaultProject  string
	invalidator     AccountInvalidator

	sf singleflight.Group
}

// Config carries the Resolver's tunables.
type Config struct {
	TokenTTL       time.Duration
	DBTimeout      time.Duration
	OAuthSecret    string
	DiscoveryURLs  []string
	DefaultProject string
}

// New builds a Resolver. cache may be nil (memory-only operation).
func New(cfg Config, cache *redisstore.CacheStore, invalidator AccountInvalidator) *Resolver {
	return &Resolver{
		tokens:         make(map[string]tokenEntry),
		projects:       make(map[string]string),
		cache:          cache,
		tokenTTL:       cfg.TokenTTL,
		dbTimeout:      cfg.DBTimeout,
		clientSecret:   cfg.OAuthSecret,
		discoveryURLs:  cfg.DiscoveryURLs,
		defaultProject: cfg.DefaultProject,
		invalidator:    invalidator,
	}
}

// GetToken returns a valid access token for acc, refreshing if the cached
// entry is absent or stale (spec §4.2).
func (r *Resolver) GetToken(ctx context.Context, acc *pool.Account) (string, error) {
	if cached, ok := r.lookupToken(acc.Email); ok {
		return cached, nil
	}

	v, err, _ := r.sf.Do("token:"+acc.Email, func() (any, error) {
		if cached, ok := r.lookupToken(acc.Email); ok {
			return cached, nil
		}
		return r.refreshToken(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) lookupToken(email string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.tokens[email]
	r.mu.RUnlock()
	if ok && time.Since(entry.extractedAt) < r.tokenTTL {
		return entry.token, true
	}

	if r.cache != nil {
		if cached, err := r.cache.GetToken(context.Background(), email); err == nil && cached != nil {
			if time.Since(cached.ExtractedAt) < r.tokenTTL {
				r.storeToken(email, cached.AccessToken, cached.ExtractedAt)
				return cached.AccessToken, true
			}
		}
	}
	return "", false
}

func (r *Resolver) refreshToken(ctx context.Context, acc *pool.Account) (string, error) {
	var accessToken string
	var err error

	switch acc.Source {
	case pool.SourceOAuth:
		accessToken, err = refreshAccessToken(ctx, r.clientSecret, acc.RefreshToken)
		if err != nil {
			r.invalidator.MarkInvalid(acc.Email, err.Error())
			return "", fmt.Errorf("AUTH_INVALID: %s: %w", acc.Email, err)
		}
		r.invalidator.ClearInvalid(acc.Email)

	case pool.SourceManual:
		accessToken = acc.ManualAPIKey

	case pool.SourceDatabase:
		dbCtx, cancel := context.WithTimeout(ctx, r.dbTimeout)
		defer cancel()
		accessToken, err = extractFromDatabase(dbCtx, acc.DatabasePath)
		if err != nil {
			r.invalidator.MarkInvalid(acc.Email, err.Error())
			return "", fmt.Errorf("AUTH_INVALID: %s: %w", acc.Email, err)
		}
		r.invalidator.ClearInvalid(acc.Email)

	default:
		return "", fmt.Errorf("AUTH_INVALID: %s: unknown account source %q", acc.Email, acc.Source)
	}

	now := time.Now()
	r.storeToken(acc.Email, accessToken, now)
	if r.cache != nil {
		_ = r.cache.SetToken(context.Background(), acc.Email, redisstore.CachedToken{AccessToken: accessToken, ExtractedAt: now}, r.tokenTTL)
	}
	return accessToken, nil
}

func (r *Resolver) storeToken(email, token string, extractedAt time.Time) {
	r.mu.Lock()
	r.tokens[email] = tokenEntry{token: token, extractedAt: extractedAt}
	r.mu.Unlock()
}

// GetProject returns the resolved project id for acc (spec §4.2).
func (r *Resolver) GetProject(ctx context.Context, acc *pool.Account, accessToken string) (string, error) {
	r.mu.RLock()
	if p, ok := r.projects[acc.Email]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	if r.cache != nil {
		if p, err := r.cache.GetProject(context.Background(), acc.Email); err == nil && p != "" {
			r.storeProject(acc.Email, p)
			return p, nil
		}
	}

	if acc.ProjectID != "" {
		r.storeProject(acc.Email, acc.ProjectID)
		r.mirrorProject(acc.Email, acc.ProjectID)
		return acc.ProjectID, nil
	}

	v, err, _ := r.sf.Do("project:"+acc.Email, func() (any, error) {
		return discoverProjectID(ctx, accessToken, r.discoveryURLs)
	})
	if err == nil {
		projectID := v.(string)
		r.storeProject(acc.Email, projectID)
		r.mirrorProject(acc.Email, projectID)
		return projectID, nil
	}

	r.storeProject(acc.Email, r.defaultProject)
	return r.defaultProject, nil
}

func (r *Resolver) storeProject(email, projectID string) {
	r.mu.Lock()
	r.projects[email] = projectID
	r.mu.Unlock()
}

func (r *Resolver) mirrorProject(email, projectID string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.SetProject(context.Background(), email, projectID)
}

// ClearTokenCache invalidates a single account's cached token, or every
// account's if email is empty.
func (r *Resolver) ClearTokenCache(email string) {
	r.mu.Lock()
	if email == "" {
		r.tokens = make(map[string]tokenEntry)
	} else {
		delete(r.tokens, email)
	}
	r.mu.Unlock()

	if r.cache == nil {
		return
	}
	ctx := context.Background()
	if email == "" {
		_ = r.cache.ClearAllTokens(ctx)
	} else {
		_ = r.cache.ClearToken(ctx, email)
	}
}

// ClearProjectCache invalidates a single account's cached project, or
// every account's if email is empty.
func (r *Resolver) ClearProjectCache(email string) {
	r.mu.Lock()
	if email == "" {
		r.projects = make(map[string]string)
	} else {
		delete(r.projects, email)
	}
	r.mu.Unlock()

	if r.cache == nil {
		return
	}
	ctx := context.Background()
	if email == "" {
		_ = r.cache.ClearAllProjects(ctx)
	} else {
		_ = r.cache.ClearProject(ctx, email)
	}
}
