package redis

import (
	"context"
	"time"
)

// CachedToken mirrors internal/token's in-memory Token Cache Entry
// (spec §3) so a token survives process restarts when Redis is available.
type CachedToken struct {
	AccessToken string    `json:"accessToken"`
	ExtractedAt time.Time `json:"extractedAt"`
}

// CacheStore persists Token Cache Entries and Project Cache Entries.
type CacheStore struct {
	client *Client
}

// NewCacheStore wraps a Client for cache-mirroring use.
func NewCacheStore(client *Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetToken returns the cached token for email, or (nil, nil) on a cache miss.
func (s *CacheStore) GetToken(ctx context.Context, email string) (*CachedToken, error) {
	var tok CachedToken
	if err := s.client.Get(ctx, PrefixTokenCache+email, &tok); err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}

// SetToken mirrors a token with the given TTL.
func (s *CacheStore) SetToken(ctx context.Context, email string, tok CachedToken, ttl time.Duration) error {
	return s.client.Set(ctx, PrefixTokenCache+email, tok, ttl)
}

// ClearToken removes a single account's cached token.
func (s *CacheStore) ClearToken(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixTokenCache+email)
}

// ClearAllTokens removes every mirrored token cache entry.
func (s *CacheStore) ClearAllTokens(ctx context.Context) error {
	keys, err := s.client.ScanAll(ctx, PrefixTokenCache+"*")
	if err != nil {
		return err
	}
	return s.client.Delete(ctx, keys...)
}

// GetProject returns the cached project id for email, or ("", nil) on miss.
func (s *CacheStore) GetProject(ctx context.Context, email string) (string, error) {
	var projectID string
	if err := s.client.Get(ctx, PrefixProjectCache+email, &projectID); err != nil {
		if IsNil(err) {
			return "", nil
		}
		return "", err
	}
	return projectID, nil
}

// SetProject mirrors a resolved project id. Project Cache Entries have no
// TTL (spec §3): they are invalidated only on auth failure or admin reset.
func (s *CacheStore) SetProject(ctx context.Context, email, projectID string) error {
	return s.client.Set(ctx, PrefixProjectCache+email, projectID, 0)
}

// ClearProject removes a single account's cached project id.
func (s *CacheStore) ClearProject(ctx context.Context, email string) error {
	return s.client.Delete(ctx, PrefixProjectCache+email)
}

// ClearAllProjects removes every mirrored project cache entry.
func (s *CacheStore) ClearAllProjects(ctx context.Context) error {
	keys, err := s.client.ScanAll(ctx, PrefixProjectCache+"*")
	if err != nil {
		return err
	}
	return s.client.Delete(ctx, keys...)
}
