package api

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	blobAccessToken  = "auth.access_token"
	blobRefreshToken = "auth.refresh_token"
)

// BlobStore is the durable slot tokens persist in across restarts.
type BlobStore interface {
	Blob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, data []byte) error
}

// TokenStore keeps the access/refresh token pair in memory and mirrors it to
// durable storage.
type TokenStore struct {
	mu      sync.RWMutex
	blobs   BlobStore
	access  string
	refresh string
}

// LoadTokens builds a TokenStore rehydrated from storage. Missing tokens are
// not an error; the client simply starts signed out.
func LoadTokens(ctx context.Context, blobs BlobStore) *TokenStore {
	t := &TokenStore{blobs: blobs}
	if data, err := blobs.Blob(ctx, blobAccessToken); err == nil {
		t.access = string(data)
	}
	if data, err := blobs.Blob(ctx, blobRefreshToken); err == nil {
		t.refresh = string(data)
	}
	return t
}

// Access returns the current access token, empty when signed out.
func (t *TokenStore) Access() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.access
}

// Refresh returns the current refresh token.
func (t *TokenStore) Refresh() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refresh
}

// Set replaces both tokens and persists them. An empty value clears the
// stored token.
func (t *TokenStore) Set(ctx context.Context, access, refresh string) error {
	t.mu.Lock()
	t.access = access
	t.refresh = refresh
	t.mu.Unlock()

	if err := t.blobs.PutBlob(ctx, blobAccessToken, []byte(access)); err != nil {
		return err
	}
	return t.blobs.PutBlob(ctx, blobRefreshToken, []byte(refresh))
}

// Clear drops both tokens, signing the device out.
func (t *TokenStore) Clear(ctx context.Context) error {
	return t.Set(ctx, "", "")
}

// ExpiresWithin reports whether the access token expires within d. The token
// is parsed without signature verification; only the exp claim matters here.
// Unparseable tokens report true so the caller refreshes proactively.
func (t *TokenStore) ExpiresWithin(d time.Duration) bool {
	access := t.Access()
	if access == "" {
		return true
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < d
}
