package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	zaloAccessTokenKey  = "zalo:oa:access_token"
	zaloRefreshTokenKey = "zalo:oa:refresh_token"

	accessTokenTTL  = 50 * time.Minute
	refreshTokenTTL = 90 * 24 * time.Hour
)

var errNotConfigured = errors.New("zalo: oauth credentials are not configured")

// TokenCache stores short-lived credentials. Get returns "" with a nil error
// when the key is absent.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// TokenManager keeps a valid Zalo OA access token, refreshing it with the
// refresh-token grant when the cached one is missing.
type TokenManager struct {
	OAuthURL     string
	AppID        string
	SecretKey    string
	RefreshToken string
	Client       *http.Client
	Cache        TokenCache

	mu sync.Mutex
}

func NewTokenManager(oauthURL, appID, secretKey, refreshToken string, cache TokenCache) *TokenManager {
	if cache == nil {
		cache = NewMemoryTokenCache()
	}
	return &TokenManager{
		OAuthURL:     oauthURL,
		AppID:        appID,
		SecretKey:    secretKey,
		RefreshToken: refreshToken,
		Client:       defaultClient(),
		Cache:        cache,
	}
}

func (m *TokenManager) Configured() bool {
	return m != nil && m.AppID != "" && m.SecretKey != "" && m.RefreshToken != ""
}

func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if tok := m.cached(ctx); tok != "" {
		return tok, nil
	}
	if !m.Configured() {
		return "", errNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have refreshed while we waited
	if tok := m.cached(ctx); tok != "" {
		return tok, nil
	}
	return m.refreshLocked(ctx)
}

func (m *TokenManager) cached(ctx context.Context) string {
	tok, err := m.Cache.Get(ctx, zaloAccessTokenKey)
	if err != nil {
		log.WithError(err).Warn("zalo token cache read failed")
		return ""
	}
	return tok
}

type zaloTokenResp struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	Error        int         `json:"error"`
	ErrorName    string      `json:"error_name"`
	ErrorReason  string      `json:"error_reason"`
}

// Refresh exchanges the current refresh token for a new access token and
// caches both, even when a cached access token is still valid. Zalo refresh
// tokens are single use, so the rotated one replaces the configured one.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	if !m.Configured() {
		return "", errNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	refresh := m.RefreshToken
	if cached, err := m.Cache.Get(ctx, zaloRefreshTokenKey); err == nil && cached != "" {
		refresh = cached
	}

	form := url.Values{
		"app_id":        {m.AppID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("secret_key", m.SecretKey)

	var resp zaloTokenResp
	if err := do(m.Client, req, &resp); err != nil {
		return "", errors.Wrap(err, "zalo: refresh token")
	}
	if resp.AccessToken == "" {
		return "", errors.Errorf("zalo: refresh token: %s %s", resp.ErrorName, resp.ErrorReason)
	}

	if err := m.Cache.Set(ctx, zaloAccessTokenKey, resp.AccessToken, accessTokenTTL); err != nil {
		log.WithError(err).Warn("zalo access token cache write failed")
	}
	if resp.RefreshToken != "" {
		if err := m.Cache.Set(ctx, zaloRefreshTokenKey, resp.RefreshToken, refreshTokenTTL); err != nil {
			log.WithError(err).Warn("zalo refresh token cache write failed")
		}
	}
	return resp.AccessToken, nil
}

// MemoryTokenCache is the in-process TokenCache used when Redis is absent.
type MemoryTokenCache struct {
	mu    sync.Mutex
	items map[string]memoryToken
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{items: map[string]memoryToken{}}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || time.Now().After(it.expiresAt) {
		delete(c.items, key)
		return "", nil
	}
	return it.value, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryToken{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}
