package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expiryMargin treats a token this close to expiry as already expired, so a
// request never goes out with a token that dies in flight.
const expiryMargin = 60 * time.Second

// RefreshFunc exchanges credentials for a fresh bearer token.
type RefreshFunc func(ctx context.Context) (*oauth2.Token, error)

// Cache holds bearer tokens for OAuth providers and refreshes them on expiry.
// Concurrent callers for the same provider share a single in-flight refresh.
type Cache struct {
	mu      sync.Mutex
	tokens  map[string]*oauth2.Token
	refresh map[string]RefreshFunc
	group   singleflight.Group

	now func() time.Time
}

// NewCache creates an empty token cache.
func NewCache() *Cache {
	return &Cache{
		tokens:  make(map[string]*oauth2.Token),
		refresh: make(map[string]RefreshFunc),
		now:     time.Now,
	}
}

// Register installs the refresh function for a provider.
func (c *Cache) Register(provider string, fn RefreshFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh[provider] = fn
}

// Token returns a bearer token for the provider, refreshing if the cached one
// is absent or within the expiry margin. A failed refresh discards any stale
// entry so the next call retries from scratch.
func (c *Cache) Token(ctx context.Context, provider string) (string, error) {
	c.mu.Lock()
	tok := c.tokens[provider]
	fn := c.refresh[provider]
	c.mu.Unlock()

	if fn == nil {
		return "", fmt.Errorf("no refresh registered for provider %q", provider)
	}

	if c.valid(tok) {
		return tok.AccessToken, nil
	}

	v, err, _ := c.group.Do(provider, func() (interface{}, error) {
		// Another caller may have finished a refresh while this one was
		// queued on the flight group.
		c.mu.Lock()
		cur := c.tokens[provider]
		c.mu.Unlock()
		if c.valid(cur) {
			return cur.AccessToken, nil
		}

		fresh, err := fn(ctx)
		if err != nil {
			c.mu.Lock()
			delete(c.tokens, provider)
			c.mu.Unlock()
			return nil, fmt.Errorf("token refresh for %q failed: %w", provider, err)
		}

		c.mu.Lock()
		c.tokens[provider] = fresh
		c.mu.Unlock()

		logrus.Debugf("Refreshed token for provider %s, expires %s", provider, fresh.Expiry.Format(time.RFC3339))
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Invalidate drops the cached token for a provider, forcing the next Token
// call to refresh. Used after an upstream 401.
func (c *Cache) Invalidate(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, provider)
}

func (c *Cache) valid(tok *oauth2.Token) bool {
	return tok != nil && tok.AccessToken != "" && tok.Expiry.After(c.now().Add(expiryMargin))
}
