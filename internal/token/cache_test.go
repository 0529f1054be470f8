package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	c := NewCache()

	var refreshes int32
	c.Register("ebay", func(ctx context.Context) (*oauth2.Token, error) {
		atomic.AddInt32(&refreshes, 1)
		time.Sleep(20 * time.Millisecond)
		return &oauth2.Token{
			AccessToken: "tok-1",
			Expiry:      time.Now().Add(time.Hour),
		}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token(context.Background(), "ebay")
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
}

func TestTokenExpiryMargin(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewCache()
	c.now = func() time.Time { return now }

	refreshes := 0
	c.Register("ebay", func(ctx context.Context) (*oauth2.Token, error) {
		refreshes++
		return &oauth2.Token{
			AccessToken: "tok",
			Expiry:      now.Add(2 * time.Minute),
		}, nil
	})

	_, err := c.Token(context.Background(), "ebay")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshes)

	// Still more than the margin away from expiry: cached token is reused.
	now = now.Add(30 * time.Second)
	_, err = c.Token(context.Background(), "ebay")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshes)

	// 70s in: only 50s of lifetime left, inside the 60s margin, so the
	// token counts as expired and gets refreshed.
	now = now.Add(40 * time.Second)
	_, err = c.Token(context.Background(), "ebay")
	require.NoError(t, err)
	assert.Equal(t, 2, refreshes)
}

func TestTokenFailedRefreshRetries(t *testing.T) {
	c := NewCache()

	calls := 0
	c.Register("ebay", func(ctx context.Context) (*oauth2.Token, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("oauth endpoint down")
		}
		return &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
	})

	_, err := c.Token(context.Background(), "ebay")
	assert.Error(t, err)

	tok, err := c.Token(context.Background(), "ebay")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, 2, calls)
}

func TestTokenInvalidateForcesRefresh(t *testing.T) {
	c := NewCache()

	refreshes := 0
	c.Register("ebay", func(ctx context.Context) (*oauth2.Token, error) {
		refreshes++
		return &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
	})

	_, err := c.Token(context.Background(), "ebay")
	require.NoError(t, err)

	c.Invalidate("ebay")

	_, err = c.Token(context.Background(), "ebay")
	require.NoError(t, err)
	assert.Equal(t, 2, refreshes)
}

func TestTokenUnknownProvider(t *testing.T) {
	c := NewCache()
	_, err := c.Token(context.Background(), "nope")
	assert.Error(t, err)
}
