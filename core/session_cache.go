package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/thejerf/abtime"
	"golang.org/x/sync/singleflight"
)

const defaultResolveTimeout = 30 * time.Second

type SessionCacheSettings struct {
	abtime.AbstractTime
	Logger *slog.Logger

	// ResolveTimeout bounds a shared resolution, which outlives the
	// cancellation of any single caller.
	ResolveTimeout time.Duration
}

type tokenResult struct {
	token string
	ok    bool
	err   error
}

// SessionCache resolves the current AuthToken once and remembers the
// outcome until it is refreshed, invalidated or the user signs out.
type SessionCache struct {
	pool UserPool
	slot *TokenSlot
	*SessionCacheSettings

	group singleflight.Group

	// mu guards memo and generation. A resolution started under an older
	// generation never overwrites the memo.
	mu         sync.Mutex
	memo       *tokenResult
	generation uint64
}

func NewSessionCache(pool UserPool, slot *TokenSlot, settings *SessionCacheSettings) *SessionCache {
	if settings == nil {
		settings = &SessionCacheSettings{}
	}
	if settings.AbstractTime == nil {
		settings.AbstractTime = abtime.NewRealTime()
	}
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}
	if settings.ResolveTimeout <= 0 {
		settings.ResolveTimeout = defaultResolveTimeout
	}
	return &SessionCache{
		pool:                 pool,
		slot:                 slot,
		SessionCacheSettings: settings,
	}
}

// CurrentToken returns the token of the active session, ok=false when there
// is none. The first call resolves against the provider; later calls return
// the same outcome. Concurrent callers share one resolution, and each caller
// only observes its own cancellation.
func (c *SessionCache) CurrentToken(ctx context.Context) (string, bool, error) {
	c.mu.Lock()
	if c.memo != nil {
		r := *c.memo
		c.mu.Unlock()
		return r.token, r.ok, r.err
	}
	gen := c.generation
	c.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		c.mu.Lock()
		if c.memo != nil && c.generation == gen {
			r := c.memo
			c.mu.Unlock()
			return r, nil
		}
		c.mu.Unlock()

		resolveCtx, cancel := context.WithTimeout(shared, c.ResolveTimeout)
		defer cancel()

		token, ok, err := c.resolve(resolveCtx)
		r := &tokenResult{token: token, ok: ok, err: err}

		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.mu.Lock()
			if c.generation == gen {
				c.memo = r
			}
			c.mu.Unlock()
		}
		return r, nil
	})

	select {
	case res := <-ch:
		r := res.Val.(*tokenResult)
		return r.token, r.ok, r.err
	case <-ctx.Done():
		return "", false, fmt.Errorf("%w: %w", ErrSessionRetrieval, ctx.Err())
	}
}

// Refresh discards the remembered outcome and resolves again.
func (c *SessionCache) Refresh(ctx context.Context) (string, bool, error) {
	c.Invalidate()
	return c.CurrentToken(ctx)
}

func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	c.memo = nil
	c.generation++
	c.mu.Unlock()
}

// SignOut terminates the current user's session and clears the token slot.
// With no current user it does nothing and returns nil.
func (c *SessionCache) SignOut(ctx context.Context) error {
	user, err := c.pool.CurrentUser(ctx)
	if err != nil {
		c.Invalidate()
		return fmt.Errorf("failed to load current user: %w", err)
	}
	if user == nil {
		c.setAbsent()
		return nil
	}

	if err := user.SignOut(ctx); err != nil {
		c.Invalidate()
		return fmt.Errorf("failed to sign out %s: %w", user.Username(), err)
	}
	c.setAbsent()

	if err := c.slot.Clear(ctx); err != nil {
		return fmt.Errorf("failed to remove auth token: %w", err)
	}

	c.Logger.Info("user signed out", "username", user.Username())
	return nil
}

func (c *SessionCache) setAbsent() {
	c.mu.Lock()
	c.generation++
	c.memo = &tokenResult{}
	c.mu.Unlock()
}

func (c *SessionCache) resolve(ctx context.Context) (string, bool, error) {
	user, err := c.pool.CurrentUser(ctx)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrSessionRetrieval, err)
	}
	if user == nil {
		return "", false, nil
	}

	session, err := user.GetSession(ctx)
	if err != nil {
		c.Logger.Warn("session retrieval failed", "username", user.Username(), "error", err)
		return "", false, fmt.Errorf("%w: %w", ErrSessionRetrieval, err)
	}
	if !session.ValidAt(c.Now()) {
		return "", false, nil
	}

	token := session.IdentityToken()
	if err := c.slot.Write(ctx, token); err != nil {
		return "", false, fmt.Errorf("failed to persist auth token: %w", err)
	}
	return token, true, nil
}
