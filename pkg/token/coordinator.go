package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/energyid-monitor/pkg/log"
	"github.com/raterudder/energyid-monitor/pkg/metrics"
	"github.com/raterudder/energyid-monitor/pkg/storage"
	"github.com/raterudder/energyid-monitor/pkg/types"
)

// Source issues new tokens. energyid.Client implements it.
type Source interface {
	Handshake(ctx context.Context, identity types.Identity) (types.Token, error)
}

// IdentitySource is a Source that also knows the identity to hand-shake
// with.
type IdentitySource interface {
	Source
	Identity() types.Identity
}

// Coordinator returns a usable token, reusing the stored one while it is
// valid and otherwise fetching and storing a new one.
type Coordinator struct {
	store    storage.Database
	source   Source
	identity types.Identity
	buffer   time.Duration
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBuffer overrides DefaultExpiryBuffer.
func WithBuffer(buffer time.Duration) Option {
	return func(c *Coordinator) {
		c.buffer = buffer
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator returns a Coordinator that hand-shakes with identity when
// the stored token is missing or about to expire.
func NewCoordinator(store storage.Database, source Source, identity types.Identity, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		source:   source,
		identity: identity,
		buffer:   DefaultExpiryBuffer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured registers -token-expiry-buffer and returns a Coordinator using
// source's identity once flags are parsed.
func Configured(store storage.Database, source IdentitySource) *Coordinator {
	buffer := lflag.Duration("token-expiry-buffer", DefaultExpiryBuffer, "Refresh the token when it expires within this duration")

	c := NewCoordinator(store, source, types.Identity{})
	lflag.Do(func() {
		if *buffer < 0 {
			panic("token-expiry-buffer must not be negative")
		}
		c.buffer = *buffer
		c.identity = source.Identity()
	})
	return c
}

// Buffer returns the expiry buffer in use.
func (c *Coordinator) Buffer() time.Duration {
	return c.buffer
}

// Cached returns the latest stored token, if any, without hand-shaking.
func (c *Coordinator) Cached(ctx context.Context) (*types.Token, error) {
	if err := c.store.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return c.store.LatestToken(ctx)
}

// GetOrRefresh returns the stored token if it is still valid. Otherwise it
// performs exactly one handshake and appends the result.
//
// If the new token cannot be stored it is returned along with an error
// wrapping storage.ErrWrite so the caller can still use it for this run.
func (c *Coordinator) GetOrRefresh(ctx context.Context) (types.Token, error) {
	latest, err := c.Cached(ctx)
	if err != nil {
		return types.Token{}, err
	}

	now := c.now()
	if latest != nil && IsValid(*latest, now, c.buffer) {
		metrics.TokenCacheHitsTotal.Inc()
		metrics.TokenExpiryTimestamp.Set(float64(latest.Exp))
		log.Ctx(ctx).DebugContext(ctx, "using cached energyid token",
			slog.String("bearer", log.MaskToken(latest.BearerToken)),
			slog.Time("expiresAt", latest.ExpiresAt()),
		)
		return *latest, nil
	}
	if latest != nil {
		log.Ctx(ctx).InfoContext(ctx, "cached energyid token expired or expiring soon",
			slog.Time("expiresAt", latest.ExpiresAt()),
			slog.Duration("buffer", c.buffer),
		)
	} else {
		log.Ctx(ctx).InfoContext(ctx, "no cached energyid token")
	}

	tok, err := c.source.Handshake(ctx, c.identity)
	metrics.TokenRefreshTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return types.Token{}, err
	}
	metrics.TokenExpiryTimestamp.Set(float64(tok.Exp))

	if err := c.store.AppendToken(ctx, tok); err != nil {
		return tok, fmt.Errorf("failed to store new token: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "stored new energyid token",
		slog.String("twinID", tok.TwinID),
		slog.Time("expiresAt", tok.ExpiresAt()),
	)
	return tok, nil
}
