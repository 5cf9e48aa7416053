package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentra-platform/sentra/internal/platform/cache"
)

// Source loads identities from the backing store.
type Source interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	First(ctx context.Context) (*Identity, error)
}

// Resolver maps an inbound identity token to a resolved Identity, fronting
// the store with a short-TTL cache. One Resolver instance serves the whole
// process.
type Resolver struct {
	source Source
	cache  *cache.Memory[*Identity]
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver constructs a Resolver around the given store and cache.
func NewResolver(source Source, c *cache.Memory[*Identity], ttl time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{source: source, cache: c, ttl: ttl, logger: logger}
}

// Resolve returns the identity for the token. An empty token falls back to
// the default identity, which is never cached under a token key. On a cache
// miss the full relational graph is fetched and the cache populated before
// returning. Store failures propagate so permission checks fail closed.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return r.source.First(ctx)
	}
	if cached, ok := r.cache.Get(token); ok {
		return cached, nil
	}
	ident, err := r.source.GetByEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	r.cache.Set(token, ident, r.ttl)
	return ident, nil
}

// Invalidate drops the cached identity for a token. Called by the users
// service after mutations so role changes take effect before the TTL lapses.
func (r *Resolver) Invalidate(token string) {
	if token == "" {
		return
	}
	r.cache.Delete(token)
}
