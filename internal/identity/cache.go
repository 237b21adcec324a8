package identity

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingProvider memoizes successful authentications for a short TTL so
// reconnect storms do not hammer the upstream provider. An entry never
// outlives the token it was built from.
type CachingProvider struct {
	next  Provider
	clock clock.Clock
	cache *expirable.LRU[string, Identity]
}

func NewCachingProvider(next Provider, size int, ttl time.Duration, clk clock.Clock) *CachingProvider {
	return &CachingProvider{
		next:  next,
		clock: clk,
		cache: expirable.NewLRU[string, Identity](size, nil, ttl),
	}
}

func (p *CachingProvider) Authenticate(ctx context.Context, token string) (Identity, error) {
	if id, ok := p.cache.Get(token); ok {
		if !id.Expired(p.clock.Now()) {
			return id, nil
		}
		p.cache.Remove(token)
	}
	id, err := p.next.Authenticate(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if !id.Expired(p.clock.Now()) {
		p.cache.Add(token, id)
	}
	return id, nil
}
