package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const gateKey = "provider:ratelimited"

// ProviderGate persists the provider's retry-after window so every process
// sharing the redis instance fails fast instead of hammering a rate-limited
// provider.
type ProviderGate struct {
	client *redis.Client
}

func NewProviderGate(client *redis.Client) *ProviderGate {
	return &ProviderGate{client: client}
}

func (g *ProviderGate) Blocked(ctx context.Context) (time.Duration, error) {
	ttl, err := g.client.PTTL(ctx, gateKey).Result()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

func (g *ProviderGate) Block(ctx context.Context, d time.Duration) error {
	return g.client.Set(ctx, gateKey, "1", d).Err()
}
