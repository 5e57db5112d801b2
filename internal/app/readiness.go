package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// readinessTimeout bounds a single dependency probe.
const readinessTimeout = 2 * time.Second

// BrokerCheck returns a readiness probe that pings the broker backend.
func BrokerCheck(rdb redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("broker ping: %w", err)
		}
		return nil
	}
}
