package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/quantrun/tradecore/internal/risk"
)

const breakerKey = "tradecore:breaker"

// Snapshots persists circuit-breaker state to redis so a live restart
// does not forget an open halt.
type Snapshots struct {
	client redis.Cmdable
}

// NewSnapshots creates a snapshot store over a redis client.
func NewSnapshots(client redis.Cmdable) *Snapshots {
	return &Snapshots{client: client}
}

// SaveBreaker stores the breaker snapshot, overwriting any previous one.
func (s *Snapshots) SaveBreaker(ctx context.Context, snap risk.BreakerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal breaker snapshot: %w", err)
	}
	if err := s.client.Set(ctx, breakerKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save breaker snapshot: %w", err)
	}
	return nil
}

// LoadBreaker returns the persisted breaker snapshot. The second return
// is false when none has been stored.
func (s *Snapshots) LoadBreaker(ctx context.Context) (risk.BreakerSnapshot, bool, error) {
	data, err := s.client.Get(ctx, breakerKey).Result()
	if errors.Is(err, redis.Nil) {
		return risk.BreakerSnapshot{}, false, nil
	}
	if err != nil {
		return risk.BreakerSnapshot{}, false, fmt.Errorf("load breaker snapshot: %w", err)
	}
	var snap risk.BreakerSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return risk.BreakerSnapshot{}, false, fmt.Errorf("decode breaker snapshot: %w", err)
	}
	return snap, true, nil
}
