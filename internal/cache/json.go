package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/cashwise/internal/domain"
)

// GetJSON loads key and decodes it into a new T.
// A miss returns nil, nil. An undecodable entry is deleted and treated as a miss.
func GetJSON[T any](ctx context.Context, c domain.Cache, tenantID, key string) (*T, error) {
	data, err := c.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		_ = c.Delete(ctx, tenantID, key)
		return nil, nil
	}
	return &v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON[T any](ctx context.Context, c domain.Cache, tenantID, key string, v *T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return c.Set(ctx, tenantID, key, data, ttl)
}
