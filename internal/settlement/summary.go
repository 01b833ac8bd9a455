package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "settlement:summary:version"

// Cache wraps Redis based caching of settlement summaries with versioning
// controls. Every state-changing operation bumps the version, invalidating
// all cached summaries at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates all cached summaries by advancing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// GetSummary fetches a cached summary for the party when present.
func (c *Cache) GetSummary(ctx context.Context, party int64) (Summary, bool, error) {
	if c == nil || c.client == nil {
		return Summary{}, false, nil
	}
	key, err := c.summaryKey(ctx, party)
	if err != nil {
		return Summary{}, false, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return Summary{}, false, nil
	}
	return summary, true, nil
}

// SetSummary stores a computed summary under the current version.
func (c *Cache) SetSummary(ctx context.Context, party int64, summary Summary) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.summaryKey(ctx, party)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *Cache) summaryKey(ctx context.Context, party int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("settlement:summary:v%d:party:%d", ver, party), nil
}

// Summary folds a party's settlements into counts by derived status plus net
// and approved totals. Pure aggregation over the canonical ledger; cached per
// party and invalidated on every state change.
func (s *Service) Summary(ctx context.Context, party int64) (Summary, error) {
	if party == 0 {
		return Summary{}, ErrInvalidParties
	}
	if cached, ok, err := s.cache.GetSummary(ctx, party); err == nil && ok {
		return cached, nil
	}

	settlements, err := s.repo.ListByPartyWithPayments(ctx, party)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		Party:       party,
		Counts:      make(map[Status]int),
		GeneratedAt: s.now(),
	}
	for i := range settlements {
		st := &settlements[i]
		summary.Counts[st.DeriveStatus()]++
		summary.TotalNetAmount += st.NetAmount
		summary.TotalApproved += st.ApprovedTotal()
	}
	_ = s.cache.SetSummary(ctx, party, summary)
	return summary, nil
}
