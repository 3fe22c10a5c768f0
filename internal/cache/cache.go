package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"routined/internal/config"
	"routined/internal/model"
)

// Cache is the publish boundary: ranked candidates and stage health go
// out to Redis for the dashboard, accept/reject feedback counters come
// back in for scoring. A nil *Cache is a valid no-op handle so the
// pipeline runs unchanged with caching disabled.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu         sync.RWMutex
	rejections map[string]int
}

func New(cfg config.CacheConfig, logger *slog.Logger) *Cache {
	if !cfg.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{
		rdb:        rdb,
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		logger:     logger,
		rejections: make(map[string]int),
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Cache) key(suffix string) string {
	return c.prefix + ":" + suffix
}

// PublishCandidates replaces the surfaced candidate list.
func (c *Cache) PublishCandidates(ctx context.Context, candidates []model.RankedCandidate) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("candidates"), raw, c.ttl).Err()
}

// Candidates returns the last published list, or nil when none is
// cached.
func (c *Cache) Candidates(ctx context.Context) ([]model.RankedCandidate, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, c.key("candidates")).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.RankedCandidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PublishStageHealth replaces the per-stage run summaries.
func (c *Cache) PublishStageHealth(ctx context.Context, health []model.StageHealth) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(health)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("stage_health"), raw, c.ttl).Err()
}

// RecordFeedback increments the accept or reject counter for a
// trigger/area signature and refreshes the local rejection view.
func (c *Cache) RecordFeedback(ctx context.Context, signature string, accepted bool) error {
	if c == nil {
		return nil
	}
	field := "reject"
	if accepted {
		field = "accept"
	}
	count, err := c.rdb.HIncrBy(ctx, c.key("feedback:"+field), signature, 1).Result()
	if err != nil {
		return err
	}
	if !accepted {
		c.mu.Lock()
		c.rejections[signature] = int(count)
		c.mu.Unlock()
	}
	return nil
}

// RefreshFeedback pulls the full rejection counter hash. The generator
// calls it once per run so scoring reads a consistent local snapshot
// instead of hitting Redis per candidate.
func (c *Cache) RefreshFeedback(ctx context.Context) error {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.HGetAll(ctx, c.key("feedback:reject")).Result()
	if err != nil {
		return err
	}
	next := make(map[string]int, len(raw))
	for sig, v := range raw {
		if n, err := strconv.Atoi(v); err == nil {
			next[sig] = n
		}
	}
	c.mu.Lock()
	c.rejections = next
	c.mu.Unlock()
	return nil
}

// Rejections implements the scorer's feedback source from the local
// snapshot.
func (c *Cache) Rejections(signature string) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rejections[signature]
}
