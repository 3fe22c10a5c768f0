package cache

import (
	"context"
	"testing"

	"routined/internal/config"
	"routined/internal/model"
)

// A disabled cache must behave as a silent no-op everywhere the
// pipeline touches it.
func TestNilCacheIsNoOp(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if err := c.PublishCandidates(ctx, []model.RankedCandidate{{}}); err != nil {
		t.Fatalf("publish on nil cache: %v", err)
	}
	if err := c.PublishStageHealth(ctx, nil); err != nil {
		t.Fatalf("health on nil cache: %v", err)
	}
	if err := c.RecordFeedback(ctx, "sig", false); err != nil {
		t.Fatalf("feedback on nil cache: %v", err)
	}
	if err := c.RefreshFeedback(ctx); err != nil {
		t.Fatalf("refresh on nil cache: %v", err)
	}
	if got := c.Rejections("sig"); got != 0 {
		t.Fatalf("nil cache must report zero rejections, got %d", got)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil cache: %v", err)
	}
}

func TestDisabledConfigReturnsNil(t *testing.T) {
	if c := New(config.CacheConfig{Enabled: false}, nil); c != nil {
		t.Fatalf("disabled cache config must return the nil handle")
	}
}

func TestRejectionsReadLocalSnapshot(t *testing.T) {
	c := &Cache{rejections: map[string]int{"binary_sensor.hall_motion|hall": 2}}
	if got := c.Rejections("binary_sensor.hall_motion|hall"); got != 2 {
		t.Fatalf("expected 2 rejections, got %d", got)
	}
	if got := c.Rejections("unknown"); got != 0 {
		t.Fatalf("unknown signature must be zero, got %d", got)
	}
}
