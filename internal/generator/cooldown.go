package generator

import (
	"sync"
	"time"
)

// Cooldown rate-limits republication. The surfaced list is rebuilt
// every run; without a cooldown the history log would fill with the
// same unchanged suggestion over and over.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

// AllowKey reports whether the key may be published again and records
// the attempt when it is.
func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}
