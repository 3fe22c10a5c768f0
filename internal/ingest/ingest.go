package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"routined/internal/model"
)

// SendNonBlocking forwards an event to the pipeline channel without
// ever stalling the bus reader. A full channel drops the event; the
// detection engines tolerate gaps far better than the ingest path
// tolerates backpressure.
func SendNonBlocking(ctx context.Context, out chan<- model.RawEvent, ev model.RawEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "entity_id", ev.EntityID, "timestamp", ev.Timestamp)
		}
		return false
	}
}

// DedupeCache suppresses bus echoes: the hub occasionally redelivers
// the same transition within a short window.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time)}
}

func (d *DedupeCache) Seen(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok {
		if now.Sub(ts) <= ttl {
			return true
		}
	}
	d.items[key] = now
	if len(d.items) > 10000 {
		d.compact(now, ttl)
	}
	return false
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}

func dedupeKey(ev model.RawEvent) string {
	return ev.EntityID + "|" + ev.OldState + "|" + ev.NewState
}
