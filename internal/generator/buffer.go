package generator

import (
	"sync"
	"time"

	"routined/internal/model"
)

// EventBuffer holds the rolling raw-event window the engines mine.
// Appends come from the ingest channel; each stage takes an immutable
// copy so mining never races with ingestion.
type EventBuffer struct {
	mu     sync.Mutex
	events []model.RawEvent
	window time.Duration
}

func NewEventBuffer(window time.Duration) *EventBuffer {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &EventBuffer{window: window}
}

func (b *EventBuffer) Add(ev model.RawEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	b.trim(ev.Timestamp)
}

// Seed loads historical events, oldest first, below any live ones.
func (b *EventBuffer) Seed(events []model.RawEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(append([]model.RawEvent(nil), events...), b.events...)
}

func (b *EventBuffer) Snapshot() []model.RawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.RawEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// trim drops events older than the window. Events arrive roughly in
// order, so scanning from the front is enough.
func (b *EventBuffer) trim(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && b.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
