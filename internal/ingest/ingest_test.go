package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"routined/internal/model"
)

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	out := make(chan model.RawEvent, 1)
	ctx := context.Background()

	ev := model.RawEvent{EntityID: "light.hall", Timestamp: time.Now()}
	if !SendNonBlocking(ctx, out, ev, logger) {
		t.Fatalf("send into empty channel must succeed")
	}
	if SendNonBlocking(ctx, out, ev, logger) {
		t.Fatalf("send into full channel must drop, not block")
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one buffered event, got %d", len(out))
	}
}

func TestDedupeCacheSuppressesEchoes(t *testing.T) {
	cache := NewDedupeCache()
	now := time.Now()
	ev := model.RawEvent{EntityID: "light.hall", OldState: "off", NewState: "on"}

	if cache.Seen(dedupeKey(ev), now, time.Second) {
		t.Fatalf("first occurrence must pass")
	}
	if !cache.Seen(dedupeKey(ev), now.Add(200*time.Millisecond), time.Second) {
		t.Fatalf("echo inside the window must be suppressed")
	}
	if cache.Seen(dedupeKey(ev), now.Add(2*time.Second), time.Second) {
		t.Fatalf("occurrence after the window must pass")
	}

	other := model.RawEvent{EntityID: "light.hall", OldState: "on", NewState: "off"}
	if cache.Seen(dedupeKey(other), now.Add(2100*time.Millisecond), time.Second) {
		t.Fatalf("a different transition is never an echo")
	}
}
