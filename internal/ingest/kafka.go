package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"routined/internal/config"
	"routined/internal/model"
	"routined/internal/storage"
)

// StartKafka consumes raw state-change events from the hub's event
// topic. Events are deduplicated, forwarded to the pipeline channel
// and appended to the persistent event log when storage is enabled.
func StartKafka(ctx context.Context, cfg *config.Manager, store storage.Store, out chan<- model.RawEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		logger.Info("kafka ingest disabled")
		return
	}
	logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	dedupe := NewDedupeCache()
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka read error", "err", err)
				continue
			}
			var ev model.RawEvent
			if err := json.Unmarshal(m.Value, &ev); err != nil {
				logger.Warn("kafka decode error", "err", err)
				continue
			}
			if ev.EntityID == "" || ev.Timestamp.IsZero() {
				continue
			}
			ttl := cfg.Get().Ingest.DedupeWindow
			if ttl > 0 && dedupe.Seen(dedupeKey(ev), ev.Timestamp, ttl) {
				continue
			}
			SendNonBlocking(ctx, out, ev, logger)
			if store != nil {
				if err := store.SaveEvents(ctx, []model.RawEvent{ev}); err != nil {
					logger.Warn("event log append failed", "err", err)
				}
			}
		}
	}()
}
