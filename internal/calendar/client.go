package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// Client fetches calendar events from the hub's calendar feed. The
// fetch is best-effort: any failure is logged and the caller gets a
// pure weekday/weekend classification instead.
type Client struct {
	cfg    config.CalendarConfig
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg config.CalendarConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch returns the calendar events overlapping [start, end].
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	if c.cfg.URL == "" {
		return nil, nil
	}
	url := fmt.Sprintf("%s?start=%s&end=%s", c.cfg.URL, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("calendar fetch: %w", err)
	}
	var events []Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("calendar decode: %w", err)
	}
	return events, nil
}

// Classify fetches the calendar and classifies the range, falling back
// to weekday/weekend labels when the feed is unreachable.
func (c *Client) Classify(ctx context.Context, start, end time.Time, awayDays []time.Time) []model.DayContext {
	events, err := c.Fetch(ctx, start, end)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("calendar unavailable, using weekday/weekend fallback", "err", err)
		}
		return FallbackDays(start, end)
	}
	return ClassifyDays(start, end, events, awayDays, c.cfg)
}
