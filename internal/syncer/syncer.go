package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"routined/internal/config"
	"routined/internal/graph"
	"routined/internal/model"
)

// Syncer mirrors the platform's automation set. It fetches on startup
// and on a fixed interval, content-hashes every raw definition and
// re-normalizes only the ones whose hash changed since the last pass.
// The normalized set backs both the shadow comparator and the gap
// analyzer's coverage check.
type Syncer struct {
	cfg      *config.Manager
	client   *http.Client
	resolver *graph.Resolver
	logger   *slog.Logger

	hashes *lru.Cache[string, string]

	mu       sync.RWMutex
	existing []model.ExistingAutomation
	byID     map[string]model.ExistingAutomation
	covered  map[string]struct{}
	lastSync time.Time
	lastErr  error
}

func New(cfg *config.Manager, resolver *graph.Resolver, logger *slog.Logger) (*Syncer, error) {
	size := cfg.Get().Sync.HashCacheSize
	if size <= 0 {
		size = 1024
	}
	hashes, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Syncer{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Get().Sync.Timeout},
		resolver: resolver,
		logger:   logger,
		hashes:   hashes,
		byID:     make(map[string]model.ExistingAutomation),
		covered:  make(map[string]struct{}),
	}, nil
}

// Run syncs immediately, then on the configured interval until the
// context is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("initial automation sync failed", "err", err)
	}
	interval := s.cfg.Get().Sync.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Error("automation sync failed", "err", err)
			}
		}
	}
}

// Sync performs one fetch-and-normalize pass. Transient failures are
// retried with backoff; client errors are not, a 4xx will not heal on
// its own.
func (s *Syncer) Sync(ctx context.Context) error {
	raw, err := s.fetch(ctx)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	next := make([]model.ExistingAutomation, 0, len(raw))
	nextByID := make(map[string]model.ExistingAutomation, len(raw))
	reused, normalized := 0, 0

	s.mu.RLock()
	prevByID := s.byID
	s.mu.RUnlock()

	for _, def := range raw {
		hash := contentHash(def)
		if prev, ok := prevByID[def.ID]; ok {
			if cached, hit := s.hashes.Get(def.ID); hit && cached == hash {
				prev.Enabled = def.Enabled
				prev.FetchedAt = now
				next = append(next, prev)
				nextByID[def.ID] = prev
				reused++
				continue
			}
		}
		ex := s.normalize(def, hash, now)
		s.hashes.Add(def.ID, hash)
		next = append(next, ex)
		nextByID[def.ID] = ex
		normalized++
	}

	covered := make(map[string]struct{})
	for _, ex := range next {
		if !ex.Enabled {
			continue
		}
		for _, e := range ex.TargetEntities {
			covered[e] = struct{}{}
		}
	}

	s.mu.Lock()
	s.existing = next
	s.byID = nextByID
	s.covered = covered
	s.lastSync = now
	s.mu.Unlock()

	s.logger.Info("automation sync complete",
		"total", len(next), "normalized", normalized, "reused", reused)

	s.syncEntities(ctx)
	return nil
}

// syncEntities refreshes the resolution graph from the platform's
// state snapshot. Best-effort: the graph also learns entities from the
// event stream, so a failed fetch only delays area resolution.
func (s *Syncer) syncEntities(ctx context.Context) {
	cfg := s.cfg.Get().Sync
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/states", nil)
	if err != nil {
		return
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("entity state fetch failed", "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("entity state fetch failed", "status", resp.Status)
		return
	}
	var states []graph.Entity
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		s.logger.Warn("entity state decode failed", "err", err)
		return
	}
	if len(states) > 0 {
		s.resolver.Merge(states)
		s.logger.Info("entity graph refreshed", "entities", len(states))
	}
}

// rawAutomation is the platform's wire shape for one automation.
type rawAutomation struct {
	ID         string            `json:"id"`
	Alias      string            `json:"alias"`
	Enabled    bool              `json:"enabled"`
	Triggers   []model.Trigger   `json:"triggers"`
	Trigger    []model.Trigger   `json:"trigger"`
	Conditions []model.Condition `json:"conditions"`
	Condition  []model.Condition `json:"condition"`
	Actions    []model.Action    `json:"actions"`
	Action     []model.Action    `json:"action"`
}

func (s *Syncer) fetch(ctx context.Context) ([]rawAutomation, error) {
	cfg := s.cfg.Get().Sync
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff << (attempt - 1)):
			}
		}
		defs, retryable, err := s.fetchOnce(ctx, cfg)
		if err == nil {
			return defs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		s.logger.Warn("automation fetch failed, retrying", "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (s *Syncer) fetchOnce(ctx context.Context, cfg config.SyncConfig) ([]rawAutomation, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/api/automations", nil)
	if err != nil {
		return nil, false, err
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("platform returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("platform returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	var defs []rawAutomation
	if err := json.Unmarshal(body, &defs); err != nil {
		return nil, false, err
	}
	return defs, false, nil
}

// normalize resolves one raw definition into comparable form. Both
// the singular and plural key spellings are folded together and both
// trigger type keys are populated, so later comparison never misses a
// match because the platform changed its vocabulary between versions.
func (s *Syncer) normalize(def rawAutomation, hash string, now time.Time) model.ExistingAutomation {
	triggers := append(append([]model.Trigger(nil), def.Triggers...), def.Trigger...)
	conditions := append(append([]model.Condition(nil), def.Conditions...), def.Condition...)
	actions := append(append([]model.Action(nil), def.Actions...), def.Action...)

	for i := range triggers {
		kind := triggers[i].Type()
		triggers[i].Platform = kind
		triggers[i].Trigger = kind
	}

	var triggerEntities, targetEntities []string
	areaSet := make(map[string]struct{})
	snap := s.resolver.Snapshot()

	for _, t := range triggers {
		if t.EntityID != "" {
			triggerEntities = append(triggerEntities, t.EntityID)
			if a := snap.Area(t.EntityID); a != "" {
				areaSet[a] = struct{}{}
			}
		}
	}
	for _, a := range actions {
		for _, e := range a.Target.EntityID {
			targetEntities = append(targetEntities, e)
			if area := snap.Area(e); area != "" {
				areaSet[area] = struct{}{}
			}
		}
		if a.Target.AreaID != "" {
			areaSet[a.Target.AreaID] = struct{}{}
			targetEntities = append(targetEntities, snap.EntitiesInArea(a.Target.AreaID)...)
		}
	}

	areas := make([]string, 0, len(areaSet))
	for a := range areaSet {
		areas = append(areas, a)
	}

	return model.ExistingAutomation{
		ID:              def.ID,
		Alias:           def.Alias,
		Enabled:         def.Enabled,
		Hash:            hash,
		Triggers:        triggers,
		Conditions:      conditions,
		Actions:         actions,
		TriggerEntities: triggerEntities,
		TargetEntities:  targetEntities,
		Areas:           areas,
		FetchedAt:       now,
	}
}

func contentHash(def rawAutomation) string {
	raw, _ := json.Marshal(def)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Existing returns the current normalized set.
func (s *Syncer) Existing() []model.ExistingAutomation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ExistingAutomation, len(s.existing))
	copy(out, s.existing)
	return out
}

// Covers reports whether an enabled existing automation already
// targets the entity.
func (s *Syncer) Covers(entityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, hit := s.covered[entityID]
	return hit
}

// Status reports the last sync time and error for the dashboard.
func (s *Syncer) Status() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync, s.lastErr
}
