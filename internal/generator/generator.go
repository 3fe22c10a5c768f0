package generator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"routined/internal/analyze"
	"routined/internal/cache"
	"routined/internal/calendar"
	"routined/internal/config"
	"routined/internal/gap"
	"routined/internal/graph"
	"routined/internal/health"
	"routined/internal/model"
	"routined/internal/normalize"
	"routined/internal/pattern"
	"routined/internal/score"
	"routined/internal/shadow"
	"routined/internal/storage"
	"routined/internal/template"
	"routined/internal/validate"
)

// ExistingSource is the syncer's face toward the pipeline: the
// normalized existing-automation set and the coverage check the gap
// analyzer consults.
type ExistingSource interface {
	Existing() []model.ExistingAutomation
	Covers(entityID string) bool
}

// Generator is the pipeline coordinator. The two detection engines run
// on independent timers and may overlap each other, but each stage is
// single-flight: an invocation that finds the previous one still
// running is skipped outright, never queued.
type Generator struct {
	cfg      *config.Manager
	logger   *slog.Logger
	store    storage.Store
	cache    *cache.Cache
	existing ExistingSource
	resolver *graph.Resolver
	calendar *calendar.Client

	events <-chan model.RawEvent
	buffer *EventBuffer

	tracker    *StageTracker
	candidates *CandidateLog
	cooldown   *Cooldown
	validator  *validate.Validator
	comparator *shadow.Comparator

	patternBusy atomic.Bool
	gapBusy     atomic.Bool
	publishMu   sync.Mutex

	entMu    sync.Mutex
	entities map[string]graph.Entity
}

func New(cfg *config.Manager, store storage.Store, c *cache.Cache, existing ExistingSource,
	resolver *graph.Resolver, events <-chan model.RawEvent, logger *slog.Logger) *Generator {
	current := cfg.Get()
	return &Generator{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		cache:      c,
		existing:   existing,
		resolver:   resolver,
		calendar:   calendar.NewClient(current.Calendar, logger),
		events:     events,
		buffer:     NewEventBuffer(time.Duration(current.Analysis.WindowDays) * 24 * time.Hour),
		tracker:    NewStageTracker(),
		candidates: NewCandidateLog(500),
		cooldown:   NewCooldown(),
		validator:  validate.New(),
		comparator: shadow.New(),
		entities:   make(map[string]graph.Entity),
	}
}

func (g *Generator) StageHealth() []model.StageHealth { return g.tracker.All() }
func (g *Generator) Candidates(limit int) []model.RankedCandidate {
	return g.candidates.List(limit)
}

// Run seeds the event window from storage, then drives the stage
// timers until the context is cancelled.
func (g *Generator) Run(ctx context.Context) {
	g.seed(ctx)
	go g.consume(ctx)

	current := g.cfg.Get()
	patternTicker := time.NewTicker(current.Pattern.Interval)
	gapTicker := time.NewTicker(current.Gap.Interval)
	defer patternTicker.Stop()
	defer gapTicker.Stop()

	// First runs happen shortly after startup rather than a full
	// interval later.
	warmup := time.NewTimer(time.Minute)
	defer warmup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmup.C:
			go g.runStage(ctx, model.SourcePattern)
			go g.runStage(ctx, model.SourceGap)
		case <-patternTicker.C:
			go g.runStage(ctx, model.SourcePattern)
		case <-gapTicker.C:
			go g.runStage(ctx, model.SourceGap)
		}
	}
}

func (g *Generator) seed(ctx context.Context) {
	if g.store == nil {
		return
	}
	since := time.Now().Add(-time.Duration(g.cfg.Get().Analysis.WindowDays) * 24 * time.Hour)
	events, err := g.store.LoadEvents(ctx, since)
	if err != nil {
		g.logger.Warn("event log seed failed", "err", err)
		return
	}
	g.buffer.Seed(events)
	for _, ev := range events {
		g.observeEntity(ev)
	}
	g.logger.Info("event window seeded", "events", len(events))
}

func (g *Generator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.events:
			if !ok {
				return
			}
			g.buffer.Add(ev)
			g.observeEntity(ev)
		}
	}
}

// observeEntity keeps the resolution graph current from the event
// stream itself, so entity and area lookups work without a separate
// registry fetch.
func (g *Generator) observeEntity(ev model.RawEvent) {
	g.entMu.Lock()
	prev, known := g.entities[ev.EntityID]
	if known && prev.Area == ev.Area && prev.Device == ev.Device {
		g.entMu.Unlock()
		return
	}
	ent := graph.Entity{ID: ev.EntityID, Domain: ev.Domain, Device: ev.Device, Area: ev.Area}
	g.entities[ev.EntityID] = ent
	g.entMu.Unlock()
	g.resolver.Merge([]graph.Entity{ent})
}

// RunOnce executes one stage synchronously. The API uses it for
// operator-triggered runs; timers go through the same path.
func (g *Generator) RunOnce(ctx context.Context, source model.DetectionSource) bool {
	return g.runStage(ctx, source)
}

func (g *Generator) runStage(ctx context.Context, source model.DetectionSource) bool {
	busy := &g.patternBusy
	stage := "pattern"
	if source == model.SourceGap {
		busy = &g.gapBusy
		stage = "gap"
	}
	if !busy.CompareAndSwap(false, true) {
		g.tracker.RecordSkip(stage)
		g.logger.Info("stage still running, invocation skipped", "stage", stage)
		return false
	}
	defer busy.Store(false)

	start := time.Now()
	pools, eligible := g.prepare(ctx)

	var detections []model.DetectionResult
	current := g.cfg.Get()
	if source == model.SourcePattern {
		detections = pattern.NewEngine(current.Pattern, current.Analysis, g.logger).Mine(pools, eligible)
	} else {
		detections = gap.NewAnalyzer(current.Gap, g.logger).Mine(pools, eligible, g.existing)
	}

	published, err := g.publish(ctx, stage, detections, pools)
	g.tracker.Record(stage, start, published, err)
	if g.cache != nil {
		if err := g.cache.PublishStageHealth(ctx, g.tracker.All()); err != nil {
			g.logger.Warn("stage health publish failed", "err", err)
		}
	}
	return true
}

// prepare runs the shared front half of the pipeline: health grades,
// calendar day classification and normalization into per-day-type
// pools.
func (g *Generator) prepare(ctx context.Context) (map[model.DayType][]model.NormalizedEvent, map[model.DayType]int) {
	current := g.cfg.Get()
	raw := g.buffer.Snapshot()

	scorer := health.NewScorer(current.Health)
	grades := scorer.Score(raw)

	end := time.Now()
	startDay := end.AddDate(0, 0, -current.Analysis.WindowDays)
	away := awayDays(raw, current.Template.PresenceEntity, startDay, end)
	days := g.calendar.Classify(ctx, startDay, end, away)

	pools := normalize.New(current.Filter, scorer).Run(raw, grades, days)

	eligible := make(map[model.DayType]int)
	for _, d := range days {
		eligible[d.Type]++
	}
	return pools, eligible
}

// publish runs the back half: scoring, template assembly, validation,
// shadow classification and the cache/store hand-off. It is serialized
// so a pattern run and a gap run never interleave their writes.
func (g *Generator) publish(ctx context.Context, stage string, detections []model.DetectionResult,
	pools map[model.DayType][]model.NormalizedEvent) (int, error) {
	g.publishMu.Lock()
	defer g.publishMu.Unlock()

	current := g.cfg.Get()
	if g.cache != nil {
		if err := g.cache.RefreshFeedback(ctx); err != nil {
			g.logger.Warn("feedback refresh failed", "err", err)
		}
	}

	scored := score.NewScorer(current.Scoring, g.cache, g.logger).Score(detections, time.Now())
	if len(scored) == 0 {
		return 0, nil
	}

	existing := g.existing.Existing()
	knownIDs := make(map[string]struct{}, len(existing))
	for _, ex := range existing {
		knownIDs[ex.ID] = struct{}{}
	}

	engine := template.NewEngine(current.Template, current.Analysis.SpreadCeiling)
	snap := g.resolver.Snapshot()
	interval := current.Pattern.Interval
	if stage == "gap" {
		interval = current.Gap.Interval
	}

	var out []model.RankedCandidate
	for _, det := range scored {
		sig := g.signals(det, pools[det.DayType])
		auto, err := engine.Build(det, snap, sig)
		if err != nil {
			g.logger.Warn("template build failed", "signature", det.Signature(), "err", err)
			continue
		}
		g.adoptStoredIdentity(ctx, &auto)
		res := g.validator.Validate(auto, snap, knownIDs)
		if !res.OK {
			g.logger.Warn("candidate rejected by validation",
				"signature", det.Signature(), "failed_checks", res.Failures)
			continue
		}
		auto.NeedsApproval = res.NeedsApproval

		verdict := g.comparator.Compare(auto, det.Area, existing)
		if verdict.Status == model.ShadowDuplicate && !shadow.ExpandsCoverage(verdict) {
			g.logger.Info("candidate suppressed as duplicate",
				"signature", det.Signature(), "existing", verdict.ExistingID)
			continue
		}
		if verdict.BoostApplied {
			boosted := auto.Provenance.CombinedScore * shadow.GapFillBoost
			if boosted > 1 {
				boosted = 1
			}
			auto.Provenance.CombinedScore = boosted
		}

		knownIDs[auto.StableID] = struct{}{}
		out = append(out, model.RankedCandidate{
			Automation: auto,
			Shadow:     verdict,
			Rank:       len(out) + 1,
		})
	}
	if len(out) == 0 {
		return 0, nil
	}

	if g.store != nil {
		if err := g.store.SaveCandidates(ctx, out); err != nil {
			return len(out), err
		}
	}
	if g.cache != nil {
		if err := g.cache.PublishCandidates(ctx, out); err != nil {
			return len(out), err
		}
	}
	for _, c := range out {
		if g.cooldown.AllowKey(storage.CandidateHash(c.Automation), interval) {
			g.candidates.Add(c)
		}
	}
	g.logger.Info("candidates published", "stage", stage, "count", len(out))
	return len(out), nil
}

// adoptStoredIdentity re-keys the artifact to a previously stored
// candidate with the same content hash, so a re-proposal on the next
// run updates one row instead of accreting a new id every interval.
func (g *Generator) adoptStoredIdentity(ctx context.Context, auto *model.Automation) {
	if g.store == nil {
		return
	}
	id, found, err := g.store.CandidateByHash(ctx, storage.CandidateHash(*auto))
	if err != nil {
		g.logger.Warn("candidate identity lookup failed", "err", err)
		return
	}
	if found {
		auto.StableID = id
	}
}

// signals derives the correlation evidence for one detection from its
// day-type pool: the adaptive time window, ambient-light and presence
// correlation, and stable service-data attributes.
func (g *Generator) signals(det model.DetectionResult, pool []model.NormalizedEvent) template.Signals {
	current := g.cfg.Get()
	sig := template.Signals{Window: analyze.ComputeAdaptiveWindow(det.Observations)}

	var triggerEvents []model.NormalizedEvent
	for _, ev := range pool {
		if ev.EntityID == det.TriggerEntity {
			triggerEvents = append(triggerEvents, ev)
		}
	}

	if lux := illuminanceSamples(pool, current.Template.IlluminanceEntity); len(lux) > 0 {
		corr := analyze.CorrelateEnvironment(triggerEvents, lux, current.Analysis.PairingTolerance)
		if corr <= -current.Analysis.CorrelationThreshold || corr >= current.Analysis.CorrelationThreshold {
			sig.LightCorrelated = true
			if paired := analyze.PairedValues(triggerEvents, lux, current.Analysis.PairingTolerance); len(paired) > 0 {
				threshold := median(paired)
				sig.IlluminanceBelow = &threshold
			}
		}
	}

	sig.PresenceCorrelated = presenceShare(det.Observations, pool, current.Template.PresenceEntity) >= current.Analysis.PresenceShare

	sig.Attributes = make(map[string]map[string]any, len(det.ActionEntities))
	for _, entity := range det.ActionEntities {
		if attrs := template.ExtractConsistentAttributes(pool, entity, current.Template.AttributeShare); len(attrs) > 0 {
			sig.Attributes[entity] = attrs
		}
	}
	return sig
}
