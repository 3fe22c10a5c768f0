package model

import "time"

// State is the normalized semantic state of an entity transition.
// Domain vocabulary (on/off, open/closed, home/not_home, ...) collapses
// to positive/negative; numeric and other states pass through raw.
type State string

const (
	StatePositive State = "positive"
	StateNegative State = "negative"
)

// DayType segments analysis by calendar context. Closed set; the
// holiday-into-weekend merge is an explicit reclassification step,
// never ad hoc string comparison.
type DayType string

const (
	DayWorkday      DayType = "workday"
	DayWeekend      DayType = "weekend"
	DayHoliday      DayType = "holiday"
	DayVacation     DayType = "vacation"
	DayWorkFromHome DayType = "work_from_home"
)

// RawEvent is one state-change record as delivered by the hub event
// bus, before any cleaning. OriginContext is empty for manual actions.
type RawEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	EntityID      string         `json:"entity_id"`
	Domain        string         `json:"domain"`
	OldState      string         `json:"old_state"`
	NewState      string         `json:"new_state"`
	Area          string         `json:"area,omitempty"`
	Device        string         `json:"device,omitempty"`
	OriginContext string         `json:"origin_context,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NormalizedEvent is one cleaned transition. Produced once by the
// normalizer and never mutated afterward.
type NormalizedEvent struct {
	Timestamp      time.Time      `json:"timestamp"`
	EntityID       string         `json:"entity_id"`
	Domain         string         `json:"domain"`
	State          string         `json:"state"`
	RawState       string         `json:"raw_state"`
	Area           string         `json:"area,omitempty"`
	Device         string         `json:"device,omitempty"`
	DayType        DayType        `json:"day_type"`
	IsManual       bool           `json:"is_manual"`
	ConfidenceMult float64        `json:"confidence_mult"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// DayContext labels one calendar day for the analysis window.
type DayContext struct {
	Date      time.Time `json:"date"`
	Type      DayType   `json:"type"`
	Summaries []string  `json:"summaries,omitempty"`
	AwayAll   bool      `json:"away_all"`
}

// Grade classifies entity data reliability.
type Grade string

const (
	GradeHealthy    Grade = "healthy"
	GradeFlaky      Grade = "flaky"
	GradeUnreliable Grade = "unreliable"
)

// EntityHealth is the per-entity reliability score. Unreliable entities
// are filtered out before detection; flaky ones carry a penalty.
type EntityHealth struct {
	EntityID        string        `json:"entity_id"`
	AvailabilityPct float64       `json:"availability_pct"`
	UnavailableRuns int           `json:"unavailable_runs"`
	WorstOutage     time.Duration `json:"worst_outage"`
	Grade           Grade         `json:"grade"`
}

// ChainLink is one step of a detected behavioral sequence. OffsetSec is
// seconds from the first link (0 for the first).
type ChainLink struct {
	EntityID  string  `json:"entity_id"`
	State     string  `json:"state"`
	OffsetSec float64 `json:"offset_sec"`
}

// DetectionSource tags which engine produced a result.
type DetectionSource string

const (
	SourcePattern DetectionSource = "pattern"
	SourceGap     DetectionSource = "gap"
)

// DetectionResult is the unification point between the two engines.
// CombinedScore stays 0 until the scorer runs; engines never set it.
type DetectionResult struct {
	Source         DetectionSource `json:"source"`
	TriggerEntity  string          `json:"trigger_entity"`
	ActionEntities []string        `json:"action_entities"`
	Chain          []ChainLink     `json:"chain"`
	Area           string          `json:"area,omitempty"`
	Confidence     float64         `json:"confidence"`
	Consistency    float64         `json:"consistency"`
	RecencyWeight  float64         `json:"recency_weight"`
	Occurrences    int             `json:"occurrences"`
	Observations   []time.Time     `json:"observations,omitempty"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	DayType        DayType         `json:"day_type"`
	CombinedScore  float64         `json:"combined_score"`
}

// Signature identifies a detection for feedback purposes: suggestions
// sharing trigger entity and area count as the same source.
func (d *DetectionResult) Signature() string {
	return d.TriggerEntity + "|" + d.Area
}

// Trigger is one platform-native trigger definition. Both Platform and
// Trigger carry the type key: generated and synced automations disagree
// on which spelling they use, so comparison must read either.
type Trigger struct {
	Platform string   `json:"platform,omitempty" yaml:"platform,omitempty"`
	Trigger  string   `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	EntityID string   `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	From     string   `json:"from,omitempty" yaml:"from,omitempty"`
	To       string   `json:"to,omitempty" yaml:"to,omitempty"`
	For      string   `json:"for,omitempty" yaml:"for,omitempty"`
	Above    *float64 `json:"above,omitempty" yaml:"above,omitempty"`
	Below    *float64 `json:"below,omitempty" yaml:"below,omitempty"`
	Event    string   `json:"event,omitempty" yaml:"event,omitempty"`
	Zone     string   `json:"zone,omitempty" yaml:"zone,omitempty"`
	Offset   string   `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Type returns whichever type key is populated.
func (t Trigger) Type() string {
	if t.Platform != "" {
		return t.Platform
	}
	return t.Trigger
}

// Condition is one precondition on artifact execution.
type Condition struct {
	Condition string   `json:"condition" yaml:"condition"`
	EntityID  string   `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
	State     string   `json:"state,omitempty" yaml:"state,omitempty"`
	After     string   `json:"after,omitempty" yaml:"after,omitempty"`
	Before    string   `json:"before,omitempty" yaml:"before,omitempty"`
	Weekday   []string `json:"weekday,omitempty" yaml:"weekday,omitempty"`
	Above     *float64 `json:"above,omitempty" yaml:"above,omitempty"`
	Below     *float64 `json:"below,omitempty" yaml:"below,omitempty"`
}

// Target addresses an action. Area-level targeting is preferred over
// explicit entity lists when every action entity shares an area.
type Target struct {
	AreaID   string   `json:"area_id,omitempty" yaml:"area_id,omitempty"`
	EntityID []string `json:"entity_id,omitempty" yaml:"entity_id,omitempty"`
}

// Action is one service call in the artifact.
type Action struct {
	Service string         `json:"service,omitempty" yaml:"service,omitempty"`
	Target  Target         `json:"target,omitempty" yaml:"target,omitempty"`
	Data    map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Delay   string         `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// ExecutionMode controls how overlapping runs of the artifact behave.
type ExecutionMode string

const (
	ModeSingle  ExecutionMode = "single"
	ModeRestart ExecutionMode = "restart"
	ModeQueued  ExecutionMode = "queued"
)

// Provenance links an artifact back to the detection that produced it.
type Provenance struct {
	Source        DetectionSource `json:"source"`
	DayType       DayType         `json:"day_type"`
	Occurrences   int             `json:"occurrences"`
	Confidence    float64         `json:"confidence"`
	CombinedScore float64         `json:"combined_score"`
	FirstSeen     time.Time       `json:"first_seen"`
	LastSeen      time.Time       `json:"last_seen"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// Automation is a candidate automation artifact in the platform's
// native shape. State literals are string-typed throughout; the
// validator rejects any native boolean that leaks in.
type Automation struct {
	StableID      string        `json:"id" yaml:"id"`
	SchemaVersion int           `json:"schema_version" yaml:"schema_version"`
	Alias         string        `json:"alias" yaml:"alias"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers      []Trigger     `json:"triggers" yaml:"triggers"`
	Conditions    []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions       []Action      `json:"actions" yaml:"actions"`
	Mode          ExecutionMode `json:"mode" yaml:"mode"`
	Provenance    Provenance    `json:"provenance" yaml:"provenance"`
	NeedsApproval bool          `json:"needs_approval,omitempty" yaml:"needs_approval,omitempty"`
}

// ExistingAutomation is one automation fetched from the platform,
// re-normalized for comparison. Hash is the content hash over the raw
// definition; normalization is skipped while it is unchanged.
type ExistingAutomation struct {
	ID              string      `json:"id"`
	Alias           string      `json:"alias"`
	Enabled         bool        `json:"enabled"`
	Hash            string      `json:"hash"`
	Triggers        []Trigger   `json:"triggers"`
	Conditions      []Condition `json:"conditions,omitempty"`
	Actions         []Action    `json:"actions"`
	TriggerEntities []string    `json:"trigger_entities"`
	TargetEntities  []string    `json:"target_entities"`
	Areas           []string    `json:"areas,omitempty"`
	FetchedAt       time.Time   `json:"fetched_at"`
}

// ShadowStatus classifies a candidate against the synced set.
type ShadowStatus string

const (
	ShadowNew       ShadowStatus = "new"
	ShadowDuplicate ShadowStatus = "duplicate"
	ShadowConflict  ShadowStatus = "conflict"
	ShadowGapFill   ShadowStatus = "gap_fill"
)

// ShadowResult annotates a candidate; it never exists apart from the
// candidate it wraps, and the candidate is never mutated by it.
type ShadowResult struct {
	Status        ShadowStatus `json:"status"`
	Similarity    float64      `json:"similarity"`
	ExistingID    string       `json:"existing_id,omitempty"`
	ExistingAlias string       `json:"existing_alias,omitempty"`
	Justification string       `json:"justification"`
	BoostApplied  bool         `json:"boost_applied,omitempty"`
}

// RankedCandidate is the unit surfaced at the cache boundary.
type RankedCandidate struct {
	Automation Automation   `json:"automation"`
	Shadow     ShadowResult `json:"shadow"`
	Rank       int          `json:"rank"`
}

// StageHealth is the per-stage run summary exposed to the dashboard.
type StageHealth struct {
	Stage     string        `json:"stage"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
	Items     int           `json:"items"`
	Duration  time.Duration `json:"duration_ns"`
	Skipped   int           `json:"skipped"`
	Status    string        `json:"status"`
}
