package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"routined/internal/analyze"
	"routined/internal/config"
	"routined/internal/graph"
	"routined/internal/model"
)

// SchemaVersion tags stored artifacts for additive forward
// compatibility of the candidate store.
const SchemaVersion = 2

// Signals carries the correlation evidence the generator computed for
// one detection before handing it to the template engine.
type Signals struct {
	Window             analyze.AdaptiveWindow
	LightCorrelated    bool
	IlluminanceBelow   *float64
	PresenceCorrelated bool
	Attributes         map[string]map[string]any
}

// Engine converts a scored detection into a platform-native automation
// artifact.
type Engine struct {
	cfg           config.TemplateConfig
	spreadCeiling time.Duration
}

func NewEngine(cfg config.TemplateConfig, spreadCeiling time.Duration) *Engine {
	return &Engine{cfg: cfg, spreadCeiling: spreadCeiling}
}

// Build assembles the artifact. The chain's final pre-action link is
// the sole trigger; earlier links become preconditions so the artifact
// still fires when the full context only mostly repeats.
func (e *Engine) Build(det model.DetectionResult, snap *graph.Snapshot, sig Signals) (model.Automation, error) {
	if det.TriggerEntity == "" {
		return model.Automation{}, errors.New("detection has no trigger entity")
	}
	if len(det.ActionEntities) == 0 {
		return model.Automation{}, errors.New("detection has no action entities")
	}

	trigger := buildTrigger(det.TriggerEntity, triggerState(&det), e.cfg.Debounce)
	conditions := buildConditions(&det, conditionContext{
		window:             sig.Window,
		spreadCeiling:      e.spreadCeiling,
		lightCorrelated:    sig.LightCorrelated,
		illuminanceBelow:   sig.IlluminanceBelow,
		presenceCorrelated: sig.PresenceCorrelated,
	}, e.cfg)
	actions := buildActions(&det, snap, sig.Attributes, e.cfg.Debounce)
	for i := range actions {
		actions[i].Data = quoteBooleans(actions[i].Data)
	}

	auto := model.Automation{
		StableID:      uuid.NewString(),
		SchemaVersion: SchemaVersion,
		Alias:         buildAlias(&det),
		Description:   buildDescription(&det),
		Triggers:      []model.Trigger{trigger},
		Conditions:    conditions,
		Actions:       actions,
		Mode:          chooseMode(actions),
		Provenance: model.Provenance{
			Source:        det.Source,
			DayType:       det.DayType,
			Occurrences:   det.Occurrences,
			Confidence:    det.Confidence,
			CombinedScore: det.CombinedScore,
			FirstSeen:     det.FirstSeen,
			LastSeen:      det.LastSeen,
			GeneratedAt:   time.Now().UTC(),
		},
	}
	return auto, nil
}

// chooseMode picks the execution mode from the action shape: sequences
// with waits restart, notifications queue, everything else is single
// with silent overflow.
func chooseMode(actions []model.Action) model.ExecutionMode {
	for _, a := range actions {
		if a.Delay != "" {
			return model.ModeRestart
		}
	}
	for _, a := range actions {
		if strings.HasPrefix(a.Service, "notify.") {
			return model.ModeQueued
		}
	}
	return model.ModeSingle
}

func triggerState(det *model.DetectionResult) string {
	for _, link := range det.Chain {
		if link.EntityID == det.TriggerEntity {
			return link.State
		}
	}
	return string(model.StatePositive)
}

func buildAlias(det *model.DetectionResult) string {
	trigger := friendlyName(det.TriggerEntity)
	action := friendlyName(det.ActionEntities[0])
	label := fmt.Sprintf("%s controls %s", trigger, action)
	if det.Area != "" {
		label = fmt.Sprintf("%s: %s", capitalize(det.Area), label)
	}
	return fmt.Sprintf("%s (%s)", label, strings.ReplaceAll(string(det.DayType), "_", " "))
}

func buildDescription(det *model.DetectionResult) string {
	kind := "recurring routine"
	if det.Source == model.SourceGap {
		kind = "repeated manual action"
	}
	return fmt.Sprintf("Suggested from a %s observed %d times between %s and %s.",
		kind, det.Occurrences,
		det.FirstSeen.Format("2006-01-02"), det.LastSeen.Format("2006-01-02"))
}

func friendlyName(entityID string) string {
	name := entityID
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		name = entityID[i+1:]
	}
	return strings.ReplaceAll(name, "_", " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// quoteBooleans rewrites native booleans and boolean-looking literals
// in service data as quoted strings; the platform's state model is
// string-typed and a native boolean is a correctness bug there.
func quoteBooleans(data map[string]any) map[string]any {
	if len(data) == 0 {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case bool:
			out[k] = strconv.FormatBool(t)
		default:
			out[k] = v
		}
	}
	return out
}
