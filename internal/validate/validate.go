package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"routined/internal/graph"
	"routined/internal/model"
)

// Result reports the outcome of validating one candidate artifact.
// Failures carries the names of every check that failed, not just the
// first, so the rejection is diagnosable from the result alone.
type Result struct {
	OK            bool     `json:"ok"`
	Failures      []string `json:"failures,omitempty"`
	NeedsApproval bool     `json:"needs_approval,omitempty"`
}

// restrictedDomains are action domains that never auto-deploy. An
// artifact touching one still validates, but only as a suggestion that
// requires explicit approval.
var restrictedDomains = map[string]struct{}{
	"lock":                {},
	"alarm_control_panel": {},
	"cover":               {},
}

type input struct {
	auto     *model.Automation
	snap     *graph.Snapshot
	knownIDs map[string]struct{}
}

type check struct {
	name string
	fn   func(*input) error
}

// Validator runs every check against a candidate. Checks are
// independent and order-insensitive; all of them run even after the
// first failure.
type Validator struct {
	checks []check
}

func New() *Validator {
	return &Validator{checks: []check{
		{"parseable", checkParseable},
		{"required_fields", checkRequiredFields},
		{"state_literals", checkStateLiterals},
		{"entity_exists", checkEntityExists},
		{"service_known", checkServiceKnown},
		{"self_loop", checkSelfLoop},
		{"id_collision", checkIDCollision},
		{"mode_shape", checkModeShape},
	}}
}

// Validate runs the full check set. knownIDs holds the stable ids of
// every other candidate in the batch plus the synced existing
// automations; the snapshot may be nil when the entity graph is not
// yet available, which skips existence checks rather than failing
// everything.
func (v *Validator) Validate(auto model.Automation, snap *graph.Snapshot, knownIDs map[string]struct{}) Result {
	in := &input{auto: &auto, snap: snap, knownIDs: knownIDs}
	res := Result{OK: true}
	for _, c := range v.checks {
		if err := c.fn(in); err != nil {
			res.OK = false
			res.Failures = append(res.Failures, c.name)
		}
	}
	res.NeedsApproval = touchesRestrictedDomain(&auto)
	return res
}

func checkParseable(in *input) error {
	raw, err := json.Marshal(in.auto)
	if err != nil {
		return err
	}
	var back model.Automation
	return json.Unmarshal(raw, &back)
}

func checkRequiredFields(in *input) error {
	a := in.auto
	if strings.TrimSpace(a.StableID) == "" {
		return fmt.Errorf("missing stable id")
	}
	if strings.TrimSpace(a.Alias) == "" {
		return fmt.Errorf("missing alias")
	}
	if len(a.Triggers) == 0 {
		return fmt.Errorf("no triggers")
	}
	for _, t := range a.Triggers {
		if t.Type() == "" {
			return fmt.Errorf("trigger has no type key")
		}
	}
	serviceCalls := 0
	for _, act := range a.Actions {
		if act.Service != "" {
			serviceCalls++
		}
	}
	if serviceCalls == 0 {
		return fmt.Errorf("no service actions")
	}
	if a.Mode == "" {
		return fmt.Errorf("missing mode")
	}
	return nil
}

// checkStateLiterals rejects native booleans anywhere a string state
// is expected. The platform compares states as strings; a native true
// silently never matches "on".
func checkStateLiterals(in *input) error {
	for _, act := range in.auto.Actions {
		for k, v := range act.Data {
			if _, isBool := v.(bool); isBool {
				return fmt.Errorf("action data %q is a native boolean", k)
			}
		}
	}
	for _, c := range in.auto.Conditions {
		if c.Condition == "state" && c.State == "" {
			return fmt.Errorf("state condition on %s has empty state", c.EntityID)
		}
	}
	return nil
}

func checkEntityExists(in *input) error {
	if in.snap == nil || in.snap.Len() == 0 {
		return nil
	}
	for _, t := range in.auto.Triggers {
		if t.EntityID != "" && !in.snap.Exists(t.EntityID) {
			return fmt.Errorf("trigger entity %s unknown", t.EntityID)
		}
	}
	for _, c := range in.auto.Conditions {
		if c.EntityID != "" && !in.snap.Exists(c.EntityID) {
			return fmt.Errorf("condition entity %s unknown", c.EntityID)
		}
	}
	for _, a := range in.auto.Actions {
		for _, e := range a.Target.EntityID {
			if !in.snap.Exists(e) {
				return fmt.Errorf("target entity %s unknown", e)
			}
		}
		if a.Target.AreaID != "" && len(in.snap.EntitiesInArea(a.Target.AreaID)) == 0 {
			return fmt.Errorf("target area %s unknown", a.Target.AreaID)
		}
	}
	return nil
}

var knownServiceSuffixes = map[string]struct{}{
	"turn_on": {}, "turn_off": {}, "toggle": {},
	"lock": {}, "unlock": {},
	"open_cover": {}, "close_cover": {}, "set_cover_position": {},
	"send_message": {}, "set_temperature": {}, "set_hvac_mode": {},
	"select_option": {}, "set_value": {}, "press": {},
}

func checkServiceKnown(in *input) error {
	for _, a := range in.auto.Actions {
		if a.Service == "" {
			continue
		}
		domain, name, ok := strings.Cut(a.Service, ".")
		if !ok || domain == "" || name == "" {
			return fmt.Errorf("malformed service %q", a.Service)
		}
		if domain == "script" || domain == "scene" {
			continue
		}
		if _, known := knownServiceSuffixes[name]; !known {
			return fmt.Errorf("unrecognized service %q", a.Service)
		}
	}
	return nil
}

// checkSelfLoop rejects artifacts whose actions drive the trigger
// entity back toward its triggering state. Deployed, such an artifact
// re-fires itself forever.
func checkSelfLoop(in *input) error {
	triggered := make(map[string]struct{})
	for _, t := range in.auto.Triggers {
		if t.EntityID != "" {
			triggered[t.EntityID] = struct{}{}
		}
	}
	for _, a := range in.auto.Actions {
		for _, e := range a.Target.EntityID {
			if _, hit := triggered[e]; hit {
				return fmt.Errorf("action targets trigger entity %s", e)
			}
		}
		if a.Target.AreaID != "" && in.snap != nil {
			for _, e := range in.snap.EntitiesInArea(a.Target.AreaID) {
				if _, hit := triggered[e]; hit {
					return fmt.Errorf("area action covers trigger entity %s", e)
				}
			}
		}
	}
	return nil
}

func checkIDCollision(in *input) error {
	if in.knownIDs == nil {
		return nil
	}
	if _, taken := in.knownIDs[in.auto.StableID]; taken {
		return fmt.Errorf("stable id %s already in use", in.auto.StableID)
	}
	return nil
}

// checkModeShape verifies the execution mode matches the action shape:
// delay-bearing sequences must restart so a re-trigger cancels the
// pending wait, and notification sequences must queue so none are
// silently dropped.
func checkModeShape(in *input) error {
	hasDelay := false
	hasNotify := false
	for _, a := range in.auto.Actions {
		if a.Delay != "" {
			hasDelay = true
		}
		if strings.HasPrefix(a.Service, "notify.") {
			hasNotify = true
		}
	}
	switch {
	case hasDelay && in.auto.Mode != model.ModeRestart:
		return fmt.Errorf("delay-bearing artifact must use restart mode")
	case !hasDelay && hasNotify && in.auto.Mode != model.ModeQueued:
		return fmt.Errorf("notification artifact must use queued mode")
	}
	return nil
}

func touchesRestrictedDomain(auto *model.Automation) bool {
	for _, a := range auto.Actions {
		if a.Service == "" {
			continue
		}
		domain, _, _ := strings.Cut(a.Service, ".")
		if _, restricted := restrictedDomains[domain]; restricted {
			return true
		}
	}
	return false
}
