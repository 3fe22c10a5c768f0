package shadow

import (
	"strings"
	"testing"

	"routined/internal/model"
)

func candidate(targets ...string) model.Automation {
	return model.Automation{
		StableID: "cand-1",
		Alias:    "Hall: hall motion controls hall",
		Triggers: []model.Trigger{{
			Platform: "state", Trigger: "state",
			EntityID: "binary_sensor.hall_motion", To: "on",
		}},
		Actions: []model.Action{{
			Service: "light.turn_on",
			Target:  model.Target{EntityID: targets},
		}},
		Mode:       model.ModeSingle,
		Provenance: model.Provenance{Confidence: 0.8},
	}
}

func existingAutomation(id string, enabled bool, targets ...string) model.ExistingAutomation {
	return model.ExistingAutomation{
		ID:      id,
		Alias:   "existing " + id,
		Enabled: enabled,
		Triggers: []model.Trigger{{
			Trigger: "state", EntityID: "binary_sensor.hall_motion", To: "on",
		}},
		Actions: []model.Action{{
			Service: "light.turn_on",
			Target:  model.Target{EntityID: targets},
		}},
		TriggerEntities: []string{"binary_sensor.hall_motion"},
		TargetEntities:  targets,
		Areas:           []string{"hall"},
	}
}

func TestExactMatchIsDuplicate(t *testing.T) {
	res := New().Compare(candidate("light.hall"), "hall",
		[]model.ExistingAutomation{existingAutomation("ex-1", true, "light.hall")})
	if res.Status != model.ShadowDuplicate {
		t.Fatalf("expected duplicate, got %s (%s)", res.Status, res.Justification)
	}
	if res.Similarity != 1 {
		t.Fatalf("exact match similarity must be 1, got %f", res.Similarity)
	}
	if res.ExistingID != "ex-1" {
		t.Fatalf("duplicate must name the matched automation")
	}
}

func TestSupersetIsDuplicateWithCoverageNote(t *testing.T) {
	res := New().Compare(candidate("light.hall", "light.hall_spot"), "hall",
		[]model.ExistingAutomation{existingAutomation("ex-1", true, "light.hall")})
	if res.Status != model.ShadowDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Status)
	}
	if !strings.HasPrefix(res.Justification, "expands") {
		t.Fatalf("superset must carry the coverage note, got %q", res.Justification)
	}
}

func TestSubsetIsDuplicate(t *testing.T) {
	res := New().Compare(candidate("light.hall"), "hall",
		[]model.ExistingAutomation{existingAutomation("ex-1", true, "light.hall", "light.hall_spot")})
	if res.Status != model.ShadowDuplicate {
		t.Fatalf("expected duplicate for narrower candidate, got %s", res.Status)
	}
}

func TestOppositeActionIsConflict(t *testing.T) {
	ex := existingAutomation("ex-1", true, "light.hall")
	ex.Actions[0].Service = "light.turn_off"
	ex.TargetEntities = []string{"light.desk"}
	res := New().Compare(candidate("light.hall"), "hall", []model.ExistingAutomation{ex})
	if res.Status != model.ShadowConflict {
		t.Fatalf("expected conflict, got %s (%s)", res.Status, res.Justification)
	}
}

func TestLargeParameterDeltaIsConflict(t *testing.T) {
	cand := candidate("light.hall")
	cand.Actions[0].Data = map[string]any{"brightness": 250}
	ex := existingAutomation("ex-1", true, "light.hall")
	ex.TargetEntities = []string{"light.desk"}
	ex.Actions[0].Data = map[string]any{"brightness": 100}
	res := New().Compare(cand, "hall", []model.ExistingAutomation{ex})
	if res.Status != model.ShadowConflict {
		t.Fatalf("expected conflict for 60%% brightness delta, got %s", res.Status)
	}
}

func TestSmallParameterDeltaIsNotConflict(t *testing.T) {
	cand := candidate("light.hall")
	cand.Actions[0].Data = map[string]any{"brightness": 100}
	ex := existingAutomation("ex-1", true, "light.hall")
	ex.TargetEntities = []string{"light.desk"}
	ex.Actions[0].Data = map[string]any{"brightness": 90}
	res := New().Compare(cand, "hall", []model.ExistingAutomation{ex})
	if res.Status == model.ShadowConflict {
		t.Fatalf("10%% delta must not conflict")
	}
}

func TestSiblingAreaIsGapFillWithBoost(t *testing.T) {
	ex := existingAutomation("ex-1", true, "light.bedroom")
	ex.Triggers[0].EntityID = "binary_sensor.bedroom_motion"
	ex.TriggerEntities = []string{"binary_sensor.bedroom_motion"}
	ex.Areas = []string{"bedroom"}
	res := New().Compare(candidate("light.hall"), "hall", []model.ExistingAutomation{ex})
	if res.Status != model.ShadowGapFill {
		t.Fatalf("expected gap_fill, got %s (%s)", res.Status, res.Justification)
	}
	if !res.BoostApplied {
		t.Fatalf("gap_fill must apply the confidence boost")
	}
}

func TestDisabledAutomationSuperseded(t *testing.T) {
	ex := existingAutomation("ex-1", false, "light.hall")
	ex.Areas = nil
	res := New().Compare(candidate("light.hall"), "hall", []model.ExistingAutomation{ex})
	if res.Status != model.ShadowNew {
		t.Fatalf("disabled automation must never be a duplicate, got %s", res.Status)
	}
	if res.ExistingID != "ex-1" {
		t.Fatalf("supersede note must name the disabled automation, got %+v", res)
	}
}

func TestNoExistingIsNew(t *testing.T) {
	res := New().Compare(candidate("light.hall"), "hall", nil)
	if res.Status != model.ShadowNew {
		t.Fatalf("empty existing set must classify new, got %s", res.Status)
	}
}
