package validate

import (
	"testing"

	"routined/internal/graph"
	"routined/internal/model"
)

func validAutomation() model.Automation {
	return model.Automation{
		StableID: "cand-1",
		Alias:    "Hall: hall motion controls hall",
		Triggers: []model.Trigger{{
			Platform: "state", Trigger: "state",
			EntityID: "binary_sensor.hall_motion", To: "on",
		}},
		Actions: []model.Action{{
			Service: "light.turn_on",
			Target:  model.Target{EntityID: []string{"light.hall"}},
		}},
		Mode: model.ModeSingle,
	}
}

func validationSnapshot() *graph.Snapshot {
	return graph.NewSnapshot([]graph.Entity{
		{ID: "binary_sensor.hall_motion", Area: "hall"},
		{ID: "light.hall", Area: "hall"},
	})
}

func TestValidAutomationPasses(t *testing.T) {
	res := New().Validate(validAutomation(), validationSnapshot(), nil)
	if !res.OK {
		t.Fatalf("expected clean pass, failures: %v", res.Failures)
	}
	if res.NeedsApproval {
		t.Fatalf("lighting artifact should not need approval")
	}
}

func TestAllFailingChecksReported(t *testing.T) {
	auto := validAutomation()
	auto.Alias = ""
	auto.Actions[0].Target.EntityID = []string{"light.missing"}
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK {
		t.Fatalf("expected rejection")
	}
	if !hasFailure(res, "required_fields") || !hasFailure(res, "entity_exists") {
		t.Fatalf("both failing checks must be named, got %v", res.Failures)
	}
}

func TestNativeBooleanInDataRejected(t *testing.T) {
	auto := validAutomation()
	auto.Actions[0].Data = map[string]any{"flash": true}
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK || !hasFailure(res, "state_literals") {
		t.Fatalf("native boolean must fail state_literals, got %v", res.Failures)
	}

	auto.Actions[0].Data = map[string]any{"flash": "true"}
	if res := New().Validate(auto, validationSnapshot(), nil); !res.OK {
		t.Fatalf("quoted boolean must pass, failures: %v", res.Failures)
	}
}

func TestSelfLoopRejected(t *testing.T) {
	auto := validAutomation()
	auto.Triggers[0].EntityID = "light.hall"
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK || !hasFailure(res, "self_loop") {
		t.Fatalf("action targeting its own trigger must fail self_loop, got %v", res.Failures)
	}
}

func TestAreaSelfLoopRejected(t *testing.T) {
	auto := validAutomation()
	auto.Triggers[0].EntityID = "light.hall"
	auto.Actions[0].Target = model.Target{AreaID: "hall"}
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK || !hasFailure(res, "self_loop") {
		t.Fatalf("area target covering the trigger entity must fail self_loop, got %v", res.Failures)
	}
}

func TestIDCollisionRejected(t *testing.T) {
	known := map[string]struct{}{"cand-1": {}}
	res := New().Validate(validAutomation(), validationSnapshot(), known)
	if res.OK || !hasFailure(res, "id_collision") {
		t.Fatalf("duplicate stable id must fail id_collision, got %v", res.Failures)
	}
}

func TestUnknownServiceRejected(t *testing.T) {
	auto := validAutomation()
	auto.Actions[0].Service = "light.blink_forever"
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK || !hasFailure(res, "service_known") {
		t.Fatalf("unrecognized service must fail service_known, got %v", res.Failures)
	}
}

func TestModeShapeMismatchRejected(t *testing.T) {
	auto := validAutomation()
	auto.Actions = append([]model.Action{{Delay: "00:02:00"}}, auto.Actions...)
	res := New().Validate(auto, validationSnapshot(), nil)
	if res.OK || !hasFailure(res, "mode_shape") {
		t.Fatalf("delay with single mode must fail mode_shape, got %v", res.Failures)
	}

	auto.Mode = model.ModeRestart
	if res := New().Validate(auto, validationSnapshot(), nil); !res.OK {
		t.Fatalf("restart mode with delay must pass, failures: %v", res.Failures)
	}
}

func TestRestrictedDomainNeedsApproval(t *testing.T) {
	auto := validAutomation()
	auto.Actions[0].Service = "lock.lock"
	auto.Actions[0].Target.EntityID = []string{"light.hall"}
	res := New().Validate(auto, validationSnapshot(), nil)
	if !res.NeedsApproval {
		t.Fatalf("lock action must be flagged for approval")
	}
}

func TestMissingSnapshotSkipsExistence(t *testing.T) {
	auto := validAutomation()
	auto.Actions[0].Target.EntityID = []string{"light.unknown"}
	res := New().Validate(auto, nil, nil)
	if hasFailure(res, "entity_exists") {
		t.Fatalf("existence check must be skipped without a snapshot")
	}
}

func hasFailure(res Result, name string) bool {
	for _, f := range res.Failures {
		if f == name {
			return true
		}
	}
	return false
}
