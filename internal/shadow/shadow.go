package shadow

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"routined/internal/model"
)

// GapFillBoost is the multiplicative confidence boost a gap_fill
// classification grants: an adjacent area already runs the same kind
// of automation, so the behavior is an established household pattern.
const GapFillBoost = 1.15

// Comparator classifies candidates against the synced existing set.
// It annotates, never mutates: the candidate passed in is returned
// unchanged and the verdict rides in the ShadowResult.
type Comparator struct{}

func New() *Comparator {
	return &Comparator{}
}

// Compare classifies one candidate. area is the candidate's resolved
// area from the originating detection.
func (c *Comparator) Compare(cand model.Automation, area string, existing []model.ExistingAutomation) model.ShadowResult {
	candTrigger := candidateTriggerKey(&cand)
	candTargets := candidateTargets(&cand)

	best := model.ShadowResult{Status: model.ShadowNew, Justification: "no existing automation touches this trigger"}
	var superseded *model.ExistingAutomation

	for i := range existing {
		ex := &existing[i]
		if !sameTrigger(candTrigger, ex) {
			continue
		}
		if !ex.Enabled {
			// Disabled automations never count as duplicates.
			if superseded == nil {
				superseded = ex
			}
			continue
		}
		sim := jaccard(candTargets, toSet(ex.TargetEntities))
		switch {
		case setsEqual(candTargets, toSet(ex.TargetEntities)):
			return model.ShadowResult{
				Status:        model.ShadowDuplicate,
				Similarity:    1,
				ExistingID:    ex.ID,
				ExistingAlias: ex.Alias,
				Justification: fmt.Sprintf("identical trigger and targets as %q", ex.Alias),
			}
		case strictSuperset(candTargets, toSet(ex.TargetEntities)):
			best = betterOf(best, model.ShadowResult{
				Status:        model.ShadowDuplicate,
				Similarity:    sim,
				ExistingID:    ex.ID,
				ExistingAlias: ex.Alias,
				Justification: fmt.Sprintf("expands coverage of %q to additional targets", ex.Alias),
			})
		case strictSuperset(toSet(ex.TargetEntities), candTargets):
			best = betterOf(best, model.ShadowResult{
				Status:        model.ShadowDuplicate,
				Similarity:    sim,
				ExistingID:    ex.ID,
				ExistingAlias: ex.Alias,
				Justification: fmt.Sprintf("already covered by the broader %q", ex.Alias),
			})
		case conflictingActions(&cand, ex):
			best = betterOf(best, model.ShadowResult{
				Status:        model.ShadowConflict,
				Similarity:    sim,
				ExistingID:    ex.ID,
				ExistingAlias: ex.Alias,
				Justification: fmt.Sprintf("same trigger as %q with a materially different action", ex.Alias),
			})
		}
	}

	if best.Status == model.ShadowNew {
		if sibling := siblingAreaMatch(&cand, area, existing); sibling != nil {
			return model.ShadowResult{
				Status:        model.ShadowGapFill,
				Similarity:    0,
				ExistingID:    sibling.ID,
				ExistingAlias: sibling.Alias,
				Justification: fmt.Sprintf("no automation here, but %q runs the same routine in a sibling area", sibling.Alias),
				BoostApplied:  true,
			}
		}
		if superseded != nil {
			best.Justification = fmt.Sprintf("supersedes the disabled automation %q", superseded.Alias)
			best.ExistingID = superseded.ID
			best.ExistingAlias = superseded.Alias
		}
	}
	return best
}

// ExpandsCoverage reports whether a duplicate verdict is the
// coverage-expanding kind, which stays surfaced instead of being
// suppressed like an outright duplicate.
func ExpandsCoverage(r model.ShadowResult) bool {
	return r.Status == model.ShadowDuplicate && strings.HasPrefix(r.Justification, "expands")
}

// betterOf keeps the stronger verdict: an outright duplicate beats a
// conflict, and within a status the higher similarity wins.
func betterOf(a, b model.ShadowResult) model.ShadowResult {
	rank := func(s model.ShadowStatus) int {
		switch s {
		case model.ShadowDuplicate:
			return 3
		case model.ShadowConflict:
			return 2
		case model.ShadowGapFill:
			return 1
		default:
			return 0
		}
	}
	if rank(b.Status) > rank(a.Status) {
		return b
	}
	if rank(b.Status) == rank(a.Status) && b.Similarity > a.Similarity {
		return b
	}
	return a
}

type triggerKey struct {
	kind     string
	entities string
	to       string
}

func candidateTriggerKey(a *model.Automation) triggerKey {
	var entities []string
	var kind, to string
	for _, t := range a.Triggers {
		if t.EntityID != "" {
			entities = append(entities, t.EntityID)
		}
		kind = t.Type()
		to = t.To
	}
	sort.Strings(entities)
	return triggerKey{kind: kind, entities: strings.Join(entities, ","), to: to}
}

// sameTrigger matches on the entity set first; the type key only has
// to agree when both sides carry one, which keeps vocabulary drift
// between the singular and plural schema spellings from hiding a
// match.
func sameTrigger(key triggerKey, ex *model.ExistingAutomation) bool {
	entities := append([]string(nil), ex.TriggerEntities...)
	sort.Strings(entities)
	if strings.Join(entities, ",") != key.entities || key.entities == "" {
		return false
	}
	for _, t := range ex.Triggers {
		if t.Type() != "" && key.kind != "" && t.Type() != key.kind {
			return false
		}
	}
	return true
}

func candidateTargets(a *model.Automation) map[string]struct{} {
	out := make(map[string]struct{})
	for _, act := range a.Actions {
		for _, e := range act.Target.EntityID {
			out[e] = struct{}{}
		}
		if act.Target.AreaID != "" {
			out["area:"+act.Target.AreaID] = struct{}{}
		}
	}
	return out
}

// conflictingActions reports whether the two automations drive the
// same targets in opposite directions, or with numeric parameters that
// differ by more than twenty percent.
func conflictingActions(cand *model.Automation, ex *model.ExistingAutomation) bool {
	for _, ca := range cand.Actions {
		if ca.Service == "" {
			continue
		}
		for _, ea := range ex.Actions {
			if ea.Service == "" || !overlappingTargets(ca.Target, ea.Target) {
				continue
			}
			if oppositeService(ca.Service, ea.Service) {
				return true
			}
			if ca.Service == ea.Service && parameterDelta(ca.Data, ea.Data) > 0.2 {
				return true
			}
		}
	}
	return false
}

func overlappingTargets(a, b model.Target) bool {
	if a.AreaID != "" && a.AreaID == b.AreaID {
		return true
	}
	set := toSet(a.EntityID)
	for _, e := range b.EntityID {
		if _, hit := set[e]; hit {
			return true
		}
	}
	return false
}

var servicePoles = map[string]string{
	"turn_on": "turn_off", "turn_off": "turn_on",
	"lock": "unlock", "unlock": "lock",
	"open_cover": "close_cover", "close_cover": "open_cover",
}

func oppositeService(a, b string) bool {
	da, na, _ := strings.Cut(a, ".")
	db, nb, _ := strings.Cut(b, ".")
	return da == db && servicePoles[na] == nb && na != ""
}

// parameterDelta is the largest relative difference across numeric
// data values the two actions share.
func parameterDelta(a, b map[string]any) float64 {
	worst := 0.0
	for k, av := range a {
		bv, shared := b[k]
		if !shared {
			continue
		}
		af, aok := asFloat(av)
		bf, bok := asFloat(bv)
		if !aok || !bok {
			continue
		}
		base := math.Max(math.Abs(af), math.Abs(bf))
		if base == 0 {
			continue
		}
		if d := math.Abs(af-bf) / base; d > worst {
			worst = d
		}
	}
	return worst
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// siblingAreaMatch looks for an enabled existing automation that runs
// the same trigger domain and action services in a different area.
func siblingAreaMatch(cand *model.Automation, area string, existing []model.ExistingAutomation) *model.ExistingAutomation {
	if area == "" {
		return nil
	}
	candDomains := triggerDomains(cand.Triggers)
	candServices := serviceSet(cand.Actions)
	if len(candDomains) == 0 || len(candServices) == 0 {
		return nil
	}
	for i := range existing {
		ex := &existing[i]
		if !ex.Enabled || containsString(ex.Areas, area) {
			continue
		}
		if len(ex.Areas) == 0 {
			continue
		}
		exDomains := triggerDomains(ex.Triggers)
		exServices := serviceSet(ex.Actions)
		if setsEqual(candDomains, exDomains) && setsEqual(candServices, exServices) {
			return ex
		}
	}
	return nil
}

func triggerDomains(triggers []model.Trigger) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range triggers {
		if i := strings.IndexByte(t.EntityID, '.'); i > 0 {
			out[t.EntityID[:i]] = struct{}{}
		}
	}
	return out
}

func serviceSet(actions []model.Action) map[string]struct{} {
	out := make(map[string]struct{})
	for _, a := range actions {
		if a.Service != "" {
			out[a.Service] = struct{}{}
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, hit := b[k]; !hit {
			return false
		}
	}
	return true
}

func strictSuperset(a, b map[string]struct{}) bool {
	if len(a) <= len(b) || len(b) == 0 {
		return false
	}
	for k := range b {
		if _, hit := a[k]; !hit {
			return false
		}
	}
	return true
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, hit := b[k]; hit {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
