package graph

import "testing"

func TestSnapshotLookupAndAreas(t *testing.T) {
	snap := NewSnapshot([]Entity{
		{ID: "light.hall", Area: "hall", Device: "dev1"},
		{ID: "binary_sensor.hall_motion", Area: "hall"},
		{ID: "light.kitchen", Area: "kitchen"},
		{ID: "sun.sun"},
	})
	if !snap.Exists("light.hall") {
		t.Fatalf("light.hall should exist")
	}
	e, ok := snap.Lookup("light.hall")
	if !ok || e.Domain != "light" {
		t.Fatalf("domain not inferred from entity id: %+v", e)
	}
	if got := snap.Area("binary_sensor.hall_motion"); got != "hall" {
		t.Fatalf("area = %q, want hall", got)
	}
	if got := len(snap.EntitiesInArea("hall")); got != 2 {
		t.Fatalf("hall has %d entities, want 2", got)
	}
	if got := len(snap.Areas()); got != 2 {
		t.Fatalf("areas = %d, want 2 (area-less entity must not register)", got)
	}
}

func TestResolverMergeKeepsBothWriters(t *testing.T) {
	r := NewResolver()
	r.Merge([]Entity{{ID: "light.hall", Area: "hall"}})
	r.Merge([]Entity{{ID: "light.kitchen", Area: "kitchen"}})

	snap := r.Snapshot()
	if !snap.Exists("light.hall") || !snap.Exists("light.kitchen") {
		t.Fatalf("merge dropped an entity: len=%d", snap.Len())
	}

	// A later merge of the same id wins.
	r.Merge([]Entity{{ID: "light.hall", Area: "hallway"}})
	if got := r.Snapshot().Area("light.hall"); got != "hallway" {
		t.Fatalf("area = %q, want hallway", got)
	}
	if r.Snapshot().Len() != 2 {
		t.Fatalf("re-merge duplicated an entity")
	}
}

func TestResolverUpdateReplacesWhole(t *testing.T) {
	r := NewResolver()
	r.Merge([]Entity{{ID: "light.hall", Area: "hall"}})
	r.Update([]Entity{{ID: "light.kitchen", Area: "kitchen"}})
	snap := r.Snapshot()
	if snap.Exists("light.hall") {
		t.Fatalf("update should replace the snapshot wholesale")
	}
	if !snap.Exists("light.kitchen") {
		t.Fatalf("updated entity missing")
	}
}
