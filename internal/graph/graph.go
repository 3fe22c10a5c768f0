package graph

import (
	"strings"
	"sync/atomic"
)

// Entity is one node of the resolution graph.
type Entity struct {
	ID     string `json:"entity_id"`
	Domain string `json:"domain"`
	Device string `json:"device,omitempty"`
	Area   string `json:"area,omitempty"`
}

// Snapshot is an immutable entity→device→area resolution view. It is
// rebuilt wholesale on a cache-update notification and swapped in with
// an atomic pointer, so readers across stages never see a half-built
// structure.
type Snapshot struct {
	entities map[string]Entity
	byArea   map[string][]string
	areas    []string
}

func NewSnapshot(entities []Entity) *Snapshot {
	s := &Snapshot{
		entities: make(map[string]Entity, len(entities)),
		byArea:   make(map[string][]string),
	}
	for _, e := range entities {
		if e.Domain == "" {
			if i := strings.IndexByte(e.ID, '.'); i > 0 {
				e.Domain = e.ID[:i]
			}
		}
		s.entities[e.ID] = e
		if e.Area != "" {
			if _, seen := s.byArea[e.Area]; !seen {
				s.areas = append(s.areas, e.Area)
			}
			s.byArea[e.Area] = append(s.byArea[e.Area], e.ID)
		}
	}
	return s
}

func (s *Snapshot) Lookup(entityID string) (Entity, bool) {
	e, ok := s.entities[entityID]
	return e, ok
}

func (s *Snapshot) Exists(entityID string) bool {
	_, ok := s.entities[entityID]
	return ok
}

func (s *Snapshot) Area(entityID string) string {
	return s.entities[entityID].Area
}

func (s *Snapshot) EntitiesInArea(area string) []string {
	return s.byArea[area]
}

func (s *Snapshot) Areas() []string {
	return s.areas
}

func (s *Snapshot) Len() int {
	return len(s.entities)
}

// Resolver hands out the current snapshot. Update replaces it whole.
type Resolver struct {
	current atomic.Pointer[Snapshot]
}

func NewResolver() *Resolver {
	r := &Resolver{}
	r.current.Store(NewSnapshot(nil))
	return r
}

func (r *Resolver) Snapshot() *Snapshot {
	return r.current.Load()
}

func (r *Resolver) Update(entities []Entity) {
	r.current.Store(NewSnapshot(entities))
}

// Merge folds entities into the current snapshot and swaps in the
// rebuilt view. Both the syncer's registry fetch and the event stream
// feed the graph; merging keeps either writer from discarding the
// other's entities.
func (r *Resolver) Merge(entities []Entity) {
	for {
		old := r.current.Load()
		merged := make([]Entity, 0, len(old.entities)+len(entities))
		seen := make(map[string]struct{}, len(entities))
		for _, e := range entities {
			seen[e.ID] = struct{}{}
			merged = append(merged, e)
		}
		for id, e := range old.entities {
			if _, replaced := seen[id]; !replaced {
				merged = append(merged, e)
			}
		}
		next := NewSnapshot(merged)
		if r.current.CompareAndSwap(old, next) {
			return
		}
	}
}
