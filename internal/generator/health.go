package generator

import (
	"sync"
	"time"

	"routined/internal/model"
)

// StageTracker keeps the last run summary per pipeline stage.
type StageTracker struct {
	mu     sync.RWMutex
	stages map[string]model.StageHealth
	order  []string
}

func NewStageTracker() *StageTracker {
	return &StageTracker{stages: make(map[string]model.StageHealth)}
}

func (t *StageTracker) Record(stage string, start time.Time, items int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, known := t.stages[stage]
	if !known {
		t.order = append(t.order, stage)
	}
	h.Stage = stage
	h.LastRun = start.UTC()
	h.Items = items
	h.Duration = time.Since(start)
	h.Status = "ok"
	h.LastError = ""
	if err != nil {
		h.Status = "error"
		h.LastError = err.Error()
	}
	t.stages[stage] = h
}

// RecordSkip counts an invocation that found the stage still running.
func (t *StageTracker) RecordSkip(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, known := t.stages[stage]
	if !known {
		t.order = append(t.order, stage)
		h.Stage = stage
	}
	h.Skipped++
	t.stages[stage] = h
}

func (t *StageTracker) All() []model.StageHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.StageHealth, 0, len(t.order))
	for _, stage := range t.order {
		out = append(out, t.stages[stage])
	}
	return out
}
