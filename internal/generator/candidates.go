package generator

import (
	"sync"

	"routined/internal/model"
)

// CandidateLog is a bounded in-memory history of surfaced candidates,
// newest last. The dashboard reads it; the persistent store is the
// durable copy.
type CandidateLog struct {
	mu    sync.RWMutex
	buf   []model.RankedCandidate
	limit int
}

func NewCandidateLog(limit int) *CandidateLog {
	if limit <= 0 {
		limit = 500
	}
	return &CandidateLog{limit: limit}
}

func (l *CandidateLog) Add(c model.RankedCandidate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.limit {
		l.buf = append(l.buf, c)
		return
	}
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = c
}

func (l *CandidateLog) List(limit int) []model.RankedCandidate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	out := make([]model.RankedCandidate, 0, limit)
	for i := len(l.buf) - limit; i < len(l.buf); i++ {
		out = append(out, l.buf[i])
	}
	return out
}
