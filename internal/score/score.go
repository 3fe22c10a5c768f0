package score

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// FeedbackSource reports how many times a human has rejected
// suggestions sharing a trigger/area signature. The cache boundary
// implements it; tests use a fixed map.
type FeedbackSource interface {
	Rejections(signature string) int
}

// Scorer merges both engines' outputs into one ranked list. Scoring is
// idempotent: the combined score is a pure function of the detection
// and the feedback counters at scoring time.
type Scorer struct {
	cfg      config.ScoringConfig
	feedback FeedbackSource
	logger   *slog.Logger
}

func NewScorer(cfg config.ScoringConfig, feedback FeedbackSource, logger *slog.Logger) *Scorer {
	return &Scorer{cfg: cfg, feedback: feedback, logger: logger}
}

// Score ranks the merged detections as of now. Results below the score
// or observation floors are dropped; sources past the rejection limit
// are suppressed outright; output is truncated to the top N.
func (s *Scorer) Score(results []model.DetectionResult, now time.Time) []model.DetectionResult {
	out := make([]model.DetectionResult, 0, len(results))
	for _, r := range results {
		if r.Occurrences < s.cfg.MinObservations {
			continue
		}
		rejections := 0
		if s.feedback != nil {
			rejections = s.feedback.Rejections(r.Signature())
		}
		if rejections >= s.cfg.RejectionLimit {
			if s.logger != nil {
				s.logger.Info("detection suppressed by rejection history", "signature", r.Signature(), "rejections", rejections)
			}
			continue
		}

		r.RecencyWeight = recency(&r, now, s.cfg.RecencyDays)
		score := s.cfg.ConfidenceWeight*r.Confidence +
			s.cfg.SupportWeight*r.Consistency +
			s.cfg.RecencyWeight*r.RecencyWeight
		score *= math.Pow(s.cfg.RejectionPenalty, float64(rejections))
		if score < s.cfg.MinScore {
			continue
		}
		r.CombinedScore = score
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CombinedScore > out[j].CombinedScore })
	if s.cfg.TopN > 0 && len(out) > s.cfg.TopN {
		out = out[:s.cfg.TopN]
	}
	return out
}

// recency is the fraction of supporting observations inside the
// trailing window, capped at 1. Falls back to the engine-provided
// value when per-observation timestamps are absent.
func recency(r *model.DetectionResult, now time.Time, days int) float64 {
	if days <= 0 {
		days = 14
	}
	if len(r.Observations) == 0 || r.Occurrences == 0 {
		return math.Min(1, r.RecencyWeight)
	}
	cutoff := now.AddDate(0, 0, -days)
	recent := 0
	for _, ts := range r.Observations {
		if !ts.Before(cutoff) {
			recent++
		}
	}
	return math.Min(1, float64(recent)/float64(r.Occurrences))
}
