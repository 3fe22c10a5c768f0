package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"routined/internal/cache"
	"routined/internal/config"
	"routined/internal/model"
)

// Pipeline is the generator's face toward the API.
type Pipeline interface {
	StageHealth() []model.StageHealth
	Candidates(limit int) []model.RankedCandidate
	RunOnce(ctx context.Context, source model.DetectionSource) bool
}

// SyncState exposes the syncer's last-run view.
type SyncState interface {
	Status() (time.Time, error)
	Existing() []model.ExistingAutomation
}

type Server struct {
	cfg      *config.Manager
	pipeline Pipeline
	syncer   SyncState
	cache    *cache.Cache
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status    string    `json:"status"`
	Time      string    `json:"time"`
	Version   string    `json:"version"`
	LastSync  time.Time `json:"last_sync"`
	SyncError string    `json:"sync_error,omitempty"`
	Existing  int       `json:"existing_automations"`
}

type feedbackRequest struct {
	Signature string `json:"signature"`
	Accepted  bool   `json:"accepted"`
}

func Start(ctx context.Context, cfg *config.Manager, pipeline Pipeline, sync SyncState, c *cache.Cache, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		logger.Info("api disabled")
		return nil
	}
	logger.Info("api enabled", "addr", current.Addr)
	server := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		syncer:   sync,
		cache:    c,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/health", server.handleStageHealth)
	mux.HandleFunc("/candidates", server.handleCandidates)
	mux.HandleFunc("/feedback", server.handleFeedback)
	mux.HandleFunc("/admin/run", server.handleRun)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		Status:  "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Version: s.version,
	}
	if s.syncer != nil {
		last, err := s.syncer.Status()
		resp.LastSync = last
		if err != nil {
			resp.SyncError = err.Error()
		}
		resp.Existing = len(s.syncer.Existing())
	}
	writeJSON(w, resp)
}

func (s *Server) handleStageHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.pipeline.StageHealth())
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	candidates := s.pipeline.Candidates(limit)
	if candidates == nil {
		candidates = []model.RankedCandidate{}
	}
	writeJSON(w, candidates)
}

// handleFeedback records a human accept/reject verdict. Rejections
// feed straight back into scoring as the per-signature penalty.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Signature == "" {
		http.Error(w, "signature required", http.StatusBadRequest)
		return
	}
	// Answering 200 with no store behind it would let rejections
	// vanish while the operator believes the penalty is learning.
	if s.cache == nil {
		http.Error(w, "feedback store disabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.cache.RecordFeedback(r.Context(), req.Signature, req.Accepted); err != nil {
		s.logger.Error("feedback record failed", "err", err)
		http.Error(w, "feedback store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.logger.Info("feedback recorded", "signature", req.Signature, "accepted", req.Accepted)
	writeJSON(w, map[string]string{"status": "recorded"})
}

// handleRun triggers a single stage run, honoring the same single
// flight guard as the timers.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	source := model.DetectionSource(r.URL.Query().Get("stage"))
	if source != model.SourcePattern && source != model.SourceGap {
		http.Error(w, "stage must be pattern or gap", http.StatusBadRequest)
		return
	}
	if !s.pipeline.RunOnce(r.Context(), source) {
		writeJSON(w, map[string]string{"status": "skipped"})
		return
	}
	writeJSON(w, map[string]string{"status": "completed"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
