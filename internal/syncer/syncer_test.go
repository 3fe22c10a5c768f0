package syncer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"routined/internal/config"
	"routined/internal/graph"
)

func syncTestConfig(url string) *config.Manager {
	cfg := config.DefaultConfig()
	cfg.Sync.BaseURL = url
	cfg.Sync.Timeout = 2 * time.Second
	cfg.Sync.RetryAttempts = 3
	cfg.Sync.RetryBackoff = 10 * time.Millisecond
	return config.NewStaticManager(cfg)
}

func syncTestResolver() *graph.Resolver {
	r := graph.NewResolver()
	r.Update([]graph.Entity{
		{ID: "binary_sensor.hall_motion", Area: "hall"},
		{ID: "light.hall", Area: "hall"},
		{ID: "light.hall_spot", Area: "hall"},
	})
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Both key spellings must normalize into the same comparable shape.
func TestNormalizeFoldsSingularAndPluralKeys(t *testing.T) {
	payloads := []string{
		`[{"id":"a1","alias":"hall","enabled":true,
		   "triggers":[{"platform":"state","entity_id":"binary_sensor.hall_motion","to":"on"}],
		   "actions":[{"service":"light.turn_on","target":{"entity_id":["light.hall"]}}]}]`,
		`[{"id":"a1","alias":"hall","enabled":true,
		   "trigger":[{"trigger":"state","entity_id":"binary_sensor.hall_motion","to":"on"}],
		   "action":[{"service":"light.turn_on","target":{"entity_id":["light.hall"]}}]}]`,
	}
	for _, payload := range payloads {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))
		s, err := New(syncTestConfig(srv.URL), syncTestResolver(), quietLogger())
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := s.Sync(context.Background()); err != nil {
			t.Fatalf("sync: %v", err)
		}
		srv.Close()

		existing := s.Existing()
		if len(existing) != 1 {
			t.Fatalf("expected one automation, got %d", len(existing))
		}
		ex := existing[0]
		if len(ex.Triggers) != 1 {
			t.Fatalf("expected one trigger, got %d", len(ex.Triggers))
		}
		if ex.Triggers[0].Platform != "state" || ex.Triggers[0].Trigger != "state" {
			t.Fatalf("both type keys must be populated after normalization: %+v", ex.Triggers[0])
		}
		if len(ex.TriggerEntities) != 1 || ex.TriggerEntities[0] != "binary_sensor.hall_motion" {
			t.Fatalf("trigger entities not resolved: %v", ex.TriggerEntities)
		}
		if len(ex.TargetEntities) != 1 || ex.TargetEntities[0] != "light.hall" {
			t.Fatalf("target entities not resolved: %v", ex.TargetEntities)
		}
		if len(ex.Areas) != 1 || ex.Areas[0] != "hall" {
			t.Fatalf("areas not resolved: %v", ex.Areas)
		}
	}
}

func TestUnchangedHashSkipsRenormalization(t *testing.T) {
	payload := `[{"id":"a1","alias":"hall","enabled":true,
		"triggers":[{"platform":"state","entity_id":"binary_sensor.hall_motion","to":"on"}],
		"actions":[{"service":"light.turn_on","target":{"entity_id":["light.hall"]}}]}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	s, err := New(syncTestConfig(srv.URL), syncTestResolver(), quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	first := s.Existing()[0].FetchedAt

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	second := s.Existing()[0]
	if second.FetchedAt.Before(first) {
		t.Fatalf("fetch time must advance on reuse")
	}
	if second.Hash == "" || len(second.TargetEntities) != 1 {
		t.Fatalf("reused entry lost its normalized form: %+v", second)
	}
}

func TestCoverageTracksOnlyEnabledAutomations(t *testing.T) {
	payload := `[
	  {"id":"a1","alias":"on","enabled":true,
	   "triggers":[{"platform":"state","entity_id":"binary_sensor.hall_motion"}],
	   "actions":[{"service":"light.turn_on","target":{"entity_id":["light.hall"]}}]},
	  {"id":"a2","alias":"off","enabled":false,
	   "triggers":[{"platform":"state","entity_id":"binary_sensor.hall_motion"}],
	   "actions":[{"service":"light.turn_on","target":{"entity_id":["light.hall_spot"]}}]}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	s, err := New(syncTestConfig(srv.URL), syncTestResolver(), quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !s.Covers("light.hall") {
		t.Fatalf("enabled automation target must be covered")
	}
	if s.Covers("light.hall_spot") {
		t.Fatalf("disabled automation target must not be covered")
	}
}

func TestTransientFailureRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]rawAutomation{})
	}))
	defer srv.Close()

	s, err := New(syncTestConfig(srv.URL), syncTestResolver(), quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("sync should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := New(syncTestConfig(srv.URL), syncTestResolver(), quietLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Sync(context.Background()); err == nil {
		t.Fatalf("expected error on 401")
	}
	if calls.Load() != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", calls.Load())
	}
}
