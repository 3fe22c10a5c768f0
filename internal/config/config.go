package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Calendar CalendarConfig `json:"calendar" yaml:"calendar"`
	Health   HealthConfig   `json:"health" yaml:"health"`
	Filter   FilterConfig   `json:"filter" yaml:"filter"`
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`
	Pattern  PatternConfig  `json:"pattern" yaml:"pattern"`
	Gap      GapConfig      `json:"gap" yaml:"gap"`
	Scoring  ScoringConfig  `json:"scoring" yaml:"scoring"`
	Template TemplateConfig `json:"template" yaml:"template"`
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	API      APIConfig      `json:"api" yaml:"api"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
}

type IngestConfig struct {
	ChannelBuffer int           `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration `json:"dedupe_window" yaml:"dedupe_window"`
	Kafka         KafkaConfig   `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type CalendarConfig struct {
	URL              string        `json:"url" yaml:"url"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	HolidayKeywords  []string      `json:"holiday_keywords" yaml:"holiday_keywords"`
	VacationKeywords []string      `json:"vacation_keywords" yaml:"vacation_keywords"`
	WFHKeywords      []string      `json:"wfh_keywords" yaml:"wfh_keywords"`
	MinHolidayDays   int           `json:"min_holiday_days" yaml:"min_holiday_days"`
}

type HealthConfig struct {
	FlakyBelowPct      float64 `json:"flaky_below_pct" yaml:"flaky_below_pct"`
	UnreliableBelowPct float64 `json:"unreliable_below_pct" yaml:"unreliable_below_pct"`
	FlakyPenalty       float64 `json:"flaky_penalty" yaml:"flaky_penalty"`
}

type FilterConfig struct {
	IgnoredStates   []string `json:"ignored_states" yaml:"ignored_states"`
	ExcludeEntities []string `json:"exclude_entities" yaml:"exclude_entities"`
	ExcludeAreas    []string `json:"exclude_areas" yaml:"exclude_areas"`
	ExcludeDomains  []string `json:"exclude_domains" yaml:"exclude_domains"`
	AllowDomains    []string `json:"allow_domains" yaml:"allow_domains"`
	ExcludeGlobs    []string `json:"exclude_globs" yaml:"exclude_globs"`
}

type AnalysisConfig struct {
	WindowDays           int           `json:"window_days" yaml:"window_days"`
	CoOccurrenceWindow   time.Duration `json:"co_occurrence_window" yaml:"co_occurrence_window"`
	CoOccurrenceMinCount int           `json:"co_occurrence_min_count" yaml:"co_occurrence_min_count"`
	SpreadCeiling        time.Duration `json:"spread_ceiling" yaml:"spread_ceiling"`
	CorrelationThreshold float64       `json:"correlation_threshold" yaml:"correlation_threshold"`
	PairingTolerance     time.Duration `json:"pairing_tolerance" yaml:"pairing_tolerance"`
	PresenceShare        float64       `json:"presence_share" yaml:"presence_share"`
}

type PatternConfig struct {
	Interval          time.Duration `json:"interval" yaml:"interval"`
	SequenceWindow    time.Duration `json:"sequence_window" yaml:"sequence_window"`
	MinSupport        float64       `json:"min_support" yaml:"min_support"`
	MinOccurrences    int           `json:"min_occurrences" yaml:"min_occurrences"`
	ClusterEpsilon    float64       `json:"cluster_epsilon" yaml:"cluster_epsilon"`
	MaxAreas          int           `json:"max_areas" yaml:"max_areas"`
	MaxEvents         int           `json:"max_events" yaml:"max_events"`
	ConfidenceFloor   float64       `json:"confidence_floor" yaml:"confidence_floor"`
	ConfidenceCeiling float64       `json:"confidence_ceiling" yaml:"confidence_ceiling"`
}

type GapConfig struct {
	Interval       time.Duration `json:"interval" yaml:"interval"`
	SequenceWindow time.Duration `json:"sequence_window" yaml:"sequence_window"`
	MinLength      int           `json:"min_length" yaml:"min_length"`
	MaxLength      int           `json:"max_length" yaml:"max_length"`
	MinOccurrences int           `json:"min_occurrences" yaml:"min_occurrences"`
	MinConsistency float64       `json:"min_consistency" yaml:"min_consistency"`
}

type ScoringConfig struct {
	ConfidenceWeight float64 `json:"confidence_weight" yaml:"confidence_weight"`
	SupportWeight    float64 `json:"support_weight" yaml:"support_weight"`
	RecencyWeight    float64 `json:"recency_weight" yaml:"recency_weight"`
	RecencyDays      int     `json:"recency_days" yaml:"recency_days"`
	MinScore         float64 `json:"min_score" yaml:"min_score"`
	MinObservations  int     `json:"min_observations" yaml:"min_observations"`
	RejectionPenalty float64 `json:"rejection_penalty" yaml:"rejection_penalty"`
	RejectionLimit   int     `json:"rejection_limit" yaml:"rejection_limit"`
	TopN             int     `json:"top_n" yaml:"top_n"`
}

type TemplateConfig struct {
	Debounce          time.Duration `json:"debounce" yaml:"debounce"`
	TimeWindowShare   float64       `json:"time_window_share" yaml:"time_window_share"`
	TimeWindowSpan    time.Duration `json:"time_window_span" yaml:"time_window_span"`
	QuietHoursStart   string        `json:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd     string        `json:"quiet_hours_end" yaml:"quiet_hours_end"`
	PresenceEntity    string        `json:"presence_entity" yaml:"presence_entity"`
	IlluminanceEntity string        `json:"illuminance_entity" yaml:"illuminance_entity"`
	AttributeShare    float64       `json:"attribute_share" yaml:"attribute_share"`
}

type SyncConfig struct {
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	Token         string        `json:"token" yaml:"token"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	HashCacheSize int           `json:"hash_cache_size" yaml:"hash_cache_size"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

type CacheConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			DedupeWindow:  1 * time.Second,
			Kafka:         KafkaConfig{Enabled: false},
		},
		Calendar: CalendarConfig{
			Timeout:          10 * time.Second,
			HolidayKeywords:  []string{"holiday", "public holiday", "bank holiday"},
			VacationKeywords: []string{"vacation", "trip", "travel", "away"},
			WFHKeywords:      []string{"wfh", "work from home", "home office", "remote"},
			MinHolidayDays:   10,
		},
		Health: HealthConfig{
			FlakyBelowPct:      0.97,
			UnreliableBelowPct: 0.90,
			FlakyPenalty:       0.8,
		},
		Filter: FilterConfig{
			IgnoredStates: []string{"unavailable", "unknown"},
		},
		Analysis: AnalysisConfig{
			WindowDays:           30,
			CoOccurrenceWindow:   5 * time.Minute,
			CoOccurrenceMinCount: 5,
			SpreadCeiling:        90 * time.Minute,
			CorrelationThreshold: 0.7,
			PairingTolerance:     10 * time.Minute,
			PresenceShare:        0.9,
		},
		Pattern: PatternConfig{
			Interval:          2 * time.Hour,
			SequenceWindow:    5 * time.Minute,
			MinSupport:        0.3,
			MinOccurrences:    5,
			ClusterEpsilon:    0.35,
			MaxAreas:          8,
			MaxEvents:         200000,
			ConfidenceFloor:   0.50,
			ConfidenceCeiling: 0.85,
		},
		Gap: GapConfig{
			Interval:       2 * time.Hour,
			SequenceWindow: 5 * time.Minute,
			MinLength:      2,
			MaxLength:      5,
			MinOccurrences: 5,
			MinConsistency: 0.5,
		},
		Scoring: ScoringConfig{
			ConfidenceWeight: 0.5,
			SupportWeight:    0.3,
			RecencyWeight:    0.2,
			RecencyDays:      14,
			MinScore:         0.45,
			MinObservations:  5,
			RejectionPenalty: 0.8,
			RejectionLimit:   3,
			TopN:             10,
		},
		Template: TemplateConfig{
			Debounce:        10 * time.Second,
			TimeWindowShare: 0.8,
			TimeWindowSpan:  2 * time.Hour,
			QuietHoursStart: "22:00",
			QuietHoursEnd:   "07:00",
			AttributeShare:  0.9,
		},
		Sync: SyncConfig{
			Interval:      30 * time.Minute,
			Timeout:       15 * time.Second,
			HashCacheSize: 1024,
			RetryAttempts: 3,
			RetryBackoff:  2 * time.Second,
		},
		Cache:   CacheConfig{Enabled: false, Addr: "localhost:6379", KeyPrefix: "routined", TTL: 24 * time.Hour},
		API:     APIConfig{Enabled: true, Addr: ":8091"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:routined.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if len(cfg.Filter.IgnoredStates) == 0 {
		cfg.Filter.IgnoredStates = []string{"unavailable", "unknown"}
	}
	if cfg.Calendar.Timeout <= 0 {
		cfg.Calendar.Timeout = 10 * time.Second
	}
	if cfg.Calendar.MinHolidayDays <= 0 {
		cfg.Calendar.MinHolidayDays = 10
	}
	if cfg.Analysis.WindowDays <= 0 {
		cfg.Analysis.WindowDays = 30
	}
	if cfg.Analysis.SpreadCeiling <= 0 {
		cfg.Analysis.SpreadCeiling = 90 * time.Minute
	}
	if cfg.Analysis.PairingTolerance <= 0 {
		cfg.Analysis.PairingTolerance = 10 * time.Minute
	}
	if cfg.Analysis.PresenceShare <= 0 {
		cfg.Analysis.PresenceShare = 0.9
	}
	if cfg.Pattern.Interval <= 0 {
		cfg.Pattern.Interval = 2 * time.Hour
	}
	if cfg.Pattern.MaxAreas <= 0 {
		cfg.Pattern.MaxAreas = 8
	}
	if cfg.Pattern.MaxEvents <= 0 {
		cfg.Pattern.MaxEvents = 200000
	}
	if cfg.Pattern.ConfidenceFloor <= 0 {
		cfg.Pattern.ConfidenceFloor = 0.50
	}
	if cfg.Pattern.ConfidenceCeiling <= 0 {
		cfg.Pattern.ConfidenceCeiling = 0.85
	}
	if cfg.Gap.MinLength < 2 {
		cfg.Gap.MinLength = 2
	}
	if cfg.Gap.MaxLength <= 0 || cfg.Gap.MaxLength > 5 {
		cfg.Gap.MaxLength = 5
	}
	if cfg.Scoring.RecencyDays <= 0 {
		cfg.Scoring.RecencyDays = 14
	}
	if cfg.Scoring.RejectionPenalty <= 0 || cfg.Scoring.RejectionPenalty >= 1 {
		cfg.Scoring.RejectionPenalty = 0.8
	}
	if cfg.Scoring.RejectionLimit <= 0 {
		cfg.Scoring.RejectionLimit = 3
	}
	if cfg.Scoring.TopN <= 0 {
		cfg.Scoring.TopN = 10
	}
	if cfg.Template.TimeWindowShare <= 0 {
		cfg.Template.TimeWindowShare = 0.8
	}
	if cfg.Template.AttributeShare <= 0 {
		cfg.Template.AttributeShare = 0.9
	}
	if cfg.Template.TimeWindowSpan <= 0 {
		cfg.Template.TimeWindowSpan = 2 * time.Hour
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = 30 * time.Minute
	}
	if cfg.Sync.Timeout <= 0 {
		cfg.Sync.Timeout = 15 * time.Second
	}
	if cfg.Sync.HashCacheSize <= 0 {
		cfg.Sync.HashCacheSize = 1024
	}
	if cfg.Sync.RetryAttempts <= 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryBackoff <= 0 {
		cfg.Sync.RetryBackoff = 2 * time.Second
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Cache.Enabled && cfg.Cache.Addr == "" {
		return errors.New("cache.addr required when cache.enabled is true")
	}
	if cfg.Health.UnreliableBelowPct > cfg.Health.FlakyBelowPct {
		return errors.New("health.unreliable_below_pct must not exceed health.flaky_below_pct")
	}
	if cfg.Gap.MinLength > cfg.Gap.MaxLength {
		return fmt.Errorf("gap.min_length %d exceeds gap.max_length %d", cfg.Gap.MinLength, cfg.Gap.MaxLength)
	}
	w := cfg.Scoring.ConfidenceWeight + cfg.Scoring.SupportWeight + cfg.Scoring.RecencyWeight
	if w <= 0 {
		return errors.New("scoring weights must sum to a positive value")
	}
	if cfg.Pattern.ConfidenceFloor > cfg.Pattern.ConfidenceCeiling {
		return errors.New("pattern.confidence_floor must not exceed pattern.confidence_ceiling")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a fixed config, used by tests and callers that
// have no config file on disk.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}
