package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"routined/internal/config"
	"routined/internal/model"
)

// Store persists the raw event log and the candidate history. The
// event log is append-only; candidates are upserted by stable id and
// schema version so re-published candidates keep their identity across
// runs.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvents(ctx context.Context, events []model.RawEvent) error
	LoadEvents(ctx context.Context, since time.Time) ([]model.RawEvent, error)
	SaveCandidates(ctx context.Context, candidates []model.RankedCandidate) error
	LoadCandidates(ctx context.Context, limit int) ([]model.RankedCandidate, error)
	CandidateByHash(ctx context.Context, hash string) (string, bool, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// CandidateHash is the content hash over the behavioral parts of an
// artifact. Provenance timestamps are excluded so regenerating the
// same suggestion produces the same hash.
func CandidateHash(a model.Automation) string {
	payload := struct {
		Triggers   []model.Trigger     `json:"triggers"`
		Conditions []model.Condition   `json:"conditions"`
		Actions    []model.Action      `json:"actions"`
		Mode       model.ExecutionMode `json:"mode"`
	}{a.Triggers, a.Conditions, a.Actions, a.Mode}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func scanCandidates(rows *sql.Rows) ([]model.RankedCandidate, error) {
	var out []model.RankedCandidate
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c model.RankedCandidate
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// nullableOrigin keeps the manual/automated distinction intact in the
// event log: an empty origin context is stored as NULL, never as the
// empty string, so loading round-trips the manual flag.
func nullableOrigin(origin string) sql.NullString {
	if origin == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: origin, Valid: true}
}
