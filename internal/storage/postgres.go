package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"routined/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/routined?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			entity_id TEXT NOT NULL,
			domain TEXT NOT NULL,
			old_state TEXT NOT NULL,
			new_state TEXT NOT NULL,
			area TEXT,
			device TEXT,
			origin_context TEXT,
			attributes_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id)`,
		`CREATE TABLE IF NOT EXISTS candidates (
			stable_id TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			rank INTEGER NOT NULL,
			status TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			candidate_json JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (stable_id, schema_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_hash ON candidates(content_hash)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveEvents(ctx context.Context, events []model.RawEvent) error {
	if s.db == nil || len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (ts, entity_id, domain, old_state, new_state, area, device, origin_context, attributes_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.Timestamp.UTC(),
			ev.EntityID,
			ev.Domain,
			ev.OldState,
			ev.NewState,
			ev.Area,
			ev.Device,
			nullableOrigin(ev.OriginContext),
			encodeJSON(ev.Attributes),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) LoadEvents(ctx context.Context, since time.Time) ([]model.RawEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, entity_id, domain, old_state, new_state, area, device, origin_context, attributes_json
		FROM events WHERE ts >= $1 ORDER BY ts`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RawEvent
	for rows.Next() {
		var ev model.RawEvent
		var area, device, origin, attrs sql.NullString
		if err := rows.Scan(&ev.Timestamp, &ev.EntityID, &ev.Domain, &ev.OldState, &ev.NewState, &area, &device, &origin, &attrs); err != nil {
			return nil, err
		}
		ev.Area = area.String
		ev.Device = device.String
		ev.OriginContext = origin.String
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			_ = json.Unmarshal([]byte(attrs.String), &ev.Attributes)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *postgresStore) SaveCandidates(ctx context.Context, candidates []model.RankedCandidate) error {
	if s.db == nil || len(candidates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO candidates (stable_id, schema_version, content_hash, rank, status, score, candidate_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stable_id, schema_version) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			rank = EXCLUDED.rank,
			status = EXCLUDED.status,
			score = EXCLUDED.score,
			candidate_json = EXCLUDED.candidate_json,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, c := range candidates {
		if _, err := stmt.ExecContext(ctx,
			c.Automation.StableID,
			c.Automation.SchemaVersion,
			CandidateHash(c.Automation),
			c.Rank,
			string(c.Shadow.Status),
			c.Automation.Provenance.CombinedScore,
			encodeJSON(c),
			nowUTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) LoadCandidates(ctx context.Context, limit int) ([]model.RankedCandidate, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_json FROM candidates ORDER BY updated_at DESC, rank ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func (s *postgresStore) CandidateByHash(ctx context.Context, hash string) (string, bool, error) {
	if s.db == nil {
		return "", false, nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT stable_id FROM candidates WHERE content_hash = $1 LIMIT 1`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
