// Package postgres exports harvested records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/topic-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for record rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Hasher fingerprints record content.
type Hasher interface {
	HashText(s string) string
}

// RecordStore upserts records keyed by article URL.
type RecordStore struct {
	pool   execCloser
	table  string
	hasher Hasher
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig, hasher Hasher) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RecordStore{pool: pool, table: table, hasher: hasher}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string, hasher Hasher) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name, hasher: hasher}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "harvest_records"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url            TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	source         TEXT NOT NULL,
	title          TEXT NOT NULL,
	search_term    TEXT NOT NULL,
	content        TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	content_length INTEGER NOT NULL,
	categories     TEXT[] NOT NULL,
	key_dates      TEXT[] NOT NULL,
	sections       TEXT[] NOT NULL,
	infobox        JSONB NOT NULL,
	scraped_at     TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreRecords upserts every record under runID. The first failing row aborts
// the export.
func (s *RecordStore) StoreRecords(ctx context.Context, runID string, records []harvest.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	run_id,
	source,
	title,
	search_term,
	content,
	content_hash,
	content_length,
	categories,
	key_dates,
	sections,
	infobox,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (url) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	search_term = EXCLUDED.search_term,
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	content_length = EXCLUDED.content_length,
	categories = EXCLUDED.categories,
	key_dates = EXCLUDED.key_dates,
	sections = EXCLUDED.sections,
	infobox = EXCLUDED.infobox,
	scraped_at = EXCLUDED.scraped_at
WHERE %s.content_hash IS DISTINCT FROM EXCLUDED.content_hash`, s.table, s.table)

	for _, rec := range records {
		infobox, err := json.Marshal(factsOrEmpty(rec.KeyFacts))
		if err != nil {
			return fmt.Errorf("marshal infobox for %s: %w", rec.URL, err)
		}
		args := []any{
			rec.URL,
			runID,
			rec.Source,
			rec.Title,
			rec.Topic,
			rec.Content,
			s.hasher.HashText(rec.Content),
			rec.ContentLength,
			orEmpty(rec.Categories),
			orEmpty(rec.Years),
			orEmpty(rec.Sections),
			infobox,
			rec.ScrapedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert record %s: %w", rec.URL, err)
		}
	}
	return nil
}

type keyFact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func factsOrEmpty(facts []harvest.KeyFact) []keyFact {
	out := make([]keyFact, 0, len(facts))
	for _, f := range facts {
		out = append(out, keyFact{Label: f.Label, Value: f.Value})
	}
	return out
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
