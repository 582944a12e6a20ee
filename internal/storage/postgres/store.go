// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v-bible/scraping/internal/model"
)

//go:embed schema.sql
var schema string

const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements crawler.Store on a pgx pool.
type Store struct {
	pool querier
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
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
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Migrate creates every table that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// UpsertLanguage stores lang under (code, origin).
func (s *Store) UpsertLanguage(ctx context.Context, lang model.Language) (int64, error) {
	return s.upsert(ctx, "language", `
INSERT INTO languages (code, name, origin) VALUES ($1, $2, $3)
ON CONFLICT (code, origin) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, lang.Code, lang.Name, lang.Origin)
}

// UpsertEdition stores edition under (code, language_id).
func (s *Store) UpsertEdition(ctx context.Context, edition model.Edition) (int64, error) {
	return s.upsert(ctx, "edition", `
INSERT INTO editions (code, name, language_id, only_nt, only_ot, with_apocrypha)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (code, language_id) DO UPDATE SET
    name = EXCLUDED.name,
    only_nt = EXCLUDED.only_nt,
    only_ot = EXCLUDED.only_ot,
    with_apocrypha = EXCLUDED.with_apocrypha
RETURNING id`,
		edition.Code, edition.Name, edition.LanguageID, edition.OnlyNT, edition.OnlyOT, edition.WithApocrypha)
}

// UpsertFormat stores format under (edition_id, type, locator).
func (s *Store) UpsertFormat(ctx context.Context, format model.EditionFormat) (int64, error) {
	return s.upsert(ctx, "edition format", `
INSERT INTO edition_formats (edition_id, type, locator) VALUES ($1, $2, $3)
ON CONFLICT (edition_id, type, locator) DO UPDATE SET type = EXCLUDED.type
RETURNING id`, format.EditionID, string(format.Type), format.Locator)
}

// UpsertWork stores work under (edition_id, ordinal).
func (s *Store) UpsertWork(ctx context.Context, work model.Work) (int64, error) {
	return s.upsert(ctx, "work", `
INSERT INTO works (edition_id, ordinal, title, abbrev, testament, locator)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (edition_id, ordinal) DO UPDATE SET
    title = EXCLUDED.title,
    abbrev = EXCLUDED.abbrev,
    testament = EXCLUDED.testament,
    locator = EXCLUDED.locator
RETURNING id`, work.EditionID, work.Ordinal, work.Title, work.Abbrev, work.Testament, work.Locator)
}

// UpsertSection stores section under (work_id, number).
func (s *Store) UpsertSection(ctx context.Context, section model.Section) (int64, error) {
	return s.upsert(ctx, "section", `
INSERT INTO sections (work_id, number, locator) VALUES ($1, $2, $3)
ON CONFLICT (work_id, number) DO UPDATE SET locator = EXCLUDED.locator
RETURNING id`, section.WorkID, section.Number, section.Locator)
}

// UpsertPassage stores passage under (section_id, number).
func (s *Store) UpsertPassage(ctx context.Context, passage model.Passage) (int64, error) {
	return s.upsert(ctx, "passage", `
INSERT INTO passages (section_id, number, text) VALUES ($1, $2, $3)
ON CONFLICT (section_id, number) DO UPDATE SET text = EXCLUDED.text
RETURNING id`, passage.SectionID, passage.Number, passage.Text)
}

func (s *Store) upsert(ctx context.Context, entity, query string, args ...any) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", entity, classify(err))
	}
	return id, nil
}

// FindEdition returns the first edition carrying code.
func (s *Store) FindEdition(ctx context.Context, code string) (model.Edition, error) {
	var e model.Edition
	err := s.pool.QueryRow(ctx, `
SELECT id, code, name, language_id, only_nt, only_ot, with_apocrypha
FROM editions WHERE code = $1 ORDER BY id LIMIT 1`, code).
		Scan(&e.ID, &e.Code, &e.Name, &e.LanguageID, &e.OnlyNT, &e.OnlyOT, &e.WithApocrypha)
	if err != nil {
		return model.Edition{}, fmt.Errorf("find edition %q: %w", code, classify(err))
	}
	return e, nil
}

// FindFormat returns the most recently added format of the given type
// for an edition.
func (s *Store) FindFormat(ctx context.Context, editionID int64, formatType model.FormatType) (model.EditionFormat, error) {
	f := model.EditionFormat{EditionID: editionID, Type: formatType}
	err := s.pool.QueryRow(ctx, `
SELECT id, locator FROM edition_formats
WHERE edition_id = $1 AND type = $2 ORDER BY id DESC LIMIT 1`, editionID, string(formatType)).
		Scan(&f.ID, &f.Locator)
	if err != nil {
		return model.EditionFormat{}, fmt.Errorf("find %s format: %w", formatType, classify(err))
	}
	return f, nil
}

// ListWorks returns the works of an edition in ordinal order.
func (s *Store) ListWorks(ctx context.Context, editionID int64) ([]model.Work, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, edition_id, ordinal, title, abbrev, testament, locator
FROM works WHERE edition_id = $1 ORDER BY ordinal`, editionID)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close()

	var works []model.Work
	for rows.Next() {
		var w model.Work
		if err := rows.Scan(&w.ID, &w.EditionID, &w.Ordinal, &w.Title, &w.Abbrev, &w.Testament, &w.Locator); err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}
		works = append(works, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	return works, nil
}

// ListSections returns the sections of a work in number order.
func (s *Store) ListSections(ctx context.Context, workID int64) ([]model.Section, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, work_id, number, locator FROM sections WHERE work_id = $1 ORDER BY number`, workID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.WorkID, &sec.Number, &sec.Locator); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return sections, nil
}

// CountPassages returns how many passages a section holds.
func (s *Store) CountPassages(ctx context.Context, sectionID int64) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM passages WHERE section_id = $1`, sectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, run model.Run) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO runs (id, started_at, status, stage) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
WHERE runs.status <> EXCLUDED.status`,
		run.ID, run.StartedAt, string(run.Status), run.Stage)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status model.RunStatus,
	stage string,
	errMsg *string,
) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET finished_at = $1, status = $2, stage = $3, error_message = $4
WHERE id = $5`, finishedAt, string(status), stage, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Stats counts the rows of every catalog table.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx, `
SELECT
    (SELECT COUNT(*) FROM languages),
    (SELECT COUNT(*) FROM editions),
    (SELECT COUNT(*) FROM edition_formats),
    (SELECT COUNT(*) FROM works),
    (SELECT COUNT(*) FROM sections),
    (SELECT COUNT(*) FROM passages)`).
		Scan(&st.Languages, &st.Editions, &st.Formats, &st.Works, &st.Sections, &st.Passages)
	if err != nil {
		return model.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// Orphans counts child rows whose parent row is missing.
func (s *Store) Orphans(ctx context.Context) (model.OrphanReport, error) {
	var r model.OrphanReport
	err := s.pool.QueryRow(ctx, `
SELECT
    (SELECT COUNT(*) FROM editions c LEFT JOIN languages p ON p.id = c.language_id WHERE p.id IS NULL),
    (SELECT COUNT(*) FROM edition_formats c LEFT JOIN editions p ON p.id = c.edition_id WHERE p.id IS NULL),
    (SELECT COUNT(*) FROM works c LEFT JOIN editions p ON p.id = c.edition_id WHERE p.id IS NULL),
    (SELECT COUNT(*) FROM sections c LEFT JOIN works p ON p.id = c.work_id WHERE p.id IS NULL),
    (SELECT COUNT(*) FROM passages c LEFT JOIN sections p ON p.id = c.section_id WHERE p.id IS NULL)`).
		Scan(&r.Editions, &r.Formats, &r.Works, &r.Sections, &r.Passages)
	if err != nil {
		return model.OrphanReport{}, fmt.Errorf("orphan scan: %w", err)
	}
	return r, nil
}

// classify maps driver errors onto the model sentinels.
func classify(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: %s", model.ErrOrphan, pgErr.Message)
	}
	return err
}
