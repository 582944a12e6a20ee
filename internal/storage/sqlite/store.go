// Package sqlite provides the embedded catalog store on modernc.org/sqlite.
// It backs local runs and end-to-end tests; the schema mirrors the Postgres
// one, with the same natural keys and foreign keys.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/v-bible/scraping/internal/model"
)

//go:embed schema.sql
var schema string

// Store implements crawler.Store on a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path with foreign keys
// enforced and WAL journaling. path may be a plain file path or a file: URI.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; a single connection also keeps the pragmas in force.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Migrate creates every table that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// UpsertLanguage stores lang under (code, origin).
func (s *Store) UpsertLanguage(ctx context.Context, lang model.Language) (int64, error) {
	return s.upsert(ctx, "language", `
INSERT INTO languages (code, name, origin) VALUES (?, ?, ?)
ON CONFLICT (code, origin) DO UPDATE SET name = excluded.name
RETURNING id`, lang.Code, lang.Name, lang.Origin)
}

// UpsertEdition stores edition under (code, language_id).
func (s *Store) UpsertEdition(ctx context.Context, edition model.Edition) (int64, error) {
	return s.upsert(ctx, "edition", `
INSERT INTO editions (code, name, language_id, only_nt, only_ot, with_apocrypha) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (code, language_id) DO UPDATE SET
    name = excluded.name,
    only_nt = excluded.only_nt,
    only_ot = excluded.only_ot,
    with_apocrypha = excluded.with_apocrypha
RETURNING id`,
		edition.Code, edition.Name, edition.LanguageID, edition.OnlyNT, edition.OnlyOT, edition.WithApocrypha)
}

// UpsertFormat stores format under (edition_id, type, locator).
func (s *Store) UpsertFormat(ctx context.Context, format model.EditionFormat) (int64, error) {
	return s.upsert(ctx, "edition format", `
INSERT INTO edition_formats (edition_id, type, locator) VALUES (?, ?, ?)
ON CONFLICT (edition_id, type, locator) DO UPDATE SET type = excluded.type
RETURNING id`, format.EditionID, string(format.Type), format.Locator)
}

// UpsertWork stores work under (edition_id, ordinal).
func (s *Store) UpsertWork(ctx context.Context, work model.Work) (int64, error) {
	return s.upsert(ctx, "work", `
INSERT INTO works (edition_id, ordinal, title, abbrev, testament, locator) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (edition_id, ordinal) DO UPDATE SET
    title = excluded.title,
    abbrev = excluded.abbrev,
    testament = excluded.testament,
    locator = excluded.locator
RETURNING id`, work.EditionID, work.Ordinal, work.Title, work.Abbrev, work.Testament, work.Locator)
}

// UpsertSection stores section under (work_id, number).
func (s *Store) UpsertSection(ctx context.Context, section model.Section) (int64, error) {
	return s.upsert(ctx, "section", `
INSERT INTO sections (work_id, number, locator) VALUES (?, ?, ?)
ON CONFLICT (work_id, number) DO UPDATE SET locator = excluded.locator
RETURNING id`, section.WorkID, section.Number, section.Locator)
}

// UpsertPassage stores passage under (section_id, number).
func (s *Store) UpsertPassage(ctx context.Context, passage model.Passage) (int64, error) {
	return s.upsert(ctx, "passage", `
INSERT INTO passages (section_id, number, text) VALUES (?, ?, ?)
ON CONFLICT (section_id, number) DO UPDATE SET text = excluded.text
RETURNING id`, passage.SectionID, passage.Number, passage.Text)
}

func (s *Store) upsert(ctx context.Context, entity, query string, args ...any) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", entity, classify(err))
	}
	return id, nil
}

// FindEdition returns the first edition carrying code.
func (s *Store) FindEdition(ctx context.Context, code string) (model.Edition, error) {
	var e model.Edition
	err := s.db.QueryRowContext(ctx, `
SELECT id, code, name, language_id, only_nt, only_ot, with_apocrypha
FROM editions WHERE code = ? ORDER BY id LIMIT 1`, code).
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
	err := s.db.QueryRowContext(ctx, `
SELECT id, locator FROM edition_formats
WHERE edition_id = ? AND type = ? ORDER BY id DESC LIMIT 1`, editionID, string(formatType)).
		Scan(&f.ID, &f.Locator)
	if err != nil {
		return model.EditionFormat{}, fmt.Errorf("find %s format: %w", formatType, classify(err))
	}
	return f, nil
}

// ListWorks returns the works of an edition in ordinal order.
func (s *Store) ListWorks(ctx context.Context, editionID int64) ([]model.Work, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, edition_id, ordinal, title, abbrev, testament, locator
FROM works WHERE edition_id = ? ORDER BY ordinal`, editionID)
	if err != nil {
		return nil, fmt.Errorf("list works: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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
	rows, err := s.db.QueryContext(ctx, `
SELECT id, work_id, number, locator FROM sections WHERE work_id = ? ORDER BY number`, workID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages WHERE section_id = ?`, sectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, started_at, status, stage) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		run.ID.String(), formatTime(run.StartedAt), string(run.Status), run.Stage)
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
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET finished_at = ?, status = ?, stage = ?, error_message = ? WHERE id = ?`,
		formatTime(finishedAt), string(status), stage, errMsg, id.String())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Stats counts the rows of every catalog table.
func (s *Store) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	err := s.db.QueryRowContext(ctx, `
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
	err := s.db.QueryRowContext(ctx, `
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
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return fmt.Errorf("%w: %v", model.ErrOrphan, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
