package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bmds-online/bmds/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, path: dsn}, nil
}

// Path returns the database file the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	password      TEXT NOT NULL,
	inputs        TEXT NOT NULL DEFAULT '{}',
	outputs       TEXT NOT NULL DEFAULT '{}',
	errors        TEXT NOT NULL DEFAULT '[]',
	starred       INTEGER NOT NULL DEFAULT 0,
	created       DATETIME NOT NULL,
	last_updated  DATETIME NOT NULL,
	started       DATETIME,
	ended         DATETIME,
	deletion_date DATETIME
);

CREATE INDEX IF NOT EXISTS idx_analyses_last_updated ON analyses(last_updated);
CREATE INDEX IF NOT EXISTS idx_analyses_deletion_date ON analyses(deletion_date);
CREATE INDEX IF NOT EXISTS idx_analyses_started ON analyses(started);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	errs, err := encodeErrors(a.Errors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (`+analysisColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Password, string(jsonOrEmpty(a.Inputs)), string(jsonOrEmpty(a.Outputs)), string(errs),
		a.Starred, a.Created.UTC(), a.LastUpdated.UTC(),
		utcPtr(a.Started), utcPtr(a.Ended), utcPtr(a.DeletionDate),
	)
	return eris.Wrapf(err, "sqlite: insert analysis %s", a.ID)
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id,
	)
	a, err := scanSQLiteAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) UpdateAnalysis(ctx context.Context, a *model.Analysis) error {
	errs, err := encodeErrors(a.Errors)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET inputs = ?, outputs = ?, errors = ?, starred = ?, last_updated = ?,
		 started = ?, ended = ?, deletion_date = ? WHERE id = ?`,
		string(jsonOrEmpty(a.Inputs)), string(jsonOrEmpty(a.Outputs)), string(errs), a.Starred,
		a.LastUpdated.UTC(), utcPtr(a.Started), utcPtr(a.Ended), utcPtr(a.DeletionDate), a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update analysis %s", a.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) DeleteAnalysis(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete analysis %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter ListFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE 1=1`
	var args []any

	if filter.Starred != nil {
		query += ` AND starred = ?`
		args = append(args, *filter.Starred)
	}
	if filter.Search != "" {
		query += ` AND (lower(coalesce(json_extract(inputs, '$.analysis_name'), '')) LIKE ?
		 OR lower(coalesce(json_extract(inputs, '$.analysis_description'), '')) LIKE ?)`
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY last_updated DESC LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	return s.queryAnalyses(ctx, "list analyses", query, args...)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE deletion_date IS NOT NULL AND deletion_date <= ?`, now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired analyses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteUnexecuted(ctx context.Context, createdBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analyses WHERE started IS NULL AND created < ?`, createdBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete unexecuted analyses")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListHanging(ctx context.Context, startedBefore time.Time) ([]model.Analysis, error) {
	return s.queryAnalyses(ctx, "list hanging analyses",
		`SELECT `+analysisColumns+` FROM analyses
		 WHERE started IS NOT NULL AND ended IS NULL AND started < ? ORDER BY started`,
		startedBefore.UTC(),
	)
}

func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return eris.Wrap(err, "sqlite: vacuum")
}

func (s *SQLiteStore) queryAnalyses(ctx context.Context, op, query string, args ...any) ([]model.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanSQLiteAnalysis(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s", op)
		}
		out = append(out, *a)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteAnalysis(row scannable) (*model.Analysis, error) {
	var (
		a                       model.Analysis
		inputs, outputs, errs   string
		started, ended, expires sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Password, &inputs, &outputs, &errs, &a.Starred,
		&a.Created, &a.LastUpdated, &started, &ended, &expires)
	if err != nil {
		return nil, err
	}
	a.Inputs = []byte(inputs)
	a.Outputs = []byte(outputs)
	if a.Errors, err = decodeErrors([]byte(errs)); err != nil {
		return nil, err
	}
	a.Started = nullTime(started)
	a.Ended = nullTime(ended)
	a.DeletionDate = nullTime(expires)
	return &a, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
