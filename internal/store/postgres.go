package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bmds-online/bmds/internal/db"
	"github.com/bmds-online/bmds/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_analysis": `INSERT INTO analyses (` + analysisColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"get_analysis":    `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`,
	"update_analysis": `UPDATE analyses SET inputs = $1, outputs = $2, errors = $3, starred = $4, last_updated = $5, started = $6, ended = $7, deletion_date = $8 WHERE id = $9`,
	"delete_analysis": `DELETE FROM analyses WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id            TEXT PRIMARY KEY,
	password      TEXT NOT NULL,
	inputs        JSONB NOT NULL DEFAULT '{}',
	outputs       JSONB NOT NULL DEFAULT '{}',
	errors        JSONB NOT NULL DEFAULT '[]',
	starred       BOOLEAN NOT NULL DEFAULT false,
	created       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started       TIMESTAMPTZ,
	ended         TIMESTAMPTZ,
	deletion_date TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_analyses_last_updated ON analyses(last_updated DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_deletion_date ON analyses(deletion_date) WHERE deletion_date IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_analyses_hanging ON analyses(started) WHERE ended IS NULL;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	errs, err := encodeErrors(a.Errors)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (`+analysisColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Password, jsonOrEmpty(a.Inputs), jsonOrEmpty(a.Outputs), errs,
		a.Starred, a.Created.UTC(), a.LastUpdated.UTC(),
		utcPtr(a.Started), utcPtr(a.Ended), utcPtr(a.DeletionDate),
	)
	return eris.Wrapf(err, "postgres: insert analysis %s", a.ID)
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id,
	)
	a, err := scanPostgresAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAnalysis(ctx context.Context, a *model.Analysis) error {
	errs, err := encodeErrors(a.Errors)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET inputs = $1, outputs = $2, errors = $3, starred = $4, last_updated = $5, started = $6, ended = $7, deletion_date = $8 WHERE id = $9`,
		jsonOrEmpty(a.Inputs), jsonOrEmpty(a.Outputs), errs, a.Starred, a.LastUpdated.UTC(),
		utcPtr(a.Started), utcPtr(a.Ended), utcPtr(a.DeletionDate), a.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update analysis %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter ListFilter) ([]model.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Starred != nil {
		query += fmt.Sprintf(` AND starred = $%d`, argIdx)
		args = append(args, *filter.Starred)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND (inputs->>'analysis_name' ILIKE $%d OR inputs->>'analysis_description' ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY last_updated DESC LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}
	return s.queryAnalyses(ctx, "list analyses", query, args...)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE deletion_date IS NOT NULL AND deletion_date <= $1`, now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired analyses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteUnexecuted(ctx context.Context, createdBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analyses WHERE started IS NULL AND created < $1`, createdBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete unexecuted analyses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListHanging(ctx context.Context, startedBefore time.Time) ([]model.Analysis, error) {
	return s.queryAnalyses(ctx, "list hanging analyses",
		`SELECT `+analysisColumns+` FROM analyses WHERE started IS NOT NULL AND ended IS NULL AND started < $1 ORDER BY started`,
		startedBefore.UTC(),
	)
}

func (s *PostgresStore) Vacuum(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `VACUUM ANALYZE analyses`)
	return eris.Wrap(err, "postgres: vacuum")
}

func (s *PostgresStore) queryAnalyses(ctx context.Context, op, query string, args ...any) ([]model.Analysis, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Analysis
	for rows.Next() {
		a, err := scanPostgresAnalysis(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: %s", op)
		}
		out = append(out, *a)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func scanPostgresAnalysis(row scannable) (*model.Analysis, error) {
	var (
		a     model.Analysis
		errs  []byte
		inOut [2][]byte
	)
	err := row.Scan(&a.ID, &a.Password, &inOut[0], &inOut[1], &errs, &a.Starred,
		&a.Created, &a.LastUpdated, &a.Started, &a.Ended, &a.DeletionDate)
	if err != nil {
		return nil, err
	}
	a.Inputs = inOut[0]
	a.Outputs = inOut[1]
	if a.Errors, err = decodeErrors(errs); err != nil {
		return nil, err
	}
	return &a, nil
}
