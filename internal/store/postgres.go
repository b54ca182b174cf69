package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id     TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	phase         TEXT NOT NULL,
	stage         TEXT NOT NULL,
	needs_signoff BOOLEAN NOT NULL DEFAULT FALSE,
	cancelled     BOOLEAN NOT NULL DEFAULT FALSE,
	run           JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS claims (
	claim_id     TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	ingestion_id TEXT NOT NULL DEFAULT '',
	job_id       TEXT NOT NULL DEFAULT '',
	claim        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (claim_id, project_id, job_id)
);

CREATE TABLE IF NOT EXISTS manuscripts (
	id        TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	blocks    JSONB NOT NULL,
	saved_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_phase ON checkpoints(phase);
CREATE INDEX IF NOT EXISTS idx_claims_scope ON claims(project_id, ingestion_id, job_id);
CREATE INDEX IF NOT EXISTS idx_manuscripts_thread ON manuscripts(thread_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, run *model.PipelineRun) error {
	run.UpdatedAt = time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = run.UpdatedAt
	}

	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (thread_id, job_id, project_id, phase, stage, needs_signoff, cancelled, run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (thread_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			stage = EXCLUDED.stage,
			needs_signoff = EXCLUDED.needs_signoff,
			cancelled = EXCLUDED.cancelled,
			run = EXCLUDED.run,
			updated_at = EXCLUDED.updated_at`,
		run.ThreadID, run.JobID, run.ProjectID, string(run.Phase), string(run.Stage),
		run.NeedsSignoff, run.Cancelled, data, run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s", run.ThreadID)
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, threadID string) (*model.PipelineRun, error) {
	var data []byte
	var cancelled bool
	err := s.pool.QueryRow(ctx,
		`SELECT run, cancelled FROM checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&data, &cancelled)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: checkpoint %s", threadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", threadID)
	}

	var run model.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal checkpoint %s", threadID)
	}
	run.Cancelled = cancelled
	return &run, nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]model.PipelineRun, error) {
	query := `SELECT run, cancelled FROM checkpoints WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += ` AND project_id = $1`
	}
	if filter.Phase != "" {
		args = append(args, string(filter.Phase))
		query += ` AND phase = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var data []byte
		var cancelled bool
		if err := rows.Scan(&data, &cancelled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		var run model.PipelineRun
		if err := json.Unmarshal(data, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal checkpoint")
		}
		run.Cancelled = cancelled
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list checkpoints")
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE checkpoints SET cancelled = TRUE, updated_at = now() WHERE thread_id = $1`, threadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark cancelled %s", threadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: checkpoint %s", threadID)
	}
	return nil
}

func (s *PostgresStore) IsCancelled(ctx context.Context, threadID string) (bool, error) {
	var cancelled bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancelled FROM checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&cancelled)
	if eris.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "postgres: checkpoint %s", threadID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is cancelled %s", threadID)
	}
	return cancelled, nil
}

func (s *PostgresStore) SaveClaims(ctx context.Context, projectID, ingestionID, jobID string, claims []model.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save claims")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range claims {
		data, err := json.Marshal(c)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal claim %s", c.ClaimID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO claims (claim_id, project_id, ingestion_id, job_id, claim)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (claim_id, project_id, job_id) DO UPDATE SET claim = EXCLUDED.claim`,
			c.ClaimID, projectID, ingestionID, jobID, data,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert claim %s", c.ClaimID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save claims")
}

func (s *PostgresStore) LoadClaims(ctx context.Context, projectID, ingestionID, jobID string) ([]model.Claim, error) {
	query := `SELECT claim FROM claims WHERE project_id = $1`
	args := []any{projectID}

	if ingestionID != "" {
		args = append(args, ingestionID)
		query += ` AND ingestion_id = $` + strconv.Itoa(len(args))
	}
	if jobID != "" {
		args = append(args, jobID)
		query += ` AND job_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY claim_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load claims")
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim")
		}
		var c model.Claim
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal claim")
		}
		claims = append(claims, c)
	}
	return claims, eris.Wrap(rows.Err(), "postgres: load claims")
}

func (s *PostgresStore) SaveManuscript(ctx context.Context, threadID string, blocks []model.ManuscriptBlock) error {
	data, err := json.Marshal(blocks)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal manuscript")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO manuscripts (id, thread_id, blocks) VALUES ($1, $2, $3)`,
		uuid.New().String(), threadID, data,
	)
	return eris.Wrapf(err, "postgres: save manuscript %s", threadID)
}
