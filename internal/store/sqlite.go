package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
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
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id     TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	project_id    TEXT NOT NULL,
	phase         TEXT NOT NULL,
	stage         TEXT NOT NULL,
	needs_signoff INTEGER NOT NULL DEFAULT 0,
	cancelled     INTEGER NOT NULL DEFAULT 0,
	run           TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS claims (
	claim_id     TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	ingestion_id TEXT NOT NULL DEFAULT '',
	job_id       TEXT NOT NULL DEFAULT '',
	claim        TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (claim_id, project_id, job_id)
);

CREATE TABLE IF NOT EXISTS manuscripts (
	id        TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	blocks    TEXT NOT NULL,
	saved_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_phase ON checkpoints(phase);
CREATE INDEX IF NOT EXISTS idx_claims_scope ON claims(project_id, ingestion_id, job_id);
CREATE INDEX IF NOT EXISTS idx_manuscripts_thread ON manuscripts(thread_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, run *model.PipelineRun) error {
	run.UpdatedAt = time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = run.UpdatedAt
	}

	data, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, job_id, project_id, phase, stage, needs_signoff, cancelled, run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			phase = excluded.phase,
			stage = excluded.stage,
			needs_signoff = excluded.needs_signoff,
			cancelled = excluded.cancelled,
			run = excluded.run,
			updated_at = excluded.updated_at`,
		run.ThreadID, run.JobID, run.ProjectID, string(run.Phase), string(run.Stage),
		boolInt(run.NeedsSignoff), boolInt(run.Cancelled), string(data), run.CreatedAt, run.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s", run.ThreadID)
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, threadID string) (*model.PipelineRun, error) {
	var data string
	var cancelled int
	err := s.db.QueryRowContext(ctx,
		`SELECT run, cancelled FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&data, &cancelled)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: checkpoint %s", threadID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", threadID)
	}

	var run model.PipelineRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal checkpoint %s", threadID)
	}
	// The cancellation column is authoritative: Cancel may have been
	// called after the snapshot was written.
	run.Cancelled = cancelled != 0
	return &run, nil
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context, filter CheckpointFilter) ([]model.PipelineRun, error) {
	query := `SELECT run, cancelled FROM checkpoints WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(filter.Phase))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		var data string
		var cancelled int
		if err := rows.Scan(&data, &cancelled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		var run model.PipelineRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal checkpoint")
		}
		run.Cancelled = cancelled != 0
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list checkpoints")
}

func (s *SQLiteStore) MarkCancelled(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET cancelled = 1, updated_at = ? WHERE thread_id = ?`,
		time.Now().UTC(), threadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark cancelled %s", threadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: checkpoint %s", threadID)
	}
	return nil
}

func (s *SQLiteStore) IsCancelled(ctx context.Context, threadID string) (bool, error) {
	var cancelled int
	err := s.db.QueryRowContext(ctx,
		`SELECT cancelled FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, eris.Wrapf(ErrNotFound, "sqlite: checkpoint %s", threadID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is cancelled %s", threadID)
	}
	return cancelled != 0, nil
}

func (s *SQLiteStore) SaveClaims(ctx context.Context, projectID, ingestionID, jobID string, claims []model.Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save claims")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range claims {
		data, err := json.Marshal(c)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal claim %s", c.ClaimID)
		}
		// Deterministic claim ids make replacement a dedup, not a loss.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO claims (claim_id, project_id, ingestion_id, job_id, claim)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (claim_id, project_id, job_id) DO UPDATE SET claim = excluded.claim`,
			c.ClaimID, projectID, ingestionID, jobID, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert claim %s", c.ClaimID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save claims")
}

func (s *SQLiteStore) LoadClaims(ctx context.Context, projectID, ingestionID, jobID string) ([]model.Claim, error) {
	query := `SELECT claim FROM claims WHERE project_id = ?`
	args := []any{projectID}

	if ingestionID != "" {
		query += ` AND ingestion_id = ?`
		args = append(args, ingestionID)
	}
	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY claim_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load claims")
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claim")
		}
		var c model.Claim
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal claim")
		}
		claims = append(claims, c)
	}
	return claims, eris.Wrap(rows.Err(), "sqlite: load claims")
}

func (s *SQLiteStore) SaveManuscript(ctx context.Context, threadID string, blocks []model.ManuscriptBlock) error {
	data, err := json.Marshal(blocks)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal manuscript")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO manuscripts (id, thread_id, blocks) VALUES (?, ?, ?)`,
		uuid.New().String(), threadID, string(data),
	)
	return eris.Wrapf(err, "sqlite: save manuscript %s", threadID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
