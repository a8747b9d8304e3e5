// Package store persists ingested job records for the reference collector.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glia-dev/glia/glia"
)

// ErrDuplicateRun is returned by Insert when the run id is already stored.
var ErrDuplicateRun = errors.New("run id already stored")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL UNIQUE,
    program_name   TEXT NOT NULL,
    user_name      TEXT NOT NULL,
    script_sha256  TEXT NOT NULL,
    hostname       TEXT NOT NULL DEFAULT '',
    os_info        TEXT NOT NULL DEFAULT '',
    script_path    TEXT,
    argv           TEXT NOT NULL DEFAULT '[]',
    wall_time_sec  REAL NOT NULL DEFAULT 0,
    started_at     TEXT NOT NULL,
    ended_at       TEXT NOT NULL,
    cpu_time_sec   REAL NOT NULL,
    cpu_percent    REAL NOT NULL,
    max_rss_mb     REAL NOT NULL,
    exit_code_int  INTEGER NOT NULL,
    meta           TEXT NOT NULL DEFAULT '{}',
    relayed        INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_jobs_program ON jobs(program_name);
CREATE INDEX IF NOT EXISTS idx_jobs_relayed ON jobs(relayed) WHERE relayed = 0;
`

const columns = `id, run_id, program_name, user_name, script_sha256,
       hostname, os_info, script_path, argv, wall_time_sec,
       started_at, ended_at, cpu_time_sec, cpu_percent, max_rss_mb,
       exit_code_int, meta, relayed`

// Job is a stored record: the ingested metrics plus the row id.
type Job struct {
	ID      int64
	Relayed bool
	glia.JobMetrics
}

// MarshalJSON renders the record in wire format with the row id added.
func (j Job) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(j.JobMetrics)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf(`{"id":%d,`, j.ID)
	return append([]byte(prefix), body[1:]...), nil
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (j *Job) UnmarshalJSON(data []byte) error {
	var id struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &j.JobMetrics); err != nil {
		return err
	}
	j.ID = id.ID
	return nil
}

// Store provides SQLite-backed storage for job records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}

	// WAL lets the relay read while the server writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert stores m and returns the stored job. A run id that is already
// present yields ErrDuplicateRun.
func (s *Store) Insert(ctx context.Context, m *glia.JobMetrics) (*Job, error) {
	argv, err := json.Marshal(nonNilArgs(m.Argv))
	if err != nil {
		return nil, fmt.Errorf("encode argv: %w", err)
	}
	meta, err := json.Marshal(nonNilMeta(m.Meta))
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	var scriptPath sql.NullString
	if m.ScriptPath != "" {
		scriptPath = sql.NullString{String: m.ScriptPath, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs (
			run_id, program_name, user_name, script_sha256,
			hostname, os_info, script_path, argv, wall_time_sec,
			started_at, ended_at, cpu_time_sec, cpu_percent, max_rss_mb,
			exit_code_int, meta
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.ProgramName, m.UserName, m.ScriptSHA256,
		m.Hostname, m.OSInfo, scriptPath, string(argv), m.WallTimeSec,
		formatTime(m.StartedAt), formatTime(m.EndedAt), m.CPUTimeSec, m.CPUPercent, m.MaxRSSMB,
		m.ExitCode, string(meta),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("insert job %s: %w", m.RunID, ErrDuplicateRun)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	job := &Job{ID: id, JobMetrics: *m}
	job.Argv = nonNilArgs(m.Argv)
	job.Meta = nonNilMeta(m.Meta)
	return job, nil
}

// List returns up to limit stored jobs, oldest first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM jobs ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// QueryUnrelayed returns up to limit jobs that have not been relayed yet.
func (s *Store) QueryUnrelayed(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM jobs
		WHERE relayed = 0
		ORDER BY id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unrelayed: %w", err)
	}
	return scanJobs(rows)
}

// MarkRelayed sets the relayed flag for the given job ids.
func (s *Store) MarkRelayed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "UPDATE jobs SET relayed = 1 WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("mark relayed id=%d: %w", id, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var (
			j                  Job
			scriptPath         sql.NullString
			argv, meta         string
			startedAt, endedAt string
		)
		if err := rows.Scan(
			&j.ID, &j.RunID, &j.ProgramName, &j.UserName, &j.ScriptSHA256,
			&j.Hostname, &j.OSInfo, &scriptPath, &argv, &j.WallTimeSec,
			&startedAt, &endedAt, &j.CPUTimeSec, &j.CPUPercent, &j.MaxRSSMB,
			&j.ExitCode, &meta, &j.Relayed,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		j.ScriptPath = scriptPath.String
		if err := json.Unmarshal([]byte(argv), &j.Argv); err != nil {
			return nil, fmt.Errorf("decode argv of job %d: %w", j.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &j.Meta); err != nil {
			return nil, fmt.Errorf("decode meta of job %d: %w", j.ID, err)
		}
		j.Argv = nonNilArgs(j.Argv)
		j.Meta = nonNilMeta(j.Meta)

		var err error
		if j.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("job %d started_at: %w", j.ID, err)
		}
		if j.EndedAt, err = parseTime(endedAt); err != nil {
			return nil, fmt.Errorf("job %d ended_at: %w", j.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(glia.TimestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func nonNilArgs(argv []string) []string {
	if argv == nil {
		return []string{}
	}
	return argv
}

func nonNilMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
