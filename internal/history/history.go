// Package history keeps one structured result row per job invocation in a
// local SQLite database. It is the queryable complement to the textual job
// logs: a run whose row never reaches a terminal status died mid-flight, the
// same information the missing finished marker encodes, without log grepping.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// StatusStarted marks a row whose run has begun but not finished. Terminal
// statuses come from the runner (succeeded/failed/error).
const StatusStarted = "started"

type Config struct {
	Enabled     bool
	Path        string
	BusyTimeout time.Duration
}

// Run is one recorded invocation. FinishedAt is the zero time while the run
// is still (or died) in flight.
type Run struct {
	ID         int64
	Task       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	ExitCode   int
	Error      string
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates or opens the result database and applies migrations. The
// parent directory is created if needed.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunStarted inserts a row in the started state and returns its id.
func (s *Store) RunStarted(ctx context.Context, task string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(task, status, started_at) VALUES(?,?,?)`,
		task, StatusStarted, at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RunFinished moves a row to a terminal status.
func (s *Store) RunFinished(ctx context.Context, id int64, status string, exitCode int, at time.Time, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, exit_code = ?, finished_at = ?, err = ? WHERE id = ?`,
		status, exitCode, at.Format(time.RFC3339Nano), nullStr(errText), id,
	)
	return err
}

// Recent returns up to limit runs for task, newest first. An empty task
// matches every task.
func (s *Store) Recent(ctx context.Context, task string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT id, task, status, started_at, finished_at, exit_code, err
	          FROM runs`
	args := []any{}
	if task != "" {
		query += ` WHERE task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
			code     sql.NullInt64
			errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.Status, &started, &finished, &code, &errText); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		if code.Valid {
			r.ExitCode = int(code.Int64)
		}
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes runs older than keep. Returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
