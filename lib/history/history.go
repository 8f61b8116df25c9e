// Package history keeps a SQLite log of sequence runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gotmc/scopeseq/lib/executor"
	"github.com/gotmc/scopeseq/lib/sequence"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Step is one recorded step.
type Step struct {
	Index   int
	Kind    string
	Outcome string
	Message string
}

// Run is one recorded sequence run.
type Run struct {
	ID       string
	Sequence string
	State    executor.State
	Error    string
	Started  time.Time
	Finished time.Time
	Failed   int
	Steps    []Step
}

// Store is a SQLite-backed run history. It implements executor.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// one connection keeps ":memory:" a single database and serialises writers
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		sequence TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		failed INTEGER NOT NULL,
		started_ns INTEGER NOT NULL,
		finished_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_ns);

	CREATE TABLE IF NOT EXISTS run_steps (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record stores a finished run report.
func (s *Store) Record(ctx context.Context, rep executor.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	errText := ""
	if rep.Err != nil {
		errText = rep.Err.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, sequence, state, error, failed, started_ns, finished_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rep.ID, rep.Sequence, rep.State.String(), errText, rep.FailedCount(),
		rep.Started.UnixNano(), rep.Finished.UnixNano())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_steps WHERE run_id = ?`, rep.ID); err != nil {
		return fmt.Errorf("clear steps: %w", err)
	}
	for _, st := range rep.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_steps (run_id, idx, kind, outcome, message) VALUES (?, ?, ?, ?, ?)
		`, rep.ID, st.Index, st.Kind.String(), string(st.Outcome), st.Message)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Index, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs first, without their steps. limit <= 0
// means 100.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sequence, state, error, failed, started_ns, finished_ns
		FROM runs
		ORDER BY started_ns DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns a run with its steps.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sequence, state, error, failed, started_ns, finished_ns
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, kind, outcome, message FROM run_steps WHERE run_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return Run{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var st Step
		var msg sql.NullString
		if err := rows.Scan(&st.Index, &st.Kind, &st.Outcome, &msg); err != nil {
			return Run{}, err
		}
		st.Message = msg.String
		r.Steps = append(r.Steps, st)
	}
	return r, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		state             string
		errText           sql.NullString
		started, finished int64
	)
	if err := sc.Scan(&r.ID, &r.Sequence, &state, &errText, &r.Failed, &started, &finished); err != nil {
		return Run{}, err
	}
	st, err := executor.ParseState(state)
	if err != nil {
		return Run{}, err
	}
	r.State = st
	r.Error = errText.String
	r.Started = time.Unix(0, started)
	r.Finished = time.Unix(0, finished)
	return r, nil
}

// Kinds returns the step kinds of a recorded run.
func (r Run) Kinds() []sequence.Kind {
	out := make([]sequence.Kind, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = sequence.Kind(s.Kind)
	}
	return out
}
