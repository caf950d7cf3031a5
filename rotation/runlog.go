package rotation

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/database"
)

// Run is one completed, non dry run invocation.
type Run struct {
	ID         string
	Source     string
	Target     string
	FinishedAt time.Time
	ETA        time.Duration
}

// RunLog remembers previous runs so ETA regressions can be detected.
type RunLog interface {
	Record(ctx context.Context, r Run) error
	// Last returns nil when no run for source and target was recorded.
	Last(ctx context.Context, source, target string) (*Run, error)
}

type MemoryRunLog struct {
	mu   sync.Mutex
	runs []Run
}

func NewMemoryRunLog() *MemoryRunLog {
	return &MemoryRunLog{}
}

func (l *MemoryRunLog) Record(ctx context.Context, r Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, r)
	return nil
}

func (l *MemoryRunLog) Last(ctx context.Context, source, target string) (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.runs) - 1; i >= 0; i-- {
		if r := l.runs[i]; r.Source == source && r.Target == target {
			return &r, nil
		}
	}
	return nil, nil
}

// SQLRunLog stores runs in the rotation_runs table.
type SQLRunLog struct {
	db *database.DB
}

func NewSQLRunLog(db *database.DB) *SQLRunLog {
	return &SQLRunLog{db: db}
}

func (l *SQLRunLog) Record(ctx context.Context, r Run) error {
	_, err := l.db.ExecContext(ctx,
		l.db.Rebind(`INSERT INTO rotation_runs (run_id, source_label, target_label, finished_at, eta_seconds) VALUES (?, ?, ?, ?, ?)`),
		r.ID, r.Source, r.Target, r.FinishedAt.UTC(), r.ETA.Seconds(),
	)
	return errors.Wrap(err, "recording rotation run")
}

func (l *SQLRunLog) Last(ctx context.Context, source, target string) (*Run, error) {
	var (
		r   Run
		eta float64
	)
	err := l.db.QueryRowContext(ctx,
		l.db.Rebind(`SELECT run_id, source_label, target_label, finished_at, eta_seconds FROM rotation_runs
		WHERE source_label = ? AND target_label = ? ORDER BY finished_at DESC LIMIT 1`),
		source, target,
	).Scan(&r.ID, &r.Source, &r.Target, &r.FinishedAt, &eta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading last rotation run")
	}
	r.ETA = time.Duration(eta * float64(time.Second))
	return &r, nil
}
