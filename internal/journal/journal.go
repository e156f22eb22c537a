package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/feichai0017/timechange/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job TEXT NOT NULL,
	type TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	history TEXT,
	startedAt REAL NOT NULL,
	finishedAt REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_finished ON jobs(finishedAt);
`

// Journal is a sqlite log of finished worker jobs.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores the outcome of one job. Recording the same id twice keeps
// the latest outcome.
func (j *Journal) Record(ctx context.Context, res models.Result) error {
	var history sql.NullString
	if len(res.History) > 0 {
		data, err := json.Marshal(res.History)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		history = sql.NullString{String: string(data), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (id, job, type, message, history, startedAt, finishedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, res.ID, string(res.Job), string(res.Type), res.Message, history,
		unixFromTime(res.StartedAt), unixFromTime(res.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Recent returns up to limit jobs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, job, type, message, history, startedAt, finishedAt
		FROM jobs
		ORDER BY finishedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// Get returns the job with the given command id, or nil when unknown.
func (j *Journal) Get(ctx context.Context, id string) (*models.Result, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, job, type, message, history, startedAt, finishedAt
		FROM jobs
		WHERE id = ?
	`, id)
	res, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return res, err
}

// LastTraining returns the most recent successful train job, or nil.
func (j *Journal) LastTraining(ctx context.Context) (*models.Result, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, job, type, message, history, startedAt, finishedAt
		FROM jobs
		WHERE job = ? AND type = ?
		ORDER BY finishedAt DESC
		LIMIT 1
	`, string(models.JobTrain), string(models.ResultSuccess))
	res, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return res, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (*models.Result, error) {
	var res models.Result
	var job, typ string
	var history sql.NullString
	var startedAt, finishedAt float64
	if err := s.Scan(&res.ID, &job, &typ, &res.Message, &history, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	res.Job = models.JobType(job)
	res.Type = models.ResultType(typ)
	res.StartedAt = timeFromUnix(startedAt)
	res.FinishedAt = timeFromUnix(finishedAt)
	if history.Valid {
		if err := json.Unmarshal([]byte(history.String), &res.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", res.ID, err)
		}
	}
	return &res, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
