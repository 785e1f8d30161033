package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"insecurity-insight-pipeline/internal/model"
)

// ErrRunNotFound is returned for unknown run ids
var ErrRunNotFound = errors.New("run not found")

// Store keeps the history of pipeline runs in SQLite
type Store struct {
	db *sql.DB
}

// RunSummary is one row of the run history
type RunSummary struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Environment   string     `json:"environment"`
	DryRun        bool       `json:"dry_run"`
	TopicsUpdated int        `json:"topics_updated"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Open connects to the database at dbPath and creates the tables if needed
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps a ":memory:" database on a single connection
	db.SetMaxOpenConns(1)

	// Create tables if not exists
	schema := []string{`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT,
		environment TEXT,
		dry_run BOOLEAN,
		topics_updated INTEGER,
		report TEXT,
		started_at DATETIME,
		finished_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS run_errors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT,
		stage TEXT,
		subject TEXT,
		error_message TEXT,
		created_at DATETIME
	);`, `
	CREATE TABLE IF NOT EXISTS run_updates (
		run_id TEXT,
		topic TEXT,
		start_date TEXT,
		end_date TEXT,
		reason TEXT
	);`, `
	CREATE TABLE IF NOT EXISTS run_missing (
		run_id TEXT,
		dataset TEXT,
		missing INTEGER
	);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run together with its errors, updates and missing resources
func (s *Store) SaveRun(report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var finished interface{}
	if !report.EndTime.IsZero() {
		finished = report.EndTime.UTC()
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs (id, status, environment, dry_run, topics_updated, report, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.Status, report.Environment, report.DryRun, report.TopicsUpdated,
		string(reportJSON), report.StartTime.UTC(), finished); err != nil {
		return err
	}

	for _, table := range []string{"run_errors", "run_updates", "run_missing"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id = ?`, report.RunID); err != nil {
			return err
		}
	}
	for _, e := range report.Errors {
		if _, err := tx.Exec(`INSERT INTO run_errors (run_id, stage, subject, error_message, created_at) VALUES (?, ?, ?, ?, ?)`,
			report.RunID, e.Stage, e.Subject, e.Message, e.Timestamp.UTC()); err != nil {
			return err
		}
	}
	for _, u := range report.Updates {
		if _, err := tx.Exec(`INSERT INTO run_updates (run_id, topic, start_date, end_date, reason) VALUES (?, ?, ?, ?, ?)`,
			report.RunID, u.Topic, u.Start.Format(model.DateLayout), u.End.Format(model.DateLayout), u.Reason); err != nil {
			return err
		}
	}
	for _, m := range report.Missing {
		if _, err := tx.Exec(`INSERT INTO run_missing (run_id, dataset, missing) VALUES (?, ?, ?)`,
			report.RunID, m.Dataset, m.Count); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT r.id, r.status, r.environment, r.dry_run, r.topics_updated, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM run_errors e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var run RunSummary
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Status, &run.Environment, &run.DryRun, &run.TopicsUpdated,
			&run.StartedAt, &finished, &run.ErrorCount); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the full report of a run
func (s *Store) GetRun(runID string) (*model.RunReport, error) {
	var reportJSON string
	err := s.db.QueryRow(`SELECT report FROM runs WHERE id = ?`, runID).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	var report model.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// RunErrors returns the errors recorded for a run in the order they happened
func (s *Store) RunErrors(runID string) ([]model.ErrorDetail, error) {
	if _, err := s.GetRun(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT stage, subject, error_message, created_at FROM run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	errs := []model.ErrorDetail{}
	for rows.Next() {
		var e model.ErrorDetail
		if err := rows.Scan(&e.Stage, &e.Subject, &e.Message, &e.Timestamp); err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

// TopicHistory returns the freshness decisions recorded for a topic, most recent first
func (s *Store) TopicHistory(topic string) ([]model.TopicUpdate, error) {
	rows, err := s.db.Query(`
		SELECT u.topic, u.start_date, u.end_date, u.reason FROM run_updates u
		JOIN runs r ON r.id = u.run_id
		WHERE u.topic = ? ORDER BY r.started_at DESC`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	updates := []model.TopicUpdate{}
	for rows.Next() {
		var u model.TopicUpdate
		var start, end string
		if err := rows.Scan(&u.Topic, &start, &end, &u.Reason); err != nil {
			return nil, err
		}
		if u.Start, err = time.Parse(model.DateLayout, start); err != nil {
			return nil, err
		}
		if u.End, err = time.Parse(model.DateLayout, end); err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
