package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal or current state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one subject pipeline execution.
type Run struct {
	ID           string
	Subject      string
	Status       Status
	OutputDir    string
	HasSecondary bool
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
	Stages       []StageRun
}

// Duration is the elapsed run time, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageRun records one stage attempt.
type StageRun struct {
	RunID        string
	Step         string
	Outcome      string
	Reason       string
	ErrorMessage string
	StartedAt    time.Time
	Duration     time.Duration
}

// BeginRun inserts a running record.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" || strings.TrimSpace(run.Subject) == "" {
		return errors.New("run id and subject required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	err := s.exec(ctx,
		`INSERT INTO runs (id, subject, status, output_dir, has_secondary, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Subject, StatusRunning, nullableString(run.OutputDir), boolToInt(run.HasSecondary), formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStage appends a stage attempt to its run.
func (s *Store) RecordStage(ctx context.Context, stage StageRun) error {
	err := s.exec(ctx,
		`INSERT INTO stage_runs (run_id, step, outcome, reason, error_message, started_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stage.RunID, stage.Step, stage.Outcome, nullableString(stage.Reason), nullableString(stage.ErrorMessage),
		formatTime(stage.StartedAt), stage.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status Status, errMsg string) error {
	err := s.exec(ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		status, nullableString(errMsg), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

const runColumns = "id, subject, status, output_dir, has_secondary, error_message, started_at, finished_at"

// ListRuns returns runs newest first. An empty subject lists all subjects;
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, subject string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if subject = strings.TrimSpace(subject); subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its stages, or nil when unknown.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step, outcome, reason, error_message, started_at, duration_ms FROM stage_runs WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			stage      StageRun
			reason     sql.NullString
			errMsg     sql.NullString
			startedRaw string
			durationMS int64
		)
		if err := rows.Scan(&stage.RunID, &stage.Step, &stage.Outcome, &reason, &errMsg, &startedRaw, &durationMS); err != nil {
			return nil, fmt.Errorf("scan stage run: %w", err)
		}
		stage.Reason = reason.String
		stage.ErrorMessage = errMsg.String
		stage.StartedAt = parseTime(startedRaw)
		stage.Duration = time.Duration(durationMS) * time.Millisecond
		run.Stages = append(run.Stages, stage)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run          Run
		status       string
		outputDir    sql.NullString
		hasSecondary int64
		errMsg       sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.Subject, &status, &outputDir, &hasSecondary, &errMsg, &startedRaw, &finishedRaw); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.OutputDir = outputDir.String
	run.HasSecondary = hasSecondary != 0
	run.ErrorMessage = errMsg.String
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		run.FinishedAt = parseTime(finishedRaw.String)
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
