package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gyroscope/internal/domain"
	"gyroscope/internal/trace"
)

// InsertRunTx stores a run header and its results.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run, results []domain.StoredResult) error {
	if run.ID == "" {
		return errors.New("run id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO runs(id,source,strategy,actor_id,total,valid,created_at) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.Source, run.Strategy, run.ActorID, run.Total, run.Valid, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, res := range results {
		errs := res.Errors
		if errs == nil {
			errs = []trace.Issue{}
		}
		warns := res.Warnings
		if warns == nil {
			warns = []string{}
		}
		errJSON, err := json.Marshal(errs)
		if err != nil {
			return err
		}
		warnJSON, err := json.Marshal(warns)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_results(run_id,seq,source,line_count,is_valid,mode,trace_id,errors_json,warnings_json) VALUES (?,?,?,?,?,?,?,?,?)`,
			run.ID, i+1, res.Source, res.LineCount, res.Valid, nullable(res.Mode), nullableIntPtr(res.TraceID), string(errJSON), string(warnJSON)); err != nil {
			return fmt.Errorf("insert result %d: %w", i+1, err)
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var run domain.Run
	err := r.DB.QueryRowContext(ctx, `SELECT id,source,strategy,actor_id,total,valid,created_at FROM runs WHERE id=?`, id).
		Scan(&run.ID, &run.Source, &run.Strategy, &run.ActorID, &run.Total, &run.Valid, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	return run, err
}

// ListRuns returns runs newest first. The cursor is the (created_at, id) pair
// of the last row of the previous page.
func (r Repo) ListRuns(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.Run, error) {
	query := `SELECT id,source,strategy,actor_id,total,valid,created_at FROM runs`
	var args []any
	if cursorCreatedAt != "" && cursorID != "" {
		query += ` WHERE (created_at < ?) OR (created_at = ? AND id < ?)`
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		var run domain.Run
		if err := rows.Scan(&run.ID, &run.Source, &run.Strategy, &run.ActorID, &run.Total, &run.Valid, &run.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// RunResults returns the results of a run in sequence order.
func (r Repo) RunResults(ctx context.Context, runID string) ([]domain.StoredResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,seq,source,line_count,is_valid,COALESCE(mode,''),trace_id,errors_json,warnings_json FROM run_results WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoredResult
	for rows.Next() {
		var (
			s        domain.StoredResult
			traceID  sql.NullInt64
			errJSON  string
			warnJSON string
		)
		if err := rows.Scan(&s.RunID, &s.Seq, &s.Source, &s.LineCount, &s.Valid, &s.Mode, &traceID, &errJSON, &warnJSON); err != nil {
			return nil, err
		}
		if traceID.Valid {
			id := int(traceID.Int64)
			s.TraceID = &id
		}
		if err := json.Unmarshal([]byte(errJSON), &s.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of %s/%d: %w", s.RunID, s.Seq, err)
		}
		if err := json.Unmarshal([]byte(warnJSON), &s.Warnings); err != nil {
			return nil, fmt.Errorf("decode warnings of %s/%d: %w", s.RunID, s.Seq, err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// NextTraceIDTx allocates the next trace id of scope, starting at 1.
func (r Repo) NextTraceIDTx(ctx context.Context, tx *sql.Tx, scope string) (int, error) {
	if scope == "" {
		return 0, errors.New("scope required")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO trace_sequences(scope,last_id) VALUES (?,1)
ON CONFLICT(scope) DO UPDATE SET last_id = last_id + 1`, scope); err != nil {
		return 0, err
	}
	var id int
	if err := tx.QueryRowContext(ctx, `SELECT last_id FROM trace_sequences WHERE scope=?`, scope).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// LastTraceID returns the last allocated id of scope, 0 if none.
func (r Repo) LastTraceID(ctx context.Context, scope string) (int, error) {
	var id int
	err := r.DB.QueryRowContext(ctx, `SELECT last_id FROM trace_sequences WHERE scope=?`, scope).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}
