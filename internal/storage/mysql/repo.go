package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"replybot/internal/domain"
)

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) IsHandled(ctx context.Context, reviewID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, isHandledSQL, reviewID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) Record(ctx context.Context, rec domain.ReplyRecord) error {
	_, err := r.db.ExecContext(ctx, insertRecordSQL,
		rec.ReviewID,
		rec.ReplyText,
		string(rec.Outcome),
		rec.FailReason,
	)
	return err
}

func (r *Repo) ListReplies(ctx context.Context, limit int) ([]domain.ReplyRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listRepliesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReplyRecord
	for rows.Next() {
		var (
			rec     domain.ReplyRecord
			outcome string
			reason  sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ReviewID,
			&rec.ReplyText,
			&outcome,
			&reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Outcome = domain.Outcome(outcome)
		if reason.Valid {
			rec.FailReason = reason.String
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) RecordCycle(ctx context.Context, rep domain.CycleReport) error {
	var failures any
	if len(rep.Failures) > 0 {
		b, err := json.Marshal(rep.Failures)
		if err != nil {
			return err
		}
		failures = string(b)
	}
	_, err := r.db.ExecContext(ctx, insertCycleSQL,
		rep.StartedAt,
		rep.FinishedAt,
		rep.Fetched,
		rep.Replied,
		rep.Adopted,
		rep.Failed,
		rep.Skipped,
		rep.Aborted,
		rep.AbortErr,
		failures,
	)
	return err
}

func (r *Repo) LatestCycle(ctx context.Context) (domain.CycleReport, error) {
	row := r.db.QueryRowContext(ctx, latestCycleSQL)

	var (
		rep      domain.CycleReport
		abortErr sql.NullString
		failures sql.NullString
	)
	if err := row.Scan(
		&rep.StartedAt,
		&rep.FinishedAt,
		&rep.Fetched,
		&rep.Replied,
		&rep.Adopted,
		&rep.Failed,
		&rep.Skipped,
		&rep.Aborted,
		&abortErr,
		&failures,
	); err != nil {
		return domain.CycleReport{}, err
	}
	if abortErr.Valid {
		rep.AbortErr = abortErr.String
	}
	if failures.Valid && failures.String != "" {
		if err := json.Unmarshal([]byte(failures.String), &rep.Failures); err != nil {
			return domain.CycleReport{}, err
		}
	}
	return rep, nil
}
