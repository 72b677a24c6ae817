package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AnswerRepository handles answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

const answerColumns = `id::text, submission_id::text, question_id::text, response, is_correct, auto_points,
	manual_points, grading_status, grader_notes, graded_by, graded_at, flagged, updated_at`

func scanAnswer(row pgx.Row) (*model.Answer, error) {
	a := &model.Answer{}
	err := row.Scan(
		&a.ID, &a.SubmissionID, &a.QuestionID, &a.Response, &a.IsCorrect, &a.AutoPoints,
		&a.ManualPoints, &a.GradingStatus, &a.GraderNotes, &a.GradedBy, &a.GradedAt, &a.Flagged, &a.UpdatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return a, nil
}

// Save upserts an answer. The submission row is share-locked for the length
// of the write, so a concurrent finalize waits for it and later writes see
// the completed status. A grader's manual decision survives re-saves.
func (r *AnswerRepository) Save(ctx context.Context, a *model.Answer) (*model.Answer, error) {
	var saved *model.Answer
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var status model.SubmissionStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM submissions WHERE id = $1::uuid FOR SHARE`, a.SubmissionID,
		).Scan(&status)
		if err != nil {
			return noRows(err)
		}
		if status == model.SubmissionCompleted {
			return ErrSubmissionClosed
		}

		saved, err = scanAnswer(tx.QueryRow(ctx,
			`INSERT INTO answers (submission_id, question_id, response, is_correct, auto_points,
			                      grading_status, flagged, updated_at)
			 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (submission_id, question_id) DO UPDATE SET
			     response = EXCLUDED.response,
			     is_correct = EXCLUDED.is_correct,
			     auto_points = EXCLUDED.auto_points,
			     grading_status = CASE WHEN answers.manual_points IS NULL
			                           THEN EXCLUDED.grading_status ELSE answers.grading_status END,
			     flagged = EXCLUDED.flagged,
			     updated_at = EXCLUDED.updated_at
			 RETURNING `+answerColumns,
			a.SubmissionID, a.QuestionID, a.Response, a.IsCorrect, a.AutoPoints,
			a.GradingStatus, a.Flagged, a.UpdatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ListBySubmission retrieves every answer of a submission.
func (r *AnswerRepository) ListBySubmission(ctx context.Context, submissionID string) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+answerColumns+` FROM answers
		 WHERE submission_id = $1::uuid ORDER BY updated_at`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// CountAnsweredBySession returns submission_id -> number of saved answers.
func (r *AnswerRepository) CountAnsweredBySession(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.submission_id::text, COUNT(*)
		 FROM answers a
		 JOIN submissions s ON s.id = a.submission_id
		 WHERE s.session_id = $1::uuid
		 GROUP BY a.submission_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ApplyManualGrades writes a batch of grader decisions atomically.
func (r *AnswerRepository) ApplyManualGrades(ctx context.Context, submissionID, graderID string, grades []model.ManualGrade, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, g := range grades {
			batch.Queue(
				`UPDATE answers
				 SET manual_points = $3, grading_status = $4, grader_notes = $5, graded_by = $6, graded_at = $7
				 WHERE id = $1::uuid AND submission_id = $2::uuid`,
				g.AnswerID, submissionID, g.Score, model.GradingManual, g.Notes, graderID, at,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range grades {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return err
			}
			if tag.RowsAffected() != 1 {
				br.Close()
				return ErrNotFound
			}
		}
		return br.Close()
	})
}
