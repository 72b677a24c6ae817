package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// SubmissionRepository handles submission data access. Every state change
// is a single guarded UPDATE so concurrent callers cannot both win.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

const submissionColumns = `id::text, session_id::text, student_id, question_order, status, started_at,
	finished_at, end_reason, bonus_minutes, violation_count, earned_points, total_points, score,
	grading_status, created_at`

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	err := row.Scan(
		&s.ID, &s.SessionID, &s.StudentID, &s.QuestionOrder, &s.Status, &s.StartedAt,
		&s.FinishedAt, &s.EndReason, &s.BonusMinutes, &s.ViolationCount, &s.EarnedPoints, &s.TotalPoints, &s.Score,
		&s.GradingStatus, &s.CreatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return s, nil
}

// GetByID retrieves a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1::uuid`, id))
}

// ListBySession retrieves every submission of a session ordered by student.
func (r *SubmissionRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE session_id = $1::uuid ORDER BY student_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// ListByStudent retrieves a student's submissions, newest session first.
func (r *SubmissionRepository) ListByStudent(ctx context.Context, studentID string) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE student_id = $1 ORDER BY created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

// CreateAssignments inserts every paper in one statement. Students that
// already hold a submission for the session are skipped by the unique key.
func (r *SubmissionRepository) CreateAssignments(ctx context.Context, sessionID string, orders map[string][]string) ([]string, error) {
	students := make([]string, 0, len(orders))
	papers := make([]string, 0, len(orders))
	for studentID, order := range orders {
		b, err := json.Marshal(order)
		if err != nil {
			return nil, fmt.Errorf("marshal order for %s: %w", studentID, err)
		}
		students = append(students, studentID)
		papers = append(papers, string(b))
	}

	rows, err := r.pool.Query(ctx,
		`INSERT INTO submissions (session_id, student_id, question_order, status, grading_status)
		 SELECT $1::uuid, u.student_id, u.paper::jsonb, $4, $5
		 FROM UNNEST($2::text[], $3::text[]) AS u(student_id, paper)
		 ON CONFLICT (session_id, student_id) DO NOTHING
		 RETURNING student_id`,
		sessionID, students, papers, model.SubmissionNotStarted, model.GradingAuto,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var created []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		created = append(created, id)
	}
	return created, rows.Err()
}

// MarkStarted records the first open. started_at is never overwritten.
func (r *SubmissionRepository) MarkStarted(ctx context.Context, id string, at time.Time) (*model.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET started_at = COALESCE(started_at, $2), status = $3
		 WHERE id = $1::uuid AND status <> $4
		 RETURNING `+submissionColumns,
		id, at, model.SubmissionInProgress, model.SubmissionCompleted))
	if errors.Is(err, ErrNotFound) {
		return nil, r.closedOrMissing(ctx, id)
	}
	return s, err
}

// IncrementViolations adds one violation and returns the new count.
func (r *SubmissionRepository) IncrementViolations(ctx context.Context, id string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE submissions SET violation_count = violation_count + 1
		 WHERE id = $1::uuid AND status <> $2
		 RETURNING violation_count`,
		id, model.SubmissionCompleted,
	).Scan(&count)
	if err != nil {
		if errors.Is(noRows(err), ErrNotFound) {
			return 0, r.closedOrMissing(ctx, id)
		}
		return 0, err
	}
	return count, nil
}

// AddBonusMinutes extends a live attempt.
func (r *SubmissionRepository) AddBonusMinutes(ctx context.Context, id string, minutes int) (*model.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions SET bonus_minutes = bonus_minutes + $2
		 WHERE id = $1::uuid AND status <> $3
		 RETURNING `+submissionColumns,
		id, minutes, model.SubmissionCompleted))
	if errors.Is(err, ErrNotFound) {
		return nil, r.closedOrMissing(ctx, id)
	}
	return s, err
}

// Finalize closes the submission. Only the caller whose UPDATE matched the
// open row gets flipped=true.
func (r *SubmissionRepository) Finalize(ctx context.Context, id string, reason model.EndReason, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET status = $2, end_reason = $3, finished_at = $4
		 WHERE id = $1::uuid AND status <> $2`,
		id, model.SubmissionCompleted, reason, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// SaveGrade stores a recomputed aggregate.
func (r *SubmissionRepository) SaveGrade(ctx context.Context, id string, g *engine.GradeSummary) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET earned_points = $2, total_points = $3, score = $4, grading_status = $5
		 WHERE id = $1::uuid`,
		id, g.EarnedPoints, g.TotalPoints, g.Score, g.GradingStatus)
	return err
}

// PublishSession releases every fully graded, finished submission.
func (r *SubmissionRepository) PublishSession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions SET grading_status = $2
		 WHERE session_id = $1::uuid AND status = $3 AND grading_status = $4`,
		sessionID, model.GradingPublished, model.SubmissionCompleted, model.GradingCompleted)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// closedOrMissing explains why a guarded UPDATE matched nothing.
func (r *SubmissionRepository) closedOrMissing(ctx context.Context, id string) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrSubmissionClosed
}
