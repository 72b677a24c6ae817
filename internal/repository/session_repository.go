package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// SessionRepository handles exam session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, template_id::text, title, starts_at, ends_at, status,
		        target_student_ids, target_class_ids, activated_at
		 FROM exam_sessions WHERE id = $1::uuid`, id,
	).Scan(
		&s.ID, &s.TemplateID, &s.Title, &s.StartsAt, &s.EndsAt, &s.Status,
		&s.TargetStudentIDs, &s.TargetClassIDs, &s.ActivatedAt,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return s, nil
}

// ListActive returns every active session, oldest end first. The expiry
// sweeper walks this list.
func (r *SessionRepository) ListActive(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text FROM exam_sessions WHERE status = $1 ORDER BY ends_at`,
		model.SessionStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkActive moves a scheduled session to active.
func (r *SessionRepository) MarkActive(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, activated_at = COALESCE(activated_at, $2)
		 WHERE id = $3::uuid AND status = $4`,
		model.SessionStatusActive, at, id, model.SessionStatusScheduled)
	return err
}

// MarkCompleted closes a session. Cancelled sessions stay cancelled.
func (r *SessionRepository) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET status = $1
		 WHERE id = $2::uuid AND status <> $3`,
		model.SessionStatusCompleted, id, model.SessionStatusCancelled)
	return err
}
