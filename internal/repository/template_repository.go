package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// TemplateRepository handles exam template data access.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// GetByID retrieves a template by ID.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.ExamTemplate, error) {
	t := &model.ExamTemplate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, title, bank_ids::text[], composition, tag_filters, randomize_questions,
		        randomization_rule, duration_minutes, min_submit_minutes, essays_at_end,
		        lockdown_enabled, max_violations, point_overrides
		 FROM exam_templates WHERE id = $1::uuid`, id,
	).Scan(
		&t.ID, &t.Title, &t.BankIDs, &t.Composition, &t.TagFilters, &t.RandomizeQuestions,
		&t.Randomization, &t.DurationMinutes, &t.MinSubmitMinutes, &t.EssaysAtEnd,
		&t.LockdownEnabled, &t.MaxViolations, &t.PointOverrides,
	)
	if err != nil {
		return nil, noRows(err)
	}
	return t, nil
}
