package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StudentRepository reads the local mirror of the school directory.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

// Names maps student ids to display names. Unknown ids are omitted.
func (r *StudentRepository) Names(ctx context.Context, ids []string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM students WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// ListIDsByClasses returns the ids of every student enrolled in the classes.
func (r *StudentRepository) ListIDsByClasses(ctx context.Context, classIDs []string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM students WHERE class_id = ANY($1) ORDER BY id`, classIDs,
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
