package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// QuestionRepository reads bank items, answer keys included.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const bankItemColumns = `id::text, bank_id::text, question_type, tags, difficulty, default_points, content, answer_key`

// ListByBanks retrieves every item of the given banks.
func (r *QuestionRepository) ListByBanks(ctx context.Context, bankIDs []string) ([]model.BankItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bankItemColumns+`
		 FROM bank_items WHERE bank_id = ANY($1::uuid[])
		 ORDER BY id`, bankIDs,
	)
	if err != nil {
		return nil, err
	}
	return collectBankItems(rows)
}

// GetByIDs retrieves the given items. Missing ids are skipped.
func (r *QuestionRepository) GetByIDs(ctx context.Context, ids []string) ([]model.BankItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+bankItemColumns+`
		 FROM bank_items WHERE id = ANY($1::uuid[])`, ids,
	)
	if err != nil {
		return nil, err
	}
	return collectBankItems(rows)
}

func collectBankItems(rows pgx.Rows) ([]model.BankItem, error) {
	defer rows.Close()

	var items []model.BankItem
	for rows.Next() {
		var it model.BankItem
		if err := rows.Scan(
			&it.ID, &it.BankID, &it.Type, &it.Tags, &it.Difficulty,
			&it.DefaultPoints, &it.Content, &it.AnswerKey,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
