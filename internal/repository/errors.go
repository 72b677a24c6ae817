package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// Store-level sentinels. Services translate them into domain errors.
var (
	ErrNotFound = errors.New("record not found")
	// ErrSubmissionClosed is returned by guarded writes against a completed submission.
	ErrSubmissionClosed = errors.New("submission is closed")
)

func noRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
