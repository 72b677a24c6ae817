package service

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// Domain errors surfaced to handlers.
var (
	ErrSessionNotFound         = errors.New("exam session not found")
	ErrTemplateNotFound        = errors.New("exam template not found")
	ErrSubmissionNotFound      = errors.New("submission not found")
	ErrSessionNotActivatable   = errors.New("exam session cannot be activated in its current status")
	ErrSessionNotOpen          = errors.New("exam session is not open")
	ErrInvalidTemplate         = errors.New("exam template is invalid")
	ErrSubmissionFinalized     = errors.New("submission is already finalized")
	ErrSubmissionNotStarted    = errors.New("submission has not been started")
	ErrNotSubmissionOwner      = errors.New("submission belongs to another student")
	ErrMinSubmitTimeNotReached = errors.New("minimum submit time not reached")
	ErrQuestionNotAssigned     = errors.New("question is not assigned to this submission")
	ErrAnswerNotInSubmission   = errors.New("answer does not belong to this submission")
	ErrInvalidScore            = errors.New("score is outside the question's point range")
	ErrInvalidBonusTime        = errors.New("bonus minutes must be positive")
)

// notFound maps repository.ErrNotFound onto a domain error and wraps the rest.
func notFound(err, domain error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain
	}
	return fmt.Errorf("%s: %w", op, err)
}

// closed maps repository.ErrSubmissionClosed onto ErrSubmissionFinalized.
func closed(err error, op string) error {
	if errors.Is(err, repository.ErrSubmissionClosed) {
		return ErrSubmissionFinalized
	}
	return fmt.Errorf("%s: %w", op, err)
}
