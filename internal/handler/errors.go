package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// classify maps a service error onto an HTTP status and catalog code.
// Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	var short *engine.InsufficientQuestionsError
	switch {
	case errors.As(err, &short):
		return http.StatusUnprocessableEntity, response.ErrInsufficientQuestions

	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrTemplateNotFound):
		return http.StatusNotFound, response.ErrNotFound

	case errors.Is(err, service.ErrNotSubmissionOwner):
		return http.StatusForbidden, response.ErrNotSubmissionOwner

	case errors.Is(err, service.ErrSessionNotActivatable):
		return http.StatusConflict, response.ErrSessionNotActivatable
	case errors.Is(err, service.ErrSessionNotOpen):
		return http.StatusConflict, response.ErrSessionNotOpen
	case errors.Is(err, service.ErrSubmissionFinalized):
		return http.StatusConflict, response.ErrSubmissionFinalized
	case errors.Is(err, service.ErrSubmissionNotStarted):
		return http.StatusConflict, response.ErrSubmissionNotStarted
	case errors.Is(err, service.ErrMinSubmitTimeNotReached):
		return http.StatusConflict, response.ErrMinSubmitTime

	case errors.Is(err, service.ErrInvalidTemplate),
		errors.Is(err, model.ErrUnknownRuleMode),
		errors.Is(err, model.ErrUnknownQuestionType):
		return http.StatusUnprocessableEntity, response.ErrInvalidTemplate
	case errors.Is(err, service.ErrQuestionNotAssigned):
		return http.StatusUnprocessableEntity, response.ErrQuestionNotAssigned
	case errors.Is(err, model.ErrUnknownViolationType):
		return http.StatusBadRequest, response.ErrInvalidViolationType
	case errors.Is(err, service.ErrInvalidBonusTime):
		return http.StatusBadRequest, response.ErrInvalidBonusTime
	case errors.Is(err, service.ErrInvalidScore):
		return http.StatusUnprocessableEntity, response.ErrInvalidScore
	case errors.Is(err, service.ErrAnswerNotInSubmission):
		return http.StatusUnprocessableEntity, response.ErrAnswerNotInSubmission

	case errors.Is(err, engine.ErrGradingDenominatorMismatch):
		return http.StatusInternalServerError, response.ErrGradingInconsistent
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// fail writes err as an API error. 5xx errors are logged with the route.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}

	var short *engine.InsufficientQuestionsError
	if errors.As(err, &short) {
		response.FailWithDetails(c, status, code, gin.H{"shortfalls": short.Shortfalls})
		return
	}
	response.Fail(c, status, code)
}
