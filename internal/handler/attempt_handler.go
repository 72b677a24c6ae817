package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

// Attempts is the student-facing slice of *service.AttemptService.
type Attempts interface {
	ListForStudent(ctx context.Context, studentID string) ([]service.StudentSubmission, error)
	Open(ctx context.Context, submissionID, studentID string) (*service.AttemptView, error)
	SaveAnswer(ctx context.Context, submissionID, studentID, questionID string, resp json.RawMessage, flagged bool) (*model.Answer, error)
	Finish(ctx context.Context, submissionID, studentID string, final []model.FinalAnswer) (*service.FinalizeResult, error)
	Timer(ctx context.Context, submissionID, studentID string) (*service.TimerView, error)
}

// Violations is implemented by *service.IntegrityService.
type Violations interface {
	ReportViolation(ctx context.Context, submissionID, studentID string, vt model.ViolationType, details json.RawMessage) (*service.ViolationResult, error)
}

// AttemptHandler serves the exam client.
type AttemptHandler struct {
	attempts   Attempts
	violations Violations
	log        zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts Attempts, violations Violations, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:   attempts,
		violations: violations,
		log:        log.With().Str("component", "attempt_handler").Logger(),
	}
}

// savedAnswer is the ack for an answer write. Correctness is withheld from
// students.
type savedAnswer struct {
	QuestionID string    `json:"question_id"`
	Flagged    bool      `json:"flagged"`
	SavedAt    time.Time `json:"saved_at"`
}

// finishedAttempt is the student's view of a finalize outcome. Grades stay
// hidden until staff publish them.
type finishedAttempt struct {
	SubmissionID     string                 `json:"submission_id"`
	Status           model.SubmissionStatus `json:"status"`
	EndReason        *model.EndReason       `json:"end_reason,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	AlreadyFinalized bool                   `json:"already_finalized"`
}

func toFinished(res *service.FinalizeResult) finishedAttempt {
	return finishedAttempt{
		SubmissionID:     res.Submission.ID,
		Status:           res.Submission.Status,
		EndReason:        res.Submission.EndReason,
		FinishedAt:       res.Submission.FinishedAt,
		AlreadyFinalized: res.AlreadyFinalized,
	}
}

// ListSubmissions godoc
// GET /api/v1/student/submissions
func (h *AttemptHandler) ListSubmissions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	rows, err := h.attempts.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submissions": rows})
}

// Open godoc
// GET /api/v1/student/submissions/:id
// Starts the attempt on first call. Also serves page reloads.
func (h *AttemptHandler) Open(c *gin.Context) {
	claims := middleware.GetClaims(c)
	view, err := h.attempts.Open(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SaveAnswer godoc
// PUT /api/v1/student/submissions/:id/answers/:question_id
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attempts.SaveAnswer(c.Request.Context(), c.Param("id"), claims.UserID, c.Param("question_id"), req.Response, req.Flagged)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, savedAnswer{QuestionID: a.QuestionID, Flagged: a.Flagged, SavedAt: a.UpdatedAt})
}

// ReportViolation godoc
// POST /api/v1/student/submissions/:id/violations
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.ReportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.violations.ReportViolation(c.Request.Context(), c.Param("id"), claims.UserID, req.Type, req.Details)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Finish godoc
// POST /api/v1/student/submissions/:id/finish
// The body may carry answers the client has not saved yet.
func (h *AttemptHandler) Finish(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.FinishRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Finish(c.Request.Context(), c.Param("id"), claims.UserID, req.Answers)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, toFinished(res))
}

// Timer godoc
// GET /api/v1/student/submissions/:id/timer
func (h *AttemptHandler) Timer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	view, err := h.attempts.Timer(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}
