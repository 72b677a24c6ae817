package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
)

// Grading is implemented by *service.GradingService.
type Grading interface {
	Review(ctx context.Context, submissionID string) (*service.SubmissionReview, error)
	Recompute(ctx context.Context, submissionID string) (*engine.GradeSummary, error)
	ApplyManualGrades(ctx context.Context, submissionID, graderID string, updates []model.ManualGrade) (*engine.GradeSummary, error)
}

// Proctoring is the staff slice of *service.AttemptService.
type Proctoring interface {
	Timer(ctx context.Context, submissionID, studentID string) (*service.TimerView, error)
	GrantBonusTime(ctx context.Context, submissionID string, minutes int) (*service.TimerView, error)
}

// SubmissionHandler serves staff actions on a single submission.
type SubmissionHandler struct {
	grading    Grading
	proctoring Proctoring
	log        zerolog.Logger
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(grading Grading, proctoring Proctoring, log zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		grading:    grading,
		proctoring: proctoring,
		log:        log.With().Str("component", "submission_handler").Logger(),
	}
}

// Review godoc
// GET /api/v1/admin/submissions/:id
func (h *SubmissionHandler) Review(c *gin.Context) {
	review, err := h.grading.Review(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, review)
}

// ApplyGrades godoc
// POST /api/v1/admin/submissions/:id/grades
// All updates are applied or none are.
func (h *SubmissionHandler) ApplyGrades(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.ApplyManualGradesRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	grade, err := h.grading.ApplyManualGrades(c.Request.Context(), c.Param("id"), claims.UserID, req.Updates)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, grade)
}

// Recompute godoc
// POST /api/v1/admin/submissions/:id/recompute
func (h *SubmissionHandler) Recompute(c *gin.Context) {
	grade, err := h.grading.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, grade)
}

// Timer godoc
// GET /api/v1/admin/submissions/:id/timer
func (h *SubmissionHandler) Timer(c *gin.Context) {
	view, err := h.proctoring.Timer(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GrantBonusTime godoc
// POST /api/v1/admin/submissions/:id/bonus-time
func (h *SubmissionHandler) GrantBonusTime(c *gin.Context) {
	var req model.GrantBonusTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.proctoring.GrantBonusTime(c.Request.Context(), c.Param("id"), req.Minutes)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}
