package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// SessionOps are the staff operations on a whole exam session.
type SessionOps interface {
	ActivateSession(ctx context.Context, sessionID string) (*service.ActivationResult, error)
	CloseSession(ctx context.Context, sessionID string) (*service.BatchResult, error)
	FinalizeExpired(ctx context.Context, sessionID string) (*service.BatchResult, error)
	PublishResults(ctx context.Context, sessionID string) (int64, error)
}

// sessionOps stitches the three services that own session-wide actions.
type sessionOps struct {
	*service.AssemblyService
	*service.AttemptService
	*service.GradingService
}

// NewSessionOps combines the services behind SessionOps.
func NewSessionOps(assembly *service.AssemblyService, attempts *service.AttemptService, grading *service.GradingService) SessionOps {
	return sessionOps{assembly, attempts, grading}
}

// SessionHandler serves session-wide staff actions.
type SessionHandler struct {
	ops SessionOps
	log zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(ops SessionOps, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		ops: ops,
		log: log.With().Str("component", "session_handler").Logger(),
	}
}

// Activate godoc
// POST /api/v1/admin/sessions/:id/activate
// Assembles papers for every target student lacking one. Safe to repeat.
func (h *SessionHandler) Activate(c *gin.Context) {
	res, err := h.ops.ActivateSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Close godoc
// POST /api/v1/admin/sessions/:id/close
func (h *SessionHandler) Close(c *gin.Context) {
	res, err := h.ops.CloseSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Expire godoc
// POST /api/v1/admin/sessions/:id/expire
// Runs the expiry sweep for one session now instead of waiting for the worker.
func (h *SessionHandler) Expire(c *gin.Context) {
	res, err := h.ops.FinalizeExpired(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// Publish godoc
// POST /api/v1/admin/sessions/:id/publish
func (h *SessionHandler) Publish(c *gin.Context) {
	n, err := h.ops.PublishResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": c.Param("id"), "published": n})
}
