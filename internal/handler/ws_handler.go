package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
	ws "github.com/stemsi/exstem-session-engine/internal/websocket"
)

// opTimeout bounds each frame's service call so one slow write cannot hold
// the read loop forever.
const opTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler runs the attempt stream: autosave, violation reports, timer
// checks and submit over one socket.
type WSHandler struct {
	attempts   Attempts
	violations Violations
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts Attempts, violations Violations, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:   attempts,
		violations: violations,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/submissions/:id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	submissionID := c.Param("id")
	studentID := claims.UserID

	// Ownership and liveness are checked before the upgrade so the client
	// gets a normal HTTP error.
	view, err := h.attempts.Open(c.Request.Context(), submissionID, studentID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if view.ReadOnly {
		response.Fail(c, http.StatusConflict, response.ErrSubmissionFinalized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("submission_id", submissionID).
		Logger()
	wsLog.Info().Msg("Student connected")

	for {
		req, err := ws.ReadRequest(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if done := h.dispatch(conn, wsLog, submissionID, studentID, req); done {
			return
		}
	}
}

// dispatch handles one frame. It returns true once the attempt is closed
// and the socket should be released.
func (h *WSHandler) dispatch(conn *websocket.Conn, log zerolog.Logger, submissionID, studentID string, req *ws.Request) bool {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch req.Action {
	case ws.ActionPing:
		ws.Write(conn, ws.EventPong, req.RequestID, nil)

	case ws.ActionAutosave:
		if req.QuestionID == "" || len(req.Response) == 0 {
			ws.WriteError(conn, req.RequestID, string(response.ErrInvalidPayload), "question_id and response are required")
			return false
		}
		a, err := h.attempts.SaveAnswer(ctx, submissionID, studentID, req.QuestionID, req.Response, req.Flagged)
		if err != nil {
			return h.writeErr(conn, log, req.RequestID, err)
		}
		ws.Write(conn, ws.EventSaved, req.RequestID, savedAnswer{QuestionID: a.QuestionID, Flagged: a.Flagged, SavedAt: a.UpdatedAt})

	case ws.ActionViolation:
		res, err := h.violations.ReportViolation(ctx, submissionID, studentID, req.Type, req.Details)
		if err != nil {
			return h.writeErr(conn, log, req.RequestID, err)
		}
		ws.Write(conn, ws.EventViolation, req.RequestID, res)
		if res.Terminated {
			ws.Write(conn, ws.EventFinalized, "", gin.H{"end_reason": model.EndReasonViolationLimit})
			return true
		}

	case ws.ActionTimer:
		view, err := h.attempts.Timer(ctx, submissionID, studentID)
		if err != nil {
			return h.writeErr(conn, log, req.RequestID, err)
		}
		ws.Write(conn, ws.EventTimer, req.RequestID, view)

	case ws.ActionSubmit:
		res, err := h.attempts.Finish(ctx, submissionID, studentID, req.Answers)
		if err != nil {
			return h.writeErr(conn, log, req.RequestID, err)
		}
		log.Info().Bool("already_finalized", res.AlreadyFinalized).Msg("Attempt submitted over stream")
		ws.Write(conn, ws.EventFinalized, req.RequestID, toFinished(res))
		return true

	default:
		log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
		ws.WriteError(conn, req.RequestID, string(response.ErrInvalidPayload), "unknown action: "+string(req.Action))
	}
	return false
}

// writeErr reports a failed frame. A finalized attempt ends the stream.
func (h *WSHandler) writeErr(conn *websocket.Conn, log zerolog.Logger, requestID string, err error) bool {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Stream operation failed")
	}
	ws.WriteError(conn, requestID, string(code), response.GetMessage(code))
	return errors.Is(err, service.ErrSubmissionFinalized)
}
