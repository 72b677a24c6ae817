package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionTimer     Action = "timer"
	ActionPing      Action = "ping"
)

// Request is one client frame. Fields unused by an action are ignored.
type Request struct {
	Action    Action `json:"action"`
	// RequestID is echoed back so the client can match acks to frames.
	RequestID string `json:"request_id,omitempty"`

	// autosave
	QuestionID string          `json:"question_id,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Flagged    bool            `json:"flagged,omitempty"`

	// violation
	Type    model.ViolationType `json:"type,omitempty"`
	Details json.RawMessage     `json:"details,omitempty"`

	// submit
	Answers []model.FinalAnswer `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventViolation Event = "violation"
	EventFinalized Event = "finalized"
	EventTimer     Event = "timer"
	EventPong      Event = "pong"
)

// Response wraps every server frame.
type Response struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorData carries the same code catalog as the HTTP API.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
