package events

import (
	"encoding/json"
	"time"

	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Event types. The bus topic is "<prefix>.<type>".
const (
	TypeSessionActivated  = "session.activated"
	TypeAttemptStarted    = "attempt.started"
	TypeAttemptFinalized  = "attempt.finalized"
	TypeViolationRecorded = "attempt.violation"
	TypeGradesUpdated     = "attempt.graded"
	TypeResultsPublished  = "session.results_published"
)

// Event is the envelope shared by every published message.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type SessionActivated struct {
	SessionID       string `json:"session_id"`
	Assigned        int    `json:"assigned"`
	AlreadyAssigned int    `json:"already_assigned"`
}

type AttemptStarted struct {
	SubmissionID string    `json:"submission_id"`
	StudentID    string    `json:"student_id"`
	StartedAt    time.Time `json:"started_at"`
	EffectiveEnd time.Time `json:"effective_end"`
}

type AttemptFinalized struct {
	SubmissionID string               `json:"submission_id"`
	StudentID    string               `json:"student_id"`
	Reason       model.EndReason      `json:"reason"`
	FinishedAt   time.Time            `json:"finished_at"`
	Grade        *engine.GradeSummary `json:"grade,omitempty"`
}

type ViolationRecorded struct {
	SubmissionID string               `json:"submission_id"`
	StudentID    string               `json:"student_id"`
	Type         model.ViolationType  `json:"type"`
	Count        int                  `json:"count"`
	State        model.IntegrityState `json:"state"`
}

type GradesUpdated struct {
	SubmissionID string              `json:"submission_id"`
	Grade        engine.GradeSummary `json:"grade"`
}

type ResultsPublished struct {
	SessionID string `json:"session_id"`
	Published int64  `json:"published"`
}
