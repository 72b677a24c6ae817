package model

import (
	"encoding/json"
	"time"
)

// SubmissionStatus tracks a student's attempt.
type SubmissionStatus string

const (
	SubmissionNotStarted SubmissionStatus = "not_started"
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionCompleted  SubmissionStatus = "completed"
)

// EndReason records why an attempt was finalized.
type EndReason string

const (
	EndReasonSubmitted      EndReason = "submitted"
	EndReasonTimeout        EndReason = "timeout"
	EndReasonViolationLimit EndReason = "violation_limit"
	EndReasonSessionClosed  EndReason = "session_closed"
)

// GradingStatus is shared by submissions and answers. Answers never reach
// published; submissions never sit in manual.
type GradingStatus string

const (
	GradingAuto          GradingStatus = "auto"
	GradingPendingManual GradingStatus = "pending_manual"
	GradingManual        GradingStatus = "manual"
	GradingCompleted     GradingStatus = "completed"
	GradingPublished     GradingStatus = "published"
)

// Submission is one student's attempt at one session.
type Submission struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	StudentID      string           `json:"student_id"`
	QuestionOrder  []string         `json:"question_order"`
	Status         SubmissionStatus `json:"status"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
	EndReason      *EndReason       `json:"end_reason,omitempty"`
	BonusMinutes   int              `json:"bonus_minutes"`
	ViolationCount int              `json:"violation_count"`
	EarnedPoints   float64          `json:"earned_points"`
	TotalPoints    float64          `json:"total_points"`
	Score          int              `json:"score"`
	GradingStatus  GradingStatus    `json:"grading_status"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Finalized reports whether the attempt is closed to further mutation.
func (s Submission) Finalized() bool {
	return s.Status == SubmissionCompleted
}

// Assigned reports whether questionID is part of the submission's order.
func (s Submission) Assigned(questionID string) bool {
	for _, id := range s.QuestionOrder {
		if id == questionID {
			return true
		}
	}
	return false
}

// Answer is one response to one assigned question.
type Answer struct {
	ID            string          `json:"id"`
	SubmissionID  string          `json:"submission_id"`
	QuestionID    string          `json:"question_id"`
	Response      json.RawMessage `json:"response"`
	IsCorrect     *bool           `json:"is_correct,omitempty"`
	AutoPoints    *float64        `json:"auto_points,omitempty"`
	ManualPoints  *float64        `json:"manual_points,omitempty"`
	GradingStatus GradingStatus   `json:"grading_status"`
	GraderNotes   *string         `json:"grader_notes,omitempty"`
	GradedBy      *string         `json:"graded_by,omitempty"`
	GradedAt      *time.Time      `json:"graded_at,omitempty"`
	Flagged       bool            `json:"flagged"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Awarded returns the points that count toward the score. Manual points win.
func (a *Answer) Awarded() float64 {
	if a.ManualPoints != nil {
		return *a.ManualPoints
	}
	if a.AutoPoints != nil {
		return *a.AutoPoints
	}
	return 0
}

// SaveAnswerRequest is the payload for saving one answer.
type SaveAnswerRequest struct {
	Response json.RawMessage `json:"response" binding:"required"`
	Flagged  bool            `json:"flagged"`
}

// FinishRequest optionally carries answers the client has not yet saved.
type FinishRequest struct {
	Answers []FinalAnswer `json:"answers" binding:"omitempty,dive"`
}

// FinalAnswer is one unsaved answer sent along with a finish request.
type FinalAnswer struct {
	QuestionID string          `json:"question_id" binding:"required"`
	Response   json.RawMessage `json:"response" binding:"required"`
	Flagged    bool            `json:"flagged"`
}

// GrantBonusTimeRequest is the staff payload for extending an attempt.
type GrantBonusTimeRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=600"`
}

// ManualGrade is one grader decision for one answer.
type ManualGrade struct {
	AnswerID string  `json:"answer_id" binding:"required"`
	Score    float64 `json:"score" binding:"min=0"`
	Notes    *string `json:"notes" binding:"omitempty,max=2000"`
}

// ApplyManualGradesRequest carries a batch of grader decisions.
type ApplyManualGradesRequest struct {
	Updates []ManualGrade `json:"updates" binding:"required,min=1,dive"`
}
