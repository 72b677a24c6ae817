package model

import "time"

// SessionStatus enumerates exam session lifecycle states.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// ExamSession is a scheduled run of a template for a set of students.
type ExamSession struct {
	ID               string        `json:"id"`
	TemplateID       string        `json:"template_id"`
	Title            string        `json:"title"`
	StartsAt         time.Time     `json:"starts_at"`
	EndsAt           time.Time     `json:"ends_at"`
	Status           SessionStatus `json:"status"`
	TargetStudentIDs []string      `json:"target_student_ids"`
	TargetClassIDs   []string      `json:"target_class_ids"`
	ActivatedAt      *time.Time    `json:"activated_at,omitempty"`
}

// Open reports whether students may still work on the session at now.
func (s *ExamSession) Open(now time.Time) bool {
	return s.Status == SessionStatusActive && !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}
