package model

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownViolationType is returned for a reported event outside ViolationTypes.
var ErrUnknownViolationType = errors.New("unknown violation type")

// ViolationType classifies a client-observed integrity event.
type ViolationType string

const (
	ViolationTabSwitch         ViolationType = "tab_switch"
	ViolationWindowBlur        ViolationType = "window_blur"
	ViolationContextMenu       ViolationType = "context_menu"
	ViolationCopy              ViolationType = "copy"
	ViolationPaste             ViolationType = "paste"
	ViolationCut               ViolationType = "cut"
	ViolationScreenshotAttempt ViolationType = "screenshot_attempt"
)

var ViolationTypes = []ViolationType{
	ViolationTabSwitch,
	ViolationWindowBlur,
	ViolationContextMenu,
	ViolationCopy,
	ViolationPaste,
	ViolationCut,
	ViolationScreenshotAttempt,
}

func (v ViolationType) Valid() bool {
	for _, known := range ViolationTypes {
		if v == known {
			return true
		}
	}
	return false
}

// IntegrityState is the per-submission integrity classification.
type IntegrityState string

const (
	IntegrityClean      IntegrityState = "clean"
	IntegrityWarned     IntegrityState = "warned"
	IntegrityTerminated IntegrityState = "terminated"
)

// ReportViolationRequest is the client payload for one integrity event.
type ReportViolationRequest struct {
	Type    ViolationType   `json:"type" binding:"required,violation_type"`
	Details json.RawMessage `json:"details"`
}

// AuditKind separates entries in the attempt audit log.
type AuditKind string

const (
	AuditViolation AuditKind = "violation"
	AuditFinalized AuditKind = "finalized"
)

// AuditEntry is one row of the staff-facing attempt audit trail.
type AuditEntry struct {
	Kind          AuditKind       `json:"kind"`
	SubmissionID  string          `json:"submission_id"`
	SessionID     string          `json:"session_id"`
	StudentID     string          `json:"student_id"`
	ViolationType *ViolationType  `json:"violation_type,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}
