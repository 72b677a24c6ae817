package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// IntegrityService records lockdown violations and terminates attempts that
// reach the template's ceiling.
type IntegrityService struct {
	attempts *AttemptService
	log      zerolog.Logger
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(attempts *AttemptService, log zerolog.Logger) *IntegrityService {
	return &IntegrityService{
		attempts: attempts,
		log:      log.With().Str("component", "integrity_service").Logger(),
	}
}

// ViolationResult is returned to the client after each report.
type ViolationResult struct {
	Counted      bool                 `json:"counted"`
	Count        int                  `json:"count"`
	State        model.IntegrityState `json:"state"`
	WarningsLeft int                  `json:"warnings_left"`
	Terminated   bool                 `json:"terminated"`
}

// ReportViolation counts one violation against a live attempt. Templates
// without lockdown accept the report but never count it.
func (s *IntegrityService) ReportViolation(ctx context.Context, submissionID, studentID string, vt model.ViolationType, details json.RawMessage) (*ViolationResult, error) {
	if !vt.Valid() {
		return nil, model.ErrUnknownViolationType
	}

	a, err := s.attempts.load(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.attempts.begin(ctx, a); err != nil {
		return nil, err
	}

	if !a.tmpl.LockdownEnabled {
		return &ViolationResult{
			Count:        a.sub.ViolationCount,
			State:        engine.Classify(a.sub.ViolationCount, a.tmpl.MaxViolations, false),
			WarningsLeft: engine.WarningsLeft(a.sub.ViolationCount, a.tmpl),
		}, nil
	}

	count, err := s.attempts.stores.Submissions.IncrementViolations(ctx, submissionID)
	if err != nil {
		return nil, closed(err, "increment violations")
	}
	a.sub.ViolationCount = count

	state := engine.Classify(count, a.tmpl.MaxViolations, false)
	s.log.Warn().
		Str("submission_id", submissionID).
		Str("student_id", a.sub.StudentID).
		Str("type", string(vt)).
		Int("count", count).
		Str("state", string(state)).
		Msg("Violation recorded")

	s.attempts.enqueueAudit(ctx, model.AuditEntry{
		Kind:          model.AuditViolation,
		SubmissionID:  submissionID,
		SessionID:     a.sub.SessionID,
		StudentID:     a.sub.StudentID,
		ViolationType: &vt,
		Details:       details,
		RecordedAt:    s.attempts.now(),
	})
	s.attempts.publish(ctx, a.sub.SessionID, events.TypeViolationRecorded, events.ViolationRecorded{
		SubmissionID: submissionID,
		StudentID:    a.sub.StudentID,
		Type:         vt,
		Count:        count,
		State:        state,
	})

	res := &ViolationResult{
		Counted:      true,
		Count:        count,
		State:        state,
		WarningsLeft: engine.WarningsLeft(count, a.tmpl),
	}
	if engine.CeilingReached(count, a.tmpl) {
		if _, err := s.attempts.finalize(ctx, a, model.EndReasonViolationLimit); err != nil {
			return nil, err
		}
		res.Terminated = true
	}
	return res, nil
}
