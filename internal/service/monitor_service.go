package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// MonitorService builds the proctor's view of a running session.
type MonitorService struct {
	stores Stores
	now    Clock
	log    zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(stores Stores, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		stores: stores,
		now:    time.Now,
		log:    log.With().Str("component", "monitor_service").Logger(),
	}
}

// StudentProgress is one row of the monitor table.
type StudentProgress struct {
	SubmissionID     string                 `json:"submission_id"`
	StudentID        string                 `json:"student_id"`
	StudentName      string                 `json:"student_name,omitempty"`
	Status           model.SubmissionStatus `json:"status"`
	EndReason        *model.EndReason       `json:"end_reason,omitempty"`
	Answered         int                    `json:"answered"`
	Total            int                    `json:"total"`
	ViolationCount   int                    `json:"violation_count"`
	IntegrityState   model.IntegrityState   `json:"integrity_state"`
	RemainingSeconds int64                  `json:"remaining_seconds"`
	Score            *int                   `json:"score,omitempty"`
}

// SessionSnapshot is the full monitor payload sent when a proctor connects.
type SessionSnapshot struct {
	Session         *model.ExamSession `json:"session"`
	Students        []StudentProgress  `json:"students"`
	NotStarted      int                `json:"not_started"`
	InProgress      int                `json:"in_progress"`
	Completed       int                `json:"completed"`
	TotalViolations int                `json:"total_violations"`
	ServerTime      time.Time          `json:"server_time"`
}

// Snapshot loads submissions and answered counts concurrently. Answered
// counts and names are best effort.
func (s *MonitorService) Snapshot(ctx context.Context, sessionID string) (*SessionSnapshot, error) {
	sess, err := s.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound, "get session")
	}
	tmpl, err := s.stores.Templates.GetByID(ctx, sess.TemplateID)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound, "get template")
	}

	var (
		subs        []model.Submission
		answered    map[string]int
		subsErr     error
		answeredErr error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		subs, subsErr = s.stores.Submissions.ListBySession(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		answered, answeredErr = s.stores.Answers.CountAnsweredBySession(ctx, sessionID)
	}()
	wg.Wait()

	if subsErr != nil {
		return nil, fmt.Errorf("list submissions: %w", subsErr)
	}
	if answeredErr != nil {
		s.log.Warn().Err(answeredErr).Str("session_id", sessionID).Msg("Answered counts unavailable")
	}

	ids := make([]string, len(subs))
	for i := range subs {
		ids[i] = subs[i].StudentID
	}
	names, err := s.stores.Students.Names(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Student names unavailable")
	}

	now := s.now()
	snap := &SessionSnapshot{
		Session:    sess,
		Students:   make([]StudentProgress, 0, len(subs)),
		ServerTime: now,
	}
	for i := range subs {
		sub := &subs[i]
		a := &attempt{sub: sub, sess: sess, tmpl: tmpl}
		row := StudentProgress{
			SubmissionID:   sub.ID,
			StudentID:      sub.StudentID,
			StudentName:    names[sub.StudentID],
			Status:         sub.Status,
			EndReason:      sub.EndReason,
			Answered:       answered[sub.ID],
			Total:          len(sub.QuestionOrder),
			ViolationCount: sub.ViolationCount,
			IntegrityState: integrityState(a, now),
		}

		switch sub.Status {
		case model.SubmissionNotStarted:
			snap.NotStarted++
		case model.SubmissionInProgress:
			snap.InProgress++
			row.RemainingSeconds = int64(engine.Remaining(engine.EffectiveEnd(sub, tmpl, sess), now) / time.Second)
		case model.SubmissionCompleted:
			snap.Completed++
			score := sub.Score
			row.Score = &score
		}
		snap.TotalViolations += sub.ViolationCount
		snap.Students = append(snap.Students, row)
	}
	return snap, nil
}
