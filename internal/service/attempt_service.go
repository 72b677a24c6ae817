package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AttemptService owns the life of a submission from first open to
// finalization.
type AttemptService struct {
	stores  Stores
	papers  PaperCache
	grading *GradingService
	events  EventPublisher
	audit   AuditQueue
	now     Clock
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService. papers and audit may be nil.
func NewAttemptService(
	stores Stores,
	papers PaperCache,
	grading *GradingService,
	pub EventPublisher,
	audit AuditQueue,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		stores:  stores,
		papers:  papers,
		grading: grading,
		events:  pub,
		audit:   audit,
		now:     time.Now,
		log:     log.With().Str("component", "attempt_service").Logger(),
	}
}

// StudentAnswer is the student's own view of a saved answer.
type StudentAnswer struct {
	QuestionID string          `json:"question_id"`
	Response   json.RawMessage `json:"response"`
	Flagged    bool            `json:"flagged"`
}

// AttemptView is everything the exam client needs to render an attempt.
type AttemptView struct {
	SubmissionID     string                     `json:"submission_id"`
	SessionID        string                     `json:"session_id"`
	Title            string                     `json:"title"`
	Status           model.SubmissionStatus     `json:"status"`
	ReadOnly         bool                       `json:"read_only"`
	EndReason        *model.EndReason           `json:"end_reason,omitempty"`
	StartedAt        *time.Time                 `json:"started_at,omitempty"`
	EffectiveEnd     time.Time                  `json:"effective_end"`
	RemainingSeconds int64                      `json:"remaining_seconds"`
	EarliestFinish   *time.Time                 `json:"earliest_finish,omitempty"`
	ServerTime       time.Time                  `json:"server_time"`
	LockdownEnabled  bool                       `json:"lockdown_enabled"`
	ViolationCount   int                        `json:"violation_count"`
	MaxViolations    int                        `json:"max_violations"`
	IntegrityState   model.IntegrityState       `json:"integrity_state"`
	Questions        []model.QuestionForStudent `json:"questions"`
	Answers          []StudentAnswer            `json:"answers"`
}

// TimerView is the authoritative clock for one attempt.
type TimerView struct {
	SubmissionID     string     `json:"submission_id"`
	StartedAt        *time.Time `json:"started_at"`
	BonusMinutes     int        `json:"bonus_minutes"`
	EffectiveEnd     time.Time  `json:"effective_end"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	EarliestFinish   *time.Time `json:"earliest_finish,omitempty"`
	ServerTime       time.Time  `json:"server_time"`
}

// FinalizeResult describes the outcome of a finalize request.
type FinalizeResult struct {
	Submission       *model.Submission    `json:"submission"`
	AlreadyFinalized bool                 `json:"already_finalized"`
	Grade            *engine.GradeSummary `json:"grade,omitempty"`
}

// BatchFailure is one submission a batch operation could not finalize.
type BatchFailure struct {
	SubmissionID string `json:"submission_id"`
	Error        string `json:"error"`
}

// BatchResult summarises a session-wide finalize sweep.
type BatchResult struct {
	SessionID string         `json:"session_id"`
	Finalized []string       `json:"finalized"`
	Skipped   int            `json:"skipped"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// attempt is a submission loaded together with its session and template.
type attempt struct {
	sub  *model.Submission
	sess *model.ExamSession
	tmpl *model.ExamTemplate
}

// load fetches a submission and its context. A non-empty studentID must own
// the submission.
func (s *AttemptService) load(ctx context.Context, submissionID, studentID string) (*attempt, error) {
	sub, err := s.stores.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, notFound(err, ErrSubmissionNotFound, "get submission")
	}
	if studentID != "" && sub.StudentID != studentID {
		return nil, ErrNotSubmissionOwner
	}

	sess, err := s.stores.Sessions.GetByID(ctx, sub.SessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound, "get session")
	}
	tmpl, err := s.stores.Templates.GetByID(ctx, sess.TemplateID)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound, "get template")
	}
	return &attempt{sub: sub, sess: sess, tmpl: tmpl}, nil
}

// begin guards every student mutation. It starts the attempt on first use
// and finalizes it silently once its time is up, in which case it returns
// ErrSubmissionFinalized.
func (s *AttemptService) begin(ctx context.Context, a *attempt) error {
	if a.sub.Finalized() {
		return ErrSubmissionFinalized
	}

	now := s.now()
	switch a.sess.Status {
	case model.SessionStatusCompleted, model.SessionStatusCancelled:
		s.finalizeQuietly(ctx, a, model.EndReasonSessionClosed)
		return ErrSubmissionFinalized
	case model.SessionStatusScheduled:
		return ErrSessionNotOpen
	}

	if a.sub.StartedAt == nil {
		if now.Before(a.sess.StartsAt) {
			return ErrSessionNotOpen
		}
		if !now.Before(a.sess.EndsAt) {
			s.finalizeQuietly(ctx, a, model.EndReasonTimeout)
			return ErrSubmissionFinalized
		}

		started, err := s.stores.Submissions.MarkStarted(ctx, a.sub.ID, now)
		if err != nil {
			return closed(err, "mark started")
		}
		a.sub = started

		s.log.Info().
			Str("submission_id", started.ID).
			Str("student_id", started.StudentID).
			Msg("Attempt started")
		s.publish(ctx, started.SessionID, events.TypeAttemptStarted, events.AttemptStarted{
			SubmissionID: started.ID,
			StudentID:    started.StudentID,
			StartedAt:    *started.StartedAt,
			EffectiveEnd: engine.EffectiveEnd(started, a.tmpl, a.sess),
		})
	}

	if engine.Expired(a.sub, a.tmpl, a.sess, now) {
		s.finalizeQuietly(ctx, a, model.EndReasonTimeout)
		return ErrSubmissionFinalized
	}
	return nil
}

// finalizeQuietly closes an attempt on the student's behalf and refreshes a.
// Errors are logged; the caller reports ErrSubmissionFinalized either way.
func (s *AttemptService) finalizeQuietly(ctx context.Context, a *attempt, reason model.EndReason) {
	res, err := s.finalize(ctx, a, reason)
	if err != nil {
		s.log.Error().Err(err).Str("submission_id", a.sub.ID).Str("reason", string(reason)).Msg("Implicit finalize failed")
		return
	}
	a.sub = res.Submission
}

// Open returns the student's attempt, starting it on first call. An attempt
// whose time ran out is finalized and returned read-only.
func (s *AttemptService) Open(ctx context.Context, submissionID, studentID string) (*AttemptView, error) {
	a, err := s.load(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, a); err != nil && !errors.Is(err, ErrSubmissionFinalized) {
		return nil, err
	}

	questions, err := s.paper(ctx, a)
	if err != nil {
		return nil, err
	}
	answers, err := s.stores.Answers.ListBySubmission(ctx, a.sub.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	now := s.now()
	end := engine.EffectiveEnd(a.sub, a.tmpl, a.sess)
	view := &AttemptView{
		SubmissionID:     a.sub.ID,
		SessionID:        a.sess.ID,
		Title:            a.sess.Title,
		Status:           a.sub.Status,
		ReadOnly:         a.sub.Finalized(),
		EndReason:        a.sub.EndReason,
		StartedAt:        a.sub.StartedAt,
		EffectiveEnd:     end,
		RemainingSeconds: int64(engine.Remaining(end, now) / time.Second),
		ServerTime:       now,
		LockdownEnabled:  a.tmpl.LockdownEnabled,
		ViolationCount:   a.sub.ViolationCount,
		MaxViolations:    a.tmpl.MaxViolations,
		IntegrityState:   integrityState(a, now),
		Questions:        questions,
		Answers:          make([]StudentAnswer, 0, len(answers)),
	}
	if view.ReadOnly {
		view.RemainingSeconds = 0
	}
	if earliest, ok := engine.EarliestFinish(a.sub, a.tmpl); ok {
		view.EarliestFinish = &earliest
	}
	for _, ans := range answers {
		view.Answers = append(view.Answers, StudentAnswer{
			QuestionID: ans.QuestionID,
			Response:   ans.Response,
			Flagged:    ans.Flagged,
		})
	}
	return view, nil
}

func integrityState(a *attempt, now time.Time) model.IntegrityState {
	terminated := a.sub.EndReason != nil && *a.sub.EndReason == model.EndReasonViolationLimit
	expired := a.sub.StartedAt != nil && engine.Expired(a.sub, a.tmpl, a.sess, now)
	return engine.Classify(a.sub.ViolationCount, a.tmpl.MaxViolations, terminated || expired)
}

// paper resolves the assigned questions in the student's order, reading the
// session cache first and falling back to the bank.
func (s *AttemptService) paper(ctx context.Context, a *attempt) ([]model.QuestionForStudent, error) {
	order := a.sub.QuestionOrder
	found := make(map[string]model.QuestionForStudent, len(order))

	if s.papers != nil {
		cached, err := s.papers.Get(ctx, a.sess.ID, order)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", a.sess.ID).Msg("Paper cache read failed, falling back to bank")
		}
		for id, q := range cached {
			found[id] = q
		}
	}

	var missing []string
	for _, id := range order {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		items, err := s.stores.Questions.GetByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("get questions: %w", err)
		}
		for i := range items {
			found[items[i].ID] = studentQuestion(&items[i], a.tmpl)
		}
	}

	out := make([]model.QuestionForStudent, 0, len(order))
	for i, id := range order {
		q, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("question %s of submission %s no longer exists", id, a.sub.ID)
		}
		q.Number = i + 1
		out = append(out, q)
	}
	return out, nil
}

func studentQuestion(item *model.BankItem, tmpl *model.ExamTemplate) model.QuestionForStudent {
	return model.QuestionForStudent{
		ID:      item.ID,
		Type:    item.Type,
		Points:  tmpl.PointsFor(item),
		Content: item.Content,
	}
}

// SaveAnswer auto-grades and upserts one answer while the attempt is live.
func (s *AttemptService) SaveAnswer(ctx context.Context, submissionID, studentID, questionID string, response json.RawMessage, flagged bool) (*model.Answer, error) {
	a, err := s.load(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, a); err != nil {
		return nil, err
	}
	return s.saveAnswer(ctx, a, questionID, response, flagged)
}

func (s *AttemptService) saveAnswer(ctx context.Context, a *attempt, questionID string, response json.RawMessage, flagged bool) (*model.Answer, error) {
	if !a.sub.Assigned(questionID) {
		return nil, ErrQuestionNotAssigned
	}

	items, err := s.stores.Questions.GetByIDs(ctx, []string{questionID})
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("question %s no longer exists", questionID)
	}
	item := &items[0]

	res := engine.AutoGrade(item, response, a.tmpl.PointsFor(item))
	saved, err := s.stores.Answers.Save(ctx, &model.Answer{
		SubmissionID:  a.sub.ID,
		QuestionID:    questionID,
		Response:      response,
		IsCorrect:     res.IsCorrect,
		AutoPoints:    res.AutoPoints,
		GradingStatus: res.GradingStatus,
		Flagged:       flagged,
		UpdatedAt:     s.now(),
	})
	if err != nil {
		return nil, closed(err, "save answer")
	}
	return saved, nil
}

// Finish is the student's voluntary submit. Any answers carried with it are
// saved before the attempt closes.
func (s *AttemptService) Finish(ctx context.Context, submissionID, studentID string, final []model.FinalAnswer) (*FinalizeResult, error) {
	a, err := s.load(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ctx, a); err != nil {
		if errors.Is(err, ErrSubmissionFinalized) {
			return &FinalizeResult{Submission: a.sub, AlreadyFinalized: true}, nil
		}
		return nil, err
	}

	if earliest, ok := engine.EarliestFinish(a.sub, a.tmpl); ok && s.now().Before(earliest) {
		return nil, ErrMinSubmitTimeNotReached
	}

	for _, fa := range final {
		if _, err := s.saveAnswer(ctx, a, fa.QuestionID, fa.Response, fa.Flagged); err != nil {
			if errors.Is(err, ErrSubmissionFinalized) {
				break
			}
			s.log.Warn().Err(err).
				Str("submission_id", a.sub.ID).
				Str("question_id", fa.QuestionID).
				Msg("Final answer not saved")
		}
	}

	return s.finalize(ctx, a, model.EndReasonSubmitted)
}

// Finalize closes a submission for the given reason. It is idempotent: only
// the call that actually closes the row grades it and emits the event.
func (s *AttemptService) Finalize(ctx context.Context, submissionID string, reason model.EndReason) (*FinalizeResult, error) {
	a, err := s.load(ctx, submissionID, "")
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, a, reason)
}

func (s *AttemptService) finalize(ctx context.Context, a *attempt, reason model.EndReason) (*FinalizeResult, error) {
	now := s.now()
	flipped, err := s.stores.Submissions.Finalize(ctx, a.sub.ID, reason, now)
	if err != nil {
		return nil, fmt.Errorf("finalize submission: %w", err)
	}

	result := &FinalizeResult{AlreadyFinalized: !flipped}
	if flipped {
		grade, err := s.grading.Recompute(ctx, a.sub.ID)
		if err != nil {
			s.log.Error().Err(err).Str("submission_id", a.sub.ID).Msg("Grading after finalize failed")
		}
		result.Grade = grade
	}

	sub, err := s.stores.Submissions.GetByID(ctx, a.sub.ID)
	if err != nil {
		return nil, fmt.Errorf("reload submission: %w", err)
	}
	result.Submission = sub
	if !flipped {
		return result, nil
	}

	s.log.Info().
		Str("submission_id", sub.ID).
		Str("student_id", sub.StudentID).
		Str("reason", string(reason)).
		Msg("Attempt finalized")

	s.enqueueAudit(ctx, model.AuditEntry{
		Kind:         model.AuditFinalized,
		SubmissionID: sub.ID,
		SessionID:    sub.SessionID,
		StudentID:    sub.StudentID,
		Details:      s.auditDetails(map[string]string{"reason": string(reason)}),
		RecordedAt:   now,
	})
	s.publish(ctx, sub.SessionID, events.TypeAttemptFinalized, events.AttemptFinalized{
		SubmissionID: sub.ID,
		StudentID:    sub.StudentID,
		Reason:       reason,
		FinishedAt:   now,
		Grade:        result.Grade,
	})
	return result, nil
}

// Timer reports the attempt's clock without changing any state.
func (s *AttemptService) Timer(ctx context.Context, submissionID, studentID string) (*TimerView, error) {
	a, err := s.load(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if a.sub.StartedAt == nil {
		return nil, ErrSubmissionNotStarted
	}
	return s.timer(a), nil
}

func (s *AttemptService) timer(a *attempt) *TimerView {
	now := s.now()
	end := engine.EffectiveEnd(a.sub, a.tmpl, a.sess)
	v := &TimerView{
		SubmissionID:     a.sub.ID,
		StartedAt:        a.sub.StartedAt,
		BonusMinutes:     a.sub.BonusMinutes,
		EffectiveEnd:     end,
		RemainingSeconds: int64(engine.Remaining(end, now) / time.Second),
		ServerTime:       now,
	}
	if a.sub.Finalized() {
		v.RemainingSeconds = 0
	}
	if earliest, ok := engine.EarliestFinish(a.sub, a.tmpl); ok {
		v.EarliestFinish = &earliest
	}
	return v
}

// GrantBonusTime extends a live attempt. The session's hard end still caps
// the effective end.
func (s *AttemptService) GrantBonusTime(ctx context.Context, submissionID string, minutes int) (*TimerView, error) {
	if minutes <= 0 {
		return nil, ErrInvalidBonusTime
	}
	a, err := s.load(ctx, submissionID, "")
	if err != nil {
		return nil, err
	}
	if a.sub.Finalized() {
		return nil, ErrSubmissionFinalized
	}
	// An attempt past its end is already over; bonus time cannot reopen it.
	if a.sub.StartedAt != nil && engine.Expired(a.sub, a.tmpl, a.sess, s.now()) {
		s.finalizeQuietly(ctx, a, model.EndReasonTimeout)
		return nil, ErrSubmissionFinalized
	}

	sub, err := s.stores.Submissions.AddBonusMinutes(ctx, submissionID, minutes)
	if err != nil {
		return nil, closed(err, "add bonus minutes")
	}
	a.sub = sub

	s.log.Info().
		Str("submission_id", submissionID).
		Int("minutes", minutes).
		Int("total_bonus", sub.BonusMinutes).
		Msg("Bonus time granted")
	return s.timer(a), nil
}

// FinalizeExpired sweeps a session for started attempts whose time is up.
func (s *AttemptService) FinalizeExpired(ctx context.Context, sessionID string) (*BatchResult, error) {
	return s.sweep(ctx, sessionID, func(a *attempt, now time.Time) (model.EndReason, bool) {
		if !now.Before(a.sess.EndsAt) {
			return model.EndReasonTimeout, true
		}
		if a.sub.StartedAt != nil && engine.Expired(a.sub, a.tmpl, a.sess, now) {
			return model.EndReasonTimeout, true
		}
		return "", false
	})
}

// CloseSession finalizes every open attempt and completes the session.
// Attempts already past their deadline are recorded as timeouts.
func (s *AttemptService) CloseSession(ctx context.Context, sessionID string) (*BatchResult, error) {
	res, err := s.sweep(ctx, sessionID, func(a *attempt, now time.Time) (model.EndReason, bool) {
		if a.sub.StartedAt != nil && engine.Expired(a.sub, a.tmpl, a.sess, now) {
			return model.EndReasonTimeout, true
		}
		return model.EndReasonSessionClosed, true
	})
	if err != nil {
		return nil, err
	}
	if err := s.stores.Sessions.MarkCompleted(ctx, sessionID); err != nil {
		return res, fmt.Errorf("mark session completed: %w", err)
	}
	if s.papers != nil {
		if err := s.papers.Drop(ctx, sessionID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Paper cache drop failed")
		}
	}
	s.log.Info().Str("session_id", sessionID).Int("finalized", len(res.Finalized)).Msg("Session closed")
	return res, nil
}

func (s *AttemptService) sweep(ctx context.Context, sessionID string, pick func(*attempt, time.Time) (model.EndReason, bool)) (*BatchResult, error) {
	sess, err := s.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound, "get session")
	}
	tmpl, err := s.stores.Templates.GetByID(ctx, sess.TemplateID)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound, "get template")
	}
	subs, err := s.stores.Submissions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	res := &BatchResult{SessionID: sessionID, Finalized: []string{}}
	now := s.now()
	for i := range subs {
		a := &attempt{sub: &subs[i], sess: sess, tmpl: tmpl}
		if a.sub.Finalized() {
			res.Skipped++
			continue
		}
		reason, ok := pick(a, now)
		if !ok {
			res.Skipped++
			continue
		}

		out, err := s.finalize(ctx, a, reason)
		switch {
		case err != nil:
			res.Failures = append(res.Failures, BatchFailure{SubmissionID: a.sub.ID, Error: err.Error()})
			s.log.Error().Err(err).Str("submission_id", a.sub.ID).Msg("Batch finalize failed")
		case out.AlreadyFinalized:
			res.Skipped++
		default:
			res.Finalized = append(res.Finalized, a.sub.ID)
		}
	}
	return res, nil
}

func (s *AttemptService) enqueueAudit(ctx context.Context, entry model.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Enqueue(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("submission_id", entry.SubmissionID).Msg("Audit enqueue failed")
	}
}

func (s *AttemptService) publish(ctx context.Context, sessionID, eventType string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, sessionID, eventType, data); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Str("session_id", sessionID).Msg("Event publish failed")
	}
}

// auditDetails encodes the details column of an audit entry. An encoding
// failure is logged and the entry is kept without details.
func (s *AttemptService) auditDetails(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("Encoding audit details failed")
		return nil
	}
	return b
}

// StudentSubmission is one row of a student's exam list. Score stays hidden
// until results are published.
type StudentSubmission struct {
	SubmissionID string                 `json:"submission_id"`
	SessionID    string                 `json:"session_id"`
	Title        string                 `json:"title"`
	Status       model.SubmissionStatus `json:"status"`
	SessionState model.SessionStatus    `json:"session_status"`
	StartsAt     time.Time              `json:"starts_at"`
	EndsAt       time.Time              `json:"ends_at"`
	EndReason    *model.EndReason       `json:"end_reason,omitempty"`
	Score        *int                   `json:"score,omitempty"`
}

// ListForStudent returns every paper assigned to a student.
func (s *AttemptService) ListForStudent(ctx context.Context, studentID string) ([]StudentSubmission, error) {
	subs, err := s.stores.Submissions.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	sessions := make(map[string]*model.ExamSession)
	out := make([]StudentSubmission, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		sess, ok := sessions[sub.SessionID]
		if !ok {
			sess, err = s.stores.Sessions.GetByID(ctx, sub.SessionID)
			if err != nil {
				return nil, notFound(err, ErrSessionNotFound, "get session")
			}
			sessions[sub.SessionID] = sess
		}

		row := StudentSubmission{
			SubmissionID: sub.ID,
			SessionID:    sub.SessionID,
			Title:        sess.Title,
			Status:       sub.Status,
			SessionState: sess.Status,
			StartsAt:     sess.StartsAt,
			EndsAt:       sess.EndsAt,
			EndReason:    sub.EndReason,
		}
		if sub.GradingStatus == model.GradingPublished {
			score := sub.Score
			row.Score = &score
		}
		out = append(out, row)
	}
	return out, nil
}
