package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// GradingService recomputes submission grades and applies grader decisions.
type GradingService struct {
	stores Stores
	events EventPublisher
	now    Clock
	log    zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(stores Stores, pub EventPublisher, log zerolog.Logger) *GradingService {
	return &GradingService{
		stores: stores,
		events: pub,
		now:    time.Now,
		log:    log.With().Str("component", "grading_service").Logger(),
	}
}

// pointsFor resolves the point value of every assigned question, applying
// the template's overrides.
func (s *GradingService) pointsFor(ctx context.Context, sub *model.Submission) (map[string]float64, error) {
	sess, err := s.stores.Sessions.GetByID(ctx, sub.SessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound, "get session")
	}
	tmpl, err := s.stores.Templates.GetByID(ctx, sess.TemplateID)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound, "get template")
	}
	items, err := s.stores.Questions.GetByIDs(ctx, sub.QuestionOrder)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}

	points := make(map[string]float64, len(items))
	for i := range items {
		points[items[i].ID] = tmpl.PointsFor(&items[i])
	}
	return points, nil
}

// Recompute derives the grade from the stored answers and persists it.
// Running it twice without intervening changes yields the same result.
func (s *GradingService) Recompute(ctx context.Context, submissionID string) (*engine.GradeSummary, error) {
	sub, err := s.stores.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, notFound(err, ErrSubmissionNotFound, "get submission")
	}
	return s.recompute(ctx, sub)
}

func (s *GradingService) recompute(ctx context.Context, sub *model.Submission) (*engine.GradeSummary, error) {
	points, err := s.pointsFor(ctx, sub)
	if err != nil {
		return nil, err
	}
	answers, err := s.stores.Answers.ListBySubmission(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	summary, err := engine.Aggregate(sub.QuestionOrder, points, answers, sub.GradingStatus)
	if err != nil {
		s.log.Error().Err(err).Str("submission_id", sub.ID).Msg("Grade aggregation failed")
		return nil, err
	}
	if err := s.stores.Submissions.SaveGrade(ctx, sub.ID, summary); err != nil {
		return nil, fmt.Errorf("save grade: %w", err)
	}

	s.log.Debug().
		Str("submission_id", sub.ID).
		Float64("earned", summary.EarnedPoints).
		Float64("total", summary.TotalPoints).
		Str("grading_status", string(summary.GradingStatus)).
		Msg("Grade recomputed")

	return summary, nil
}

// ApplyManualGrades records grader decisions and recomputes the aggregate.
// The whole batch is rejected if any answer is foreign to the submission or
// any score is outside [0, points].
func (s *GradingService) ApplyManualGrades(ctx context.Context, submissionID, graderID string, updates []model.ManualGrade) (*engine.GradeSummary, error) {
	sub, err := s.stores.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, notFound(err, ErrSubmissionNotFound, "get submission")
	}

	answers, err := s.stores.Answers.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	byID := make(map[string]*model.Answer, len(answers))
	for i := range answers {
		byID[answers[i].ID] = &answers[i]
	}

	points, err := s.pointsFor(ctx, sub)
	if err != nil {
		return nil, err
	}

	for _, u := range updates {
		a, ok := byID[u.AnswerID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAnswerNotInSubmission, u.AnswerID)
		}
		limit, ok := points[a.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAnswerNotInSubmission, u.AnswerID)
		}
		if u.Score < 0 || u.Score > limit {
			return nil, fmt.Errorf("%w: answer %s scored %g of %g", ErrInvalidScore, u.AnswerID, u.Score, limit)
		}
	}

	if err := s.stores.Answers.ApplyManualGrades(ctx, submissionID, graderID, updates, s.now()); err != nil {
		return nil, fmt.Errorf("apply manual grades: %w", err)
	}

	summary, err := s.recompute(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("submission_id", submissionID).
		Str("grader_id", graderID).
		Int("updates", len(updates)).
		Msg("Manual grades applied")

	s.publish(ctx, sub.SessionID, events.TypeGradesUpdated, events.GradesUpdated{
		SubmissionID: submissionID,
		Grade:        *summary,
	})
	return summary, nil
}

// PublishResults releases every graded submission of a session to students.
func (s *GradingService) PublishResults(ctx context.Context, sessionID string) (int64, error) {
	if _, err := s.stores.Sessions.GetByID(ctx, sessionID); err != nil {
		return 0, notFound(err, ErrSessionNotFound, "get session")
	}

	n, err := s.stores.Submissions.PublishSession(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("publish session: %w", err)
	}

	s.log.Info().Str("session_id", sessionID).Int64("published", n).Msg("Results published")
	s.publish(ctx, sessionID, events.TypeResultsPublished, events.ResultsPublished{SessionID: sessionID, Published: n})
	return n, nil
}

// publish is best effort; the state change has already committed.
func (s *GradingService) publish(ctx context.Context, sessionID, eventType string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, sessionID, eventType, data); err != nil {
		s.log.Warn().Err(err).Str("type", eventType).Str("session_id", sessionID).Msg("Event publish failed")
	}
}

// ReviewedAnswer is a stored answer together with the points it is worth.
type ReviewedAnswer struct {
	model.Answer
	Points float64 `json:"points"`
}

// SubmissionReview is the grader's view of one submission.
type SubmissionReview struct {
	Submission *model.Submission `json:"submission"`
	Answers    []ReviewedAnswer  `json:"answers"`
}

// Review loads a submission with every answer for grading.
func (s *GradingService) Review(ctx context.Context, submissionID string) (*SubmissionReview, error) {
	sub, err := s.stores.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, notFound(err, ErrSubmissionNotFound, "get submission")
	}
	points, err := s.pointsFor(ctx, sub)
	if err != nil {
		return nil, err
	}
	answers, err := s.stores.Answers.ListBySubmission(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	review := &SubmissionReview{Submission: sub, Answers: make([]ReviewedAnswer, len(answers))}
	for i, a := range answers {
		review.Answers[i] = ReviewedAnswer{Answer: a, Points: points[a.QuestionID]}
	}
	return review, nil
}
