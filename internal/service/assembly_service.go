package service

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// AssemblyService activates sessions by drawing one paper per target student.
type AssemblyService struct {
	stores    Stores
	papers    PaperCache
	events    EventPublisher
	newSource func() engine.Source
	now       Clock
	log       zerolog.Logger
}

// NewAssemblyService creates a new AssemblyService. papers may be nil.
func NewAssemblyService(stores Stores, papers PaperCache, pub EventPublisher, log zerolog.Logger) *AssemblyService {
	return &AssemblyService{
		stores:    stores,
		papers:    papers,
		events:    pub,
		newSource: cryptoSeeded,
		now:       time.Now,
		log:       log.With().Str("component", "assembly_service").Logger(),
	}
}

// cryptoSeeded returns a ChaCha8 generator seeded from the OS. Each
// activation owns its generator, so no locking is needed.
func cryptoSeeded() engine.Source {
	var seed [32]byte
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// ActivationResult lists which students received a new paper.
type ActivationResult struct {
	SessionID           string   `json:"session_id"`
	Assigned            []string `json:"assigned"`
	AlreadyAssigned     []string `json:"already_assigned"`
	QuestionsPerStudent int      `json:"questions_per_student"`
}

// ActivateSession assembles a paper for every target student lacking one.
// Re-running it is safe: existing assignments are never redrawn. Nothing is
// written when the pool cannot satisfy the composition.
func (s *AssemblyService) ActivateSession(ctx context.Context, sessionID string) (*ActivationResult, error) {
	sess, err := s.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, notFound(err, ErrSessionNotFound, "get session")
	}
	if sess.Status == model.SessionStatusCompleted || sess.Status == model.SessionStatusCancelled {
		return nil, ErrSessionNotActivatable
	}

	tmpl, err := s.stores.Templates.GetByID(ctx, sess.TemplateID)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound, "get template")
	}
	if err := validateTemplate(tmpl); err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, sess)
	if err != nil {
		return nil, err
	}

	existing, err := s.stores.Submissions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	has := make(map[string]bool, len(existing))
	for _, sub := range existing {
		has[sub.StudentID] = true
	}

	var pending []string
	already := []string{}
	for _, id := range targets {
		if has[id] {
			already = append(already, id)
		} else {
			pending = append(pending, id)
		}
	}

	res := &ActivationResult{
		SessionID:           sessionID,
		Assigned:            []string{},
		AlreadyAssigned:     already,
		QuestionsPerStudent: tmpl.Composition.Size(),
	}

	if len(pending) > 0 {
		drawn, err := s.assign(ctx, sess, tmpl, pending, res)
		if err != nil {
			return nil, err
		}
		s.warmPapers(ctx, sessionID, tmpl, drawn)
	}

	if sess.Status == model.SessionStatusScheduled {
		if err := s.stores.Sessions.MarkActive(ctx, sessionID, s.now()); err != nil {
			return nil, fmt.Errorf("mark session active: %w", err)
		}
	}

	s.log.Info().
		Str("session_id", sessionID).
		Int("assigned", len(res.Assigned)).
		Int("already_assigned", len(res.AlreadyAssigned)).
		Msg("Session activated")

	if s.events != nil {
		err := s.events.Publish(ctx, sessionID, events.TypeSessionActivated, events.SessionActivated{
			SessionID:       sessionID,
			Assigned:        len(res.Assigned),
			AlreadyAssigned: len(res.AlreadyAssigned),
		})
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Event publish failed")
		}
	}
	return res, nil
}

// assign draws and persists papers for pending students, filling res. It
// returns every bank item that ended up on some paper.
func (s *AssemblyService) assign(ctx context.Context, sess *model.ExamSession, tmpl *model.ExamTemplate, pending []string, res *ActivationResult) (map[string]*model.BankItem, error) {
	items, err := s.stores.Questions.ListByBanks(ctx, tmpl.BankIDs)
	if err != nil {
		return nil, fmt.Errorf("list bank items: %w", err)
	}
	pool := engine.NewPool(items, tmpl.TagFilters)
	if err := pool.Check(tmpl.Composition); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Question pool too small")
		return nil, err
	}

	byID := make(map[string]*model.BankItem, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	src := s.newSource()
	orders := make(map[string][]string, len(pending))
	for _, studentID := range pending {
		order, err := engine.Assemble(pool, tmpl, src)
		if err != nil {
			return nil, fmt.Errorf("assemble paper for %s: %w", studentID, err)
		}
		orders[studentID] = order
	}

	created, err := s.stores.Submissions.CreateAssignments(ctx, sess.ID, orders)
	if err != nil {
		return nil, fmt.Errorf("create assignments: %w", err)
	}
	inserted := make(map[string]bool, len(created))
	for _, id := range created {
		inserted[id] = true
	}

	drawn := make(map[string]*model.BankItem)
	for _, studentID := range pending {
		if !inserted[studentID] {
			// Lost a race with a concurrent activation.
			res.AlreadyAssigned = append(res.AlreadyAssigned, studentID)
			continue
		}
		res.Assigned = append(res.Assigned, studentID)
		for _, qid := range orders[studentID] {
			drawn[qid] = byID[qid]
		}
	}
	slices.Sort(res.AlreadyAssigned)
	return drawn, nil
}

// resolveTargets merges direct targets with class members, sorted and
// without duplicates.
func (s *AssemblyService) resolveTargets(ctx context.Context, sess *model.ExamSession) ([]string, error) {
	targets := slices.Clone(sess.TargetStudentIDs)
	if len(sess.TargetClassIDs) > 0 {
		members, err := s.stores.Students.ListIDsByClasses(ctx, sess.TargetClassIDs)
		if err != nil {
			return nil, fmt.Errorf("list class members: %w", err)
		}
		targets = append(targets, members...)
	}
	slices.Sort(targets)
	return slices.Compact(targets), nil
}

func (s *AssemblyService) warmPapers(ctx context.Context, sessionID string, tmpl *model.ExamTemplate, drawn map[string]*model.BankItem) {
	if s.papers == nil || len(drawn) == 0 {
		return
	}
	questions := make([]model.QuestionForStudent, 0, len(drawn))
	for _, item := range drawn {
		questions = append(questions, studentQuestion(item, tmpl))
	}
	if err := s.papers.Put(ctx, sessionID, questions); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Paper cache warm failed")
	}
}

func validateTemplate(tmpl *model.ExamTemplate) error {
	if err := tmpl.Composition.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if tmpl.Composition.Size() == 0 {
		return fmt.Errorf("%w: composition is empty", ErrInvalidTemplate)
	}
	if err := tmpl.Randomization.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	if tmpl.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidTemplate)
	}
	return nil
}
