package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
	"github.com/stemsi/exstem-session-engine/internal/repository"
)

// memStore is an in-memory stand-in for every store the services use.
type memStore struct {
	mu          sync.Mutex
	templates   map[string]*model.ExamTemplate
	sessions    map[string]*model.ExamSession
	items       map[string]model.BankItem
	classes     map[string][]string
	submissions map[string]*model.Submission
	answers     map[string]*model.Answer // keyed by submission|question
	seq         int
}

func newMemStore() *memStore {
	return &memStore{
		templates:   make(map[string]*model.ExamTemplate),
		sessions:    make(map[string]*model.ExamSession),
		items:       make(map[string]model.BankItem),
		classes:     make(map[string][]string),
		submissions: make(map[string]*model.Submission),
		answers:     make(map[string]*model.Answer),
	}
}

func (m *memStore) stores() Stores {
	return Stores{
		Templates:   templateStore{m},
		Sessions:    sessionStore{m},
		Questions:   questionStore{m},
		Students:    studentDirectory{m},
		Submissions: submissionStore{m},
		Answers:     answerStore{m},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

type templateStore struct{ m *memStore }

func (s templateStore) GetByID(_ context.Context, id string) (*model.ExamTemplate, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

type sessionStore struct{ m *memStore }

func (s sessionStore) GetByID(_ context.Context, id string) (*model.ExamSession, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s sessionStore) MarkActive(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess := s.m.sessions[id]
	if sess.Status == model.SessionStatusScheduled {
		sess.Status = model.SessionStatusActive
		sess.ActivatedAt = &at
	}
	return nil
}

func (s sessionStore) MarkCompleted(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sessions[id].Status = model.SessionStatusCompleted
	return nil
}

type questionStore struct{ m *memStore }

func (s questionStore) ListByBanks(_ context.Context, bankIDs []string) ([]model.BankItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	want := make(map[string]bool)
	for _, id := range bankIDs {
		want[id] = true
	}
	var out []model.BankItem
	for _, it := range s.m.items {
		if want[it.BankID] {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s questionStore) GetByIDs(_ context.Context, ids []string) ([]model.BankItem, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.BankItem
	for _, id := range ids {
		if it, ok := s.m.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type studentDirectory struct{ m *memStore }

func (s studentDirectory) ListIDsByClasses(_ context.Context, classIDs []string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []string
	for _, c := range classIDs {
		out = append(out, s.m.classes[c]...)
	}
	return out, nil
}

func (s studentDirectory) Names(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = "Siswa " + id
	}
	return out, nil
}

type submissionStore struct{ m *memStore }

func (s submissionStore) GetByID(_ context.Context, id string) (*model.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub, ok := s.m.submissions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s submissionStore) ListBySession(_ context.Context, sessionID string) ([]model.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Submission
	for _, sub := range s.m.submissions {
		if sub.SessionID == sessionID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s submissionStore) ListByStudent(_ context.Context, studentID string) ([]model.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Submission
	for _, sub := range s.m.submissions {
		if sub.StudentID == studentID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s submissionStore) CreateAssignments(_ context.Context, sessionID string, orders map[string][]string) ([]string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	taken := make(map[string]bool)
	for _, sub := range s.m.submissions {
		if sub.SessionID == sessionID {
			taken[sub.StudentID] = true
		}
	}
	var created []string
	for studentID, order := range orders {
		if taken[studentID] {
			continue
		}
		id := s.m.nextID("sub")
		s.m.submissions[id] = &model.Submission{
			ID:            id,
			SessionID:     sessionID,
			StudentID:     studentID,
			QuestionOrder: order,
			Status:        model.SubmissionNotStarted,
			GradingStatus: model.GradingAuto,
		}
		created = append(created, studentID)
	}
	return created, nil
}

func (s submissionStore) MarkStarted(_ context.Context, id string, at time.Time) (*model.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub := s.m.submissions[id]
	if sub.Status == model.SubmissionCompleted {
		return nil, repository.ErrSubmissionClosed
	}
	if sub.StartedAt == nil {
		sub.StartedAt = &at
		sub.Status = model.SubmissionInProgress
	}
	cp := *sub
	return &cp, nil
}

func (s submissionStore) IncrementViolations(_ context.Context, id string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub := s.m.submissions[id]
	if sub.Status == model.SubmissionCompleted {
		return 0, repository.ErrSubmissionClosed
	}
	sub.ViolationCount++
	return sub.ViolationCount, nil
}

func (s submissionStore) AddBonusMinutes(_ context.Context, id string, minutes int) (*model.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub := s.m.submissions[id]
	if sub.Status == model.SubmissionCompleted {
		return nil, repository.ErrSubmissionClosed
	}
	sub.BonusMinutes += minutes
	cp := *sub
	return &cp, nil
}

func (s submissionStore) Finalize(_ context.Context, id string, reason model.EndReason, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub, ok := s.m.submissions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if sub.Status == model.SubmissionCompleted {
		return false, nil
	}
	sub.Status = model.SubmissionCompleted
	sub.EndReason = &reason
	sub.FinishedAt = &at
	return true, nil
}

func (s submissionStore) SaveGrade(_ context.Context, id string, g *engine.GradeSummary) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sub := s.m.submissions[id]
	sub.EarnedPoints = g.EarnedPoints
	sub.TotalPoints = g.TotalPoints
	sub.Score = g.Score
	sub.GradingStatus = g.GradingStatus
	return nil
}

func (s submissionStore) PublishSession(_ context.Context, sessionID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, sub := range s.m.submissions {
		if sub.SessionID == sessionID && sub.Status == model.SubmissionCompleted && sub.GradingStatus == model.GradingCompleted {
			sub.GradingStatus = model.GradingPublished
			n++
		}
	}
	return n, nil
}

type answerStore struct{ m *memStore }

func (s answerStore) Save(_ context.Context, a *model.Answer) (*model.Answer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.submissions[a.SubmissionID].Status == model.SubmissionCompleted {
		return nil, repository.ErrSubmissionClosed
	}
	key := a.SubmissionID + "|" + a.QuestionID
	if prev, ok := s.m.answers[key]; ok {
		a.ID = prev.ID
		if prev.ManualPoints != nil {
			a.ManualPoints = prev.ManualPoints
			a.GradingStatus = prev.GradingStatus
		}
	} else {
		a.ID = s.m.nextID("ans")
	}
	cp := *a
	s.m.answers[key] = &cp
	out := cp
	return &out, nil
}

func (s answerStore) ListBySubmission(_ context.Context, submissionID string) ([]model.Answer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.Answer
	for _, a := range s.m.answers {
		if a.SubmissionID == submissionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s answerStore) CountAnsweredBySession(_ context.Context, sessionID string) (map[string]int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make(map[string]int)
	for _, a := range s.m.answers {
		if s.m.submissions[a.SubmissionID].SessionID == sessionID {
			out[a.SubmissionID]++
		}
	}
	return out, nil
}

func (s answerStore) ApplyManualGrades(_ context.Context, submissionID, graderID string, grades []model.ManualGrade, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, g := range grades {
		for _, a := range s.m.answers {
			if a.ID != g.AnswerID || a.SubmissionID != submissionID {
				continue
			}
			score := g.Score
			a.ManualPoints = &score
			a.GradingStatus = model.GradingManual
			a.GraderNotes = g.Notes
			a.GradedBy = &graderID
			a.GradedAt = &at
		}
	}
	return nil
}

type publishedEvent struct {
	SessionID string
	Type      string
	Data      any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, sessionID, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{SessionID: sessionID, Type: eventType, Data: data})
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (q *recordingAudit) Enqueue(_ context.Context, e model.AuditEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	return nil
}

// fakeClock is a settable clock shared by every service in a fixture.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture wires every service over one memStore.
type fixture struct {
	store     *memStore
	clock     *fakeClock
	events    *recordingPublisher
	audit     *recordingAudit
	assembly  *AssemblyService
	attempts  *AttemptService
	integrity *IntegrityService
	grading   *GradingService
	monitor   *MonitorService
}

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		store:  newMemStore(),
		clock:  &fakeClock{t: t0},
		events: &recordingPublisher{},
		audit:  &recordingAudit{},
	}
	log := zerolog.Nop()
	stores := f.store.stores()

	f.grading = NewGradingService(stores, f.events, log)
	f.grading.now = f.clock.Now
	f.attempts = NewAttemptService(stores, nil, f.grading, f.events, f.audit, log)
	f.attempts.now = f.clock.Now
	f.integrity = NewIntegrityService(f.attempts, log)
	f.assembly = NewAssemblyService(stores, nil, f.events, log)
	f.assembly.now = f.clock.Now
	f.assembly.newSource = func() engine.Source { return rand.New(rand.NewPCG(1, 2)) }
	f.monitor = NewMonitorService(stores, log)
	f.monitor.now = f.clock.Now
	return f
}

// addItems puts n items of type t into bank-1 with one point each.
func (f *fixture) addItems(t model.QuestionType, prefix string, n int, key model.AnswerKey) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		f.store.items[id] = model.BankItem{
			ID:            id,
			BankID:        "bank-1",
			Type:          t,
			DefaultPoints: 1,
			Content:       json.RawMessage(`{"text":"` + id + `"}`),
			AnswerKey:     key,
		}
	}
}

// addSession registers a template and an active session running 08:00-10:00.
func (f *fixture) addSession(tmpl model.ExamTemplate, students ...string) *model.ExamSession {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if tmpl.ID == "" {
		tmpl.ID = "tmpl-1"
	}
	if len(tmpl.BankIDs) == 0 {
		tmpl.BankIDs = []string{"bank-1"}
	}
	if tmpl.DurationMinutes == 0 {
		tmpl.DurationMinutes = 60
	}
	f.store.templates[tmpl.ID] = &tmpl
	sess := &model.ExamSession{
		ID:               "sess-1",
		TemplateID:       tmpl.ID,
		Title:            "Ujian Matematika",
		StartsAt:         t0,
		EndsAt:           t0.Add(2 * time.Hour),
		Status:           model.SessionStatusScheduled,
		TargetStudentIDs: students,
	}
	f.store.sessions[sess.ID] = sess
	return sess
}

// submissionOf returns the submission id assigned to a student.
func (f *fixture) submissionOf(studentID string) string {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for id, sub := range f.store.submissions {
		if sub.StudentID == studentID {
			return id
		}
	}
	return ""
}

func (f *fixture) submission(id string) model.Submission {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return *f.store.submissions[id]
}
