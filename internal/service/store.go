package service

import (
	"context"
	"time"

	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

// The stores below are implemented by internal/repository over PostgreSQL.
// Missing rows surface as repository.ErrNotFound; guarded writes against a
// completed submission surface as repository.ErrSubmissionClosed.

type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*model.ExamTemplate, error)
}

type SessionStore interface {
	GetByID(ctx context.Context, id string) (*model.ExamSession, error)
	// MarkActive moves a scheduled session to active. Sessions already
	// active are left alone.
	MarkActive(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string) error
}

type QuestionStore interface {
	ListByBanks(ctx context.Context, bankIDs []string) ([]model.BankItem, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.BankItem, error)
}

type StudentDirectory interface {
	ListIDsByClasses(ctx context.Context, classIDs []string) ([]string, error)
	Names(ctx context.Context, ids []string) (map[string]string, error)
}

type SubmissionStore interface {
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.Submission, error)
	ListByStudent(ctx context.Context, studentID string) ([]model.Submission, error)
	// CreateAssignments inserts one not-started submission per student and
	// returns the students actually inserted. Existing rows are left untouched.
	CreateAssignments(ctx context.Context, sessionID string, orders map[string][]string) ([]string, error)
	// MarkStarted sets started_at once and moves the attempt to in_progress.
	MarkStarted(ctx context.Context, id string, at time.Time) (*model.Submission, error)
	IncrementViolations(ctx context.Context, id string) (int, error)
	AddBonusMinutes(ctx context.Context, id string, minutes int) (*model.Submission, error)
	// Finalize closes the submission. flipped is true only for the call
	// that moved it to completed.
	Finalize(ctx context.Context, id string, reason model.EndReason, at time.Time) (flipped bool, err error)
	SaveGrade(ctx context.Context, id string, g *engine.GradeSummary) error
	PublishSession(ctx context.Context, sessionID string) (int64, error)
}

type AnswerStore interface {
	// Save upserts the answer for (submission, question). It must not
	// commit once the submission is completed.
	Save(ctx context.Context, a *model.Answer) (*model.Answer, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]model.Answer, error)
	// CountAnsweredBySession returns submission_id -> answered count.
	CountAnsweredBySession(ctx context.Context, sessionID string) (map[string]int, error)
	ApplyManualGrades(ctx context.Context, submissionID, graderID string, grades []model.ManualGrade, at time.Time) error
}

// PaperCache holds the key-free question payloads of a session.
type PaperCache interface {
	Put(ctx context.Context, sessionID string, questions []model.QuestionForStudent) error
	Get(ctx context.Context, sessionID string, ids []string) (map[string]model.QuestionForStudent, error)
	Drop(ctx context.Context, sessionID string) error
}

// EventPublisher fans attempt events out to the bus and the live monitor.
type EventPublisher interface {
	Publish(ctx context.Context, sessionID, eventType string, data any) error
}

// AuditQueue accepts audit entries for asynchronous persistence.
type AuditQueue interface {
	Enqueue(ctx context.Context, entry model.AuditEntry) error
}

// Clock is overridable in tests.
type Clock func() time.Time

// Stores bundles the persistence dependencies shared by the services.
type Stores struct {
	Templates   TemplateStore
	Sessions    SessionStore
	Questions   QuestionStore
	Students    StudentDirectory
	Submissions SubmissionStore
	Answers     AnswerStore
}
