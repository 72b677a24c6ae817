package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stemsi/exstem-session-engine/internal/engine"
	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

func TestActivateSessionAssignsEveryTarget(t *testing.T) {
	f := newFixture()
	f.addItems(model.QuestionTypeSingleChoice, "sc", 8, model.AnswerKey{Choice: "A"})
	f.addItems(model.QuestionTypeEssay, "es", 2, model.AnswerKey{})
	f.addSession(model.ExamTemplate{
		Composition: model.Composition{
			model.QuestionTypeSingleChoice: 5,
			model.QuestionTypeEssay:       1,
		},
		RandomizeQuestions: true,
		EssaysAtEnd:        true,
	}, "s2", "s1")
	f.store.classes["x-ipa-1"] = []string{"s3", "s1"}
	f.store.sessions["sess-1"].TargetClassIDs = []string{"x-ipa-1"}

	res, err := f.assembly.ActivateSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	got := slices.Clone(res.Assigned)
	slices.Sort(got)
	if !slices.Equal(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("assigned = %v", res.Assigned)
	}
	if res.QuestionsPerStudent != 6 {
		t.Fatalf("questions per student = %d", res.QuestionsPerStudent)
	}

	for _, student := range got {
		sub := f.submission(f.submissionOf(student))
		if len(sub.QuestionOrder) != 6 || sub.Status != model.SubmissionNotStarted {
			t.Fatalf("%s: %+v", student, sub)
		}
		if last := sub.QuestionOrder[5]; last[:2] != "es" {
			t.Fatalf("%s: essay not last: %v", student, sub.QuestionOrder)
		}
	}
	if f.store.sessions["sess-1"].Status != model.SessionStatusActive {
		t.Fatal("session not marked active")
	}
	if f.events.count(events.TypeSessionActivated) != 1 {
		t.Fatal("activation event not published")
	}
}

func TestActivateSessionIsRepeatable(t *testing.T) {
	f := newFixture()
	f.addItems(model.QuestionTypeSingleChoice, "sc", 4, model.AnswerKey{Choice: "A"})
	f.addSession(model.ExamTemplate{Composition: model.Composition{model.QuestionTypeSingleChoice: 3}}, "s1")
	ctx := context.Background()

	if _, err := f.assembly.ActivateSession(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	first := f.submission(f.submissionOf("s1")).QuestionOrder

	f.store.sessions["sess-1"].TargetStudentIDs = []string{"s1", "s2"}
	res, err := f.assembly.ActivateSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Assigned, []string{"s2"}) || !slices.Equal(res.AlreadyAssigned, []string{"s1"}) {
		t.Fatalf("second activation: %+v", res)
	}
	if again := f.submission(f.submissionOf("s1")).QuestionOrder; !slices.Equal(first, again) {
		t.Fatalf("existing paper redrawn: %v -> %v", first, again)
	}
}

func TestActivateSessionShortPoolWritesNothing(t *testing.T) {
	f := newFixture()
	f.addItems(model.QuestionTypeMultiChoice, "mc", 5, model.AnswerKey{})
	f.addItems(model.QuestionTypeEssay, "es", 1, model.AnswerKey{})
	f.addSession(model.ExamTemplate{Composition: model.Composition{
		model.QuestionTypeMultiChoice: 5,
		model.QuestionTypeEssay:       2,
	}}, "s1", "s2")

	_, err := f.assembly.ActivateSession(context.Background(), "sess-1")
	var insufficient *engine.InsufficientQuestionsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientQuestionsError", err)
	}
	if len(insufficient.Shortfalls) != 1 || insufficient.Shortfalls[0].Type != model.QuestionTypeEssay {
		t.Fatalf("shortfalls = %+v", insufficient.Shortfalls)
	}
	if len(f.store.submissions) != 0 {
		t.Fatalf("%d submissions written despite shortfall", len(f.store.submissions))
	}
	if f.store.sessions["sess-1"].Status != model.SessionStatusScheduled {
		t.Fatal("session activated despite shortfall")
	}
}

func TestActivateSessionRejectsClosedOrInvalid(t *testing.T) {
	f := newFixture()
	f.addSession(model.ExamTemplate{Composition: model.Composition{model.QuestionTypeEssay: 1}}, "s1")
	f.store.sessions["sess-1"].Status = model.SessionStatusCompleted

	if _, err := f.assembly.ActivateSession(context.Background(), "sess-1"); !errors.Is(err, ErrSessionNotActivatable) {
		t.Fatalf("completed session: got %v", err)
	}

	f.store.sessions["sess-1"].Status = model.SessionStatusScheduled
	f.store.templates["tmpl-1"].Randomization = &model.RandomizationRule{Mode: "reverse"}
	f.store.templates["tmpl-1"].RandomizeQuestions = true
	_, err := f.assembly.ActivateSession(context.Background(), "sess-1")
	if !errors.Is(err, ErrInvalidTemplate) || !errors.Is(err, model.ErrUnknownRuleMode) {
		t.Fatalf("unknown rule mode: got %v", err)
	}

	if _, err := f.assembly.ActivateSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session: got %v", err)
	}
}
