package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stemsi/exstem-session-engine/internal/events"
	"github.com/stemsi/exstem-session-engine/internal/model"
)

func TestViolationsWarnThenTerminate(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{LockdownEnabled: true, MaxViolations: 3})
	ctx := context.Background()

	wantStates := []model.IntegrityState{model.IntegrityWarned, model.IntegrityWarned, model.IntegrityTerminated}
	for i, want := range wantStates {
		res, err := f.integrity.ReportViolation(ctx, subID, "s1", model.ViolationTabSwitch, nil)
		if err != nil {
			t.Fatalf("report %d: %v", i+1, err)
		}
		if !res.Counted || res.Count != i+1 || res.State != want {
			t.Fatalf("report %d: %+v", i+1, res)
		}
		if res.WarningsLeft != 3-(i+1) {
			t.Fatalf("report %d: warnings left %d", i+1, res.WarningsLeft)
		}
		if res.Terminated != (want == model.IntegrityTerminated) {
			t.Fatalf("report %d: terminated = %v", i+1, res.Terminated)
		}
	}

	sub := f.submission(subID)
	if !sub.Finalized() || *sub.EndReason != model.EndReasonViolationLimit {
		t.Fatalf("submission after ceiling: %+v", sub)
	}

	if _, err := f.integrity.ReportViolation(ctx, subID, "s1", model.ViolationCopy, nil); !errors.Is(err, ErrSubmissionFinalized) {
		t.Fatalf("report after termination: got %v", err)
	}
	if _, err := f.attempts.SaveAnswer(ctx, subID, "s1", "sc1", correct, false); !errors.Is(err, ErrSubmissionFinalized) {
		t.Fatalf("save after termination: got %v", err)
	}
	if f.submission(subID).ViolationCount != 3 {
		t.Fatal("count moved after termination")
	}
}

func TestViolationsIgnoredWithoutLockdown(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{MaxViolations: 1})

	res, err := f.integrity.ReportViolation(context.Background(), subID, "s1", model.ViolationWindowBlur, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Counted || res.Count != 0 || res.State != model.IntegrityClean {
		t.Fatalf("uncounted report: %+v", res)
	}
	if f.submission(subID).Finalized() {
		t.Fatal("attempt terminated without lockdown")
	}
}

func TestViolationRejectsUnknownType(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{LockdownEnabled: true})
	_, err := f.integrity.ReportViolation(context.Background(), subID, "s1", "devtools_open", nil)
	if !errors.Is(err, model.ErrUnknownViolationType) {
		t.Fatalf("got %v", err)
	}
}

// Reports racing against the ceiling terminate the attempt exactly once and
// never lose or repeat a count.
func TestConcurrentViolationsTerminateOnce(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{LockdownEnabled: true, MaxViolations: 5})
	ctx := context.Background()
	if _, err := f.attempts.Open(ctx, subID, "s1"); err != nil {
		t.Fatal(err)
	}

	const reporters = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = make(map[int]int)
	)
	for i := 0; i < reporters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.integrity.ReportViolation(ctx, subID, "s1", model.ViolationPaste, nil)
			if errors.Is(err, ErrSubmissionFinalized) {
				return
			}
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			counts[res.Count]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for n, seen := range counts {
		if seen != 1 {
			t.Errorf("count %d returned %d times", n, seen)
		}
	}
	// Reports already past the guard when the ceiling is hit may still land.
	sub := f.submission(subID)
	if sub.ViolationCount < 5 || len(counts) != sub.ViolationCount {
		t.Fatalf("count %d with %d distinct results", sub.ViolationCount, len(counts))
	}
	for n := 1; n <= sub.ViolationCount; n++ {
		if counts[n] != 1 {
			t.Errorf("count %d never returned", n)
		}
	}
	if *sub.EndReason != model.EndReasonViolationLimit {
		t.Fatalf("end reason = %s", *sub.EndReason)
	}
	if n := f.events.count(events.TypeAttemptFinalized); n != 1 {
		t.Fatalf("%d finalize events", n)
	}
	if n := f.events.count(events.TypeViolationRecorded); n != sub.ViolationCount {
		t.Fatalf("%d violation events for %d violations", n, sub.ViolationCount)
	}
}

// Answers committed before the ceiling is hit are graded; writes after it are
// rejected.
func TestViolationTerminationKeepsSavedAnswers(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{LockdownEnabled: true, MaxViolations: 1})
	ctx := context.Background()

	for _, qid := range []string{"sc1", "sc2"} {
		if _, err := f.attempts.SaveAnswer(ctx, subID, "s1", qid, correct, false); err != nil {
			t.Fatal(err)
		}
	}
	res, err := f.integrity.ReportViolation(ctx, subID, "s1", model.ViolationCut, nil)
	if err != nil || !res.Terminated {
		t.Fatalf("report: %+v, %v", res, err)
	}

	sub := f.submission(subID)
	if sub.EarnedPoints != 2 || sub.TotalPoints != 10 {
		t.Fatalf("grade after termination: earned %g of %g", sub.EarnedPoints, sub.TotalPoints)
	}
	if _, err := f.attempts.SaveAnswer(ctx, subID, "s1", "sc3", correct, false); !errors.Is(err, ErrSubmissionFinalized) {
		t.Fatalf("late save: got %v", err)
	}
}
