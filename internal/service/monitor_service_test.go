package service

import (
	"context"
	"testing"
	"time"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

func TestMonitorSnapshot(t *testing.T) {
	f, subID := activated(t, model.ExamTemplate{LockdownEnabled: true, MaxViolations: 3}, "s1", "s2", "s3")
	ctx := context.Background()

	if _, err := f.attempts.Open(ctx, subID, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.attempts.SaveAnswer(ctx, subID, "s1", "sc1", correct, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.integrity.ReportViolation(ctx, subID, "s1", model.ViolationTabSwitch, nil); err != nil {
		t.Fatal(err)
	}
	s3 := f.submissionOf("s3")
	if _, err := f.attempts.Open(ctx, s3, "s3"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.attempts.Finalize(ctx, s3, model.EndReasonSubmitted); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Minute)

	snap, err := f.monitor.Snapshot(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.NotStarted != 1 || snap.InProgress != 1 || snap.Completed != 1 || snap.TotalViolations != 1 {
		t.Fatalf("snapshot totals = %+v", snap)
	}

	s1 := snap.Students[0]
	if s1.StudentID != "s1" || s1.Answered != 1 || s1.Total != 10 || s1.IntegrityState != model.IntegrityWarned {
		t.Fatalf("s1 row = %+v", s1)
	}
	if s1.RemainingSeconds != 50*60 {
		t.Fatalf("s1 remaining = %d", s1.RemainingSeconds)
	}
	if snap.Students[2].Score == nil {
		t.Fatal("completed row has no score")
	}
}
