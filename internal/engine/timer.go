package engine

import (
	"time"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// StudentDeadline is start + duration + bonus. ok is false until the
// attempt has started.
func StudentDeadline(sub *model.Submission, tmpl *model.ExamTemplate) (deadline time.Time, ok bool) {
	if sub.StartedAt == nil {
		return time.Time{}, false
	}
	minutes := tmpl.DurationMinutes + sub.BonusMinutes
	return sub.StartedAt.Add(time.Duration(minutes) * time.Minute), true
}

// EffectiveEnd is the authoritative moment the attempt must end: the
// earlier of the student's deadline and the session's hard end.
func EffectiveEnd(sub *model.Submission, tmpl *model.ExamTemplate, sess *model.ExamSession) time.Time {
	deadline, ok := StudentDeadline(sub, tmpl)
	if !ok || sess.EndsAt.Before(deadline) {
		return sess.EndsAt
	}
	return deadline
}

// Remaining is max(0, end-now). Clients recompute it on every tick.
func Remaining(end, now time.Time) time.Duration {
	if d := end.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the attempt's time is up at now.
func Expired(sub *model.Submission, tmpl *model.ExamTemplate, sess *model.ExamSession, now time.Time) bool {
	return !now.Before(EffectiveEnd(sub, tmpl, sess))
}

// EarliestFinish is the first moment a student may finish voluntarily.
func EarliestFinish(sub *model.Submission, tmpl *model.ExamTemplate) (time.Time, bool) {
	if sub.StartedAt == nil {
		return time.Time{}, false
	}
	return sub.StartedAt.Add(time.Duration(tmpl.MinSubmitMinutes) * time.Minute), true
}
