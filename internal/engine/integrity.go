package engine

import "github.com/stemsi/exstem-session-engine/internal/model"

// Classify maps a violation count onto the integrity state machine.
// maxViolations <= 0 disables the ceiling; expiry always terminates.
func Classify(count, maxViolations int, expired bool) model.IntegrityState {
	switch {
	case expired:
		return model.IntegrityTerminated
	case maxViolations > 0 && count >= maxViolations:
		return model.IntegrityTerminated
	case count > 0:
		return model.IntegrityWarned
	default:
		return model.IntegrityClean
	}
}

// CeilingReached reports whether count has hit the template's ceiling.
func CeilingReached(count int, tmpl *model.ExamTemplate) bool {
	return tmpl.MaxViolations > 0 && count >= tmpl.MaxViolations
}

// WarningsLeft is how many more violations the student can incur before
// termination. -1 means unlimited.
func WarningsLeft(count int, tmpl *model.ExamTemplate) int {
	if tmpl.MaxViolations <= 0 {
		return -1
	}
	if left := tmpl.MaxViolations - count; left > 0 {
		return left
	}
	return 0
}
