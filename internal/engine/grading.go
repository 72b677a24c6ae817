package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// ErrGradingDenominatorMismatch means the assigned question set could not be
// fully resolved, so no trustworthy total exists.
var ErrGradingDenominatorMismatch = errors.New("grading denominator mismatch")

// GradeSummary is the recomputed aggregate for one submission.
type GradeSummary struct {
	EarnedPoints  float64             `json:"earned_points"`
	TotalPoints   float64             `json:"total_points"`
	Score         int                 `json:"score"`
	GradingStatus model.GradingStatus `json:"grading_status"`
}

// Aggregate derives a submission's grade from scratch. points must resolve
// every id in order. Answers for questions outside order are ignored.
func Aggregate(order []string, points map[string]float64, answers []model.Answer, current model.GradingStatus) (*GradeSummary, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: empty assignment", ErrGradingDenominatorMismatch)
	}

	assigned := make(map[string]bool, len(order))
	var total float64
	for _, qid := range order {
		p, ok := points[qid]
		if !ok {
			return nil, fmt.Errorf("%w: question %s not resolvable", ErrGradingDenominatorMismatch, qid)
		}
		assigned[qid] = true
		total += p
	}

	var earned float64
	pending := false
	for i := range answers {
		a := &answers[i]
		if !assigned[a.QuestionID] {
			continue
		}
		earned += a.Awarded()
		if a.GradingStatus == model.GradingPendingManual {
			pending = true
		}
	}

	score := 0
	if total > 0 {
		score = int(math.Round(earned / total * 100))
	}

	status := model.GradingCompleted
	switch {
	case pending:
		status = model.GradingPendingManual
	case current == model.GradingPublished:
		status = model.GradingPublished
	}

	return &GradeSummary{
		EarnedPoints:  earned,
		TotalPoints:   total,
		Score:         score,
		GradingStatus: status,
	}, nil
}

// AutoResult is the outcome of grading one response on save.
type AutoResult struct {
	IsCorrect     *bool
	AutoPoints    *float64
	GradingStatus model.GradingStatus
}

// AutoGrade scores a response against the item's key. Malformed responses
// are wrong, not errors. Essays are left for a grader.
func AutoGrade(item *model.BankItem, response json.RawMessage, points float64) AutoResult {
	if item.Type.ManuallyGraded() {
		return AutoResult{GradingStatus: model.GradingPendingManual}
	}

	correct := false
	key := &item.AnswerKey
	switch item.Type {
	case model.QuestionTypeSingleChoice:
		var got string
		if json.Unmarshal(response, &got) == nil {
			correct = key.Choice != "" && got == key.Choice
		}
	case model.QuestionTypeTrueFalse:
		var got bool
		if json.Unmarshal(response, &got) == nil {
			correct = key.Truth != nil && got == *key.Truth
		}
	case model.QuestionTypeMultiChoice:
		var got []string
		if json.Unmarshal(response, &got) == nil {
			correct = sameSet(got, key.Choices)
		}
	case model.QuestionTypeShortAnswer:
		var got string
		if json.Unmarshal(response, &got) == nil {
			correct = matchesAccepted(got, key.Accepted, key.CaseSensitive)
		}
	case model.QuestionTypeMatching:
		var got map[string]string
		if json.Unmarshal(response, &got) == nil {
			correct = matchesPairs(got, key.Pairs)
		}
	}

	awarded := 0.0
	if correct {
		awarded = points
	}
	return AutoResult{
		IsCorrect:     &correct,
		AutoPoints:    &awarded,
		GradingStatus: model.GradingAuto,
	}
}

func sameSet(got, want []string) bool {
	if len(want) == 0 {
		return false
	}
	g := make(map[string]bool, len(got))
	for _, s := range got {
		g[s] = true
	}
	w := make(map[string]bool, len(want))
	for _, s := range want {
		w[s] = true
	}
	if len(g) != len(w) {
		return false
	}
	for s := range w {
		if !g[s] {
			return false
		}
	}
	return true
}

func matchesAccepted(got string, accepted []string, caseSensitive bool) bool {
	got = strings.TrimSpace(got)
	if got == "" {
		return false
	}
	for _, a := range accepted {
		a = strings.TrimSpace(a)
		if caseSensitive && got == a {
			return true
		}
		if !caseSensitive && strings.EqualFold(got, a) {
			return true
		}
	}
	return false
}

// matchesPairs is all-or-nothing: every left id must be answered with one
// of its valid right ids, and nothing else may be answered.
func matchesPairs(got map[string]string, pairs map[string][]string) bool {
	if len(pairs) == 0 || len(got) != len(pairs) {
		return false
	}
	for left, rights := range pairs {
		answer, ok := got[left]
		if !ok {
			return false
		}
		found := false
		for _, r := range rights {
			if r == answer {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
