package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownQuestionType is returned when a payload names a type outside QuestionTypes.
var ErrUnknownQuestionType = errors.New("unknown question type")

// QuestionType is the closed set of bank item kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
	QuestionTypeMatching     QuestionType = "matching"
	QuestionTypeShortAnswer  QuestionType = "short_answer"
	QuestionTypeEssay        QuestionType = "essay"
	QuestionTypeTrueFalse    QuestionType = "true_false"
)

// QuestionTypes lists every type in canonical order. Pool assembly visits
// composition entries in this order so draws are reproducible under a seed.
var QuestionTypes = []QuestionType{
	QuestionTypeSingleChoice,
	QuestionTypeMultiChoice,
	QuestionTypeMatching,
	QuestionTypeShortAnswer,
	QuestionTypeEssay,
	QuestionTypeTrueFalse,
}

// Valid reports whether t is one of QuestionTypes.
func (t QuestionType) Valid() bool {
	for _, known := range QuestionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ManuallyGraded reports whether answers of this type always need a grader.
func (t QuestionType) ManuallyGraded() bool {
	return t == QuestionTypeEssay
}

func (t *QuestionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	qt := QuestionType(s)
	if !qt.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownQuestionType, s)
	}
	*t = qt
	return nil
}

// BankItem is one reusable question definition. Read-only to the engine.
type BankItem struct {
	ID            string          `json:"id"`
	BankID        string          `json:"bank_id"`
	Type          QuestionType    `json:"type"`
	Tags          []string        `json:"tags"`
	Difficulty    int             `json:"difficulty"`
	DefaultPoints float64         `json:"default_points"`
	Content       json.RawMessage `json:"content"`
	AnswerKey     AnswerKey       `json:"-"`
}

// AnswerKey holds the correct response for auto-gradable types. Only the
// field matching the item's type is populated.
type AnswerKey struct {
	Choice        string   `json:"choice,omitempty"`
	Choices       []string `json:"choices,omitempty"`
	Accepted      []string `json:"accepted,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	Truth         *bool    `json:"truth,omitempty"`
	// Pairs maps a left item id to every right item id accepted for it.
	Pairs map[string][]string `json:"pairs,omitempty"`
}

// QuestionForStudent is the student-facing projection of a BankItem: no key.
type QuestionForStudent struct {
	ID      string          `json:"id"`
	Number  int             `json:"number"`
	Type    QuestionType    `json:"type"`
	Points  float64         `json:"points"`
	Content json.RawMessage `json:"content"`
}
