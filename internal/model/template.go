package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownRuleMode is returned for a randomization mode outside the closed set.
var ErrUnknownRuleMode = errors.New("unknown randomization mode")

// RuleMode discriminates RandomizationRule variants.
type RuleMode string

const (
	RuleModeAll             RuleMode = "all"
	RuleModeByType          RuleMode = "by_type"
	RuleModeExcludeType     RuleMode = "exclude_type"
	RuleModeSpecificNumbers RuleMode = "specific_numbers"
)

// RandomizationRule selects which positions of a question list may move.
// An empty Mode means identity order.
type RandomizationRule struct {
	Mode      RuleMode       `json:"mode"`
	Types     []QuestionType `json:"types,omitempty"`
	Positions []int          `json:"positions,omitempty"`
}

// Validate checks that the mode is known and carries the fields it needs.
func (r *RandomizationRule) Validate() error {
	if r == nil {
		return nil
	}
	switch r.Mode {
	case "", RuleModeAll:
		return nil
	case RuleModeByType, RuleModeExcludeType:
		for _, t := range r.Types {
			if !t.Valid() {
				return fmt.Errorf("%w: %q", ErrUnknownQuestionType, t)
			}
		}
		return nil
	case RuleModeSpecificNumbers:
		for _, p := range r.Positions {
			if p < 1 {
				return fmt.Errorf("randomization position %d must be >= 1", p)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuleMode, r.Mode)
	}
}

func (r *RandomizationRule) UnmarshalJSON(data []byte) error {
	type plain RandomizationRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	rule := RandomizationRule(p)
	if err := rule.Validate(); err != nil {
		return err
	}
	*r = rule
	return nil
}

// Composition maps a question type to the number of items drawn for it.
type Composition map[QuestionType]int

// Validate rejects unknown types and negative counts.
func (c Composition) Validate() error {
	for t, n := range c {
		if !t.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownQuestionType, t)
		}
		if n < 0 {
			return fmt.Errorf("composition count for %s is negative", t)
		}
	}
	return nil
}

// Size is the total number of questions the composition yields.
func (c Composition) Size() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// ExamTemplate is the reusable definition an exam session is scheduled from.
type ExamTemplate struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	BankIDs            []string           `json:"bank_ids"`
	Composition        Composition        `json:"composition"`
	TagFilters         []string           `json:"tag_filters"`
	RandomizeQuestions bool               `json:"randomize_questions"`
	Randomization      *RandomizationRule `json:"randomization_rule,omitempty"`
	DurationMinutes    int                `json:"duration_minutes"`
	MinSubmitMinutes   int                `json:"min_submit_minutes"`
	EssaysAtEnd        bool               `json:"essays_at_end"`
	LockdownEnabled    bool               `json:"lockdown_enabled"`
	MaxViolations      int                `json:"max_violations"`
	// PointOverrides replaces a bank item's default points for this template.
	PointOverrides map[string]float64 `json:"point_overrides,omitempty"`
}

// PointsFor returns the points an item is worth under this template.
func (t *ExamTemplate) PointsFor(item *BankItem) float64 {
	if p, ok := t.PointOverrides[item.ID]; ok {
		return p
	}
	return item.DefaultPoints
}
