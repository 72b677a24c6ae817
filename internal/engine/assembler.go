package engine

import (
	"fmt"
	"strings"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Shortfall describes one composition type the pool cannot satisfy.
type Shortfall struct {
	Type      model.QuestionType `json:"type"`
	Required  int                `json:"required"`
	Available int                `json:"available"`
}

// InsufficientQuestionsError aborts assembly for a whole session. It lists
// every short type, not just the first.
type InsufficientQuestionsError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientQuestionsError) Error() string {
	parts := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		parts[i] = fmt.Sprintf("%s (need %d, have %d)", s.Type, s.Required, s.Available)
	}
	return "insufficient questions: " + strings.Join(parts, ", ")
}

// Pool is the filtered candidate set for one session, partitioned by type.
// It is read-only once built and safe to share across per-student draws.
type Pool struct {
	byType map[model.QuestionType][]*model.BankItem
}

// NewPool deduplicates items by id and keeps those carrying at least one
// of tags. An empty tag list keeps everything.
func NewPool(items []model.BankItem, tags []string) *Pool {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}

	p := &Pool{byType: make(map[model.QuestionType][]*model.BankItem)}
	seen := make(map[string]bool, len(items))
	for i := range items {
		it := &items[i]
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		if len(want) > 0 && !hasAnyTag(it.Tags, want) {
			continue
		}
		p.byType[it.Type] = append(p.byType[it.Type], it)
	}
	return p
}

func hasAnyTag(tags []string, want map[string]bool) bool {
	for _, t := range tags {
		if want[t] {
			return true
		}
	}
	return false
}

// Available returns the number of candidates of type t.
func (p *Pool) Available(t model.QuestionType) int {
	return len(p.byType[t])
}

// Check verifies the pool can satisfy comp before anything is drawn.
func (p *Pool) Check(comp model.Composition) error {
	var short []Shortfall
	for _, t := range sortedTypes(comp) {
		need := comp[t]
		if have := p.Available(t); have < need {
			short = append(short, Shortfall{Type: t, Required: need, Available: have})
		}
	}
	if len(short) > 0 {
		return &InsufficientQuestionsError{Shortfalls: short}
	}
	return nil
}

// Draw picks comp[t] items per type uniformly without replacement, visiting
// types in canonical order. The pool itself is not modified.
func (p *Pool) Draw(comp model.Composition, src Source) ([]*model.BankItem, error) {
	if err := p.Check(comp); err != nil {
		return nil, err
	}

	drawn := make([]*model.BankItem, 0, comp.Size())
	for _, t := range sortedTypes(comp) {
		need := comp[t]
		if need == 0 {
			continue
		}
		cands := append([]*model.BankItem(nil), p.byType[t]...)
		// partial Fisher-Yates: the first need slots end up a uniform sample
		for i := 0; i < need; i++ {
			j := i + src.IntN(len(cands)-i)
			cands[i], cands[j] = cands[j], cands[i]
		}
		drawn = append(drawn, cands[:need]...)
	}
	return drawn, nil
}

// OrderingRule is the rule applied to a template's drawn set. Randomization
// switched on without a configured rule shuffles everything.
func OrderingRule(tmpl *model.ExamTemplate) *model.RandomizationRule {
	if !tmpl.RandomizeQuestions {
		return nil
	}
	if tmpl.Randomization == nil {
		return &model.RandomizationRule{Mode: model.RuleModeAll}
	}
	return tmpl.Randomization
}

// Arrange decides the final order of a drawn set. With essays at end the
// essays are appended in draw order and only the rest is randomized.
func Arrange(drawn []*model.BankItem, tmpl *model.ExamTemplate, src Source) ([]string, error) {
	rule := OrderingRule(tmpl)

	if !tmpl.EssaysAtEnd {
		return Order(toItems(drawn), rule, src)
	}

	var head, essays []*model.BankItem
	for _, it := range drawn {
		if it.Type == model.QuestionTypeEssay {
			essays = append(essays, it)
		} else {
			head = append(head, it)
		}
	}

	ids, err := Order(toItems(head), rule, src)
	if err != nil {
		return nil, err
	}
	for _, it := range essays {
		ids = append(ids, it.ID)
	}
	return ids, nil
}

// Assemble draws and orders one student's paper.
func Assemble(pool *Pool, tmpl *model.ExamTemplate, src Source) ([]string, error) {
	drawn, err := pool.Draw(tmpl.Composition, src)
	if err != nil {
		return nil, err
	}
	return Arrange(drawn, tmpl, src)
}

func toItems(items []*model.BankItem) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{ID: it.ID, Type: it.Type}
	}
	return out
}
