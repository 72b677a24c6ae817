package engine

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

func bankItems(t model.QuestionType, prefix string, n int, tags ...string) []model.BankItem {
	items := make([]model.BankItem, n)
	for i := range items {
		items[i] = model.BankItem{
			ID:            fmt.Sprintf("%s%d", prefix, i+1),
			BankID:        "bank-1",
			Type:          t,
			Tags:          tags,
			DefaultPoints: 1,
		}
	}
	return items
}

func TestCheckReportsEveryShortType(t *testing.T) {
	// 5 multiple choice and a single essay, but two essays required.
	items := append(bankItems(model.QuestionTypeMultiChoice, "mc", 5), bankItems(model.QuestionTypeEssay, "essay", 1)...)
	pool := NewPool(items, nil)

	err := pool.Check(model.Composition{
		model.QuestionTypeMultiChoice: 5,
		model.QuestionTypeEssay:       2,
	})

	var insufficient *InsufficientQuestionsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientQuestionsError", err)
	}
	want := []Shortfall{{Type: model.QuestionTypeEssay, Required: 2, Available: 1}}
	if !slices.Equal(insufficient.Shortfalls, want) {
		t.Fatalf("shortfalls = %+v, want %+v", insufficient.Shortfalls, want)
	}

	err = pool.Check(model.Composition{
		model.QuestionTypeMultiChoice: 6,
		model.QuestionTypeEssay:       2,
		model.QuestionTypeTrueFalse:   1,
	})
	if !errors.As(err, &insufficient) || len(insufficient.Shortfalls) != 3 {
		t.Fatalf("expected three shortfalls, got %v", err)
	}
}

func TestEssaysStayAtEndInDrawOrder(t *testing.T) {
	drawn := []*model.BankItem{
		{ID: "mc1", Type: model.QuestionTypeMultiChoice},
		{ID: "essay1", Type: model.QuestionTypeEssay},
		{ID: "mc2", Type: model.QuestionTypeMultiChoice},
		{ID: "essay2", Type: model.QuestionTypeEssay},
	}
	tmpl := &model.ExamTemplate{
		RandomizeQuestions: true,
		EssaysAtEnd:        true,
		Randomization: &model.RandomizationRule{
			Mode:  model.RuleModeExcludeType,
			Types: []model.QuestionType{model.QuestionTypeEssay},
		},
	}

	heads := make(map[string]bool)
	for seed := uint64(0); seed < 100; seed++ {
		got, err := Arrange(drawn, tmpl, seeded(seed))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 4 || got[2] != "essay1" || got[3] != "essay2" {
			t.Fatalf("seed %d: %v does not end with [essay1 essay2]", seed, got)
		}
		if !slices.Contains(got[:2], "mc1") || !slices.Contains(got[:2], "mc2") {
			t.Fatalf("seed %d: %v lost a non-essay", seed, got)
		}
		heads[got[0]] = true
	}
	if len(heads) != 2 {
		t.Errorf("mc1/mc2 never swapped across 100 seeds")
	}
}

func TestArrangeWithoutRandomizationKeepsDrawOrder(t *testing.T) {
	drawn := []*model.BankItem{
		{ID: "e1", Type: model.QuestionTypeEssay},
		{ID: "s1", Type: model.QuestionTypeSingleChoice},
		{ID: "s2", Type: model.QuestionTypeSingleChoice},
	}

	got, err := Arrange(drawn, &model.ExamTemplate{}, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"e1", "s1", "s2"}) {
		t.Fatalf("got %v", got)
	}

	got, err = Arrange(drawn, &model.ExamTemplate{EssaysAtEnd: true}, seeded(1))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"s1", "s2", "e1"}) {
		t.Fatalf("essays at end without randomization: got %v", got)
	}
}

func TestOrderingRuleDefaultsToAll(t *testing.T) {
	if r := OrderingRule(&model.ExamTemplate{}); r != nil {
		t.Fatalf("randomization off should give nil rule, got %+v", r)
	}
	r := OrderingRule(&model.ExamTemplate{RandomizeQuestions: true})
	if r == nil || r.Mode != model.RuleModeAll {
		t.Fatalf("randomization on without rule: got %+v", r)
	}
}

func TestPoolFiltersByAnyTagAndDedupes(t *testing.T) {
	items := []model.BankItem{
		{ID: "a", Type: model.QuestionTypeSingleChoice, Tags: []string{"algebra"}},
		{ID: "b", Type: model.QuestionTypeSingleChoice, Tags: []string{"geometry", "hard"}},
		{ID: "c", Type: model.QuestionTypeSingleChoice, Tags: []string{"history"}},
		{ID: "d", Type: model.QuestionTypeSingleChoice},
		// same item reachable through a second bank
		{ID: "a", Type: model.QuestionTypeSingleChoice, Tags: []string{"algebra"}},
	}

	pool := NewPool(items, []string{"algebra", "geometry"})
	if got := pool.Available(model.QuestionTypeSingleChoice); got != 2 {
		t.Fatalf("available = %d, want 2", got)
	}

	if got := NewPool(items, nil).Available(model.QuestionTypeSingleChoice); got != 4 {
		t.Fatalf("unfiltered available = %d, want 4", got)
	}
}

func TestAssembleHonoursCompositionWithoutRepeats(t *testing.T) {
	var items []model.BankItem
	items = append(items, bankItems(model.QuestionTypeSingleChoice, "sc", 20)...)
	items = append(items, bankItems(model.QuestionTypeTrueFalse, "tf", 6)...)
	items = append(items, bankItems(model.QuestionTypeEssay, "es", 3)...)
	pool := NewPool(items, nil)

	tmpl := &model.ExamTemplate{
		Composition: model.Composition{
			model.QuestionTypeSingleChoice: 10,
			model.QuestionTypeTrueFalse:    6,
			model.QuestionTypeEssay:        2,
		},
		RandomizeQuestions: true,
		EssaysAtEnd:        true,
	}

	typeOf := make(map[string]model.QuestionType, len(items))
	for _, it := range items {
		typeOf[it.ID] = it.Type
	}

	for seed := uint64(0); seed < 50; seed++ {
		ids, err := Assemble(pool, tmpl, seeded(seed))
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 18 {
			t.Fatalf("seed %d: %d questions, want 18", seed, len(ids))
		}
		seen := make(map[string]bool)
		counts := make(map[model.QuestionType]int)
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("seed %d: %s drawn twice", seed, id)
			}
			seen[id] = true
			counts[typeOf[id]]++
		}
		for typ, want := range tmpl.Composition {
			if counts[typ] != want {
				t.Fatalf("seed %d: %s count %d, want %d", seed, typ, counts[typ], want)
			}
		}
		if typeOf[ids[16]] != model.QuestionTypeEssay || typeOf[ids[17]] != model.QuestionTypeEssay {
			t.Fatalf("seed %d: essays not at end: %v", seed, ids)
		}
	}
}

func TestDrawDoesNotMutatePool(t *testing.T) {
	items := bankItems(model.QuestionTypeSingleChoice, "sc", 5)
	pool := NewPool(items, nil)
	before := slices.Clone(pool.byType[model.QuestionTypeSingleChoice])

	if _, err := pool.Draw(model.Composition{model.QuestionTypeSingleChoice: 3}, seeded(3)); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(before, pool.byType[model.QuestionTypeSingleChoice]) {
		t.Fatal("draw reordered the shared pool")
	}
}

func TestDrawCoversWholeBank(t *testing.T) {
	pool := NewPool(bankItems(model.QuestionTypeSingleChoice, "sc", 10), nil)
	comp := model.Composition{model.QuestionTypeSingleChoice: 2}
	src := seeded(99)

	hits := make(map[string]int)
	for i := 0; i < 2000; i++ {
		drawn, err := pool.Draw(comp, src)
		if err != nil {
			t.Fatal(err)
		}
		for _, it := range drawn {
			hits[it.ID]++
		}
	}
	// each item expected 400 times
	for id, n := range hits {
		if n < 300 || n > 500 {
			t.Errorf("%s drawn %d times, expected about 400", id, n)
		}
	}
	if len(hits) != 10 {
		t.Errorf("only %d of 10 items were ever drawn", len(hits))
	}
}
