// Package engine holds the pure exam-session rules: question ordering, pool
// draws, attempt deadlines, integrity classification and grade aggregation.
// Nothing here touches storage or the clock; callers pass both in.
package engine

import (
	"fmt"
	"sort"

	"github.com/stemsi/exstem-session-engine/internal/model"
)

// Source is the randomness the engine draws from. *math/rand/v2.Rand satisfies it.
type Source interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// Item is the minimal view of a question the randomizer needs.
type Item struct {
	ID   string
	Type model.QuestionType
}

// MovablePositions returns the 0-based indexes the rule allows to move,
// in ascending order. A nil rule or empty mode moves nothing.
func MovablePositions(items []Item, rule *model.RandomizationRule) ([]int, error) {
	if rule == nil || rule.Mode == "" {
		return nil, nil
	}

	var movable func(i int, it Item) bool
	switch rule.Mode {
	case model.RuleModeAll:
		movable = func(int, Item) bool { return true }
	case model.RuleModeByType:
		set := typeSet(rule.Types)
		movable = func(_ int, it Item) bool { return set[it.Type] }
	case model.RuleModeExcludeType:
		set := typeSet(rule.Types)
		movable = func(_ int, it Item) bool { return !set[it.Type] }
	case model.RuleModeSpecificNumbers:
		set := make(map[int]bool, len(rule.Positions))
		for _, p := range rule.Positions {
			set[p-1] = true
		}
		movable = func(i int, _ Item) bool { return set[i] }
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownRuleMode, rule.Mode)
	}

	positions := make([]int, 0, len(items))
	for i, it := range items {
		if movable(i, it) {
			positions = append(positions, i)
		}
	}
	return positions, nil
}

// Order permutes the movable subsequence uniformly and leaves every fixed
// item at its original index.
func Order(items []Item, rule *model.RandomizationRule, src Source) ([]string, error) {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}

	slots, err := MovablePositions(items, rule)
	if err != nil {
		return nil, err
	}
	if len(slots) < 2 {
		return out, nil
	}

	ids := make([]string, len(slots))
	for i, slot := range slots {
		ids[i] = items[slot].ID
	}
	src.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	for i, slot := range slots {
		out[slot] = ids[i]
	}
	return out, nil
}

func typeSet(types []model.QuestionType) map[model.QuestionType]bool {
	set := make(map[model.QuestionType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// sortedTypes returns the composition's types in canonical order, with any
// unknown types last in lexical order.
func sortedTypes(comp model.Composition) []model.QuestionType {
	types := make([]model.QuestionType, 0, len(comp))
	for _, t := range model.QuestionTypes {
		if _, ok := comp[t]; ok {
			types = append(types, t)
		}
	}
	var unknown []model.QuestionType
	for t := range comp {
		if !t.Valid() {
			unknown = append(unknown, t)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	return append(types, unknown...)
}
