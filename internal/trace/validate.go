package trace

import (
	"fmt"
	"strings"

	"gyroscope/internal/grammar"
)

// Validate applies the semantic rules to whatever the parser extracted.
// Fields the parser could not extract are skipped.
//
// State order is enforced only while the current mode is Gen: an Int block
// declares its states in the same canonical order and only its path runs in
// reverse.
func Validate(res Result) []Issue {
	var issues []Issue
	b := res.Block

	if b.CurrentMode != nil && grammar.Mode(b.CurrentMode.Mode) == grammar.Gen && len(b.States) > 0 {
		gen, _ := grammar.ModeByShort(grammar.Gen)
		actual := b.StateOrder()
		expected := presentInOrder(gen.Order, actual)
		if !equalSymbols(expected, actual) {
			issues = append(issues, Issue{
				Kind:    KindSemantic,
				Field:   "states",
				Message: fmt.Sprintf("states out of order for Generative mode: expected %s, got %s", formatOrder(expected), formatOrder(actual)),
			})
		}
	}

	for _, m := range b.Modes {
		spec, ok := grammar.ModeByName(m.Name)
		if !ok {
			continue
		}
		if want := spec.Path(); m.Path != want {
			issues = append(issues, Issue{
				Kind:    KindSemantic,
				Field:   "modes." + m.Name,
				Message: fmt.Sprintf("incorrect path for %s: expected %q, got %q", m.Name, want, m.Path),
			})
		}
	}
	return issues
}

// presentInOrder filters order down to the symbols that occur in have.
func presentInOrder(order, have []grammar.Symbol) []grammar.Symbol {
	set := make(map[grammar.Symbol]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	out := make([]grammar.Symbol, 0, len(have))
	for _, s := range order {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func equalSymbols(a, b []grammar.Symbol) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatOrder(order []grammar.Symbol) string {
	parts := make([]string, len(order))
	for i, s := range order {
		parts[i] = string(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
