// Package trace parses, validates and generates Gyroscope trace blocks.
//
// Parsing is positional and never resynchronises: each field is read at the
// offset the grammar assigns it, and a defect at one offset is recorded and
// skipped rather than used to realign later fields. One missing line early in
// a block therefore produces a cascade of errors; the error list of a given
// input is reproducible.
package trace

import (
	"fmt"

	"gyroscope/internal/grammar"
)

// Kind classifies an Issue.
type Kind string

const (
	// KindStructural marks a line that is missing, out of position or fails
	// its positional pattern.
	KindStructural Kind = "structural"
	// KindFormat marks a field that matched its pattern but fails a typed
	// constraint.
	KindFormat Kind = "format"
	// KindSemantic marks individually well-formed fields that disagree.
	KindSemantic Kind = "semantic"
)

// Issue is one defect found in a block.
type Issue struct {
	Kind    Kind   `json:"kind"`
	Field   string `json:"field"`
	Line    int    `json:"line,omitempty"` // 1-based among non-blank lines; 0 when not tied to a line
	Message string `json:"message"`
}

func (i Issue) Error() string {
	if i.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s", i.Kind, i.Line, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Kind, i.Message)
}

// StateEntry is one declared reasoning state.
type StateEntry struct {
	Symbol grammar.Symbol `json:"symbol"`
	Name   string         `json:"name"`
	Policy string         `json:"policy"`
}

// ModeEntry is one declared mode path.
type ModeEntry struct {
	Name  string `json:"name"`
	Short string `json:"short"`
	Path  string `json:"path"`
}

// CurrentMode is the declared active mode.
type CurrentMode struct {
	Scope string `json:"scope"`
	Mode  string `json:"mode"`
}

// Data is the metadata record of a block.
type Data struct {
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`
	Alignment string `json:"alignment"`
	TraceID   int    `json:"trace_id"`
}

// Block is the structured form of a trace block. A parsed Block may be
// partially populated; States and Modes keep declaration order.
type Block struct {
	Header      string       `json:"header,omitempty"`
	Version     string       `json:"version,omitempty"`
	Purpose     string       `json:"purpose,omitempty"`
	States      []StateEntry `json:"states,omitempty"`
	Modes       []ModeEntry  `json:"modes,omitempty"`
	CurrentMode *CurrentMode `json:"current_mode,omitempty"`
	Data        *Data        `json:"data,omitempty"`
	Footer      string       `json:"footer,omitempty"`
}

// State returns the entry declared for sym.
func (b Block) State(sym grammar.Symbol) (StateEntry, bool) {
	for _, s := range b.States {
		if s.Symbol == sym {
			return s, true
		}
	}
	return StateEntry{}, false
}

// Mode returns the entry declared under name.
func (b Block) Mode(name string) (ModeEntry, bool) {
	for _, m := range b.Modes {
		if m.Name == name {
			return m, true
		}
	}
	return ModeEntry{}, false
}

// StateOrder returns the symbols in the order they were declared.
func (b Block) StateOrder() []grammar.Symbol {
	out := make([]grammar.Symbol, len(b.States))
	for i, s := range b.States {
		out[i] = s.Symbol
	}
	return out
}

// Result is the outcome of parsing (and optionally validating) one block.
// Block carries every field that was extracted even when Valid is false.
type Result struct {
	Valid    bool     `json:"is_valid"`
	Block    Block    `json:"block"`
	Errors   []Issue  `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Messages returns the error messages in order, for plain reporting.
func (r Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Message
	}
	return out
}
