// Package grammar holds the fixed vocabulary and positional layout of a
// Gyroscope v0.7 Beta trace block. It has no behavior beyond lookups; every
// other package treats it as ground truth.
package grammar

import (
	"fmt"
	"regexp"
	"strings"
)

// Literal lines.
const (
	Header       = "[Gyroscope - Start]"
	VersionLine  = "[v0.7 Beta: Governance Alignment Metadata]"
	PurposeLine  = "[Purpose: 4-State Alignment through Recursive Reasoning via Gyroscope. Order matters. Context continuity is preserved across the last 3 messages.]"
	StatesHeader = "[States {Format: Symbol = How (Why)}:"
	ModesHeader  = "[Modes {Format: Type = Path}:"
	Footer       = "[Gyroscope - End]"

	// CurrentScope is the scope label of the current-mode line.
	CurrentScope = "Gen/Int"

	// PathSeparator joins symbols in a mode path.
	PathSeparator = " → "
)

// Positional layout of the non-blank lines of a block. The footer is always
// the last line, wherever that falls.
const (
	LineHeader       = 0
	LineVersion      = 1
	LinePurpose      = 2
	LineStatesHeader = 3
	LineFirstState   = 4
	LineModesHeader  = LineFirstState + StateCount
	LineFirstMode    = LineModesHeader + 1
	LineCurrentMode  = LineFirstMode + ModeCount
	LineData         = LineCurrentMode + 1

	StateCount = 4
	ModeCount  = 2

	// CanonicalLines is the line count of a block emitted by the generator.
	CanonicalLines = LineData + 2

	// MinLines is the smallest block the parser attempts in full, and the
	// smallest region the segmenter keeps.
	MinLines = 10
)

const (
	// TimestampLayout is minute-precision local date-time.
	TimestampLayout = "2006-01-02T15:04"
	// IDWidth is the zero-pad width the generator uses for trace ids.
	IDWidth = 3
)

// Alignment values.
const (
	Aligned    = "Y"
	NotAligned = "N"
)

// Symbol denotes one reasoning state.
type Symbol string

const (
	Traceability   Symbol = "@"
	Variety        Symbol = "&"
	Accountability Symbol = "%"
	Integrity      Symbol = "~"
)

// State binds a symbol to its fixed name and policy.
type State struct {
	Symbol Symbol
	Name   string
	Policy string
}

// Line renders the state as it appears inside the states section, without
// the trailing separator.
func (s State) Line() string {
	return fmt.Sprintf("%s = %s (%s)", s.Symbol, s.Name, s.Policy)
}

var states = []State{
	{Symbol: Traceability, Name: "Governance Traceability", Policy: "Common Source"},
	{Symbol: Variety, Name: "Information Variety", Policy: "Unity Non-Absolute"},
	{Symbol: Accountability, Name: "Inference Accountability", Policy: "Opposition Non-Absolute"},
	{Symbol: Integrity, Name: "Intelligence Integrity", Policy: "Balance Universal"},
}

// States returns the four states in canonical (Generative) order.
func States() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// Symbols returns the four symbols in canonical order.
func Symbols() []Symbol {
	out := make([]Symbol, len(states))
	for i, s := range states {
		out[i] = s.Symbol
	}
	return out
}

// LookupState returns the canonical state for sym.
func LookupState(sym Symbol) (State, bool) {
	for _, s := range states {
		if s.Symbol == sym {
			return s, true
		}
	}
	return State{}, false
}

// Mode is the short mode token used in the current-mode and data lines.
type Mode string

const (
	Gen Mode = "Gen"
	Int Mode = "Int"
)

// Valid reports whether m is one of the two declared modes.
func (m Mode) Valid() bool {
	return m == Gen || m == Int
}

// ModeSpec is a declared reasoning direction and its canonical symbol order.
type ModeSpec struct {
	Name  string
	Short Mode
	Order []Symbol
}

// Path joins the mode's symbol order with the path separator.
func (m ModeSpec) Path() string {
	return Path(m.Order)
}

// Line renders the mode as it appears inside the modes section, without the
// trailing separator.
func (m ModeSpec) Line() string {
	return fmt.Sprintf("%s (%s) = %s", m.Name, m.Short, m.Path())
}

var modes = []ModeSpec{
	{Name: "Generative", Short: Gen, Order: []Symbol{Traceability, Variety, Accountability, Integrity}},
	{Name: "Integrative", Short: Int, Order: []Symbol{Integrity, Accountability, Variety, Traceability}},
}

// Modes returns both mode declarations in block order.
func Modes() []ModeSpec {
	out := make([]ModeSpec, len(modes))
	for i, m := range modes {
		out[i] = m
		out[i].Order = append([]Symbol(nil), m.Order...)
	}
	return out
}

// ModeByName looks a mode up by its long name ("Generative").
func ModeByName(name string) (ModeSpec, bool) {
	for _, m := range Modes() {
		if m.Name == name {
			return m, true
		}
	}
	return ModeSpec{}, false
}

// ModeByShort looks a mode up by its short token ("Gen").
func ModeByShort(short Mode) (ModeSpec, bool) {
	for _, m := range Modes() {
		if m.Short == short {
			return m, true
		}
	}
	return ModeSpec{}, false
}

// ParseMode accepts the short token or the long name, case-insensitively.
// It is meant for user input; block text is matched exactly by the parser.
func ParseMode(s string) (Mode, error) {
	v := strings.TrimSpace(s)
	for _, m := range modes {
		if strings.EqualFold(v, string(m.Short)) || strings.EqualFold(v, m.Name) {
			return m.Short, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q (expected Gen or Int)", s)
}

// Path joins symbols with the path separator.
func Path(order []Symbol) string {
	parts := make([]string, len(order))
	for i, s := range order {
		parts[i] = string(s)
	}
	return strings.Join(parts, PathSeparator)
}

// ModeForTurn returns the mode of a conversation turn: turns alternate
// Generative, Integrative, starting at turn 0.
func ModeForTurn(turn int) Mode {
	if turn%2 == 0 {
		return Gen
	}
	return Int
}

// TraceIDForTurn returns the cycle id of a conversation turn; one
// Generative/Integrative pair shares an id.
func TraceIDForTurn(turn int) int {
	return turn/2 + 1
}

// Field patterns. Each is anchored at the start of a trimmed line only, so
// trailing section separators ("," or "]") do not affect a match.
var (
	StatePattern       = regexp.MustCompile(`^([^\s=]+) = ([^()]+) \(([^()]+)\)`)
	ModePattern        = regexp.MustCompile(`^([A-Za-z]+) \(([A-Za-z]+)\) = (.+?),?$`)
	CurrentModePattern = regexp.MustCompile(`^Current \(([A-Za-z/]+)\) = ([A-Za-z]+)`)
	DataPattern        = regexp.MustCompile(`^\[Data: Timestamp = ([^,]*), Mode = ([^,]*), Alignment \(Y/N\) = ([^,]*), ID = ([^\]]*)\]$`)
)
