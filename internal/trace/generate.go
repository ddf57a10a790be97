package trace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gyroscope/internal/grammar"
)

// Request describes a block to generate. Zero values take defaults: the
// generator's clock for Timestamp and "Y" for Alignment.
type Request struct {
	Mode      grammar.Mode
	TraceID   int
	Timestamp time.Time
	Alignment string
}

// Generator emits canonical blocks.
type Generator struct {
	Now func() time.Time
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// NewBlock builds the structured form of a canonical block.
func (g Generator) NewBlock(req Request) (Block, error) {
	if !req.Mode.Valid() {
		return Block{}, fmt.Errorf("invalid mode %q (expected Gen or Int)", req.Mode)
	}
	if req.TraceID < 0 {
		return Block{}, errors.New("trace id must be non-negative")
	}
	align := req.Alignment
	if align == "" {
		align = grammar.Aligned
	}
	if align != grammar.Aligned && align != grammar.NotAligned {
		return Block{}, fmt.Errorf("invalid alignment %q (expected Y or N)", req.Alignment)
	}
	ts := req.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}

	b := Block{
		Header:  grammar.Header,
		Version: grammar.VersionLine,
		Purpose: grammar.PurposeLine,
		CurrentMode: &CurrentMode{
			Scope: grammar.CurrentScope,
			Mode:  string(req.Mode),
		},
		Data: &Data{
			Timestamp: ts.Format(grammar.TimestampLayout),
			Mode:      string(req.Mode),
			Alignment: align,
			TraceID:   req.TraceID,
		},
		Footer: grammar.Footer,
	}
	for _, s := range grammar.States() {
		b.States = append(b.States, StateEntry{Symbol: s.Symbol, Name: s.Name, Policy: s.Policy})
	}
	for _, m := range grammar.Modes() {
		b.Modes = append(b.Modes, ModeEntry{Name: m.Name, Short: string(m.Short), Path: m.Path()})
	}
	return b, nil
}

// Generate renders a canonical block for req.
func (g Generator) Generate(req Request) (string, error) {
	b, err := g.NewBlock(req)
	if err != nil {
		return "", err
	}
	return Render(b), nil
}

// Generate renders a canonical block stamped with the current time.
func Generate(mode grammar.Mode, traceID int) (string, error) {
	return Generator{}.Generate(Request{Mode: mode, TraceID: traceID})
}

// Render writes b in the canonical layout. Parsing the output yields b again
// for any block that has every field set; nil sections are omitted.
func Render(b Block) string {
	lines := []string{b.Header, b.Version, b.Purpose, grammar.StatesHeader}
	for i, s := range b.States {
		sep := ","
		if i == len(b.States)-1 {
			sep = "]"
		}
		lines = append(lines, fmt.Sprintf("%s = %s (%s)%s", s.Symbol, s.Name, s.Policy, sep))
	}
	lines = append(lines, grammar.ModesHeader)
	for _, m := range b.Modes {
		lines = append(lines, fmt.Sprintf("%s (%s) = %s,", m.Name, m.Short, m.Path))
	}
	if cm := b.CurrentMode; cm != nil {
		lines = append(lines, fmt.Sprintf("Current (%s) = %s]", cm.Scope, cm.Mode))
	}
	if d := b.Data; d != nil {
		lines = append(lines, fmt.Sprintf("[Data: Timestamp = %s, Mode = %s, Alignment (Y/N) = %s, ID = %0*d]",
			d.Timestamp, d.Mode, d.Alignment, grammar.IDWidth, d.TraceID))
	}
	lines = append(lines, b.Footer)
	return strings.Join(lines, "\n")
}
