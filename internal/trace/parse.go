package trace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gyroscope/internal/grammar"
)

var digitsPattern = regexp.MustCompile(`^[0-9]+$`)

// Parse reads one candidate block. It never stops at the first defect: every
// field is visited at its fixed offset and each failure adds one Issue.
// Semantic checks are not applied; see Check.
func Parse(text string) Result {
	p := &parser{lines: Lines(text)}
	p.res.Errors = []Issue{}
	p.res.Warnings = []string{}
	p.run()
	p.res.Valid = len(p.res.Errors) == 0
	return p.res
}

// Check parses text and applies the semantic rules; the combined error list
// decides validity.
func Check(text string) Result {
	res := Parse(text)
	res.Errors = append(res.Errors, Validate(res)...)
	res.Valid = len(res.Errors) == 0
	return res
}

// Lines returns the non-blank lines of text, trimmed.
func Lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

type parser struct {
	lines []string
	res   Result
}

func (p *parser) run() {
	if n := len(p.lines); n < grammar.MinLines {
		p.add(KindStructural, "block", -1, "too few lines: expected at least %d, found %d", grammar.MinLines, n)
	}

	b := &p.res.Block
	b.Header = p.literal("header", grammar.LineHeader, grammar.Header)
	b.Version = p.literal("version", grammar.LineVersion, grammar.VersionLine)
	b.Purpose = p.literal("purpose", grammar.LinePurpose, grammar.PurposeLine)

	p.sectionHeader("states", grammar.LineStatesHeader, grammar.StatesHeader)
	p.states()
	p.sectionHeader("modes", grammar.LineModesHeader, grammar.ModesHeader)
	p.modes()
	p.currentMode()
	p.data()
	p.footer()

	if extra := len(p.lines) - grammar.CanonicalLines; extra > 0 {
		p.warn("%d line(s) beyond the canonical %d were ignored", extra, grammar.CanonicalLines)
	}
	if cm, d := b.CurrentMode, b.Data; cm != nil && d != nil && cm.Mode != d.Mode {
		p.warn("current mode %s disagrees with data mode %s", cm.Mode, d.Mode)
	}
}

func (p *parser) line(idx int) (string, bool) {
	if idx < 0 || idx >= len(p.lines) {
		return "", false
	}
	return p.lines[idx], true
}

// add records an Issue; idx is the 0-based line offset or -1.
func (p *parser) add(kind Kind, field string, idx int, format string, args ...any) {
	p.res.Errors = append(p.res.Errors, Issue{
		Kind:    kind,
		Field:   field,
		Line:    idx + 1,
		Message: fmt.Sprintf(format, args...),
	})
}

func (p *parser) warn(format string, args ...any) {
	p.res.Warnings = append(p.res.Warnings, fmt.Sprintf(format, args...))
}

// literal reads a fixed line. The line is kept even when it is wrong so the
// caller can show what was there.
func (p *parser) literal(field string, idx int, want string) string {
	got, ok := p.line(idx)
	if !ok {
		p.add(KindStructural, field, -1, "missing %s line", field)
		return ""
	}
	if got != want {
		p.add(KindStructural, field, idx, "invalid %s line: %q", field, got)
	}
	return got
}

func (p *parser) sectionHeader(section string, idx int, want string) {
	got, ok := p.line(idx)
	if !ok {
		p.add(KindStructural, section, -1, "missing %s section", section)
		return
	}
	if got != want {
		p.add(KindStructural, section, idx, "invalid %s section header: %q", section, got)
	}
}

func (p *parser) states() {
	b := &p.res.Block
	seen := make(map[grammar.Symbol]bool, grammar.StateCount)
	for i := 0; i < grammar.StateCount; i++ {
		idx := grammar.LineFirstState + i
		field := fmt.Sprintf("states[%d]", i)
		line, ok := p.line(idx)
		if !ok {
			p.add(KindStructural, field, -1, "missing state line %d", i+1)
			continue
		}
		m := grammar.StatePattern.FindStringSubmatch(line)
		if m == nil {
			p.add(KindStructural, field, idx, "invalid state format at line %d: %s", idx+1, line)
			continue
		}
		sym, name, policy := grammar.Symbol(m[1]), m[2], m[3]
		canon, known := grammar.LookupState(sym)
		if !known {
			p.add(KindStructural, field, idx, "unknown state symbol: %s", sym)
			continue
		}
		if seen[sym] {
			p.add(KindStructural, field, idx, "duplicate state symbol: %s", sym)
			continue
		}
		seen[sym] = true
		b.States = append(b.States, StateEntry{Symbol: sym, Name: name, Policy: policy})
		if name != canon.Name {
			p.add(KindFormat, field, idx, "incorrect state name for %s: expected %q, got %q", sym, canon.Name, name)
		}
		if policy != canon.Policy {
			p.add(KindFormat, field, idx, "incorrect policy for %s: expected %q, got %q", sym, canon.Policy, policy)
		}
	}
	for _, sym := range grammar.Symbols() {
		if !seen[sym] {
			p.add(KindStructural, "states", -1, "missing state line for symbol %s", sym)
		}
	}
}

func (p *parser) modes() {
	b := &p.res.Block
	for i := 0; i < grammar.ModeCount; i++ {
		idx := grammar.LineFirstMode + i
		field := fmt.Sprintf("modes[%d]", i)
		line, ok := p.line(idx)
		if !ok {
			p.add(KindStructural, field, -1, "missing mode line %d", i+1)
			continue
		}
		m := grammar.ModePattern.FindStringSubmatch(line)
		if m == nil {
			p.add(KindStructural, field, idx, "invalid mode format at line %d: %s", idx+1, line)
			continue
		}
		name, short, path := m[1], m[2], m[3]
		if _, dup := b.Mode(name); dup {
			p.add(KindStructural, field, idx, "duplicate mode: %s", name)
			continue
		}
		b.Modes = append(b.Modes, ModeEntry{Name: name, Short: short, Path: path})
		spec, known := grammar.ModeByName(name)
		if !known {
			p.add(KindFormat, field, idx, "unknown mode: %s (expected Generative or Integrative)", name)
			continue
		}
		if short != string(spec.Short) {
			p.add(KindFormat, field, idx, "incorrect short name for %s: expected %s, got %s", name, spec.Short, short)
		}
	}
}

func (p *parser) currentMode() {
	idx := grammar.LineCurrentMode
	line, ok := p.line(idx)
	if !ok {
		p.add(KindStructural, "current_mode", -1, "missing current mode line")
		return
	}
	m := grammar.CurrentModePattern.FindStringSubmatch(line)
	if m == nil {
		p.add(KindStructural, "current_mode", idx, "invalid current mode format: %s", line)
		return
	}
	cm := &CurrentMode{Scope: m[1], Mode: m[2]}
	p.res.Block.CurrentMode = cm
	if !grammar.Mode(cm.Mode).Valid() {
		p.add(KindFormat, "current_mode", idx, "invalid current mode: %s (expected Gen or Int)", cm.Mode)
	}
	if cm.Scope != grammar.CurrentScope {
		p.warn("current mode scope %q differs from %q", cm.Scope, grammar.CurrentScope)
	}
}

func (p *parser) data() {
	idx := grammar.LineData
	line, ok := p.line(idx)
	if !ok {
		p.add(KindStructural, "data", -1, "missing data line")
		return
	}
	m := grammar.DataPattern.FindStringSubmatch(line)
	if m == nil {
		p.add(KindStructural, "data", idx, "invalid data format: %s", line)
		return
	}
	d := &Data{Timestamp: m[1], Mode: m[2], Alignment: m[3]}
	p.res.Block.Data = d

	if _, err := time.Parse(grammar.TimestampLayout, d.Timestamp); err != nil {
		p.add(KindFormat, "data.timestamp", idx, "invalid timestamp format: %s", d.Timestamp)
	}
	if !grammar.Mode(d.Mode).Valid() {
		p.add(KindFormat, "data.mode", idx, "invalid mode: %s (expected Gen or Int)", d.Mode)
	}
	if d.Alignment != grammar.Aligned && d.Alignment != grammar.NotAligned {
		p.add(KindFormat, "data.alignment", idx, "invalid alignment: %s (expected Y or N)", d.Alignment)
	}
	// Any digit width is accepted; the generator's zero padding is not required.
	id, err := strconv.Atoi(m[4])
	if !digitsPattern.MatchString(m[4]) || err != nil {
		p.add(KindFormat, "data.trace_id", idx, "invalid trace id: %q (expected a non-negative integer)", m[4])
		return
	}
	d.TraceID = id
}

func (p *parser) footer() {
	if len(p.lines) == 0 {
		p.add(KindStructural, "footer", -1, "invalid or missing footer")
		return
	}
	idx := len(p.lines) - 1
	last := p.lines[idx]
	p.res.Block.Footer = last
	if last != grammar.Footer {
		p.add(KindStructural, "footer", idx, "invalid or missing footer")
	}
}
