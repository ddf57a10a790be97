// Package segment splits a stream of text into candidate trace blocks and
// runs each through the trace checker independently.
package segment

import (
	"fmt"
	"strings"

	"gyroscope/internal/grammar"
	"gyroscope/internal/trace"
)

// Strategy selects how a stream is cut into regions.
type Strategy string

const (
	// Blank cuts on blank lines.
	Blank Strategy = "blank"
	// Markers cuts on header/footer pairs.
	Markers Strategy = "markers"
)

// ParseStrategy maps a config or flag value to a Strategy; empty means Blank.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Blank:
		return Blank, nil
	case Markers:
		return Markers, nil
	}
	return "", fmt.Errorf("invalid split strategy %q (expected blank or markers)", s)
}

// Region is one candidate block.
type Region struct {
	Text      string
	Ordinal   int  // 1-based among all candidate regions, kept or dropped
	StartLine int  // 1-based line in the input
	Whole     bool // the fallback region covering the entire input
}

// Split cuts text into maximal runs of non-blank lines. Runs shorter than
// grammar.MinLines are dropped; if none is long enough the whole input is
// returned as a single region.
func Split(text string) []Region {
	var (
		out   []Region
		run   []string
		start int
		n     int
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		n++
		if len(run) >= grammar.MinLines {
			out = append(out, Region{Text: strings.Join(run, "\n"), Ordinal: n, StartLine: start})
		}
		run = nil
	}
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if len(run) == 0 {
			start = i + 1
		}
		run = append(run, strings.TrimRight(line, "\r"))
	}
	flush()
	if len(out) == 0 {
		return []Region{whole(text)}
	}
	return out
}

// SplitMarkers returns one region per header...footer span, or Split(text)
// when the input holds no complete span.
func SplitMarkers(text string) []Region {
	spans := trace.Spans(text)
	if len(spans) == 0 {
		return Split(text)
	}
	out := make([]Region, 0, len(spans))
	for i, s := range spans {
		out = append(out, Region{
			Text:      text[s.Start:s.End],
			Ordinal:   i + 1,
			StartLine: strings.Count(text[:s.Start], "\n") + 1,
		})
	}
	return out
}

func whole(text string) Region {
	return Region{Text: text, Ordinal: 1, StartLine: 1, Whole: true}
}

// Regions applies strategy to text.
func Regions(text string, strategy Strategy) []Region {
	if strategy == Markers {
		return SplitMarkers(text)
	}
	return Split(text)
}

// Result is the checked outcome of one region.
type Result struct {
	Source    string `json:"source"`
	LineCount int    `json:"line_count"`
	trace.Result
}

// Validate checks every region of text. Results follow region order; a region
// never affects another region's result.
func Validate(source, text string, strategy Strategy) []Result {
	regions := Regions(text, strategy)
	out := make([]Result, 0, len(regions))
	for _, r := range regions {
		tag := source
		if !r.Whole {
			tag = fmt.Sprintf("%s:block_%d", source, r.Ordinal)
		}
		out = append(out, Result{
			Source:    tag,
			LineCount: lineCount(r.Text),
			Result:    trace.Check(r.Text),
		})
	}
	return out
}

func lineCount(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
