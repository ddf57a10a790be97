package trace

import (
	"strings"

	"gyroscope/internal/grammar"
)

// Span is the byte range [Start, End) of one marked block inside a larger text.
type Span struct {
	Start int
	End   int
}

// Spans locates every header...footer pair in order. An unterminated header
// ends the scan.
func Spans(text string) []Span {
	var out []Span
	pos := 0
	for {
		i := strings.Index(text[pos:], grammar.Header)
		if i < 0 {
			return out
		}
		start := pos + i
		j := strings.Index(text[start:], grammar.Footer)
		if j < 0 {
			return out
		}
		end := start + j + len(grammar.Footer)
		out = append(out, Span{Start: start, End: end})
		pos = end
	}
}

// Extract returns the text of every marked block in order.
func Extract(text string) []string {
	spans := Spans(text)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, text[s.Start:s.End])
	}
	return out
}

// Annotate appends block to a free-text response, separated by a blank line.
func Annotate(response, block string) string {
	response = strings.TrimRight(response, " \t\r\n")
	if response == "" {
		return block
	}
	return response + "\n\n" + block
}
