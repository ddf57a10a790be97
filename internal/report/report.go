// Package report renders validation results as text, JSON or tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gyroscope/internal/domain"
	"gyroscope/internal/segment"
	"gyroscope/internal/trace"
)

// Format is an output format.
type Format string

const (
	Text          Format = "text"
	JSON          Format = "json"
	TableFormat   Format = "table"
	MarkdownTable Format = "markdown"
)

// ParseFormat maps a flag or config value to a Format; empty means Text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Text, nil
	case Text, JSON, TableFormat, MarkdownTable:
		return f, nil
	}
	return "", fmt.Errorf("invalid report format %q (expected text, json, table or markdown)", s)
}

// Summary aggregates a batch.
type Summary struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}

// SuccessRate is the valid share as a percentage with one decimal, or N/A
// for an empty batch.
func (s Summary) SuccessRate() string {
	if s.Total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(s.Valid)/float64(s.Total)*100)
}

func Summarize(results []segment.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Valid {
			s.Valid++
		}
	}
	s.Invalid = s.Total - s.Valid
	return s
}

// FromStored turns persisted results back into renderable ones. The parsed
// block is not stored, so Block is left empty.
func FromStored(stored []domain.StoredResult) []segment.Result {
	out := make([]segment.Result, len(stored))
	for i, s := range stored {
		out[i] = segment.Result{
			Source:    s.Source,
			LineCount: s.LineCount,
			Result:    trace.Result{Valid: s.Valid, Errors: s.Errors, Warnings: s.Warnings},
		}
	}
	return out
}

// Write renders results in format.
func Write(w io.Writer, format Format, results []segment.Result) error {
	switch format {
	case JSON:
		return writeJSON(w, results)
	case TableFormat:
		_, err := io.WriteString(w, resultsTable(ASCII, results)+"\n")
		return err
	case MarkdownTable:
		_, err := io.WriteString(w, resultsTable(Markdown, results)+"\n")
		return err
	default:
		_, err := io.WriteString(w, TextReport(results))
		return err
	}
}

// TextReport renders the plain batch report.
func TextReport(results []segment.Result) string {
	var b strings.Builder
	s := Summarize(results)
	b.WriteString("Gyroscope Batch Validation Report\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Total trace blocks: %d\n", s.Total)
	fmt.Fprintf(&b, "Valid blocks: %d\n", s.Valid)
	fmt.Fprintf(&b, "Invalid blocks: %d\n", s.Invalid)
	fmt.Fprintf(&b, "Success rate: %s\n\n", s.SuccessRate())

	for i, r := range results {
		fmt.Fprintf(&b, "Block %d: %s\n", i+1, r.Source)
		fmt.Fprintf(&b, "  Status: %s\n", status(r.Valid))
		fmt.Fprintf(&b, "  Lines: %d\n", r.LineCount)
		if len(r.Errors) > 0 {
			b.WriteString("  Errors:\n")
			for _, e := range r.Errors {
				fmt.Fprintf(&b, "    - %s\n", e.Error())
			}
		}
		if len(r.Warnings) > 0 {
			b.WriteString("  Warnings:\n")
			for _, w := range r.Warnings {
				fmt.Fprintf(&b, "    - %s\n", w)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func status(valid bool) string {
	if valid {
		return "✓ VALID"
	}
	return "✗ INVALID"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func resultsTable(mode TableMode, results []segment.Result) string {
	t := NewTable(mode)
	t.Header("#", "Source", "Status", "Lines", "Errors", "Warnings", "First error")
	for i, r := range results {
		first := ""
		if len(r.Errors) > 0 {
			first = r.Errors[0].Message
		}
		st := "valid"
		if !r.Valid {
			st = "invalid"
		}
		t.Row(i+1, r.Source, st, r.LineCount, len(r.Errors), len(r.Warnings), first)
	}
	s := Summarize(results)
	t.Footer("", "total", fmt.Sprintf("%d/%d", s.Valid, s.Total), "", "", "", s.SuccessRate())
	t.AlignRight(1, 4, 5, 6)
	return t.String()
}

// Runs renders stored runs as a table.
func Runs(mode TableMode, runs []domain.Run) string {
	t := NewTable(mode)
	t.Header("ID", "Created", "Source", "Split", "Actor", "Valid", "Total")
	for _, r := range runs {
		t.Row(r.ID, r.CreatedAt, r.Source, r.Strategy, r.ActorID, r.Valid, r.Total)
	}
	t.AlignRight(6, 7)
	return t.String()
}

// Challenges renders the challenge catalog as a table.
func Challenges(mode TableMode, items []domain.Challenge) string {
	t := NewTable(mode)
	t.Header("ID", "Metrics", "Description")
	for _, c := range items {
		t.Row(c.ID, strings.Join(c.Metrics, ", "), c.Description)
	}
	t.MaxWidth(3, 72)
	return t.String()
}

// APIKeys renders API keys without their digests.
func APIKeys(mode TableMode, keys []domain.APIKey) string {
	t := NewTable(mode)
	t.Header("ID", "Actor", "Name", "Created")
	for _, k := range keys {
		t.Row(k.ID, k.ActorID, k.Name, k.CreatedAt)
	}
	return t.String()
}

// Events renders events newest first.
func Events(mode TableMode, evts []domain.Event) string {
	t := NewTable(mode)
	t.Header("ID", "TS", "Type", "Entity", "Actor", "Payload")
	for _, e := range evts {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += ":" + e.EntityID
		}
		t.Row(e.ID, e.TS, e.Type, entity, e.ActorID, e.Payload)
	}
	t.MaxWidth(6, 60)
	return t.String()
}
