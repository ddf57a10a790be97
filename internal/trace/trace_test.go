package trace_test

import (
	"strings"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"

	"gyroscope/internal/grammar"
	"gyroscope/internal/trace"
)

var fixedNow = time.Date(2025, 5, 12, 10, 30, 45, 0, time.UTC)

func canonical(t *testing.T, mode grammar.Mode, id int) string {
	t.Helper()
	gen := trace.Generator{Now: func() time.Time { return fixedNow }}
	text, err := gen.Generate(trace.Request{Mode: mode, TraceID: id})
	if err != nil {
		t.Fatalf("generate %s/%d: %v", mode, id, err)
	}
	return text
}

func replaceLine(t *testing.T, text, old, new string) string {
	t.Helper()
	if !strings.Contains(text, old) {
		t.Fatalf("line %q not in block", old)
	}
	return strings.Replace(text, old, new, 1)
}

func dropLine(t *testing.T, text, prefix string) string {
	t.Helper()
	var out []string
	dropped := false
	for _, l := range strings.Split(text, "\n") {
		if !dropped && strings.HasPrefix(l, prefix) {
			dropped = true
			continue
		}
		out = append(out, l)
	}
	if !dropped {
		t.Fatalf("no line with prefix %q", prefix)
	}
	return strings.Join(out, "\n")
}

func hasIssue(res trace.Result, kind trace.Kind, substr string) bool {
	for _, e := range res.Errors {
		if e.Kind == kind && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestGeneratedBlocksRoundTrip(t *testing.T) {
	for _, mode := range []grammar.Mode{grammar.Gen, grammar.Int} {
		for _, id := range []int{0, 1, 42, 999} {
			text := canonical(t, mode, id)
			res := trace.Check(text)
			if !res.Valid || len(res.Errors) != 0 {
				t.Fatalf("%s/%d: expected valid, got %v", mode, id, res.Errors)
			}
			if len(res.Warnings) != 0 {
				t.Fatalf("%s/%d: unexpected warnings %v", mode, id, res.Warnings)
			}
			if issues := trace.Validate(res); len(issues) != 0 {
				t.Fatalf("%s/%d: semantic issues %v", mode, id, issues)
			}
			if res.Block.Data.TraceID != id || res.Block.Data.Mode != string(mode) {
				t.Fatalf("%s/%d: data = %+v", mode, id, res.Block.Data)
			}
			if res.Block.CurrentMode.Mode != string(mode) {
				t.Fatalf("%s/%d: current mode = %+v", mode, id, res.Block.CurrentMode)
			}
			if got := trace.Render(res.Block); got != text {
				t.Fatalf("%s/%d: render mismatch:\n%s", mode, id, cmp.Diff(text, got))
			}
		}
	}
}

func TestGeneratedLayout(t *testing.T) {
	text := canonical(t, grammar.Gen, 7)
	lines := strings.Split(text, "\n")
	if len(lines) != grammar.CanonicalLines {
		t.Fatalf("generated %d lines, want %d", len(lines), grammar.CanonicalLines)
	}
	want := map[int]string{
		0:  "[Gyroscope - Start]",
		4:  "@ = Governance Traceability (Common Source),",
		7:  "~ = Intelligence Integrity (Balance Universal)]",
		9:  "Generative (Gen) = @ → & → % → ~,",
		10: "Integrative (Int) = ~ → % → & → @,",
		11: "Current (Gen/Int) = Gen]",
		12: "[Data: Timestamp = 2025-05-12T10:30, Mode = Gen, Alignment (Y/N) = Y, ID = 007]",
		13: "[Gyroscope - End]",
	}
	for idx, line := range want {
		if lines[idx] != line {
			t.Errorf("line %d = %q, want %q", idx, lines[idx], line)
		}
	}
}

func TestBlockRoundTripsThroughRender(t *testing.T) {
	gen := trace.Generator{Now: func() time.Time { return fixedNow }}
	b, err := gen.NewBlock(trace.Request{Mode: grammar.Int, TraceID: 12, Alignment: grammar.NotAligned})
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	res := trace.Parse(trace.Render(b))
	if diff := cmp.Diff(b, res.Block); diff != "" {
		t.Fatalf("block mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripProperty(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	f := func(id uint16, gen, aligned bool, minutes uint32) bool {
		mode := grammar.Int
		if gen {
			mode = grammar.Gen
		}
		align := grammar.NotAligned
		if aligned {
			align = grammar.Aligned
		}
		ts := base.Add(time.Duration(minutes%5_000_000) * time.Minute)
		b, err := trace.Generator{}.NewBlock(trace.Request{Mode: mode, TraceID: int(id), Timestamp: ts, Alignment: align})
		if err != nil {
			return false
		}
		res := trace.Check(trace.Render(b))
		return res.Valid && len(res.Warnings) == 0 && cmp.Equal(b, res.Block)
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 500}); err != nil {
		t.Fatal(err)
	}
}

func TestTooFewLines(t *testing.T) {
	lines := strings.Split(canonical(t, grammar.Gen, 1), "\n")
	res := trace.Check(strings.Join(lines[:5], "\n"))
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	first := res.Errors[0]
	if first.Kind != trace.KindStructural || first.Message != "too few lines: expected at least 10, found 5" {
		t.Fatalf("first error = %+v", first)
	}
	// parsing continues past the size check
	if res.Block.Header != grammar.Header || len(res.Block.States) != 1 {
		t.Fatalf("expected partial block, got %+v", res.Block)
	}
}

func TestEmptyInput(t *testing.T) {
	res := trace.Check("  \n\n\t\n")
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if !hasIssue(res, trace.KindStructural, "found 0") {
		t.Fatalf("missing size error: %v", res.Errors)
	}
	if !hasIssue(res, trace.KindStructural, "invalid or missing footer") {
		t.Fatalf("missing footer error: %v", res.Errors)
	}
}

func TestMissingStateLine(t *testing.T) {
	text := dropLine(t, canonical(t, grammar.Gen, 3), "% = ")
	res := trace.Check(text)
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	if got := res.Block.StateOrder(); !cmp.Equal(got, []grammar.Symbol{"@", "&", "~"}) {
		t.Fatalf("states = %v", got)
	}
	if !hasIssue(res, trace.KindStructural, "missing state line for symbol %") {
		t.Fatalf("no structural error for the missing state: %v", res.Errors)
	}
	// positions after the gap are read at their fixed offsets
	if res.Block.CurrentMode != nil || res.Block.Data != nil {
		t.Fatalf("parser resynchronised: %+v", res.Block)
	}
	for _, e := range res.Errors {
		if e.Kind == trace.KindSemantic {
			t.Fatalf("semantic error compounded a structural one: %v", e)
		}
	}
}

func TestStatesOutOfOrder(t *testing.T) {
	text := canonical(t, grammar.Gen, 4)
	amp := "& = Information Variety (Unity Non-Absolute),"
	pct := "% = Inference Accountability (Opposition Non-Absolute),"
	text = replaceLine(t, text, amp, "SWAP")
	text = replaceLine(t, text, pct, amp)
	text = replaceLine(t, text, "SWAP", pct)

	if res := trace.Parse(text); !res.Valid {
		t.Fatalf("parse should accept swapped states: %v", res.Errors)
	}
	res := trace.Check(text)
	if res.Valid {
		t.Fatalf("expected invalid")
	}
	want := []trace.Issue{{
		Kind:    trace.KindSemantic,
		Field:   "states",
		Message: "states out of order for Generative mode: expected [@, &, %, ~], got [@, %, &, ~]",
	}}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestStateOrderIgnoredForIntegrative(t *testing.T) {
	text := canonical(t, grammar.Int, 4)
	amp := "& = Information Variety (Unity Non-Absolute),"
	pct := "% = Inference Accountability (Opposition Non-Absolute),"
	text = replaceLine(t, text, amp, "SWAP")
	text = replaceLine(t, text, pct, amp)
	text = replaceLine(t, text, "SWAP", pct)
	if res := trace.Check(text); !res.Valid {
		t.Fatalf("Int blocks are not order-checked: %v", res.Errors)
	}
}

func TestIncorrectModePath(t *testing.T) {
	text := replaceLine(t, canonical(t, grammar.Gen, 5),
		"Generative (Gen) = @ → & → % → ~,",
		"Generative (Gen) = @ → % → & → ~,")
	res := trace.Check(text)
	want := []trace.Issue{{
		Kind:    trace.KindSemantic,
		Field:   "modes.Generative",
		Message: `incorrect path for Generative: expected "@ → & → % → ~", got "@ → % → & → ~"`,
	}}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestDataFieldErrors(t *testing.T) {
	good := "[Data: Timestamp = 2025-05-12T10:30, Mode = Gen, Alignment (Y/N) = Y, ID = 008]"
	cases := []struct {
		name  string
		line  string
		field string
	}{
		{"timestamp", "[Data: Timestamp = 2025-13-12T10:30, Mode = Gen, Alignment (Y/N) = Y, ID = 008]", "data.timestamp"},
		{"seconds", "[Data: Timestamp = 2025-05-12T10:30:15, Mode = Gen, Alignment (Y/N) = Y, ID = 008]", "data.timestamp"},
		{"mode", "[Data: Timestamp = 2025-05-12T10:30, Mode = Rev, Alignment (Y/N) = Y, ID = 008]", "data.mode"},
		{"alignment", "[Data: Timestamp = 2025-05-12T10:30, Mode = Gen, Alignment (Y/N) = Maybe, ID = 008]", "data.alignment"},
		{"id", "[Data: Timestamp = 2025-05-12T10:30, Mode = Gen, Alignment (Y/N) = Y, ID = -8]", "data.trace_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := trace.Check(replaceLine(t, canonical(t, grammar.Gen, 8), good, tc.line))
			if res.Valid {
				t.Fatalf("expected invalid")
			}
			if len(res.Errors) != 1 || res.Errors[0].Kind != trace.KindFormat || res.Errors[0].Field != tc.field {
				t.Fatalf("errors = %+v", res.Errors)
			}
			if res.Errors[0].Line != grammar.LineData+1 {
				t.Fatalf("line = %d", res.Errors[0].Line)
			}
		})
	}
}

func TestTraceIDAnyWidth(t *testing.T) {
	for _, id := range []string{"8", "08", "0000008"} {
		text := replaceLine(t, canonical(t, grammar.Gen, 8), "ID = 008]", "ID = "+id+"]")
		res := trace.Check(text)
		if !res.Valid || res.Block.Data.TraceID != 8 {
			t.Fatalf("id %q: valid=%v data=%+v errors=%v", id, res.Valid, res.Block.Data, res.Errors)
		}
	}
	res := trace.Check(canonical(t, grammar.Int, 1234))
	if !res.Valid || res.Block.Data.TraceID != 1234 {
		t.Fatalf("wide id: %+v", res)
	}
}

func TestStateNameAndPolicyErrors(t *testing.T) {
	text := replaceLine(t, canonical(t, grammar.Gen, 1),
		"@ = Governance Traceability (Common Source),",
		"@ = Governance Tracking (Shared Source),")
	res := trace.Check(text)
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v", res.Errors)
	}
	for _, e := range res.Errors {
		if e.Kind != trace.KindFormat || e.Field != "states[0]" {
			t.Fatalf("unexpected issue %+v", e)
		}
	}
	if st, ok := res.Block.State(grammar.Traceability); !ok || st.Name != "Governance Tracking" {
		t.Fatalf("entry not kept: %+v", st)
	}
}

func TestDuplicateState(t *testing.T) {
	text := replaceLine(t, canonical(t, grammar.Gen, 1),
		"& = Information Variety (Unity Non-Absolute),",
		"@ = Governance Traceability (Common Source),")
	res := trace.Check(text)
	if !hasIssue(res, trace.KindStructural, "duplicate state symbol: @") {
		t.Fatalf("no duplicate error: %v", res.Errors)
	}
	if !hasIssue(res, trace.KindStructural, "missing state line for symbol &") {
		t.Fatalf("no missing-symbol error: %v", res.Errors)
	}
	if len(res.Block.States) != 3 {
		t.Fatalf("states = %v", res.Block.StateOrder())
	}
}

func TestModeShortMismatch(t *testing.T) {
	text := replaceLine(t, canonical(t, grammar.Gen, 1),
		"Integrative (Int) = ~ → % → & → @,",
		"Integrative (Gen) = ~ → % → & → @,")
	res := trace.Check(text)
	if len(res.Errors) != 1 || res.Errors[0].Kind != trace.KindFormat {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestMissingFooter(t *testing.T) {
	text := dropLine(t, canonical(t, grammar.Gen, 1), grammar.Footer)
	res := trace.Check(text)
	if len(res.Errors) != 1 || res.Errors[0].Field != "footer" || res.Errors[0].Kind != trace.KindStructural {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestWarningsDoNotInvalidate(t *testing.T) {
	text := replaceLine(t, canonical(t, grammar.Gen, 2), grammar.Footer, "stray note\n"+grammar.Footer)
	text = replaceLine(t, text, "Current (Gen/Int) = Gen]", "Current (G/I) = Int]")
	res := trace.Check(text)
	if !res.Valid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	want := []string{
		`current mode scope "G/I" differs from "Gen/Int"`,
		"1 line(s) beyond the canonical 14 were ignored",
		"current mode Int disagrees with data mode Gen",
	}
	if diff := cmp.Diff(want, res.Warnings); diff != "" {
		t.Fatalf("warnings (-want +got):\n%s", diff)
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	res := trace.Parse(canonical(t, grammar.Gen, 1))
	before := res.Block
	before.States = append([]trace.StateEntry(nil), res.Block.States...)
	trace.Validate(res)
	if diff := cmp.Diff(before, res.Block); diff != "" {
		t.Fatalf("validate mutated block:\n%s", diff)
	}
}

func TestGeneratorRejectsBadRequests(t *testing.T) {
	gen := trace.Generator{Now: func() time.Time { return fixedNow }}
	for name, req := range map[string]trace.Request{
		"mode":      {Mode: "Rev", TraceID: 1},
		"id":        {Mode: grammar.Gen, TraceID: -1},
		"alignment": {Mode: grammar.Gen, TraceID: 1, Alignment: "maybe"},
	} {
		if _, err := gen.Generate(req); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestAnnotateAndExtract(t *testing.T) {
	first := canonical(t, grammar.Gen, 1)
	second := canonical(t, grammar.Int, 1)
	text := trace.Annotate("The answer follows.\n\n", first)
	if !strings.HasPrefix(text, "The answer follows.\n\n[Gyroscope - Start]") {
		t.Fatalf("annotate = %q", text)
	}
	text = trace.Annotate(text+"\nMore prose.", second)
	got := trace.Extract(text)
	if diff := cmp.Diff([]string{first, second}, got); diff != "" {
		t.Fatalf("extract mismatch (-want +got):\n%s", diff)
	}
	if got := trace.Annotate("", first); got != first {
		t.Fatalf("empty response should yield the block")
	}
	if got := trace.Extract("[Gyroscope - Start]\nno end"); len(got) != 0 {
		t.Fatalf("unterminated block extracted: %v", got)
	}
}

func FuzzCheck(f *testing.F) {
	text, err := trace.Generator{Now: func() time.Time { return fixedNow }}.Generate(trace.Request{Mode: grammar.Gen, TraceID: 1})
	if err != nil {
		f.Fatal(err)
	}
	f.Add(text)
	f.Add("")
	f.Add(strings.Replace(text, "ID = 001", "ID = x", 1))
	f.Fuzz(func(t *testing.T, in string) {
		res := trace.Check(in)
		if res.Valid != (len(res.Errors) == 0) {
			t.Fatalf("validity disagrees with errors")
		}
		if res.Valid {
			if again := trace.Check(trace.Render(res.Block)); !again.Valid {
				t.Fatalf("re-rendered valid block is invalid: %v", again.Errors)
			}
		}
	})
}
