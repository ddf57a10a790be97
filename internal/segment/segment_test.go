package segment_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gyroscope/internal/grammar"
	"gyroscope/internal/segment"
	"gyroscope/internal/trace"
)

func block(t *testing.T, mode grammar.Mode, id int) string {
	t.Helper()
	gen := trace.Generator{Now: func() time.Time { return time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC) }}
	text, err := gen.Generate(trace.Request{Mode: mode, TraceID: id})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return text
}

func sources(rs []segment.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Source
	}
	return out
}

func TestSplitDropsShortRegions(t *testing.T) {
	text := "some prose\nmore prose\n\n" + block(t, grammar.Gen, 1) + "\n\n\nshort tail\n\n" + block(t, grammar.Int, 1) + "\n"
	regions := segment.Split(text)
	if len(regions) != 2 {
		t.Fatalf("regions = %d", len(regions))
	}
	if regions[0].Ordinal != 2 || regions[1].Ordinal != 4 {
		t.Fatalf("ordinals = %d, %d", regions[0].Ordinal, regions[1].Ordinal)
	}
	if regions[0].StartLine != 4 {
		t.Fatalf("start line = %d", regions[0].StartLine)
	}
	if regions[0].Text != block(t, grammar.Gen, 1) {
		t.Fatalf("region text mismatch")
	}
}

func TestSplitFallsBackToWholeInput(t *testing.T) {
	text := "one\ntwo\n\nthree\n"
	regions := segment.Split(text)
	if len(regions) != 1 || !regions[0].Whole || regions[0].Text != text {
		t.Fatalf("regions = %+v", regions)
	}
	res := segment.Validate("stdin", text, segment.Blank)
	if len(res) != 1 || res[0].Source != "stdin" || res[0].Valid {
		t.Fatalf("results = %+v", res)
	}
	if res[0].LineCount != 4 {
		t.Fatalf("line count = %d", res[0].LineCount)
	}
	if empty := segment.Validate("stdin", "", segment.Blank); len(empty) != 1 || empty[0].LineCount != 0 {
		t.Fatalf("empty input = %+v", empty)
	}
}

func TestValidateTagsAndIndependence(t *testing.T) {
	bad := strings.Replace(block(t, grammar.Gen, 2), "ID = 002", "ID = two", 1)
	text := block(t, grammar.Gen, 1) + "\n\n" + bad + "\n\n" + block(t, grammar.Int, 3)
	res := segment.Validate("file:trace.txt", text, segment.Blank)
	want := []string{"file:trace.txt:block_1", "file:trace.txt:block_2", "file:trace.txt:block_3"}
	if diff := cmp.Diff(want, sources(res)); diff != "" {
		t.Fatalf("sources (-want +got):\n%s", diff)
	}
	if !res[0].Valid || res[1].Valid || !res[2].Valid {
		t.Fatalf("validity = %v %v %v", res[0].Valid, res[1].Valid, res[2].Valid)
	}
	if res[0].LineCount != grammar.CanonicalLines {
		t.Fatalf("line count = %d", res[0].LineCount)
	}

	// each region's result equals checking it alone
	for i, r := range segment.Split(text) {
		alone := trace.Check(r.Text)
		if diff := cmp.Diff(alone, res[i].Result); diff != "" {
			t.Fatalf("region %d differs when checked alone:\n%s", i+1, diff)
		}
	}
}

func TestSingleBlockIsOneRegion(t *testing.T) {
	text := block(t, grammar.Gen, 5)
	regions := segment.Split(text)
	if len(regions) != 1 || regions[0].Text != text {
		t.Fatalf("regions = %+v", regions)
	}
	if res := trace.Check(regions[0].Text); !res.Valid {
		t.Fatalf("region invalid: %v", res.Errors)
	}
	res := segment.Validate("stdin", text, segment.Blank)
	if len(res) != 1 || !res[0].Valid || res[0].Source != "stdin:block_1" || res[0].LineCount != grammar.CanonicalLines {
		t.Fatalf("results = %+v", res)
	}
}

func TestCorruptHeaderStaysInItsRegion(t *testing.T) {
	good := block(t, grammar.Gen, 1)
	bad := strings.Replace(block(t, grammar.Int, 7), grammar.Header, "[Gyroscope - Begin]", 1)
	res := segment.Validate("chat.log", good+"\n\n"+bad, segment.Blank)
	if len(res) != 2 {
		t.Fatalf("results = %d", len(res))
	}
	if !res[0].Valid || len(res[0].Errors) != 0 {
		t.Fatalf("first region = %+v", res[0].Errors)
	}
	if res[1].Valid || len(res[1].Errors) != 1 {
		t.Fatalf("second region errors = %v", res[1].Errors)
	}
	issue := res[1].Errors[0]
	if issue.Field != "header" || issue.Line != 1 || !strings.Contains(issue.Message, "Begin") {
		t.Fatalf("issue = %+v", issue)
	}
	for _, e := range res[1].Errors {
		if strings.Contains(e.Message, "ID = 001") || e.Line > res[1].LineCount {
			t.Fatalf("issue refers outside its region: %+v", e)
		}
	}
	if res[1].Block.Data == nil || res[1].Block.Data.TraceID != 7 {
		t.Fatalf("second region data = %+v", res[1].Block.Data)
	}
}

func TestSplitMarkers(t *testing.T) {
	text := "Answer one.\n\n" + block(t, grammar.Gen, 1) + "\nAnswer two.\n" + block(t, grammar.Int, 1)
	regions := segment.SplitMarkers(text)
	if len(regions) != 2 {
		t.Fatalf("regions = %d", len(regions))
	}
	if regions[1].Ordinal != 2 || regions[1].StartLine != 18 {
		t.Fatalf("second region = %+v", regions[1])
	}
	res := segment.Validate("stdin", text, segment.Markers)
	if len(res) != 2 || !res[0].Valid || !res[1].Valid {
		t.Fatalf("results = %+v", res)
	}
	if got := segment.SplitMarkers("no markers here"); len(got) != 1 || !got[0].Whole {
		t.Fatalf("fallback = %+v", got)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := segment.ParseStrategy(""); err != nil || s != segment.Blank {
		t.Fatalf("default = %q, %v", s, err)
	}
	if s, err := segment.ParseStrategy("Markers"); err != nil || s != segment.Markers {
		t.Fatalf("markers = %q, %v", s, err)
	}
	if _, err := segment.ParseStrategy("paragraph"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var srcs []segment.Source
	for i := 1; i <= 6; i++ {
		path := filepath.Join(dir, "trace"+string(rune('0'+i))+".txt")
		if err := os.WriteFile(path, []byte(block(t, grammar.ModeForTurn(i), i)), 0o644); err != nil {
			t.Fatal(err)
		}
		srcs = append(srcs, segment.FileSource(path))
	}
	missing := filepath.Join(dir, "missing.txt")
	srcs = append(srcs, segment.FileSource(missing), segment.TextSource("stdin", block(t, grammar.Gen, 9)))

	res, err := segment.Batch(context.Background(), srcs, segment.BatchOptions{Parallelism: 3})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res) != 8 {
		t.Fatalf("results = %d", len(res))
	}
	for i := 0; i < 6; i++ {
		if !res[i].Valid || res[i].Source != srcs[i].Tag+":block_1" {
			t.Fatalf("result %d = %s valid=%v", i, res[i].Source, res[i].Valid)
		}
	}
	if res[6].Valid || res[6].Errors[0].Message != "file not found: "+missing {
		t.Fatalf("missing file result = %+v", res[6])
	}
	if res[7].Source != "stdin:block_1" || !res[7].Valid {
		t.Fatalf("stdin result = %+v", res[7])
	}
}

func TestBatchReadError(t *testing.T) {
	failing := func(string) ([]byte, error) { return nil, errors.New("permission denied") }
	res, err := segment.Batch(context.Background(), []segment.Source{segment.FileSource("a.txt")}, segment.BatchOptions{ReadFile: failing})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res) != 1 || res[0].Errors[0].Message != "error reading a.txt: permission denied" {
		t.Fatalf("results = %+v", res)
	}
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := segment.Batch(ctx, []segment.Source{segment.TextSource("stdin", "x")}, segment.BatchOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
