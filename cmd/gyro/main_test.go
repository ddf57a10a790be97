package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"gyroscope/internal/config"
)

func runGyro(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestGenerateThenValidate(t *testing.T) {
	ws := t.TempDir()
	first, _, err := runGyro(t, "", "-w", ws, "generate")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, _, err := runGyro(t, "", "-w", ws, "generate", "--mode", "Int", "--timestamp", "2025-05-12T10:30")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(first, "ID = 001]") || !strings.Contains(second, "[Data: Timestamp = 2025-05-12T10:30, Mode = Int, Alignment (Y/N) = Y, ID = 002]") {
		t.Fatalf("unexpected blocks:\n%s\n%s", first, second)
	}

	out, stderr, err := runGyro(t, first+"\n"+second, "-w", ws, "validate", "--stdin", "--save")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Valid blocks: 2") || !strings.Contains(out, "Block 2: stdin:block_2") {
		t.Fatalf("report:\n%s", out)
	}
	if !strings.Contains(stderr, "Summary: 2/2 blocks valid (100.0%)") || !strings.Contains(stderr, "Saved run ") {
		t.Fatalf("stderr:\n%s", stderr)
	}

	out, _, err = runGyro(t, "", "-w", ws, "--json", "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	var page struct {
		Items []struct {
			ID    string `json:"id"`
			Total int    `json:"total"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(page.Items) != 1 || page.Items[0].Total != 2 {
		t.Fatalf("runs = %+v", page.Items)
	}

	out, _, err = runGyro(t, "", "-w", ws, "runs", "show", page.Items[0].ID, "--report", "markdown")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	if !strings.Contains(out, "stdin:block_1") || !strings.Contains(out, "| # |") {
		t.Fatalf("runs show:\n%s", out)
	}
}

func TestValidateFailOnInvalid(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "reply.txt")
	if err := os.WriteFile(path, []byte("just prose\nwithout any block\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := runGyro(t, "", "-w", ws, "validate", path, "--report", "json", "--fail-on-invalid")
	var ee exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Fatalf("expected exit 2, got %v", err)
	}
	var results []map[string]any
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0]["source"] != "file:"+path || results[0]["is_valid"] != false {
		t.Fatalf("results = %v", results)
	}

	if _, _, err := runGyro(t, "", "-w", ws, "validate"); err == nil {
		t.Fatalf("validate without input should fail")
	}
	if _, _, err := runGyro(t, "", "-w", ws, "validate", "--split", "lines", path); err == nil {
		t.Fatalf("bad split should fail")
	}
}

func TestParseCommand(t *testing.T) {
	ws := t.TempDir()
	block, _, err := runGyro(t, "", "-w", ws, "generate", "--id", "7")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	out, _, err := runGyro(t, block, "parse", "--fail-on-invalid")
	if err != nil || !strings.HasPrefix(out, "✓ VALID") || !strings.Contains(out, "ID: 7") {
		t.Fatalf("parse valid: %v\n%s", err, out)
	}

	broken := strings.Replace(block, "Alignment (Y/N) = Y", "Alignment (Y/N) = Maybe", 1)
	out, _, err = runGyro(t, broken, "parse", "--fail-on-invalid")
	var ee exitError
	if !errors.As(err, &ee) || ee.code != 2 {
		t.Fatalf("expected exit 2, got %v", err)
	}
	if !strings.Contains(out, "format: line 13: invalid alignment: Maybe (expected Y or N)") {
		t.Fatalf("parse output:\n%s", out)
	}
}

func TestGenerateWithIDLeavesWorkspaceUntouched(t *testing.T) {
	ws := t.TempDir()
	out, _, err := runGyro(t, "", "-w", ws, "generate", "--id", "4", "--mode", "Int")
	if err != nil || !strings.Contains(out, "Mode = Int, Alignment (Y/N) = Y, ID = 004]") {
		t.Fatalf("generate: %v\n%s", err, out)
	}
	if _, _, err := runGyro(t, "reply\n", "-w", ws, "annotate", "--turn", "2"); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, ".gyroscope")); !os.IsNotExist(err) {
		t.Fatalf("workspace state created: %v", err)
	}
}

func TestAnnotateAndExtract(t *testing.T) {
	ws := t.TempDir()
	annotated, _, err := runGyro(t, "Here is the answer.\n", "-w", ws, "annotate", "--turn", "0")
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if !strings.HasPrefix(annotated, "Here is the answer.\n\n[Gyroscope") {
		t.Fatalf("annotated:\n%s", annotated)
	}
	out, _, err := runGyro(t, annotated, "--json", "extract", "--check")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var items []struct {
		Text   string `json:"text"`
		Result struct {
			Valid bool `json:"is_valid"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(items) != 1 || !items[0].Result.Valid {
		t.Fatalf("extracted = %+v", items)
	}
}

func TestConfigAndChallenges(t *testing.T) {
	ws := t.TempDir()
	if _, _, err := runGyro(t, "", "-w", ws, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(config.Path(ws)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, _, err := runGyro(t, "", "-w", ws, "config", "init"); err == nil {
		t.Fatalf("second init should refuse to overwrite")
	}
	out, _, err := runGyro(t, "", "-w", ws, "config", "validate")
	if err != nil || !strings.Contains(out, "config OK") {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	out, _, err = runGyro(t, "", "-w", ws, "challenge", "list")
	if err != nil || !strings.Contains(out, "epistemic") || !strings.Contains(out, "strategic") {
		t.Fatalf("challenge list: %v\n%s", err, out)
	}
	if _, _, err := runGyro(t, "", "-w", ws, "challenge", "show", "musical"); err == nil {
		t.Fatalf("unknown challenge should fail")
	}
}

func TestKeysAndToken(t *testing.T) {
	ws := t.TempDir()
	raw, _, err := runGyro(t, "", "-w", ws, "--actor-id", "ci", "key", "create", "--name", "pipeline")
	if err != nil || !strings.HasPrefix(raw, "gyro_") {
		t.Fatalf("key create: %v\n%s", err, raw)
	}
	out, _, err := runGyro(t, "", "-w", ws, "--json", "key", "list")
	if err != nil || !strings.Contains(out, `"actor_id": "ci"`) || strings.Contains(out, "key_hash") {
		t.Fatalf("key list: %v\n%s", err, out)
	}
	var keys []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &keys); err != nil || len(keys) != 1 {
		t.Fatalf("decode keys: %v\n%s", err, out)
	}
	if _, _, err := runGyro(t, "", "-w", ws, "--actor-id", "mallory", "key", "delete", keys[0].ID); err == nil {
		t.Fatalf("deleting another actor's key should fail")
	}
	if out, _, err := runGyro(t, "", "-w", ws, "--actor-id", "ci", "key", "delete", keys[0].ID); err != nil || !strings.Contains(out, "deleted") {
		t.Fatalf("key delete: %v\n%s", err, out)
	}
	if _, _, err := runGyro(t, "", "token"); err == nil {
		t.Fatalf("token without secret should fail")
	}
	token, _, err := runGyro(t, "", "--actor-id", "alice", "token", "--jwt-secret", "s3cret")
	if err != nil || strings.Count(strings.TrimSpace(token), ".") != 2 {
		t.Fatalf("token: %v %q", err, token)
	}
}
