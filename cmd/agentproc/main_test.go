package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildRootCmdHasSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"replay": false, "run": false}
	for _, cmd := range root.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestReplayProcessesRecordedStream(t *testing.T) {
	events := `{"type":"start"}
{"type":"step-start"}
{"type":"text-start"}
{"type":"text-delta","text":{"text":"hello from replay"}}
{"type":"text-end"}
{"type":"step-finish","step":{"reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}}
{"type":"finish"}
`
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(events), 0o644); err != nil {
		t.Fatal(err)
	}

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"replay", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("replay failed: %v\n%s", err, out.String())
	}
	output := out.String()
	if !strings.Contains(output, "hello from replay") {
		t.Errorf("text part missing from output:\n%s", output)
	}
	if !strings.Contains(output, "verdict: continue") {
		t.Errorf("verdict missing from output:\n%s", output)
	}
	if !strings.Contains(output, "end_turn") {
		t.Errorf("finish reason missing from output:\n%s", output)
	}
}

func TestReplayRejectsMissingFile(t *testing.T) {
	root := buildRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"replay", filepath.Join(t.TempDir(), "absent.jsonl")})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing events file")
	}
}
