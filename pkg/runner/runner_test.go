package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sliceSpec() RunSpec {
	return RunSpec{
		Mode:      ModeSlice,
		Script:    "multihost_runner.py",
		RunName:   "mattdavis_2026-03-14-09-26-53",
		Command:   "python3 MaxText/train.py MaxText/configs/base.yml run_name=x steps=10",
		TPUPrefix: "mattdavis-tpu",
	}
}

func jobSpec() RunSpec {
	return RunSpec{
		Mode:           ModeJob,
		Script:         "multihost_job.py",
		RunName:        "mattdavis_2026-03-14-09-26-53",
		Command:        "python3 MaxText/train.py MaxText/configs/base.yml run_name=x steps=10",
		NumSlices:      2,
		TPUType:        "v4-128",
		RuntimeVersion: "tpu-ubuntu2204-base",
		BucketName:     "gs://my-output-bucket",
	}
}

func TestArgvSliceMode(t *testing.T) {
	argv, err := sliceSpec().Argv()
	if err != nil {
		t.Fatalf("Argv failed: %v", err)
	}

	if argv[0] != "python3" || argv[1] != "multihost_runner.py" {
		t.Errorf("unexpected interpreter/script: %v", argv[:2])
	}

	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"--TPU_PREFIX=mattdavis-tpu",
		"--RUN_NAME=mattdavis_2026-03-14-09-26-53",
		"--COMMAND=python3 MaxText/train.py",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}
}

func TestArgvJobMode(t *testing.T) {
	argv, err := jobSpec().Argv()
	if err != nil {
		t.Fatalf("Argv failed: %v", err)
	}

	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"multihost_job.py",
		"--NUM_SLICES=2",
		"--TPU_TYPE=v4-128",
		"--VERSION=tpu-ubuntu2204-base",
		"--BUCKET_NAME=gs://my-output-bucket",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv %q missing %q", joined, want)
		}
	}
}

func TestArgvCommandIsSingleArgument(t *testing.T) {
	argv, err := sliceSpec().Argv()
	if err != nil {
		t.Fatalf("Argv failed: %v", err)
	}

	// The command string must survive as one argv entry, spaces and all,
	// or the remote side sees a truncated command.
	last := argv[len(argv)-1]
	if !strings.HasPrefix(last, "--COMMAND=") {
		t.Fatalf("command is not the final argument: %v", argv)
	}
	if !strings.Contains(last, "steps=10") {
		t.Errorf("command argument truncated: %q", last)
	}
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunSpec)
		base   RunSpec
	}{
		{"missing script", func(s *RunSpec) { s.Script = "" }, sliceSpec()},
		{"missing run name", func(s *RunSpec) { s.RunName = "" }, sliceSpec()},
		{"blank command", func(s *RunSpec) { s.Command = "  " }, sliceSpec()},
		{"slice without prefix", func(s *RunSpec) { s.TPUPrefix = "" }, sliceSpec()},
		{"job without slices", func(s *RunSpec) { s.NumSlices = 0 }, jobSpec()},
		{"job without tpu type", func(s *RunSpec) { s.TPUType = "" }, jobSpec()},
		{"job without version", func(s *RunSpec) { s.RuntimeVersion = "" }, jobSpec()},
		{"job without bucket", func(s *RunSpec) { s.BucketName = "" }, jobSpec()},
		{"unknown mode", func(s *RunSpec) { s.Mode = "turbo" }, sliceSpec()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := tt.base
			tt.mutate(&spec)
			if err := spec.Validate(); err == nil {
				t.Error("Validate accepted a bad spec")
			}
		})
	}
}

func TestEnvironFrom(t *testing.T) {
	base := []string{
		"X=1",
		"Y=Z=2",
	}
	overrides := Envs{"X": "2", "PROJECT": "p"}

	envs := environFrom(overrides, base)
	if len(envs) != 3 {
		t.Fatalf("expected 3 entries, got %d: %q", len(envs), envs)
	}

	m := make(map[string]string)
	for _, kv := range envs {
		parts := strings.SplitN(kv, "=", 2)
		m[parts[0]] = parts[1]
	}

	if m["X"] != "2" {
		t.Errorf("override lost: X=%q", m["X"])
	}
	if m["Y"] != "Z=2" {
		t.Errorf("value with '=' mangled: Y=%q", m["Y"])
	}
	if m["PROJECT"] != "p" {
		t.Errorf("new key missing: %q", m)
	}
}

func TestEnvsAddIfMissing(t *testing.T) {
	e := Envs{"ZONE": "us-central2-b"}
	e.AddIfMissing("ZONE", "other")
	e.AddIfMissing("PROJECT", "p")

	if e["ZONE"] != "us-central2-b" {
		t.Errorf("AddIfMissing overwrote existing key: %q", e["ZONE"])
	}
	if e["PROJECT"] != "p" {
		t.Errorf("AddIfMissing did not add new key")
	}
}

func TestRunStreamsAndSucceeds(t *testing.T) {
	// Argv validation ties us to python3; drive the streaming path through
	// the runner directly with a stand-in process instead.
	r := New("t")
	var buf bytes.Buffer
	r.out = &buf

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.runProcess(ctx, []string{"echo", "hello worker"}, nil); err != nil {
		t.Fatalf("runProcess failed: %v", err)
	}

	if !strings.Contains(buf.String(), "[t::stdout] hello worker") {
		t.Errorf("output not prefixed: %q", buf.String())
	}
}

func TestRunTeesJSONLLog(t *testing.T) {
	r := New("t")
	var buf bytes.Buffer
	r.out = &buf

	logPath := filepath.Join(t.TempDir(), "t.log.jsonl")
	if err := r.LogToFile(logPath); err != nil {
		t.Fatalf("LogToFile failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.runProcess(ctx, []string{"echo", "hello worker"}, nil); err != nil {
		t.Fatalf("runProcess failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), string(data))
	}

	var entry logLine
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry.RunName != "t" {
		t.Errorf("run_name = %q, want %q", entry.RunName, "t")
	}
	if entry.Stream != "stdout" {
		t.Errorf("stream = %q, want %q", entry.Stream, "stdout")
	}
	if entry.Line != "hello worker" {
		t.Errorf("line = %q, want %q", entry.Line, "hello worker")
	}
	if entry.At.IsZero() {
		t.Error("log line has no timestamp")
	}
}

func TestRunWithoutLogFile(t *testing.T) {
	r := New("t")
	var buf bytes.Buffer
	r.out = &buf

	if err := r.runProcess(context.Background(), []string{"echo", "ok"}, nil); err != nil {
		t.Fatalf("runProcess without log file failed: %v", err)
	}
}

func TestRunContextCancellation(t *testing.T) {
	r := New("t")
	var buf bytes.Buffer
	r.out = &buf

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := r.runProcess(ctx, []string{"sleep", "30"}, nil)
	if err == nil {
		t.Fatal("cancelled run returned nil error")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	if code := ExitCode(nil); code != 0 {
		t.Errorf("ExitCode(nil) = %d", code)
	}

	r := New("t")
	var buf bytes.Buffer
	r.out = &buf

	err := r.runProcess(context.Background(), []string{"sh", "-c", "exit 3"}, nil)
	if err == nil {
		t.Fatal("failing process returned nil error")
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}

	if code := ExitCode(context.Canceled); code != -1 {
		t.Errorf("ExitCode(non-exec error) = %d, want -1", code)
	}
}
