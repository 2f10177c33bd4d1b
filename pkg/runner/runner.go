// Package runner invokes the external multihost utility that fans the
// training command out to every TPU worker host. The fan-out itself,
// SSH and all, lives in that utility; this package only spawns it and
// relays its output.
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var DebugLog func(string, ...interface{})

// Mode selects which external utility carries the launch.
type Mode string

const (
	// ModeSlice targets already-provisioned TPU VMs by name prefix.
	ModeSlice Mode = "slice"
	// ModeJob provisions queued resources and runs against them.
	ModeJob Mode = "job"
)

// RunSpec describes one invocation of the external runner.
type RunSpec struct {
	Mode    Mode
	Script  string
	RunName string
	Command string

	// Slice mode.
	TPUPrefix string

	// Job mode.
	NumSlices      int
	TPUType        string
	RuntimeVersion string
	BucketName     string

	Env Envs
}

func (s RunSpec) Validate() error {
	if s.Script == "" {
		return fmt.Errorf("runner script is required")
	}
	if s.RunName == "" {
		return fmt.Errorf("run name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("command string is required")
	}

	switch s.Mode {
	case ModeSlice:
		if s.TPUPrefix == "" {
			return fmt.Errorf("slice mode requires a TPU name prefix")
		}
	case ModeJob:
		if s.NumSlices <= 0 {
			return fmt.Errorf("job mode requires at least one slice, got %d", s.NumSlices)
		}
		if s.TPUType == "" {
			return fmt.Errorf("job mode requires a TPU type")
		}
		if s.RuntimeVersion == "" {
			return fmt.Errorf("job mode requires a runtime version")
		}
		if s.BucketName == "" {
			return fmt.Errorf("job mode requires a bucket name")
		}
	default:
		return fmt.Errorf("unknown runner mode: %q", s.Mode)
	}

	return nil
}

// Argv builds the full argument vector for the runner process. The flag
// names follow the external utility's own convention.
func (s RunSpec) Argv() ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	argv := []string{"python3", s.Script}

	switch s.Mode {
	case ModeSlice:
		argv = append(argv,
			"--TPU_PREFIX="+s.TPUPrefix,
			"--RUN_NAME="+s.RunName,
		)
	case ModeJob:
		argv = append(argv,
			"--RUN_NAME="+s.RunName,
			"--BUCKET_NAME="+s.BucketName,
			fmt.Sprintf("--NUM_SLICES=%d", s.NumSlices),
			"--TPU_TYPE="+s.TPUType,
			"--VERSION="+s.RuntimeVersion,
		)
	}

	argv = append(argv, "--COMMAND="+s.Command)
	return argv, nil
}

type Runner struct {
	name string
	out  io.Writer

	logMu   sync.Mutex
	logEnc  *json.Encoder
	logFile *os.File
}

func New(name string) *Runner {
	return &Runner{
		name: name,
		out:  os.Stderr,
	}
}

// logLine is one relayed runner line in the JSONL log.
type logLine struct {
	RunName string    `json:"run_name"`
	Stream  string    `json:"stream"`
	Line    string    `json:"line"`
	At      time.Time `json:"at"`
}

// LogToFile tees every relayed line into a JSONL file at path, one JSON
// document per line. Must be called before Run.
func (r *Runner) LogToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create runner log: %w", err)
	}
	r.logFile = f
	r.logEnc = json.NewEncoder(f)
	return nil
}

func (r *Runner) closeLog() {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	if r.logFile != nil {
		r.logFile.Close()
		r.logFile = nil
		r.logEnc = nil
	}
}

// Run spawns the runner process and blocks until it exits or the context
// is cancelled. Cancellation kills the child. The child's exit status
// comes back as the returned error, uninterpreted.
func (r *Runner) Run(ctx context.Context, spec RunSpec) error {
	argv, err := spec.Argv()
	if err != nil {
		return err
	}
	return r.runProcess(ctx, argv, spec.Env.Environ())
}

func (r *Runner) runProcess(ctx context.Context, argv []string, env []string) error {
	defer r.closeLog()

	if DebugLog != nil {
		DebugLog("executing: %s", strings.Join(argv, " "))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { r.streamPipe("stdout", stdout); wg.Done() }()
	go func() { r.streamPipe("stderr", stderr); wg.Done() }()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("runner exited with error: %w", err)
		}
		return nil
	}
}

func (r *Runner) streamPipe(stream string, in io.Reader) {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	prefix := fmt.Sprintf("[%s::%s]", r.name, stream)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintf(r.out, "%s %s\n", prefix, line)

		r.logMu.Lock()
		if r.logEnc != nil {
			r.logEnc.Encode(logLine{
				RunName: r.name,
				Stream:  stream,
				Line:    line,
				At:      time.Now().UTC(),
			})
		}
		r.logMu.Unlock()
	}
}

// ExitCode extracts the process exit code from a Run error. A nil error
// is 0, a non-exec error is -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
