// Package command assembles the shell command string that the external
// multihost runner executes on every TPU worker host.
package command

import (
	"fmt"
	"sort"
	"strings"
)

// Spec holds everything that ends up inside the remote command string.
type Spec struct {
	RunName            string
	Entrypoint         string
	BaseConfig         string
	OutputBucket       string
	DatasetPath        string
	Steps              int
	PerDeviceBatchSize int
	SetupScript        string
	EnvVars            map[string]string
	ExtraArgs          []string
}

func (s Spec) Validate() error {
	if s.RunName == "" {
		return fmt.Errorf("run name is required")
	}
	if s.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if s.BaseConfig == "" {
		return fmt.Errorf("base config is required")
	}
	if s.OutputBucket == "" {
		return fmt.Errorf("output bucket is required")
	}
	if s.DatasetPath == "" {
		return fmt.Errorf("dataset path is required")
	}
	if s.Steps <= 0 {
		return fmt.Errorf("steps must be greater than 0, got %d", s.Steps)
	}
	if s.PerDeviceBatchSize <= 0 {
		return fmt.Errorf("per-device batch size must be greater than 0, got %d", s.PerDeviceBatchSize)
	}
	return nil
}

// Build renders the command string. Env exports come first in sorted key
// order so the same Spec always produces the same string, then the
// optional setup script, then the training invocation.
func (s Spec) Build() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	var stages []string

	if len(s.EnvVars) > 0 {
		keys := make([]string, 0, len(s.EnvVars))
		for k := range s.EnvVars {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		exports := make([]string, 0, len(keys))
		for _, k := range keys {
			exports = append(exports, fmt.Sprintf("export %s=%s", k, quote(s.EnvVars[k])))
		}
		stages = append(stages, strings.Join(exports, " && "))
	}

	if s.SetupScript != "" {
		stages = append(stages, s.SetupScript)
	}

	train := []string{
		"python3",
		s.Entrypoint,
		s.BaseConfig,
		"run_name=" + s.RunName,
		"base_output_directory=" + s.OutputBucket,
		"dataset_path=" + s.DatasetPath,
		fmt.Sprintf("steps=%d", s.Steps),
		fmt.Sprintf("per_device_batch_size=%d", s.PerDeviceBatchSize),
	}
	train = append(train, s.ExtraArgs...)
	stages = append(stages, strings.Join(train, " "))

	cmd := strings.Join(stages, " && ")

	if err := CheckResolved(cmd); err != nil {
		return "", err
	}
	return cmd, nil
}

// CheckResolved rejects command strings that still carry template
// placeholder residue. A brace in a finished command means some value was
// never substituted.
func CheckResolved(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command string is empty")
	}
	if i := strings.IndexAny(cmd, "{}"); i >= 0 {
		return fmt.Errorf("command string contains unresolved placeholder near %q", residueContext(cmd, i))
	}
	return nil
}

func residueContext(cmd string, i int) string {
	start := i - 10
	if start < 0 {
		start = 0
	}
	end := i + 10
	if end > len(cmd) {
		end = len(cmd)
	}
	return cmd[start:end]
}

// quote wraps a value in single quotes when it contains characters the
// remote shell would otherwise interpret. Values made of safe runes pass
// through untouched to keep the command readable in logs.
func quote(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, " \t\n\"'\\$&|;<>()*?!`~#") {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
