package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const sampleConfig = `
cloud:
  project: my-tpu-project
  zone: us-central2-b
tpu:
  type: v4-128
  runtime_version: tpu-ubuntu2204-base
  slices: 2
storage:
  output_bucket: gs://my-output-bucket
  dataset_path: gs://my-dataset-bucket/c4
training:
  run_prefix: mattdavis
  steps: 500
  per_device_batch_size: 6
runner:
  tpu_prefix: mattdavis-tpu
`

func TestLoadConfig(t *testing.T) {
	m := NewManager(writeConfig(t, sampleConfig))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Cloud.Project != "my-tpu-project" {
		t.Errorf("project = %q", cfg.Cloud.Project)
	}
	if cfg.TPU.Slices != 2 {
		t.Errorf("slices = %d", cfg.TPU.Slices)
	}
	if cfg.Training.Steps != 500 {
		t.Errorf("steps = %d", cfg.Training.Steps)
	}
}

func TestConfigPathReportsLoadedFile(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	m := NewManager(path)
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	got := m.ConfigPath()
	if !filepath.IsAbs(got) {
		t.Errorf("ConfigPath not absolute: %q", got)
	}
	if filepath.Base(got) != "config.yaml" {
		t.Errorf("ConfigPath = %q, want the loaded config.yaml", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "cloud:\n  project: p\n"))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Training.Entrypoint != "MaxText/train.py" {
		t.Errorf("default entrypoint = %q", cfg.Training.Entrypoint)
	}
	if cfg.Runner.Script != "multihost_runner.py" {
		t.Errorf("default runner script = %q", cfg.Runner.Script)
	}
	if cfg.Runner.TimeoutMinutes != 240 {
		t.Errorf("default timeout = %d", cfg.Runner.TimeoutMinutes)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"))
	if err := m.LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a missing file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"zero steps",
			"training:\n  steps: -5\n",
			"steps",
		},
		{
			"bad bucket",
			"storage:\n  output_bucket: s3://wrong\n",
			"gs://",
		},
		{
			"bad dataset",
			"storage:\n  dataset_path: /local/path\n",
			"gs://",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, tt.content))
			err := m.LoadConfig()
			if err == nil {
				t.Fatal("LoadConfig accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TPULAUNCH_PROJECT", "override-project")
	t.Setenv("TPULAUNCH_ZONE", "europe-west4-b")

	m := NewManager(writeConfig(t, sampleConfig))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg := m.GetConfig()
	if cfg.Cloud.Project != "override-project" {
		t.Errorf("env override ignored, project = %q", cfg.Cloud.Project)
	}
	if cfg.Cloud.Zone != "europe-west4-b" {
		t.Errorf("env override ignored, zone = %q", cfg.Cloud.Zone)
	}
}

func TestResolvePresetBuiltins(t *testing.T) {
	m := NewManager(writeConfig(t, sampleConfig))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	for _, name := range []string{"default", "stable", "debug", "sdc-checker"} {
		if _, err := m.ResolvePreset(name); err != nil {
			t.Errorf("built-in preset %q not resolvable: %v", name, err)
		}
	}

	// Empty name falls back to the default preset.
	if _, err := m.ResolvePreset(""); err != nil {
		t.Errorf("empty preset name not resolvable: %v", err)
	}
}

func TestResolvePresetUnknown(t *testing.T) {
	m := NewManager(writeConfig(t, sampleConfig))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	_, err := m.ResolvePreset("warp-speed")
	if err == nil {
		t.Fatal("unknown preset accepted")
	}
	if !strings.Contains(err.Error(), "sdc-checker") {
		t.Errorf("error %q does not list valid presets", err)
	}
}

func TestResolvePresetUserShadowsBuiltin(t *testing.T) {
	content := sampleConfig + `
presets:
  debug:
    description: replaced
    extra_args:
      - steps=1
`
	m := NewManager(writeConfig(t, content))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	preset, err := m.ResolvePreset("debug")
	if err != nil {
		t.Fatalf("ResolvePreset failed: %v", err)
	}
	if preset.Description != "replaced" {
		t.Errorf("user preset did not shadow built-in: %+v", preset)
	}
}

func TestResolvePresetCaseInsensitive(t *testing.T) {
	m := NewManager(writeConfig(t, sampleConfig))
	if err := m.LoadConfig(); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if _, err := m.ResolvePreset("  STABLE "); err != nil {
		t.Errorf("preset lookup should trim and lowercase: %v", err)
	}
}
