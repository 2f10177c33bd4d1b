package command

import (
	"strings"
	"testing"
)

func validSpec() Spec {
	return Spec{
		RunName:            "mattdavis_2026-03-14-09-26-53",
		Entrypoint:         "MaxText/train.py",
		BaseConfig:         "MaxText/configs/base.yml",
		OutputBucket:       "gs://my-output-bucket",
		DatasetPath:        "gs://my-dataset-bucket/c4",
		Steps:              500,
		PerDeviceBatchSize: 6,
	}
}

// assertContains fails unless every literal appears in the command string.
func assertContains(t *testing.T, cmd string, literals ...string) {
	t.Helper()
	for _, lit := range literals {
		if !strings.Contains(cmd, lit) {
			t.Errorf("command %q missing literal %q", cmd, lit)
		}
	}
}

func TestBuildEmbedsAllRequiredLiterals(t *testing.T) {
	cmd, err := validSpec().Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	assertContains(t, cmd,
		"run_name=mattdavis_2026-03-14-09-26-53",
		"base_output_directory=gs://my-output-bucket",
		"dataset_path=gs://my-dataset-bucket/c4",
		"steps=500",
		"per_device_batch_size=6",
		"python3 MaxText/train.py MaxText/configs/base.yml",
	)
}

func TestBuildDeterministicEnvOrder(t *testing.T) {
	spec := validSpec()
	spec.EnvVars = map[string]string{
		"TPU_STDERR_LOG_LEVEL": "0",
		"ENABLE_SDC_CHECKER":   "true",
		"TPU_MIN_LOG_LEVEL":    "0",
	}

	first, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := spec.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if again != first {
			t.Fatalf("Build not deterministic:\n%s\nvs\n%s", first, again)
		}
	}

	sdc := strings.Index(first, "ENABLE_SDC_CHECKER")
	minLevel := strings.Index(first, "TPU_MIN_LOG_LEVEL")
	stderrLevel := strings.Index(first, "TPU_STDERR_LOG_LEVEL")
	if !(sdc < minLevel && minLevel < stderrLevel) {
		t.Errorf("env exports not in sorted key order: %s", first)
	}
}

func TestBuildStageOrder(t *testing.T) {
	spec := validSpec()
	spec.SetupScript = "bash setup.sh"
	spec.EnvVars = map[string]string{"ENABLE_SDC_CHECKER": "true"}

	cmd, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	export := strings.Index(cmd, "export ENABLE_SDC_CHECKER")
	setup := strings.Index(cmd, "bash setup.sh")
	train := strings.Index(cmd, "python3 MaxText/train.py")
	if !(export < setup && setup < train) {
		t.Errorf("stages out of order: %s", cmd)
	}
}

func TestBuildAppendsExtraArgsLast(t *testing.T) {
	spec := validSpec()
	spec.ExtraArgs = []string{"quantization=int8", "enable_checkpointing=false"}

	cmd, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.HasSuffix(cmd, "quantization=int8 enable_checkpointing=false") {
		t.Errorf("extra args not appended last: %s", cmd)
	}
}

func TestBuildRejectsIncompleteSpec(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"missing run name", func(s *Spec) { s.RunName = "" }},
		{"missing entrypoint", func(s *Spec) { s.Entrypoint = "" }},
		{"missing base config", func(s *Spec) { s.BaseConfig = "" }},
		{"missing output bucket", func(s *Spec) { s.OutputBucket = "" }},
		{"missing dataset path", func(s *Spec) { s.DatasetPath = "" }},
		{"zero steps", func(s *Spec) { s.Steps = 0 }},
		{"negative batch size", func(s *Spec) { s.PerDeviceBatchSize = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			if _, err := spec.Build(); err == nil {
				t.Errorf("Build accepted invalid spec")
			}
		})
	}
}

func TestCheckResolved(t *testing.T) {
	if err := CheckResolved("python3 train.py run_name=r_x steps=10"); err != nil {
		t.Errorf("CheckResolved rejected a clean command: %v", err)
	}

	if err := CheckResolved("python3 train.py run_name={run_name}"); err == nil {
		t.Error("CheckResolved accepted a command with placeholder residue")
	}

	if err := CheckResolved("   "); err == nil {
		t.Error("CheckResolved accepted an empty command")
	}
}

func TestQuoteShellValues(t *testing.T) {
	spec := validSpec()
	spec.EnvVars = map[string]string{
		"LIBTPU_INIT_ARGS": "--xla_a=1 --xla_b=2",
	}

	cmd, err := spec.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !strings.Contains(cmd, "export LIBTPU_INIT_ARGS='--xla_a=1 --xla_b=2'") {
		t.Errorf("value with spaces not quoted: %s", cmd)
	}
}
