package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

type Config struct {
	Cloud    Cloud             `yaml:"cloud"`
	TPU      TPU               `yaml:"tpu"`
	Storage  Storage           `yaml:"storage"`
	Training Training          `yaml:"training"`
	Runner   Runner            `yaml:"runner"`
	Presets  map[string]Preset `yaml:"presets"`
	Database Database          `yaml:"database"`
	Elastic  Elastic           `yaml:"elastic"`
}

type Cloud struct {
	Project string `yaml:"project"`
	Zone    string `yaml:"zone"`
}

type TPU struct {
	Type           string `yaml:"type"`
	RuntimeVersion string `yaml:"runtime_version"`
	Slices         int    `yaml:"slices"`
}

type Storage struct {
	OutputBucket string `yaml:"output_bucket"`
	DatasetPath  string `yaml:"dataset_path"`
}

type Training struct {
	RunPrefix          string `yaml:"run_prefix"`
	Entrypoint         string `yaml:"entrypoint"`
	BaseConfig         string `yaml:"base_config"`
	SetupScript        string `yaml:"setup_script"`
	Steps              int    `yaml:"steps"`
	PerDeviceBatchSize int    `yaml:"per_device_batch_size"`
}

type Runner struct {
	Script         string `yaml:"script"`
	JobScript      string `yaml:"job_script"`
	TPUPrefix      string `yaml:"tpu_prefix"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

type Manager struct {
	config     *Config
	configPath string
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

func (m *Manager) LoadConfig() error {
	if m.configPath == "" {
		m.configPath = m.findConfigFile()
	}

	if DebugLog != nil {
		DebugLog("loading launch config from %s", m.configPath)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found at %s. Please create one based on config.yaml.example", m.configPath)
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := m.validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = config
	return nil
}

func defaultConfig() *Config {
	return &Config{
		TPU: TPU{
			Slices: 1,
		},
		Training: Training{
			RunPrefix:          "run",
			Entrypoint:         "MaxText/train.py",
			BaseConfig:         "MaxText/configs/base.yml",
			Steps:              100,
			PerDeviceBatchSize: 4,
		},
		Runner: Runner{
			Script:         "multihost_runner.py",
			JobScript:      "multihost_job.py",
			TimeoutMinutes: 240,
		},
	}
}

// Environment variables with the TPULAUNCH_ prefix win over file values,
// so a CI job can retarget a launch without editing config.yaml.
func applyEnvOverrides(config *Config) {
	v := viper.New()
	v.SetEnvPrefix("TPULAUNCH")
	v.AutomaticEnv()

	overrides := []struct {
		key    string
		target *string
	}{
		{"project", &config.Cloud.Project},
		{"zone", &config.Cloud.Zone},
		{"tpu_type", &config.TPU.Type},
		{"runtime_version", &config.TPU.RuntimeVersion},
		{"output_bucket", &config.Storage.OutputBucket},
		{"dataset_path", &config.Storage.DatasetPath},
		{"run_prefix", &config.Training.RunPrefix},
		{"tpu_prefix", &config.Runner.TPUPrefix},
	}

	for _, o := range overrides {
		if val := v.GetString(o.key); val != "" {
			if DebugLog != nil {
				DebugLog("env override TPULAUNCH_%s applied", strings.ToUpper(o.key))
			}
			*o.target = val
		}
	}

	if slices := v.GetInt("slices"); slices > 0 {
		config.TPU.Slices = slices
	}
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	configPath := GetDefaultConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return configPath
	}

	return "config/config.yaml"
}

func (m *Manager) validateConfig(config *Config) error {
	if config.Training.Steps <= 0 {
		return fmt.Errorf("training steps must be greater than 0")
	}

	if config.Training.PerDeviceBatchSize <= 0 {
		return fmt.Errorf("per-device batch size must be greater than 0")
	}

	if config.TPU.Slices <= 0 {
		return fmt.Errorf("tpu slices must be greater than 0")
	}

	if config.Runner.TimeoutMinutes <= 0 {
		return fmt.Errorf("runner timeout must be greater than 0")
	}

	if config.Storage.OutputBucket != "" && !strings.HasPrefix(config.Storage.OutputBucket, "gs://") {
		return fmt.Errorf("output bucket must be a gs:// path, got %s", config.Storage.OutputBucket)
	}

	if config.Storage.DatasetPath != "" && !strings.HasPrefix(config.Storage.DatasetPath, "gs://") {
		return fmt.Errorf("dataset path must be a gs:// path, got %s", config.Storage.DatasetPath)
	}

	for name := range config.Presets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("preset names must not be empty")
		}
	}

	return nil
}

func (m *Manager) ConfigPath() string {
	if m.configPath != "" {
		if abs, err := filepath.Abs(m.configPath); err == nil {
			return abs
		}
	}
	return m.configPath
}
