package config

import (
	"fmt"
	"sort"
	"strings"
)

// Preset is a named launch variant. The source launch scripts toggled these
// by commenting invocations in and out; here each variant is explicit and
// selected with -preset.
type Preset struct {
	Description string            `yaml:"description"`
	Entrypoint  string            `yaml:"entrypoint"`
	BaseConfig  string            `yaml:"base_config"`
	ExtraArgs   []string          `yaml:"extra_args"`
	EnvVars     map[string]string `yaml:"env_vars"`
}

const DefaultPreset = "default"

func BuiltinPresets() map[string]Preset {
	return map[string]Preset{
		"default": {
			Description: "plain training run with config values only",
		},
		"stable": {
			Description: "conservative run for long jobs, checkpointing on",
			ExtraArgs: []string{
				"enable_checkpointing=true",
				"async_checkpointing=false",
			},
			EnvVars: map[string]string{
				"LIBTPU_INIT_ARGS": "--xla_tpu_spmd_rng_bit_generator_unsafe=false",
			},
		},
		"debug": {
			Description: "short verbose run for launch plumbing checks",
			ExtraArgs: []string{
				"steps=10",
				"enable_checkpointing=false",
			},
			EnvVars: map[string]string{
				"TPU_MIN_LOG_LEVEL":    "0",
				"TPU_STDERR_LOG_LEVEL": "0",
			},
		},
		"sdc-checker": {
			Description: "silent data corruption checker sweep",
			ExtraArgs: []string{
				"enable_checkpointing=false",
			},
			EnvVars: map[string]string{
				"ENABLE_SDC_CHECKER":     "true",
				"SDC_CHECK_REPEAT_COUNT": "2",
			},
		},
	}
}

// ResolvePreset looks a preset up by name, user-defined presets from the
// config file shadowing the built-in ones.
func (m *Manager) ResolvePreset(name string) (Preset, error) {
	if name == "" {
		name = DefaultPreset
	}
	name = strings.TrimSpace(strings.ToLower(name))

	presets := m.AllPresets()
	if preset, ok := presets[name]; ok {
		return preset, nil
	}

	return Preset{}, fmt.Errorf("unknown preset: %s (valid: %s)", name, strings.Join(presetNames(presets), ", "))
}

// AllPresets merges built-in presets with the config file's presets.
func (m *Manager) AllPresets() map[string]Preset {
	presets := BuiltinPresets()
	if m.config != nil {
		for name, preset := range m.config.Presets {
			presets[strings.ToLower(name)] = preset
		}
	}
	return presets
}

func presetNames(presets map[string]Preset) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
