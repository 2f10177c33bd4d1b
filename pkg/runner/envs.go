package runner

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Envs is the environment passed to the runner process, merged over the
// launcher's own environment at spawn time.
type Envs map[string]string

func (e Envs) AddIfMissing(k, v string) {
	if _, ok := e[k]; !ok {
		e[k] = v
	}
}

// Environ renders the merged environment in the KEY=VALUE form exec.Cmd
// expects. Spec values override inherited ones.
func (e Envs) Environ() []string {
	return environFrom(e, os.Environ())
}

func environFrom(overrides Envs, base []string) []string {
	merged := make(Envs)
	for _, kv := range base {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			merged[parts[0]] = parts[1]
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	envs := make([]string, 0, len(keys))
	for _, k := range keys {
		envs = append(envs, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return envs
}
