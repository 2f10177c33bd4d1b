// Package session keeps a local JSON manifest per launched run, so the
// history command works even with the database disabled.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var DebugLog func(string, ...interface{})

type Manifest struct {
	RunName            string    `json:"run_name"`
	Preset             string    `json:"preset"`
	Project            string    `json:"project"`
	Zone               string    `json:"zone"`
	TPUType            string    `json:"tpu_type"`
	Steps              int       `json:"steps"`
	PerDeviceBatchSize int       `json:"per_device_batch_size"`
	Command            string    `json:"command"`
	Status             string    `json:"status"`
	DryRun             bool      `json:"dry_run"`
	LaunchedAt         time.Time `json:"launched_at"`
}

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("manifest directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Write persists the manifest as <dir>/<run_name>.json and returns the
// file path. Re-writing the same run name overwrites the old manifest.
func (s *Store) Write(m Manifest) (string, error) {
	if m.RunName == "" {
		return "", fmt.Errorf("manifest run name is required")
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(s.dir, m.RunName+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	if DebugLog != nil {
		DebugLog("wrote run manifest to %s", path)
	}
	return path, nil
}

func (s *Store) Get(runName string) (*Manifest, error) {
	path := filepath.Join(s.dir, runName+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest for %s: %w", runName, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s: %w", runName, err)
	}
	return &m, nil
}

// List returns all manifests, newest launch first. Unreadable files are
// skipped rather than failing the whole listing.
func (s *Store) List() ([]Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		runName := strings.TrimSuffix(entry.Name(), ".json")
		m, err := s.Get(runName)
		if err != nil {
			if DebugLog != nil {
				DebugLog("skipping unreadable manifest %s: %v", entry.Name(), err)
			}
			continue
		}
		manifests = append(manifests, *m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].LaunchedAt.After(manifests[j].LaunchedAt)
	})

	return manifests, nil
}
