// Package gcloud shells out to the Google Cloud CLI for project and zone
// configuration. Only the config surface is wrapped; TPU provisioning is
// the external runner's job.
package gcloud

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var DebugLog func(string, ...interface{})

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Client struct {
	path string
}

func NewClient() (*Client, error) {
	path, err := findGcloud()
	if err != nil {
		return nil, err
	}
	return &Client{path: path}, nil
}

func findGcloud() (string, error) {
	if path, err := exec.LookPath("gcloud"); err == nil {
		return path, nil
	}

	candidates := []string{
		"/usr/lib/google-cloud-sdk/bin/gcloud",
		"/snap/google-cloud-cli/current/bin/gcloud",
	}

	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, "google-cloud-sdk", "bin", "gcloud"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("gcloud not found in PATH or known SDK locations")
}

func (c *Client) Path() string {
	return c.path
}

// SetProject applies the active project. Re-applying the same value is a
// no-op on the gcloud side, so the call is safe to repeat.
func (c *Client) SetProject(ctx context.Context, project string) error {
	if project == "" {
		return fmt.Errorf("project must not be empty")
	}

	res, err := c.run(ctx, configSetArgs("project", project)...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("gcloud config set project failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// SetZone applies the active compute zone, same idempotence as SetProject.
func (c *Client) SetZone(ctx context.Context, zone string) error {
	if zone == "" {
		return fmt.Errorf("zone must not be empty")
	}

	res, err := c.run(ctx, configSetArgs("compute/zone", zone)...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("gcloud config set compute/zone failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CurrentProject reads the active project from the gcloud config, used
// when the launch config leaves the project unset.
func (c *Client) CurrentProject(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "config", "get-value", "project")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("gcloud config get-value project failed: %s", strings.TrimSpace(res.Stderr))
	}

	project := strings.TrimSpace(res.Stdout)
	if project == "" || project == "(unset)" {
		return "", fmt.Errorf("no project configured in gcloud")
	}
	return project, nil
}

// Configure applies project and zone in one pass, skipping empty values.
func (c *Client) Configure(ctx context.Context, project, zone string) error {
	if project != "" {
		if err := c.SetProject(ctx, project); err != nil {
			return err
		}
	}
	if zone != "" {
		if err := c.SetZone(ctx, zone); err != nil {
			return err
		}
	}
	return nil
}

func configSetArgs(property, value string) []string {
	return []string{"config", "set", property, value}
}

func (c *Client) run(ctx context.Context, args ...string) (Result, error) {
	if DebugLog != nil {
		DebugLog("executing: %s %s", c.path, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, c.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to execute gcloud: %w", err)
	}

	return res, nil
}
