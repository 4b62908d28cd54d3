package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestRun_NoCommand verifies run fails with usage when no command given.
func TestRun_NoCommand(t *testing.T) {
	err := run(context.Background(), nil)
	if err == nil {
		t.Fatal("run() should fail without a command")
	}
	if !strings.Contains(err.Error(), "usage:") {
		t.Errorf("error = %q, want usage text", err)
	}
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HUBLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, []string{"monitor"})
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_UnknownCommand verifies dispatch rejects unknown commands before
// any config loading or connection attempt.
func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"flash"})
	if err == nil {
		t.Fatal("run() should fail for an unknown command")
	}
	if !strings.Contains(err.Error(), "flash") {
		t.Errorf("error = %q, want the offending command named", err)
	}
}

// TestRun_MissingScriptArgument verifies download demands a script path.
func TestRun_MissingScriptArgument(t *testing.T) {
	err := run(context.Background(), []string{"download"})
	if err == nil {
		t.Fatal("run() should fail when download is missing its script argument")
	}
	if !strings.Contains(err.Error(), "usage:") {
		t.Errorf("error = %q, want usage text", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("HUBLINK_CONFIG", "")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("HUBLINK_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
