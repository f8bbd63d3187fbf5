package main

import (
	"path/filepath"
	"testing"
)

func TestValidatePort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		if err := validatePort(port); err == nil {
			t.Fatalf("expected error for port %d", port)
		}
	}
	if err := validatePort(8318); err != nil {
		t.Fatalf("validatePort(8318): %v", err)
	}
}

func TestLoadAppConfig_FlagWins(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/etc/drawer/env.yaml")
	path := filepath.Join(t.TempDir(), "flag.yaml")
	appCfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("loadAppConfig: %v", err)
	}
	if appCfg.ConfigPath != path {
		t.Fatalf("expected %q, got %q", path, appCfg.ConfigPath)
	}
}

func TestRunInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := run(t.Context(), []string{"init", "-config", path, "-password", "secret123"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := run(t.Context(), []string{"init", "-config", path, "-password", "secret123"}); err == nil {
		t.Fatalf("expected second init to refuse overwrite")
	}
}
