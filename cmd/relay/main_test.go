package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_MissingConfigFile(t *testing.T) {
	dir := t.TempDir()
	err := run([]string{
		"-env-file", filepath.Join(dir, "absent.env"),
		"-config", filepath.Join(dir, "absent.yaml"),
	})
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("expected config load error, got %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	if err := run([]string{"-no-such-flag"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}
