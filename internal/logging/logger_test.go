package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dskow/order-relay/internal/config"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")

	logger, closer, err := New(config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("relay started", "port", 3000)
	logger.Debug("hidden")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"relay started"`) {
		t.Errorf("expected JSON entry in file, got %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Error("debug entry should be filtered at info level")
	}
}

func TestNew_Stdout(t *testing.T) {
	_, closer, err := New(config.LoggingConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Errorf("stdout closer should be a no-op, got %v", err)
	}
}

func TestNewHandler_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, config.LoggingConfig{Format: "text", Level: "debug"})).Debug("probe", "k", "v")

	if !strings.Contains(buf.String(), "msg=probe") || !strings.Contains(buf.String(), "k=v") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
