package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"kakeibo/internal/config"
	"kakeibo/internal/log"
)

func TestSetupLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf, log.ComponentWorker)

	logger.Info("dropped")
	logger.Warn("kept", log.FieldCount, 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry[log.FieldComponent] != log.ComponentWorker || entry[log.FieldCount] != float64(2) {
		t.Fatalf("unexpected entry: %v", entry)
	}

	buf.Reset()
	slog.Warn("via default")
	if !bytes.Contains(buf.Bytes(), []byte("via default")) {
		t.Fatal("SetupLogger did not install the default logger")
	}
}

func TestSetupLoggerFallsBackOnBadValues(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupLogger(&config.Config{LogLevel: "loud", LogFormat: "xml"}, &buf, "")
	logger.Info("hello")
	if !bytes.Contains(buf.Bytes(), []byte("msg=hello")) {
		t.Fatalf("expected text output at info level, got %q", buf.String())
	}
}
