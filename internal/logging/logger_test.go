package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/services"
)

func TestNewFromConfigWritesRotatedJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, closer, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started", logging.String(logging.FieldJobID, "job-1"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", data, err)
	}
	if entry["msg"] != "daemon started" || entry["job_id"] != "job-1" {
		t.Fatalf("unexpected entry %#v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
}

func TestConsoleLoggerFormatsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	logger.Info("encode started",
		logging.String(logging.FieldJobID, "01J"),
		logging.String(logging.FieldStage, "encoding"),
		logging.String("output", "two words"),
	)

	line := buf.String()
	for _, want := range []string{"INFO [workflow] Job 01J (encoding) – encode started", `output="two words"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("probe output")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller in debug output, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "job-9")
	ctx = services.WithContentHash(ctx, "abc")
	ctx = services.WithRendition(ctx, "720")
	logging.WithContext(ctx, logger).Info("rung finished")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldJobID] != "job-9" || entry[logging.FieldContentHash] != "abc" || entry[logging.FieldRendition] != "720" {
		t.Fatalf("missing context fields: %#v", entry)
	}
}

func TestTeeHandlerDuplicatesRecords(t *testing.T) {
	var a, b bytes.Buffer
	first, _ := logging.New(logging.Options{Format: "json", Level: "info", Writer: &a})
	second, _ := logging.New(logging.Options{Format: "json", Level: "error", Writer: &b})
	l := slog.New(logging.TeeHandler(first.Handler(), second.Handler()))
	l.Info("only first")
	l.Error("both", logging.Error(errors.New("boom")))

	if strings.Count(a.String(), "\n") != 2 {
		t.Fatalf("expected two lines in first sink, got %q", a.String())
	}
	if strings.Count(b.String(), "\n") != 1 || !strings.Contains(b.String(), "boom") {
		t.Fatalf("expected only the error in second sink, got %q", b.String())
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	logging.WarnWithContext(logger, "preview failed", "preview_failed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %s in %#v", key, entry)
		}
	}
}

func TestArgsPreservesAttrOrder(t *testing.T) {
	args := logging.Args(logging.String("a", "1"), logging.Int("b", 2))
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	first, ok := args[0].(slog.Attr)
	if !ok || first.Key != "a" {
		t.Fatalf("unexpected first arg %#v", args[0])
	}
	if second := args[1].(slog.Attr); second.Key != "b" || second.Value.Int64() != 2 {
		t.Fatalf("unexpected second arg %#v", args[1])
	}
}
