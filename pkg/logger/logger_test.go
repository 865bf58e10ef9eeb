package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInfoJ_FieldsRecorded(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Use(zap.New(core))
	defer Use(zap.NewNop())

	InfoJ("audit_sweep", map[string]any{"result": "ok", "files": 3})
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if entries[0].Message != "audit_sweep" || ctx["result"] != "ok" || ctx["files"] != int64(3) {
		t.Fatalf("unexpected entry: %+v %v", entries[0], ctx)
	}
}

func TestSetLevel_Unsupported(t *testing.T) {
	if err := SetLevel("verbose"); err == nil {
		t.Fatalf("want error for unknown level")
	}
	if err := SetLevel("warn"); err != nil {
		t.Fatalf("warn: %v", err)
	}
	_ = SetLevel("info")
}

func TestInit_FileSink(t *testing.T) {
	p := filepath.Join(t.TempDir(), "node.log")
	if err := Init(Config{Level: "info", File: p}); err != nil {
		t.Fatalf("init: %v", err)
	}
	InfoJ("file_sink", map[string]any{"k": "v"})
	_ = Sync()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"file_sink"`) {
		t.Fatalf("log line missing: %s", b)
	}
	_ = Init(Config{})
}
