package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("JSON形式でcomponentとフィールドが出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := WithComponent(New(Config{Level: "info", Format: "json", Writer: &buf}), "gateway")
		logger.Info("hello", zap.String("request_id", "req-1"))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("json.Unmarshal(%q) error = %v", buf.String(), err)
		}
		if entry["msg"] != "hello" {
			t.Errorf("msg = %v, want hello", entry["msg"])
		}
		if entry["component"] != "gateway" {
			t.Errorf("component = %v, want gateway", entry["component"])
		}
		if entry["request_id"] != "req-1" {
			t.Errorf("request_id = %v, want req-1", entry["request_id"])
		}
	})

	t.Run("レベル未満のログは出力されないこと", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := New(Config{Level: "warn", Writer: &buf})
		logger.Info("suppressed")
		logger.Warn("visible")

		out := buf.String()
		if strings.Contains(out, "suppressed") {
			t.Errorf("infoログが出力された: %s", out)
		}
		if !strings.Contains(out, "visible") {
			t.Errorf("warnログが出力されない: %s", out)
		}
	})

	t.Run("console形式はJSONでないこと", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		New(Config{Format: "console", Writer: &buf}).Info("hello")
		if json.Valid(bytes.TrimSpace(buf.Bytes())) {
			t.Errorf("console形式の出力がJSONになっている: %s", buf.String())
		}
		if !strings.Contains(buf.String(), "INFO") {
			t.Errorf("レベルが出力されない: %s", buf.String())
		}
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponent(t *testing.T) {
	t.Parallel()

	if WithComponent(nil, "x") == nil {
		t.Error("WithComponent(nil) = nil, want nop logger")
	}
}
