package logger_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/cwrk-planet/chat-core/pkg/logger"
)

func captureStdOut(fn func()) string {
	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() {
		os.Stdout = orig
	}()

	fn()

	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()
	return buf.String()
}

func TestDetectEnv(t *testing.T) {
	t.Setenv("APP_ENV", "")
	if got := logger.DetectEnv(); got != logger.EnvDev {
		t.Fatalf("default should be dev, got %q", got)
	}

	t.Setenv("APP_ENV", "production")
	if got := logger.DetectEnv(); got != logger.EnvProd {
		t.Fatalf("expected prod, got %q", got)
	}
}

func TestInit_DevStd_TextOutput(t *testing.T) {
	out := captureStdOut(func() {
		logger.Init(logger.Config{
			Service: "chat-core",
			Version: "v0.0.1",
			Env:     logger.EnvDev,
			Backend: logger.BackendStd,
			Level:   slog.LevelDebug,
		})
		slog.Info("hello world")
	})

	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		t.Fatalf("expected text output in dev/std, got JSON: %s", out)
	}
	if !strings.Contains(out, "hello world") {
		t.Fatalf("message missing: %s", out)
	}
	if !strings.Contains(out, "service=chat-core") {
		t.Fatalf("service attr missing: %s", out)
	}
	if !strings.Contains(out, "env=dev") {
		t.Fatalf("env attr missing: %s", out)
	}
}

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	out := captureStdOut(func() {
		logger.Init(logger.Config{
			Service: "chat-core",
			Version: "1.2.3",
			Env:     logger.EnvProd,
			Backend: logger.BackendZap,
			Level:   slog.LevelInfo,
		})
		slog.Info("booted", slog.String("k", "v"))
	})

	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("expected JSON line, got %s, err=%v", out, err)
	}
	if m["msg"] != "booted" {
		t.Fatalf("msg mismatch: %v", m["msg"])
	}
	if m["service"] != "chat-core" || m["env"] != "prod" || m["version"] != "1.2.3" {
		t.Fatalf("attrs missing: service=%v env=%v version=%v", m["service"], m["env"], m["version"])
	}
	if m["k"] != "v" {
		t.Fatalf("custom field missing: %v", m["k"])
	}
}

func TestL_LazyInit(t *testing.T) {
	if logger.L() == nil {
		t.Fatal("L() must never return nil")
	}
}
