package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_DefaultLevel(t *testing.T) {
	logger := New("", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
}

func TestNew_DebugLevel(t *testing.T) {
	logger := New("debug", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected debug level to be enabled")
	}
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Expected info level to be disabled at error level")
	}
}

func TestNew_JSONFormat(t *testing.T) {
	logger := New("info", "json")
	if logger == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("Expected empty request ID on fresh context")
	}

	ctx = WithRequestID(ctx, "req-123")
	if RequestID(ctx) != "req-123" {
		t.Errorf("Expected req-123, got %s", RequestID(ctx))
	}
}

func TestScanID_RoundTrip(t *testing.T) {
	ctx := WithScanID(context.Background(), "scan_abc")
	if ScanID(ctx) != "scan_abc" {
		t.Errorf("Expected scan_abc, got %s", ScanID(ctx))
	}
}

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil {
		t.Fatal("Expected default logger, got nil")
	}
}

func TestL_WithRequestAndScanID(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithScanID(ctx, "scan-1")

	logger := L(ctx)
	if logger == nil {
		t.Fatal("Expected non-nil logger")
	}
}
