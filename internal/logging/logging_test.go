package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"medkb/internal/config"
)

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestNewDefaultsToInfoConsole(t *testing.T) {
	logger, err := New(config.LoggingConfig{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info level by default")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(config.LoggingConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}
