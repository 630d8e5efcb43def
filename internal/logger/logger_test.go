package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNew_LogLevelEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	log := New()
	if log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("Expected warn level from LOG_LEVEL, got %s", log.GetLevel())
	}
}

func TestNew_InvalidLogLevelIgnored(t *testing.T) {
	t.Setenv("LOG_LEVEL", "shout")

	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to stay enabled on invalid LOG_LEVEL")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("statement generated")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !containsString(output, "statement generated") {
		t.Errorf("Expected output to contain 'statement generated', got: %s", output)
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := context.Background()

	ctxWithLogger := WithContext(ctx, log)

	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	ctx := context.Background()

	// Should return a default logger when none is in context
	log := FromContext(ctx)

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	fields := map[string]interface{}{
		"account_id": "acct_123",
		"operation":  "generate_statement",
	}

	logWithFields := WithFields(log, fields)
	logWithFields.Info().Msg("run started")

	output := buf.String()
	if !containsString(output, "account_id") || !containsString(output, "acct_123") {
		t.Errorf("Expected output to contain account_id field, got: %s", output)
	}
	if !containsString(output, "operation") || !containsString(output, "generate_statement") {
		t.Errorf("Expected output to contain operation field, got: %s", output)
	}
}

// Helper function to check if a string contains a substring
func containsString(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > 0 && (s[:len(substr)] == substr || containsString(s[1:], substr))))
}
