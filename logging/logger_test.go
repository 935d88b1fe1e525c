package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/c0deZ3R0/firesync/errors"
)

func TestLogger(t *testing.T) {
	configs := []Config{
		{Level: "debug", Format: "text", Environment: EnvDevelopment, AddSource: true},
		{Level: "info", Format: "json", Environment: EnvProduction, AddSource: false},
	}

	for _, config := range configs {
		t.Run("Environment_"+config.Environment, func(t *testing.T) {
			var buf bytes.Buffer
			config.Output = &buf
			logger := NewLogger(config)

			logger.Debug("Debug message", slog.String("key", "value"))
			logger.Info("Info message", slog.Int("count", 42))

			testErr := errors.New(errors.OpAppend, fmt.Errorf("storage error"))
			logger.LogError(context.Background(), testErr, "Operation failed")

			childLogger := logger.WithComponent(Component("test"))
			childLogger.Info("Child logger message")

			err := logger.LogOperation(
				context.Background(),
				Operation("test_op"),
				Component("test_component"),
				func() error {
					time.Sleep(time.Millisecond)
					return nil
				},
			)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			out := buf.String()
			if !strings.Contains(out, "Info message") || !strings.Contains(out, "Operation failed") {
				t.Errorf("missing expected records in output:\n%s", out)
			}
		})
	}
}

func TestLogErrorRendersSyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Environment: EnvProduction, Output: &buf})

	syncErr := errors.NewRemoteWriteError(errors.OpDispatch, fmt.Errorf("permission denied"))
	syncErr.Metadata = map[string]interface{}{"path": "rooms/a/actions"}
	logger.LogError(context.Background(), syncErr, "dispatch failed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not a single JSON record: %v\n%s", err, buf.String())
	}
	group, ok := record["sync_error"].(map[string]any)
	if !ok {
		t.Fatalf("sync_error attribute missing: %v", record)
	}
	if group["code"] != string(errors.ErrCodeRemoteWriteFailure) {
		t.Errorf("code = %v", group["code"])
	}
	if group["operation"] != "dispatch" {
		t.Errorf("operation = %v", group["operation"])
	}
	if _, ok := record["caller"]; !ok {
		t.Error("caller group missing")
	}
}

func TestLogErrorFindsWrappedSyncError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Environment: EnvProduction, Output: &buf})

	err := fmt.Errorf("listen: %w", errors.NewRemoteSubscriptionError(errors.OpListen, fmt.Errorf("unavailable")))
	logger.LogError(context.Background(), err, "actions query failing")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not a single JSON record: %v\n%s", err, buf.String())
	}
	group, ok := record["sync_error"].(map[string]any)
	if !ok {
		t.Fatalf("sync_error attribute missing: %v", record)
	}
	if group["operation"] != "listen" {
		t.Errorf("operation = %v", group["operation"])
	}
}

func TestApplyEnvironmentDefaults(t *testing.T) {
	got := ApplyEnvironmentDefaults(Config{Environment: EnvProduction, AddSource: true})
	if got.Format != "json" || got.Level != "info" || got.AddSource {
		t.Errorf("production defaults = %+v", got)
	}

	got = ApplyEnvironmentDefaults(Config{Environment: EnvTest, Level: "WARN"})
	if got.Format != "text" || got.Level != "warn" {
		t.Errorf("test defaults = %+v", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if ValidLevel("bogus") {
		t.Error("ValidLevel(bogus) = true")
	}
}

func TestSyncErrorValuer(t *testing.T) {
	syncErr := &errors.SyncError{
		Op:        errors.OpSubscribe,
		Component: "test",
		Code:      errors.ErrCodeStorageFailure,
		Kind:      errors.KindInternal,
		Err:       fmt.Errorf("underlying error"),
		Retryable: true,
		Metadata: map[string]interface{}{
			"collection": "actions",
		},
	}

	logValue := SyncErrorValuer{SyncError: syncErr}.LogValue()
	if logValue.Kind() != slog.KindGroup {
		t.Errorf("Expected group value, got %v", logValue.Kind())
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should not be enabled at error level")
	}
}

func BenchmarkLogger(b *testing.B) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "info", Format: "json", Environment: EnvProduction, Output: &buf})

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		logger.InfoContext(ctx, "Benchmark message",
			slog.String("operation", "benchmark"),
			slog.Int("iteration", i),
		)
	}
}
