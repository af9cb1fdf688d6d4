package logging

import (
	"context"
	"testing"
	"time"

	"tradelocker/pkg/telemetry"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	if err != nil {
		t.Fatalf("OTel setup failed: %v", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	logger.Info("Test OTel bridging", "key", "value")

	// Wait a bit for OTel batching (if any)
	time.Sleep(500 * time.Millisecond)

	logger.Debug("Debug message", "status", "testing")

	_ = logger.Sync() // Some writers don't support sync (like stdout in some envs), ignore error
}

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{
		"DEBUG":   true,
		"info":    true,
		"WARNING": true,
		"":        true,
		"VERBOSE": false,
	}
	for input, valid := range cases {
		_, err := ParseLevel(input)
		if valid && err != nil {
			t.Errorf("ParseLevel(%q) returned unexpected error: %v", input, err)
		}
		if !valid && err == nil {
			t.Errorf("ParseLevel(%q) expected an error", input)
		}
	}
}

func TestWithFieldReturnsIndependentLogger(t *testing.T) {
	base := Nop()
	child := base.WithField("account_id", 1001)
	if child == nil {
		t.Fatal("WithField returned nil")
	}
	child.Info("message")
	base.Info("message without field")
}
