package config

import (
	"testing"
	"time"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := Config{Port: 9001}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Nick != "Anonymous" {
		t.Errorf("Expected default nick, got %q", cfg.Nick)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("Expected default retry interval, got %v", cfg.RetryInterval)
	}
	if cfg.MaxConnectAttempts != 0 || cfg.ForwardGuardTTL != 0 {
		t.Errorf("Expected unbounded retries and unconditional forwarding, got %d and %v", cfg.MaxConnectAttempts, cfg.ForwardGuardTTL)
	}
	if cfg.EventBuffer != 256 {
		t.Errorf("Expected default event buffer, got %d", cfg.EventBuffer)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for out of range port")
	}
	cfg = Default()
	cfg.MaxConnectAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative attempts")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MESHAGE_HEADLESS", "true")
	t.Setenv("MESHAGE_DATA_DIR", "/tmp/mesh")
	cfg := Default()
	cfg.ApplyEnv()
	if !cfg.Headless {
		t.Error("Expected headless from env")
	}
	if cfg.DataDir != "/tmp/mesh" {
		t.Errorf("Expected data dir from env, got %q", cfg.DataDir)
	}
}
