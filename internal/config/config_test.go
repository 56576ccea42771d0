package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("BACKEND_URL", "http://localhost:9000/transcribe")
	defer os.Unsetenv("BACKEND_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.BackendURL != "http://localhost:9000/transcribe" {
		t.Errorf("Expected BackendURL 'http://localhost:9000/transcribe', got '%s'", cfg.BackendURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("BACKEND_URL")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when BACKEND_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("BACKEND_URL", "http://localhost:9000/transcribe")
	defer os.Unsetenv("BACKEND_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected default RedisAddr 'localhost:6379', got '%s'", cfg.RedisAddr)
	}

	if cfg.BreakerMaxFailures != 5 {
		t.Errorf("Expected default BreakerMaxFailures 5, got %d", cfg.BreakerMaxFailures)
	}

	if cfg.RateStandardLimit != 100 {
		t.Errorf("Expected default RateStandardLimit 100, got %d", cfg.RateStandardLimit)
	}

	if cfg.RateStandardWindow != 60 {
		t.Errorf("Expected default RateStandardWindow 60, got %d", cfg.RateStandardWindow)
	}

	if cfg.GateConfidenceThreshold != 0.35 {
		t.Errorf("Expected default GateConfidenceThreshold 0.35, got %f", cfg.GateConfidenceThreshold)
	}

	if cfg.DedupWindowSize != 16 {
		t.Errorf("Expected default DedupWindowSize 16, got %d", cfg.DedupWindowSize)
	}

	if cfg.SessionQueueDepth != 32 {
		t.Errorf("Expected default SessionQueueDepth 32, got %d", cfg.SessionQueueDepth)
	}

	if cfg.QASampleWindow != 1000 {
		t.Errorf("Expected default QASampleWindow 1000, got %d", cfg.QASampleWindow)
	}
}

func TestValidate_Bounds(t *testing.T) {
	cfg := &Config{
		BackendURL:        "http://localhost:9000",
		AudioMinBytes:     2048,
		AudioMaxBytes:     1024,
		GateMinZCR:        0.02,
		GateMaxZCR:        0.35,
		DedupWindowSize:   16,
		SessionQueueDepth: 32,
	}

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when AudioMinBytes >= AudioMaxBytes")
	}

	cfg.AudioMinBytes = 64
	cfg.AudioMaxBytes = 1048576
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cfg.GateMinZCR = 0.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when GateMinZCR >= GateMaxZCR")
	}
}
