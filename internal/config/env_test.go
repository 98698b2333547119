package config

import (
	"strings"
	"testing"
	"time"
)

func TestApplyEnvOverrides(t *testing.T) {
	cfg := EmptyConverterConfig()
	err := cfg.ApplyEnv(map[string]string{
		"SCAN2CLOUD_TARGET_FRAME":           "/map",
		"SCAN2CLOUD_TRANSFORM_WAIT_TIMEOUT": "300ms",
		"SCAN2CLOUD_INBOUND_BUFFER_DEPTH":   "4",
		"SCAN2CLOUD_CLOUD_FORWARD":          "127.0.0.1:7500",
		"SCAN2CLOUD_ADMIN_LISTEN":           "",
		"UNRELATED":                         "ignored",
	})
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if got := cfg.GetTargetFrame(); got != "/map" {
		t.Errorf("GetTargetFrame() = %q, want /map", got)
	}
	if got := cfg.GetWaitTimeout(); got != 300*time.Millisecond {
		t.Errorf("GetWaitTimeout() = %v, want 300ms", got)
	}
	if got := cfg.GetBufferDepth(); got != 4 {
		t.Errorf("GetBufferDepth() = %d, want 4", got)
	}
	if got := cfg.GetCloudForward(); got != "127.0.0.1:7500" {
		t.Errorf("GetCloudForward() = %q", got)
	}
	// Empty values leave the file or default in place.
	if got := cfg.GetAdminListen(); got != "localhost:7480" {
		t.Errorf("GetAdminListen() = %q", got)
	}
}

func TestApplyEnvKeepsFileValues(t *testing.T) {
	frame := "base_link"
	cfg := &ConverterConfig{TargetFrame: &frame}
	if err := cfg.ApplyEnv(map[string]string{}); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if got := cfg.GetTargetFrame(); got != "base_link" {
		t.Errorf("GetTargetFrame() = %q, want base_link", got)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		wantErr string
	}{
		{"bad duration", map[string]string{"SCAN2CLOUD_TRANSFORM_WAIT_TIMEOUT": "soon"}, "parse env"},
		{"bad int", map[string]string{"SCAN2CLOUD_INBOUND_BUFFER_DEPTH": "two"}, "parse env"},
		{"negative depth", map[string]string{"SCAN2CLOUD_INBOUND_BUFFER_DEPTH": "-1"}, "inbound_buffer_depth must be at least 1"},
		{"negative timeout", map[string]string{"SCAN2CLOUD_TRANSFORM_WAIT_TIMEOUT": "-1s"}, "transform_wait_timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EmptyConverterConfig().ApplyEnv(tt.environ)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
