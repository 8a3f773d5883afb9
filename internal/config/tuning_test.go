package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	// Test that defaults are set via pointers
	if cfg.DebounceFrames == nil || *cfg.DebounceFrames != 20 {
		t.Errorf("Expected DebounceFrames 20, got %v", cfg.DebounceFrames)
	}
	if cfg.FrameDelaySeconds == nil || *cfg.FrameDelaySeconds != 3.0 {
		t.Errorf("Expected FrameDelaySeconds 3.0, got %v", cfg.FrameDelaySeconds)
	}
	if cfg.OcclusionExemptCount == nil || *cfg.OcclusionExemptCount != 2 {
		t.Errorf("Expected OcclusionExemptCount 2, got %v", cfg.OcclusionExemptCount)
	}
	if cfg.PublishTimeout == nil || *cfg.PublishTimeout != "2s" {
		t.Errorf("Expected PublishTimeout '2s', got %v", cfg.PublishTimeout)
	}

	// Test getter methods
	if cfg.GetProbThreshold() != 0.5 {
		t.Errorf("GetProbThreshold() = %f, want 0.5", cfg.GetProbThreshold())
	}
	if cfg.GetPersonLabel() != -1 {
		t.Errorf("GetPersonLabel() = %d, want -1", cfg.GetPersonLabel())
	}
	if cfg.GetSampleInterval() != 1 {
		t.Errorf("GetSampleInterval() = %d, want 1", cfg.GetSampleInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultTuningConfig().Validate() = %v", err)
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := EmptyTuningConfig()

	if cfg.GetDebounceFrames() != empty.GetDebounceFrames() {
		t.Errorf("debounce_frames: file %d, getter default %d", cfg.GetDebounceFrames(), empty.GetDebounceFrames())
	}
	if cfg.GetFrameDelaySeconds() != empty.GetFrameDelaySeconds() {
		t.Errorf("frame_delay_seconds: file %f, getter default %f", cfg.GetFrameDelaySeconds(), empty.GetFrameDelaySeconds())
	}
	if cfg.GetOcclusionExemptCount() != empty.GetOcclusionExemptCount() {
		t.Errorf("occlusion_exempt_count: file %d, getter default %d", cfg.GetOcclusionExemptCount(), empty.GetOcclusionExemptCount())
	}
	if cfg.GetProbThreshold() != empty.GetProbThreshold() {
		t.Errorf("prob_threshold: file %f, getter default %f", cfg.GetProbThreshold(), empty.GetProbThreshold())
	}
	if cfg.GetPublishTimeout() != empty.GetPublishTimeout() {
		t.Errorf("publish_timeout: file %v, getter default %v", cfg.GetPublishTimeout(), empty.GetPublishTimeout())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "debounce_frames": 30,
  "frame_delay_seconds": 1.5,
  "prob_threshold": 0.6,
  "publish_timeout": "500ms"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetDebounceFrames() != 30 {
		t.Errorf("Expected DebounceFrames 30, got %d", cfg.GetDebounceFrames())
	}
	if cfg.GetFrameDelaySeconds() != 1.5 {
		t.Errorf("Expected FrameDelaySeconds 1.5, got %f", cfg.GetFrameDelaySeconds())
	}
	if cfg.GetProbThreshold() != 0.6 {
		t.Errorf("Expected ProbThreshold 0.6, got %f", cfg.GetProbThreshold())
	}
	if cfg.GetPublishTimeout() != 500*time.Millisecond {
		t.Errorf("Expected PublishTimeout 500ms, got %v", cfg.GetPublishTimeout())
	}
	// Omitted fields keep their defaults
	if cfg.GetOcclusionExemptCount() != 2 {
		t.Errorf("Expected OcclusionExemptCount default 2, got %d", cfg.GetOcclusionExemptCount())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "debounce_frames": "twenty"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestLoadTuningConfigFailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad_values.json")

	if err := os.WriteFile(configPath, []byte(`{"prob_threshold": 1.5}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected validation error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultTuningConfig(),
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "zero debounce frames",
			cfg:     &TuningConfig{DebounceFrames: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "negative frame delay",
			cfg:     &TuningConfig{FrameDelaySeconds: ptrFloat64(-1)},
			wantErr: true,
		},
		{
			name:    "zero frame delay is valid",
			cfg:     &TuningConfig{FrameDelaySeconds: ptrFloat64(0)},
			wantErr: false,
		},
		{
			name:    "negative occlusion exempt count",
			cfg:     &TuningConfig{OcclusionExemptCount: ptrInt(-1)},
			wantErr: true,
		},
		{
			name:    "threshold too low",
			cfg:     &TuningConfig{ProbThreshold: ptrFloat64(-0.1)},
			wantErr: true,
		},
		{
			name:    "threshold too high",
			cfg:     &TuningConfig{ProbThreshold: ptrFloat64(1.1)},
			wantErr: true,
		},
		{
			name:    "label below -1",
			cfg:     &TuningConfig{PersonLabel: ptrInt(-2)},
			wantErr: true,
		},
		{
			name:    "qos out of range",
			cfg:     &TuningConfig{MQTTQoS: ptrInt(3)},
			wantErr: true,
		},
		{
			name:    "invalid publish timeout",
			cfg:     &TuningConfig{PublishTimeout: ptrString("soon")},
			wantErr: true,
		},
		{
			name:    "zero sample interval",
			cfg:     &TuningConfig{SampleInterval: ptrInt(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetPublishTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "explicit",
			cfg:  &TuningConfig{PublishTimeout: ptrString("750ms")},
			want: 750 * time.Millisecond,
		},
		{
			name: "nil uses default",
			cfg:  &TuningConfig{},
			want: 2 * time.Second,
		},
		{
			name: "empty string uses default",
			cfg:  &TuningConfig{PublishTimeout: ptrString("")},
			want: 2 * time.Second,
		},
		{
			name: "unparseable uses default",
			cfg:  &TuningConfig{PublishTimeout: ptrString("later")},
			want: 2 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetPublishTimeout(); got != tt.want {
				t.Errorf("GetPublishTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetMQTTQoS(t *testing.T) {
	cfg := &TuningConfig{MQTTQoS: ptrInt(1)}
	if got := cfg.GetMQTTQoS(); got != 1 {
		t.Errorf("GetMQTTQoS() = %d, want 1", got)
	}
	if got := EmptyTuningConfig().GetMQTTQoS(); got != 0 {
		t.Errorf("default GetMQTTQoS() = %d, want 0", got)
	}
}
