package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// Values in that file must agree with the fallbacks in the Get* methods.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The same JSON schema is served by /api/config.
type TuningConfig struct {
	// Occupancy tracker params
	DebounceFrames       *int     `json:"debounce_frames,omitempty"`
	FrameDelaySeconds    *float64 `json:"frame_delay_seconds,omitempty"`
	OcclusionExemptCount *int     `json:"occlusion_exempt_count,omitempty"`

	// Detection params
	ProbThreshold *float64 `json:"prob_threshold,omitempty"`
	PersonLabel   *int     `json:"person_label,omitempty"` // -1 counts every label

	// Publish params
	MQTTQoS        *int    `json:"mqtt_qos,omitempty"`
	PublishTimeout *string `json:"publish_timeout,omitempty"` // duration string like "2s"

	// Storage params
	SampleInterval *int `json:"sample_interval,omitempty"` // persist every Nth current-count event
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Every Get* method then returns its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the Get* defaults.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	return &TuningConfig{
		DebounceFrames:       ptrInt(empty.GetDebounceFrames()),
		FrameDelaySeconds:    ptrFloat64(empty.GetFrameDelaySeconds()),
		OcclusionExemptCount: ptrInt(empty.GetOcclusionExemptCount()),
		ProbThreshold:        ptrFloat64(empty.GetProbThreshold()),
		PersonLabel:          ptrInt(empty.GetPersonLabel()),
		MQTTQoS:              ptrInt(int(empty.GetMQTTQoS())),
		PublishTimeout:       ptrString(empty.GetPublishTimeout().String()),
		SampleInterval:       ptrInt(empty.GetSampleInterval()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DebounceFrames != nil && *c.DebounceFrames < 1 {
		return fmt.Errorf("debounce_frames must be at least 1, got %d", *c.DebounceFrames)
	}

	if c.FrameDelaySeconds != nil && *c.FrameDelaySeconds < 0 {
		return fmt.Errorf("frame_delay_seconds must be non-negative, got %f", *c.FrameDelaySeconds)
	}

	if c.OcclusionExemptCount != nil && *c.OcclusionExemptCount < 0 {
		return fmt.Errorf("occlusion_exempt_count must be non-negative, got %d", *c.OcclusionExemptCount)
	}

	if c.ProbThreshold != nil {
		if *c.ProbThreshold < 0 || *c.ProbThreshold > 1 {
			return fmt.Errorf("prob_threshold must be between 0 and 1, got %f", *c.ProbThreshold)
		}
	}

	if c.PersonLabel != nil && *c.PersonLabel < -1 {
		return fmt.Errorf("person_label must be -1 (any) or a class id, got %d", *c.PersonLabel)
	}

	if c.MQTTQoS != nil {
		if *c.MQTTQoS < 0 || *c.MQTTQoS > 2 {
			return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", *c.MQTTQoS)
		}
	}

	if c.PublishTimeout != nil && *c.PublishTimeout != "" {
		if _, err := time.ParseDuration(*c.PublishTimeout); err != nil {
			return fmt.Errorf("invalid publish_timeout '%s': %w", *c.PublishTimeout, err)
		}
	}

	if c.SampleInterval != nil && *c.SampleInterval < 1 {
		return fmt.Errorf("sample_interval must be at least 1, got %d", *c.SampleInterval)
	}

	return nil
}

// GetDebounceFrames returns the debounce_frames value or the default.
func (c *TuningConfig) GetDebounceFrames() int {
	if c.DebounceFrames == nil {
		return 20
	}
	return *c.DebounceFrames
}

// GetFrameDelaySeconds returns the frame_delay_seconds value or the default.
func (c *TuningConfig) GetFrameDelaySeconds() float64 {
	if c.FrameDelaySeconds == nil {
		return 3.0
	}
	return *c.FrameDelaySeconds
}

// GetOcclusionExemptCount returns the occlusion_exempt_count value or the default.
func (c *TuningConfig) GetOcclusionExemptCount() int {
	if c.OcclusionExemptCount == nil {
		return 2
	}
	return *c.OcclusionExemptCount
}

// GetProbThreshold returns the prob_threshold value or the default.
func (c *TuningConfig) GetProbThreshold() float64 {
	if c.ProbThreshold == nil {
		return 0.5
	}
	return *c.ProbThreshold
}

// GetPersonLabel returns the person_label value or the default (-1, any label).
func (c *TuningConfig) GetPersonLabel() int {
	if c.PersonLabel == nil {
		return -1
	}
	return *c.PersonLabel
}

// GetMQTTQoS returns the mqtt_qos value or the default.
func (c *TuningConfig) GetMQTTQoS() byte {
	if c.MQTTQoS == nil {
		return 0
	}
	return byte(*c.MQTTQoS)
}

// GetPublishTimeout parses and returns the PublishTimeout as a time.Duration.
func (c *TuningConfig) GetPublishTimeout() time.Duration {
	if c.PublishTimeout == nil || *c.PublishTimeout == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PublishTimeout)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetSampleInterval returns the sample_interval value or the default.
func (c *TuningConfig) GetSampleInterval() int {
	if c.SampleInterval == nil {
		return 1
	}
	return *c.SampleInterval
}
