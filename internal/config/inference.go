package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvDetectorBaseURL = "EDUGRADE_DETECTOR_BASE_URL"
	EnvDetectorTimeout = "EDUGRADE_DETECTOR_TIMEOUT"

	EnvGraderAPIKey  = "EDUGRADE_GRADER_API_KEY"
	EnvGraderModel   = "EDUGRADE_GRADER_MODEL"
	EnvGraderTimeout = "EDUGRADE_GRADER_TIMEOUT"

	EnvEnricherBaseURL = "EDUGRADE_ENRICHER_BASE_URL"
	EnvEnricherAPIKey  = "EDUGRADE_ENRICHER_API_KEY"
	EnvEnricherModel   = "EDUGRADE_ENRICHER_MODEL"
	EnvEnricherTimeout = "EDUGRADE_ENRICHER_TIMEOUT"
	EnvEnricherRate    = "EDUGRADE_ENRICHER_RATE"
)

// InferenceConfig holds connection settings for the three external inference
// backends: the answer-box detector, the Gemini grading model, and the
// enrichment (insight) service.
type InferenceConfig struct {
	Detector DetectorConfig `toml:"detector"`
	Grader   GraderConfig   `toml:"grader"`
	Enricher EnricherConfig `toml:"enricher"`
}

// DetectorConfig holds settings for the answer-box detection backend.
type DetectorConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// GraderConfig holds settings for the Gemini grading backend.
type GraderConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// EnricherConfig holds settings for the enrichment backend.
// RatePerSecond bounds outbound request rate across all workers.
type EnricherConfig struct {
	BaseURL       string  `toml:"base_url"`
	APIKey        string  `toml:"api_key"`
	Model         string  `toml:"model"`
	Timeout       string  `toml:"timeout"`
	RatePerSecond float64 `toml:"rate_per_second"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *DetectorConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *GraderConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *EnricherConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *InferenceConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *InferenceConfig) Merge(overlay *InferenceConfig) {
	if overlay.Detector.BaseURL != "" {
		c.Detector.BaseURL = overlay.Detector.BaseURL
	}
	if overlay.Detector.Timeout != "" {
		c.Detector.Timeout = overlay.Detector.Timeout
	}
	if overlay.Grader.APIKey != "" {
		c.Grader.APIKey = overlay.Grader.APIKey
	}
	if overlay.Grader.Model != "" {
		c.Grader.Model = overlay.Grader.Model
	}
	if overlay.Grader.Timeout != "" {
		c.Grader.Timeout = overlay.Grader.Timeout
	}
	if overlay.Enricher.BaseURL != "" {
		c.Enricher.BaseURL = overlay.Enricher.BaseURL
	}
	if overlay.Enricher.APIKey != "" {
		c.Enricher.APIKey = overlay.Enricher.APIKey
	}
	if overlay.Enricher.Model != "" {
		c.Enricher.Model = overlay.Enricher.Model
	}
	if overlay.Enricher.Timeout != "" {
		c.Enricher.Timeout = overlay.Enricher.Timeout
	}
	if overlay.Enricher.RatePerSecond != 0 {
		c.Enricher.RatePerSecond = overlay.Enricher.RatePerSecond
	}
}

func (c *InferenceConfig) loadDefaults() {
	if c.Detector.Timeout == "" {
		c.Detector.Timeout = "30s"
	}
	if c.Grader.Model == "" {
		c.Grader.Model = "gemini-1.5-flash"
	}
	if c.Grader.Timeout == "" {
		c.Grader.Timeout = "45s"
	}
	if c.Enricher.Model == "" {
		c.Enricher.Model = "llama-3.1-sonar-small-128k-online"
	}
	if c.Enricher.Timeout == "" {
		c.Enricher.Timeout = "30s"
	}
	if c.Enricher.RatePerSecond == 0 {
		c.Enricher.RatePerSecond = 5
	}
}

func (c *InferenceConfig) loadEnv() {
	if v := os.Getenv(EnvDetectorBaseURL); v != "" {
		c.Detector.BaseURL = v
	}
	if v := os.Getenv(EnvDetectorTimeout); v != "" {
		c.Detector.Timeout = v
	}
	if v := os.Getenv(EnvGraderAPIKey); v != "" {
		c.Grader.APIKey = v
	}
	if v := os.Getenv(EnvGraderModel); v != "" {
		c.Grader.Model = v
	}
	if v := os.Getenv(EnvGraderTimeout); v != "" {
		c.Grader.Timeout = v
	}
	if v := os.Getenv(EnvEnricherBaseURL); v != "" {
		c.Enricher.BaseURL = v
	}
	if v := os.Getenv(EnvEnricherAPIKey); v != "" {
		c.Enricher.APIKey = v
	}
	if v := os.Getenv(EnvEnricherModel); v != "" {
		c.Enricher.Model = v
	}
	if v := os.Getenv(EnvEnricherTimeout); v != "" {
		c.Enricher.Timeout = v
	}
	if v := os.Getenv(EnvEnricherRate); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Enricher.RatePerSecond = f
		}
	}
}

func (c *InferenceConfig) validate() error {
	if _, err := time.ParseDuration(c.Detector.Timeout); err != nil {
		return fmt.Errorf("invalid detector timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Grader.Timeout); err != nil {
		return fmt.Errorf("invalid grader timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Enricher.Timeout); err != nil {
		return fmt.Errorf("invalid enricher timeout: %w", err)
	}
	if c.Enricher.RatePerSecond <= 0 {
		return fmt.Errorf("enricher rate_per_second must be positive")
	}
	return nil
}
