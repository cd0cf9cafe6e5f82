package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvPipelineWorkers         = "EDUGRADE_PIPELINE_WORKERS"
	EnvPipelineRetryBudget     = "EDUGRADE_PIPELINE_RETRY_BUDGET"
	EnvPipelineBackoffBase     = "EDUGRADE_PIPELINE_BACKOFF_BASE"
	EnvPipelineStageTimeout    = "EDUGRADE_PIPELINE_STAGE_TIMEOUT"
	EnvPipelineMaxPageBytes    = "EDUGRADE_PIPELINE_MAX_PAGE_BYTES"
	EnvPipelineTargetWidth     = "EDUGRADE_PIPELINE_TARGET_WIDTH"
	EnvPipelineDetectorFloor   = "EDUGRADE_PIPELINE_DETECTOR_FLOOR"
	EnvPipelineSemanticFloor   = "EDUGRADE_PIPELINE_SEMANTIC_FLOOR"
	EnvPipelineConfidenceFloor = "EDUGRADE_PIPELINE_CONFIDENCE_FLOOR"
)

// PipelineConfig holds the tuning knobs for the grading pipeline: worker
// pool size, per-stage retry budget and backoff, per-stage timeout, input
// bounds for preprocessing, and the confidence thresholds used by
// segmentation and grading.
type PipelineConfig struct {
	Workers         int     `toml:"workers"`
	RetryBudget     int     `toml:"retry_budget"`
	BackoffBase     string  `toml:"backoff_base"`
	StageTimeout    string  `toml:"stage_timeout"`
	MaxPageBytes    int64   `toml:"max_page_bytes"`
	TargetWidth     int     `toml:"target_width"`
	DetectorFloor   float64 `toml:"detector_floor"`
	SemanticFloor   float64 `toml:"semantic_floor"`
	ConfidenceFloor float64 `toml:"confidence_floor"`
}

// BackoffBaseDuration returns BackoffBase as a time.Duration.
func (c *PipelineConfig) BackoffBaseDuration() time.Duration {
	d, _ := time.ParseDuration(c.BackoffBase)
	return d
}

// StageTimeoutDuration returns StageTimeout as a time.Duration.
func (c *PipelineConfig) StageTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.StageTimeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *PipelineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *PipelineConfig) Merge(overlay *PipelineConfig) {
	if overlay.Workers != 0 {
		c.Workers = overlay.Workers
	}
	if overlay.RetryBudget != 0 {
		c.RetryBudget = overlay.RetryBudget
	}
	if overlay.BackoffBase != "" {
		c.BackoffBase = overlay.BackoffBase
	}
	if overlay.StageTimeout != "" {
		c.StageTimeout = overlay.StageTimeout
	}
	if overlay.MaxPageBytes != 0 {
		c.MaxPageBytes = overlay.MaxPageBytes
	}
	if overlay.TargetWidth != 0 {
		c.TargetWidth = overlay.TargetWidth
	}
	if overlay.DetectorFloor != 0 {
		c.DetectorFloor = overlay.DetectorFloor
	}
	if overlay.SemanticFloor != 0 {
		c.SemanticFloor = overlay.SemanticFloor
	}
	if overlay.ConfidenceFloor != 0 {
		c.ConfidenceFloor = overlay.ConfidenceFloor
	}
}

func (c *PipelineConfig) loadDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.RetryBudget == 0 {
		c.RetryBudget = 3
	}
	if c.BackoffBase == "" {
		c.BackoffBase = "500ms"
	}
	if c.StageTimeout == "" {
		c.StageTimeout = "2m"
	}
	if c.MaxPageBytes == 0 {
		c.MaxPageBytes = 10 * 1024 * 1024
	}
	if c.TargetWidth == 0 {
		c.TargetWidth = 1600
	}
	if c.DetectorFloor == 0 {
		c.DetectorFloor = 0.5
	}
	if c.SemanticFloor == 0 {
		c.SemanticFloor = 0.8
	}
	if c.ConfidenceFloor == 0 {
		c.ConfidenceFloor = 0.6
	}
}

func (c *PipelineConfig) loadEnv() {
	if v := os.Getenv(EnvPipelineWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv(EnvPipelineRetryBudget); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryBudget = n
		}
	}
	if v := os.Getenv(EnvPipelineBackoffBase); v != "" {
		c.BackoffBase = v
	}
	if v := os.Getenv(EnvPipelineStageTimeout); v != "" {
		c.StageTimeout = v
	}
	if v := os.Getenv(EnvPipelineMaxPageBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxPageBytes = n
		}
	}
	if v := os.Getenv(EnvPipelineTargetWidth); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TargetWidth = n
		}
	}
	if v := os.Getenv(EnvPipelineDetectorFloor); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DetectorFloor = f
		}
	}
	if v := os.Getenv(EnvPipelineSemanticFloor); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SemanticFloor = f
		}
	}
	if v := os.Getenv(EnvPipelineConfidenceFloor); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceFloor = f
		}
	}
}

func (c *PipelineConfig) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.RetryBudget < 1 {
		return fmt.Errorf("retry_budget must be positive")
	}
	if _, err := time.ParseDuration(c.BackoffBase); err != nil {
		return fmt.Errorf("invalid backoff_base: %w", err)
	}
	if _, err := time.ParseDuration(c.StageTimeout); err != nil {
		return fmt.Errorf("invalid stage_timeout: %w", err)
	}
	if c.MaxPageBytes < 1 {
		return fmt.Errorf("max_page_bytes must be positive")
	}
	if c.DetectorFloor < 0 || c.DetectorFloor > 1 {
		return fmt.Errorf("detector_floor must be within [0, 1]")
	}
	if c.SemanticFloor < 0 || c.SemanticFloor > 1 {
		return fmt.Errorf("semantic_floor must be within [0, 1]")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be within [0, 1]")
	}
	return nil
}
