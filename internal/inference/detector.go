// Package inference provides the pluggable model backends the pipeline
// calls out to: a region detector for segmentation, a Gemini grader,
// and a chat-completions enricher. Each backend is an interface so
// tests substitute deterministic fakes.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/edugrade/edugrade/internal/config"
)

// Detection is one candidate answer region reported by the detector,
// in pixel coordinates of the submitted page image.
type Detection struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Detector locates answer regions on a normalized page image.
type Detector interface {
	DetectRegions(ctx context.Context, image []byte, contentType string) ([]Detection, error)
}

type httpDetector struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewDetector creates a Detector backed by an HTTP detection service.
func NewDetector(cfg *config.DetectorConfig, logger *slog.Logger) Detector {
	return &httpDetector{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:  logger.With("system", "inference.detector"),
	}
}

type detectRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
}

type detectResponse struct {
	Regions []Detection `json:"regions"`
}

func (d *httpDetector) DetectRegions(
	ctx context.Context,
	image []byte,
	contentType string,
) ([]Detection, error) {
	payload, err := json.Marshal(detectRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		d.baseURL+"/detect",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: detector returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	d.logger.Debug("regions detected", "count", len(body.Regions))
	return body.Regions, nil
}
