package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/pkg/formatting"
)

// EnrichRequest asks for a supplementary educational insight about a
// graded answer.
type EnrichRequest struct {
	QuestionNumber int
	Prompt         string
	StudentAnswer  string
	ExpectedAnswer string
}

// Insight is an educational note the enricher produced for one answer.
type Insight struct {
	Text       string
	Confidence float64
}

// Enricher produces per-answer insight notes.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichRequest) (*Insight, error)
}

type httpEnricher struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewEnricher creates an Enricher backed by an OpenAI-style
// chat-completions service. All calls share one rate limiter so worker
// fan-out stays within the provider's request budget.
func NewEnricher(cfg *config.EnricherConfig, logger *slog.Logger) Enricher {
	return &httpEnricher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.TimeoutDuration()},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  logger.With("system", "inference.enricher"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type insightPayload struct {
	Insight    string  `json:"insight"`
	Confidence float64 `json:"confidence"`
}

func (e *httpEnricher) Enrich(ctx context.Context, req EnrichRequest) (*Insight, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are an educational fact-checker for K-5 students. Provide accurate, age-appropriate information.",
			},
			{
				Role:    "user",
				Content: enrichPrompt(req),
			},
		},
		MaxTokens:   500,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal enrich request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		e.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("build enrich request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: enricher returned %d", ErrUnavailable, resp.StatusCode)
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	content := body.Choices[0].Message.Content

	// Structured output preferred, plain prose accepted.
	if parsed, err := formatting.Parse[insightPayload](content); err == nil && parsed.Insight != "" {
		return &Insight{
			Text:       parsed.Insight,
			Confidence: clamp(parsed.Confidence, 0, 1),
		}, nil
	}

	return &Insight{Text: content, Confidence: 0.6}, nil
}

func enrichPrompt(req EnrichRequest) string {
	return fmt.Sprintf(
		`Fact-check this K-5 student answer and share one short educational insight.

Question %d: %s
Student Answer: %q
Expected Answer: %q

Respond in JSON: {"insight": "one or two age-appropriate sentences", "confidence": number between 0 and 1}`,
		req.QuestionNumber,
		req.Prompt,
		req.StudentAnswer,
		req.ExpectedAnswer,
	)
}
