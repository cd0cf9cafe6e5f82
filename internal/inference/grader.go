package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/pkg/formatting"
)

// GradeRequest asks the grader to evaluate one answer region image
// against its answer-key entry.
type GradeRequest struct {
	QuestionNumber int
	Prompt         string
	ExpectedAnswer string
	MaxScore       float64
	Image          []byte
	ContentType    string
}

// GradeResult is the grader's evaluation of a single answer region.
// PartialCredit is the fraction of MaxScore the grader considers earned
// when the answer is not fully correct.
type GradeResult struct {
	StudentAnswer string
	Score         float64
	Feedback      string
	PartialCredit float64
	Confidence    float64
}

// Grader evaluates handwritten answer regions.
type Grader interface {
	Grade(ctx context.Context, req GradeRequest) (*GradeResult, error)
}

type geminiGrader struct {
	model   *genai.GenerativeModel
	timeout config.GraderConfig
	logger  *slog.Logger
}

// NewGrader creates a Grader backed by a Gemini vision model.
func NewGrader(ctx context.Context, cfg *config.GraderConfig, logger *slog.Logger) (Grader, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiGrader{
		model:   client.GenerativeModel(cfg.Model),
		timeout: *cfg,
		logger:  logger.With("system", "inference.grader"),
	}, nil
}

type gradePayload struct {
	StudentAnswer string  `json:"student_answer"`
	Score         float64 `json:"score"`
	Feedback      string  `json:"feedback"`
	PartialCredit float64 `json:"partial_credit"`
	Confidence    float64 `json:"confidence"`
}

func (g *geminiGrader) Grade(ctx context.Context, req GradeRequest) (*GradeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout.TimeoutDuration())
	defer cancel()

	parts := []genai.Part{
		genai.ImageData(imageFormat(req.ContentType), req.Image),
		genai.Text(gradingPrompt(req)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: empty grading response", ErrBadResponse)
	}

	payload, err := formatting.Parse[gradePayload](text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	result := &GradeResult{
		StudentAnswer: payload.StudentAnswer,
		Score:         clamp(payload.Score, 0, req.MaxScore),
		Feedback:      payload.Feedback,
		PartialCredit: clamp(payload.PartialCredit, 0, 1),
		Confidence:    clamp(payload.Confidence, 0, 1),
	}

	g.logger.Debug(
		"answer graded",
		"question", req.QuestionNumber,
		"score", result.Score,
		"confidence", result.Confidence,
	)
	return result, nil
}

func gradingPrompt(req GradeRequest) string {
	var b strings.Builder

	b.WriteString("You are a grader for K-5 education. Analyze the student's handwritten answer in the image.\n\n")
	fmt.Fprintf(&b, "Question %d: %s\n", req.QuestionNumber, req.Prompt)
	fmt.Fprintf(&b, "Correct Answer: %s\n", req.ExpectedAnswer)
	fmt.Fprintf(&b, "Maximum Score: %g\n\n", req.MaxScore)
	b.WriteString("Transcribe the student's answer, then grade it. Be encouraging and constructive; ")
	b.WriteString("allow for spelling variations common in young learners and give credit for partial understanding.\n\n")
	b.WriteString("Respond in JSON:\n")
	b.WriteString(`{"student_answer": "transcribed text", "score": number, "feedback": "encouraging feedback", "partial_credit": number, "confidence": number}`)

	return b.String()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func imageFormat(contentType string) string {
	if contentType == "image/jpeg" {
		return "jpeg"
	}
	return "png"
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
