package pipeline_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/inference"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/lifecycle"
	"github.com/edugrade/edugrade/pkg/pagination"
	"github.com/edugrade/edugrade/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Workers:         2,
		RetryBudget:     2,
		BackoffBase:     "1ms",
		StageTimeout:    "5s",
		MaxPageBytes:    1 << 20,
		TargetWidth:     1600,
		DetectorFloor:   0.5,
		SemanticFloor:   0.8,
		ConfidenceFloor: 0.6,
	}
}

// fixedExam builds a three-question answer key covering every match policy.
func fixedExam() *exams.Exam {
	return &exams.Exam{
		ID:         uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		FamilyID:   uuid.New(),
		Version:    1,
		Title:      "Fractions Quiz",
		Subject:    "math",
		GradeLevel: "3",
		TeacherID:  "t-100",
		Questions: []exams.Question{
			{Number: 1, Prompt: "What is 2 + 2?", ExpectedAnswer: "4", MaxScore: 2, MatchPolicy: exams.MatchExact},
			{Number: 2, Prompt: "What is half of one?", ExpectedAnswer: "one half", MaxScore: 4, MatchPolicy: exams.MatchSemantic},
			{Number: 3, Prompt: "Capital of France?", ExpectedAnswer: "paris", MaxScore: 4, MatchPolicy: exams.MatchPartial},
		},
	}
}

// pngPage renders a solid page image of the given dimensions.
func pngPage(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// memStorage is an in-memory storage.System for pipeline tests.
type memStorage struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	downErr   error
	downloads int
}

func newMemStorage() *memStorage {
	return &memStorage{blobs: map[string][]byte{}}
}

func (m *memStorage) Start(*lifecycle.Coordinator) error { return nil }

func (m *memStorage) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

func (m *memStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.downloads++
	if m.downErr != nil {
		return nil, m.downErr
	}

	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *memStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memStorage) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
}

func (m *memStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}

// mockExams serves a fixed exam.
type mockExams struct {
	exam    *exams.Exam
	findErr error
}

func (m *mockExams) Handler() *exams.Handler { return nil }

func (m *mockExams) List(context.Context, pagination.PageRequest, exams.Filters) (*pagination.PageResult[exams.Exam], error) {
	return nil, nil
}

func (m *mockExams) Find(_ context.Context, id uuid.UUID) (*exams.Exam, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.exam == nil || m.exam.ID != id {
		return nil, exams.ErrNotFound
	}
	return m.exam, nil
}

func (m *mockExams) Create(context.Context, exams.CreateCommand) (*exams.Exam, error) {
	return nil, nil
}

func (m *mockExams) Correct(context.Context, uuid.UUID, exams.CorrectCommand) (*exams.Exam, error) {
	return nil, nil
}

// mockSubmissions is an in-memory submissions.System tracking the state
// mutations the orchestrator performs.
type mockSubmissions struct {
	mu sync.Mutex

	sub         submissions.Submission
	retryCounts map[string]int
	checkpoint  []byte
	regions     []submissions.Region
	graded      []submissions.GradedAnswer
	notes       []submissions.EnrichmentNote

	statusHistory []submissions.Status
	cancelErr     error
}

func newMockSubmissions(sub submissions.Submission) *mockSubmissions {
	return &mockSubmissions{
		sub:         sub,
		retryCounts: map[string]int{},
	}
}

func (m *mockSubmissions) Handler(submissions.Queue, int64) *submissions.Handler { return nil }

func (m *mockSubmissions) List(context.Context, pagination.PageRequest, submissions.Filters) (*pagination.PageResult[submissions.Submission], error) {
	return nil, nil
}

func (m *mockSubmissions) Find(_ context.Context, id uuid.UUID) (*submissions.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != m.sub.ID {
		return nil, submissions.ErrNotFound
	}
	sub := m.sub
	return &sub, nil
}

func (m *mockSubmissions) Create(context.Context, submissions.CreateCommand) (*submissions.Submission, error) {
	return nil, nil
}

func (m *mockSubmissions) CompareAndSetStatus(_ context.Context, id uuid.UUID, to submissions.Status, from ...submissions.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != m.sub.ID {
		return submissions.ErrNotFound
	}

	for _, f := range from {
		if m.sub.Status == f {
			m.sub.Status = to
			m.statusHistory = append(m.statusHistory, to)
			return nil
		}
	}
	return fmt.Errorf("%w: status is %s", submissions.ErrInvalidStatus, m.sub.Status)
}

func (m *mockSubmissions) RecordFailure(_ context.Context, id uuid.UUID, to submissions.Status, stage, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != m.sub.ID {
		return submissions.ErrNotFound
	}

	m.sub.Status = to
	m.sub.FailedStage = &stage
	m.sub.FailureReason = &reason
	m.statusHistory = append(m.statusHistory, to)
	return nil
}

func (m *mockSubmissions) Cancel(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelErr != nil {
		return m.cancelErr
	}
	if id != m.sub.ID {
		return submissions.ErrNotFound
	}
	m.sub.Status = submissions.StatusCancelled
	return nil
}

func (m *mockSubmissions) IncrementRetry(_ context.Context, _ uuid.UUID, stage string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCounts[stage]++
	return m.retryCounts[stage], nil
}

func (m *mockSubmissions) ResetRetry(_ context.Context, _ uuid.UUID, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCounts[stage] = 0
	return nil
}

func (m *mockSubmissions) SaveCheckpoint(_ context.Context, _ uuid.UUID, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoint = append([]byte(nil), state...)
	return nil
}

func (m *mockSubmissions) Checkpoint(context.Context, uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoint, nil
}

func (m *mockSubmissions) SaveRegions(_ context.Context, id uuid.UUID, regions []submissions.Region) ([]submissions.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]submissions.Region, len(regions))
	for i, r := range regions {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.SubmissionID = id
		saved[i] = r
	}
	m.regions = saved
	return saved, nil
}

func (m *mockSubmissions) Regions(context.Context, uuid.UUID) ([]submissions.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regions, nil
}

func (m *mockSubmissions) SaveGradedAnswers(_ context.Context, id uuid.UUID, answers []submissions.GradedAnswer) ([]submissions.GradedAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]submissions.GradedAnswer, len(answers))
	for i, a := range answers {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.SubmissionID = id
		saved[i] = a
	}
	m.graded = saved
	return saved, nil
}

func (m *mockSubmissions) GradedAnswers(context.Context, uuid.UUID) ([]submissions.GradedAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graded, nil
}

func (m *mockSubmissions) SaveEnrichmentNotes(_ context.Context, id uuid.UUID, notes []submissions.EnrichmentNote) ([]submissions.EnrichmentNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]submissions.EnrichmentNote, len(notes))
	for i, n := range notes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		n.SubmissionID = id
		saved[i] = n
	}
	m.notes = saved
	return saved, nil
}

func (m *mockSubmissions) EnrichmentNotes(context.Context, uuid.UUID) ([]submissions.EnrichmentNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notes, nil
}

func (m *mockSubmissions) status() submissions.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub.Status
}

func (m *mockSubmissions) retries(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCounts[stage]
}

// mockDetector returns a fixed set of detections for every page.
type mockDetector struct {
	perPage []inference.Detection
	err     error
}

func (m *mockDetector) DetectRegions(context.Context, []byte, string) ([]inference.Detection, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.perPage, nil
}

// mockGrader returns canned results by question number.
type mockGrader struct {
	mu      sync.Mutex
	results map[int]*inference.GradeResult
	err     error
	calls   int
}

func (m *mockGrader) Grade(_ context.Context, req inference.GradeRequest) (*inference.GradeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	result, ok := m.results[req.QuestionNumber]
	if !ok {
		return nil, fmt.Errorf("no canned result for question %d", req.QuestionNumber)
	}
	return result, nil
}

// mockEnricher returns a canned insight or a fixed error.
type mockEnricher struct {
	insight *inference.Insight
	err     error
}

func (m *mockEnricher) Enrich(context.Context, inference.EnrichRequest) (*inference.Insight, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.insight, nil
}
