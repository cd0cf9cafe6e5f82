package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/inference"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/storage"
)

type segmentStage struct {
	storage  storage.System
	detector inference.Detector
	exams    exams.System
	cfg      config.PipelineConfig
	logger   *slog.Logger
}

// NewSegmentStage creates the segmentation stage: it locates one answer
// region per expected question, preferring the detector backend and
// falling back to a uniform grid layout.
func NewSegmentStage(
	store storage.System,
	detector inference.Detector,
	examSys exams.System,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) Stage {
	return &segmentStage{
		storage:  store,
		detector: detector,
		exams:    examSys,
		cfg:      cfg,
		logger:   logger.With("stage", StageSegment),
	}
}

func (s *segmentStage) Name() string                { return StageSegment }
func (s *segmentStage) Running() submissions.Status { return submissions.StatusSegmenting }
func (s *segmentStage) Failed() submissions.Status  { return submissions.StatusFailedSegmenting }
func (s *segmentStage) Critical() bool              { return true }

type pageDetection struct {
	pageIndex int
	inference.Detection
}

func (s *segmentStage) Run(ctx context.Context, st State) Result {
	exam, err := s.exams.Find(ctx, st.ExamID)
	if err != nil {
		if errors.Is(err, exams.ErrNotFound) {
			return Fatal(fmt.Errorf("%w: exam %s does not exist", ErrValidation, st.ExamID))
		}
		return Retryable(fmt.Errorf("load exam: %w", err))
	}
	if len(exam.Questions) == 0 {
		return Fatal(fmt.Errorf("%w: exam %s has no questions", ErrValidation, st.ExamID))
	}

	pages := make([]image.Image, len(st.NormalizedKeys))
	detections := make([]pageDetection, 0, len(exam.Questions))

	for i, key := range st.NormalizedKeys {
		data, err := s.download(ctx, key)
		if err != nil {
			return Retryable(fmt.Errorf("download normalized page %d: %w", i, err))
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Fatal(fmt.Errorf("%w: normalized page %d is not decodable: %v", ErrValidation, i, err))
		}
		pages[i] = img

		found, err := s.detector.DetectRegions(ctx, data, "image/png")
		if err != nil {
			return Retryable(fmt.Errorf("detect regions on page %d: %w", i, err))
		}

		for _, d := range found {
			detections = append(detections, pageDetection{pageIndex: i, Detection: d})
		}
	}

	questions := orderedQuestions(exam)
	regions := s.assignRegions(detections, questions, pages)

	for i := range regions {
		crop, err := cropRegion(pages[regions[i].PageIndex], regions[i].Box)
		if err != nil {
			return Fatal(fmt.Errorf("%w: crop question %d: %v", ErrValidation, regions[i].QuestionNumber, err))
		}

		key := cropKey(st.SubmissionID, regions[i].QuestionNumber)
		if err := s.storage.Upload(ctx, key, bytes.NewReader(crop), "image/png"); err != nil {
			return Retryable(fmt.Errorf("upload crop for question %d: %w", regions[i].QuestionNumber, err))
		}
		regions[i].CropKey = key
	}

	st.Regions = regions
	s.logger.Info(
		"submission segmented",
		"submission_id", st.SubmissionID,
		"questions", len(questions),
		"source", regions[0].Source,
	)
	return Success(st)
}

// assignRegions binds detector output to question numbers in reading
// order. When the detector finds a different number of regions than the
// exam has questions, every question falls back to a grid cell so the
// region set always covers questions 1..K exactly once.
func (s *segmentStage) assignRegions(
	detections []pageDetection,
	questions []exams.Question,
	pages []image.Image,
) []submissions.Region {
	if len(detections) != len(questions) {
		s.logger.Info(
			"detector count mismatch, using grid fallback",
			"detected", len(detections),
			"expected", len(questions),
		)
		return gridRegions(questions, pages)
	}

	sort.SliceStable(detections, func(i, j int) bool {
		if detections[i].pageIndex != detections[j].pageIndex {
			return detections[i].pageIndex < detections[j].pageIndex
		}
		if detections[i].Y != detections[j].Y {
			return detections[i].Y < detections[j].Y
		}
		return detections[i].X < detections[j].X
	})

	regions := make([]submissions.Region, len(questions))
	for i, q := range questions {
		d := detections[i]
		regions[i] = submissions.Region{
			PageIndex:      d.pageIndex,
			QuestionNumber: q.Number,
			Box: submissions.BoundingBox{
				X:      d.X,
				Y:      d.Y,
				Width:  d.Width,
				Height: d.Height,
			},
			Source:        submissions.RegionSourceDetector,
			Confidence:    d.Confidence,
			LowConfidence: d.Confidence < s.cfg.DetectorFloor,
		}
	}
	return regions
}

// gridRegions divides the pages into uniform horizontal strips, one per
// question, distributing questions across pages as evenly as possible.
func gridRegions(questions []exams.Question, pages []image.Image) []submissions.Region {
	perPage := make([]int, len(pages))
	base := len(questions) / len(pages)
	extra := len(questions) % len(pages)
	for i := range perPage {
		perPage[i] = base
		if i < extra {
			perPage[i]++
		}
	}

	regions := make([]submissions.Region, 0, len(questions))
	qi := 0
	for pageIndex, count := range perPage {
		if count == 0 {
			continue
		}

		bounds := pages[pageIndex].Bounds()
		stripHeight := bounds.Dy() / count

		for row := 0; row < count; row++ {
			q := questions[qi]
			qi++

			regions = append(regions, submissions.Region{
				PageIndex:      pageIndex,
				QuestionNumber: q.Number,
				Box: submissions.BoundingBox{
					X:      bounds.Min.X,
					Y:      bounds.Min.Y + row*stripHeight,
					Width:  bounds.Dx(),
					Height: stripHeight,
				},
				Source:     submissions.RegionSourceGrid,
				Confidence: 0.8,
			})
		}
	}
	return regions
}

func (s *segmentStage) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func cropRegion(page image.Image, box submissions.BoundingBox) ([]byte, error) {
	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height).
		Intersect(page.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("region outside page bounds")
	}

	si, ok := page.(subImager)
	if !ok {
		return nil, fmt.Errorf("page image does not support cropping")
	}

	return encodePNG(si.SubImage(rect))
}

func orderedQuestions(exam *exams.Exam) []exams.Question {
	questions := make([]exams.Question, len(exam.Questions))
	copy(questions, exam.Questions)
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].Number < questions[j].Number
	})
	return questions
}

func cropKey(id uuid.UUID, question int) string {
	return fmt.Sprintf("submissions/%s/regions/q%03d.png", id, question)
}
