package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/submissions"
	"github.com/edugrade/edugrade/pkg/storage"
)

type preprocessStage struct {
	storage storage.System
	cfg     config.PipelineConfig
	logger  *slog.Logger
}

// NewPreprocessStage creates the preprocessing stage: it validates,
// resamples, and re-encodes each page image to a normalized PNG.
func NewPreprocessStage(
	store storage.System,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) Stage {
	return &preprocessStage{
		storage: store,
		cfg:     cfg,
		logger:  logger.With("stage", StagePreprocess),
	}
}

func (s *preprocessStage) Name() string                 { return StagePreprocess }
func (s *preprocessStage) Running() submissions.Status  { return submissions.StatusPreprocessing }
func (s *preprocessStage) Failed() submissions.Status   { return submissions.StatusFailedPreprocessing }
func (s *preprocessStage) Critical() bool               { return true }

func (s *preprocessStage) Run(ctx context.Context, st State) Result {
	normalized := make([]string, len(st.PageKeys))

	for i, key := range st.PageKeys {
		data, err := s.download(ctx, key)
		if err != nil {
			return Retryable(fmt.Errorf("download page %d: %w", i, err))
		}

		if int64(len(data)) > s.cfg.MaxPageBytes {
			return Fatal(fmt.Errorf(
				"%w: page %d is %d bytes, limit %d",
				ErrValidation, i, len(data), s.cfg.MaxPageBytes,
			))
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return Fatal(fmt.Errorf("%w: page %d is not a decodable image: %v", ErrValidation, i, err))
		}

		out, err := encodePNG(resample(img, s.cfg.TargetWidth))
		if err != nil {
			return Fatal(fmt.Errorf("%w: encode page %d: %v", ErrValidation, i, err))
		}

		nk := normalizedKey(st.SubmissionID, i)
		if err := s.storage.Upload(ctx, nk, bytes.NewReader(out), "image/png"); err != nil {
			return Retryable(fmt.Errorf("upload normalized page %d: %w", i, err))
		}
		normalized[i] = nk
	}

	st.NormalizedKeys = normalized
	s.logger.Info("pages normalized", "submission_id", st.SubmissionID, "pages", len(normalized))
	return Success(st)
}

func (s *preprocessStage) download(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resample scales img to the target width, preserving aspect ratio.
// Images already at or below the target width are left at original size.
func resample(img image.Image, targetWidth int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= targetWidth {
		return img
	}

	height := bounds.Dy() * targetWidth / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalizedKey(id uuid.UUID, index int) string {
	return fmt.Sprintf("submissions/%s/normalized/%03d.png", id, index)
}
