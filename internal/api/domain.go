package api

import (
	"context"

	"github.com/edugrade/edugrade/internal/approvals"
	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/internal/inference"
	"github.com/edugrade/edugrade/internal/pipeline"
	"github.com/edugrade/edugrade/internal/reports"
	"github.com/edugrade/edugrade/internal/submissions"
)

// Domain holds all domain systems that comprise the API, plus the
// worker pool that drives submissions through the grading pipeline.
type Domain struct {
	Exams       exams.System
	Submissions submissions.System
	Approvals   approvals.System
	Reports     reports.System
	Pool        *pipeline.Pool
}

// NewDomain creates all domain systems and the processing pipeline from
// the API runtime.
func NewDomain(ctx context.Context, cfg *config.Config, runtime *Runtime) (*Domain, error) {
	examSystem := exams.New(
		runtime.Database.Connection(),
		runtime.Logger,
		runtime.Pagination,
	)

	submissionSystem := submissions.New(
		runtime.Database.Connection(),
		runtime.Storage,
		runtime.Logger,
		runtime.Pagination,
	)

	detector := inference.NewDetector(&cfg.Inference.Detector, runtime.Logger)

	grader, err := inference.NewGrader(ctx, &cfg.Inference.Grader, runtime.Logger)
	if err != nil {
		return nil, err
	}

	enricher := inference.NewEnricher(&cfg.Inference.Enricher, runtime.Logger)

	stages := []pipeline.Stage{
		pipeline.NewPreprocessStage(runtime.Storage, cfg.Pipeline, runtime.Logger),
		pipeline.NewSegmentStage(runtime.Storage, detector, examSystem, cfg.Pipeline, runtime.Logger),
		pipeline.NewGradeStage(runtime.Storage, grader, examSystem, cfg.Pipeline, runtime.Logger),
		pipeline.NewEnrichStage(enricher, examSystem, runtime.Logger),
	}

	orchestrator := pipeline.NewOrchestrator(submissionSystem, stages, cfg.Pipeline, runtime.Logger)

	pool := pipeline.NewPool(orchestrator, submissionSystem, cfg.Pipeline.Workers, runtime.Logger)
	pool.Start(runtime.Lifecycle)

	approvalSystem := approvals.New(
		runtime.Database.Connection(),
		submissionSystem,
		examSystem,
		runtime.Logger,
		runtime.Pagination,
	)

	reportSystem := reports.New(
		submissionSystem,
		examSystem,
		approvalSystem,
		runtime.Logger,
	)

	return &Domain{
		Exams:       examSystem,
		Submissions: submissionSystem,
		Approvals:   approvalSystem,
		Reports:     reportSystem,
		Pool:        pool,
	}, nil
}
