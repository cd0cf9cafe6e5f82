package api

import (
	"net/http"

	"github.com/edugrade/edugrade/internal/config"
	"github.com/edugrade/edugrade/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
) {
	routes.Register(
		mux,
		domain.Exams.Handler().Routes(),
		domain.Submissions.Handler(domain.Pool, cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Approvals.Handler().Routes(),
		domain.Reports.Handler().Routes(),
	)
}
