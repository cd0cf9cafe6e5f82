package submissions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/edugrade/edugrade/pkg/handlers"
	"github.com/edugrade/edugrade/pkg/pagination"
	"github.com/edugrade/edugrade/pkg/routes"
)

// Handler provides HTTP endpoints for submission operations.
type Handler struct {
	sys           System
	queue         Queue
	logger        *slog.Logger
	pagination    pagination.Config
	maxUploadSize int64
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// NewHandler creates a Handler with the given system, processing queue,
// logger, pagination config, and upload size limit.
func NewHandler(
	sys System,
	queue Queue,
	logger *slog.Logger,
	pagination pagination.Config,
	maxUploadSize int64,
) *Handler {
	return &Handler{
		sys:           sys,
		queue:         queue,
		logger:        logger.With("handler", "submissions"),
		pagination:    pagination,
		maxUploadSize: maxUploadSize,
	}
}

// Routes returns the route group definition for submission endpoints.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/submissions",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.List},
			{Method: "GET", Pattern: "/{id}", Handler: h.Find},
			{Method: "GET", Pattern: "/{id}/status", Handler: h.Status},
			{Method: "POST", Pattern: "", Handler: h.Upload},
			{Method: "POST", Pattern: "/search", Handler: h.Search},
			{Method: "POST", Pattern: "/{id}/process", Handler: h.Process},
			{Method: "POST", Pattern: "/{id}/requeue", Handler: h.Requeue},
			{Method: "POST", Pattern: "/{id}/cancel", Handler: h.Cancel},
		},
	}
}

// List returns a paginated list of submissions with optional query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Find returns a single submission by its UUID path parameter.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	sub, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, sub)
}

// Status returns only the lifecycle status of a submission.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	sub, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":     sub.ID,
		"status": sub.Status,
	})
}

// Search accepts a JSON body with pagination and filter criteria and returns matching submissions.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.List(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// Upload processes a multipart form upload containing page images or a
// scanned PDF plus exam and student metadata. PDFs are split into their
// per-page scan images using pdfcpu.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, ErrFileTooLarge)
		return
	}

	examID, err := uuid.Parse(r.FormValue("exam_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrValidation)
		return
	}

	studentID := r.FormValue("student_id")
	teacherID := r.FormValue("teacher_id")
	if studentID == "" || teacherID == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrValidation)
		return
	}

	form := r.MultipartForm
	if form == nil || len(form.File["pages"]) == 0 {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidFile)
		return
	}

	var pages []PageUpload
	for _, header := range form.File["pages"] {
		file, err := header.Open()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidFile)
			return
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidFile)
			return
		}

		contentType := detectContentType(header.Header.Get("Content-Type"), data)
		switch contentType {
		case "image/png", "image/jpeg":
			pages = append(pages, PageUpload{Data: data, ContentType: contentType})
		case "application/pdf":
			split, err := extractPDFPages(data)
			if err != nil {
				h.logger.Warn("pdf page extraction failed", "filename", header.Filename, "error", err)
				handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidFile)
				return
			}
			pages = append(pages, split...)
		default:
			handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidFile)
			return
		}
	}

	cmd := CreateCommand{
		ExamID:    examID,
		StudentID: studentID,
		TeacherID: teacherID,
		Pages:     pages,
	}

	sub, err := h.sys.Create(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, sub)
}

// Process enqueues an uploaded submission for background grading.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	sub, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if sub.Status != StatusUploaded {
		handlers.RespondError(
			w, h.logger, http.StatusConflict,
			fmt.Errorf("%w: status is %s", ErrInvalidStatus, sub.Status),
		)
		return
	}

	if err := h.queue.Enqueue(id); err != nil {
		handlers.RespondError(w, h.logger, http.StatusServiceUnavailable, err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, map[string]any{
		"id":     sub.ID,
		"status": sub.Status,
	})
}

// Requeue re-enqueues a failed submission, resuming from its last
// checkpoint with a fresh retry budget for the failed stage.
func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	sub, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if !sub.Status.Failed() {
		handlers.RespondError(
			w, h.logger, http.StatusConflict,
			fmt.Errorf("%w: status is %s", ErrInvalidStatus, sub.Status),
		)
		return
	}

	if err := h.queue.Requeue(id); err != nil {
		handlers.RespondError(w, h.logger, http.StatusServiceUnavailable, err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, map[string]any{
		"id":     sub.ID,
		"status": sub.Status,
	})
}

// Cancel requests cancellation of a queued or in-flight submission.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrNotFound)
		return
	}

	if err := h.queue.Cancel(id); err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": StatusCancelled,
	})
}

func detectContentType(header string, data []byte) string {
	header = strings.TrimSpace(header)
	if header != "" && header != "application/octet-stream" {
		return header
	}
	return http.DetectContentType(data)
}

// extractPDFPages pulls the scanned page image out of each PDF page.
// Scanner output embeds exactly one image per page; anything else is
// rejected rather than guessed at.
func extractPDFPages(data []byte) ([]PageUpload, error) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	extracted, err := api.ExtractImagesRaw(bytes.NewReader(data), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("extract pdf images: %w", err)
	}

	var pages []PageUpload
	for _, pageImages := range extracted {
		if len(pageImages) != 1 {
			return nil, fmt.Errorf("expected one scan image per page, found %d", len(pageImages))
		}

		for _, img := range pageImages {
			buf, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read page %d image: %w", img.PageNr, err)
			}

			var contentType string
			switch img.FileType {
			case "png":
				contentType = "image/png"
			case "jpg", "jpeg":
				contentType = "image/jpeg"
			default:
				return nil, fmt.Errorf("unsupported embedded image type %q", img.FileType)
			}

			pages = append(pages, PageUpload{Data: buf, ContentType: contentType})
		}
	}

	if len(pages) != count {
		return nil, fmt.Errorf("extracted %d images for %d pages", len(pages), count)
	}

	return pages, nil
}
