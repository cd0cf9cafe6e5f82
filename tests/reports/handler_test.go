package reports_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/reports"
)

type mockSystem struct {
	reportFn func(ctx context.Context, id uuid.UUID) (*reports.Report, error)
}

func (m *mockSystem) Handler() *reports.Handler { return nil }

func (m *mockSystem) Report(ctx context.Context, id uuid.UUID) (*reports.Report, error) {
	return m.reportFn(ctx, id)
}

func newTestHandler(sys *mockSystem) *reports.Handler {
	return reports.NewHandler(sys, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupMux(h *reports.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		pattern := route.Method + " " + group.Prefix + route.Pattern
		mux.HandleFunc(pattern, route.Handler)
	}
	return mux
}

func TestHandlerReport(t *testing.T) {
	submissionID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	t.Run("returns assembled report", func(t *testing.T) {
		sys := &mockSystem{
			reportFn: func(_ context.Context, id uuid.UUID) (*reports.Report, error) {
				if id != submissionID {
					t.Errorf("id = %s, want %s", id, submissionID)
				}
				return &reports.Report{
					SubmissionID: id,
					ExamTitle:    "Fractions Quiz",
					Total:        5,
					MaxTotal:     10,
					Percentage:   50,
				}, nil
			},
		}

		mux := setupMux(newTestHandler(sys))
		req := httptest.NewRequest("GET", "/reports/"+submissionID.String(), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}

		var report reports.Report
		if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if report.SubmissionID != submissionID || report.Percentage != 50 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		mux := setupMux(newTestHandler(&mockSystem{}))
		req := httptest.NewRequest("GET", "/reports/not-a-uuid", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unapproved submission maps to conflict", func(t *testing.T) {
		sys := &mockSystem{
			reportFn: func(context.Context, uuid.UUID) (*reports.Report, error) {
				return nil, reports.ErrNotApproved
			},
		}

		mux := setupMux(newTestHandler(sys))
		req := httptest.NewRequest("GET", "/reports/"+submissionID.String(), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", w.Code)
		}
	})

	t.Run("missing submission maps to not found", func(t *testing.T) {
		sys := &mockSystem{
			reportFn: func(context.Context, uuid.UUID) (*reports.Report, error) {
				return nil, reports.ErrNotFound
			},
		}

		mux := setupMux(newTestHandler(sys))
		req := httptest.NewRequest("GET", "/reports/"+submissionID.String(), nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})
}

func TestHandlerRoutes(t *testing.T) {
	group := newTestHandler(&mockSystem{}).Routes()

	if group.Prefix != "/reports" {
		t.Errorf("prefix = %q, want /reports", group.Prefix)
	}
	if len(group.Routes) != 1 {
		t.Fatalf("routes = %d, want 1", len(group.Routes))
	}
	if group.Routes[0].Method != "GET" || group.Routes[0].Pattern != "/{id}" {
		t.Errorf("route = %s %s, want GET /{id}", group.Routes[0].Method, group.Routes[0].Pattern)
	}
}
