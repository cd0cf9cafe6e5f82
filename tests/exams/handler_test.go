package exams_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edugrade/edugrade/internal/exams"
	"github.com/edugrade/edugrade/pkg/pagination"
)

type mockSystem struct {
	listFn    func(ctx context.Context, page pagination.PageRequest, filters exams.Filters) (*pagination.PageResult[exams.Exam], error)
	findFn    func(ctx context.Context, id uuid.UUID) (*exams.Exam, error)
	createFn  func(ctx context.Context, cmd exams.CreateCommand) (*exams.Exam, error)
	correctFn func(ctx context.Context, id uuid.UUID, cmd exams.CorrectCommand) (*exams.Exam, error)
}

func (m *mockSystem) Handler() *exams.Handler {
	return newTestHandler(m)
}

func (m *mockSystem) List(ctx context.Context, page pagination.PageRequest, filters exams.Filters) (*pagination.PageResult[exams.Exam], error) {
	return m.listFn(ctx, page, filters)
}

func (m *mockSystem) Find(ctx context.Context, id uuid.UUID) (*exams.Exam, error) {
	return m.findFn(ctx, id)
}

func (m *mockSystem) Create(ctx context.Context, cmd exams.CreateCommand) (*exams.Exam, error) {
	return m.createFn(ctx, cmd)
}

func (m *mockSystem) Correct(ctx context.Context, id uuid.UUID, cmd exams.CorrectCommand) (*exams.Exam, error) {
	return m.correctFn(ctx, id, cmd)
}

func newTestHandler(sys *mockSystem) *exams.Handler {
	return exams.NewHandler(
		sys,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		pagination.Config{DefaultPageSize: 20, MaxPageSize: 100},
	)
}

func setupMux(h *exams.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	group := h.Routes()
	for _, route := range group.Routes {
		pattern := route.Method + " " + group.Prefix + route.Pattern
		mux.HandleFunc(pattern, route.Handler)
	}
	return mux
}

func sampleExam() exams.Exam {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	return exams.Exam{
		ID:         id,
		FamilyID:   id,
		Version:    1,
		Title:      "Fractions Quiz",
		Subject:    "math",
		GradeLevel: "3",
		TeacherID:  "t-100",
		Questions: []exams.Question{
			{Number: 1, Prompt: "1/2 + 1/4 = ?", ExpectedAnswer: "3/4", MaxScore: 2, MatchPolicy: exams.MatchExact},
			{Number: 2, Prompt: "Name an equivalent of 2/4", ExpectedAnswer: "1/2", MaxScore: 3, MatchPolicy: exams.MatchSemantic},
		},
		CreatedAt: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestHandlerList(t *testing.T) {
	exam := sampleExam()
	sys := &mockSystem{
		listFn: func(_ context.Context, _ pagination.PageRequest, _ exams.Filters) (*pagination.PageResult[exams.Exam], error) {
			result := pagination.NewPageResult([]exams.Exam{exam}, 1, 1, 20)
			return &result, nil
		},
	}

	mux := setupMux(newTestHandler(sys))

	t.Run("returns paginated list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/exams", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var result pagination.PageResult[exams.Exam]
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}

		if result.Total != 1 {
			t.Errorf("total = %d, want 1", result.Total)
		}
		if len(result.Data) != 1 {
			t.Fatalf("data length = %d, want 1", len(result.Data))
		}
		if result.Data[0].ID != exam.ID {
			t.Errorf("id = %v, want %v", result.Data[0].ID, exam.ID)
		}
	})

	t.Run("passes query filters", func(t *testing.T) {
		var captured exams.Filters
		sys.listFn = func(_ context.Context, _ pagination.PageRequest, f exams.Filters) (*pagination.PageResult[exams.Exam], error) {
			captured = f
			result := pagination.NewPageResult([]exams.Exam{}, 0, 1, 20)
			return &result, nil
		}

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/exams?subject=math&grade_level=3", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if captured.Subject == nil || *captured.Subject != "math" {
			t.Errorf("subject filter = %v, want math", captured.Subject)
		}
		if captured.GradeLevel == nil || *captured.GradeLevel != "3" {
			t.Errorf("grade_level filter = %v, want 3", captured.GradeLevel)
		}
	})
}

func TestHandlerFind(t *testing.T) {
	exam := sampleExam()

	t.Run("returns exam by id", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(_ context.Context, id uuid.UUID) (*exams.Exam, error) {
				if id != exam.ID {
					return nil, exams.ErrNotFound
				}
				return &exam, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/exams/"+exam.ID.String(), nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var got exams.Exam
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != exam.ID {
			t.Errorf("id = %v, want %v", got.ID, exam.ID)
		}
		if len(got.Questions) != 2 {
			t.Errorf("questions length = %d, want 2", len(got.Questions))
		}
	})

	t.Run("invalid uuid returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/exams/not-a-uuid", nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not found returns 404", func(t *testing.T) {
		sys := &mockSystem{
			findFn: func(_ context.Context, _ uuid.UUID) (*exams.Exam, error) {
				return nil, exams.ErrNotFound
			},
		}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/exams/"+uuid.New().String(), nil)
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerSearch(t *testing.T) {
	exam := sampleExam()

	t.Run("returns search results", func(t *testing.T) {
		sys := &mockSystem{
			listFn: func(_ context.Context, _ pagination.PageRequest, _ exams.Filters) (*pagination.PageResult[exams.Exam], error) {
				result := pagination.NewPageResult([]exams.Exam{exam}, 1, 1, 20)
				return &result, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.SearchRequest{
			PageRequest: pagination.PageRequest{Page: 1, PageSize: 20},
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams/search", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var result pagination.PageResult[exams.Exam]
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if result.Total != 1 {
			t.Errorf("total = %d, want 1", result.Total)
		}
	})

	t.Run("invalid json returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams/search", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("normalizes pagination", func(t *testing.T) {
		var capturedPage pagination.PageRequest
		sys := &mockSystem{
			listFn: func(_ context.Context, page pagination.PageRequest, _ exams.Filters) (*pagination.PageResult[exams.Exam], error) {
				capturedPage = page
				result := pagination.NewPageResult([]exams.Exam{}, 0, page.Page, page.PageSize)
				return &result, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.SearchRequest{
			PageRequest: pagination.PageRequest{Page: 0, PageSize: 0},
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams/search", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if capturedPage.Page != 1 {
			t.Errorf("page = %d, want 1 (normalized)", capturedPage.Page)
		}
		if capturedPage.PageSize != 20 {
			t.Errorf("page_size = %d, want 20 (default)", capturedPage.PageSize)
		}
	})
}

func TestHandlerCreate(t *testing.T) {
	exam := sampleExam()

	t.Run("creates exam from json body", func(t *testing.T) {
		var capturedCmd exams.CreateCommand
		sys := &mockSystem{
			createFn: func(_ context.Context, cmd exams.CreateCommand) (*exams.Exam, error) {
				capturedCmd = cmd
				return &exam, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.CreateCommand{
			Title:      "Fractions Quiz",
			Subject:    "math",
			GradeLevel: "3",
			TeacherID:  "t-100",
			Questions:  exam.Questions,
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if capturedCmd.Title != "Fractions Quiz" {
			t.Errorf("title = %q, want Fractions Quiz", capturedCmd.Title)
		}
		if len(capturedCmd.Questions) != 2 {
			t.Errorf("questions length = %d, want 2", len(capturedCmd.Questions))
		}
	})

	t.Run("invalid json returns 400", func(t *testing.T) {
		sys := &mockSystem{}
		mux := setupMux(newTestHandler(sys))

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams", bytes.NewReader([]byte("not json")))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid answer key returns 400", func(t *testing.T) {
		sys := &mockSystem{
			createFn: func(_ context.Context, _ exams.CreateCommand) (*exams.Exam, error) {
				return nil, exams.ErrInvalidKey
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.CreateCommand{Title: "Empty"})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestHandlerCorrect(t *testing.T) {
	exam := sampleExam()

	t.Run("creates new version", func(t *testing.T) {
		corrected := exam
		corrected.ID = uuid.New()
		corrected.Version = 2

		var capturedID uuid.UUID
		sys := &mockSystem{
			correctFn: func(_ context.Context, id uuid.UUID, _ exams.CorrectCommand) (*exams.Exam, error) {
				capturedID = id
				return &corrected, nil
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.CorrectCommand{
			Questions:   exam.Questions,
			CorrectedBy: "t-100",
		})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams/"+exam.ID.String()+"/corrections", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		if capturedID != exam.ID {
			t.Errorf("id = %v, want %v", capturedID, exam.ID)
		}

		var got exams.Exam
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Version != 2 {
			t.Errorf("version = %d, want 2", got.Version)
		}
		if got.FamilyID != exam.FamilyID {
			t.Errorf("family_id = %v, want %v", got.FamilyID, exam.FamilyID)
		}
	})

	t.Run("not found returns 404", func(t *testing.T) {
		sys := &mockSystem{
			correctFn: func(_ context.Context, _ uuid.UUID, _ exams.CorrectCommand) (*exams.Exam, error) {
				return nil, exams.ErrNotFound
			},
		}
		mux := setupMux(newTestHandler(sys))

		body, _ := json.Marshal(exams.CorrectCommand{Questions: exam.Questions})

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/exams/"+uuid.New().String()+"/corrections", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestHandlerRoutes(t *testing.T) {
	sys := &mockSystem{}
	group := newTestHandler(sys).Routes()

	if group.Prefix != "/exams" {
		t.Errorf("prefix = %q, want /exams", group.Prefix)
	}

	want := []struct {
		method  string
		pattern string
	}{
		{"GET", ""},
		{"GET", "/{id}"},
		{"POST", ""},
		{"POST", "/search"},
		{"POST", "/{id}/corrections"},
	}

	if len(group.Routes) != len(want) {
		t.Fatalf("route count = %d, want %d", len(group.Routes), len(want))
	}

	for i, w := range want {
		r := group.Routes[i]
		if r.Method != w.method || r.Pattern != w.pattern {
			t.Errorf("route[%d] = %s %s, want %s %s", i, r.Method, r.Pattern, w.method, w.pattern)
		}
	}
}
