package exams

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/edugrade/edugrade/pkg/query"
	"github.com/edugrade/edugrade/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "exams", "e").
	Project("id", "ID").
	Project("family_id", "FamilyID").
	Project("version", "Version").
	Project("title", "Title").
	Project("subject", "Subject").
	Project("grade_level", "GradeLevel").
	Project("teacher_id", "TeacherID").
	Project("questions", "Questions").
	Project("created_at", "CreatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for exam queries.
// Nil fields are ignored. Title uses case-insensitive contains matching.
type Filters struct {
	Subject    *string `json:"subject,omitempty"`
	GradeLevel *string `json:"grade_level,omitempty"`
	TeacherID  *string `json:"teacher_id,omitempty"`
	Title      *string `json:"title,omitempty"`
	Version    *int    `json:"version,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Subject", f.Subject).
		WhereEquals("GradeLevel", f.GradeLevel).
		WhereEquals("TeacherID", f.TeacherID).
		WhereContains("Title", f.Title).
		WhereEquals("Version", f.Version)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("subject"); s != "" {
		f.Subject = &s
	}
	if g := values.Get("grade_level"); g != "" {
		f.GradeLevel = &g
	}
	if t := values.Get("teacher_id"); t != "" {
		f.TeacherID = &t
	}
	if t := values.Get("title"); t != "" {
		f.Title = &t
	}
	if v := values.Get("version"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Version = &n
		}
	}

	return f
}

func scanExam(s repository.Scanner) (Exam, error) {
	var (
		e   Exam
		raw []byte
	)

	if err := s.Scan(
		&e.ID,
		&e.FamilyID,
		&e.Version,
		&e.Title,
		&e.Subject,
		&e.GradeLevel,
		&e.TeacherID,
		&raw,
		&e.CreatedAt,
	); err != nil {
		return e, err
	}

	if err := json.Unmarshal(raw, &e.Questions); err != nil {
		return e, err
	}

	return e, nil
}
