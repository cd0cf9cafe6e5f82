package approvals

import "github.com/edugrade/edugrade/pkg/repository"

func scanRecord(s repository.Scanner) (Record, error) {
	var r Record
	err := s.Scan(
		&r.ID,
		&r.SubmissionID,
		&r.TeacherID,
		&r.Decision,
		&r.Reason,
		&r.DecidedAt,
	)
	return r, err
}

func scanOverride(s repository.Scanner) (Override, error) {
	var o Override
	err := s.Scan(
		&o.ID,
		&o.RecordID,
		&o.QuestionNumber,
		&o.OriginalScore,
		&o.NewScore,
		&o.NewFeedback,
		&o.Reason,
	)
	return o, err
}
