package session

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var ErrMissingIdentifier = errors.New("missing session identifier")

// Context identifies the candidate and exam being monitored. It is set once
// before monitoring starts and handed by value to every component.
type Context struct {
	StudentID string `json:"student_id"`
	ExamID    string `json:"exam_id"`
}

// NewContext normalizes both identifiers (trimmed, NFKC) and rejects blanks.
func NewContext(studentID, examID string) (Context, error) {
	sid := normalize(studentID)
	if sid == "" {
		return Context{}, fmt.Errorf("student id: %w", ErrMissingIdentifier)
	}
	eid := normalize(examID)
	if eid == "" {
		return Context{}, fmt.Errorf("exam id: %w", ErrMissingIdentifier)
	}
	return Context{StudentID: sid, ExamID: eid}, nil
}

// HasStudent reports whether identity verification can run for this session.
func (c Context) HasStudent() bool {
	return c.StudentID != ""
}

func normalize(id string) string {
	return strings.TrimSpace(norm.NFKC.String(id))
}
