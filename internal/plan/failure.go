package plan

import "fmt"

// Code identifies why a build produced no new plan.
type Code string

const (
	CodeAlreadyExists   Code = "already_exists"
	CodeNoCandidates    Code = "no_candidates"
	CodeNoRelationships Code = "no_relationships"
)

var messages = map[Code]string{
	CodeAlreadyExists:   "A plan for this day already exists.",
	CodeNoCandidates:    "Nothing is due yet. Add a follow-up or check back tomorrow.",
	CodeNoRelationships: "Add a relationship to start getting daily plans.",
}

// Failure is an expected, user-facing outcome rather than an error: the
// caller decides how to present it.
type Failure struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func newFailure(code Code) *Failure {
	return &Failure{Code: code, Message: messages[code]}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}
