package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched through errors.Is against the typed errors below.
var (
	ErrMalformed            = errors.New("knowledge base malformed")
	ErrNotFound             = errors.New("not found")
	ErrInvalidKnowledgeBase = errors.New("knowledge base invalid")
	ErrMutationRejected     = errors.New("mutation rejected")
	ErrCorpusNotFound       = errors.New("knowledge corpus not found")
)

// MalformedError is returned when the persisted corpus cannot be parsed as a
// structured document at all.
type MalformedError struct {
	Source string
	Err    error
}

func (e MalformedError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("knowledge base malformed: %v", e.Err)
	}
	return fmt.Sprintf("knowledge base %s malformed: %v", e.Source, e.Err)
}

func (e MalformedError) Unwrap() error { return e.Err }

// Is matches ErrMalformed.
func (e MalformedError) Is(target error) bool { return target == ErrMalformed }

// NotFoundError is returned when a lookup references an unknown id.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidKnowledgeBaseError is returned by the chainers when the snapshot has
// outstanding validation errors.
type InvalidKnowledgeBaseError struct {
	Report ValidationReport
}

func (e InvalidKnowledgeBaseError) Error() string {
	return fmt.Sprintf("knowledge base invalid: %d validation error(s)", len(e.Report.Errors))
}

// Is matches ErrInvalidKnowledgeBase.
func (e InvalidKnowledgeBaseError) Is(target error) bool { return target == ErrInvalidKnowledgeBase }

// MutationRejectedError is returned when a mutation would leave the corpus
// invalid or breaks an explicit policy. Report is the post-mutation report of the
// discarded working copy; Introduced lists the errors the mutation caused.
type MutationRejectedError struct {
	Reason     string
	Report     ValidationReport
	Introduced []Violation
}

func (e MutationRejectedError) Error() string {
	if len(e.Introduced) == 0 {
		return "mutation rejected: " + e.Reason
	}
	msgs := make([]string, 0, len(e.Introduced))
	for _, v := range e.Introduced {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("mutation rejected: %s: %s", e.Reason, strings.Join(msgs, "; "))
}

// Is matches ErrMutationRejected.
func (e MutationRejectedError) Is(target error) bool { return target == ErrMutationRejected }
