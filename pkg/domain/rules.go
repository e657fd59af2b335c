package domain

import (
	"fmt"
	"time"
)

// Severity captures consistency check outcomes.
type Severity string

// Check severities determine whether a knowledge base is ready for inference.
const (
	// SeverityError marks the knowledge base invalid and blocks mutations that introduce it.
	SeverityError Severity = "error"
	// SeverityWarn is reported but never blocks.
	SeverityWarn Severity = "warn"
)

// IssueCode classifies a violation.
type IssueCode string

// Violation codes reported by the consistency checks.
const (
	CodeSchemaViolation          IssueCode = "schema_violation"
	CodeDuplicateRule            IssueCode = "duplicate_rule"
	CodeConflictingConclusion    IssueCode = "conflicting_conclusion"
	CodeDanglingDiseaseReference IssueCode = "dangling_disease_reference"
	CodeDanglingSymptomReference IssueCode = "dangling_symptom_reference"
)

// Violation reports a failed consistency check.
type Violation struct {
	Check    string     `json:"check"`
	Code     IssueCode  `json:"code"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Key identifies a violation independently of when it was produced.
func (v Violation) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s", v.Code, v.Entity, v.EntityID, v.Message)
}

// Result aggregates violations from the consistency checks.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// Add appends a single violation.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// HasErrors reports whether any violation is error severity.
func (r Result) HasErrors() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidationReport splits violations into errors and warnings, keeping check order.
type ValidationReport struct {
	Errors    []Violation `json:"errors"`
	Warnings  []Violation `json:"warnings"`
	CheckedAt time.Time   `json:"checked_at"`
}

// NewValidationReport builds a report from an evaluation result.
func NewValidationReport(res Result, checkedAt time.Time) ValidationReport {
	report := ValidationReport{
		Errors:    []Violation{},
		Warnings:  []Violation{},
		CheckedAt: checkedAt,
	}
	for _, v := range res.Violations {
		if v.Severity == SeverityError {
			report.Errors = append(report.Errors, v)
			continue
		}
		report.Warnings = append(report.Warnings, v)
	}
	return report
}

// Valid reports whether the knowledge base has no outstanding errors.
func (r ValidationReport) Valid() bool { return len(r.Errors) == 0 }

// Count returns the number of violations carrying the code.
func (r ValidationReport) Count(code IssueCode) int {
	n := 0
	for _, v := range r.Errors {
		if v.Code == code {
			n++
		}
	}
	for _, v := range r.Warnings {
		if v.Code == code {
			n++
		}
	}
	return n
}

// IntroducedErrors returns errors present in r but absent from baseline.
func (r ValidationReport) IntroducedErrors(baseline ValidationReport) []Violation {
	known := make(map[string]struct{}, len(baseline.Errors))
	for _, v := range baseline.Errors {
		known[v.Key()] = struct{}{}
	}
	var out []Violation
	for _, v := range r.Errors {
		if _, ok := known[v.Key()]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Status summarizes a report the way load summaries expose it.
func (r ValidationReport) Status() string {
	switch {
	case len(r.Errors) > 0:
		return StatusInvalid
	case len(r.Warnings) > 0:
		return StatusWarnings
	default:
		return StatusValid
	}
}

// Validation statuses exposed in load summaries.
const (
	StatusValid    = "valid"
	StatusWarnings = "consistency_warnings"
	StatusInvalid  = "invalid"
)
