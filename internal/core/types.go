package core

import "medkb/pkg/domain"

type (
	EntityType                = domain.EntityType
	Severity                  = domain.Severity
	IssueCode                 = domain.IssueCode
	Metadata                  = domain.Metadata
	Facts                     = domain.Facts
	Disease                   = domain.Disease
	Rule                      = domain.Rule
	KnowledgeBase             = domain.KnowledgeBase
	Change                    = domain.Change
	Action                    = domain.Action
	Violation                 = domain.Violation
	Result                    = domain.Result
	ValidationReport          = domain.ValidationReport
	CorpusStore               = domain.CorpusStore
	NotFoundError             = domain.NotFoundError
	MalformedError            = domain.MalformedError
	MutationRejectedError     = domain.MutationRejectedError
	InvalidKnowledgeBaseError = domain.InvalidKnowledgeBaseError
)

const (
	EntitySymptom       = domain.EntitySymptom
	EntityDisease       = domain.EntityDisease
	EntityRule          = domain.EntityRule
	EntityKnowledgeBase = domain.EntityKnowledgeBase
)

const (
	SeverityError = domain.SeverityError
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
	ActionRename = domain.ActionRename
)
