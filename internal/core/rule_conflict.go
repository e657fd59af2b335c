package core

import (
	"context"
	"fmt"

	"medkb/pkg/domain"
)

const conflictCheckName = "conflicting_conclusions"

// conflictingConclusionCheck warns when rules with the same IF-set conclude
// different diseases. Each later conclusion is reported once against the first
// rule of the group.
type conflictingConclusionCheck struct{}

// NewConflictingConclusionCheck returns the conflicting conclusion check.
func NewConflictingConclusionCheck() Check { return conflictingConclusionCheck{} }

func (conflictingConclusionCheck) Name() string { return conflictCheckName }

func (conflictingConclusionCheck) Evaluate(_ context.Context, view *KnowledgeStore) (Result, error) {
	var res Result
	type group struct {
		first      Rule
		conclusion map[string]struct{}
	}
	groups := make(map[string]*group)
	for _, r := range view.kb.Rules {
		ant := r.Antecedent()
		if len(ant) == 0 {
			continue
		}
		key := domain.SetKey(ant)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{first: r, conclusion: map[string]struct{}{r.ThenDiseaseID: {}}}
			continue
		}
		if _, seen := g.conclusion[r.ThenDiseaseID]; seen {
			continue
		}
		g.conclusion[r.ThenDiseaseID] = struct{}{}
		res.Add(Violation{
			Check:    conflictCheckName,
			Code:     domain.CodeConflictingConclusion,
			Severity: SeverityWarn,
			Message: fmt.Sprintf("rule %s concludes %s but rule %s with the same symptoms %v concludes %s",
				r.ID, r.ThenDiseaseID, g.first.ID, ant, g.first.ThenDiseaseID),
			Entity:   EntityRule,
			EntityID: r.ID,
		})
	}
	return res, nil
}
