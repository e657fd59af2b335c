package core

import (
	"context"
	"fmt"

	"medkb/pkg/domain"
)

const duplicateRuleCheckName = "duplicate_rules"

// duplicateRuleCheck flags every rule that repeats the IF-set and conclusion of
// an earlier rule. The first occurrence is never flagged.
type duplicateRuleCheck struct{}

// NewDuplicateRuleCheck returns the duplicate rule check.
func NewDuplicateRuleCheck() Check { return duplicateRuleCheck{} }

func (duplicateRuleCheck) Name() string { return duplicateRuleCheckName }

func (duplicateRuleCheck) Evaluate(_ context.Context, view *KnowledgeStore) (Result, error) {
	var res Result
	first := make(map[string]string)
	for _, r := range view.kb.Rules {
		ant := r.Antecedent()
		if len(ant) == 0 {
			continue
		}
		key := domain.SetKey(ant) + "\x00" + r.ThenDiseaseID
		if prior, ok := first[key]; ok {
			res.Add(Violation{
				Check:    duplicateRuleCheckName,
				Code:     domain.CodeDuplicateRule,
				Severity: SeverityError,
				Message:  fmt.Sprintf("rule %s duplicates rule %s (%v -> %s)", r.ID, prior, ant, r.ThenDiseaseID),
				Entity:   EntityRule,
				EntityID: r.ID,
			})
			continue
		}
		first[key] = r.ID
	}
	return res, nil
}
