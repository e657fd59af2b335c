package core

import (
	"sort"

	"medkb/pkg/domain"
)

// SupportingRule is a rule concluding the target disease together with the
// symptoms that would satisfy it.
type SupportingRule struct {
	Rule       Rule     `json:"rule"`
	Symptoms   []string `json:"symptoms"`
	Confidence float64  `json:"confidence"`
}

// BackwardResult lists the evidence that would support a disease.
type BackwardResult struct {
	Disease         Disease          `json:"disease"`
	SupportingRules []SupportingRule `json:"supporting_rules"`
	// Evidence is the union of supporting symptoms in rule order.
	Evidence []string `json:"evidence"`
	// Uncovered lists the disease's own symptoms that no concluding rule asks for.
	Uncovered []string `json:"uncovered_symptoms"`
}

// BackwardChainer reasons from a disease back to supporting symptoms.
type BackwardChainer struct {
	store *KnowledgeStore
}

// NewBackwardChainer binds a chainer to a snapshot.
func NewBackwardChainer(store *KnowledgeStore) BackwardChainer {
	return BackwardChainer{store: store}
}

// SupportFor returns the rules concluding diseaseID ordered by confidence
// descending, then natural rule id order.
func (c BackwardChainer) SupportFor(diseaseID string) (BackwardResult, error) {
	s := c.store
	if !s.Valid() {
		return BackwardResult{}, InvalidKnowledgeBaseError{Report: s.Report()}
	}
	disease, err := s.Disease(diseaseID)
	if err != nil {
		return BackwardResult{}, err
	}
	rules := s.RulesForDisease(diseaseID)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return domain.CompareIDs(rules[i].ID, rules[j].ID) < 0
	})
	result := BackwardResult{
		Disease:         disease,
		SupportingRules: make([]SupportingRule, 0, len(rules)),
		Evidence:        []string{},
		Uncovered:       []string{},
	}
	for _, r := range rules {
		ant := r.Antecedent()
		result.SupportingRules = append(result.SupportingRules, SupportingRule{Rule: r, Symptoms: ant, Confidence: r.Confidence})
		result.Evidence = appendUnique(result.Evidence, ant...)
	}
	for _, sym := range domain.CanonicalSet(disease.Symptoms) {
		if !containsString(result.Evidence, sym) {
			result.Uncovered = append(result.Uncovered, sym)
		}
	}
	return result, nil
}
