package core

import (
	"context"
	"fmt"
	"strings"

	"medkb/pkg/domain"
)

const (
	danglingDiseaseCheckName = "dangling_disease_references"
	danglingSymptomCheckName = "dangling_symptom_references"
)

// danglingDiseaseCheck requires every rule conclusion to name an existing disease.
type danglingDiseaseCheck struct{}

// NewDanglingDiseaseCheck returns the dangling disease reference check.
func NewDanglingDiseaseCheck() Check { return danglingDiseaseCheck{} }

func (danglingDiseaseCheck) Name() string { return danglingDiseaseCheckName }

func (danglingDiseaseCheck) Evaluate(_ context.Context, view *KnowledgeStore) (Result, error) {
	var res Result
	for _, r := range view.kb.Rules {
		if strings.TrimSpace(r.ThenDiseaseID) == "" {
			continue
		}
		if _, ok := view.diseaseIndex[r.ThenDiseaseID]; ok {
			continue
		}
		res.Add(Violation{
			Check:    danglingDiseaseCheckName,
			Code:     domain.CodeDanglingDiseaseReference,
			Severity: SeverityError,
			Message:  fmt.Sprintf("rule %s concludes unknown disease %s", r.ID, r.ThenDiseaseID),
			Entity:   EntityRule,
			EntityID: r.ID,
		})
	}
	return res, nil
}

// danglingSymptomCheck requires every referenced symptom to be registered in
// facts.symptoms. Without a facts section the registry is derived from the
// references themselves, so nothing can dangle.
type danglingSymptomCheck struct{}

// NewDanglingSymptomCheck returns the dangling symptom reference check.
func NewDanglingSymptomCheck() Check { return danglingSymptomCheck{} }

func (danglingSymptomCheck) Name() string { return danglingSymptomCheckName }

func (danglingSymptomCheck) Evaluate(_ context.Context, view *KnowledgeStore) (Result, error) {
	var res Result
	if !view.registry {
		return res, nil
	}
	report := func(entity EntityType, id, sym string) {
		res.Add(Violation{
			Check:    danglingSymptomCheckName,
			Code:     domain.CodeDanglingSymptomReference,
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s %s references unknown symptom %q", entity, id, sym),
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, d := range view.kb.Diseases {
		for _, sym := range domain.CanonicalSet(d.Symptoms) {
			if _, ok := view.symptomSet[sym]; !ok {
				report(EntityDisease, d.ID, sym)
			}
		}
	}
	for _, r := range view.kb.Rules {
		for _, sym := range r.Antecedent() {
			if _, ok := view.symptomSet[sym]; !ok {
				report(EntityRule, r.ID, sym)
			}
		}
	}
	return res, nil
}
