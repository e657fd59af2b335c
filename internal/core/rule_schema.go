package core

import (
	"context"
	"math"
	"strings"

	"medkb/pkg/domain"
)

// schemaRecordCheck enforces field-level requirements on the typed model: a
// metadata version, ids and names present and unique, non-empty IF-sets,
// conclusions present and confidences in (0, 1]. Missing keys and shape errors
// are reported earlier at the parse boundary.
type schemaRecordCheck struct{}

// NewSchemaCheck returns the schema check.
func NewSchemaCheck() Check { return schemaRecordCheck{} }

func (schemaRecordCheck) Name() string { return schemaCheck }

func (schemaRecordCheck) Evaluate(_ context.Context, view *KnowledgeStore) (Result, error) {
	var res Result
	kb := view.kb
	if kb.Facts == nil {
		res.Add(Violation{
			Check:    schemaCheck,
			Code:     domain.CodeSchemaViolation,
			Severity: SeverityWarn,
			Message:  "facts section is missing; the symptom registry is derived from references",
			Entity:   EntityKnowledgeBase,
			EntityID: "facts",
		})
	}

	// Every rewrite keeps the version key, so emptiness is checked here rather
	// than at the parse boundary.
	if strings.TrimSpace(kb.Metadata.Version) == "" {
		res.Add(schemaViolation(EntityKnowledgeBase, "metadata", "metadata: field %q is required", "version"))
	}

	seenDiseases := make(map[string]struct{}, len(kb.Diseases))
	for _, d := range kb.Diseases {
		if strings.TrimSpace(d.ID) == "" {
			res.Add(schemaViolation(EntityDisease, d.Name, "disease %q has an empty id", d.Name))
			continue
		}
		if _, dup := seenDiseases[d.ID]; dup {
			res.Add(schemaViolation(EntityDisease, d.ID, "disease id %s is declared more than once", d.ID))
		}
		seenDiseases[d.ID] = struct{}{}
		if strings.TrimSpace(d.Name) == "" {
			res.Add(schemaViolation(EntityDisease, d.ID, "disease %s has an empty name", d.ID))
		}
	}

	seenRules := make(map[string]struct{}, len(kb.Rules))
	for _, r := range kb.Rules {
		label := r.ID
		if strings.TrimSpace(r.ID) == "" {
			label = "(no id) -> " + r.ThenDiseaseID
			res.Add(schemaViolation(EntityRule, "", "rule %s has an empty id", label))
		} else {
			if _, dup := seenRules[r.ID]; dup {
				res.Add(schemaViolation(EntityRule, r.ID, "rule id %s is declared more than once", r.ID))
			}
			seenRules[r.ID] = struct{}{}
		}
		if len(r.Antecedent()) == 0 {
			res.Add(schemaViolation(EntityRule, r.ID, "rule %s has no if_symptoms", label))
		}
		if strings.TrimSpace(r.ThenDiseaseID) == "" {
			res.Add(schemaViolation(EntityRule, r.ID, "rule %s has an empty then_disease_id", label))
		}
		if !validConfidence(r.Confidence) {
			res.Add(schemaViolation(EntityRule, r.ID, "rule %s confidence %v is outside (0, 1]", label, r.Confidence))
		}
	}
	return res, nil
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c > 0 && c <= 1
}
