// Package domain defines the knowledge corpus model shared by the inference engine,
// the persistence backends and the outer adapters.
package domain

import "time"

// EntityType identifies the record kind a change or violation refers to.
type EntityType string

// Supported entity types.
const (
	EntitySymptom       EntityType = "symptom"
	EntityDisease       EntityType = "disease"
	EntityRule          EntityType = "rule"
	EntityKnowledgeBase EntityType = "knowledge_base"
)

// Metadata carries corpus versioning information.
type Metadata struct {
	Version     string `json:"version"`
	LastUpdated string `json:"last_updated"`
}

// Facts is the managed registry of vocabulary the corpus may reference.
type Facts struct {
	Symptoms    []string `json:"symptoms"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Treatments  []string `json:"treatments,omitempty"`
}

// Disease is a condition the engine can conclude. Symptoms is the disease's own
// descriptive symptom list and is independent from rule antecedents.
type Disease struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
	Diagnostics []string `json:"diagnostics"`
	Treatment   []string `json:"treatment"`
	References  string   `json:"references"`
}

// Rule is a single IF symptoms THEN disease implication.
type Rule struct {
	ID            string   `json:"id"`
	IfSymptoms    []string `json:"if_symptoms"`
	ThenDiseaseID string   `json:"then_disease_id"`
	Confidence    float64  `json:"confidence"`
}

// KnowledgeBase is the complete persisted corpus. Diseases and Rules keep their
// persisted order; every tie break in the engine relies on it.
type KnowledgeBase struct {
	Metadata Metadata  `json:"metadata"`
	Facts    *Facts    `json:"facts,omitempty"`
	Diseases []Disease `json:"diseases"`
	Rules    []Rule    `json:"rules"`
}

// Clone returns a deep copy of the knowledge base.
func (kb KnowledgeBase) Clone() KnowledgeBase {
	out := KnowledgeBase{Metadata: kb.Metadata}
	if kb.Facts != nil {
		facts := Facts{
			Symptoms:    cloneStrings(kb.Facts.Symptoms),
			Diagnostics: cloneStrings(kb.Facts.Diagnostics),
			Treatments:  cloneStrings(kb.Facts.Treatments),
		}
		out.Facts = &facts
	}
	out.Diseases = make([]Disease, len(kb.Diseases))
	for i, d := range kb.Diseases {
		out.Diseases[i] = d.Clone()
	}
	out.Rules = make([]Rule, len(kb.Rules))
	for i, r := range kb.Rules {
		out.Rules[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the disease.
func (d Disease) Clone() Disease {
	cp := d
	cp.Symptoms = cloneStrings(d.Symptoms)
	cp.Diagnostics = cloneStrings(d.Diagnostics)
	cp.Treatment = cloneStrings(d.Treatment)
	return cp
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	cp := r
	cp.IfSymptoms = cloneStrings(r.IfSymptoms)
	return cp
}

// Antecedent returns the canonical IF-set of the rule: normalized, de-duplicated,
// in first-seen order.
func (r Rule) Antecedent() []string {
	return CanonicalSet(r.IfSymptoms)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// Action enumerates mutation kinds recorded by the mutation manager.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionRename Action = "rename"
)

// Change describes a single record mutation applied within a transaction,
// including the cascaded ones.
type Change struct {
	Entity   EntityType `json:"entity"`
	Action   Action     `json:"action"`
	EntityID string     `json:"entity_id"`
	Before   any        `json:"before,omitempty"`
	After    any        `json:"after,omitempty"`
	Cascade  bool       `json:"cascade,omitempty"`
	At       time.Time  `json:"at"`
}
