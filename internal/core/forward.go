package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"medkb/pkg/domain"
)

// FiredRule explains one rule that fired for a suggestion.
type FiredRule struct {
	Rule       Rule     `json:"rule"`
	Matched    []string `json:"matched_symptoms"`
	Unmatched  []string `json:"unmatched_symptoms"`
	Confidence float64  `json:"confidence"`
}

// Suggestion is a candidate disease ranked by forward chaining.
type Suggestion struct {
	Disease         Disease     `json:"disease"`
	Confidence      float64     `json:"confidence"`
	FiredRules      []FiredRule `json:"fired_rules"`
	MatchedSymptoms []string    `json:"matched_symptoms"`
	DecisiveRuleID  string      `json:"decisive_rule_id"`
	Explanation     string      `json:"explanation"`
}

// ForwardChainer infers candidate diseases from observed symptoms.
type ForwardChainer struct {
	store *KnowledgeStore
}

// NewForwardChainer binds a chainer to a snapshot.
func NewForwardChainer(store *KnowledgeStore) ForwardChainer {
	return ForwardChainer{store: store}
}

// Infer ranks diseases for the given symptoms. A rule fires when at least one
// of its IF symptoms is present; its contribution is the rule confidence scaled
// by the matched fraction. A disease reports its maximum contribution, and
// exact ties keep the earliest rule. Results are ordered by confidence
// descending, then disease id.
func (c ForwardChainer) Infer(symptoms []string) ([]Suggestion, error) {
	input := domain.CanonicalSet(symptoms)
	if len(input) == 0 {
		return []Suggestion{}, nil
	}
	s := c.store
	if !s.Valid() {
		return nil, InvalidKnowledgeBaseError{Report: s.Report()}
	}
	present := make(map[string]struct{}, len(input))
	for _, sym := range input {
		present[sym] = struct{}{}
	}

	var order []string
	byDisease := make(map[string]*Suggestion)
	for _, r := range s.kb.Rules {
		ant := r.Antecedent()
		matched, unmatched := splitAntecedent(ant, present)
		if len(matched) == 0 {
			continue
		}
		contribution := roundConfidence(r.Confidence * float64(len(matched)) / float64(len(ant)))
		fired := FiredRule{Rule: r.Clone(), Matched: matched, Unmatched: unmatched, Confidence: contribution}
		sug, ok := byDisease[r.ThenDiseaseID]
		if !ok {
			disease, err := s.Disease(r.ThenDiseaseID)
			if err != nil {
				return nil, err
			}
			sug = &Suggestion{Disease: disease, Confidence: contribution, DecisiveRuleID: r.ID}
			byDisease[r.ThenDiseaseID] = sug
			order = append(order, r.ThenDiseaseID)
		} else if contribution > sug.Confidence {
			sug.Confidence = contribution
			sug.DecisiveRuleID = r.ID
		}
		sug.FiredRules = append(sug.FiredRules, fired)
		sug.MatchedSymptoms = appendUnique(sug.MatchedSymptoms, matched...)
	}

	out := make([]Suggestion, 0, len(order))
	for _, id := range order {
		sug := byDisease[id]
		sug.Explanation = explain(sug.FiredRules)
		out = append(out, *sug)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Disease.ID < out[j].Disease.ID
	})
	return out, nil
}

func splitAntecedent(ant []string, present map[string]struct{}) (matched, unmatched []string) {
	matched = []string{}
	unmatched = []string{}
	for _, sym := range ant {
		if _, ok := present[sym]; ok {
			matched = append(matched, sym)
		} else {
			unmatched = append(unmatched, sym)
		}
	}
	return matched, unmatched
}

// roundConfidence rounds to six decimal places so that products such as
// 0.9*2/3 compare equal to their exact decimal value.
func roundConfidence(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !containsString(list, v) {
			list = append(list, v)
		}
	}
	return list
}

func explain(fired []FiredRule) string {
	parts := make([]string, 0, len(fired))
	for _, f := range fired {
		parts = append(parts, fmt.Sprintf("Rule '%s' fired: symptoms %v matched (confidence %.0f%%).", f.Rule.ID, f.Matched, f.Confidence*100))
	}
	return strings.Join(parts, " ")
}
