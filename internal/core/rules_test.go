package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"medkb/pkg/domain"
)

func buildStore(t *testing.T, kb KnowledgeBase) *KnowledgeStore {
	t.Helper()
	store, err := NewKnowledgeStore(context.Background(), kb, WithStoreClock(fixedClock))
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	return store
}

func baseKB() KnowledgeBase {
	return KnowledgeBase{
		Metadata: Metadata{Version: "1"},
		Facts:    &Facts{Symptoms: []string{"fever", "cough", "rash"}},
		Diseases: []Disease{
			{ID: "flu", Name: "Influenza", Symptoms: []string{"fever", "cough"}},
			{ID: "cold", Name: "Common Cold", Symptoms: []string{"cough"}},
		},
	}
}

func TestDefaultEngineCheckOrder(t *testing.T) {
	want := []string{"schema", "duplicate_rules", "conflicting_conclusions", "dangling_disease_references", "dangling_symptom_references"}
	if diff := cmp.Diff(want, NewDefaultRulesEngine().Checks()); diff != "" {
		t.Fatalf("check order (-want +got):\n%s", diff)
	}
}

func TestDuplicateAndConflictingRules(t *testing.T) {
	kb := baseKB()
	kb.Rules = []Rule{
		{ID: "R1", IfSymptoms: []string{"fever", "cough"}, ThenDiseaseID: "flu", Confidence: 0.8},
		{ID: "R2", IfSymptoms: []string{"cough", "fever"}, ThenDiseaseID: "flu", Confidence: 0.5},
		{ID: "R3", IfSymptoms: []string{"Fever", "COUGH", "fever"}, ThenDiseaseID: "flu", Confidence: 0.4},
		{ID: "R4", IfSymptoms: []string{"fever", "cough"}, ThenDiseaseID: "cold", Confidence: 0.3},
		{ID: "R5", IfSymptoms: []string{"cough", "fever"}, ThenDiseaseID: "cold", Confidence: 0.2},
	}
	report := buildStore(t, kb).Report()

	var dupIDs []string
	for _, v := range report.Errors {
		if v.Code == domain.CodeDuplicateRule {
			dupIDs = append(dupIDs, v.EntityID)
		}
	}
	if diff := cmp.Diff([]string{"R2", "R3", "R5"}, dupIDs); diff != "" {
		t.Fatalf("duplicate rules (-want +got):\n%s", diff)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Code != domain.CodeConflictingConclusion || report.Warnings[0].EntityID != "R4" {
		t.Fatalf("expected one conflict warning on R4, got %+v", report.Warnings)
	}
}

func TestDanglingReferences(t *testing.T) {
	kb := baseKB()
	kb.Diseases[1].Symptoms = []string{"sneezing"}
	kb.Rules = []Rule{
		{ID: "R1", IfSymptoms: []string{"fever"}, ThenDiseaseID: "measles", Confidence: 0.5},
		{ID: "R2", IfSymptoms: []string{"chills", "fever"}, ThenDiseaseID: "flu", Confidence: 0.5},
	}
	report := buildStore(t, kb).Report()
	want := []IssueCode{
		domain.CodeDanglingDiseaseReference,
		domain.CodeDanglingSymptomReference,
		domain.CodeDanglingSymptomReference,
	}
	if diff := cmp.Diff(want, violationCodes(report.Errors)); diff != "" {
		t.Fatalf("dangling codes (-want +got):\n%s", diff)
	}
	if report.Errors[1].EntityID != "cold" || report.Errors[2].EntityID != "R2" {
		t.Fatalf("unexpected dangling symptom owners: %+v", report.Errors)
	}
}

func TestSchemaCheckFieldRules(t *testing.T) {
	kb := baseKB()
	kb.Diseases = append(kb.Diseases, Disease{ID: "flu", Name: "Dup"}, Disease{ID: "x", Name: "  "})
	kb.Rules = []Rule{
		{ID: "R1", IfSymptoms: []string{"fever"}, ThenDiseaseID: "flu", Confidence: 1},
		{ID: "R1", IfSymptoms: []string{"cough"}, ThenDiseaseID: "flu", Confidence: 0.5},
		{ID: "R2", IfSymptoms: []string{" ", ""}, ThenDiseaseID: "flu", Confidence: 0.5},
		{ID: "R3", IfSymptoms: []string{"rash"}, ThenDiseaseID: "flu", Confidence: 1.2},
		{ID: "", IfSymptoms: []string{"rash"}, ThenDiseaseID: "cold", Confidence: 0.1},
	}
	report := buildStore(t, kb).Report()
	schemaIDs := []string{}
	for _, v := range report.Errors {
		if v.Code == domain.CodeSchemaViolation {
			schemaIDs = append(schemaIDs, v.EntityID)
		}
	}
	want := []string{"flu", "x", "R1", "R2", "R3", ""}
	if diff := cmp.Diff(want, schemaIDs); diff != "" {
		t.Fatalf("schema violations (-want +got):\n%s", diff)
	}
}

func TestConfidenceBounds(t *testing.T) {
	for _, tc := range []struct {
		c     float64
		valid bool
	}{{0, false}, {-0.1, false}, {0.000001, true}, {1, true}, {1.000001, false}} {
		if got := validConfidence(tc.c); got != tc.valid {
			t.Fatalf("validConfidence(%v) = %v, want %v", tc.c, got, tc.valid)
		}
	}
}

type staticCheck struct {
	name string
	res  Result
	err  error
}

func (c staticCheck) Name() string { return c.name }

func (c staticCheck) Evaluate(context.Context, *KnowledgeStore) (Result, error) { return c.res, c.err }

func TestRulesEngineAccumulatesAndPropagates(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticCheck{name: "a", res: Result{Violations: []Violation{{Code: "a", Severity: SeverityWarn}}}})
	engine.Register(staticCheck{name: "b", res: Result{Violations: []Violation{{Code: "b", Severity: SeverityError}}}})
	store := buildStore(t, baseKB())
	res, err := engine.Evaluate(context.Background(), store)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || !res.HasErrors() {
		t.Fatalf("expected both violations, got %+v", res.Violations)
	}

	boom := errors.New("boom")
	engine.Register(staticCheck{name: "c", err: boom})
	if _, err := engine.Evaluate(context.Background(), store); !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Evaluate(ctx, store); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
