package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"medkb/pkg/domain"
)

// brokenRuleCorpus carries a rule whose confidence is not a number and a
// disease without its descriptive keys.
const brokenRuleCorpus = `{
  "metadata": {"version": "1.0", "last_updated": "2024-01-01T00:00:00Z"},
  "facts": {"symptoms": ["fever", "cough", "runny nose"]},
  "diseases": [
    {"id": "flu", "name": "Influenza", "description": "", "symptoms": ["fever", "cough"], "diagnostics": [], "treatment": [], "references": ""},
    {"id": "cold", "name": "Common Cold", "symptoms": ["runny nose"]}
  ],
  "rules": [
    {"id": "R1", "if_symptoms": ["fever", "cough"], "then_disease_id": "flu", "confidence": 0.8},
    {"id": "R2", "if_symptoms": ["fever"], "then_disease_id": "flu", "confidence": "high"},
    {"id": "R3", "if_symptoms": ["runny nose"], "then_disease_id": "cold", "confidence": 0.6}
  ]
}`

func persistedSection(t *testing.T, payload []byte, name string) []map[string]any {
	t.Helper()
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("read persisted corpus: %v", err)
	}
	var records []map[string]any
	if err := json.Unmarshal(doc[name], &records); err != nil {
		t.Fatalf("read persisted %s: %v", name, err)
	}
	return records
}

func TestUnparsedRecordsSurviveUnrelatedMutations(t *testing.T) {
	ctx := context.Background()
	m, corpus := newTestManager(t, brokenRuleCorpus)
	snap, _ := m.Snapshot()
	if snap.Valid() || len(snap.Report().Errors) != 5 {
		t.Fatalf("expected the broken rule and four missing disease keys, got %+v", snap.Report().Errors)
	}
	if _, err := snap.Rule("R2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("R2 is not part of the model, got %v", err)
	}
	unparsed := snap.Unparsed()
	if len(unparsed) != 2 || unparsed[1].Label != "R2" || unparsed[1].After != "R1" || unparsed[1].Typed {
		t.Fatalf("unexpected unparsed records %+v", unparsed)
	}

	if _, err := m.RunInTransaction(ctx, func(tx *Transaction) error {
		_, err := tx.AddSymptom("headache")
		return err
	}); err != nil {
		t.Fatalf("unrelated mutation: %v", err)
	}
	after, _ := m.Snapshot()
	if diff := cmp.Diff(snap.Report().Errors, after.Report().Errors); diff != "" {
		t.Fatalf("errors changed (-want +got):\n%s", diff)
	}
	payload, err := corpus.Load(ctx)
	if err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	rules := persistedSection(t, payload, "rules")
	if len(rules) != 3 || rules[1]["id"] != "R2" || rules[1]["confidence"] != "high" {
		t.Fatalf("R2 must be written back unchanged, got %v", rules)
	}
	if _, ok := persistedSection(t, payload, "diseases")[1]["description"]; ok {
		t.Fatalf("untouched cold gained keys:\n%s", payload)
	}

	reloaded, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Valid() || len(reloaded.Unparsed()) != 2 {
		t.Fatalf("reload should see the same unparsed records, got %+v", reloaded.Unparsed())
	}
}

func TestEditRepairsUnparsedRecords(t *testing.T) {
	ctx := context.Background()
	m, corpus := newTestManager(t, brokenRuleCorpus)

	var repaired Rule
	if _, err := m.RunInTransaction(ctx, func(tx *Transaction) error {
		var err error
		repaired, err = tx.EditRule("R2", func(r *Rule) error {
			r.Confidence = 0.5
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("edit R2: %v", err)
	}
	want := Rule{ID: "R2", IfSymptoms: []string{"fever"}, ThenDiseaseID: "flu", Confidence: 0.5}
	if diff := cmp.Diff(want, repaired); diff != "" {
		t.Fatalf("repaired rule mismatch (-want +got):\n%s", diff)
	}
	snap, _ := m.Snapshot()
	var ids []string
	for _, r := range snap.AllRules() {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"R1", "R2", "R3"}, ids); diff != "" {
		t.Fatalf("R2 should return to its place (-want +got):\n%s", diff)
	}

	if _, err := m.RunInTransaction(ctx, func(tx *Transaction) error {
		_, err := tx.EditDisease("cold", func(d *Disease) error {
			d.Description = "Upper respiratory infection"
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("edit cold: %v", err)
	}
	snap, _ = m.Snapshot()
	if !snap.Valid() || len(snap.Unparsed()) != 0 {
		t.Fatalf("corpus should be repaired: %+v %+v", snap.Report().Errors, snap.Unparsed())
	}
	payload, _ := corpus.Load(ctx)
	if rules := persistedSection(t, payload, "rules"); rules[1]["confidence"] != 0.5 {
		t.Fatalf("repaired R2 not persisted: %v", rules)
	}
}

func TestEditOfUnparsedRuleMustFixIt(t *testing.T) {
	m, _ := newTestManager(t, brokenRuleCorpus)
	_, err := m.RunInTransaction(context.Background(), func(tx *Transaction) error {
		_, err := tx.EditRule("R2", func(r *Rule) error {
			r.ThenDiseaseID = "cold"
			return nil
		})
		return err
	})
	var rejected MutationRejectedError
	if !errors.As(err, &rejected) || len(rejected.Introduced) != 1 {
		t.Fatalf("a repair leaving confidence out of range should be rejected, got %v", err)
	}
	snap, _ := m.Snapshot()
	if len(snap.Unparsed()) != 2 {
		t.Fatalf("rejected edit must keep the unparsed record")
	}
}

func TestDeleteUnparsedRuleAndNextRuleID(t *testing.T) {
	ctx := context.Background()
	payload := strings.Replace(brokenRuleCorpus, `"id": "R2"`, `"id": "R7"`, 1)
	m, corpus := newTestManager(t, payload)

	var created Rule
	if _, err := m.RunInTransaction(ctx, func(tx *Transaction) error {
		var err error
		created, err = tx.AddRule(Rule{IfSymptoms: []string{"cough"}, ThenDiseaseID: "flu", Confidence: 0.3})
		return err
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if created.ID != "R8" {
		t.Fatalf("unparsed ids must count towards the next id, got %s", created.ID)
	}
	if _, err := m.RunInTransaction(ctx, func(tx *Transaction) error {
		return tx.DeleteRule("R7")
	}); err != nil {
		t.Fatalf("delete R7: %v", err)
	}
	persisted, _ := corpus.Load(ctx)
	for _, r := range persistedSection(t, persisted, "rules") {
		if r["id"] == "R7" {
			t.Fatalf("R7 should be gone: %s", persisted)
		}
	}
	snap, _ := m.Snapshot()
	if len(snap.Unparsed()) != 1 || snap.Unparsed()[0].Label != "cold" {
		t.Fatalf("only the typed disease should remain unparsed, got %+v", snap.Unparsed())
	}
}

func TestUndecodableSectionRefusesMutations(t *testing.T) {
	payload := `{"metadata": {"version": "1", "last_updated": ""}, "facts": {"symptoms": ["fever"]}, "diseases": {"flu": {}}, "rules": []}`
	m, corpus := newTestManager(t, payload)
	_, err := m.RunInTransaction(context.Background(), func(tx *Transaction) error {
		_, err := tx.AddSymptom("cough")
		return err
	})
	if !errors.Is(err, domain.ErrMutationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if corpus.Saves() != 0 {
		t.Fatalf("the document must not be rewritten")
	}
}
