package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"medkb/pkg/domain"
)

func TestLoadBuildsIndexes(t *testing.T) {
	store := mustLoadStore(t, sampleCorpus, WithSource("sample.json"))
	if !store.Valid() {
		t.Fatalf("sample corpus should be valid: %+v", store.Report().Errors)
	}
	if !store.HasRegistry() || !store.HasSymptom("  Sore   Throat. ") {
		t.Fatalf("expected registry lookups to normalize input")
	}
	got := make([]string, 0)
	for _, d := range store.DiseasesBySymptom("FEVER") {
		got = append(got, d.ID)
	}
	if diff := cmp.Diff([]string{"flu", "strep"}, got); diff != "" {
		t.Fatalf("diseases by symptom (-want +got):\n%s", diff)
	}
	rules := store.RulesForDisease("flu")
	if len(rules) != 2 || rules[0].ID != "R1" || rules[1].ID != "R2" {
		t.Fatalf("unexpected rules for flu: %+v", rules)
	}
	if len(store.RulesForDisease("migraine")) != 0 {
		t.Fatalf("migraine has no rules")
	}
	if _, err := store.Disease("ghost"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Rule("R9"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func isNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf) && errors.Is(err, domain.ErrNotFound)
}

func TestStoreAccessorsReturnCopies(t *testing.T) {
	store := mustLoadStore(t, sampleCorpus)
	d, err := store.Disease("flu")
	if err != nil {
		t.Fatalf("disease: %v", err)
	}
	d.Symptoms[0] = "mutated"
	again, _ := store.Disease("flu")
	if again.Symptoms[0] != "fever" {
		t.Fatalf("store leaked internal slice")
	}
	syms := store.Symptoms()
	syms[0] = "mutated"
	if store.Symptoms()[0] != "fever" {
		t.Fatalf("store leaked registry slice")
	}
}

func TestSearchDiseasesByName(t *testing.T) {
	store := mustLoadStore(t, sampleCorpus)
	names := func(ds []Disease) []string {
		out := []string{}
		for _, d := range ds {
			out = append(out, d.Name)
		}
		return out
	}
	if diff := cmp.Diff([]string{"Strep Throat"}, names(store.SearchDiseasesByName("THROAT"))); diff != "" {
		t.Fatalf("search mismatch (-want +got):\n%s", diff)
	}
	all := names(store.SearchDiseasesByName(""))
	if diff := cmp.Diff([]string{"Common Cold", "Influenza", "Migraine", "Strep Throat"}, all); diff != "" {
		t.Fatalf("empty query should list all by name (-want +got):\n%s", diff)
	}
	if res := store.SearchDiseasesByName("zzz"); res == nil || len(res) != 0 {
		t.Fatalf("no match should be an empty, non-nil list")
	}
}

func TestSummaryReportsStatus(t *testing.T) {
	ticks := []time.Time{fixedNow, fixedNow.Add(5 * time.Millisecond)}
	i := 0
	clock := func() time.Time {
		now := ticks[len(ticks)-1]
		if i < len(ticks) {
			now = ticks[i]
		}
		i++
		return now
	}
	store := mustLoadStore(t, sampleCorpus, WithStoreClock(clock), WithSource("sample.json"))
	got := store.Summary()
	want := StoreSummary{
		Source:       "sample.json",
		Version:      "1.0",
		LastUpdated:  "2024-01-01T00:00:00Z",
		LoadedAt:     fixedNow,
		LoadDuration: 5 * time.Millisecond,
		Status:       domain.StatusValid,
		Diseases:     4,
		Rules:        4,
		Symptoms:     6,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if s := mustLoadStore(t, danglingCorpus).Summary(); s.Status != domain.StatusInvalid || s.Errors != 1 {
		t.Fatalf("expected invalid summary, got %+v", s)
	}
}

func TestMissingFactsDerivesRegistry(t *testing.T) {
	store := mustLoadStore(t, legacyCorpus)
	if store.HasRegistry() {
		t.Fatalf("legacy corpus has no registry")
	}
	if diff := cmp.Diff([]string{"fever", "cough", "body ache"}, store.Symptoms()); diff != "" {
		t.Fatalf("derived registry mismatch (-want +got):\n%s", diff)
	}
	report := store.Report()
	if !report.Valid() || len(report.Warnings) != 1 || report.Warnings[0].EntityID != "facts" {
		t.Fatalf("expected a single facts warning, got %+v", report)
	}
	if report.Status() != domain.StatusWarnings {
		t.Fatalf("expected warnings status, got %s", report.Status())
	}
}

func TestValidateUsesStoreEngine(t *testing.T) {
	engine := NewRulesEngine()
	store := mustLoadStore(t, danglingCorpus, WithStoreRulesEngine(engine))
	if !store.Valid() {
		t.Fatalf("empty engine should find nothing")
	}
	report, err := Validate(context.Background(), store)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !report.Valid() {
		t.Fatalf("validate should reuse the store engine, got %+v", report.Errors)
	}
	report, err = Validate(context.Background(), store, WithStoreRulesEngine(NewDefaultRulesEngine()))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report.Count(domain.CodeDanglingDiseaseReference) != 1 {
		t.Fatalf("expected dangling disease with the default engine, got %+v", report.Errors)
	}
}
