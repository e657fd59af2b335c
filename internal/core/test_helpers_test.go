package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"medkb/internal/infra/persistence/memory"
)

// sampleCorpus is a small valid knowledge base. With {fever, cough} R1 fires
// at 0.6, R2 at 0.8 and R4 at 0.3.
const sampleCorpus = `{
  "metadata": {"version": "1.0", "last_updated": "2024-01-01T00:00:00Z"},
  "facts": {
    "symptoms": ["fever", "cough", "fatigue", "sore throat", "runny nose", "headache"]
  },
  "diseases": [
    {"id": "flu", "name": "Influenza", "description": "Viral infection", "symptoms": ["fever", "cough", "fatigue"], "diagnostics": ["PCR"], "treatment": ["rest"], "references": ""},
    {"id": "cold", "name": "Common Cold", "description": "", "symptoms": ["runny nose", "sore throat", "cough"], "diagnostics": [], "treatment": [], "references": ""},
    {"id": "strep", "name": "Strep Throat", "description": "", "symptoms": ["sore throat", "fever"], "diagnostics": [], "treatment": [], "references": ""},
    {"id": "migraine", "name": "Migraine", "description": "", "symptoms": ["headache"], "diagnostics": [], "treatment": [], "references": ""}
  ],
  "rules": [
    {"id": "R1", "if_symptoms": ["fever", "cough", "fatigue"], "then_disease_id": "flu", "confidence": 0.9},
    {"id": "R2", "if_symptoms": ["fever", "cough"], "then_disease_id": "flu", "confidence": 0.8},
    {"id": "R3", "if_symptoms": ["runny nose", "sore throat"], "then_disease_id": "cold", "confidence": 0.7},
    {"id": "R4", "if_symptoms": ["sore throat", "fever"], "then_disease_id": "strep", "confidence": 0.6}
  ]
}`

// danglingCorpus has a rule concluding a disease that does not exist.
const danglingCorpus = `{
  "metadata": {"version": "1.0", "last_updated": ""},
  "facts": {"symptoms": ["fever", "cough"]},
  "diseases": [
    {"id": "flu", "name": "Influenza", "symptoms": ["fever"], "description": "", "diagnostics": [], "treatment": [], "references": ""}
  ],
  "rules": [
    {"id": "R1", "if_symptoms": ["fever"], "then_disease_id": "flu", "confidence": 0.5},
    {"id": "R2", "if_symptoms": ["cough"], "then_disease_id": "ghost", "confidence": 0.5}
  ]
}`

// legacyCorpus carries no facts section.
const legacyCorpus = `{
  "metadata": {"version": "0.9", "last_updated": ""},
  "diseases": [
    {"id": "flu", "name": "Influenza", "symptoms": ["Fever", "cough"], "description": "", "diagnostics": [], "treatment": [], "references": ""}
  ],
  "rules": [
    {"id": "R1", "if_symptoms": ["fever", "Body Ache"], "then_disease_id": "flu", "confidence": 0.7}
  ]
}`

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func mustLoadStore(t *testing.T, payload string, opts ...StoreOption) *KnowledgeStore {
	t.Helper()
	store, err := Load(context.Background(), []byte(payload), opts...)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	return store
}

func newTestManager(t *testing.T, payload string, opts ...MutationOption) (*MutationManager, *memory.Store) {
	t.Helper()
	corpus := memory.NewStore([]byte(payload))
	opts = append([]MutationOption{WithManagerClock(fixedClock)}, opts...)
	m := NewMutationManager(corpus, opts...)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("load manager: %v", err)
	}
	return m, corpus
}

func newTestService(t *testing.T, payload string, opts ...ServiceOption) (*Service, *memory.Store) {
	t.Helper()
	corpus := memory.NewStore([]byte(payload))
	opts = append([]ServiceOption{WithClock(fixedClock)}, opts...)
	svc := NewService(corpus, opts...)
	if _, err := svc.Load(context.Background()); err != nil {
		t.Fatalf("load service: %v", err)
	}
	return svc, corpus
}

func suggestionIDs(in []Suggestion) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.Disease.ID)
	}
	return out
}

func violationCodes(vs []Violation) []IssueCode {
	out := make([]IssueCode, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

// failingCorpus wraps the memory store and fails every Save.
type failingCorpus struct {
	*memory.Store
}

var errDiskFull = errors.New("disk full")

func (failingCorpus) Save(context.Context, []byte) error { return errDiskFull }
