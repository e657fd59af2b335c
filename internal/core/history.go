package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one inference request and its ranked outcome.
type HistoryEntry struct {
	ID        string             `json:"id"`
	At        time.Time          `json:"at"`
	Symptoms  []string           `json:"symptoms"`
	Results   []HistoryCandidate `json:"results"`
	Error     string             `json:"error,omitempty"`
	KBVersion string             `json:"kb_version,omitempty"`
}

// HistoryCandidate is the persisted shape of a suggestion.
type HistoryCandidate struct {
	DiseaseID  string  `json:"disease_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// HistoryRecorder receives inference inputs and outputs. The service only ever
// writes to it.
type HistoryRecorder interface {
	Record(ctx context.Context, entry HistoryEntry) error
}

// NewHistoryEntry builds an entry with a fresh id.
func NewHistoryEntry(at time.Time, symptoms []string, suggestions []Suggestion, version string, inferErr error) HistoryEntry {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		At:        at,
		Symptoms:  append([]string{}, symptoms...),
		Results:   make([]HistoryCandidate, 0, len(suggestions)),
		KBVersion: version,
	}
	for _, s := range suggestions {
		entry.Results = append(entry.Results, HistoryCandidate{DiseaseID: s.Disease.ID, Name: s.Disease.Name, Confidence: s.Confidence})
	}
	if inferErr != nil {
		entry.Error = inferErr.Error()
	}
	return entry
}

// JSONLHistory appends entries as JSON lines to a file.
type JSONLHistory struct {
	mu   sync.Mutex
	path string
}

// NewJSONLHistory returns a history writer for path, creating parent directories.
func NewJSONLHistory(path string) (*JSONLHistory, error) {
	if path == "" {
		return nil, fmt.Errorf("history path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &JSONLHistory{path: path}, nil
}

// Path returns the history file path.
func (h *JSONLHistory) Path() string { return h.path }

// Record appends entry to the file.
func (h *JSONLHistory) Record(_ context.Context, entry HistoryEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}
