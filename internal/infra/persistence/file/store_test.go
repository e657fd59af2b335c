package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"medkb/pkg/domain"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kb.json")
	s := NewStore(path)
	if _, err := s.Load(ctx); !errors.Is(err, domain.ErrCorpusNotFound) {
		t.Fatalf("expected ErrCorpusNotFound, got %v", err)
	}
	if err := s.Save(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("unexpected payload %s", got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestStoreDefaults(t *testing.T) {
	s := NewStore("")
	if s.Path() != DefaultPath || s.Driver() != "file" || s.Close() != nil {
		t.Fatalf("unexpected defaults %+v", s)
	}
}
