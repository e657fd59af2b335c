package memory

import (
	"context"
	"errors"
	"testing"

	"medkb/pkg/domain"
)

func TestStoreCopiesPayload(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	if _, err := s.Load(ctx); !errors.Is(err, domain.ErrCorpusNotFound) {
		t.Fatalf("expected ErrCorpusNotFound, got %v", err)
	}
	buf := []byte("abc")
	if err := s.Save(ctx, buf); err != nil {
		t.Fatalf("save: %v", err)
	}
	buf[0] = 'z'
	got, _ := s.Load(ctx)
	if string(got) != "abc" {
		t.Fatalf("store aliased caller buffer: %s", got)
	}
	got[1] = 'z'
	again, _ := s.Load(ctx)
	if string(again) != "abc" || s.Saves() != 1 {
		t.Fatalf("load leaked internal buffer: %s", again)
	}
}
