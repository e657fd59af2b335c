package blobcorpus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"medkb/internal/blob"
	"medkb/pkg/domain"
)

func TestStoreWritesRevisions(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	s := NewStore(blobs, "")
	if _, err := s.Load(ctx); !errors.Is(err, domain.ErrCorpusNotFound) {
		t.Fatalf("expected ErrCorpusNotFound, got %v", err)
	}
	for _, p := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		if err := s.Save(ctx, []byte(p)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := s.Load(ctx)
	if err != nil || string(got) != `{"v":3}` {
		t.Fatalf("load: %s %v", got, err)
	}
	revs, _ := s.Revisions(ctx)
	if len(revs) != 3 || revs[2].Key != "corpus/00000000000000000003.json" {
		t.Fatalf("unexpected revisions %+v", revs)
	}
	if s.Driver() != "blob/memory" {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
}

func TestStoreRetainPrunesOldRevisions(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	// Foreign keys under the prefix are ignored.
	if _, err := blobs.Put(ctx, "kb/readme.txt", bytes.NewReader([]byte("x")), blob.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := NewStore(blobs, "kb/", WithRetain(2))
	for i := 0; i < 4; i++ {
		if err := s.Save(ctx, []byte{'0' + byte(i)}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	revs, _ := s.Revisions(ctx)
	if len(revs) != 2 || revs[0].Key != "kb/00000000000000000003.json" {
		t.Fatalf("expected two newest revisions, got %+v", revs)
	}
	all, _ := blobs.List(ctx, "kb/")
	if len(all) != 3 {
		t.Fatalf("expected foreign key to survive pruning, got %+v", all)
	}
	got, _ := s.Load(ctx)
	if string(got) != "3" {
		t.Fatalf("unexpected latest %s", got)
	}
}
