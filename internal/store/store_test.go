package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), "sqlite")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestLatestArtifactEmpty(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if _, err := s.LatestArtifact(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveArtifactKeepsSingleRow(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveArtifact(ctx, &ArtifactRecord{Ref: "/pic.png", SourceURL: "https://cdn.test/1.png", Size: 10, Normalized: true}); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if err := s.SaveArtifact(ctx, &ArtifactRecord{Ref: "/pic.png", SourceURL: "https://cdn.test/2.png", Size: 20, Prompt: "fox"}); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}

	rec, err := s.LatestArtifact(ctx)
	if err != nil {
		t.Fatalf("LatestArtifact: %v", err)
	}
	if rec.SourceURL != "https://cdn.test/2.png" || rec.Size != 20 || rec.Normalized || rec.Prompt != "fox" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatalf("expected updated timestamp")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestSaveArtifactRequiresRef(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.SaveArtifact(context.Background(), &ArtifactRecord{}); err == nil {
		t.Fatalf("expected error for empty ref")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open("x", "mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	pg := &Store{driver: "postgres"}
	if got := pg.rebind("a=? AND b=?"); got != "a=$1 AND b=$2" {
		t.Fatalf("unexpected rebind %q", got)
	}
	lite := &Store{driver: "sqlite"}
	if got := lite.rebind("a=?"); got != "a=?" {
		t.Fatalf("unexpected sqlite rebind %q", got)
	}
}
