package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"library-circulation/library"
)

func TestParseManifestAppliesDefaults(t *testing.T) {
	m, err := parseManifest(strings.NewReader(`
defaults:
  category: Fiction
  copies: 2
books:
  - {title: Dune, author: Frank Herbert, isbn: 978-0-441-17271-9}
  - {title: Cosmos, author: Carl Sagan, isbn: 9780345539434, category: Science, copies: 1}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dune := m.newBook(m.Books[0])
	if dune.Category != "Fiction" || dune.TotalCopies != 2 {
		t.Fatalf("dune = %+v", dune)
	}
	cosmos := m.newBook(m.Books[1])
	if cosmos.Category != "Science" || cosmos.TotalCopies != 1 {
		t.Fatalf("cosmos = %+v", cosmos)
	}
}

func TestParseManifestRejectsUnknownKeys(t *testing.T) {
	_, err := parseManifest(strings.NewReader("books:\n  - {title: Dune, autor: Frank Herbert}\n"))
	if err == nil {
		t.Fatal("expected an error for the misspelt key")
	}
	if _, err := parseManifest(strings.NewReader("defaults: {copies: 1}\n")); err == nil {
		t.Fatal("expected an error for an empty manifest")
	}
}

func TestImportSkipsKnownISBNs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	mgr, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"),
		library.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer mgr.Close()
	if _, err := mgr.EnsureAdmin(ctx, "admin@example.com", "admin-pass"); err != nil {
		t.Fatalf("admin: %v", err)
	}
	caller, err := mgr.Authenticate(ctx, "admin", "admin-pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	f, err := os.Open("catalog.yaml")
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer f.Close()
	m, err := parseManifest(f)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var out bytes.Buffer
	s, err := importBooks(ctx, &out, mgr, caller, m)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if s.Imported != len(m.Books) || s.Skipped != 0 || s.Failed != 0 {
		t.Fatalf("first import = %+v\n%s", s, out.String())
	}

	s, err = importBooks(ctx, &out, mgr, caller, m)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if s.Imported != 0 || s.Skipped != len(m.Books) {
		t.Fatalf("second import = %+v", s)
	}

	b, err := mgr.GetBook(ctx, "B20240001")
	if err != nil {
		t.Fatalf("first book: %v", err)
	}
	if b.Title != "1984" || b.TotalCopies != 2 || b.ShelfLocation != "A-01" {
		t.Fatalf("first book = %+v", b)
	}
}
