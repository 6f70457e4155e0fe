package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/keyloom/keyloom/pkg/models"
)

func TestValidKeyPath(t *testing.T) {
	valid := []string{"app", "app.title", "checkout.button.submit", "a_b.c-d.e2"}
	for _, p := range valid {
		if !ValidKeyPath(p) {
			t.Errorf("ValidKeyPath(%q) = false, want true", p)
		}
	}
	invalid := []string{"", ".", "app.", ".app", "app..title", "App.Title", "app title", "app/title"}
	for _, p := range invalid {
		if ValidKeyPath(p) {
			t.Errorf("ValidKeyPath(%q) = true, want false", p)
		}
	}
}

func TestNormalizeLanguageCode(t *testing.T) {
	got, err := NormalizeLanguageCode("en-us")
	if err != nil {
		t.Fatalf("NormalizeLanguageCode: %v", err)
	}
	if got != "en-US" {
		t.Errorf("canonical form = %q, want en-US", got)
	}

	if _, err := NormalizeLanguageCode("not a tag!"); err == nil {
		t.Error("expected error for malformed tag")
	}
}

func TestInvalidPathError(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	if _, err := s.ListKeyChildren(ctx, "Bad Path"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("ListKeyChildren err = %v, want ErrInvalidPath", err)
	}
	if _, err := s.DeleteKeyPrefix(ctx, "Bad Path"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("DeleteKeyPrefix err = %v, want ErrInvalidPath", err)
	}
	if _, err := s.CreateKey(ctx, "Bad Path", ""); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("CreateKey err = %v, want ErrInvalidPath", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike("a_b%c"); got != `a\_b\%c` {
		t.Errorf("escapeLike = %q", got)
	}
}

// testStore opens a store against TEST_DATABASE_URL, skipping when unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := New(url)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate("../../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Start from an empty key space
	if _, err := s.db.Exec(`TRUNCATE translation_keys CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestListKeyChildren_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, path := range []string{
		"app.title",
		"checkout.button.submit",
		"checkout.button.cancel",
		"checkout.header",
	} {
		if _, err := s.CreateKey(ctx, path, ""); err != nil {
			t.Fatalf("CreateKey(%q): %v", path, err)
		}
	}

	roots, err := s.ListKeyChildren(ctx, "")
	if err != nil {
		t.Fatalf("ListKeyChildren(root): %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("roots = %d entries, want 2", len(roots))
	}
	// Alphabetical: app before checkout
	if roots[0].Segment != "app" || roots[1].Segment != "checkout" {
		t.Errorf("root order = %q, %q", roots[0].Segment, roots[1].Segment)
	}
	if !roots[0].IsFolder || !roots[1].IsFolder {
		t.Error("both roots should be folders")
	}
	if roots[1].ChildCount != 2 {
		t.Errorf("checkout child count = %d, want 2", roots[1].ChildCount)
	}

	children, err := s.ListKeyChildren(ctx, "checkout")
	if err != nil {
		t.Fatalf("ListKeyChildren(checkout): %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("checkout children = %d, want 2", len(children))
	}
	if children[0].FullPath != "checkout.button" || !children[0].IsFolder {
		t.Errorf("unexpected first child: %+v", children[0])
	}
	if children[1].FullPath != "checkout.header" || children[1].IsFolder {
		t.Errorf("unexpected second child: %+v", children[1])
	}

	leaves, err := s.ListKeyChildren(ctx, "checkout.button")
	if err != nil {
		t.Fatalf("ListKeyChildren(checkout.button): %v", err)
	}
	if len(leaves) != 2 || leaves[0].Segment != "cancel" || leaves[1].Segment != "submit" {
		t.Errorf("unexpected leaves: %+v", leaves)
	}
	for _, l := range leaves {
		if l.IsFolder || l.ChildCount != 0 {
			t.Errorf("leaf %q should not be a folder: %+v", l.Segment, l)
		}
	}
}

func TestDeleteKeyPrefix_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, path := range []string{"checkout.button.submit", "checkout.button.cancel", "checkout.header"} {
		if _, err := s.CreateKey(ctx, path, ""); err != nil {
			t.Fatalf("CreateKey: %v", err)
		}
	}

	deleted, err := s.DeleteKeyPrefix(ctx, "checkout.button")
	if err != nil {
		t.Fatalf("DeleteKeyPrefix: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	children, err := s.ListKeyChildren(ctx, "checkout")
	if err != nil {
		t.Fatalf("ListKeyChildren: %v", err)
	}
	if len(children) != 1 || children[0].Segment != "header" {
		t.Errorf("unexpected survivors: %+v", children)
	}

	if _, err := s.DeleteKeyPrefix(ctx, "checkout.button"); err != ErrNotFound {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteKeyPrefix_UnderscoreIsLiteral_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// nav_bar and navxbar collide under an unescaped LIKE: _ matches any
	// character, so 'nav_bar.%' would also match 'navxbar.b'.
	for _, path := range []string{"nav_bar.a", "navxbar.b"} {
		if _, err := s.CreateKey(ctx, path, ""); err != nil {
			t.Fatalf("CreateKey(%q): %v", path, err)
		}
	}

	deleted, err := s.DeleteKeyPrefix(ctx, "nav_bar")
	if err != nil {
		t.Fatalf("DeleteKeyPrefix: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	survivors, err := s.ListKeyChildren(ctx, "navxbar")
	if err != nil {
		t.Fatalf("ListKeyChildren: %v", err)
	}
	if len(survivors) != 1 || survivors[0].Segment != "b" {
		t.Errorf("navxbar subtree should be untouched, got %+v", survivors)
	}
}

func TestVariants_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.CreateKey(ctx, "app.title", ""); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if _, err := s.CreateLanguage(ctx, "en", "English"); err != nil {
		t.Logf("CreateLanguage: %v (may already exist)", err)
	}

	v, err := s.UpsertVariant(ctx, "app.title", models.Variant{
		Language: "en", Value: "My App",
	})
	if err != nil {
		t.Fatalf("UpsertVariant: %v", err)
	}
	if v.Status != models.StatusDraft {
		t.Errorf("status = %q, want draft", v.Status)
	}

	// Upsert replaces, not duplicates
	if _, err := s.UpsertVariant(ctx, "app.title", models.Variant{
		Language: "en", Value: "Our App", Status: models.StatusPublished,
	}); err != nil {
		t.Fatalf("second UpsertVariant: %v", err)
	}

	variants, err := s.ListVariants(ctx, "app.title")
	if err != nil {
		t.Fatalf("ListVariants: %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("variants = %d, want 1", len(variants))
	}
	if variants[0].Value != "Our App" || variants[0].Status != models.StatusPublished {
		t.Errorf("unexpected variant: %+v", variants[0])
	}

	if _, err := s.ListVariants(ctx, "no.such.key"); err != ErrNotFound {
		t.Errorf("ListVariants unknown key err = %v, want ErrNotFound", err)
	}
}
