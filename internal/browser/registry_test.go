package browser

import (
	"errors"
	"fmt"
	"testing"
)

func buttonLocator(text string) Locator {
	return Locator{
		Tag:   "button",
		Attrs: map[string]string{"type": "submit"},
		Text:  text,
		Path:  "html>body>form",
	}
}

func TestObserveIssuesMonotonicRefs(t *testing.T) {
	r := NewRefRegistry()
	r.BeginSnapshot()

	var ids []int
	for i := 0; i < 5; i++ {
		loc := buttonLocator(fmt.Sprintf("Button %d", i))
		ids = append(ids, r.Observe(loc))
	}
	r.EndSnapshot()

	for i, id := range ids {
		if id != i+1 {
			t.Errorf("expected ref %d at position %d, got %d", i+1, i, id)
		}
	}
	if r.Count() != 5 {
		t.Errorf("expected 5 refs, got %d", r.Count())
	}
}

func TestBeginSnapshotAdvancesEpochOnce(t *testing.T) {
	r := NewRefRegistry()
	if r.Epoch() != 0 {
		t.Fatalf("fresh registry epoch = %d, want 0", r.Epoch())
	}
	e1 := r.BeginSnapshot()
	r.Observe(buttonLocator("A"))
	r.Observe(buttonLocator("B"))
	r.EndSnapshot()
	if e1 != 1 || r.Epoch() != 1 {
		t.Errorf("epoch after one snapshot = %d, want 1", r.Epoch())
	}
	e2 := r.BeginSnapshot()
	r.EndSnapshot()
	if e2 != 2 {
		t.Errorf("second snapshot epoch = %d, want 2", e2)
	}
}

func TestSurvivingElementKeepsRef(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	id := r.Observe(buttonLocator("Save"))
	r.EndSnapshot()

	r.BeginSnapshot()
	again := r.Observe(buttonLocator("Save"))
	r.EndSnapshot()

	if again != id {
		t.Errorf("surviving element changed ref: %d -> %d", id, again)
	}
	if _, err := r.Resolve(id); err != nil {
		t.Errorf("surviving ref failed to resolve: %v", err)
	}
}

func TestTextBreaksTiesBetweenSiblings(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	saveID := r.Observe(buttonLocator("Save"))
	cancelID := r.Observe(buttonLocator("Cancel"))
	r.EndSnapshot()

	// Second snapshot observes the siblings in the opposite order.
	r.BeginSnapshot()
	gotCancel := r.Observe(buttonLocator("Cancel"))
	gotSave := r.Observe(buttonLocator("Save"))
	r.EndSnapshot()

	if gotSave != saveID {
		t.Errorf("Save button ref changed: %d -> %d", saveID, gotSave)
	}
	if gotCancel != cancelID {
		t.Errorf("Cancel button ref changed: %d -> %d", cancelID, gotCancel)
	}
}

func TestDisappearedElementGoesStale(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	id := r.Observe(buttonLocator("Temp"))
	r.EndSnapshot()

	// Element missing from the next snapshot.
	r.BeginSnapshot()
	r.EndSnapshot()

	_, err := r.Resolve(id)
	if !errors.Is(err, ErrRefStale) {
		t.Errorf("expected ErrRefStale, got %v", err)
	}
}

func TestStaleRefIsNeverRecycled(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	id := r.Observe(buttonLocator("Temp"))
	r.EndSnapshot()

	r.BeginSnapshot()
	r.EndSnapshot()

	// Structurally identical element reappears; it must get a new ref.
	r.BeginSnapshot()
	fresh := r.Observe(buttonLocator("Temp"))
	r.EndSnapshot()

	if fresh == id {
		t.Errorf("stale ref %d was recycled", id)
	}
	if fresh <= id {
		t.Errorf("expected new ref greater than %d, got %d", id, fresh)
	}
	if _, err := r.Resolve(id); !errors.Is(err, ErrRefStale) {
		t.Errorf("old ref should stay stale, got %v", err)
	}
}

func TestResolveUnknownRef(t *testing.T) {
	r := NewRefRegistry()
	_, err := r.Resolve(42)
	if !errors.Is(err, ErrRefNotFound) {
		t.Errorf("expected ErrRefNotFound, got %v", err)
	}
}

func TestInvalidateAllOnNavigation(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	a := r.Observe(buttonLocator("A"))
	b := r.Observe(Locator{Tag: "a", Attrs: map[string]string{"href": "/home"}, Text: "Home", Path: "html>body>nav"})
	r.EndSnapshot()

	r.InvalidateAll()

	for _, id := range []int{a, b} {
		if _, err := r.Resolve(id); !errors.Is(err, ErrRefStale) {
			t.Errorf("ref %d should be stale after navigation, got %v", id, err)
		}
	}
	if r.LiveCount() != 0 {
		t.Errorf("expected 0 live refs after navigation, got %d", r.LiveCount())
	}

	// Refs issued after navigation continue the sequence.
	r.BeginSnapshot()
	next := r.Observe(buttonLocator("A"))
	r.EndSnapshot()
	if next != b+1 {
		t.Errorf("expected next ref %d after navigation, got %d", b+1, next)
	}
}

func TestMarkStale(t *testing.T) {
	r := NewRefRegistry()
	r.BeginSnapshot()
	id := r.Observe(buttonLocator("Flaky"))
	r.EndSnapshot()

	r.MarkStale(id)
	if _, err := r.Resolve(id); !errors.Is(err, ErrRefStale) {
		t.Errorf("expected ErrRefStale after MarkStale, got %v", err)
	}
}

func TestAttributeChangeIsNewElement(t *testing.T) {
	r := NewRefRegistry()

	r.BeginSnapshot()
	id := r.Observe(Locator{Tag: "input", Attrs: map[string]string{"name": "email"}, Path: "html>body>form"})
	r.EndSnapshot()

	r.BeginSnapshot()
	renamed := r.Observe(Locator{Tag: "input", Attrs: map[string]string{"name": "username"}, Path: "html>body>form"})
	r.EndSnapshot()

	if renamed == id {
		t.Error("element with changed identifying attribute should not keep its ref")
	}
}

func TestStructuralKeyOrderIndependent(t *testing.T) {
	a := Locator{Tag: "input", Attrs: map[string]string{"name": "q", "type": "text"}, Path: "html>body"}
	b := Locator{Tag: "input", Attrs: map[string]string{"type": "text", "name": "q"}, Path: "html>body"}
	if a.structuralKey() != b.structuralKey() {
		t.Error("structural key should not depend on attribute map order")
	}
}
