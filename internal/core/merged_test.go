package core

import (
	"reflect"
	"testing"
	"time"
)

func TestMergedFoldsAtomsIntoOneRecord(t *testing.T) {
	m := NewMerged(map[string]any{"text": "", "kind": "note"}, nil)
	base := time.Now()

	history := []AtomData{
		atom("a1", base, map[string]any{"text": "hello"}),
		atom("a2", base.Add(time.Second), map[string]any{"author": "alice"}),
	}
	for _, data := range history {
		if err := m.Add(data, history); err != nil {
			t.Fatalf("adding atom %s: %v", data.AtomID, err)
		}
	}

	if m.GetString("text") != "hello" {
		t.Fatalf("text = %q, want hello", m.GetString("text"))
	}
	if m.GetString("author") != "alice" {
		t.Fatalf("author = %q, want alice", m.GetString("author"))
	}
	if m.GetString("kind") != "note" {
		t.Fatalf("default kind = %q, want note", m.GetString("kind"))
	}
	if m.GetString("atom_id") != "a2" {
		t.Fatalf("atom_id = %q, want newest atom a2", m.GetString("atom_id"))
	}
	if m.Empty() {
		t.Fatal("merged strategy with history reports empty")
	}
}

func TestMergedRebuildMatchesIncrementalFold(t *testing.T) {
	base := time.Now()
	history := []AtomData{
		atom("a1", base, map[string]any{"text": "one", "n": 1.0}),
		atom("a2", base.Add(time.Second), map[string]any{"text": "two"}),
		atom("a3", base.Add(2*time.Second), map[string]any{"n": 3.0}),
	}

	incremental := NewMerged(nil, nil)
	for _, data := range history {
		if err := incremental.Add(data, history); err != nil {
			t.Fatalf("incremental add: %v", err)
		}
	}

	// Deliver the last atom out of order to force the rebuild path.
	rebuilt := NewMerged(nil, nil)
	for i, data := range history {
		if i == len(history)-1 {
			data.Append = false
		}
		if err := rebuilt.Add(data, history); err != nil {
			t.Fatalf("rebuild add: %v", err)
		}
	}

	if !reflect.DeepEqual(incremental.State(), rebuilt.State()) {
		t.Fatalf("rebuild state %v differs from incremental %v", rebuilt.State(), incremental.State())
	}
}

func TestMergedCombineResolvesCollisions(t *testing.T) {
	concatText := func(key string, last, next any) any {
		if key != "text" {
			return next
		}
		a, _ := last.(string)
		b, _ := next.(string)
		return a + b
	}
	m := NewMerged(nil, concatText)
	base := time.Now()
	history := []AtomData{
		atom("a1", base, map[string]any{"text": "foo", "other": "x"}),
		atom("a2", base.Add(time.Second), map[string]any{"text": "bar", "other": "y"}),
	}
	for _, data := range history {
		if err := m.Add(data, history); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if m.GetString("text") != "foobar" {
		t.Fatalf("combined text = %q, want foobar", m.GetString("text"))
	}
	if m.GetString("other") != "y" {
		t.Fatalf("other = %q, want last-write y", m.GetString("other"))
	}
}

func TestMergedDeepMergesNestedMaps(t *testing.T) {
	m := NewMerged(nil, nil)
	base := time.Now()
	history := []AtomData{
		atom("a1", base, map[string]any{"pricing": map[string]any{"post": 1.0, "link": 2.0}}),
		atom("a2", base.Add(time.Second), map[string]any{"pricing": map[string]any{"post": 5.0}}),
	}
	for _, data := range history {
		if err := m.Add(data, history); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	pricing, _ := m.Get("pricing").(map[string]any)
	if pricing == nil {
		t.Fatal("pricing map missing after merge")
	}
	if pricing["post"] != 5.0 {
		t.Fatalf("pricing.post = %v, want overwritten 5", pricing["post"])
	}
	if pricing["link"] != 2.0 {
		t.Fatalf("pricing.link = %v, want preserved 2", pricing["link"])
	}
}

func TestMergedDeleteRefoldsRemainingHistory(t *testing.T) {
	m := NewMerged(nil, nil)
	base := time.Now()
	a1 := atom("a1", base, map[string]any{"text": "keep"})
	a2 := atom("a2", base.Add(time.Second), map[string]any{"text": "drop"})
	history := []AtomData{a1, a2}
	for _, data := range history {
		if err := m.Add(data, history); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := m.Delete(a2, []AtomData{a1}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.GetString("text") != "keep" {
		t.Fatalf("text after delete = %q, want keep", m.GetString("text"))
	}
	if m.GetString("atom_id") != "a1" {
		t.Fatalf("atom_id after delete = %q, want a1", m.GetString("atom_id"))
	}
}

func TestMergedEmptyBeforeAnyAtom(t *testing.T) {
	m := NewMerged(map[string]any{"text": "seeded"}, nil)
	if !m.Empty() {
		t.Fatal("merged strategy with only defaults should report empty")
	}
}
