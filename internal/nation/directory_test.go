package nation

import (
	"reflect"
	"testing"
)

func TestDirectoryAddNormalizesAndUpdatesInPlace(t *testing.T) {
	d := NewDirectory()
	d.Add("user", "Ada", "POD-A")
	if got := d.Find("ada"); !reflect.DeepEqual(got, []string{"POD-A"}) {
		t.Fatalf("find ada = %v", got)
	}

	// Re-registering the same address replaces its term.
	d.Add("user", "Countess", "POD-A")
	if got := d.Find("ada"); got != nil {
		t.Fatalf("stale term still resolves: %v", got)
	}
	if got := d.Find("countess"); !reflect.DeepEqual(got, []string{"POD-A"}) {
		t.Fatalf("find countess = %v", got)
	}
	if got := len(d.Entries()); got != 1 {
		t.Fatalf("directory holds %d entries, want 1", got)
	}

	// Blank terms and addresses are dropped, not stored.
	d.Add("user", "", "POD-B")
	d.Add("user", "orphan", "")
	if got := len(d.Entries()); got != 1 {
		t.Fatalf("directory holds %d entries after blank adds, want 1", got)
	}
}

func TestDirectorySearchAndFind(t *testing.T) {
	d := NewDirectory()
	d.Add("user", "ada", "POD-A")
	d.Add("user", "adam", "POD-B")
	d.Add("domain", "forum", "POD-F")

	if got := d.Search("AD"); !reflect.DeepEqual(got, []string{"POD-A", "POD-B"}) {
		t.Fatalf("search AD = %v", got)
	}
	if got := d.Find("ad"); got != nil {
		t.Fatalf("find is not exact: %v", got)
	}
	if got := d.Find("Adam"); !reflect.DeepEqual(got, []string{"POD-B"}) {
		t.Fatalf("find Adam = %v", got)
	}

	// The default scope is users, so domains need an explicit kind.
	if got := d.Search("forum"); got != nil {
		t.Fatalf("domain matched a user search: %v", got)
	}
	if got := d.Search("forum", "domain"); !reflect.DeepEqual(got, []string{"POD-F"}) {
		t.Fatalf("search forum among domains = %v", got)
	}
	if got := d.Search("m", "user", "domain"); !reflect.DeepEqual(got, []string{"POD-B", "POD-F"}) {
		t.Fatalf("mixed-kind search = %v", got)
	}
}

func TestDirectoryEntriesReturnsCopy(t *testing.T) {
	d := NewDirectory()
	d.Add("user", "ada", "POD-A")
	entries := d.Entries()
	entries[0].Term = "mangled"
	if got := d.Find("ada"); !reflect.DeepEqual(got, []string{"POD-A"}) {
		t.Fatalf("mutating the snapshot changed the directory: %v", got)
	}
}

func TestDirectoryRestoreReplacesContents(t *testing.T) {
	d := NewDirectory()
	d.Add("user", "stale", "POD-OLD")

	d.Restore([]DirectoryEntry{
		{Kind: "user", Term: "Ada", Address: "POD-A"},
		{Kind: "domain", Term: "forum", Address: "POD-F"},
	})
	if got := d.Find("stale"); got != nil {
		t.Fatalf("restore kept the old entry: %v", got)
	}
	if got := d.Find("ada"); !reflect.DeepEqual(got, []string{"POD-A"}) {
		t.Fatalf("restored term not lowercased: %v", got)
	}

	// The address map is rebuilt, so later re-registration still updates.
	d.Add("domain", "agora", "POD-F")
	if got := len(d.Entries()); got != 2 {
		t.Fatalf("directory holds %d entries, want 2", got)
	}
	if got := d.Find("agora", "domain"); !reflect.DeepEqual(got, []string{"POD-F"}) {
		t.Fatalf("find agora = %v", got)
	}
}
