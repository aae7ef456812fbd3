package nation

import (
	"strings"
	"sync"
)

// DirectoryEntry maps a claimed search term to an entity address.
type DirectoryEntry struct {
	Kind    string `json:"kind"`
	Term    string `json:"term"`
	Address string `json:"address"`
}

// Directory is the nation's search table: register alerts land here so
// clients can resolve aliases and domain identifiers without walking the
// ledger. Terms are matched case-insensitively.
type Directory struct {
	mu      sync.RWMutex
	entries []DirectoryEntry
	byAddr  map[string]int
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{byAddr: make(map[string]int)}
}

// Add registers a search term. One entry per address; re-registration
// updates the term in place.
func (d *Directory) Add(kind, term, address string) {
	if term == "" || address == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := DirectoryEntry{Kind: kind, Term: strings.ToLower(term), Address: address}
	if i, ok := d.byAddr[address]; ok {
		d.entries[i] = entry
		return
	}
	d.byAddr[address] = len(d.entries)
	d.entries = append(d.entries, entry)
}

// Search returns the addresses whose term contains the query, restricted to
// the given kinds. Empty kinds means users only.
func (d *Directory) Search(query string, among ...string) []string {
	return d.match(strings.ToLower(query), among, strings.Contains)
}

// Find returns the addresses whose term equals the query exactly, restricted
// to the given kinds. Empty kinds means users only.
func (d *Directory) Find(term string, among ...string) []string {
	return d.match(strings.ToLower(term), among, func(a, b string) bool { return a == b })
}

func (d *Directory) match(query string, among []string, hit func(term, query string) bool) []string {
	if len(among) == 0 {
		among = []string{"user"}
	}
	kinds := make(map[string]bool, len(among))
	for _, kind := range among {
		kinds[strings.ToLower(kind)] = true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, entry := range d.entries {
		if kinds[entry.Kind] && hit(entry.Term, query) {
			out = append(out, entry.Address)
		}
	}
	return out
}

// Entries returns a copy of the directory, for backups.
func (d *Directory) Entries() []DirectoryEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DirectoryEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Restore replaces the directory contents from a backup.
func (d *Directory) Restore(entries []DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make([]DirectoryEntry, 0, len(entries))
	d.byAddr = make(map[string]int, len(entries))
	for _, entry := range entries {
		entry.Term = strings.ToLower(entry.Term)
		d.byAddr[entry.Address] = len(d.entries)
		d.entries = append(d.entries, entry)
	}
}
