package core

// CombineFunc resolves a key collision during a merge: last is the held
// value, next the incoming one. The default keeps next.
type CombineFunc func(key string, last, next any) any

// Merged folds the atom history into a single deep-merged record. Kinds
// override per-key combination (concatenate text, max a timestamp, join
// lists) through the combine function.
type Merged struct {
	defaults map[string]any
	combine  CombineFunc
	record   map[string]any
}

// NewMerged constructs a merged strategy. defaults seeds the record before
// any atom is folded; combine may be nil.
func NewMerged(defaults map[string]any, combine CombineFunc) *Merged {
	if combine == nil {
		combine = func(key string, last, next any) any { return next }
	}
	return &Merged{defaults: defaults, combine: combine, record: mergeSeed(defaults)}
}

// Name implements Strategy.
func (m *Merged) Name() string { return "Merged" }

// State returns the current record.
func (m *Merged) State() any { return m.record }

// Empty reports whether any atom has been folded in.
func (m *Merged) Empty() bool { return m.record["atom_id"] == nil }

// Get returns a record value by key.
func (m *Merged) Get(key string) any { return m.record[key] }

// GetString returns a record value coerced to string.
func (m *Merged) GetString(key string) string {
	s, _ := m.record[key].(string)
	return s
}

// Add folds one STORE atom: incrementally when it arrived in order, by full
// rebuild otherwise. The rebuild is the correctness fallback for out-of-order
// delivery.
func (m *Merged) Add(data AtomData, history []AtomData) error {
	if data.Append {
		m.record = mergeDeepWith(m.combine, m.record, entryRecord(data))
		return nil
	}
	return m.rebuild(history)
}

// Delete removes one atom's contribution by refolding the remaining history.
func (m *Merged) Delete(data AtomData, history []AtomData) error {
	return m.rebuild(history)
}

func (m *Merged) rebuild(history []AtomData) error {
	record := mergeSeed(m.defaults)
	for _, data := range history {
		record = mergeDeepWith(m.combine, record, entryRecord(data))
	}
	m.record = record
	return nil
}

// entryRecord is the map a history entry contributes to the fold: its payload
// plus the atom bookkeeping fields, mirroring what gets written per atom.
func entryRecord(data AtomData) map[string]any {
	entry := make(map[string]any, len(data.Payload)+2)
	for k, v := range data.Payload {
		entry[k] = v
	}
	entry["atom_id"] = data.AtomID
	entry["timestamp"] = data.Timestamp
	return entry
}

func mergeSeed(defaults map[string]any) map[string]any {
	seed := make(map[string]any, len(defaults))
	for k, v := range defaults {
		seed[k] = v
	}
	return seed
}

// mergeDeepWith merges next into last, recursing into nested maps and
// resolving leaf collisions through combine. last is mutated and returned.
func mergeDeepWith(combine CombineFunc, last, next map[string]any) map[string]any {
	for key, nextVal := range next {
		lastVal, held := last[key]
		if !held || lastVal == nil {
			last[key] = nextVal
			continue
		}
		lastMap, lastIsMap := lastVal.(map[string]any)
		nextMap, nextIsMap := nextVal.(map[string]any)
		if lastIsMap && nextIsMap {
			last[key] = mergeDeepWith(combine, lastMap, nextMap)
			continue
		}
		last[key] = combine(key, lastVal, nextVal)
	}
	return last
}
