package core

// Collated keeps every atom as an individual record keyed by a declared
// payload field, last write winning per key. It is the minimal third
// strategy: no cross-atom merging and no out-of-order recovery beyond the
// history re-sort.
type Collated struct {
	keyName  string
	defaults map[string]any
	records  map[string]map[string]any
}

// NewCollated constructs a collated strategy keyed on keyName ("id" when
// empty).
func NewCollated(keyName string, defaults map[string]any) *Collated {
	if keyName == "" {
		keyName = "id"
	}
	return &Collated{
		keyName:  keyName,
		defaults: defaults,
		records:  make(map[string]map[string]any),
	}
}

// Name implements Strategy.
func (c *Collated) Name() string { return "Collated" }

// State returns the key→record map.
func (c *Collated) State() any { return c.records }

// Empty reports whether any record is held.
func (c *Collated) Empty() bool { return len(c.records) == 0 }

// Get returns the record held under key, or nil.
func (c *Collated) Get(key string) map[string]any { return c.records[key] }

// Add stores the atom's record under its key field.
func (c *Collated) Add(data AtomData, history []AtomData) error {
	key := data.StringField(c.keyName)
	if key == "" {
		return nil
	}
	record := mergeSeed(c.defaults)
	c.records[key] = mergeDeepWith(takeNext, record, entryRecord(data))
	return nil
}

// Delete removes the record held under the atom's key field.
func (c *Collated) Delete(data AtomData, history []AtomData) error {
	delete(c.records, data.StringField(c.keyName))
	return nil
}

func takeNext(key string, last, next any) any { return next }
