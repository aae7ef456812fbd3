package core

// Indexed folds the atom history into an ordered address→metadata map. Index
// atoms carry an "address" field, an optional "meta" map, and an "exclude"
// flag marking removal entries.
type Indexed struct {
	order []string
	meta  map[string]map[string]any
}

// NewIndexed constructs an empty index strategy.
func NewIndexed() *Indexed {
	return &Indexed{meta: make(map[string]map[string]any)}
}

// Name implements Strategy.
func (x *Indexed) Name() string { return "Indexed" }

// State returns the ordered list of indexed addresses.
func (x *Indexed) State() any {
	return x.All()
}

// Empty reports whether the index holds no entries.
func (x *Indexed) Empty() bool { return len(x.order) == 0 }

// All returns the indexed addresses in insertion order.
func (x *Indexed) All() []string {
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

// Size returns the number of indexed addresses.
func (x *Indexed) Size() int { return len(x.order) }

// Has reports whether address is indexed.
func (x *Indexed) Has(address string) bool {
	_, ok := x.meta[address]
	return ok
}

// Meta returns the metadata stored for address, or nil.
func (x *Indexed) Meta(address string) map[string]any {
	return x.meta[address]
}

// Where returns the addresses whose metadata satisfies condition, in index
// order.
func (x *Indexed) Where(condition func(address string, meta map[string]any) bool) []string {
	var out []string
	for _, address := range x.order {
		if condition(address, x.meta[address]) {
			out = append(out, address)
		}
	}
	return out
}

// Find returns the first address satisfying condition, or "".
func (x *Indexed) Find(condition func(address string, meta map[string]any) bool) string {
	for _, address := range x.order {
		if condition(address, x.meta[address]) {
			return address
		}
	}
	return ""
}

// Add folds one STORE atom: incrementally when in order, by full reindex
// otherwise.
func (x *Indexed) Add(data AtomData, history []AtomData) error {
	if data.Append {
		x.apply(data)
		return nil
	}
	return x.reindex(history)
}

// Delete unfolds one DELETE atom by reindexing the remaining history.
func (x *Indexed) Delete(data AtomData, history []AtomData) error {
	return x.reindex(history)
}

func (x *Indexed) apply(data AtomData) {
	address := data.StringField("address")
	if address == "" {
		return
	}
	if data.BoolField("exclude") {
		x.remove(address)
		return
	}
	meta, _ := data.Field("meta").(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
	}
	if _, held := x.meta[address]; !held {
		x.order = append(x.order, address)
	}
	x.meta[address] = meta
}

func (x *Indexed) remove(address string) {
	if _, held := x.meta[address]; !held {
		return
	}
	delete(x.meta, address)
	for i, held := range x.order {
		if held == address {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

func (x *Indexed) reindex(history []AtomData) error {
	x.order = nil
	x.meta = make(map[string]map[string]any)
	for _, data := range history {
		x.apply(data)
	}
	return nil
}
