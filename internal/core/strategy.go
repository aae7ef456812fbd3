package core

import (
	"time"

	"podium/pkg/domain"
)

// AtomData is one processed history entry: the atom's identity plus its
// decoded record fields. Append reports whether the atom arrived in logical
// order (timestamp at or after the newest already held), which lets
// strategies fold incrementally instead of rebuilding.
type AtomData struct {
	AtomID    string
	Timestamp time.Time
	Append    bool
	Payload   map[string]any
}

// Field returns a payload value by key, or nil when absent.
func (d AtomData) Field(key string) any {
	if d.Payload == nil {
		return nil
	}
	return d.Payload[key]
}

// StringField returns a payload value coerced to string.
func (d AtomData) StringField(key string) string {
	s, _ := d.Field(key).(string)
	return s
}

// BoolField returns a payload value coerced to bool.
func (d AtomData) BoolField(key string) bool {
	b, _ := d.Field(key).(bool)
	return b
}

// NumberField returns a payload value coerced to float64.
func (d AtomData) NumberField(key string) float64 {
	switch v := d.Field(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// fromAtom builds the history entry for an atom, folding in the bookkeeping
// fields strategies key on.
func fromAtom(atom domain.Atom, inOrder bool) AtomData {
	payload := atom.Clone().Payload
	if payload == nil {
		payload = make(map[string]any)
	}
	return AtomData{
		AtomID:    atom.ID,
		Timestamp: atom.Timestamp,
		Append:    inOrder,
		Payload:   payload,
	}
}

// Strategy turns an ordered atom history into a typed projection. State must
// always equal a pure fold of the history passed to the last Add/Delete;
// strategies never hold state the history cannot reproduce.
type Strategy interface {
	Name() string
	// State returns the current projection as a plain JSON-encodable value.
	// Callers must not mutate the result.
	State() any
	// Empty reports whether the projection holds no data.
	Empty() bool
	// Add folds one STORE atom. history is the full sorted timeline
	// including data; strategies rebuild from it when data is out of order.
	Add(data AtomData, history []AtomData) error
	// Delete unfolds one DELETE atom. history no longer contains data.
	Delete(data AtomData, history []AtomData) error
}
