package domain

// Event names a lifecycle moment on an entity. The core set below is closed;
// traits may define further events (onFollowed, onPost, ...) in the same
// namespace, always dispatched through the entity's listener table.
type Event string

// Core lifecycle events fired by the entity engine.
const (
	// EventWillConnect fires before the ledger subscription is opened.
	EventWillConnect Event = "willConnect"
	// EventOnConnect fires once the subscription is established.
	EventOnConnect Event = "onConnect"
	// EventWillUpdate fires when a new atom is received.
	EventWillUpdate Event = "willUpdate"
	// EventWillChange fires before a state change.
	EventWillChange Event = "willChange"
	// EventWillAdd fires before new data is folded into state.
	EventWillAdd Event = "willAdd"
	// EventOnAdd fires when new data has been folded into state.
	EventOnAdd Event = "onAdd"
	// EventWillDelete fires before data is removed from state.
	EventWillDelete Event = "willDelete"
	// EventOnDelete fires when data has been removed from state.
	EventOnDelete Event = "onDelete"
	// EventOnChange fires after a state change.
	EventOnChange Event = "onChange"
	// EventOnUpdate fires after an atom has been processed, changed or not.
	EventOnUpdate Event = "onUpdate"
	// EventOnComplete fires when the local fold is in sync with the ledger.
	EventOnComplete Event = "onComplete"
	// EventWillDisconnect fires before the subscription is closed.
	EventWillDisconnect Event = "willDisconnect"
	// EventOnDisconnect fires when the subscription has closed.
	EventOnDisconnect Event = "onDisconnect"

	// EventWillCreate brackets the first write to an empty entity.
	EventWillCreate Event = "willCreate"
	// EventDidCreate fires after the first write has been committed.
	EventDidCreate Event = "didCreate"
	// EventWillWrite fires before any ledger write.
	EventWillWrite Event = "willWrite"
	// EventDidWrite fires after any ledger write.
	EventDidWrite Event = "didWrite"

	// EventOnAddAttribute fires when an attribute entity connects.
	EventOnAddAttribute Event = "onAddAttribute"
	// EventOnRemoveAttribute fires when an attribute entity disconnects.
	EventOnRemoveAttribute Event = "onRemoveAttribute"
)

// EventPayload carries event context to listeners. State and LastState hold
// the strategy projection before and after the triggering mutation; Data is
// event-specific (the atom for add/delete events, the attribute id for
// attribute events).
type EventPayload struct {
	Event     Event
	Data      any
	History   []Atom
	State     any
	LastState any
}
