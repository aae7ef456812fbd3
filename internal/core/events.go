package core

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"podium/pkg/domain"
)

// ListenerFunc handles one dispatched event.
type ListenerFunc func(ctx context.Context, payload domain.EventPayload) error

// ErrorFunc receives a listener's failure together with the payload that
// triggered it.
type ErrorFunc func(err error, payload domain.EventPayload)

type listener struct {
	event    domain.Event
	callback ListenerFunc
	onError  ErrorFunc
}

// ListenerHandle removes a registered listener.
type ListenerHandle struct {
	ID     string
	remove func()
}

// Remove deregisters the listener. Safe to call more than once.
func (h ListenerHandle) Remove() {
	if h.remove != nil {
		h.remove()
	}
}

// Join merges several handles into one whose Remove clears them all.
func Join(handles ...ListenerHandle) ListenerHandle {
	return ListenerHandle{
		ID: uuid.NewString(),
		remove: func() {
			for _, h := range handles {
				h.Remove()
			}
		},
	}
}

// AddListener registers callback for event. A nil onError routes failures to
// the entity's error log. When selfDestruct is set the listener removes
// itself after its first invocation.
func (e *Entity) AddListener(event domain.Event, callback ListenerFunc, onError ErrorFunc, selfDestruct bool) ListenerHandle {
	id := uuid.NewString()
	handle := ListenerHandle{ID: id, remove: func() { e.RemoveListener(id) }}
	if selfDestruct {
		inner := callback
		callback = func(ctx context.Context, payload domain.EventPayload) error {
			defer handle.Remove()
			return inner(ctx, payload)
		}
	}
	if onError == nil {
		onError = func(err error, payload domain.EventPayload) {
			e.log.Error("listener failed", "event", string(event), "err", err)
		}
	}
	e.mu.Lock()
	e.listeners[id] = listener{event: event, callback: callback, onError: onError}
	e.mu.Unlock()
	return handle
}

// On registers a persistent listener for event.
func (e *Entity) On(event domain.Event, callback ListenerFunc) ListenerHandle {
	return e.AddListener(event, callback, nil, false)
}

// Once registers a listener removed after its first invocation.
func (e *Entity) Once(event domain.Event, callback ListenerFunc) ListenerHandle {
	return e.AddListener(event, callback, nil, true)
}

// RemoveListener deregisters the listener stored under id.
func (e *Entity) RemoveListener(id string) {
	e.mu.Lock()
	delete(e.listeners, id)
	e.mu.Unlock()
}

// RemoveAllListeners clears the listener table.
func (e *Entity) RemoveAllListeners() {
	e.mu.Lock()
	e.listeners = make(map[string]listener)
	e.mu.Unlock()
}

// Forward returns a listener that re-dispatches payloads under event,
// optionally transformed first.
func (e *Entity) Forward(event domain.Event, transform func(domain.EventPayload) any) ListenerFunc {
	return func(ctx context.Context, payload domain.EventPayload) error {
		if transform != nil {
			return e.Dispatch(ctx, event, transform(payload))
		}
		return e.Dispatch(ctx, event, payload)
	}
}

// Dispatch runs every listener registered for event concurrently and waits
// for all of them. A failing listener is routed to its own onError and the
// first failure is returned after the join. Payloads passed through from
// another dispatch are forwarded unmodified; otherwise a snapshot of history
// and state is attached.
func (e *Entity) Dispatch(ctx context.Context, event domain.Event, data any) error {
	payload, through := data.(domain.EventPayload)
	e.mu.Lock()
	if through {
		payload.Event = event
	} else {
		payload = domain.EventPayload{
			Event:     event,
			Data:      data,
			History:   e.historyAtomsLocked(),
			State:     e.strategy.State(),
			LastState: e.lastState,
		}
	}
	matched := e.matchingLocked(event)
	e.mu.Unlock()
	return e.runListeners(ctx, event, payload, matched)
}

func (e *Entity) matchingLocked(event domain.Event) []listener {
	var matched []listener
	for _, l := range e.listeners {
		if l.event == event {
			matched = append(matched, l)
		}
	}
	return matched
}

func (e *Entity) runListeners(ctx context.Context, event domain.Event, payload domain.EventPayload, matched []listener) error {
	if len(matched) == 0 {
		return nil
	}
	e.log.Debug("event", "event", string(event))
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range matched {
		l := l
		g.Go(func() error {
			if err := l.callback(ctx, payload); err != nil {
				l.onError(err, payload)
				return e.Fail("callback on "+string(event))(err)
			}
			return nil
		})
	}
	return g.Wait()
}
