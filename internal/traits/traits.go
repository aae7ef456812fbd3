// Package traits implements the capability modules entity kinds compose:
// authentication, following, ownership, posting, reactions, token economics,
// and profiles. Each trait attaches attributes, actions, coded errors, and
// lifecycle hooks to its entity; kinds stay thin descriptors.
package traits

import (
	"context"
	"fmt"

	"podium/internal/core"
	"podium/pkg/domain"
)

// newChild constructs an entity of the named kind under parent, resolved
// through the realm's kind registry.
func newChild(parent *core.Entity, kindName string) (*core.Entity, error) {
	kind, ok := parent.Realm().Kinds().Get(kindName)
	if ok && kind.New != nil {
		return kind.New(parent.Realm(), parent)
	}
	if ok {
		return core.NewEntity(parent.Realm(), parent, kind)
	}
	return nil, fmt.Errorf("kind %q is not registered", kindName)
}

// forwardIndexAtom returns a listener for an index's add/delete events that
// re-dispatches them on target as a flat {address, meta} payload.
func forwardIndexAtom(target *core.Entity, event domain.Event) core.ListenerFunc {
	return func(ctx context.Context, payload domain.EventPayload) error {
		data, ok := payload.Data.(core.AtomData)
		if !ok {
			return nil
		}
		meta, _ := data.Field("meta").(map[string]any)
		if meta == nil {
			meta = make(map[string]any)
		}
		return target.Dispatch(ctx, event, map[string]any{
			"address": data.StringField("address"),
			"meta":    meta,
		})
	}
}

// masterEntity returns the entity carrying the master's authenticating trait,
// or nil when the master is not an Authenticating instance.
func masterEntity(e *core.Entity) *core.Entity {
	if auth, ok := e.Master().(*Authenticating); ok {
		return auth.Entity()
	}
	return nil
}

// entityArg coerces a resolved action argument to an entity.
func entityArg(args []any, i int) (*core.Entity, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing entity argument %d", i)
	}
	subject, ok := args[i].(*core.Entity)
	if !ok {
		return nil, fmt.Errorf("argument %d is not an entity reference", i)
	}
	return subject, nil
}

func stringArg(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func numberArg(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func mapArg(args []any, i int) map[string]any {
	if i >= len(args) {
		return nil
	}
	m, _ := args[i].(map[string]any)
	return m
}
