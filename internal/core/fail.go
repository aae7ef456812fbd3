package core

import (
	"errors"
	"fmt"
)

// reportedError marks an error as already logged so it is reported exactly
// once as it propagates through nested awaiters.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// Fail returns the uniform failure handler for a ledger-bound operation: the
// error is logged once with the operation context and rethrown unchanged.
// Entities among args are rendered as their labels.
func (e *Entity) Fail(op string, args ...any) func(error) error {
	return func(err error) error {
		if err == nil {
			return nil
		}
		var reported *reportedError
		if errors.As(err, &reported) {
			return err
		}
		fields := []any{"op", op, "err", err}
		for i, arg := range args {
			if entity, ok := arg.(*Entity); ok {
				arg = entity.Label()
			}
			fields = append(fields, fmt.Sprintf("arg%d", i), arg)
		}
		e.log.Error("operation failed", fields...)
		return &reportedError{err: err}
	}
}
