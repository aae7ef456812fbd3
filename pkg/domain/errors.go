package domain

import (
	"errors"
	"fmt"
)

// CodedError is a numbered business-rule violation. Each trait registers its
// errors under stable codes so remote clients receive consistent messages.
type CodedError struct {
	Code    int
	Kind    string // registering trait or subsystem, e.g. "following"
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s error [%d]: %s", e.Kind, e.Code, e.Message)
}

// Is matches coded errors by code and kind, ignoring the rendered message.
func (e *CodedError) Is(target error) bool {
	var other *CodedError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Kind == other.Kind
}

// ErrorBuilder renders a coded error from call-site arguments. Static
// messages ignore the arguments.
type ErrorBuilder func(args ...any) *CodedError

// ErrorRegistry holds the numbered errors registered by an entity's traits.
// Codes are unique per entity; registering a duplicate code panics, as that
// is a composition bug rather than a runtime condition.
type ErrorRegistry struct {
	builders map[int]ErrorBuilder
}

// NewErrorRegistry constructs an empty registry.
func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{builders: make(map[int]ErrorBuilder)}
}

// Register stores a static-message error under a code.
func (r *ErrorRegistry) Register(code int, kind, message string) {
	r.RegisterFunc(code, func(...any) *CodedError {
		return &CodedError{Code: code, Kind: kind, Message: message}
	})
}

// Registerf stores a format-message error whose message is built lazily from
// the arguments passed at raise time.
func (r *ErrorRegistry) Registerf(code int, kind, format string) {
	r.RegisterFunc(code, func(args ...any) *CodedError {
		return &CodedError{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
	})
}

// RegisterFunc stores an arbitrary builder under a code.
func (r *ErrorRegistry) RegisterFunc(code int, build ErrorBuilder) {
	if _, exists := r.builders[code]; exists {
		panic(fmt.Sprintf("error code %d already registered", code))
	}
	r.builders[code] = build
}

// New builds the error registered under code. Raising an unregistered code is
// itself a composition bug and yields a distinguishable error.
func (r *ErrorRegistry) New(code int, args ...any) error {
	build, ok := r.builders[code]
	if !ok {
		return fmt.Errorf("unregistered error code %d", code)
	}
	return build(args...)
}

// Has reports whether a code is registered.
func (r *ErrorRegistry) Has(code int) bool {
	_, ok := r.builders[code]
	return ok
}
