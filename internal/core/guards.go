package core

import (
	"fmt"
	"strings"
)

// Requirement names a precondition an operation demands of an entity.
type Requirement string

// Named requirements. A requirement may be scoped to an attribute entity as
// "Attr:Requirement", in which case it is checked against that attribute
// instead of the entity itself.
const (
	RequireAccount       Requirement = "Account"       // account bound
	RequireConnected     Requirement = "Connected"     // subscription open
	RequireAuthenticated Requirement = "Authenticated" // master authenticated
	RequireBlank         Requirement = "Blank"         // no data received yet
	RequirePopulated     Requirement = "Populated"     // holds data
	RequireComplete      Requirement = "Complete"      // in sync with the ledger
)

// GuardError reports a violated precondition. Guards run before any side
// effect of the guarded operation.
type GuardError struct {
	Op          string
	Requirement Requirement
	Label       string
	Reason      string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("calling %s: entity %q %s", e.Op, e.Label, e.Reason)
}

// Require checks each requirement against the entity (or, for scoped
// requirements, against the named attribute entity) and returns the first
// violation.
func Require(e *Entity, op string, requirements ...string) error {
	for _, requirement := range requirements {
		target := e
		name := requirement
		if before, after, scoped := strings.Cut(requirement, ":"); scoped {
			name = after
			attached := e.AttributeEntity(before)
			if attached == nil {
				known := strings.Join(e.AttributeIDs(), "', '")
				return &GuardError{Op: op, Requirement: Requirement(name), Label: e.Label(),
					Reason: fmt.Sprintf("has no attribute %q (known: '%s')", before, known)}
			}
			target = attached
		}
		if err := check(target, op, Requirement(name)); err != nil {
			return err
		}
	}
	return nil
}

func check(target *Entity, op string, requirement Requirement) error {
	fail := func(reason string) error {
		return &GuardError{Op: op, Requirement: requirement, Label: target.Label(), Reason: reason}
	}
	switch requirement {
	case RequireAccount:
		if !target.HasAccount() {
			return fail("has no account")
		}
	case RequireConnected:
		if !target.Connected() {
			return fail("is not connected")
		}
	case RequireAuthenticated:
		master := target.Master()
		if master == nil {
			return fail("has no master")
		}
		if !master.Authenticated() {
			return fail("is not authenticated")
		}
	case RequireBlank:
		if !target.Empty() {
			return fail("is already populated")
		}
	case RequirePopulated:
		if target.Empty() && !target.Complete() {
			return fail("has no data")
		}
	case RequireComplete:
		if !target.Complete() {
			return fail("is not complete")
		}
	default:
		return fail(fmt.Sprintf("demands unknown requirement %q", requirement))
	}
	return nil
}
