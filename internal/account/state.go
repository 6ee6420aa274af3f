package account

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidAccountTags reports a missing or malformed required tag.
	// Callers decline to proceed; the condition is never retried.
	ErrInvalidAccountTags = errors.New("invalid account tags")

	// ErrInvalidState reports a target state outside the enumeration.
	// This is a programming or data error and is fatal to the operation.
	ErrInvalidState = errors.New("invalid state")
)

// State is the lifecycle position of an account, encoded in the
// 'account:state' tag. Normal progression is vanilla, assigned, released,
// expired, then back to assigned.
type State string

const (
	StateVanilla  State = "vanilla"
	StateAssigned State = "assigned"
	StateReleased State = "released"
	StateExpired  State = "expired"
)

// TagState and TagOwner are the only tags this system mutates or requires.
const (
	TagState      = "account:state"
	TagOwner      = "account:owner"
	TagCostCenter = "cost-center"
)

// DefaultCostCenter attributes activity of accounts that carry no
// cost-center tag.
const DefaultCostCenter = "NoCostCenter"

var validOwner = regexp.MustCompile(`^([A-Za-z0-9]+[.\-_])*[A-Za-z0-9]+@[A-Za-z0-9\-]+(\.[A-Za-z]{2,})+$`)

// Valid reports membership in the state enumeration.
func (s State) Valid() bool {
	switch s {
	case StateVanilla, StateAssigned, StateReleased, StateExpired:
		return true
	}
	return false
}

// ValidOwner reports whether text is an acceptable owner email address.
func ValidOwner(text string) bool {
	return validOwner.MatchString(text)
}

// ValidateTagValues checks the required tags of one account, in fixed
// order: owner presence, owner format, state presence, state membership.
// The first violation is reported; callers must not assume an exhaustive
// diagnostic.
func ValidateTagValues(id string, tags map[string]string) error {
	owner, ok := tags[TagOwner]
	if !ok {
		return fmt.Errorf("%w: missing tag '%s' on account '%s' - this account can not be assigned", ErrInvalidAccountTags, TagOwner, id)
	}
	if !ValidOwner(owner) {
		return fmt.Errorf("%w: invalid value for tag '%s' on account '%s' - this account can not be assigned", ErrInvalidAccountTags, TagOwner, id)
	}
	state, ok := tags[TagState]
	if !ok {
		return fmt.Errorf("%w: missing tag '%s' on account '%s' - this account can not be assigned", ErrInvalidAccountTags, TagState, id)
	}
	if !State(state).Valid() {
		return fmt.Errorf("%w: invalid value for tag '%s' on account '%s' - this account can not be assigned", ErrInvalidAccountTags, TagState, id)
	}
	return nil
}

// CostCenter extracts the cost attribution label from a tag mapping.
func CostCenter(tags map[string]string) string {
	if value, ok := tags[TagCostCenter]; ok && value != "" {
		return value
	}
	return DefaultCostCenter
}
