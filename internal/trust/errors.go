package trust

import (
	"errors"
	"fmt"
)

// Storage-level sentinels returned by repository implementations. Services
// translate them into kinds; callers of the services never see them bare.
var (
	ErrNotFound = errors.New("trust: not found")
	ErrConflict = errors.New("trust: conflict")
)

// Kind classifies a trust failure. The web layer maps kinds to status codes.
type Kind string

const (
	KindSameOrganization            Kind = "same_organization"
	KindInvalidTrustLevel           Kind = "invalid_trust_level"
	KindDuplicateActiveRelationship Kind = "duplicate_active_relationship"
	KindRelationshipNotFound        Kind = "relationship_not_found"
	KindNotPartOfRelationship       Kind = "not_part_of_relationship"
	KindAlreadyApproved             Kind = "already_approved"
	KindGroupNameTaken              Kind = "group_name_taken"
	KindEmptyGroupName              Kind = "empty_group_name"
	KindAlreadyMember               Kind = "already_member"
	KindNotAMember                  Kind = "not_a_member"
	KindInsufficientPermission      Kind = "insufficient_permission"
	KindUnexpectedPersistence       Kind = "unexpected_persistence_error"
	KindInvalidState                Kind = "invalid_state"
	KindGroupNotFound               Kind = "group_not_found"
	KindInvalidInput                Kind = "invalid_input"
)

// Error is a typed trust failure carrying a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("trust: %s: %v", msg, e.Err)
	}
	return "trust: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrSameOrganization            = &Error{Kind: KindSameOrganization}
	ErrInvalidTrustLevel           = &Error{Kind: KindInvalidTrustLevel}
	ErrDuplicateActiveRelationship = &Error{Kind: KindDuplicateActiveRelationship}
	ErrRelationshipNotFound        = &Error{Kind: KindRelationshipNotFound}
	ErrNotPartOfRelationship       = &Error{Kind: KindNotPartOfRelationship}
	ErrAlreadyApproved             = &Error{Kind: KindAlreadyApproved}
	ErrGroupNameTaken              = &Error{Kind: KindGroupNameTaken}
	ErrEmptyGroupName              = &Error{Kind: KindEmptyGroupName}
	ErrAlreadyMember               = &Error{Kind: KindAlreadyMember}
	ErrNotAMember                  = &Error{Kind: KindNotAMember}
	ErrInsufficientPermission      = &Error{Kind: KindInsufficientPermission}
	ErrUnexpectedPersistence       = &Error{Kind: KindUnexpectedPersistence}
	ErrInvalidState                = &Error{Kind: KindInvalidState}
	ErrGroupNotFound               = &Error{Kind: KindGroupNotFound}
	ErrInvalidInput                = &Error{Kind: KindInvalidInput}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// persistence wraps a storage failure unless it is already a typed trust error.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Kind: KindUnexpectedPersistence, Message: op, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a trust error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func isConflict(err error) bool { return errors.Is(err, ErrConflict) }
