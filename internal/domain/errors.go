package domain

import "fmt"

// ErrorKind discriminates validation failures so callers can map them to
// responses without matching message text.
type ErrorKind string

const (
	ErrInvalidTransition            ErrorKind = "invalid_transition"
	ErrPaymentVerificationRequired  ErrorKind = "payment_verification_required"
	ErrMockupRequired               ErrorKind = "mockup_required"
	ErrScopeApprovalIncomplete      ErrorKind = "scope_approval_incomplete"
	ErrDepartmentNotAcknowledged    ErrorKind = "department_not_acknowledged"
	ErrAttachmentRequired           ErrorKind = "attachment_required"
	ErrNotLatestRevision            ErrorKind = "not_latest_revision"
	ErrInvalidTime                  ErrorKind = "invalid_time"
	ErrNoConcreteTrigger            ErrorKind = "no_concrete_trigger"
	ErrNotEditable                  ErrorKind = "not_editable"
	ErrCannotDeleteScheduled        ErrorKind = "cannot_delete_scheduled"
	ErrStaleState                   ErrorKind = "stale_state"
	ErrBadInput                     ErrorKind = "bad_input"
)

// Error is a synchronous validation failure. No partial writes precede it.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string { return e.Message }

// Errorf builds a kinded validation error.
func Errorf(kind ErrorKind, format string, args ...any) Error {
	return Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
