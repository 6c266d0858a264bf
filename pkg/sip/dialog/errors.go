package dialog

import (
	"errors"
	"fmt"
)

var (
	// Dialog errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidResponse = errors.New("invalid response")
	ErrDialogNotFound  = errors.New("dialog not found")
	ErrDialogExists    = errors.New("dialog already exists")
	ErrInvalidState    = errors.New("invalid dialog state")
	ErrTerminated      = errors.New("dialog terminated")

	// REFER errors
	ErrReferPending      = errors.New("REFER already pending")
	ErrReferNotSupported = errors.New("REFER not supported by peer")
	ErrReferTimeout      = errors.New("REFER timeout")
	ErrReferRejected     = errors.New("REFER rejected")

	// Sequence errors
	ErrInvalidCSeq    = errors.New("invalid CSeq")
	ErrCSeqOutOfOrder = errors.New("CSeq out of order")
)

// errNoInviteTransaction wraps ErrInvalidState for Accept/Reject calls made
// before an INVITE server transaction has been bound to the dialog, so
// callers can still errors.Is against the general invalid-state class.
func errNoInviteTransaction(key fmt.Stringer) error {
	return fmt.Errorf("dialog %s: %w: no invite transaction bound", key, ErrInvalidState)
}
