package failure

import "errors"

// Kind classifies a persistence failure for retry purposes.
type Kind int

const (
	// KindTransient marks failures likely to succeed on retry without any
	// change to the message: connection loss, deadlock, serialization.
	KindTransient Kind = iota
	// KindPermanent marks failures that will repeat until the message
	// content changes: constraint violations, bad data.
	KindPermanent
)

// Error wraps a persistence error with its retry classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err}
}

// KindOf extracts the classification from err. Unclassified errors report
// as permanent, the conservative default: a message is dead-lettered for
// operator inspection rather than reprocessed forever.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindPermanent
}
