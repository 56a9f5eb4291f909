package classifier

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNoClasses        = errors.New("classifier: dataset has no classes")
	ErrDimMismatch      = errors.New("classifier: vector dimension mismatch")
	ErrMalformedDataset = errors.New("classifier: malformed serialized dataset")
	ErrEmptyLabel       = errors.New("classifier: empty label")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classifier.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
