package admission

import (
	"errors"
	"fmt"
)

var (
	ErrFormNotFound      = errors.New("form not found")
	ErrOwnerNotFound     = errors.New("form owner not found")
	ErrInvalidSubmission = errors.New("form id and email required")
)

// StorageError wraps a failed store operation. Callers should surface it as a
// generic failure without the wrapped detail.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("admission: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
