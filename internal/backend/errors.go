package backend

import (
	"errors"
	"fmt"
)

// BusinessError is a domain rule violation that leaves storage consistent:
// the transaction still commits and the resident sees the localized Key.
type BusinessError struct {
	Key  string
	Args []any
}

// Business builds a BusinessError for the translation key.
func Business(key string, args ...any) *BusinessError {
	return &BusinessError{Key: key, Args: args}
}

func (e *BusinessError) Error() string {
	if len(e.Args) == 0 {
		return e.Key
	}
	return fmt.Sprintf("%s %v", e.Key, e.Args)
}

// StorageError reports a failed read or write. The transaction must be
// rolled back.
type StorageError struct {
	Op  string
	Err error
}

// Storage wraps err as a StorageError for op. A nil err returns nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorage reports whether err wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// AsBusiness extracts the BusinessError wrapped by err, if any.
func AsBusiness(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
