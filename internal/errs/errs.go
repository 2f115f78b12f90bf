// Package errs defines the error kinds shared by every digestdb layer.
//
// Layers wrap these with fmt.Errorf("...: %w", errs.ErrX) so callers can
// classify failures with errors.Is regardless of which layer raised them.
package errs

import "errors"

var (
	ErrInvalidHomeDirectory = errors.New("invalid home directory")
	ErrAlreadyOpen          = errors.New("database is already open")
	ErrNotOpen              = errors.New("database is not open")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDuplicateObject      = errors.New("duplicate object")
	ErrAlreadyExists        = errors.New("already exists")
	ErrNotFound             = errors.New("not found")
	ErrCategoryInUse        = errors.New("category in use")
	ErrCorrupt              = errors.New("stored object is corrupt")
	ErrIO                   = errors.New("io failure")
)

// IsClassified reports whether err already carries one of the kinds above.
func IsClassified(err error) bool {
	for _, kind := range []error{
		ErrInvalidHomeDirectory,
		ErrAlreadyOpen,
		ErrNotOpen,
		ErrInvalidInput,
		ErrInvalidConfiguration,
		ErrDuplicateObject,
		ErrAlreadyExists,
		ErrNotFound,
		ErrCategoryInUse,
		ErrCorrupt,
		ErrIO,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
