package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnknownDomain      = errors.New("unknown domain")
	ErrDuplicateDomain    = errors.New("duplicate domain")
	ErrDomainInUse        = errors.New("domain in use")
	ErrTopicNotFound      = errors.New("topic not found")
	ErrConflict           = errors.New("concurrent write conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNoContent          = errors.New("no content")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsValidation reports whether err is caller-correctable.
func IsValidation(err error) bool {
	return IsKind(err, ErrInvalidInput) ||
		IsKind(err, ErrUnknownDomain) ||
		IsKind(err, ErrDuplicateDomain) ||
		IsKind(err, ErrDomainInUse) ||
		IsKind(err, ErrTopicNotFound)
}
