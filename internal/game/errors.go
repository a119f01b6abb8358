package game

import (
	"errors"
	"fmt"
)

// Kind classifies a request failure so the HTTP layer can map it to a status
// code without string matching.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthorization
	KindStateConflict
	KindNotFound
)

// Error is a request-level failure. Store and collaborator failures are not
// wrapped in it; they propagate as plain errors and surface as 500s.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindStateConflict, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from a request error.
func KindOf(err error) (Kind, bool) {
	var reqErr *Error
	if errors.As(err, &reqErr) {
		return reqErr.Kind, true
	}
	return 0, false
}
