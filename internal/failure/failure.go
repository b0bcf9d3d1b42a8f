package failure

import (
	"errors"
	"fmt"
)

// Kind classifies the stage of a refresh cycle that failed.
type Kind int

const (
	Unknown Kind = iota
	// Auth covers login transport or HTTP errors and empty token bodies.
	Auth
	// Resolve covers building search errors and unusable search results.
	Resolve
	// Fetch covers transport or HTTP errors on the waste data endpoint.
	Fetch
	// Parse covers unusable waste data: no services list, or no dates.
	Parse
)

func (k Kind) String() string {
	switch k {
	case Auth:
		return "auth"
	case Resolve:
		return "resolve"
	case Fetch:
		return "fetch"
	case Parse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to the innermost cause of a failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf formats a new error of the given kind. Use %w to keep the cause.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first failure.Error in err's chain, or
// Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
