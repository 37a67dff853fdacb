package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies fetch failures by the resource that failed to load.
type ErrorKind int

const (
	KindTrace ErrorKind = iota + 1
	KindService
	KindDependency
)

func (k ErrorKind) String() string {
	switch k {
	case KindTrace:
		return "trace fetch"
	case KindService:
		return "service fetch"
	case KindDependency:
		return "dependency fetch"
	default:
		return "fetch"
	}
}

// FetchError is a failure reported by the fetch layer. The selectors only
// pass these through; they never create them.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewFetchError wraps err with a kind and a formatted message.
func NewFetchError(kind ErrorKind, err error, format string, args ...any) *FetchError {
	return &FetchError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err wraps a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
