package errors

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories reported by dispatch, transport
// and processor operations.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindAlreadyExists
	// KindAborted is an attempted operation that failed transiently, such as a
	// busy backend or an I/O failure.
	KindAborted
	KindUnimplemented
	// KindUninitialized means the target was used before its setup completed.
	KindUninitialized
	KindInvalidInput
	// KindIncomplete covers partial configuration or truncated data.
	KindIncomplete
	KindBufferTooSmall
	KindOutOfMemory
)

// Sentinels for each Kind. Wrap them with %w; KindOf recovers the Kind.
var (
	ErrNotFound       = &kindError{kind: KindNotFound}
	ErrAlreadyExists  = &kindError{kind: KindAlreadyExists}
	ErrAborted        = &kindError{kind: KindAborted}
	ErrUnimplemented  = &kindError{kind: KindUnimplemented}
	ErrUninitialized  = &kindError{kind: KindUninitialized}
	ErrInvalidInput   = &kindError{kind: KindInvalidInput}
	ErrIncomplete     = &kindError{kind: KindIncomplete}
	ErrBufferTooSmall = &kindError{kind: KindBufferTooSmall}
	ErrOutOfMemory    = &kindError{kind: KindOutOfMemory}
)

var kindNames = map[Kind]string{
	KindNotFound:       "not found",
	KindAlreadyExists:  "already exists",
	KindAborted:        "aborted",
	KindUnimplemented:  "unimplemented",
	KindUninitialized:  "uninitialized",
	KindInvalidInput:   "invalid input",
	KindIncomplete:     "incomplete",
	KindBufferTooSmall: "buffer too small",
	KindOutOfMemory:    "out of memory",
}

// String returns the human readable kind name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Class maps a Kind onto the retry classification.
func (k Kind) Class() ErrorClass {
	switch k {
	case KindAborted:
		return ErrorTransient
	case KindInvalidInput, KindIncomplete, KindNotFound, KindAlreadyExists:
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string { return e.kind.String() }

// Newf returns an error of the given kind with a formatted detail message.
func Newf(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel(kind))
}

// KindOf returns the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

func sentinel(kind Kind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindAborted:
		return ErrAborted
	case KindUnimplemented:
		return ErrUnimplemented
	case KindUninitialized:
		return ErrUninitialized
	case KindInvalidInput:
		return ErrInvalidInput
	case KindIncomplete:
		return ErrIncomplete
	case KindBufferTooSmall:
		return ErrBufferTooSmall
	case KindOutOfMemory:
		return ErrOutOfMemory
	default:
		return &kindError{kind: kind}
	}
}
