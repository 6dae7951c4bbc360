package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the calling layer can pick a status code
// without matching on individual sentinels.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindIllegalTransition
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

type kinded interface {
	ErrorKind() Kind
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) ErrorKind() Kind { return e.kind }

// KindOf reports the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
