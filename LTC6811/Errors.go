package LTC6811

import "errors"

// Code identifies the class of a driver failure. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	BusFault          Code = "bus fault"          // SPI transfer failed, not retried
	PecMismatch       Code = "PEC mismatch"       // Frame failed verification on every attempt
	ConversionTimeout Code = "conversion timeout" // The chain never reported the end of a conversion
	InvalidConfig     Code = "invalid config"
)

// Error wraps a Code with the operation that failed and the cause.
type Error struct {
	C   Code
	Op  string
	Err error
}

func newError(c Code, op string, err error) *Error {
	return &Error{C: c, Op: op, Err: err}
}

func (e *Error) Error() string {
	s := e.Op + ": " + string(e.C)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against its Code.
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// CodeOf returns the Code of the first driver error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.C
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ""
}
