package errors

import (
	"errors"
	"fmt"
)

// Component names the part of the system an error is attributed to when
// passed to E.
type Component string

// E builds a SyncError from its arguments. Recognised argument types are
// Operation, Component, Kind, ErrorCode, error and string (wrapped as an error
// when no error argument is given, otherwise stored as the "detail" metadata).
func E(args ...interface{}) error {
	e := &SyncError{}
	var detail string
	for _, arg := range args {
		switch a := arg.(type) {
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case error:
			e.Err = a
		case string:
			detail = a
		default:
			panic(fmt.Sprintf("errors.E: bad argument %T", arg))
		}
	}
	switch {
	case e.Err == nil && detail != "":
		e.Err = errors.New(detail)
	case e.Err == nil:
		return nil
	case detail != "":
		e.Metadata = map[string]interface{}{"detail": detail}
	}
	if e.Kind == KindUnknown {
		e.Kind = KindOf(e.Err)
	}
	return e
}

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return E(op, Component(component), err)
}

// WrapOpComponentKind provides a convenience helper to wrap errors with Op, Component, and Kind.
// If err is nil, returns nil.
func WrapOpComponentKind(err error, op Operation, component string, kind Kind) error {
	if err == nil {
		return nil
	}
	return E(op, Component(component), kind, err)
}
