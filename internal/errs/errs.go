// Copyright (C) 2015-2026  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

// Package errs provides raise/recover error-propagation helpers (Raise,
// Raisef, Raiseif, Errcatch and the context helpers) plus the
// operation-level error kinds from §7 of the design: UserError, FetchError
// and SequencerMissingError.
//
// The other git-meta packages return errors rather than raising them; the
// CLI maps a returned error to its exit status with ExitCode.
package errs

import (
	"fmt"
	"runtime"
)

// Error wraps an underlying cause together with a stack of calling
// contexts accumulated as the panic unwinds.
type Error struct {
	Err     error
	Context []string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	for i := len(e.Context) - 1; i >= 0; i-- {
		msg = e.Context[i] + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// aserror turns an arbitrary recovered value into *Error.
func aserror(v interface{}) *Error {
	switch x := v.(type) {
	case *Error:
		return x
	case error:
		return &Error{Err: x}
	default:
		return &Error{Err: fmt.Errorf("%v", x)}
	}
}

// AsError is the exported form of aserror, used by callers that recover a
// panic value from e.g. filepath.Walk and need to re-wrap it as *Error.
func AsError(v interface{}) *Error { return aserror(v) }

// raise panics with v turned into *Error.
func raise(v interface{}) { panic(aserror(v)) }

// Raise is the exported entry point for raising an arbitrary error value.
func Raise(v interface{}) { raise(v) }

// Raisef raises a formatted error.
func Raisef(format string, a ...interface{}) { raise(fmt.Errorf(format, a...)) }

// Raiseif raises err if it is non-nil.
func Raiseif(err error) {
	if err != nil {
		raise(err)
	}
}

// AddContext prepends a context line to an *Error, wrapping plain errors
// into *Error first.
func AddContext(v interface{}, context string) *Error {
	e := aserror(v)
	e.Context = append(e.Context, context)
	return e
}

// AddCallingContext is like AddContext, with funcname (typically captured
// earlier with MyFuncName) used as the context line.
func AddCallingContext(funcname string, v interface{}) *Error {
	return AddContext(v, funcname)
}

// MyFuncName returns the name of the function that is calling MyFuncName.
// Used at the top of a func to capture a label for later AddCallingContext.
func MyFuncName() string {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return "?"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?"
	}
	return fn.Name()
}

// Errcatch recovers a panic raised via raise/Raise/Raisef/Raiseif and
// invokes f with the resulting *Error. It is a no-op if there was no panic.
// Any other recovered value (a "real" Go runtime panic) is re-panicked.
func Errcatch(f func(e *Error)) {
	r := recover()
	if r == nil {
		return
	}
	e, ok := r.(*Error)
	if !ok {
		panic(r)
	}
	f(e)
}

// ---- §7 operation error kinds ----

// UserError is a violated operation precondition: surfaced verbatim to the
// user, exit code -1 at the CLI boundary.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

func NewUserError(format string, a ...interface{}) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, a...)}
}

// FetchError reports a failed remote operation. Exit code -128 at the CLI
// boundary. Message includes the resolved URL and the underlying cause.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewFetchError(url string, cause error) *FetchError {
	return &FetchError{URL: url, Cause: cause}
}

// SequencerMissingError is raised by `continue`/`abort` when there is no
// in-progress sequencer operation. It is a UserError by presentation.
type SequencerMissingError struct{}

func (e *SequencerMissingError) Error() string {
	return "no operation in progress (nothing to continue or abort)"
}

// ExitCode classifies an error the way the CLI boundary is expected to:
// UserError/SequencerMissingError -> -1, FetchError -> -128, anything else -> 1.
func ExitCode(err error) int {
	switch err.(type) {
	case *UserError, *SequencerMissingError:
		return -1
	case *FetchError:
		return -128
	default:
		return 1
	}
}
