/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package nxerr defines the error taxonomy of the connection-lifecycle
// engine: a small set of semantic kinds, each carrying the HTTP status
// (if any) and close policy a handler should apply.
package nxerr

import (
	"errors"
	"fmt"
)

// Kind is one of the semantic error kinds the engine distinguishes. Kind
// values are not HTTP status codes; Status() maps a Kind to the status
// the spec mandates.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMalformed
	KindTargetTooLong
	KindNotFound
	KindForbidden
	KindMethodNotImplemented
	KindTransient
	KindPeerDisconnect
	KindResourceExhaustion
	KindInternal
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed_request"
	case KindTargetTooLong:
		return "target_too_long"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindMethodNotImplemented:
		return "method_not_implemented"
	case KindTransient:
		return "transient_io"
	case KindPeerDisconnect:
		return "peer_disconnect"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindInternal:
		return "internal"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code the spec's error table assigns to
// this Kind, and whether the connection closes after the response. A
// zero status means "no response is sent" (the connection is simply
// destroyed, e.g. PeerDisconnect).
func (k Kind) Status() (status int, closeAfter bool) {
	switch k {
	case KindMalformed:
		return 400, true
	case KindTargetTooLong:
		return 414, true
	case KindNotFound:
		return 404, false
	case KindForbidden:
		return 403, false
	case KindMethodNotImplemented:
		return 501, true
	case KindInternal:
		return 500, true
	default:
		return 0, true
	}
}

// Error wraps an underlying cause with a Kind, the way the teacher's
// errors.Error wraps a CodeError with message and parent chain — trimmed
// here to the fields the connection engine actually branches on.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Parent error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given Kind for operation op, wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps a raw OS/syscall error observed on a connection to a
// Kind, per spec §7's error taxonomy table. Callers that already know
// the kind (e.g. a parse failure) should use New directly instead.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errWouldBlock), errors.Is(err, errInterrupted):
		return New(KindTransient, op, err)
	case errors.Is(err, errPeerReset), errors.Is(err, errBrokenPipe), errors.Is(err, errPeerClosed):
		return New(KindPeerDisconnect, op, err)
	case errors.Is(err, errTooManyOpenFiles), errors.Is(err, errFileTableFull):
		return New(KindResourceExhaustion, op, err)
	default:
		return New(KindInternal, op, err)
	}
}

// KindOf returns the Kind carried by err if it (or something it wraps)
// is an *Error, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
