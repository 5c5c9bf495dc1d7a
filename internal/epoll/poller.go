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

// Package epoll provides the readiness-notification multiplexer of
// spec §4.7: one instance per worker, registering file descriptors for
// edge-triggered read/write readiness and returning batches of ready
// events for the worker's dispatch loop to act on.
//
// Grounded on joeycumines-go-utilpkg/eventloop's poller_linux.go
// (epoll) and poller_darwin.go (kqueue), trimmed from their
// inline-callback dispatch to a batch-of-events return — this engine's
// worker owns a contiguous connection array indexed by fd (spec §9's
// "arena-plus-index" note), so dispatch belongs to the worker, not the
// poller.
package epoll

import "errors"

// Events is a bitmask of readiness conditions.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Event reports the fd and the readiness conditions observed on it.
type Event struct {
	Fd     int
	Events Events
}

// ErrClosed is returned by any operation on a closed Poller.
var ErrClosed = errors.New("epoll: poller closed")

// Poller is the platform-specific readiness multiplexer. Registration
// is always edge-triggered, per spec §4.7.
type Poller interface {
	// Add registers fd for the given interest set.
	Add(fd int, interest Events) error
	// Modify changes fd's interest set (e.g. dropping EventWrite once a
	// pending send completes).
	Modify(fd int, interest Events) error
	// Remove unregisters fd. Safe to call even if the fd was never
	// added (returns nil).
	Remove(fd int) error
	// Wait blocks up to timeoutMs (negative blocks indefinitely) and
	// appends ready events to dst, returning the extended slice. A
	// timeout returns dst unchanged, nil error.
	Wait(dst []Event, timeoutMs int) ([]Event, error)
	// Close releases the underlying OS handle.
	Close() error
}
