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

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package epoll

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	fd       int
	eventBuf [256]unix.Kevent_t
	closed   atomic.Bool
}

// New creates a kqueue-backed Poller for BSD-family kernels (including
// Darwin), grounded on poller_darwin.go's kevent wiring.
func New() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return &kqueuePoller{fd: fd}, nil
}

func changeList(fd int, interest Events, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if interest&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *kqueuePoller) Add(fd int, interest Events) error {
	if p.closed.Load() {
		return ErrClosed
	}
	cl := changeList(fd, interest, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR)
	if len(cl) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.fd, cl, nil, nil)
	return err
}

func (p *kqueuePoller) Modify(fd int, interest Events) error {
	if p.closed.Load() {
		return ErrClosed
	}
	// kqueue has no in-place modify; delete both filters then re-add
	// the requested set. Errors on delete of an unset filter are
	// expected and ignored, matching poller_darwin.go's ModifyFD.
	_, _ = unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	return p.Add(fd, interest)
}

func (p *kqueuePoller) Remove(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	_, _ = unix.Kevent(p.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	return nil
}

func (p *kqueuePoller) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	if p.closed.Load() {
		return dst, ErrClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1_000_000)}
	}
	n, err := unix.Kevent(p.fd, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		kev := &p.eventBuf[i]
		var e Events
		switch kev.Filter {
		case unix.EVFILT_READ:
			e |= EventRead
		case unix.EVFILT_WRITE:
			e |= EventWrite
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			e |= EventError
		}
		if kev.Flags&unix.EV_EOF != 0 {
			e |= EventHangup
		}
		dst = append(dst, Event{Fd: int(kev.Ident), Events: e})
	}
	return dst, nil
}

func (p *kqueuePoller) Close() error {
	p.closed.Store(true)
	return unix.Close(p.fd)
}
