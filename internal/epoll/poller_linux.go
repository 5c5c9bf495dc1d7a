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

//go:build linux

package epoll

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	fd       int
	eventBuf [256]unix.EpollEvent
	closed   atomic.Bool
}

// New creates an epoll-backed Poller, per spec §4.7's "creates a
// readiness multiplexer" step.
func New() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func toEpollMask(interest Events) uint32 {
	var m uint32
	if interest&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if interest&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	// Edge-triggered per spec §4.7.
	m |= unix.EPOLLET
	return m
}

func fromEpollMask(m uint32) Events {
	var e Events
	if m&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if m&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if m&unix.EPOLLERR != 0 {
		e |= EventError
	}
	if m&unix.EPOLLHUP != 0 || m&unix.EPOLLRDHUP != 0 {
		e |= EventHangup
	}
	return e
}

func (p *epollPoller) Add(fd int, interest Events) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpollMask(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, interest Events) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: toEpollMask(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Remove(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	if p.closed.Load() {
		return dst, ErrClosed
	}
	n, err := unix.EpollWait(p.fd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Event{
			Fd:     int(p.eventBuf[i].Fd),
			Events: fromEpollMask(p.eventBuf[i].Events),
		})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	p.closed.Store(true)
	return unix.Close(p.fd)
}
