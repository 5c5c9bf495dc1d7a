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

// Package sockopt applies the TCP/socket tuning of spec §4.7/§4.8:
// port-reuse on the shared listener, no-delay and keep-alive probing
// on accepted connections, buffer sizing, and the process file
// descriptor limit raise. Grounded on original_source/src/master.c
// (listener tuning) and src/worker.c (per-connection tuning).
package sockopt

import (
	"net"
	"time"
)

// KeepAlive carries the three probe parameters of spec §4.7/§4.8
// (TCP_KEEPIDLE/KEEPINTVL/KEEPCNT).
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// DefaultKeepAlive mirrors original_source/src/master.c's constants.
var DefaultKeepAlive = KeepAlive{Idle: 60 * time.Second, Interval: 10 * time.Second, Count: 6}

// Buffers carries the send/receive buffer sizes applied to sockets.
type Buffers struct {
	Send int
	Recv int
}

// DefaultBuffers mirrors original_source/src/worker.c's per-connection
// buffer sizing (256 KiB each way).
var DefaultBuffers = Buffers{Send: 256 * 1024, Recv: 256 * 1024}

// ListenerOptions are applied to the shared listening socket by the
// master, per spec §4.8.
type ListenerOptions struct {
	ReusePort   bool
	NoDelay     bool
	DeferAccept time.Duration
	Buffers     Buffers
	KeepAlive   KeepAlive
}

// DefaultListenerOptions matches the master's tuning in
// original_source/src/master.c.
var DefaultListenerOptions = ListenerOptions{
	ReusePort:   true,
	NoDelay:     true,
	DeferAccept: time.Second,
	Buffers:     DefaultBuffers,
	KeepAlive:   DefaultKeepAlive,
}

// ConnOptions are applied to each accepted connection by the worker,
// per spec §4.7.
type ConnOptions struct {
	NoDelay   bool
	QuickAck  bool
	Buffers   Buffers
	KeepAlive KeepAlive
}

// DefaultConnOptions matches the worker's per-connection tuning in
// original_source/src/worker.c.
var DefaultConnOptions = ConnOptions{
	NoDelay:   true,
	QuickAck:  true,
	Buffers:   DefaultBuffers,
	KeepAlive: DefaultKeepAlive,
}

// TuneConn applies opts to an accepted *net.TCPConn, best-effort: each
// setsockopt failure is collected but does not abort the remaining
// calls, matching the original's "LOG_WARN ... continuing anyway" for
// non-essential options. The first error, if any, is returned after
// all options have been attempted.
func TuneConn(conn *net.TCPConn, opts ConnOptions) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	note(conn.SetNoDelay(opts.NoDelay))
	note(conn.SetReadBuffer(opts.Buffers.Recv))
	note(conn.SetWriteBuffer(opts.Buffers.Send))
	note(conn.SetKeepAlive(true))
	note(conn.SetKeepAlivePeriod(opts.KeepAlive.Idle))
	note(tuneQuickAckAndProbes(conn, opts))
	return firstErr
}
