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

package sockopt

import (
	"net"

	"golang.org/x/sys/unix"
)

// tuneQuickAckAndProbes sets TCP_QUICKACK and the three keep-alive
// probe parameters, which Go's net package does not expose directly.
// Grounded on original_source/src/worker.c's per-connection setsockopt
// sequence.
func tuneQuickAckAndProbes(conn *net.TCPConn, opts ConnOptions) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var opErr error
	note := func(e error) {
		if e != nil && opErr == nil {
			opErr = e
		}
	}

	err = raw.Control(func(fd uintptr) {
		if opts.QuickAck {
			note(unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1))
		}
		note(unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(opts.KeepAlive.Idle.Seconds())))
		note(unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(opts.KeepAlive.Interval.Seconds())))
		note(unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, opts.KeepAlive.Count))
	})
	if err != nil {
		return err
	}
	return opErr
}
