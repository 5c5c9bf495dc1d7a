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

//go:build unix

package conn

import (
	"os"

	"golang.org/x/sys/unix"
)

// rawRead/rawWrite operate directly on an fd owned by the worker's
// connection table, bypassing *net.TCPConn so the same fd can be
// registered with the readiness multiplexer in internal/epoll.
func rawRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func rawWrite(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// rawSendfile transfers up to count bytes from f (at *offset) to fd via
// the kernel's sendfile(2) path, matching
// original_source/src/http.c's zero-copy transfer. *offset is advanced
// in place by the kernel on a successful call.
func rawSendfile(fd int, f *os.File, offset *int64, count int64) (int, error) {
	return unix.Sendfile(fd, int(f.Fd()), offset, int(count))
}

func rawClose(fd int) error {
	return unix.Close(fd)
}
