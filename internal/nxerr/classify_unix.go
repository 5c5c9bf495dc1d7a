//go:build unix

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

package nxerr

import "syscall"

// errno aliases used by Classify to sort a raw syscall error into one of
// the kinds spec §7 names. EINTR is folded into the transient bucket:
// the spec treats EAGAIN/EINTR/EWOULDBLOCK identically. EMFILE (this
// process's fd table is full) and ENFILE (the system-wide table is
// full) both fold into resource exhaustion.
var (
	errWouldBlock       error = syscall.EAGAIN
	errInterrupted      error = syscall.EINTR
	errPeerReset        error = syscall.ECONNRESET
	errBrokenPipe       error = syscall.EPIPE
	errPeerClosed       error = syscall.ECONNABORTED
	errTooManyOpenFiles error = syscall.EMFILE
	errFileTableFull    error = syscall.ENFILE
)
