//go:build !unix

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

// The engine targets Unix-like hosts (spec §1); this file exists only so
// the nxerr package type-checks on a non-Unix GOOS during `go vet`/IDE use.
package nxerr

import "errors"

var (
	errWouldBlock       = errors.New("nxerr: would block")
	errInterrupted      = errors.New("nxerr: interrupted")
	errPeerReset        = errors.New("nxerr: connection reset")
	errBrokenPipe       = errors.New("nxerr: broken pipe")
	errPeerClosed       = errors.New("nxerr: connection aborted")
	errTooManyOpenFiles = errors.New("nxerr: too many open files")
	errFileTableFull    = errors.New("nxerr: file table full")
)
