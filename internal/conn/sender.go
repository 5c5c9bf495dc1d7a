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

// Package conn implements the per-connection state machine and
// response sender of spec §4.5/§4.6. Grounded on
// original_source/src/http.c's http_send_response (partial-write
// offset tracking, sendfile loop) and http_handle_request (the
// read-parse-send cycle), adapted from callback style to the explicit
// Pending sum type spec §9 calls for.
package conn

import (
	"github.com/nabbar/nxlite/internal/nxerr"
)

// Result is the outcome of one send attempt, matching spec §4.6's
// three return values.
type Result uint8

const (
	ResultDone Result = iota
	ResultWouldBlock
	ResultFailed
)

// Send drives p forward on fd, writing as much as the socket accepts
// without blocking. It is safe to call repeatedly with the same p
// across writable wakes; p.HeaderOffset/BodyOffset/FileOffset persist
// the resume point.
func Send(fd int, p *Pending) (Result, error) {
	if !p.Active() {
		return ResultDone, nil
	}

	if p.HeaderOffset < len(p.Header) {
		res, err := writeLoop(fd, p.Header, &p.HeaderOffset)
		if res != ResultDone {
			return res, err
		}
	}

	switch p.Kind {
	case KindCached:
		p.reset()
		return ResultDone, nil
	case KindInline:
		res, err := writeLoop(fd, p.Body, &p.BodyOffset)
		if res == ResultDone {
			p.reset()
		}
		return res, err
	case KindFile:
		return sendFile(fd, p)
	default:
		p.reset()
		return ResultDone, nil
	}
}

// writeLoop writes buf[*offset:] to fd until it is exhausted or the
// socket would block, advancing *offset as bytes go out.
func writeLoop(fd int, buf []byte, offset *int) (Result, error) {
	for *offset < len(buf) {
		n, err := rawWrite(fd, buf[*offset:])
		if n > 0 {
			*offset += n
		}
		if err != nil {
			if nxerr.KindOf(nxerr.Classify("conn.Send", err)) == nxerr.KindTransient {
				return ResultWouldBlock, nil
			}
			return ResultFailed, err
		}
		if n == 0 {
			return ResultWouldBlock, nil
		}
	}
	return ResultDone, nil
}

// sendFile streams p.file from p.FileOffset via the platform's
// zero-copy path. p.file is the handle the resolver already opened and
// stat'd, carried through Outcome/Pending end to end; sendFile never
// reopens it, so the bytes transferred can never diverge from the size
// that was stat'd for Content-Length.
func sendFile(fd int, p *Pending) (Result, error) {
	for p.FileOffset < p.FileSize {
		n, err := rawSendfile(fd, p.file, &p.FileOffset, p.FileSize-p.FileOffset)
		if err != nil {
			if nxerr.KindOf(nxerr.Classify("conn.sendFile", err)) == nxerr.KindTransient {
				return ResultWouldBlock, nil
			}
			p.reset()
			return ResultFailed, err
		}
		if n == 0 {
			return ResultWouldBlock, nil
		}
	}
	p.reset()
	return ResultDone, nil
}
