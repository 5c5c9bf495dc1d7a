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

package conn

import "os"

// Kind distinguishes the three response sender modes of spec §4.6.
type Kind uint8

const (
	KindNone Kind = iota
	KindCached
	KindFile
	KindInline
)

// Pending is the explicit per-connection sum type {None, Cached(offset),
// File(fd, offset), Inline(offset)} called for in spec §9's design
// note: a partial write leaves exactly one of these populated so the
// next writable wake resumes from a recorded offset instead of an
// implicit coroutine.
type Pending struct {
	Kind Kind

	// Header is the bytes sent before any body: for Cached it is the
	// full wire response (status line, headers, blank line, body all
	// concatenated); for File/Inline it is status line + headers +
	// blank line only. HeaderOffset tracks how much of it has gone out.
	Header       []byte
	HeaderOffset int

	// Body is the Inline-mode payload, sent after Header completes.
	Body       []byte
	BodyOffset int

	// File mode streams file via the kernel's zero-copy path from
	// FileOffset up to FileSize. file is the handle the resolver already
	// opened and stat'd; Send never reopens it by path.
	file       *os.File
	FileSize   int64
	FileOffset int64
}

// Active reports whether a send is in progress and must be resumed
// before the connection can read its next request.
func (p *Pending) Active() bool {
	return p.Kind != KindNone
}

// reset clears p back to an idle state, closing any file opened for a
// zero-copy transfer.
func (p *Pending) reset() {
	if p.file != nil {
		_ = p.file.Close()
		p.file = nil
	}
	*p = Pending{}
}

// NewCached builds a Pending for the cache-hit sender mode: bytes is
// the complete cached response with the caller's Connection header
// already appended (the cache itself never stores one, per spec §4.2).
func NewCached(bytes []byte) Pending {
	return Pending{Kind: KindCached, Header: bytes}
}

// NewInline builds a Pending for a small, in-memory body (conditional
// responses, error pages, and resolved files small enough to have been
// read fully into Outcome.Body).
func NewInline(header, body []byte) Pending {
	return Pending{Kind: KindInline, Header: header, Body: body}
}

// NewFile builds a Pending for the zero-copy file-transfer sender
// mode, taking ownership of f: Send streams it directly and reset
// closes it once the transfer completes or the connection does.
func NewFile(header []byte, f *os.File, size int64) Pending {
	return Pending{Kind: KindFile, Header: header, file: f, FileSize: size}
}
