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

// Package httpproto implements the hand-rolled HTTP/1.x request parser
// and response serializer of spec §4.3. It deliberately does not use
// net/http: the wire format, header caps, and error taxonomy are
// dictated by the spec, not by net/http's semantics.
//
// Grounded on original_source/src/http.c's http_parse_request and
// http_send_response for the parsing/serialization shape, adapted to
// Go's slice-and-error idiom in the manner the teacher's errors
// package reports typed failures instead of C's -1/errno convention.
package httpproto

import (
	"bytes"
	"strings"

	"github.com/nabbar/nxlite/internal/nxerr"
)

const (
	// MaxHeaders is the cap on headers per request, per spec §4.3.
	MaxHeaders = 32
	// MaxHeaderField is the per-name/value clip length, per spec §4.3.
	MaxHeaderField = 1024
)

// Header is one name/value pair in original request order.
type Header struct {
	Name  string
	Value string
}

// Request is a single parsed HTTP request.
type Request struct {
	Method  string
	Target  string
	Version string
	Headers []Header

	// ConsumedBytes is the length, in the source buffer, of this
	// request including its terminating blank line — callers use it to
	// advance past this request and look for a pipelined next one.
	ConsumedBytes int
}

// Get returns the value of the first header matching name
// case-insensitively, and whether it was present.
func (r *Request) Get(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// KeepAlive derives persistence per spec §4.3: HTTP/1.1 defaults on,
// HTTP/1.0 defaults off, a Connection header overrides either way.
func (r *Request) KeepAlive() bool {
	def := r.Version == "HTTP/1.1"
	if v, ok := r.Get("Connection"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "close":
			return false
		case "keep-alive":
			return true
		}
	}
	return def
}

// ParseRequest extracts exactly one request from the head of buf, per
// spec §4.3: a request ends at the first empty CRLF-terminated line.
// It reports *malformed* if the request line lacks three tokens or no
// header terminator ("\r\n\r\n") is found anywhere in buf yet.
func ParseRequest(buf []byte) (*Request, error) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, nxerr.New(nxerr.KindMalformed, "httpproto.ParseRequest", errNoTerminator)
	}

	lines := bytes.Split(buf[:headerEnd], []byte("\r\n"))
	if len(lines) == 0 {
		return nil, nxerr.New(nxerr.KindMalformed, "httpproto.ParseRequest", errNoTerminator)
	}

	fields := bytes.Fields(lines[0])
	if len(fields) != 3 {
		return nil, nxerr.New(nxerr.KindMalformed, "httpproto.ParseRequest", errBadRequestLine)
	}

	req := &Request{
		Method:        string(fields[0]),
		Target:        string(fields[1]),
		Version:       string(fields[2]),
		ConsumedBytes: headerEnd + 4,
	}

	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		if len(req.Headers) >= MaxHeaders {
			break
		}
		name := clip(line[:idx], MaxHeaderField)
		value := clip(bytes.TrimLeft(line[idx+1:], " "), MaxHeaderField)
		req.Headers = append(req.Headers, Header{Name: string(name), Value: string(value)})
	}

	return req, nil
}

func clip(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Response is a status line plus headers plus an optional body, built
// up for serialization per spec §4.3. The per-connection Connection
// header is added by Serialize, not stored here, so a Response can be
// cached verbatim as the spec's "stored bytes" (minus Connection).
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// reasonPhrases is the canonical table of spec §4.3; codes not listed
// use "Unknown".
var reasonPhrases = map[int]string{
	200: "OK",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	414: "Request-URI Too Long",
	500: "Internal Server Error",
	501: "Not Implemented",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the canonical text for status, or "Unknown".
func ReasonPhrase(status int) string {
	if t, ok := reasonPhrases[status]; ok {
		return t
	}
	return "Unknown"
}

// NewResponse starts a Response with the mandatory Server header, per
// spec §4.3.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Headers: []Header{{Name: "Server", Value: "NxLite"}},
	}
}

// AddHeader appends a header in insertion order.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// Serialize writes the status line, headers in insertion order, the
// Connection line, a blank line, and the body, per spec §4.3.
// keepAlive controls the Connection line's value; it is never part of
// the stored Headers slice so cached responses stay connection-agnostic.
func (r *Response) Serialize(keepAlive bool) []byte {
	var buf bytes.Buffer
	r.writeHead(&buf)

	if keepAlive {
		buf.WriteString("Connection: keep-alive\r\n")
	} else {
		buf.WriteString("Connection: close\r\n")
	}
	buf.WriteString("\r\n")

	if len(r.Body) > 0 {
		buf.Write(r.Body)
	}
	return buf.Bytes()
}

// SerializeNoConnection writes the status line, headers, blank line,
// and body, but never a Connection line — the form stored in the
// response cache per spec §4.2 ("the per-request Connection header is
// not stored; the sender appends the appropriate one when writing").
func (r *Response) SerializeNoConnection() []byte {
	var buf bytes.Buffer
	r.writeHead(&buf)
	buf.WriteString("\r\n")
	if len(r.Body) > 0 {
		buf.Write(r.Body)
	}
	return buf.Bytes()
}

func (r *Response) writeHead(buf *bytes.Buffer) {
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(itoa(r.Status))
	buf.WriteByte(' ')
	buf.WriteString(ReasonPhrase(r.Status))
	buf.WriteString("\r\n")

	for _, h := range r.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
}

// SplitCached separates bytes produced by SerializeNoConnection back
// into the header block (status line + headers, no trailing blank
// line) and the body, and extracts the status code from the status
// line. It is the sender-side counterpart used to re-attach the
// Connection header to a cache hit.
func SplitCached(raw []byte) (status int, headerBlock, body []byte, ok bool) {
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, nil, nil, false
	}
	headerBlock = raw[:idx]
	body = raw[idx+4:]

	nl := bytes.IndexByte(headerBlock, '\n')
	statusLine := headerBlock
	if nl >= 0 {
		statusLine = headerBlock[:nl]
	}
	fields := bytes.Fields(statusLine)
	if len(fields) < 2 {
		return 0, nil, nil, false
	}
	status = atoi(fields[1])
	return status, headerBlock, body, true
}

func atoi(b []byte) int {
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}
