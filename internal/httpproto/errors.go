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

package httpproto

import "errors"

var (
	// errNoTerminator marks a request that is merely incomplete so far
	// (the caller should wait for more bytes), as distinct from
	// errBadRequestLine which is a genuine protocol violation.
	errNoTerminator   = errors.New("httpproto: no header terminator in buffer")
	errBadRequestLine = errors.New("httpproto: request line does not have three tokens")
)

// IsIncomplete reports whether err indicates the buffer simply does not
// yet contain a full request (no header terminator found), as opposed
// to a malformed request line. Callers use this to distinguish "wait
// for more bytes" from "reject now".
func IsIncomplete(err error) bool {
	return errors.Is(err, errNoTerminator)
}
