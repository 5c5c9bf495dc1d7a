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

//go:build !unix

package conn

import "os"

// rawRead/rawWrite/rawSendfile fall back to plain file-descriptor I/O
// on platforms without the engine's target readiness multiplexer; the
// connection-lifecycle engine targets Unix-like hosts exclusively, per
// spec §1.
func rawRead(fd int, buf []byte) (int, error) {
	f := os.NewFile(uintptr(fd), "conn")
	return f.Read(buf)
}

func rawWrite(fd int, buf []byte) (int, error) {
	f := os.NewFile(uintptr(fd), "conn")
	return f.Write(buf)
}

func rawSendfile(fd int, f *os.File, offset *int64, count int64) (int, error) {
	buf := make([]byte, count)
	n, err := f.ReadAt(buf, *offset)
	if n > 0 {
		w := os.NewFile(uintptr(fd), "conn")
		wn, werr := w.Write(buf[:n])
		*offset += int64(wn)
		if werr != nil {
			return wn, werr
		}
		return wn, err
	}
	return 0, err
}

func rawClose(fd int) error {
	return os.NewFile(uintptr(fd), "conn").Close()
}
