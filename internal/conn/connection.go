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

import (
	"time"

	"github.com/nabbar/nxlite/internal/fileserv"
	"github.com/nabbar/nxlite/internal/httpproto"
	"github.com/nabbar/nxlite/internal/mempool"
	"github.com/nabbar/nxlite/internal/nxerr"
)

// State is one of the observable connection states of spec §4.5.
type State uint8

const (
	StateReading State = iota
	StateParsing
	StateSending
	StateWriteBlocked
	StateClosed
)

// BufSize is the fixed per-connection read buffer, per spec §4.5 (a
// request that fills it without producing a header terminator is 400
// and close) and spec §3's "a Connection's buffer is one block from
// the memory pool". Callers size their mempool.Pool's block size to
// this so every Connection's buffer is exactly one pool block.
const BufSize = 8192

// AccessEvent is emitted once per completed (or failed) request, for
// the collaborator logger contract of spec §6 (log_access).
type AccessEvent struct {
	RemoteAddr string
	Method     string
	Target     string
	Status     int
	Bytes      int64
}

// Connection is one accepted socket's state, owned exclusively by the
// worker's connection table (spec §9's arena-plus-index note: no
// back-pointer to the worker, callers pass whatever worker state a
// callback needs).
type Connection struct {
	Fd           int
	RemoteAddr   string
	State        State
	KeepAlive    bool
	LastActivity time.Time

	local  *mempool.Local
	block  *mempool.Block
	buf    []byte
	bufLen int

	pending Pending

	svc *fileserv.Service
}

// New wraps an accepted, already non-blocking fd, claiming one block
// from local as its read buffer (spec §3: "a Connection's buffer is
// one block from the memory pool"). The block is released back to
// local on Close, so invariant 1 of spec §8 (used_blocks reaches zero
// at worker cleanup) can be observed end to end.
func New(fd int, remoteAddr string, svc *fileserv.Service, local *mempool.Local) (*Connection, error) {
	block, err := local.Allocate()
	if err != nil {
		return nil, err
	}
	return &Connection{
		Fd:           fd,
		RemoteAddr:   remoteAddr,
		State:        StateReading,
		KeepAlive:    true,
		LastActivity: time.Now(),
		local:        local,
		block:        block,
		buf:          block.Buf,
		svc:          svc,
	}, nil
}

// Close releases the socket, any file held by an in-flight transfer,
// and the connection's pool block. Safe to call more than once.
func (c *Connection) Close() {
	if c.State == StateClosed {
		return
	}
	c.pending.reset()
	_ = rawClose(c.Fd)
	if c.block != nil {
		_ = c.local.Release(c.block)
		c.block = nil
	}
	c.State = StateClosed
}

// OnReadable implements spec §4.5 item 1: drain the socket, parse and
// handle every complete request in the buffer, sending synchronously
// before considering the next. emit is called once per handled
// request (nil is accepted when the caller does not need access
// logging, e.g. in tests).
func (c *Connection) OnReadable(emit func(AccessEvent)) error {
	if c.pending.Active() {
		// A writable wake is what should resume a blocked send; a
		// readable wake while blocked means the peer sent more data
		// we cannot yet act on. Leave it buffered for the next read.
		return nil
	}

	for {
		n, err := rawRead(c.Fd, c.buf[c.bufLen:])
		if n > 0 {
			c.bufLen += n
			c.LastActivity = time.Now()
		}
		if err != nil {
			kind := nxerr.KindOf(nxerr.Classify("conn.OnReadable", err))
			if kind == nxerr.KindTransient {
				break
			}
			c.Close()
			return nil
		}
		if n == 0 {
			c.Close()
			return nil
		}
		if c.bufLen == len(c.buf) {
			break
		}
	}

	return c.drain(emit)
}

// drain parses and handles every complete request currently in the
// buffer, stopping early if a send would block.
func (c *Connection) drain(emit func(AccessEvent)) error {
	for {
		req, err := httpproto.ParseRequest(c.buf[:c.bufLen])
		if err != nil {
			if httpproto.IsIncomplete(err) {
				if c.bufLen == len(c.buf) {
					// Buffer full and still no terminator: the request
					// cannot fit, per spec §4.5.
					c.sendErrorAndClose(400, emit, "", "")
				}
				return nil
			}
			c.sendErrorAndClose(400, emit, "", "")
			return nil
		}

		c.State = StateParsing
		consumed := req.ConsumedBytes
		result, status, bytesOut := c.handle(req)
		c.compact(consumed)

		if emit != nil {
			emit(AccessEvent{RemoteAddr: c.RemoteAddr, Method: req.Method, Target: req.Target, Status: status, Bytes: bytesOut})
		}

		switch result {
		case ResultDone:
			if !c.KeepAlive {
				c.Close()
				return nil
			}
			c.State = StateReading
			continue
		case ResultWouldBlock:
			c.State = StateWriteBlocked
			return nil
		case ResultFailed:
			c.Close()
			return nil
		}
	}
}

// compact discards the first n consumed bytes, sliding any residual
// (pipelined) bytes to the head of the buffer, per spec §4.5.
func (c *Connection) compact(n int) {
	remaining := c.bufLen - n
	if remaining > 0 {
		copy(c.buf[:remaining], c.buf[n:c.bufLen])
	}
	c.bufLen = remaining
}

// handle resolves req, builds the Pending response, attempts to send
// it immediately, and records keep-alive for the connection.
func (c *Connection) handle(req *httpproto.Request) (Result, int, int64) {
	c.KeepAlive = req.KeepAlive()

	if req.Method != "GET" && req.Method != "HEAD" {
		c.KeepAlive = false
		return c.sendError(501)
	}

	outcome, err := c.svc.Resolve(req)
	if err != nil {
		kind := nxerr.KindOf(err)
		status, closeAfter := kind.Status()
		if closeAfter {
			c.KeepAlive = false
		}
		return c.sendError(status)
	}

	c.pending = buildPending(outcome, c.KeepAlive)
	c.State = StateSending
	res, sendErr := Send(c.Fd, &c.pending)
	if sendErr != nil {
		return ResultFailed, outcome.Status, 0
	}
	var n int64
	if outcome.SendBody {
		if outcome.File != nil {
			n = outcome.FileSize
		} else {
			n = int64(len(outcome.Body))
		}
	}
	return res, outcome.Status, n
}

// sendError builds a minimal error response with no body and attempts
// to send it, used for 414/404/403/500/501 paths.
func (c *Connection) sendError(status int) (Result, int, int64) {
	resp := httpproto.NewResponse(status)
	c.pending = NewInline(resp.Serialize(c.KeepAlive), nil)
	res, err := Send(c.Fd, &c.pending)
	if err != nil {
		return ResultFailed, status, 0
	}
	return res, status, 0
}

func (c *Connection) sendErrorAndClose(status int, emit func(AccessEvent), method, target string) {
	resp := httpproto.NewResponse(status)
	pending := NewInline(resp.Serialize(false), nil)
	_, _ = Send(c.Fd, &pending)
	if emit != nil {
		emit(AccessEvent{RemoteAddr: c.RemoteAddr, Method: method, Target: target, Status: status})
	}
	c.Close()
}

// buildPending turns a resolved Outcome into the sender's Pending,
// reattaching the Connection header fileserv/cache deliberately never
// store (spec §4.2).
func buildPending(o *fileserv.Outcome, keepAlive bool) Pending {
	connLine := "Connection: close\r\n"
	if keepAlive {
		connLine = "Connection: keep-alive\r\n"
	}

	if o.FromCache {
		full := make([]byte, 0, len(o.HeaderBlock)+2+len(connLine)+2+len(o.Body))
		full = append(full, o.HeaderBlock...)
		full = append(full, "\r\n"...)
		full = append(full, connLine...)
		full = append(full, "\r\n"...)
		if o.SendBody {
			full = append(full, o.Body...)
		}
		return NewCached(full)
	}

	resp := &httpproto.Response{Status: o.Status, Headers: o.Headers}
	header := resp.Serialize(keepAlive)

	if o.File != nil && o.SendBody {
		return NewFile(header, o.File, o.FileSize)
	}
	if o.File != nil {
		// SendBody is false (HEAD) but Resolve still handed back an
		// open file; nothing will stream it, so close it here instead
		// of leaking the fd.
		_ = o.File.Close()
	}

	var body []byte
	if o.SendBody {
		body = o.Body
	}
	return NewInline(header, body)
}

// OnWritable implements spec §4.5 item 2: resume the pending send from
// its saved offset.
func (c *Connection) OnWritable(emit func(AccessEvent)) error {
	if !c.pending.Active() {
		c.State = StateReading
		return nil
	}

	res, err := Send(c.Fd, &c.pending)
	switch res {
	case ResultDone:
		if !c.KeepAlive {
			c.Close()
			return nil
		}
		c.State = StateReading
		return c.drain(emit)
	case ResultWouldBlock:
		c.State = StateWriteBlocked
		return nil
	case ResultFailed:
		_ = err
		c.Close()
		return nil
	}
	return nil
}

// OnTimer implements spec §4.5 item 3: destroy the connection once the
// idle window has elapsed.
func (c *Connection) OnTimer(now time.Time, keepAliveTimeout time.Duration) {
	if c.State == StateClosed {
		return
	}
	if now.Sub(c.LastActivity) >= keepAliveTimeout {
		c.Close()
	}
}

// OnHangup implements spec §4.5 item 4.
func (c *Connection) OnHangup() {
	c.Close()
}
