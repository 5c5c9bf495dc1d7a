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

// Package worker implements the single-threaded event loop of spec
// §4.7: accept batching with TCP tuning, dispatch to the connection
// state machine, idle-cycle sleep escalation, and periodic statistics.
// Grounded on original_source/src/worker.c's accept loop and on
// internal/epoll for readiness notification.
package worker

import (
	"net"
	"time"

	"github.com/nabbar/nxlite/internal/conn"
	"github.com/nabbar/nxlite/internal/epoll"
	"github.com/nabbar/nxlite/internal/fileserv"
	"github.com/nabbar/nxlite/internal/logging"
	"github.com/nabbar/nxlite/internal/mempool"
	"github.com/nabbar/nxlite/internal/metrics"
	"github.com/nabbar/nxlite/internal/nxerr"
	"github.com/nabbar/nxlite/internal/sockopt"

	"golang.org/x/sys/unix"
)

// acceptBatch caps accepts per listener-readable wake, per spec §4.7.
const acceptBatch = 2000

// idleSleepSteps escalates sleep across consecutive empty wakes to
// reduce wake rate under low load, per spec §4.7.
var idleSleepSteps = []time.Duration{time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond}

// idleSleepEscalateAfter is how many empty cycles stay at each step
// before escalating to the next.
const idleSleepEscalateAfter = 20

const statsInterval = 10 * time.Second

// poolBlocksPerSlab is how many connection buffers a memory pool slab
// grows by at once, per spec §4.1's batched slab growth.
const poolBlocksPerSlab = 256

// Config bundles the fixed parameters of one worker's loop.
type Config struct {
	ID               int
	ListenerFd       int
	Root             string
	KeepAliveTimeout time.Duration
	MaxConnections   int
	ConnOptions      sockopt.ConnOptions
}

// Worker owns one process's event loop: a readiness multiplexer, a
// connection table as a map keyed by fd (spec §9's arena-plus-index
// note), and the shared resolver/cache/metrics/logger handles.
type Worker struct {
	cfg Config

	poller epoll.Poller
	conns  map[int]*conn.Connection
	svc    *fileserv.Service
	log    *logging.Logger
	met    *metrics.Worker

	pool  *mempool.Pool
	local *mempool.Local

	idleCycles int
	running    bool
}

// New builds a Worker ready to Run. listenerFd must already be
// non-blocking and bound/listening; it is registered edge-triggered
// readable. The worker owns one memory pool and one batched Local
// handle onto it (spec §4.1's "per-thread free-list"), since the event
// loop runs on a single goroutine; every accepted Connection claims
// exactly one block from it as its read buffer.
func New(cfg Config, svc *fileserv.Service, log *logging.Logger, met *metrics.Worker) (*Worker, error) {
	p, err := epoll.New()
	if err != nil {
		return nil, nxerr.New(nxerr.KindFatal, "worker.New", err)
	}
	if err := p.Add(cfg.ListenerFd, epoll.EventRead); err != nil {
		_ = p.Close()
		return nil, nxerr.New(nxerr.KindFatal, "worker.New", err)
	}

	pool := mempool.New(conn.BufSize, poolBlocksPerSlab)

	return &Worker{
		cfg:    cfg,
		poller: p,
		conns:  make(map[int]*conn.Connection),
		svc:    svc,
		log:    log,
		met:    met,
		pool:   pool,
		local:  pool.NewLocal(),
	}, nil
}

// Run drives the event loop until stop is closed or a fatal listener
// error occurs, per spec §4.7.
func (w *Worker) Run(stop <-chan struct{}) error {
	w.running = true
	defer w.shutdown()

	events := make([]epoll.Event, 256)
	lastStats := time.Now()
	var timerCheck time.Time

	for w.running {
		select {
		case <-stop:
			return nil
		default:
		}

		evts, err := w.poller.Wait(events[:0], 5)
		if err != nil {
			return nxerr.New(nxerr.KindFatal, "worker.Run", err)
		}

		if len(evts) == 0 {
			w.idleCycles++
			time.Sleep(idleSleepFor(w.idleCycles))
		} else {
			w.idleCycles = 0
			for _, ev := range evts {
				if err := w.dispatch(ev); err != nil {
					return err
				}
			}
		}

		now := time.Now()
		if now.Sub(timerCheck) >= time.Second {
			w.sweepIdle(now)
			timerCheck = now
		}
		if now.Sub(lastStats) >= statsInterval {
			w.emitStats()
			lastStats = now
		}
	}
	return nil
}

// Stop cooperatively halts Run at the top of its next cycle.
func (w *Worker) Stop() { w.running = false }

func (w *Worker) dispatch(ev epoll.Event) error {
	if ev.Fd == w.cfg.ListenerFd {
		if ev.Events&(epoll.EventError|epoll.EventHangup) != 0 {
			return nxerr.New(nxerr.KindFatal, "worker.dispatch", errListenerFailed)
		}
		w.acceptLoop()
		return nil
	}

	c, ok := w.conns[ev.Fd]
	if !ok {
		return nil
	}

	if ev.Events&epoll.EventHangup != 0 {
		c.OnHangup()
		w.forget(c)
		return nil
	}
	if ev.Events&epoll.EventRead != 0 {
		_ = c.OnReadable(w.access)
	}
	if c.State != conn.StateClosed && ev.Events&epoll.EventWrite != 0 {
		_ = c.OnWritable(w.access)
	}
	w.syncInterest(c)
	return nil
}

// syncInterest re-arms the poller's interest set to match the
// connection's state after a dispatch, and drops it from the table
// once closed.
func (w *Worker) syncInterest(c *conn.Connection) {
	switch c.State {
	case conn.StateClosed:
		w.forget(c)
	case conn.StateWriteBlocked:
		_ = w.poller.Modify(c.Fd, epoll.EventRead|epoll.EventWrite)
	default:
		_ = w.poller.Modify(c.Fd, epoll.EventRead)
	}
}

func (w *Worker) forget(c *conn.Connection) {
	_ = w.poller.Remove(c.Fd)
	delete(w.conns, c.Fd)
	if w.met != nil {
		w.met.ConnectionsClosed.Inc()
		w.met.ConnectionsActive.Set(float64(len(w.conns)))
		w.reportPoolGauges()
	}
}

// access bridges a completed request to the access logger and metrics,
// satisfying the collaborator contract of spec §6.
func (w *Worker) access(ev conn.AccessEvent) {
	if w.log != nil {
		w.log.LogAccess(ev.RemoteAddr, ev.Method, ev.Target, ev.Status, ev.Bytes, 0)
	}
	if w.met != nil {
		w.met.ObserveStatus(ev.Status)
		w.met.BytesSent.Add(float64(ev.Bytes))
	}
}

// acceptLoop accepts up to acceptBatch connections per wake, tuning
// each and registering it for readiness, per spec §4.7. On
// fd-exhaustion it opportunistically culls idle connections and backs
// off instead of busy-looping.
func (w *Worker) acceptLoop() {
	for i := 0; i < acceptBatch; i++ {
		fd, sa, err := unix.Accept4(w.cfg.ListenerFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			kind := nxerr.KindOf(nxerr.Classify("worker.acceptLoop", err))
			if kind == nxerr.KindTransient {
				return
			}
			if kind == nxerr.KindResourceExhaustion {
				if w.met != nil {
					w.met.FDExhaustionEvents.Inc()
				}
				w.cullIdle(10, 5*time.Second)
				time.Sleep(20 * time.Millisecond)
				return
			}
			if w.met != nil {
				w.met.AcceptErrors.Inc()
			}
			return
		}

		if w.cfg.MaxConnections > 0 && len(w.conns) >= w.cfg.MaxConnections {
			_ = unix.Close(fd)
			continue
		}

		w.tune(fd)

		c, err := conn.New(fd, remoteAddrString(sa), w.svc, w.local)
		if err != nil {
			_ = unix.Close(fd)
			if w.met != nil {
				w.met.AcceptErrors.Inc()
			}
			continue
		}
		w.conns[fd] = c
		if err := w.poller.Add(fd, epoll.EventRead); err != nil {
			c.Close()
			delete(w.conns, fd)
			continue
		}

		if w.met != nil {
			w.met.ConnectionsAccepted.Inc()
			w.met.ConnectionsActive.Set(float64(len(w.conns)))
			w.reportPoolGauges()
		}
	}
}

// reportPoolGauges refreshes the worker's pool metrics from its
// mempool.Pool, satisfying spec §8 invariant 1's observability
// requirement that used_blocks be visible end to end.
func (w *Worker) reportPoolGauges() {
	if w.met == nil {
		return
	}
	w.met.PoolUsedBlocks.Set(float64(w.pool.UsedBlocks()))
	w.met.PoolTotalBlocks.Set(float64(w.pool.TotalBlocks()))
}

// tune applies ConnOptions to fd through a throwaway *net.TCPConn built
// on a dup()'d descriptor; socket options set through the dup apply to
// the shared underlying file description, so fd itself ends up tuned.
// The dup is closed immediately after, leaving fd's lifetime owned by
// the connection table as before.
func (w *Worker) tune(fd int) {
	c := osNewFileNoFinalize(fd)
	if c == nil {
		return
	}
	defer c.Close()
	if tcpConn, ok := c.(*net.TCPConn); ok {
		_ = sockopt.TuneConn(tcpConn, w.cfg.ConnOptions)
	}
}

// cullIdle closes up to max connections idle for at least idleFor,
// per spec §4.7's fd-exhaustion response.
func (w *Worker) cullIdle(max int, idleFor time.Duration) {
	now := time.Now()
	closed := 0
	for fd, c := range w.conns {
		if closed >= max {
			return
		}
		if now.Sub(c.LastActivity) >= idleFor {
			c.Close()
			_ = w.poller.Remove(fd)
			delete(w.conns, fd)
			closed++
		}
	}
	if closed > 0 {
		w.reportPoolGauges()
	}
}

// sweepIdle destroys connections past the keep-alive timeout, per spec
// §4.5 item 3.
func (w *Worker) sweepIdle(now time.Time) {
	swept := false
	for fd, c := range w.conns {
		c.OnTimer(now, w.cfg.KeepAliveTimeout)
		if c.State == conn.StateClosed {
			_ = w.poller.Remove(fd)
			delete(w.conns, fd)
			swept = true
		}
	}
	if swept {
		w.reportPoolGauges()
	}
}

func (w *Worker) emitStats() {
	if w.log != nil {
		w.log.Logf(logging.LevelInfo, "worker %d: %d active connections", w.cfg.ID, len(w.conns))
	}
	if w.met != nil {
		w.met.ConnectionsActive.Set(float64(len(w.conns)))
	}
}

func (w *Worker) shutdown() {
	for _, c := range w.conns {
		c.Close()
	}
	_ = w.poller.Close()
}

// idleSleepFor returns the sleep duration for the given consecutive
// idle-cycle count, escalating through idleSleepSteps.
func idleSleepFor(cycles int) time.Duration {
	step := cycles / idleSleepEscalateAfter
	if step >= len(idleSleepSteps) {
		step = len(idleSleepSteps) - 1
	}
	return idleSleepSteps[step]
}
