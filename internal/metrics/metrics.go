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

// Package metrics exposes the statistics spec §4.7 asks a worker to
// emit every 10 seconds, plus the master's supervision counters,
// through github.com/prometheus/client_golang. The pack's own
// prometheus/metrics package (a generic dynamic-metric builder) was
// retrieved with its tests only and no implementation source, so it
// could not be adapted; this package is grounded directly on
// client_golang's own promauto idiom instead, labeled per worker so a
// single process's workers do not collide on one registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker bundles the per-worker-process counters and gauges a loop
// updates on its 10-second statistics tick and on every connection
// lifecycle event, per spec §4.7.
type Worker struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsClosed   prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	BytesSent           prometheus.Counter
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	AcceptErrors        prometheus.Counter
	FDExhaustionEvents  prometheus.Counter
	PoolUsedBlocks      prometheus.Gauge
	PoolTotalBlocks     prometheus.Gauge
}

// NewWorker registers a Worker's metrics under reg, labeling them with
// workerID so every forked worker's series stay distinct on a shared
// registry.
func NewWorker(reg prometheus.Registerer, workerID int) *Worker {
	factory := promauto.With(reg)
	id := strconv.Itoa(workerID)
	labels := prometheus.Labels{"worker": id}

	return &Worker{
		ConnectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_connections_accepted_total",
			Help:        "Connections accepted by this worker.",
			ConstLabels: labels,
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "nxlite_connections_active",
			Help:        "Connections currently open in this worker.",
			ConstLabels: labels,
		}),
		ConnectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_connections_closed_total",
			Help:        "Connections closed by this worker, any reason.",
			ConstLabels: labels,
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "nxlite_requests_total",
			Help:        "Requests handled, labeled by status class.",
			ConstLabels: labels,
		}, []string{"status"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_bytes_sent_total",
			Help:        "Response body bytes written to sockets.",
			ConstLabels: labels,
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_cache_hits_total",
			Help:        "Response cache hits.",
			ConstLabels: labels,
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_cache_misses_total",
			Help:        "Response cache misses.",
			ConstLabels: labels,
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_accept_errors_total",
			Help:        "accept(2) failures, any errno.",
			ConstLabels: labels,
		}),
		FDExhaustionEvents: factory.NewCounter(prometheus.CounterOpts{
			Name:        "nxlite_fd_exhaustion_events_total",
			Help:        "Times the worker culled idle connections under EMFILE/ENFILE.",
			ConstLabels: labels,
		}),
		PoolUsedBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "nxlite_pool_used_blocks",
			Help:        "Memory pool blocks currently held by connections.",
			ConstLabels: labels,
		}),
		PoolTotalBlocks: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "nxlite_pool_total_blocks",
			Help:        "Memory pool blocks across all grown slabs.",
			ConstLabels: labels,
		}),
	}
}

// ObserveStatus increments RequestsTotal under the status's class
// ("2xx", "4xx", "5xx", ...), matching the access-log granularity
// collaborators expect per spec §6.
func (w *Worker) ObserveStatus(status int) {
	class := strconv.Itoa(status/100) + "xx"
	w.RequestsTotal.WithLabelValues(class).Inc()
}

// IncCacheHit and IncCacheMiss satisfy fileserv.CacheObserver, letting
// Worker be wired directly into a Service's cache lookup path.
func (w *Worker) IncCacheHit()  { w.CacheHits.Inc() }
func (w *Worker) IncCacheMiss() { w.CacheMisses.Inc() }

// Master bundles the supervisor-level counters of spec §4.8.
type Master struct {
	WorkersSpawned   prometheus.Counter
	WorkersRespawned prometheus.Counter
	WorkersAlive     prometheus.Gauge
}

// NewMaster registers a Master's metrics under reg.
func NewMaster(reg prometheus.Registerer) *Master {
	factory := promauto.With(reg)
	return &Master{
		WorkersSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "nxlite_master_workers_spawned_total",
			Help: "Worker processes forked since master start.",
		}),
		WorkersRespawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "nxlite_master_workers_respawned_total",
			Help: "Worker processes respawned after an unexpected exit.",
		}),
		WorkersAlive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nxlite_master_workers_alive",
			Help: "Worker processes currently running.",
		}),
	}
}
