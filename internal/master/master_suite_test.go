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

package master_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nabbar/nxlite/internal/config"
	"github.com/nabbar/nxlite/internal/logging"
	"github.com/nabbar/nxlite/internal/master"
	"github.com/nabbar/nxlite/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMaster(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Master Suite")
}

func freePort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	defer ln.Close()
	_, p, err := net.SplitHostPort(ln.Addr().String())
	Expect(err).ToNot(HaveOccurred())
	port, err := strconv.Atoi(p)
	Expect(err).ToNot(HaveOccurred())
	return port
}

var _ = Describe("New", func() {
	It("binds the shared listener and returns a Master", func() {
		log, err := logging.New(logging.LevelInfo, "")
		Expect(err).ToNot(HaveOccurred())
		defer log.Close()

		cfg := &config.Config{Port: freePort(), WorkerProcesses: 0, MaxConnections: 100}
		m, err := master.New(cfg, "/etc/nxlite.env", log, metrics.NewMaster(prometheus.NewRegistry()))
		Expect(err).ToNot(HaveOccurred())
		Expect(m).ToNot(BeNil())
	})

	It("fails when the port is already bound", func() {
		port := freePort()
		blocker, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		Expect(err).ToNot(HaveOccurred())
		defer blocker.Close()

		log, err := logging.New(logging.LevelInfo, "")
		Expect(err).ToNot(HaveOccurred())
		defer log.Close()

		cfg := &config.Config{Port: port, WorkerProcesses: 0, MaxConnections: 100}
		_, err = master.New(cfg, "", log, metrics.NewMaster(prometheus.NewRegistry()))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Run", func() {
	It("returns promptly once its context is cancelled, with zero workers configured", func() {
		log, err := logging.New(logging.LevelInfo, "")
		Expect(err).ToNot(HaveOccurred())
		defer log.Close()

		cfg := &config.Config{Port: freePort(), WorkerProcesses: 0, MaxConnections: 100}
		m, err := master.New(cfg, "", log, metrics.NewMaster(prometheus.NewRegistry()))
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- m.Run(ctx) }()

		time.Sleep(20 * time.Millisecond)
		cancel()

		Eventually(done, time.Second).Should(Receive(BeNil()))
	})
})
