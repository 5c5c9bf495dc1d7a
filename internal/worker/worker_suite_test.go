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

//go:build unix

package worker_test

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nabbar/nxlite/internal/cache"
	"github.com/nabbar/nxlite/internal/fileserv"
	"github.com/nabbar/nxlite/internal/sockopt"
	"github.com/nabbar/nxlite/internal/worker"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

// listenerFd builds a loopback TCP listener the way the master would,
// extracts its raw fd, and sets it non-blocking so it can be registered
// with the poller directly.
func listenerFd() (int, string) {
	ln, err := sockopt.NewListener("tcp", "127.0.0.1:0", sockopt.DefaultListenerOptions)
	Expect(err).ToNot(HaveOccurred())

	tcpLn := ln.(*net.TCPListener)
	raw, err := tcpLn.SyscallConn()
	Expect(err).ToNot(HaveOccurred())

	var fd int
	Expect(raw.Control(func(f uintptr) {
		dup, dErr := unix.Dup(int(f))
		Expect(dErr).ToNot(HaveOccurred())
		fd = dup
	})).To(Succeed())
	Expect(unix.SetNonblock(fd, true)).To(Succeed())

	addr := tcpLn.Addr().String()
	Expect(tcpLn.Close()).To(Succeed())
	return fd, addr
}

var _ = Describe("Worker", func() {
	var (
		root string
	)

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(root, "index.html"), []byte("hello from worker"), 0o644)).To(Succeed())
	})

	It("accepts a connection and serves a static file end to end", func() {
		fd, addr := listenerFd()
		svc := fileserv.New(root, cache.New(16, time.Minute, 1<<20))

		w, err := worker.New(worker.Config{
			ID:               0,
			ListenerFd:       fd,
			Root:             root,
			KeepAliveTimeout: 2 * time.Second,
			MaxConnections:   16,
			ConnOptions:      sockopt.DefaultConnOptions,
		}, svc, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- w.Run(stop) }()
		defer func() {
			close(stop)
			Eventually(done, time.Second).Should(Receive())
		}()

		var conn net.Conn
		Eventually(func() error {
			var dialErr error
			conn, dialErr = net.DialTimeout("tcp", addr, 200*time.Millisecond)
			return dialErr
		}, time.Second, 10*time.Millisecond).Should(Succeed())
		defer conn.Close()

		_, err = fmt.Fprintf(conn, "GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
		Expect(err).ToNot(HaveOccurred())

		reader := bufio.NewReader(conn)
		statusLine, err := reader.ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(statusLine).To(ContainSubstring("200"))
	})

	It("closes new connections once MaxConnections is reached", func() {
		fd, addr := listenerFd()
		svc := fileserv.New(root, cache.New(16, time.Minute, 1<<20))

		w, err := worker.New(worker.Config{
			ID:               0,
			ListenerFd:       fd,
			Root:             root,
			KeepAliveTimeout: 2 * time.Second,
			MaxConnections:   1,
			ConnOptions:      sockopt.DefaultConnOptions,
		}, svc, nil, nil)
		Expect(err).ToNot(HaveOccurred())

		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- w.Run(stop) }()
		defer func() {
			close(stop)
			Eventually(done, time.Second).Should(Receive())
		}()

		// The first connection is served and kept alive, filling the table.
		first, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		defer first.Close()
		_, err = fmt.Fprintf(first, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
		Expect(err).ToNot(HaveOccurred())
		statusLine, err := bufio.NewReader(first).ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(statusLine).To(ContainSubstring("200"))

		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()
		_, err = fmt.Fprintf(conn, "GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n")
		Expect(err).ToNot(HaveOccurred())

		// The second is closed by the worker, not left to time out.
		buf := make([]byte, 1)
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		n, readErr := conn.Read(buf)
		Expect(n).To(Equal(0))
		Expect(readErr).To(HaveOccurred())
		var netErr net.Error
		Expect(errors.As(readErr, &netErr) && netErr.Timeout()).To(BeFalse())
	})
})
