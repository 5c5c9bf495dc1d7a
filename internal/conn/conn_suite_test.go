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

package conn_test

import (
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nabbar/nxlite/internal/cache"
	"github.com/nabbar/nxlite/internal/conn"
	"github.com/nabbar/nxlite/internal/fileserv"
	"github.com/nabbar/nxlite/internal/mempool"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConn(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Conn Suite")
}

// newPair returns a connected socket pair: serverFd (non-blocking, the
// fd a Connection owns) and client (a *net.Conn-like blocking peer the
// test drives directly).
func newPair() (int, net.Conn) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	Expect(err).ToNot(HaveOccurred())
	Expect(unix.SetNonblock(fds[0], true)).To(Succeed())

	f := os.NewFile(uintptr(fds[1]), "client")
	client, err := net.FileConn(f)
	Expect(err).ToNot(HaveOccurred())
	_ = f.Close()

	return fds[0], client
}

// newConn wraps conn.New with a throwaway pool so each test doesn't have
// to thread a *mempool.Local through its own setup.
func newConn(fd int, remoteAddr string, svc *fileserv.Service) *conn.Connection {
	local := mempool.New(conn.BufSize, 4).NewLocal()
	c, err := conn.New(fd, remoteAddr, svc, local)
	Expect(err).ToNot(HaveOccurred())
	return c
}

var _ = Describe("Connection", func() {
	var svc *fileserv.Service

	BeforeEach(func() {
		svc = fileserv.New("./testdata/static", cache.New(0, 0, 0))
	})

	It("serves / with 200, Content-Length, and keep-alive on HTTP/1.1", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)

		_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		Expect(c.OnReadable(nil)).To(Succeed())

		client.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 4096)
		n, err := client.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		resp := string(buf[:n])

		Expect(resp).To(HavePrefix("HTTP/1.1 200"))
		Expect(resp).To(ContainSubstring("Content-Length: 2"))
		Expect(resp).To(ContainSubstring("Connection: keep-alive"))
		Expect(resp).To(HaveSuffix("hi"))
		Expect(c.State).To(Equal(conn.StateReading))
	})

	It("closes after an HTTP/1.0 request with no Connection header", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)

		_, err := client.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		Expect(c.OnReadable(nil)).To(Succeed())
		Expect(c.State).To(Equal(conn.StateClosed))

		client.SetReadDeadline(time.Now().Add(time.Second))
		data, _ := io.ReadAll(client)
		Expect(string(data)).To(ContainSubstring("Connection: close"))
	})

	It("responds 501 to a non-GET/HEAD method and closes", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)

		_, err := client.Write([]byte("PUT / HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		Expect(c.OnReadable(nil)).To(Succeed())

		client.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 4096)
		n, _ := client.Read(buf)
		Expect(string(buf[:n])).To(HavePrefix("HTTP/1.1 501"))
	})

	It("serves two pipelined GETs with responses in arrival order", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)

		req := "GET / HTTP/1.1\r\nHost: x\r\n\r\n"
		_, err := client.Write([]byte(req + req))
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		Expect(c.OnReadable(nil)).To(Succeed())

		client.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 8192)
		n, err := client.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		resp := string(buf[:n])

		Expect(strings.Count(resp, "HTTP/1.1 200")).To(Equal(2))
		Expect(strings.Index(resp, "HTTP/1.1 200")).To(BeNumerically("<", strings.LastIndex(resp, "HTTP/1.1 200")))
	})

	It("returns 404 but keeps the connection alive", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)

		_, err := client.Write([]byte("GET /nope HTTP/1.1\r\nHost: x\r\n\r\n"))
		Expect(err).ToNot(HaveOccurred())
		time.Sleep(20 * time.Millisecond)

		Expect(c.OnReadable(nil)).To(Succeed())

		client.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 4096)
		n, _ := client.Read(buf)
		resp := string(buf[:n])
		Expect(resp).To(HavePrefix("HTTP/1.1 404"))
		Expect(resp).To(ContainSubstring("Connection: keep-alive"))
		Expect(c.State).To(Equal(conn.StateReading))
	})

	It("destroys the connection once the idle timeout elapses", func() {
		fd, client := newPair()
		defer client.Close()
		c := newConn(fd, "127.0.0.1", svc)
		c.LastActivity = time.Now().Add(-time.Hour)

		c.OnTimer(time.Now(), time.Minute)
		Expect(c.State).To(Equal(conn.StateClosed))
	})

	It("destroys the connection on peer hang-up", func() {
		fd, client := newPair()
		c := newConn(fd, "127.0.0.1", svc)
		client.Close()

		time.Sleep(10 * time.Millisecond)
		Expect(c.OnReadable(nil)).To(Succeed())
		Expect(c.State).To(Equal(conn.StateClosed))
	})
})
