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

package httpproto_test

import (
	"strings"
	"testing"

	"github.com/nabbar/nxlite/internal/httpproto"
	"github.com/nabbar/nxlite/internal/nxerr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestHTTPProto(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTPProto Suite")
}

var _ = Describe("ParseRequest", func() {
	It("parses a simple GET request", func() {
		raw := "GET /index.html HTTP/1.1\r\nHost: example.com\r\nUser-Agent: curl/8\r\n\r\n"
		req, err := httpproto.ParseRequest([]byte(raw))
		Expect(err).ToNot(HaveOccurred())
		Expect(req.Method).To(Equal("GET"))
		Expect(req.Target).To(Equal("/index.html"))
		Expect(req.Version).To(Equal("HTTP/1.1"))
		Expect(req.ConsumedBytes).To(Equal(len(raw)))

		ua, ok := req.Get("user-agent")
		Expect(ok).To(BeTrue())
		Expect(ua).To(Equal("curl/8"))
	})

	It("leaves the pipelined remainder unconsumed", func() {
		raw := "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"
		req, err := httpproto.ParseRequest([]byte(raw))
		Expect(err).ToNot(HaveOccurred())
		rest := raw[req.ConsumedBytes:]
		Expect(rest).To(Equal("GET /b HTTP/1.1\r\n\r\n"))
	})

	It("fails as malformed with no header terminator", func() {
		_, err := httpproto.ParseRequest([]byte("GET /index.html HTTP/1.1\r\nHost: example.com"))
		Expect(err).To(HaveOccurred())
		Expect(nxerr.KindOf(err)).To(Equal(nxerr.KindMalformed))
	})

	It("fails as malformed when the request line lacks three tokens", func() {
		_, err := httpproto.ParseRequest([]byte("GET /index.html\r\n\r\n"))
		Expect(err).To(HaveOccurred())
		Expect(nxerr.KindOf(err)).To(Equal(nxerr.KindMalformed))
	})

	It("caps headers at MaxHeaders", func() {
		var sb strings.Builder
		sb.WriteString("GET / HTTP/1.1\r\n")
		for i := 0; i < 40; i++ {
			sb.WriteString("X-Custom: v\r\n")
		}
		sb.WriteString("\r\n")

		req, err := httpproto.ParseRequest([]byte(sb.String()))
		Expect(err).ToNot(HaveOccurred())
		Expect(len(req.Headers)).To(Equal(httpproto.MaxHeaders))
	})

	DescribeTable("KeepAlive derivation",
		func(raw string, want bool) {
			req, err := httpproto.ParseRequest([]byte(raw))
			Expect(err).ToNot(HaveOccurred())
			Expect(req.KeepAlive()).To(Equal(want))
		},
		Entry("HTTP/1.1 default on", "GET / HTTP/1.1\r\n\r\n", true),
		Entry("HTTP/1.0 default off", "GET / HTTP/1.0\r\n\r\n", false),
		Entry("HTTP/1.1 with close", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false),
		Entry("HTTP/1.0 with keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true),
	)
})

var _ = Describe("Response", func() {
	It("serializes status line, headers, connection line, and body", func() {
		r := httpproto.NewResponse(200)
		r.AddHeader("Content-Type", "text/html")
		r.Body = []byte("hi")

		out := string(r.Serialize(true))
		Expect(out).To(HavePrefix("HTTP/1.1 200 OK\r\n"))
		Expect(out).To(ContainSubstring("Server: NxLite\r\n"))
		Expect(out).To(ContainSubstring("Content-Type: text/html\r\n"))
		Expect(out).To(ContainSubstring("Connection: keep-alive\r\n"))
		Expect(out).To(HaveSuffix("\r\n\r\nhi"))
	})

	It("uses Connection: close when keepAlive is false", func() {
		r := httpproto.NewResponse(404)
		Expect(string(r.Serialize(false))).To(ContainSubstring("Connection: close\r\n"))
	})

	DescribeTable("ReasonPhrase",
		func(status int, want string) {
			Expect(httpproto.ReasonPhrase(status)).To(Equal(want))
		},
		Entry("200", 200, "OK"),
		Entry("304", 304, "Not Modified"),
		Entry("404", 404, "Not Found"),
		Entry("414", 414, "Request-URI Too Long"),
		Entry("unknown", 999, "Unknown"),
	)
})
