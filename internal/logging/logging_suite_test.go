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

package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nabbar/nxlite/internal/logging"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logging Suite")
}

var _ = Describe("ParseLevel", func() {
	DescribeTable("maps strings to levels",
		func(s string, want logging.Level) {
			Expect(logging.ParseLevel(s)).To(Equal(want))
		},
		Entry("debug", "debug", logging.LevelDebug),
		Entry("warn", "warn", logging.LevelWarn),
		Entry("warning", "warning", logging.LevelWarn),
		Entry("error", "error", logging.LevelError),
		Entry("empty defaults to info", "", logging.LevelInfo),
		Entry("unknown defaults to info", "trace", logging.LevelInfo),
	)
})

var _ = Describe("Logger", func() {
	It("writes access entries to the configured file", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "access.log")

		l, err := logging.New(logging.LevelInfo, path)
		Expect(err).ToNot(HaveOccurred())

		l.LogAccess("127.0.0.1", "GET", "/", 200, 2, time.Millisecond)
		l.Close()

		data, err := os.ReadFile(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"uri":"/"`))
		Expect(string(data)).To(ContainSubstring(`"status":200`))
	})

	It("does not block when the access queue is full", func() {
		l, err := logging.New(logging.LevelError, "")
		Expect(err).ToNot(HaveOccurred())
		defer l.Close()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10000; i++ {
				l.LogAccess("127.0.0.1", "GET", "/", 200, 2, time.Microsecond)
			}
			close(done)
		}()

		Eventually(done, time.Second).Should(BeClosed())
	})
})
