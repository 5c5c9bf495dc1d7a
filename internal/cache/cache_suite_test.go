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

package cache_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/nabbar/nxlite/internal/cache"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

var _ = Describe("Cache", func() {
	It("misses on an empty cache", func() {
		c := cache.New(4, time.Minute, 1<<20)
		_, ok := c.Lookup(cache.Key{Path: "/index.html", Vary: cache.VaryKey("curl/8", "gzip")})
		Expect(ok).To(BeFalse())
	})

	It("hits after an insert with the same composite key", func() {
		c := cache.New(4, time.Minute, 1<<20)
		k := cache.Key{Path: "/index.html", Vary: cache.VaryKey("curl/8", "gzip")}
		c.Insert(k, []byte("hello"))

		got, ok := c.Lookup(k)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal([]byte("hello")))
	})

	It("misses when only the vary component differs", func() {
		c := cache.New(4, time.Minute, 1<<20)
		c.Insert(cache.Key{Path: "/index.html", Vary: cache.VaryKey("curl/8", "gzip")}, []byte("a"))

		_, ok := c.Lookup(cache.Key{Path: "/index.html", Vary: cache.VaryKey("curl/9", "gzip")})
		Expect(ok).To(BeFalse())
	})

	It("refuses entries at or above the max entry size", func() {
		c := cache.New(4, time.Minute, 16)
		k := cache.Key{Path: "/big.bin"}
		c.Insert(k, bytes.Repeat([]byte{1}, 16))

		_, ok := c.Lookup(k)
		Expect(ok).To(BeFalse())
		Expect(c.Len()).To(Equal(0))
	})

	It("accepts an entry just below the max entry size", func() {
		c := cache.New(4, time.Minute, 16)
		k := cache.Key{Path: "/small.bin"}
		c.Insert(k, bytes.Repeat([]byte{1}, 15))

		_, ok := c.Lookup(k)
		Expect(ok).To(BeTrue())
	})

	It("treats an entry older than the TTL as a miss", func() {
		c := cache.New(4, time.Millisecond, 1<<20)
		k := cache.Key{Path: "/stale.html"}
		c.Insert(k, []byte("x"))

		Eventually(func() bool {
			_, ok := c.Lookup(k)
			return ok
		}, time.Second, time.Millisecond).Should(BeFalse())
	})

	It("evicts the oldest slot in FIFO order once capacity is exceeded", func() {
		c := cache.New(2, time.Minute, 1<<20)
		k1 := cache.Key{Path: "/one"}
		k2 := cache.Key{Path: "/two"}
		k3 := cache.Key{Path: "/three"}

		c.Insert(k1, []byte("1"))
		c.Insert(k2, []byte("2"))
		c.Insert(k3, []byte("3"))

		_, ok := c.Lookup(k1)
		Expect(ok).To(BeFalse(), "oldest entry should have been evicted")

		_, ok = c.Lookup(k2)
		Expect(ok).To(BeTrue())
		_, ok = c.Lookup(k3)
		Expect(ok).To(BeTrue())
	})

	It("reports Cacheable according to the configured max entry size", func() {
		c := cache.New(4, time.Minute, 100)
		Expect(c.Cacheable(99)).To(BeTrue())
		Expect(c.Cacheable(100)).To(BeFalse())
		Expect(c.Cacheable(101)).To(BeFalse())
	})

	It("falls back to spec defaults when given zero values", func() {
		c := cache.New(0, 0, 0)
		Expect(c.Cacheable(cache.MaxEntryBytes - 1)).To(BeTrue())
		Expect(c.Cacheable(cache.MaxEntryBytes)).To(BeFalse())
	})
})
