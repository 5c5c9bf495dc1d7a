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

package mempool_test

import (
	"sync"
	"testing"

	"github.com/nabbar/nxlite/internal/mempool"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMempool(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mempool Suite")
}

var _ = Describe("Pool", func() {
	It("rounds the block size up to a cache-line multiple", func() {
		p := mempool.New(100, 8)
		Expect(p.BlockSize()).To(Equal(128))
	})

	It("allocates and releases without leaking used blocks", func() {
		p := mempool.New(64, 4)
		l := p.NewLocal()

		var blocks []*mempool.Block
		for i := 0; i < 10; i++ {
			b, err := l.Allocate()
			Expect(err).ToNot(HaveOccurred())
			blocks = append(blocks, b)
		}
		Expect(p.UsedBlocks()).To(Equal(10))

		for _, b := range blocks {
			Expect(l.Release(b)).To(Succeed())
		}
		Expect(p.UsedBlocks()).To(Equal(0))
	})

	It("grows the pool by slabs on demand", func() {
		p := mempool.New(32, 2)
		l := p.NewLocal()

		for i := 0; i < 20; i++ {
			_, err := l.Allocate()
			Expect(err).ToNot(HaveOccurred())
		}
	})

	It("reports an owning Owns check true for blocks it minted", func() {
		p := mempool.New(16, 4)
		other := mempool.New(16, 4)
		l := p.NewLocal()

		b, err := l.Allocate()
		Expect(err).ToNot(HaveOccurred())

		Expect(p.Owns(b)).To(BeTrue())
		Expect(other.Owns(b)).To(BeFalse())
	})

	It("rejects releasing a foreign block", func() {
		p := mempool.New(16, 4)
		other := mempool.New(16, 4)
		lp := p.NewLocal()
		lo := other.NewLocal()

		b, err := lp.Allocate()
		Expect(err).ToNot(HaveOccurred())

		Expect(lo.Release(b)).To(MatchError(mempool.ErrForeign))
	})

	It("bulk-flushes half of the local list back to global at 2B", func() {
		p := mempool.New(8, 256)
		l := p.NewLocal()

		var blocks []*mempool.Block
		for i := 0; i < 200; i++ {
			b, err := l.Allocate()
			Expect(err).ToNot(HaveOccurred())
			blocks = append(blocks, b)
		}
		for _, b := range blocks {
			Expect(l.Release(b)).To(Succeed())
		}
		// Released more than 2B (128) blocks into one local list: some
		// must have been flushed back to the global free-list, so a
		// second Local can still allocate without growing further.
		l2 := p.NewLocal()
		b, err := l2.Allocate()
		Expect(err).ToNot(HaveOccurred())
		Expect(p.Owns(b)).To(BeTrue())
	})

	It("is safe under concurrent allocate/release across goroutines", func() {
		p := mempool.New(64, 16)
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l := p.NewLocal()
				for i := 0; i < 500; i++ {
					b, err := l.Allocate()
					Expect(err).ToNot(HaveOccurred())
					Expect(l.Release(b)).To(Succeed())
				}
			}()
		}
		wg.Wait()
		Expect(p.UsedBlocks()).To(Equal(0))
	})
})
