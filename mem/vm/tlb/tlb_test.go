package tlb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

func page(vpn, ppn uint64, asid uint16) tlb.Entry {
	return tlb.Entry{
		VPN:      vpn,
		PPN:      ppn,
		ASID:     asid,
		Flags:    vm.FlagValid | vm.FlagRead,
		PageSize: vm.PageSize,
	}
}

func globalPage(vpn, ppn uint64) tlb.Entry {
	e := page(vpn, ppn, 0)
	e.Flags |= vm.FlagGlobal

	return e
}

var _ = Describe("Cache", func() {
	var (
		c *tlb.Cache
	)

	BeforeEach(func() {
		c = tlb.NewCache(2, tlb.LRU)
	})

	It("should evict the least recently used entry", func() {
		c.Insert(page(1, 10, 0))
		c.Insert(page(2, 20, 0))

		_, hit := c.Lookup(1, 0)
		Expect(hit).To(BeTrue())

		evicted, ok := c.Insert(page(3, 30, 0))

		Expect(ok).To(BeTrue())
		Expect(evicted.VPN).To(Equal(uint64(2)))
		Expect(c.Contains(1, 0)).To(BeTrue())
		Expect(c.Contains(2, 0)).To(BeFalse())
		Expect(c.Contains(3, 0)).To(BeTrue())
	})

	It("should return what was inserted", func() {
		e := page(7, 70, 3)
		e.Flags |= vm.FlagWrite | vm.FlagDirty

		c.Insert(e)
		got, ok := c.Lookup(7, 3)

		Expect(ok).To(BeTrue())
		Expect(got.PPN).To(Equal(uint64(70)))
		Expect(got.Flags).To(Equal(e.Flags))
		Expect(got.ASID).To(Equal(uint16(3)))
		Expect(got.Translate(0x7abc)).To(Equal(vm.GPA(0x46abc)))
	})

	It("should overwrite an entry inserted twice", func() {
		c.Insert(page(1, 10, 0))
		_, ok := c.Insert(page(1, 11, 0))

		Expect(ok).To(BeFalse())
		Expect(c.Len()).To(Equal(1))

		got, _ := c.Lookup(1, 0)
		Expect(got.PPN).To(Equal(uint64(11)))
	})

	It("should keep address spaces apart", func() {
		c.Insert(page(5, 50, 1))

		_, ok := c.Lookup(5, 2)
		Expect(ok).To(BeFalse())

		c.Insert(page(5, 60, 2))
		a, _ := c.Lookup(5, 1)
		b, _ := c.Lookup(5, 2)

		Expect(a.PPN).To(Equal(uint64(50)))
		Expect(b.PPN).To(Equal(uint64(60)))
	})

	It("should count lookups", func() {
		c.Insert(page(1, 10, 0))

		c.Lookup(1, 0)
		c.Lookup(1, 0)
		c.Lookup(2, 0)

		s := c.Stats()
		Expect(s.Lookups).To(Equal(uint64(3)))
		Expect(s.Hits).To(Equal(uint64(2)))
		Expect(s.Misses).To(Equal(uint64(1)))
		Expect(s.Resident).To(Equal(1))
		Expect(s.HitRate()).To(BeNumerically("~", 2.0/3.0))
	})

	It("should give hot entries a second chance", func() {
		hot := page(1, 10, 0)
		hot.HotMark = true

		c.Insert(hot)
		c.Insert(page(2, 20, 0))

		evicted, _ := c.Insert(page(3, 30, 0))
		Expect(evicted.VPN).To(Equal(uint64(2)))

		evicted, _ = c.Insert(page(4, 40, 0))
		Expect(evicted.VPN).To(Equal(uint64(1)))
	})

	DescribeTable("should spare a hot entry once under every policy",
		func(p tlb.ReplacementPolicy) {
			c = tlb.NewCache(2, p)

			hot := page(1, 10, 0)
			hot.HotMark = true
			c.Insert(hot)
			c.Insert(page(2, 20, 0))
			c.Lookup(2, 0)

			evicted, ok := c.Insert(page(3, 30, 0))

			Expect(ok).To(BeTrue())
			Expect(evicted.VPN).To(Equal(uint64(2)))
			Expect(c.Contains(1, 0)).To(BeTrue())
		},
		Entry("LRU", tlb.LRU),
		Entry("LFU", tlb.LFU),
		Entry("FIFO", tlb.FIFO),
		Entry("Random", tlb.Random),
		Entry("Clock", tlb.Clock),
		Entry("2Q", tlb.TwoQueue),
		Entry("Hybrid", tlb.Hybrid),
	)

	It("should list entries in page order", func() {
		c = tlb.NewCache(8, tlb.FIFO)
		c.Insert(page(9, 1, 0))
		c.Insert(page(3, 2, 1))
		c.Insert(page(3, 3, 0))

		entries := c.Entries()

		Expect(entries).To(HaveLen(3))
		Expect(entries[0].PPN).To(Equal(uint64(3)))
		Expect(entries[1].PPN).To(Equal(uint64(2)))
		Expect(entries[2].VPN).To(Equal(uint64(9)))
	})

	Context("with global entries", func() {
		BeforeEach(func() {
			c = tlb.NewCache(16, tlb.LRU)
			c.Insert(globalPage(0x100, 1))
			c.Insert(page(0x200, 2, 1))
		})

		It("should match every address space", func() {
			_, ok := c.Lookup(0x100, 7)
			Expect(ok).To(BeTrue())
		})

		It("should survive ASID invalidation", func() {
			Expect(c.InvalidateASID(1)).To(Equal(1))

			Expect(c.Contains(0x100, 1)).To(BeTrue())
			Expect(c.Contains(0x200, 1)).To(BeFalse())
		})

		It("should survive non-global invalidation", func() {
			c.Insert(page(0x300, 3, 2))

			Expect(c.InvalidateNonGlobal()).To(Equal(2))
			Expect(c.Len()).To(Equal(1))
		})

		It("should be dropped by page invalidation", func() {
			Expect(c.Invalidate(0x100)).To(Equal(1))
			Expect(c.Contains(0x100, 0)).To(BeFalse())
		})
	})

	Context("when invalidating", func() {
		BeforeEach(func() {
			c = tlb.NewCache(64, tlb.LRU)

			for vpn := uint64(0); vpn < 10; vpn++ {
				c.Insert(page(vpn, vpn, 1))
				c.Insert(page(vpn, vpn+100, 2))
			}
		})

		It("should drop every entry of an ASID and nothing else", func() {
			Expect(c.InvalidateASID(1)).To(Equal(10))

			for vpn := uint64(0); vpn < 10; vpn++ {
				Expect(c.Contains(vpn, 1)).To(BeFalse())
				Expect(c.Contains(vpn, 2)).To(BeTrue())
			}
		})

		It("should drop a page from every ASID", func() {
			Expect(c.Invalidate(4)).To(Equal(2))
			Expect(c.Len()).To(Equal(18))
		})

		It("should drop a half-open range", func() {
			Expect(c.InvalidateRange(4, 8)).To(Equal(8))

			Expect(c.Contains(3, 1)).To(BeTrue())
			Expect(c.Contains(4, 1)).To(BeFalse())
			Expect(c.Contains(7, 2)).To(BeFalse())
			Expect(c.Contains(8, 2)).To(BeTrue())
		})

		It("should drop everything", func() {
			Expect(c.InvalidateAll()).To(Equal(20))
			Expect(c.Len()).To(BeZero())
			Expect(c.Stats().Resident).To(BeZero())

			c.Insert(page(1, 1, 1))
			Expect(c.Len()).To(Equal(1))
		})

		It("should do nothing for unknown pages", func() {
			Expect(c.Invalidate(1000)).To(BeZero())
			Expect(c.InvalidateASID(9)).To(BeZero())
		})
	})

	DescribeTable("should never exceed its capacity",
		func(p tlb.ReplacementPolicy) {
			c = tlb.NewCache(8, p)

			for vpn := uint64(0); vpn < 100; vpn++ {
				c.Insert(page(vpn, vpn, uint16(vpn%3)))
				c.Lookup(vpn/2, uint16(vpn%3))

				Expect(c.Len()).To(BeNumerically("<=", 8))
			}

			Expect(c.Len()).To(Equal(8))
			Expect(c.Stats().Evictions).To(Equal(uint64(92)))
		},
		Entry("LRU", tlb.LRU),
		Entry("LFU", tlb.LFU),
		Entry("FIFO", tlb.FIFO),
		Entry("Random", tlb.Random),
		Entry("Clock", tlb.Clock),
		Entry("2Q", tlb.TwoQueue),
		Entry("Hybrid", tlb.Hybrid),
	)

	It("should refuse a zero capacity", func() {
		Expect(func() { tlb.NewCache(0, tlb.LRU) }).To(Panic())
	})
})

var _ = DescribeTable("ParseReplacementPolicy",
	func(name string, want tlb.ReplacementPolicy) {
		p, err := tlb.ParseReplacementPolicy(name)

		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(want))
		Expect(tlb.ParseReplacementPolicy(p.String())).To(Equal(want))
	},
	Entry("lru", "lru", tlb.LRU),
	Entry("upper case", "LFU", tlb.LFU),
	Entry("2q", "2q", tlb.TwoQueue),
	Entry("twoqueue", "TwoQueue", tlb.TwoQueue),
	Entry("hybrid", " hybrid ", tlb.Hybrid),
)

var _ = It("should reject unknown replacement policies", func() {
	_, err := tlb.ParseReplacementPolicy("mru")
	Expect(err).To(HaveOccurred())
})
