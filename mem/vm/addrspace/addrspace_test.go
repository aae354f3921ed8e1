package addrspace

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/sim"
)

func buildTestSystem(userPages uint32) (
	*machine.Machine,
	*coremap.FrameTable,
	*Manager,
) {
	m := machine.MakeBuilder().
		WithKernelImageSize(16 * vm.PageSize).
		WithRAMSize((16 + userPages) * vm.PageSize).
		Build("Machine")

	frames := coremap.MakeBuilder().WithMachine(m).Build("Coremap")
	frames.Bootstrap()

	manager := MakeBuilder().
		WithFrameAllocator(frames).
		WithPhysicalMemory(m.RAM).
		WithTLB(m.TLB).
		WithInterrupts(m.CPU).
		Build("AddrSpaceManager")

	return m, frames, manager
}

var _ = Describe("AddressSpace", func() {
	var (
		m       *machine.Machine
		frames  *coremap.FrameTable
		manager *Manager
		as      *AddressSpace
	)

	BeforeEach(func() {
		m, frames, manager = buildTestSystem(1008)
		as = manager.Create()
	})

	It("should give each space its own id", func() {
		other := manager.Create()

		Expect(as.ID()).To(Equal(vm.ASID("1")))
		Expect(other.ID()).To(Equal(vm.ASID("2")))
		Expect(as.Name()).To(Equal("AddrSpace.1"))
	})

	Context("when defining regions", func() {
		It("should page align the region", func() {
			r, err := as.DefineRegion(0x400010, 0x1ff0+1, PermRead|PermExecute)

			Expect(err).NotTo(HaveOccurred())
			Expect(r.VBase).To(Equal(vm.VAddr(0x400000)))
			Expect(r.NumPages).To(Equal(uint32(3)))
			Expect(r.Perm.String()).To(Equal("r-x"))
			Expect(as.Regions()).To(HaveLen(1))
		})

		It("should reject an empty region", func() {
			_, err := as.DefineRegion(0x400000, 0, PermRead)

			Expect(err).To(MatchError(vm.ErrInvalid))
		})

		It("should reject a region above user space", func() {
			_, err := as.DefineRegion(0x7ffff000, 2*vm.PageSize, PermRead)

			Expect(err).To(MatchError(vm.ErrInvalid))
		})

		It("should reject a region overlapping the stack", func() {
			_, err := as.DefineRegion(vm.StackBase-vm.PageSize,
				2*vm.PageSize, PermRead)

			Expect(err).To(MatchError(vm.ErrRegionOverlap))
			Expect(err).To(MatchError(vm.ErrInvalid))
		})

		It("should reject overlapping regions", func() {
			_, err := as.DefineRegion(0x400000, 4*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())

			_, err = as.DefineRegion(0x403000, vm.PageSize, PermRead)

			Expect(err).To(MatchError(vm.ErrRegionOverlap))
			Expect(as.Regions()).To(HaveLen(1))
		})

		It("should accept adjacent regions", func() {
			_, err := as.DefineRegion(0x400000, 4*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())

			_, err = as.DefineRegion(0x404000, vm.PageSize, PermRead|PermWrite)

			Expect(err).NotTo(HaveOccurred())
		})

		It("should reject regions after loading", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			_, err := as.DefineRegion(0x400000, vm.PageSize, PermRead)

			Expect(err).To(MatchError(vm.ErrInvalid))
		})
	})

	Context("when loading", func() {
		BeforeEach(func() {
			_, err := as.DefineRegion(0x400000, 3*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())
			_, err = as.DefineRegion(0x10000000, 2*vm.PageSize, PermRead|PermWrite)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should map every page of every region", func() {
			Expect(as.PrepareLoad()).To(Succeed())
			Expect(as.CompleteLoad()).To(Succeed())

			Expect(as.Loaded()).To(BeTrue())
			Expect(as.PageTable().Len()).To(Equal(5))
			Expect(as.NumPages()).To(Equal(5 + vm.StackPages))
			Expect(frames.Stats().Dirty).To(Equal(5 + vm.StackPages))

			regions := as.Regions()
			for _, r := range regions {
				for p := uint32(0); p < r.NumPages; p++ {
					pFrame, found := as.PageTable().
						Find(r.VBase + vm.VAddr(p*vm.PageSize))

					Expect(found).To(BeTrue())
					Expect(pFrame).To(Equal(r.PBase + vm.PAddr(p*vm.PageSize)))

					f, _ := frames.Lookup(pFrame)
					Expect(f.Owner).To(Equal(as.ID()))
				}
			}
		})

		It("should zero the frames", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			data, err := m.RAM.Read(as.Regions()[0].PBase, 3*vm.PageSize)

			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(make([]byte, 3*vm.PageSize)))
		})

		It("should panic when loaded twice", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			Expect(func() { _ = as.PrepareLoad() }).To(Panic())
		})

		It("should define the stack at the top of user space", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			Expect(as.DefineStack()).To(Equal(vm.VAddr(vm.UserStack)))
		})

		It("should panic when defining the stack before loading", func() {
			Expect(func() { as.DefineStack() }).To(Panic())
		})

		It("should translate addresses", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			paddr, err := as.Translate(0x10001234)
			Expect(err).NotTo(HaveOccurred())
			Expect(paddr).To(Equal(as.Regions()[1].PBase + 0x1234))

			paddr, err = as.Translate(vm.UserStack - 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(paddr).To(Equal(
				as.StackPBase() + vm.StackPages*vm.PageSize - 4))

			_, err = as.Translate(0x20000000)
			Expect(err).To(MatchError(vm.ErrFault))
		})
	})

	Context("when memory runs out during loading", func() {
		BeforeEach(func() {
			// 40 pages leave 39 frames after the frame records.
			m, frames, manager = buildTestSystem(40)
			as = manager.Create()
		})

		It("should release everything it allocated", func() {
			_, err := as.DefineRegion(0x400000, 20*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())
			_, err = as.DefineRegion(0x500000, 10*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())

			err = as.PrepareLoad()

			Expect(err).To(MatchError(vm.ErrNoMemory))
			Expect(as.Loaded()).To(BeFalse())
			Expect(as.PageTable().Len()).To(BeZero())
			Expect(frames.Stats().Free).To(Equal(39))
			for _, r := range as.Regions() {
				Expect(r.PBase).To(BeZero())
			}
		})

		It("should be loadable once memory is available", func() {
			_, err := as.DefineRegion(0x400000, 20*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())

			hog, err := frames.AllocUserPages(30, "hog")
			Expect(err).NotTo(HaveOccurred())
			Expect(as.PrepareLoad()).To(MatchError(vm.ErrNoMemory))

			frames.FreeUserPages(hog)

			Expect(as.PrepareLoad()).To(Succeed())
		})
	})

	Context("when copying", func() {
		BeforeEach(func() {
			_, err := as.DefineRegion(0x400000, 2*vm.PageSize, PermRead|PermWrite)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should copy an unloaded space without frames", func() {
			child, err := as.Copy()

			Expect(err).NotTo(HaveOccurred())
			Expect(child.ID()).NotTo(Equal(as.ID()))
			Expect(child.Loaded()).To(BeFalse())
			Expect(child.Regions()).To(Equal(as.Regions()))
		})

		It("should create an independent copy", func() {
			Expect(as.PrepareLoad()).To(Succeed())
			parentPAddr, _ := as.Translate(0x401010)
			parentStack, _ := as.Translate(vm.UserStack - 8)
			Expect(m.RAM.Write(parentPAddr, []byte{1, 2, 3, 4})).To(Succeed())
			Expect(m.RAM.Write(parentStack, []byte{9, 9})).To(Succeed())

			child, err := as.Copy()
			Expect(err).NotTo(HaveOccurred())

			childPAddr, _ := child.Translate(0x401010)
			childStack, _ := child.Translate(vm.UserStack - 8)
			Expect(childPAddr).NotTo(Equal(parentPAddr))

			data, _ := m.RAM.Read(childPAddr, 4)
			Expect(data).To(Equal([]byte{1, 2, 3, 4}))
			data, _ = m.RAM.Read(childStack, 2)
			Expect(data).To(Equal([]byte{9, 9}))

			Expect(m.RAM.Write(parentPAddr, []byte{5})).To(Succeed())
			data, _ = m.RAM.Read(childPAddr, 1)
			Expect(data).To(Equal([]byte{1}))

			f, _ := frames.Lookup(childPAddr)
			Expect(f.Owner).To(Equal(child.ID()))
		})

		It("should leave nothing behind when out of memory", func() {
			m, frames, manager = buildTestSystem(40)
			as = manager.Create()
			_, err := as.DefineRegion(0x400000, 10*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(as.PrepareLoad()).To(Succeed())
			free := frames.Stats().Free

			child, err := as.Copy()

			Expect(err).To(MatchError(vm.ErrNoMemory))
			Expect(child).To(BeNil())
			Expect(frames.Stats().Free).To(Equal(free))
		})
	})

	Context("when destroying", func() {
		It("should return every frame", func() {
			_, err := as.DefineRegion(0x400000, 5*vm.PageSize, PermRead)
			Expect(err).NotTo(HaveOccurred())
			Expect(as.PrepareLoad()).To(Succeed())

			destroyed := []vm.ASID{}
			manager.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosSpaceDestroy {
					destroyed = append(destroyed, ctx.Item.(vm.ASID))
				}
			}))

			as.Destroy()

			Expect(frames.Stats().Free).To(Equal(frames.NumFrames()))
			Expect(frames.CheckPartition()).To(Succeed())
			Expect(as.Loaded()).To(BeFalse())
			Expect(as.Regions()).To(BeEmpty())
			Expect(destroyed).To(Equal([]vm.ASID{as.ID()}))
		})

		It("should be harmless twice", func() {
			Expect(as.PrepareLoad()).To(Succeed())

			as.Destroy()
			as.Destroy()

			Expect(frames.Stats().Free).To(Equal(frames.NumFrames()))
		})
	})
})

var _ = Describe("Manager", func() {
	var (
		mockCtrl   *gomock.Controller
		tlb        *MockTLB
		interrupts *MockInterrupts
		manager    *Manager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tlb = NewMockTLB(mockCtrl)
		interrupts = NewMockInterrupts(mockCtrl)

		_, frames, _ := buildTestSystem(64)
		manager = MakeBuilder().
			WithFrameAllocator(frames).
			WithPhysicalMemory(machine.NewStorage(64 * vm.PageSize)).
			WithTLB(tlb).
			WithInterrupts(interrupts).
			Build("AddrSpaceManager")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic when built without dependencies", func() {
		Expect(func() { MakeBuilder().Build("Empty") }).To(Panic())
	})

	It("should invalidate every tlb entry with interrupts off", func() {
		as := manager.Create()
		activated := []vm.ASID{}
		manager.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos == HookPosSpaceActivate {
				activated = append(activated, ctx.Item.(vm.ASID))
			}
		}))

		splHigh := interrupts.EXPECT().SplHigh().Return(machine.IPLNone)
		tlb.EXPECT().NumEntries().Return(4).AnyTimes()
		var writes []*gomock.Call
		for i := 0; i < 4; i++ {
			writes = append(writes,
				tlb.EXPECT().Write(i, machine.InvalidTLBEntry(i)).After(splHigh))
		}
		interrupts.EXPECT().Splx(machine.IPLNone).After(writes[3])

		manager.Activate(as)

		Expect(activated).To(Equal([]vm.ASID{as.ID()}))
	})

	It("should flush the tlb for a kernel thread", func() {
		interrupts.EXPECT().SplHigh().Return(machine.IPLHigh)
		tlb.EXPECT().NumEntries().Return(2).AnyTimes()
		tlb.EXPECT().Write(0, machine.InvalidTLBEntry(0))
		tlb.EXPECT().Write(1, machine.InvalidTLBEntry(1))
		interrupts.EXPECT().Splx(machine.IPLHigh)

		manager.Activate(nil)
	})
})

var _ = Describe("Activate on the hardware tlb", func() {
	It("should leave no valid entry", func() {
		m, _, manager := buildTestSystem(64)
		spl := m.CPU.SplHigh()
		m.TLB.Write(3, machine.TLBEntry{
			Hi: 0x400000,
			Lo: 0x20000 | machine.TLBLoValid | machine.TLBLoDirty,
		})
		m.CPU.Splx(spl)

		manager.Activate(manager.Create())

		Expect(m.TLB.NumValid()).To(BeZero())
		Expect(m.CPU.InterruptsOff()).To(BeFalse())
	})
})
