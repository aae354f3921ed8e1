package fault

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/omegavm/machine"
	"github.com/sarchlab/omegavm/mem/vm"
	"github.com/sarchlab/omegavm/mem/vm/addrspace"
	"github.com/sarchlab/omegavm/mem/vm/coremap"
	"github.com/sarchlab/omegavm/sim"
)

type testSystem struct {
	machine *machine.Machine
	frames  *coremap.FrameTable
	spaces  *addrspace.Manager
	current *addrspace.AddressSpace
	handler *Handler
}

func newTestSystem(numTLB int) *testSystem {
	s := &testSystem{}

	s.machine = machine.MakeBuilder().
		WithKernelImageSize(16 * vm.PageSize).
		WithRAMSize(1024 * vm.PageSize).
		WithNumTLB(numTLB).
		Build("Machine")

	s.frames = coremap.MakeBuilder().WithMachine(s.machine).Build("Coremap")
	s.frames.Bootstrap()

	s.spaces = addrspace.MakeBuilder().
		WithFrameAllocator(s.frames).
		WithPhysicalMemory(s.machine.RAM).
		WithTLB(s.machine.TLB).
		WithInterrupts(s.machine.CPU).
		Build("AddrSpaceManager")

	s.handler = MakeBuilder().
		WithTLB(s.machine.TLB).
		WithInterrupts(s.machine.CPU).
		WithCurrentSpace(CurrentSpaceFunc(func() *addrspace.AddressSpace {
			return s.current
		})).
		Build("FaultHandler")

	return s
}

func (s *testSystem) loadSpace() *addrspace.AddressSpace {
	as := s.spaces.Create()

	_, err := as.DefineRegion(0x400000, 3*vm.PageSize, addrspace.PermRead)
	Expect(err).NotTo(HaveOccurred())
	Expect(as.PrepareLoad()).To(Succeed())
	Expect(as.CompleteLoad()).To(Succeed())

	s.current = as
	s.spaces.Activate(as)

	return as
}

func (s *testSystem) slot(i int) machine.TLBEntry {
	spl := s.machine.CPU.SplHigh()
	defer s.machine.CPU.Splx(spl)

	return s.machine.TLB.Read(i)
}

var _ = Describe("Handler", func() {
	var (
		s       *testSystem
		as      *addrspace.AddressSpace
		records []Record
	)

	BeforeEach(func() {
		s = newTestSystem(machine.NumTLB)
		as = s.loadSpace()
		records = nil
		s.handler.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			records = append(records, ctx.Item.(Record))
		}))
	})

	It("should refill the first free slot for a region page", func() {
		pFrame, found := as.PageTable().Find(0x401000)
		Expect(found).To(BeTrue())

		err := s.handler.Fault(vm.FaultRead, 0x401abc)

		Expect(err).NotTo(HaveOccurred())
		entry := s.slot(0)
		Expect(entry.Hi).To(Equal(uint32(0x401000)))
		Expect(entry.Lo).To(Equal(
			uint32(pFrame) | machine.TLBLoDirty | machine.TLBLoValid))
		Expect(s.machine.CPU.InterruptsOff()).To(BeFalse())
		Expect(records).To(HaveLen(1))
		Expect(records[0].Slot).To(Equal(0))
		Expect(records[0].PAddr).To(Equal(pFrame))
	})

	It("should use the next slot on the next fault", func() {
		Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())
		Expect(s.handler.Fault(vm.FaultWrite, 0x402ffc)).To(Succeed())

		Expect(s.slot(1).VPage()).To(Equal(vm.VAddr(0x402000)))
		Expect(s.machine.TLB.NumValid()).To(Equal(2))
	})

	It("should map the stack", func() {
		err := s.handler.Fault(vm.FaultWrite, vm.UserStack-4)

		Expect(err).NotTo(HaveOccurred())
		entry := s.slot(0)
		Expect(entry.VPage()).To(Equal(vm.VAddr(vm.UserStack - vm.PageSize)))
		Expect(entry.PFrame()).To(Equal(
			as.StackPBase() + (vm.StackPages-1)*vm.PageSize))
	})

	It("should map the lowest stack page", func() {
		Expect(s.handler.Fault(vm.FaultRead, vm.StackBase)).To(Succeed())

		Expect(s.slot(0).PFrame()).To(Equal(as.StackPBase()))
	})

	It("should resolve every stack address", func() {
		for addr := vm.VAddr(vm.StackBase); addr < vm.UserStack; addr += 1024 {
			Expect(s.handler.Fault(vm.FaultRead, addr)).To(Succeed())
		}

		Expect(s.machine.TLB.NumValid()).To(Equal(vm.StackPages))
	})

	It("should keep the slot of a page that is already mapped", func() {
		Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())
		Expect(s.handler.Fault(vm.FaultWrite, 0x401000)).To(Succeed())

		Expect(s.handler.Fault(vm.FaultRead, 0x400abc)).To(Succeed())

		Expect(s.machine.TLB.NumValid()).To(Equal(2))
		Expect(records[2].Slot).To(Equal(0))
		Expect(records[2].Err).NotTo(HaveOccurred())
	})

	It("should let the access through once refilled", func() {
		Expect(s.handler.Fault(vm.FaultRead, 0x400010)).To(Succeed())

		paddr, ex := s.machine.TLB.Translate(0x400010, true)

		Expect(ex).To(Equal(machine.ExNone))
		Expect(paddr).To(Equal(as.Regions()[0].PBase + 0x10))
	})

	It("should reject an unknown fault type", func() {
		err := s.handler.Fault(vm.FaultType(7), 0x400000)

		Expect(err).To(MatchError(vm.ErrInvalid))
		Expect(s.machine.TLB.NumValid()).To(BeZero())
		Expect(records[0].Err).To(HaveOccurred())
	})

	It("should panic on a read-only fault", func() {
		Expect(func() {
			_ = s.handler.Fault(vm.FaultReadOnly, 0x400000)
		}).To(Panic())
	})

	It("should fail without an address space", func() {
		s.current = nil

		err := s.handler.Fault(vm.FaultRead, 0x400000)

		Expect(err).To(MatchError(vm.ErrFault))
	})

	It("should fail outside any region", func() {
		err := s.handler.Fault(vm.FaultRead, 0x403000)

		Expect(err).To(MatchError(vm.ErrFault))
		Expect(vm.Errno(err)).To(Equal(vm.EFAULT))
		Expect(s.machine.TLB.NumValid()).To(BeZero())
	})

	It("should fail on a stack page of an unloaded space", func() {
		s.current = s.spaces.Create()

		err := s.handler.Fault(vm.FaultRead, vm.UserStack-4)

		Expect(err).To(MatchError(vm.ErrFault))
	})

	It("should fail on a region that was never loaded", func() {
		unloaded := s.spaces.Create()
		_, err := unloaded.DefineRegion(0x400000, vm.PageSize, addrspace.PermRead)
		Expect(err).NotTo(HaveOccurred())
		s.current = unloaded

		err = s.handler.Fault(vm.FaultRead, 0x400000)

		Expect(err).To(MatchError(vm.ErrFault))
	})

	It("should start over after activation", func() {
		Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())

		s.spaces.Activate(as)
		Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())

		Expect(s.machine.TLB.NumValid()).To(Equal(1))
		Expect(s.slot(0).VPage()).To(Equal(vm.VAddr(0x400000)))
	})

	It("should keep two machines apart", func() {
		other := newTestSystem(machine.NumTLB)
		otherAS := other.loadSpace()

		Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())
		Expect(other.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())

		Expect(s.slot(0).PFrame()).To(Equal(as.Regions()[0].PBase))
		Expect(other.slot(0).PFrame()).To(Equal(otherAS.Regions()[0].PBase))
	})

	It("should panic on shootdowns", func() {
		Expect(func() { s.handler.TLBShootdownAll() }).To(Panic())
		Expect(func() {
			s.handler.TLBShootdown(&Shootdown{VAddr: 0x400000})
		}).To(Panic())
	})

	Context("when the tlb is full", func() {
		BeforeEach(func() {
			s = newTestSystem(2)
			as = s.loadSpace()
		})

		It("should report out of memory", func() {
			Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())
			Expect(s.handler.Fault(vm.FaultRead, 0x401000)).To(Succeed())

			err := s.handler.Fault(vm.FaultRead, 0x402000)

			Expect(errors.Is(err, vm.ErrTLBFull)).To(BeTrue())
			Expect(err).To(MatchError(vm.ErrNoMemory))
			Expect(vm.Errno(err)).To(Equal(vm.ENOMEM))
			Expect(s.machine.CPU.InterruptsOff()).To(BeFalse())
		})

		It("should still resolve a page that is already mapped", func() {
			Expect(s.handler.Fault(vm.FaultRead, 0x400000)).To(Succeed())
			Expect(s.handler.Fault(vm.FaultRead, 0x401000)).To(Succeed())

			Expect(s.handler.Fault(vm.FaultWrite, 0x401ffc)).To(Succeed())
		})
	})
})

var _ = Describe("Handler with a mocked tlb", func() {
	var (
		mockCtrl   *gomock.Controller
		tlb        *MockTLB
		interrupts *MockInterrupts
		s          *testSystem
		handler    *Handler
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tlb = NewMockTLB(mockCtrl)
		interrupts = NewMockInterrupts(mockCtrl)

		s = newTestSystem(machine.NumTLB)
		s.loadSpace()

		handler = MakeBuilder().
			WithTLB(tlb).
			WithInterrupts(interrupts).
			WithCurrentSpace(CurrentSpaceFunc(func() *addrspace.AddressSpace {
				return s.current
			})).
			Build("FaultHandler")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should skip valid slots with interrupts off", func() {
		pFrame, _ := s.current.PageTable().Find(0x400000)
		valid := machine.TLBEntry{Hi: 0x10000000, Lo: machine.TLBLoValid}

		splHigh := interrupts.EXPECT().SplHigh().Return(machine.IPLNone)
		tlb.EXPECT().NumEntries().Return(3).AnyTimes()
		tlb.EXPECT().Read(0).Return(valid).After(splHigh)
		tlb.EXPECT().Read(1).Return(valid).After(splHigh)
		tlb.EXPECT().Read(2).Return(machine.InvalidTLBEntry(2)).After(splHigh)
		write := tlb.EXPECT().Write(2, machine.TLBEntry{
			Hi: 0x400000,
			Lo: uint32(pFrame) | machine.TLBLoDirty | machine.TLBLoValid,
		})
		interrupts.EXPECT().Splx(machine.IPLNone).After(write)

		Expect(handler.Fault(vm.FaultWrite, 0x400123)).To(Succeed())
	})

	It("should not touch the tlb when the address is bad", func() {
		err := handler.Fault(vm.FaultRead, 0x7000000)

		Expect(err).To(MatchError(vm.ErrFault))
	})

	It("should panic when built without a tlb", func() {
		Expect(func() {
			MakeBuilder().WithInterrupts(interrupts).Build("FaultHandler")
		}).To(Panic())
	})
})
