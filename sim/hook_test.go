package sim

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type namedDomain string

func (d namedDomain) Name() string { return string(d) }

type stringItem struct{}

func (stringItem) String() string { return "pretty" }

var _ = Describe("HookableBase", func() {
	var (
		base *HookableBase
		pos  *HookPos
	)

	BeforeEach(func() {
		base = NewHookableBase()
		pos = &HookPos{Name: "Alloc"}
	})

	It("should call hooks in order", func() {
		var calls []string
		base.AcceptHook(HookFunc(func(HookCtx) { calls = append(calls, "a") }))
		base.AcceptHook(HookFunc(func(HookCtx) { calls = append(calls, "b") }))

		base.InvokeHook(HookCtx{Domain: namedDomain("D"), Pos: pos})

		Expect(base.NumHooks()).To(Equal(2))
		Expect(calls).To(Equal([]string{"a", "b"}))
	})

	It("should do nothing without hooks", func() {
		Expect(func() { base.InvokeHook(HookCtx{Pos: pos}) }).NotTo(Panic())
	})
})

var _ = Describe("EventLogger", func() {
	It("should print domain, position and item", func() {
		buf := new(bytes.Buffer)
		logger := NewEventLogger(log.New(buf, "", 0))

		logger.Func(HookCtx{
			Domain: namedDomain("Coremap"),
			Pos:    &HookPos{Name: "FrameFree"},
			Item:   42,
		})

		Expect(buf.String()).To(Equal("Coremap FrameFree 42\n"))
	})

	It("should use the item's String method", func() {
		buf := new(bytes.Buffer)
		logger := NewEventLogger(log.New(buf, "", 0))

		logger.Func(HookCtx{
			Domain: namedDomain("Fault"),
			Pos:    &HookPos{Name: "Fault"},
			Item:   stringItem{},
		})

		Expect(buf.String()).To(Equal("Fault Fault pretty\n"))
	})
})
