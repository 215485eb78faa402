//
// Copyright 2026 sel4cap authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package process builds a child thread of execution from its raw
// components: a TCB retyped out of an Untyped, an IPC buffer page mapped
// into the child's VSpace, and an entry-point parameter block marshaled
// into registers and (when it overflows them) spilled onto the child's
// stack following the target architecture's calling convention.
package process

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/granule"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/region"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
	"github.com/nestybox/sel4cap/pkg/vspace"
)

// State tracks a StandardProcess through its one-way lifecycle:
// Constructing while New is still assembling it, Ready once every kernel
// object is configured and the initial register file is written, Started
// after Start has resumed the TCB. There is no way back.
type State int

const (
	Constructing State = iota
	Ready
	Started
)

func (s State) String() string {
	switch s {
	case Constructing:
		return "Constructing"
	case Ready:
		return "Ready"
	case Started:
		return "Started"
	default:
		return "UnknownState"
	}
}

// Params collects everything New needs to construct a child thread. Dest
// must hold exactly 2 slots: one for the TCB, one for the IPC buffer
// page. StackRegion must already be Mapped into ChildVSpace; IPCBufferUntyped
// is retyped into a page and mapped at IPCBufferVAddr by New itself.
type Params struct {
	Arch granule.Arch

	TCBUntyped       cap.Cap[objtype.Untyped]
	IPCBufferUntyped cap.Cap[objtype.Untyped]
	Dest             slots.CNodeSlots

	ChildCNode   cap.Cap[objtype.CNode]
	ChildVSpace  *vspace.VSpace
	ParentVSpace *vspace.VSpace

	StackRegion    region.Region
	IPCBufferVAddr uintptr

	// TrampolineRegion, if its Pages are non-nil, must already be Mapped
	// into ChildVSpace; New writes a tiny yield-forever stub into it and
	// points the child's initial link register there (spec.md §4.8 step
	// 4), so a main-shaped entry function that returns does not run off
	// the end of its image. Left zero, the link register is left unset.
	TrampolineRegion region.Region

	Priority          uint8
	PriorityAuthority cap.Cap[objtype.TCB]
	FaultEP           cap.Cap[objtype.Endpoint]

	Entry       uintptr
	EntryParams []byte
}

// StandardProcess is a fully-constructed, not-yet-running child thread.
type StandardProcess struct {
	tcb         cap.Cap[objtype.TCB]
	childVSpace *vspace.VSpace
	state       State
}

// State reports the process's current lifecycle stage.
func (p *StandardProcess) State() State { return p.state }

// TCBCptr exposes the underlying TCB capability pointer, for callers that
// need to attach simulation-only hooks (internal/simkernel.Kernel's
// SetThreadEntry) before calling Start.
func (p *StandardProcess) TCBCptr() kernelabi.CPtr { return p.tcb.Cptr }

// New retypes a TCB and an IPC buffer page out of their respective
// Untyped sources, configures the TCB against childCNode/ChildVSpace,
// marshals EntryParams into the entry register file per Arch's calling
// convention (spilling the remainder onto StackRegion's top page when it
// overflows the register file), writes that register file, and sets the
// thread's priority. The returned StandardProcess is Ready; Start resumes
// it.
func New(inv kernelabi.Invoker, p Params) (*StandardProcess, error) {
	if p.Dest.Count != 2 {
		return nil, kernelerr.NewProcessSetupError(kernelerr.NotEnoughCNodeSlots,
			"process.New requires exactly 2 destination slots (TCB, IPC buffer page)")
	}
	if p.StackRegion.State != region.Mapped {
		return nil, kernelerr.NewProcessSetupError(kernelerr.ProcessParameterHandoffSizeMismatch,
			"process.New requires an already-mapped stack region")
	}

	tcbSlot, rest, err := p.Dest.Alloc(1)
	if err != nil {
		return nil, err
	}
	tcb, err := untyped.Retype(inv, p.TCBUntyped, tcbSlot, objtype.TCB{})
	if err != nil {
		return nil, err
	}

	ipcSlot, _, err := rest.Alloc(1)
	if err != nil {
		return nil, err
	}
	ipcPage, err := untyped.Retype(inv, p.IPCBufferUntyped, ipcSlot, objtype.Page{})
	if err != nil {
		return nil, err
	}
	if err := inv.PageMap(ipcPage.Cptr, p.ChildVSpace.RootCptr(), p.IPCBufferVAddr, kernelabi.AllRights, kernelabi.VMAttributes{Cacheable: true}); err != nil {
		return nil, kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("Page_Map", asKernelErr(err)))
	}

	stackTop := p.StackRegion.VAddr + (uintptr(1) << uint(p.StackRegion.Bits))

	var regs kernelabi.Registers
	var stackBytes []byte
	var sp uintptr
	switch p.Arch {
	case granule.ARMv7:
		var gpr [4]uint32
		gpr, stackBytes, sp = MarshalParamsARMv7(stackTop, p.EntryParams)
		for i, v := range gpr {
			regs.GPR[i] = uint64(v)
		}
	case granule.AArch64:
		gpr, sb, s := MarshalParamsAArch64(stackTop, p.EntryParams)
		regs.GPR = gpr
		stackBytes, sp = sb, s
	default:
		return nil, errors.Errorf("process: unknown architecture %v", p.Arch)
	}

	if len(stackBytes) > 0 {
		if err := spillToStack(inv, p.ParentVSpace, p.StackRegion, stackBytes); err != nil {
			return nil, err
		}
	}

	if len(p.TrampolineRegion.Pages) > 0 {
		code := trampolineCode(p.Arch)
		if code == nil {
			return nil, errors.Errorf("process: no trampoline stub for architecture %v", p.Arch)
		}
		if err := writeTrampoline(inv, p.ParentVSpace, p.TrampolineRegion, code); err != nil {
			return nil, err
		}
		regs.LR = uint64(p.TrampolineRegion.VAddr)
	}

	regs.SP = uint64(sp)
	regs.PC = uint64(p.Entry)

	if err := inv.TCBConfigure(tcb.Cptr, p.ChildCNode.Cptr, p.ChildVSpace.RootCptr(), uint64(p.IPCBufferVAddr), ipcPage.Cptr, p.FaultEP.Cptr); err != nil {
		return nil, kernelerr.WrapSyscall("TCB_Configure", asKernelErr(err))
	}
	if err := inv.TCBWriteRegisters(tcb.Cptr, false, regs); err != nil {
		return nil, kernelerr.WrapSyscall("TCB_WriteRegisters", asKernelErr(err))
	}
	if err := inv.TCBSetPriority(tcb.Cptr, p.PriorityAuthority.Cptr, p.Priority); err != nil {
		return nil, kernelerr.WrapSyscall("TCB_SetPriority", asKernelErr(err))
	}

	return &StandardProcess{tcb: tcb, childVSpace: p.ChildVSpace, state: Ready}, nil
}

// Start resumes the TCB, moving the process from Ready to Started. It
// refuses to resume a process that is still Constructing or already
// Started.
func (p *StandardProcess) Start(inv kernelabi.Invoker) error {
	if p.state != Ready {
		return kernelerr.NewProcessSetupError(kernelerr.ProcessParameterHandoffSizeMismatch,
			"Start requires a Ready process, got "+p.state.String())
	}
	if err := inv.TCBResume(p.tcb.Cptr); err != nil {
		return kernelerr.WrapSyscall("TCB_Resume", asKernelErr(err))
	}
	p.state = Started
	return nil
}

// spillToStack copies spill into the top of stackRegion's highest page
// (the page the initial stack pointer falls in, since the stack grows
// down from stackRegion's top address), via the parent VSpace's scratch
// window. It refuses spills bigger than one page outright rather than
// silently spanning pages the marshaling functions never accounted for.
func spillToStack(inv kernelabi.Invoker, parentVSpace *vspace.VSpace, stackRegion region.Region, spill []byte) error {
	if uintptr(len(spill)) > vspace.PageSize {
		return kernelerr.NewProcessSetupError(kernelerr.ProcessParameterTooBigForStack,
			"entry parameter spill exceeds one page")
	}
	if len(stackRegion.Pages) == 0 {
		return kernelerr.NewProcessSetupError(kernelerr.ProcessParameterTooBigForStack,
			"stack region has no backing pages")
	}
	topPage := stackRegion.Pages[len(stackRegion.Pages)-1]
	offset := vspace.PageSize - uintptr(len(spill))
	return parentVSpace.WithScratch(inv, topPage, kernelabi.AllRights, kernelabi.VMAttributes{Cacheable: true}, func(vaddr uintptr) error {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(vaddr+offset)), len(spill))
		copy(dst, spill)
		return nil
	})
}

// writeTrampoline copies code to the very start of trampolineRegion's
// first page via the parent VSpace's scratch window.
func writeTrampoline(inv kernelabi.Invoker, parentVSpace *vspace.VSpace, trampolineRegion region.Region, code []byte) error {
	if uintptr(len(code)) > vspace.PageSize {
		return kernelerr.NewProcessSetupError(kernelerr.ProcessParameterTooBigForStack,
			"trampoline stub exceeds one page")
	}
	page := trampolineRegion.Pages[0]
	return parentVSpace.WithScratch(inv, page, kernelabi.AllRights, kernelabi.VMAttributes{Cacheable: true}, func(vaddr uintptr) error {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(vaddr)), len(code))
		copy(dst, code)
		return nil
	})
}

func asKernelErr(err error) *kernelerr.KernelError {
	if ke, ok := err.(*kernelerr.KernelError); ok {
		return ke
	}
	return kernelerr.UnknownError(-1)
}
