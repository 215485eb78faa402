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

// Package kernelabi is the raw seL4 syscall surface, treated as an
// external collaborator: sel4cap never reimplements the kernel, it only
// calls it through this interface. Production binaries link an Invoker
// that traps to the real kernel (see the sel4-tagged syscall_arm
// implementation); tests link internal/simkernel, an in-memory model of the
// same semantics.
package kernelabi

// CPtr is an index into a CSpace's capability table.
type CPtr uint64

// ASID is an address-space identifier handed out by an ASID pool.
type ASID uint32

// ObjectType names a kernel object kind for Untyped_Retype.
type ObjectType int

const (
	ObjUntyped ObjectType = iota
	ObjCNode
	ObjEndpoint
	ObjNotification
	ObjPage
	ObjLargePage
	ObjSection
	ObjSupersection
	ObjPageTable
	ObjPageDirectory
	ObjTCB
	ObjASIDPool
	ObjIRQHandler
)

func (o ObjectType) String() string {
	names := [...]string{"Untyped", "CNode", "Endpoint", "Notification", "Page", "LargePage",
		"Section", "Supersection", "PageTable", "PageDirectory", "TCB", "ASIDPool", "IRQHandler"}
	if int(o) < 0 || int(o) >= len(names) {
		return "UnknownObjectType"
	}
	return names[o]
}

// Rights is the seL4 capability rights bitmask.
type Rights uint8

const (
	RightsNone  Rights = 0
	RightWrite  Rights = 1 << 0
	RightRead   Rights = 1 << 1
	RightGrant  Rights = 1 << 2
	RightGrantReply Rights = 1 << 3
)

// AllRights is the rights set a freshly retyped object carries.
const AllRights = RightWrite | RightRead | RightGrant | RightGrantReply

// VMAttributes controls cacheability and execute permission of a page
// mapping.
type VMAttributes struct {
	Cacheable  bool
	ExecuteNever bool
}

// Registers is the architecture machine-word register file touched by
// TCB_WriteRegisters: general-purpose registers, stack pointer, program
// counter and link register. pkg/process fills GPR with entry parameters:
// the first four entries on ARMv7, all eight on AArch64; the rest of the
// file is carried for completeness of the syscall surface.
type Registers struct {
	GPR [8]uint64
	SP  uint64
	PC  uint64
	LR  uint64
}

// MessageMaxWords bounds the payload of a single IPC message to the size of
// the seL4 message registers actually passed in-register (the rest of a
// larger request/response travels through the IPC buffer, which this
// library models as part of Message.Buffer).
const MessageMaxWords = 118

// Message is one IPC transfer: a small fixed label plus a byte payload
// that mirrors the per-thread IPC buffer.
type Message struct {
	Label   uint64
	Badge   uint64
	Buffer  []byte
}

// Invoker is the complete set of seL4 syscalls sel4cap needs. Every method
// returns a *kernelerr.KernelError (declared as error here to avoid an
// import cycle with kernelerr, which has no reason to depend on kernelabi).
type Invoker interface {
	UntypedRetype(ut CPtr, objType ObjectType, sizeBits int, destCNode CPtr, destOffset uint64, numObjects int) error

	CNodeCopy(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, rights Rights) error
	CNodeMint(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, rights Rights, badge uint64) error
	CNodeMove(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64) error
	CNodeMutate(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, badge uint64) error
	CNodeDelete(cnode CPtr, index uint64) error
	CNodeRevoke(cnode CPtr, index uint64) error

	TCBConfigure(tcb, cspaceRoot, vspaceRoot CPtr, ipcBufferAddr uint64, ipcBufferFrame, faultEP CPtr) error
	TCBWriteRegisters(tcb CPtr, resume bool, regs Registers) error
	TCBSetPriority(tcb, authority CPtr, priority uint8) error
	TCBResume(tcb CPtr) error
	TCBBindNotification(tcb, notification CPtr) error

	PageMap(page, vspace CPtr, vaddr uintptr, rights Rights, attrs VMAttributes) error
	PageUnmap(page CPtr) error
	PageGetAddress(page CPtr) (uintptr, error)

	PageTableMap(pt, vspace CPtr, vaddr uintptr, attrs VMAttributes) error
	PageTableUnmap(pt CPtr) error

	// PageCleanInvalidate performs a clean+invalidate cache maintenance
	// operation over [vaddr, vaddr+2^bits) in the address space rooted at
	// vspace, for the ARM split I/D cache (seL4_ARM_Page_CleanInvalidate_Data
	// and friends). It fails fast (VSpaceError wrapping a kernel lookup
	// failure) if any page in the range is unmapped.
	PageCleanInvalidate(vspace CPtr, vaddr uintptr, bits int) error

	ASIDPoolAssign(pool, vspace CPtr) (ASID, error)

	IRQControlGet(control CPtr, irq int, destCNode CPtr, destIndex uint64) error
	IRQHandlerSetNotification(handler, notification CPtr) error
	IRQHandlerAck(handler CPtr) error

	Send(ep CPtr, msg Message) error
	NBSend(ep CPtr, msg Message) error
	Recv(ep CPtr) (Message, error)
	NBRecv(ep CPtr) (msg Message, ok bool, err error)
	Call(ep CPtr, msg Message) (Message, error)
	ReplyRecv(ep CPtr, reply Message) (Message, error)
	Wait(notification CPtr) (badge uint64, err error)
	Signal(notification CPtr) error
	Yield()
}
