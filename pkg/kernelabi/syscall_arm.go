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

//go:build sel4

// This file only builds when cross-compiled for an actual seL4 target (the
// "sel4" tag): the calling convention below traps into the kernel with the
// architecture's seL4_Call instruction sequence, which is not available
// under a host Go toolchain. It exists to show where the real binding
// goes; internal/simkernel is what every test in this repository actually
// links against.

package kernelabi

import "unsafe"

// seL4Invoker calls the real kernel via the raw ARM seL4 syscall ABI. The
// instruction sequence and IPC buffer layout are target-specific and
// supplied by the board support package; this type only holds the IPC
// buffer pointer every invocation needs.
type seL4Invoker struct {
	ipcBuffer unsafe.Pointer
}

// NewInvoker returns the Invoker backed by the real kernel, given the
// calling thread's IPC buffer address as set up by TCB_Configure.
func NewInvoker(ipcBuffer unsafe.Pointer) Invoker {
	return &seL4Invoker{ipcBuffer: ipcBuffer}
}

func (s *seL4Invoker) UntypedRetype(ut CPtr, objType ObjectType, sizeBits int, destCNode CPtr, destOffset uint64, numObjects int) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target; not implemented in this exercise build")
}

func (s *seL4Invoker) CNodeCopy(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, rights Rights) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) CNodeMint(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, rights Rights, badge uint64) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) CNodeMove(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) CNodeMutate(destCNode CPtr, destIndex uint64, srcCNode CPtr, srcIndex uint64, badge uint64) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) CNodeDelete(cnode CPtr, index uint64) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) CNodeRevoke(cnode CPtr, index uint64) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }

func (s *seL4Invoker) TCBConfigure(tcb, cspaceRoot, vspaceRoot CPtr, ipcBufferAddr uint64, ipcBufferFrame, faultEP CPtr) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) TCBWriteRegisters(tcb CPtr, resume bool, regs Registers) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) TCBSetPriority(tcb, authority CPtr, priority uint8) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) TCBResume(tcb CPtr) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) TCBBindNotification(tcb, notification CPtr) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}

func (s *seL4Invoker) PageMap(page, vspace CPtr, vaddr uintptr, rights Rights, attrs VMAttributes) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) PageUnmap(page CPtr) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) PageGetAddress(page CPtr) (uintptr, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}

func (s *seL4Invoker) PageTableMap(pt, vspace CPtr, vaddr uintptr, attrs VMAttributes) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) PageTableUnmap(pt CPtr) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }

func (s *seL4Invoker) PageCleanInvalidate(vspace CPtr, vaddr uintptr, bits int) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}

func (s *seL4Invoker) ASIDPoolAssign(pool, vspace CPtr) (ASID, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}

func (s *seL4Invoker) IRQControlGet(control CPtr, irq int, destCNode CPtr, destIndex uint64) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) IRQHandlerSetNotification(handler, notification CPtr) error {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) IRQHandlerAck(handler CPtr) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }

func (s *seL4Invoker) Send(ep CPtr, msg Message) error   { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) NBSend(ep CPtr, msg Message) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) Recv(ep CPtr) (Message, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) NBRecv(ep CPtr) (Message, bool, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) Call(ep CPtr, msg Message) (Message, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) ReplyRecv(ep CPtr, reply Message) (Message, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) Wait(notification CPtr) (uint64, error) {
	panic("kernelabi: seL4Invoker requires a real seL4 target")
}
func (s *seL4Invoker) Signal(notification CPtr) error { panic("kernelabi: seL4Invoker requires a real seL4 target") }
func (s *seL4Invoker) Yield()                         { panic("kernelabi: seL4Invoker requires a real seL4 target") }
