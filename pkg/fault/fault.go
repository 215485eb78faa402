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

// Package fault is the fault-or-message channel: a single Endpoint a
// parent uses to supervise a child, badged so an arriving message is
// unambiguously either a kernel-delivered fault or a user payload of type
// M. The parent's AwaitMessage blocks until either arrives.
package fault

import (
	"encoding/binary"
	"fmt"

	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// Badge values the channel's two event kinds arrive tagged with. A
// kernel-delivered fault always carries badge 0 (the raw, unminted
// endpoint the kernel was bound to via TCB_Configure's faultEP
// parameter); a user message always carries badge 1 (the minted copy
// handed to the child for Sender.SendMessage).
const (
	FaultBadge   uint64 = 0
	MessageBadge uint64 = 1
)

// FaultKind enumerates the kernel fault variants sel4cap surfaces,
// following the original example root task's error.rs.
type FaultKind uint32

const (
	VMFault FaultKind = iota
	CapFault
	UnknownSyscall
	UserException
	DebugException
)

func (k FaultKind) String() string {
	switch k {
	case VMFault:
		return "VMFault"
	case CapFault:
		return "CapFault"
	case UnknownSyscall:
		return "UnknownSyscall"
	case UserException:
		return "UserException"
	case DebugException:
		return "DebugException"
	default:
		return "UnknownFaultKind"
	}
}

// Fault carries at minimum the faulting address, instruction pointer, and
// syndrome, where the kernel provides them.
type Fault struct {
	Kind     FaultKind
	Addr     uint64
	IP       uint64
	Syndrome uint64
}

func (f Fault) String() string {
	return fmt.Sprintf("%s(addr=%#x ip=%#x syndrome=%#x)", f.Kind, f.Addr, f.IP, f.Syndrome)
}

// FaultOrMessage is the result of one AwaitMessage call: exactly one of
// Fault or Message is non-nil.
type FaultOrMessage[M any] struct {
	Fault   *Fault
	Message *M
}

// Handler is the parent's receiving end of a fault-or-message channel.
type Handler[M any] struct {
	ep cap.Cap[objtype.Endpoint]
}

// NewHandler wraps the Local-role endpoint capability a
// NewChannel call returned for the parent side.
func NewHandler[M any](ep cap.Cap[objtype.Endpoint]) Handler[M] {
	return Handler[M]{ep: ep}
}

// AwaitMessage blocks until either the kernel delivers a fault on behalf
// of the supervised child or the child sends a user message, and
// distinguishes the two by the arriving badge.
func (h Handler[M]) AwaitMessage(inv kernelabi.Invoker) (FaultOrMessage[M], error) {
	msg, err := inv.Recv(h.ep.Cptr)
	if err != nil {
		return FaultOrMessage[M]{}, kernelerr.NewFaultManagementError("recv", kernelerr.WrapSyscall("Recv", asKernelErr(err)))
	}
	switch msg.Badge {
	case FaultBadge:
		var f Fault
		if err := decode(msg.Buffer, &f); err != nil {
			return FaultOrMessage[M]{}, err
		}
		return FaultOrMessage[M]{Fault: &f}, nil
	case MessageBadge:
		var m M
		if err := decode(msg.Buffer, &m); err != nil {
			return FaultOrMessage[M]{}, err
		}
		return FaultOrMessage[M]{Message: &m}, nil
	default:
		return FaultOrMessage[M]{}, fmt.Errorf("fault: unexpected badge %d on fault-or-message endpoint", msg.Badge)
	}
}

// Sender is the child's sending end for user messages of type M. The
// kernel itself uses the unbadged endpoint for faults; user code never
// sends on that side directly.
type Sender[M any] struct {
	ep cap.Cap[objtype.Endpoint]
}

// NewSender wraps the Child-role, MessageBadge-minted endpoint capability
// a NewChannel call returned for the child side.
func NewSender[M any](ep cap.Cap[objtype.Endpoint]) Sender[M] {
	return Sender[M]{ep: ep}
}

// SendMessage marshals m and delivers it to the parent's Handler,
// tagged with MessageBadge.
func (s Sender[M]) SendMessage(inv kernelabi.Invoker, m *M) error {
	buf, err := encode(m)
	if err != nil {
		return err
	}
	if err := inv.Send(s.ep.Cptr, kernelabi.Message{Badge: MessageBadge, Buffer: buf}); err != nil {
		return kernelerr.NewFaultManagementError("send", kernelerr.WrapSyscall("Send", asKernelErr(err)))
	}
	return nil
}

// DeliverFault is the simulation-only counterpart of a kernel fault trap:
// internal/simkernel has no MMU to raise a real VM fault from, so a
// child-thread test double that wants to simulate one calls this directly
// on the raw (unbadged) endpoint capability the kernel would otherwise be
// bound to via TCB_Configure's faultEP parameter.
func DeliverFault(inv kernelabi.Invoker, ep cap.Cap[objtype.Endpoint], f Fault) error {
	buf, err := encode(&f)
	if err != nil {
		return err
	}
	if err := inv.Send(ep.Cptr, kernelabi.Message{Badge: FaultBadge, Buffer: buf}); err != nil {
		return kernelerr.NewFaultManagementError("send", kernelerr.WrapSyscall("Send", asKernelErr(err)))
	}
	return nil
}

// NewChannel retypes one Endpoint out of ut (consuming parentSlot, which
// must hold exactly 1 slot) and mints the MessageBadge-tagged child
// sending capability (consuming childSlots, which must hold exactly 2:
// one for the raw fault-delivery copy installed as the child's faultEP,
// one for the minted message-sending copy). It returns the parent's
// Handler plus both child-role capabilities ready to install into the
// child's CSpace.
func NewChannel[M any](inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], parentSlot, childSlots slots.CNodeSlots) (Handler[M], cap.Cap[objtype.Endpoint], cap.Cap[objtype.Endpoint], error) {
	if parentSlot.Count != 1 {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, kernelerr.NewProcessSetupError(
			kernelerr.NotEnoughCNodeSlots, "fault.NewChannel requires exactly 1 parent slot")
	}
	if childSlots.Count != 2 {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, kernelerr.NewProcessSetupError(
			kernelerr.NotEnoughCNodeSlots, "fault.NewChannel requires exactly 2 child slots")
	}
	localEP, err := untyped.Retype(inv, ut, parentSlot, objtype.Endpoint{})
	if err != nil {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, err
	}

	childFirst, childRest, err := childSlots.Alloc(1)
	if err != nil {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, err
	}
	faultCopy, _, err := cap.Copy(inv, localEP, kernelabi.AllRights, childFirst)
	if err != nil {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, err
	}
	faultCopy.Role = cap.Child

	messageCopy, _, err := cap.Mint(inv, localEP, kernelabi.AllRights, MessageBadge, childRest)
	if err != nil {
		return Handler[M]{}, cap.Cap[objtype.Endpoint]{}, cap.Cap[objtype.Endpoint]{}, err
	}
	messageCopy.Role = cap.Child

	return NewHandler[M](localEP), faultCopy, messageCopy, nil
}

func encode(v any) ([]byte, error) {
	buf := make([]byte, 0, 32)
	w := &appendWriter{buf: &buf}
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return nil, kernelerr.NewFaultManagementError("marshal", err)
	}
	return buf, nil
}

func decode(buf []byte, out any) error {
	r := &sliceReader{buf: buf}
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return kernelerr.NewFaultManagementError("unmarshal", err)
	}
	return nil
}

type appendWriter struct{ buf *[]byte }

func (w *appendWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

type sliceReader struct {
	buf []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

func asKernelErr(err error) *kernelerr.KernelError {
	if ke, ok := err.(*kernelerr.KernelError); ok {
		return ke
	}
	return kernelerr.UnknownError(-1)
}
