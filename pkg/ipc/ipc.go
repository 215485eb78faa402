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

// Package ipc is the IPC primitive layer: the synchronous Endpoint and
// asynchronous Notification kernel objects, a typed Caller/Responder
// call-channel built over an Endpoint, a shared-memory Producer/Consumer
// SPSC queue pair, and the IRQControl/IRQHandler interrupt-claim API.
package ipc

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
)

// QueueABadge and QueueBBadge fix the notification badge layout a
// Producer/Consumer pair uses to tell the consumer which queue
// transitioned empty→non-empty, named constants rather than bit
// literals scattered across call sites.
const (
	QueueABadge uint64 = 1 << 0
	QueueBBadge uint64 = 1 << 1
)

// Caller issues blocking_call requests over an Endpoint and unmarshals
// typed responses.
type Caller[Req, Rsp any] struct {
	ep cap.Cap[objtype.Endpoint]
}

// NewCaller wraps an Endpoint capability already minted for the calling
// side of a channel.
func NewCaller[Req, Rsp any](ep cap.Cap[objtype.Endpoint]) Caller[Req, Rsp] {
	return Caller[Req, Rsp]{ep: ep}
}

// BlockingCall marshals req into the IPC buffer, performs a kernel Call,
// and unmarshals the response.
func (c Caller[Req, Rsp]) BlockingCall(inv kernelabi.Invoker, req *Req) (Rsp, error) {
	var zero Rsp
	buf, err := marshal(req)
	if err != nil {
		return zero, err
	}
	reply, err := inv.Call(c.ep.Cptr, kernelabi.Message{Buffer: buf})
	if err != nil {
		return zero, kernelerr.WrapIPCKernelError(kernelerr.WrapSyscall("Call", asKernelErr(err)))
	}
	var rsp Rsp
	if err := unmarshal(reply.Buffer, &rsp); err != nil {
		return zero, err
	}
	return rsp, nil
}

// Responder serves requests over an Endpoint by repeatedly calling f.
type Responder[Req, Rsp any] struct {
	ep cap.Cap[objtype.Endpoint]
}

// NewResponder wraps an Endpoint capability minted for the serving side.
func NewResponder[Req, Rsp any](ep cap.Cap[objtype.Endpoint]) Responder[Req, Rsp] {
	return Responder[Req, Rsp]{ep: ep}
}

// ReplyRecv receives one request, invokes f, and replies with its
// result — the single-iteration building block of a server loop.
func (r Responder[Req, Rsp]) ReplyRecv(inv kernelabi.Invoker, prevReply *kernelabi.Message, f func(*Req) (Rsp, error)) (kernelabi.Message, error) {
	var recv kernelabi.Message
	var err error
	if prevReply == nil {
		recv, err = inv.Recv(r.ep.Cptr)
	} else {
		recv, err = inv.ReplyRecv(r.ep.Cptr, *prevReply)
	}
	if err != nil {
		return kernelabi.Message{}, kernelerr.WrapIPCKernelError(kernelerr.WrapSyscall("ReplyRecv", asKernelErr(err)))
	}
	var req Req
	if err := unmarshal(recv.Buffer, &req); err != nil {
		return kernelabi.Message{}, err
	}
	rsp, err := f(&req)
	if err != nil {
		return kernelabi.Message{}, err
	}
	buf, err := marshal(&rsp)
	if err != nil {
		return kernelabi.Message{}, err
	}
	return kernelabi.Message{Buffer: buf}, nil
}

// Serve loops ReplyRecv forever, stopping only when f returns an error
// or stop reports true.
func (r Responder[Req, Rsp]) Serve(inv kernelabi.Invoker, stop func() bool, f func(*Req) (Rsp, error)) error {
	var reply *kernelabi.Message
	for !stop() {
		msg, err := r.ReplyRecv(inv, reply, f)
		if err != nil {
			return err
		}
		reply = &msg
	}
	return nil
}

// marshal encodes v (a pointer to a plain-old-data Req/Rsp struct) into
// the wire format the IPC buffer carries, rejecting anything that would
// not fit the message registers' backing buffer.
func marshal(v any) ([]byte, error) {
	buf, err := binaryEncode(v)
	if err != nil {
		return nil, err
	}
	if len(buf) > kernelabi.MessageMaxWords*8 {
		return nil, kernelerr.NewIPCError(kernelerr.PayloadTooLarge)
	}
	return buf, nil
}

func unmarshal(buf []byte, out any) error {
	return binaryDecode(buf, out)
}

// binaryEncode/binaryDecode go through encoding/binary's fixed-width
// struct (de)serialization, which only succeeds for plain-old-data with
// fixed-size fields — Req/Rsp/T must stay trivially copyable.
func binaryEncode(v any) ([]byte, error) {
	buf := make([]byte, 0, 64)
	w := &byteWriter{buf: &buf}
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return nil, kernelerr.NewIPCErrorWithCause(kernelerr.MarshalFailed, err)
	}
	return buf, nil
}

func binaryDecode(buf []byte, out any) error {
	r := &byteReader{buf: buf}
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return kernelerr.NewIPCErrorWithCause(kernelerr.MarshalFailed, err)
	}
	return nil
}

type byteWriter struct{ buf *[]byte }

func (w *byteWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
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

// Ring is the fixed-capacity SPSC ring buffer a Producer/Consumer pair
// shares: a read index, a write index, and an element array, all backed
// by a single Page-sized region in a real deployment. In this library's
// test doubles it is an ordinary Go slice guarded by atomics, giving the
// same release-store/acquire-load discipline without actually requiring
// shared physical memory.
type Ring[T any] struct {
	buf   []T
	read  atomic.Uint64
	write atomic.Uint64
	notif cap.Cap[objtype.Notification]
}

// NewRing constructs a ring of the given capacity (must be a power of
// two) that signals notif whenever it transitions from empty to
// non-empty. The badge a wakeup carries is a property of notif itself
// (a notification capability minted with that badge via cap.Mint, per
// QueueABadge/QueueBBadge), not a parameter of the ring — callers
// combining two rings behind one DoubleDoorConsumer must mint each
// ring's notif separately before constructing it.
func NewRing[T any](capacity int, notif cap.Cap[objtype.Notification]) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ipc: ring capacity must be a positive power of two")
	}
	return &Ring[T]{buf: make([]T, capacity), notif: notif}
}

// Producer is the write side of a Ring.
type Producer[T any] struct{ ring *Ring[T] }

func NewProducer[T any](r *Ring[T]) Producer[T] { return Producer[T]{ring: r} }

// Enqueue appends item if the ring has room, signaling the consumer's
// notification if the ring was empty beforehand. On a full ring it
// returns QueueFullError carrying the rejected item back to the caller.
func (p Producer[T]) Enqueue(inv kernelabi.Invoker, item T) error {
	r := p.ring
	w := r.write.Load()
	rd := r.read.Load()
	if w-rd >= uint64(len(r.buf)) {
		return kernelerr.NewQueueFullError(item)
	}
	wasEmpty := w == rd
	r.buf[w%uint64(len(r.buf))] = item
	r.write.Store(w + 1)
	if wasEmpty {
		if err := inv.Signal(r.notif.Cptr); err != nil {
			return kernelerr.WrapIPCKernelError(kernelerr.WrapSyscall("Signal", asKernelErr(err)))
		}
	}
	return nil
}

// Consumer is the read side of a Ring. Dequeue returns ok=false on an
// empty ring rather than blocking — blocking is Consume's job, driven by
// the shared notification.
type Consumer[T any] struct{ ring *Ring[T] }

func NewConsumer[T any](r *Ring[T]) Consumer[T] { return Consumer[T]{ring: r} }

// Dequeue removes and returns the oldest item, or ok=false if empty.
func (c Consumer[T]) Dequeue() (item T, ok bool) {
	r := c.ring
	rd := r.read.Load()
	w := r.write.Load()
	if rd == w {
		return item, false
	}
	item = r.buf[rd%uint64(len(r.buf))]
	r.read.Store(rd + 1)
	return item, true
}

// DoubleDoorConsumer combines two rings of possibly different element
// types with one shared wakeup notification: a consumer that waits on
// one external notification but drains two distinct queue types behind
// it. On each wake, queue A is drained to empty, then queue B is
// drained to empty, then it blocks again — a fixed, documented drain
// order rather than an ambiguous one.
type DoubleDoorConsumer[A, B any] struct {
	notif  cap.Cap[objtype.Notification]
	queueA Consumer[A]
	queueB Consumer[B]
}

func NewDoubleDoorConsumer[A, B any](notif cap.Cap[objtype.Notification], a Consumer[A], b Consumer[B]) *DoubleDoorConsumer[A, B] {
	return &DoubleDoorConsumer[A, B]{notif: notif, queueA: a, queueB: b}
}

// ConsumeOnce blocks for one notification wakeup, then drains queue A
// fully, then queue B fully, invoking onWake once per wakeup and
// onQueueA/onQueueB once per item. It returns after the drain completes;
// callers loop this themselves (Consume below is a thin convenience
// wrapper that loops until stop()).
func (d *DoubleDoorConsumer[A, B]) ConsumeOnce(inv kernelabi.Invoker, onWake func(badge uint64), onQueueA func(A), onQueueB func(B)) error {
	badge, err := inv.Wait(d.notif.Cptr)
	if err != nil {
		return kernelerr.WrapIPCKernelError(kernelerr.WrapSyscall("Wait", asKernelErr(err)))
	}
	if onWake != nil {
		onWake(badge)
	}
	for {
		item, ok := d.queueA.Dequeue()
		if !ok {
			break
		}
		onQueueA(item)
	}
	for {
		item, ok := d.queueB.Dequeue()
		if !ok {
			break
		}
		onQueueB(item)
	}
	return nil
}

// Consume loops ConsumeOnce until stop reports true.
func (d *DoubleDoorConsumer[A, B]) Consume(inv kernelabi.Invoker, stop func() bool, onWake func(badge uint64), onQueueA func(A), onQueueB func(B)) error {
	for !stop() {
		if err := d.ConsumeOnce(inv, onWake, onQueueA, onQueueB); err != nil {
			return err
		}
	}
	return nil
}

// IRQControl is the singleton wrapping the kernel's IRQ-control
// authority. It tracks which IRQ lines have already been claimed so a
// duplicate claim is a runtime error instead of silently reusing state.
type IRQControl struct {
	mu      sync.Mutex
	control cap.Cap[objtype.IRQHandlerObj]
	claimed mapset.Set[int]
}

// NewIRQControl wraps the kernel's IRQ control capability. Exactly one
// process-wide instance should be constructed; pass it by reference (or
// hand out *IRQControl) rather than copying it, since claimed tracks
// live claims across the whole process.
func NewIRQControl(control cap.Cap[objtype.IRQHandlerObj]) *IRQControl {
	return &IRQControl{control: control, claimed: mapset.NewSet[int]()}
}

// IRQHandler is a claimed interrupt line, transitioning from Unset to
// Set once a notification is wired via SetNotification.
type IRQHandler struct {
	irq    int
	handle kernelabi.CPtr
	set    bool
}

// CreateHandler claims irq (0 <= irq < 256) into destIndex of destCNode.
// A duplicate claim of an already-claimed line is a runtime error.
func (c *IRQControl) CreateHandler(inv kernelabi.Invoker, irq int, destCNode kernelabi.CPtr, destIndex uint64) (*IRQHandler, error) {
	if irq < 0 || irq >= 256 {
		return nil, kernelerr.NewIRQError(kernelerr.IRQOutOfRange)
	}
	c.mu.Lock()
	if c.claimed.Contains(irq) {
		c.mu.Unlock()
		return nil, kernelerr.NewIRQError(kernelerr.UnavailableIRQ)
	}
	c.claimed.Add(irq)
	c.mu.Unlock()

	if err := inv.IRQControlGet(c.control.Cptr, irq, destCNode, destIndex); err != nil {
		c.mu.Lock()
		c.claimed.Remove(irq)
		c.mu.Unlock()
		return nil, kernelerr.NewIRQErrorWithCause(kernelerr.IRQKernelError, kernelerr.WrapSyscall("IRQControl_Get", asKernelErr(err)))
	}
	return &IRQHandler{irq: irq, handle: kernelabi.CPtr(destIndex)}, nil
}

// SetNotification wires h's interrupts to notif, transitioning h to Set.
func (h *IRQHandler) SetNotification(inv kernelabi.Invoker, notif cap.Cap[objtype.Notification]) error {
	if err := inv.IRQHandlerSetNotification(h.handle, notif.Cptr); err != nil {
		return kernelerr.NewIRQErrorWithCause(kernelerr.IRQKernelError, kernelerr.WrapSyscall("IRQHandler_SetNotification", asKernelErr(err)))
	}
	h.set = true
	return nil
}

// Ack re-enables the line after the handler has serviced it.
func (h *IRQHandler) Ack(inv kernelabi.Invoker) error {
	if !h.set {
		return kernelerr.NewIRQError(kernelerr.IRQNotSet)
	}
	if err := inv.IRQHandlerAck(h.handle); err != nil {
		return kernelerr.NewIRQErrorWithCause(kernelerr.IRQKernelError, kernelerr.WrapSyscall("IRQHandler_Ack", asKernelErr(err)))
	}
	return nil
}
