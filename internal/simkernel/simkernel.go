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

// Package simkernel is an in-memory model of the seL4 syscall surface
// (pkg/kernelabi.Invoker) used by every test in this repository. It is not
// a cycle-accurate kernel: it tracks exactly the bookkeeping sel4cap's
// higher layers depend on (slot occupancy, untyped retype budgets, page
// mappings, IPC rendezvous, ASID issuance) and nothing else. Real target
// builds link pkg/kernelabi's sel4-tagged implementation instead.
package simkernel

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
)

type capEntry struct {
	present bool
	kind    kernelabi.ObjectType
	obj     uint64
	rights  kernelabi.Rights
	badge   uint64

	mapped  bool
	vaddr   uintptr
	vspace  kernelabi.CPtr
}

type cnode struct {
	mu    sync.Mutex
	slots map[uint64]*capEntry
}

func newCNode() *cnode { return &cnode{slots: make(map[uint64]*capEntry)} }

type untypedObj struct {
	mu        sync.Mutex
	sizeBits  int
	allocated uint64 // bytes already retyped out of this untyped
}

type tcbObj struct {
	mu       sync.Mutex
	regs     kernelabi.Registers
	priority uint8
	resumed  bool
	onResume func(kernelabi.Registers)
}

type asidPoolObj struct {
	mu       sync.Mutex
	capacity int
	issued   int
}

type pendingCall struct {
	msg   kernelabi.Message
	reply chan kernelabi.Message
}

type endpointObj struct {
	rendezvous chan rendezvous
	mu         sync.Mutex
	pending    *pendingCall
}

type rendezvous struct {
	msg   kernelabi.Message
	badge uint64
	reply chan kernelabi.Message // non-nil for Call
}

type notificationObj struct {
	mu    sync.Mutex
	cond  *sync.Cond
	badge uint64
}

type irqHandlerObj struct {
	mu    sync.Mutex
	irq   int
	notif kernelabi.CPtr
	acked bool
}

// objectSize is the per-object byte cost objType occupies at the given
// sizeBits — used to validate UntypedRetype's budget arithmetic. For
// fixed-size objects (everything but raw Untyped/CNode/pages sized by the
// caller) sizeBits is ignored.
func objectSize(objType kernelabi.ObjectType, sizeBits int) uint64 {
	switch objType {
	case kernelabi.ObjUntyped, kernelabi.ObjCNode:
		return uint64(1) << sizeBits
	case kernelabi.ObjPage:
		return 1 << 12
	case kernelabi.ObjLargePage:
		return 1 << 16
	case kernelabi.ObjSection:
		return 1 << 20
	case kernelabi.ObjSupersection:
		return 1 << 24
	case kernelabi.ObjPageTable:
		return 1 << 12
	case kernelabi.ObjPageDirectory:
		return 1 << 14
	case kernelabi.ObjTCB, kernelabi.ObjEndpoint, kernelabi.ObjNotification, kernelabi.ObjASIDPool, kernelabi.ObjIRQHandler:
		return 1 << 10
	default:
		return 1 << 12
	}
}

// Kernel is the simulated kernel state: one global object table plus
// zero or more CNodes. Every CPtr the Invoker interface receives as a
// "destCNode"/"srcCNode" argument is the handle of one of these CNodes
// (handle 0 is always the root CNode, created by New).
type Kernel struct {
	mu        sync.Mutex
	cnodes    map[kernelabi.CPtr]*cnode
	nextCNode uint64

	objects    map[uint64]any
	nextObject uint64

	claimedIRQ map[int]bool
	pageSize   int
}

// New constructs a simulated kernel with a root CNode (handle 0).
func New() *Kernel {
	k := &Kernel{
		cnodes:     map[kernelabi.CPtr]*cnode{0: newCNode()},
		nextCNode:  1,
		objects:    make(map[uint64]any),
		claimedIRQ: make(map[int]bool),
		pageSize:   unix.Getpagesize(),
	}
	return k
}

// RootCNode is the always-present root CNode handle.
const RootCNode kernelabi.CPtr = 0

// InstallBootUntyped seeds cnode[index] with a fresh Untyped of the given
// size, standing in for what pkg/bootinfo would otherwise import from a
// real BootInfo structure. Every package's tests use this single entry
// point to bootstrap a simulated kernel instead of reaching into
// simkernel's unexported state.
func (k *Kernel) InstallBootUntyped(cnode kernelabi.CPtr, index uint64, sizeBits int) error {
	n, err := k.cnodeFor(cnode)
	if err != nil {
		return err
	}
	id := k.newObject(&untypedObj{sizeBits: sizeBits})
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, occupied := n.slots[index]; occupied && e.present {
		return kernelerr.New(kernelerr.DeleteFirst)
	}
	n.slots[index] = &capEntry{present: true, kind: kernelabi.ObjUntyped, obj: id, rights: kernelabi.AllRights}
	return nil
}

func (k *Kernel) cnodeFor(c kernelabi.CPtr) (*cnode, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, ok := k.cnodes[c]
	if !ok {
		return nil, kernelerr.New(kernelerr.InvalidCapability)
	}
	return n, nil
}

func (k *Kernel) newObject(o any) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := k.nextObject
	k.nextObject++
	k.objects[id] = o
	return id
}

func (k *Kernel) object(id uint64) any {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.objects[id]
}

// UntypedRetype implements kernelabi.Invoker.
func (k *Kernel) UntypedRetype(ut kernelabi.CPtr, objType kernelabi.ObjectType, sizeBits int, destCNode kernelabi.CPtr, destOffset uint64, numObjects int) error {
	root, err := k.cnodeFor(RootCNode)
	if err != nil {
		return err
	}
	root.mu.Lock()
	entry, ok := root.slots[uint64(ut)]
	root.mu.Unlock()
	if !ok || !entry.present || entry.kind != kernelabi.ObjUntyped {
		return kernelerr.New(kernelerr.InvalidCapability)
	}
	uobj := k.object(entry.obj).(*untypedObj)

	uobj.mu.Lock()
	need := uint64(numObjects) * objectSize(objType, sizeBits)
	total := uint64(1) << uobj.sizeBits
	if uobj.allocated+need > total {
		uobj.mu.Unlock()
		return kernelerr.New(kernelerr.NotEnoughMemory)
	}
	uobj.allocated += need
	uobj.mu.Unlock()

	dest, err := k.cnodeFor(destCNode)
	if err != nil {
		return err
	}
	dest.mu.Lock()
	defer dest.mu.Unlock()
	for i := 0; i < numObjects; i++ {
		idx := destOffset + uint64(i)
		if e, occupied := dest.slots[idx]; occupied && e.present {
			return kernelerr.New(kernelerr.DeleteFirst)
		}
		var obj any
		switch objType {
		case kernelabi.ObjUntyped:
			obj = &untypedObj{sizeBits: sizeBits}
		case kernelabi.ObjCNode:
			k.mu.Lock()
			handle := kernelabi.CPtr(k.nextCNode)
			k.nextCNode++
			k.cnodes[handle] = newCNode()
			k.mu.Unlock()
			obj = handle
		case kernelabi.ObjTCB:
			obj = &tcbObj{}
		case kernelabi.ObjASIDPool:
			obj = &asidPoolObj{capacity: 1024}
		case kernelabi.ObjEndpoint:
			obj = &endpointObj{rendezvous: make(chan rendezvous)}
		case kernelabi.ObjNotification:
			n := &notificationObj{}
			n.cond = sync.NewCond(&n.mu)
			obj = n
		default:
			obj = make([]byte, objectSize(objType, sizeBits))
		}
		id := k.newObject(obj)
		dest.slots[idx] = &capEntry{present: true, kind: objType, obj: id, rights: kernelabi.AllRights}
	}
	return nil
}

func (k *Kernel) lookup(c kernelabi.CPtr, idx uint64) (*cnode, *capEntry, error) {
	n, err := k.cnodeFor(c)
	if err != nil {
		return nil, nil, err
	}
	n.mu.Lock()
	e, ok := n.slots[idx]
	n.mu.Unlock()
	if !ok || !e.present {
		return n, nil, kernelerr.New(kernelerr.FailedLookup)
	}
	return n, e, nil
}

func (k *Kernel) installCopy(destCNode kernelabi.CPtr, destIndex uint64, src *capEntry, rights kernelabi.Rights, badge uint64, hasBadge bool) error {
	dest, err := k.cnodeFor(destCNode)
	if err != nil {
		return err
	}
	dest.mu.Lock()
	defer dest.mu.Unlock()
	if e, occupied := dest.slots[destIndex]; occupied && e.present {
		return kernelerr.New(kernelerr.DeleteFirst)
	}
	cp := *src
	cp.rights = rights
	if hasBadge {
		cp.badge = badge
	}
	dest.slots[destIndex] = &cp
	return nil
}

func (k *Kernel) CNodeCopy(destCNode kernelabi.CPtr, destIndex uint64, srcCNode kernelabi.CPtr, srcIndex uint64, rights kernelabi.Rights) error {
	_, src, err := k.lookup(srcCNode, srcIndex)
	if err != nil {
		return err
	}
	return k.installCopy(destCNode, destIndex, src, rights, 0, false)
}

func (k *Kernel) CNodeMint(destCNode kernelabi.CPtr, destIndex uint64, srcCNode kernelabi.CPtr, srcIndex uint64, rights kernelabi.Rights, badge uint64) error {
	_, src, err := k.lookup(srcCNode, srcIndex)
	if err != nil {
		return err
	}
	return k.installCopy(destCNode, destIndex, src, rights, badge, true)
}

func (k *Kernel) CNodeMove(destCNode kernelabi.CPtr, destIndex uint64, srcCNode kernelabi.CPtr, srcIndex uint64) error {
	srcN, src, err := k.lookup(srcCNode, srcIndex)
	if err != nil {
		return err
	}
	if err := k.installCopy(destCNode, destIndex, src, src.rights, src.badge, true); err != nil {
		return err
	}
	srcN.mu.Lock()
	delete(srcN.slots, srcIndex)
	srcN.mu.Unlock()
	return nil
}

func (k *Kernel) CNodeMutate(destCNode kernelabi.CPtr, destIndex uint64, srcCNode kernelabi.CPtr, srcIndex uint64, badge uint64) error {
	srcN, src, err := k.lookup(srcCNode, srcIndex)
	if err != nil {
		return err
	}
	if err := k.installCopy(destCNode, destIndex, src, src.rights, badge, true); err != nil {
		return err
	}
	srcN.mu.Lock()
	delete(srcN.slots, srcIndex)
	srcN.mu.Unlock()
	return nil
}

func (k *Kernel) CNodeDelete(cnodePtr kernelabi.CPtr, index uint64) error {
	n, err := k.cnodeFor(cnodePtr)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.slots[index]; !ok || !e.present {
		return kernelerr.New(kernelerr.FailedLookup)
	}
	delete(n.slots, index)
	return nil
}

// CNodeRevoke deletes whatever occupies cnodePtr[index], if anything.
// Unlike CNodeDelete, revoking an already-empty slot is a harmless no-op
// (real seL4 Revoke is idempotent), which is what lets
// slots.CNodeSlots.WithTemporary's scope-exit revoke succeed even when the
// lent range was never populated.
func (k *Kernel) CNodeRevoke(cnodePtr kernelabi.CPtr, index uint64) error {
	n, err := k.cnodeFor(cnodePtr)
	if err != nil {
		return err
	}
	n.mu.Lock()
	delete(n.slots, index)
	n.mu.Unlock()
	return nil
}

func (k *Kernel) TCBConfigure(tcb, cspaceRoot, vspaceRoot kernelabi.CPtr, ipcBufferAddr uint64, ipcBufferFrame, faultEP kernelabi.CPtr) error {
	_, e, err := k.lookup(RootCNode, uint64(tcb))
	if err != nil {
		return err
	}
	if e.kind != kernelabi.ObjTCB {
		return kernelerr.New(kernelerr.InvalidCapability)
	}
	return nil
}

func (k *Kernel) TCBWriteRegisters(tcb kernelabi.CPtr, resume bool, regs kernelabi.Registers) error {
	_, e, err := k.lookup(RootCNode, uint64(tcb))
	if err != nil {
		return err
	}
	t, ok := k.object(e.obj).(*tcbObj)
	if !ok {
		return kernelerr.New(kernelerr.InvalidCapability)
	}
	t.mu.Lock()
	t.regs = regs
	t.mu.Unlock()
	if resume {
		return k.TCBResume(tcb)
	}
	return nil
}

func (k *Kernel) TCBSetPriority(tcb, authority kernelabi.CPtr, priority uint8) error {
	_, e, err := k.lookup(RootCNode, uint64(tcb))
	if err != nil {
		return err
	}
	t := k.object(e.obj).(*tcbObj)
	t.mu.Lock()
	t.priority = priority
	t.mu.Unlock()
	return nil
}

func (k *Kernel) TCBResume(tcb kernelabi.CPtr) error {
	_, e, err := k.lookup(RootCNode, uint64(tcb))
	if err != nil {
		return err
	}
	t := k.object(e.obj).(*tcbObj)
	t.mu.Lock()
	if t.resumed {
		t.mu.Unlock()
		return nil
	}
	t.resumed = true
	fn := t.onResume
	regs := t.regs
	t.mu.Unlock()
	if fn != nil {
		go fn(regs)
	}
	return nil
}

func (k *Kernel) TCBBindNotification(tcb, notification kernelabi.CPtr) error {
	_, _, err := k.lookup(RootCNode, uint64(tcb))
	return err
}

// SetThreadEntry is a simulation-only hook (not part of kernelabi.Invoker):
// it registers the Go closure that TCBResume runs as "the child thread",
// standing in for a real ELF entry point. pkg/process's tests use this to
// observe what a spawned process does without an actual target image.
func (k *Kernel) SetThreadEntry(tcb kernelabi.CPtr, fn func(kernelabi.Registers)) error {
	_, e, err := k.lookup(RootCNode, uint64(tcb))
	if err != nil {
		return err
	}
	t := k.object(e.obj).(*tcbObj)
	t.mu.Lock()
	t.onResume = fn
	t.mu.Unlock()
	return nil
}

func (k *Kernel) PageMap(page, vspace kernelabi.CPtr, vaddr uintptr, rights kernelabi.Rights, attrs kernelabi.VMAttributes) error {
	n, e, err := k.lookup(RootCNode, uint64(page))
	if err != nil {
		return err
	}
	n.mu.Lock()
	e.mapped = true
	e.vaddr = vaddr
	e.vspace = vspace
	n.mu.Unlock()
	return nil
}

func (k *Kernel) PageUnmap(page kernelabi.CPtr) error {
	n, e, err := k.lookup(RootCNode, uint64(page))
	if err != nil {
		return err
	}
	n.mu.Lock()
	e.mapped = false
	n.mu.Unlock()
	return nil
}

func (k *Kernel) PageGetAddress(page kernelabi.CPtr) (uintptr, error) {
	_, e, err := k.lookup(RootCNode, uint64(page))
	if err != nil {
		return 0, err
	}
	if !e.mapped {
		return 0, kernelerr.New(kernelerr.FailedLookup)
	}
	return e.vaddr, nil
}

// PageCleanInvalidate implements kernelabi.Invoker. The simulated kernel
// has no real cache to maintain, so this only validates that every page
// in [vaddr, vaddr+2^bits) is actually mapped in vspace, failing fast on
// any unmapped page in range. It scans every page-sized mapped entry and
// checks for full coverage.
func (k *Kernel) PageCleanInvalidate(vspace kernelabi.CPtr, vaddr uintptr, bits int) error {
	root, err := k.cnodeFor(RootCNode)
	if err != nil {
		return err
	}
	const pageSize = uintptr(1) << 12
	start := vaddr
	end := vaddr + (uintptr(1) << uint(bits))

	root.mu.Lock()
	defer root.mu.Unlock()
	for addr := start; addr < end; addr += pageSize {
		found := false
		for _, e := range root.slots {
			if e.present && e.mapped && e.vspace == vspace && e.vaddr == addr {
				found = true
				break
			}
		}
		if !found {
			return kernelerr.New(kernelerr.FailedLookup)
		}
	}
	return nil
}

func (k *Kernel) PageTableMap(pt, vspace kernelabi.CPtr, vaddr uintptr, attrs kernelabi.VMAttributes) error {
	_, _, err := k.lookup(RootCNode, uint64(pt))
	return err
}

func (k *Kernel) PageTableUnmap(pt kernelabi.CPtr) error {
	_, _, err := k.lookup(RootCNode, uint64(pt))
	return err
}

func (k *Kernel) ASIDPoolAssign(pool, vspace kernelabi.CPtr) (kernelabi.ASID, error) {
	_, e, err := k.lookup(RootCNode, uint64(pool))
	if err != nil {
		return 0, err
	}
	p := k.object(e.obj).(*asidPoolObj)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.issued >= p.capacity {
		return 0, kernelerr.New(kernelerr.NotEnoughMemory)
	}
	p.issued++
	return kernelabi.ASID(p.issued), nil
}

func (k *Kernel) IRQControlGet(control kernelabi.CPtr, irq int, destCNode kernelabi.CPtr, destIndex uint64) error {
	k.mu.Lock()
	if k.claimedIRQ[irq] {
		k.mu.Unlock()
		return kernelerr.New(kernelerr.RangeError)
	}
	k.claimedIRQ[irq] = true
	k.mu.Unlock()

	destN, err := k.cnodeFor(destCNode)
	if err != nil {
		return err
	}
	id := k.newObject(&irqHandlerObj{irq: irq})
	destN.mu.Lock()
	if e, occupied := destN.slots[destIndex]; occupied && e.present {
		destN.mu.Unlock()
		return kernelerr.New(kernelerr.DeleteFirst)
	}
	destN.slots[destIndex] = &capEntry{present: true, kind: kernelabi.ObjIRQHandler, obj: id}
	destN.mu.Unlock()
	return nil
}

func (k *Kernel) irqHandler(handler kernelabi.CPtr) (*irqHandlerObj, error) {
	_, e, err := k.lookup(RootCNode, uint64(handler))
	if err != nil {
		return nil, err
	}
	h, ok := k.object(e.obj).(*irqHandlerObj)
	if !ok {
		return nil, kernelerr.New(kernelerr.InvalidCapability)
	}
	return h, nil
}

func (k *Kernel) IRQHandlerSetNotification(handler, notification kernelabi.CPtr) error {
	h, err := k.irqHandler(handler)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.notif = notification
	h.mu.Unlock()
	return nil
}

func (k *Kernel) IRQHandlerAck(handler kernelabi.CPtr) error {
	h, err := k.irqHandler(handler)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.acked = true
	h.mu.Unlock()
	return nil
}

// FireIRQ is a simulation-only hook: it signals the notification bound to
// handler, standing in for a real hardware interrupt arriving on that line.
func (k *Kernel) FireIRQ(handler kernelabi.CPtr) error {
	h, err := k.irqHandler(handler)
	if err != nil {
		return err
	}
	h.mu.Lock()
	notif := h.notif
	h.mu.Unlock()
	if notif == 0 && handler != 0 {
		return kernelerr.New(kernelerr.InvalidCapability)
	}
	return k.Signal(notif)
}

func (k *Kernel) endpoint(ep kernelabi.CPtr) (*endpointObj, error) {
	_, e, err := k.lookup(RootCNode, uint64(ep))
	if err != nil {
		return nil, err
	}
	obj, ok := k.object(e.obj).(*endpointObj)
	if !ok {
		return nil, kernelerr.New(kernelerr.InvalidCapability)
	}
	return obj, nil
}

func (k *Kernel) Send(ep kernelabi.CPtr, msg kernelabi.Message) error {
	e, err := k.endpoint(ep)
	if err != nil {
		return err
	}
	e.rendezvous <- rendezvous{msg: msg, badge: msg.Badge}
	return nil
}

func (k *Kernel) NBSend(ep kernelabi.CPtr, msg kernelabi.Message) error {
	e, err := k.endpoint(ep)
	if err != nil {
		return err
	}
	select {
	case e.rendezvous <- rendezvous{msg: msg, badge: msg.Badge}:
		return nil
	default:
		return kernelerr.New(kernelerr.IllegalOperation)
	}
}

func (k *Kernel) Recv(ep kernelabi.CPtr) (kernelabi.Message, error) {
	e, err := k.endpoint(ep)
	if err != nil {
		return kernelabi.Message{}, err
	}
	r := <-e.rendezvous
	if r.reply != nil {
		e.mu.Lock()
		e.pending = &pendingCall{msg: r.msg, reply: r.reply}
		e.mu.Unlock()
	}
	r.msg.Badge = r.badge
	return r.msg, nil
}

func (k *Kernel) NBRecv(ep kernelabi.CPtr) (kernelabi.Message, bool, error) {
	e, err := k.endpoint(ep)
	if err != nil {
		return kernelabi.Message{}, false, err
	}
	select {
	case r := <-e.rendezvous:
		if r.reply != nil {
			e.mu.Lock()
			e.pending = &pendingCall{msg: r.msg, reply: r.reply}
			e.mu.Unlock()
		}
		r.msg.Badge = r.badge
		return r.msg, true, nil
	default:
		return kernelabi.Message{}, false, nil
	}
}

func (k *Kernel) Call(ep kernelabi.CPtr, msg kernelabi.Message) (kernelabi.Message, error) {
	e, err := k.endpoint(ep)
	if err != nil {
		return kernelabi.Message{}, err
	}
	reply := make(chan kernelabi.Message, 1)
	e.rendezvous <- rendezvous{msg: msg, badge: msg.Badge, reply: reply}
	return <-reply, nil
}

func (k *Kernel) ReplyRecv(ep kernelabi.CPtr, reply kernelabi.Message) (kernelabi.Message, error) {
	e, err := k.endpoint(ep)
	if err != nil {
		return kernelabi.Message{}, err
	}
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if pending != nil {
		pending.reply <- reply
	}
	return k.Recv(ep)
}

func (k *Kernel) notification(n kernelabi.CPtr) (*notificationObj, *capEntry, error) {
	_, e, err := k.lookup(RootCNode, uint64(n))
	if err != nil {
		return nil, nil, err
	}
	obj, ok := k.object(e.obj).(*notificationObj)
	if !ok {
		return nil, nil, kernelerr.New(kernelerr.InvalidCapability)
	}
	return obj, e, nil
}

func (k *Kernel) Wait(n kernelabi.CPtr) (uint64, error) {
	notif, _, err := k.notification(n)
	if err != nil {
		return 0, err
	}
	notif.mu.Lock()
	for notif.badge == 0 {
		notif.cond.Wait()
	}
	badge := notif.badge
	notif.badge = 0
	notif.mu.Unlock()
	return badge, nil
}

// Signal ORs the badge of the minted notification capability used into the
// receiver's accumulated badge word: badges on minted copies OR together
// in the receiver's badge register. An unbadged notification capability
// signals bit 0.
func (k *Kernel) Signal(n kernelabi.CPtr) error {
	notif, entry, err := k.notification(n)
	if err != nil {
		return err
	}
	badge := entry.badge
	if badge == 0 {
		badge = 1
	}
	notif.mu.Lock()
	notif.badge |= badge
	notif.cond.Signal()
	notif.mu.Unlock()
	return nil
}

func (k *Kernel) Yield() {}

var _ kernelabi.Invoker = (*Kernel)(nil)
