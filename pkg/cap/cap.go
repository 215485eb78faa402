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

// Package cap is the capability core: Cap[T] is a typed wrapper over a
// kernel capability slot, parameterized by the object kind it points to
// (objtype.Kind) and tagged with the CSpace it is valid in (Role).
//
// Role ("this cptr is valid in the parent's CSpace" vs "this cptr is
// only valid in a named child's CSpace") would ideally be a type
// parameter, so passing a child-role capability to a parent-local
// syscall would be a compile error. Go's generic methods cannot be
// specialized per type argument (you cannot define a method only for
// Cap[T, Local]), so Role is a runtime tag instead, and every operation
// that performs a direct kernel invocation checks it and returns
// ErrWrongRole rather than refusing to compile.
package cap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

// Role identifies which CSpace a Cap's Cptr/CNode fields are valid in.
type Role int

const (
	// Local capabilities are valid in the invoking thread's own CSpace.
	Local Role = iota
	// Child capabilities are valid only in a named child CSpace; direct
	// kernel invocation through them from the parent is refused.
	Child
)

func (r Role) String() string {
	if r == Local {
		return "Local"
	}
	return "Child"
}

// ErrWrongRole is returned when an operation requiring a Local-role
// capability is attempted on a Child-role one.
var ErrWrongRole = fmt.Errorf("cap: operation requires a Local-role capability")

// Cap is a typed wrapper over a kernel capability: a slot index in a
// specific CNode, tagged with the kind of object it names and which
// CSpace it lives in. It is move-only: Move and Delete take a *Cap and
// mark it consumed, while Copy and Mint leave the original untouched and
// return a fresh Cap plus the residual slots. A Cap that has been moved or
// deleted cannot be reused by accident: Consumed() reports it, and Copy,
// Mint, Move and Delete return ErrCapabilityConsumed for it.
type Cap[T objtype.Kind] struct {
	Cptr  kernelabi.CPtr
	CNode kernelabi.CPtr
	Role  Role
	Data  T

	consumed bool
}

// New wraps a freshly installed capability. Called by the builders in
// pkg/untyped (retype), the Copy/Mint/Move methods below, and bootstrap
// code and tests that wrap a capability already installed in a slot.
func New[T objtype.Kind](cptr, cnode kernelabi.CPtr, role Role, data T) Cap[T] {
	return Cap[T]{Cptr: cptr, CNode: cnode, Role: role, Data: data}
}

// Consumed reports whether this Cap has already been moved, deleted, or
// otherwise given up — a consumed Cap must not be passed to Copy/Mint/
// Move/Delete again.
func (c Cap[T]) Consumed() bool { return c.consumed }

func (c Cap[T]) checkLive() error {
	if c.consumed {
		return kernelerr.ErrCapabilityConsumed
	}
	if c.Role != Local {
		return ErrWrongRole
	}
	return nil
}

// LogFields renders identifying state for structured logging.
func (c Cap[T]) LogFields() logrus.Fields {
	return logrus.Fields{
		"cptr":  c.Cptr,
		"cnode": c.CNode,
		"role":  c.Role.String(),
		"kind":  c.Data.ObjType().String(),
	}
}

// Copy produces a same-rights alias of c in a fresh slot, consuming one
// CNodeSlots witness at the destination. c itself is left untouched
// (copies do not consume the original).
func Copy[T objtype.Kind](inv kernelabi.Invoker, c Cap[T], rights kernelabi.Rights, dest slots.CNodeSlots) (Cap[T], slots.CNodeSlots, error) {
	if err := c.checkLive(); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	idx, rest, err := dest.Take()
	if err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	if err := inv.CNodeCopy(dest.CNode, idx, c.CNode, c.Cptr, rights); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, kernelerr.WrapSyscall("CNode_Copy", asKernelError(err))
	}
	return New(idx, dest.CNode, c.Role, c.Data), rest, nil
}

// Mint produces a narrowed/badged alias, for kinds that support badges
// (objtype.Mintable — Endpoint, Notification).
func Mint[T interface {
	objtype.Kind
	objtype.Mintable
}](inv kernelabi.Invoker, c Cap[T], rights kernelabi.Rights, badge uint64, dest slots.CNodeSlots) (Cap[T], slots.CNodeSlots, error) {
	if err := c.checkLive(); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	idx, rest, err := dest.Take()
	if err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	if err := inv.CNodeMint(dest.CNode, idx, c.CNode, c.Cptr, rights, badge); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, kernelerr.WrapSyscall("CNode_Mint", asKernelError(err))
	}
	return New(idx, dest.CNode, c.Role, c.Data), rest, nil
}

// Move relocates c to a fresh slot, invalidating the original: c is
// marked consumed by this call and must not be used again.
func Move[T objtype.Kind](inv kernelabi.Invoker, c *Cap[T], dest slots.CNodeSlots) (Cap[T], slots.CNodeSlots, error) {
	if err := c.checkLive(); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	idx, rest, err := dest.Take()
	if err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, err
	}
	if err := inv.CNodeMove(dest.CNode, idx, c.CNode, c.Cptr); err != nil {
		return Cap[T]{}, slots.CNodeSlots{}, kernelerr.WrapSyscall("CNode_Move", asKernelError(err))
	}
	c.consumed = true
	return New(idx, dest.CNode, c.Role, c.Data), rest, nil
}

// Delete revokes c's installed capability and marks c consumed.
func Delete[T objtype.Kind](inv kernelabi.Invoker, c *Cap[T]) error {
	if err := c.checkLive(); err != nil {
		return err
	}
	if c.Role != Local {
		return ErrWrongRole
	}
	if err := inv.CNodeDelete(c.CNode, c.Cptr); err != nil {
		return kernelerr.WrapSyscall("CNode_Delete", asKernelError(err))
	}
	c.consumed = true
	return nil
}

func asKernelError(err error) *kernelerr.KernelError {
	if ke, ok := err.(*kernelerr.KernelError); ok {
		return ke
	}
	return kernelerr.UnknownError(-1)
}
