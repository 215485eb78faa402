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

// Package objtype holds the phantom-marker tag types that parameterize
// cap.Cap — one per seL4 kernel object kind. Ideally object size would be
// a const-generic Bits parameter carried at compile time; Go has no
// const generics, so each kind that has a runtime size carries it as an
// ordinary field instead, and every builder that consumes one validates
// the arithmetic explicitly.
package objtype

import "github.com/nestybox/sel4cap/pkg/kernelabi"

// Kind is implemented by every object-kind tag type.
type Kind interface {
	ObjType() kernelabi.ObjectType
}

// Sized is implemented by kinds whose instance carries a size in bits
// (Untyped, CNode).
type Sized interface {
	Kind
	SizeBits() int
}

// Mintable is implemented by kinds whose capabilities may carry a badge.
type Mintable interface {
	Kind
	mintable()
}

// Untyped is a capability to 2^Bits bytes of unallocated memory.
type Untyped struct {
	Bits int
}

func (Untyped) ObjType() kernelabi.ObjectType { return kernelabi.ObjUntyped }
func (u Untyped) SizeBits() int               { return u.Bits }

// CNode is a capability to a capability table of 2^Bits slots.
type CNode struct {
	Bits int
}

func (CNode) ObjType() kernelabi.ObjectType { return kernelabi.ObjCNode }
func (c CNode) SizeBits() int               { return c.Bits }

// Endpoint is a synchronous IPC rendezvous object.
type Endpoint struct{}

func (Endpoint) ObjType() kernelabi.ObjectType { return kernelabi.ObjEndpoint }
func (Endpoint) mintable()                     {}

// Notification is an asynchronous bit-OR signal object.
type Notification struct{}

func (Notification) ObjType() kernelabi.ObjectType { return kernelabi.ObjNotification }
func (Notification) mintable()                     {}

// PageState distinguishes an unmapped leaf frame from one installed at a
// particular virtual address in a particular address space.
type PageState struct {
	Mapped bool
	VAddr  uintptr
	ASID   kernelabi.ASID
}

// Page is a base-granule (4KiB on both supported architectures) leaf
// frame.
type Page struct{ PageState }

func (Page) ObjType() kernelabi.ObjectType { return kernelabi.ObjPage }

// LargePage is a large-granule leaf frame (64KiB on ARMv7).
type LargePage struct{ PageState }

func (LargePage) ObjType() kernelabi.ObjectType { return kernelabi.ObjLargePage }

// Section is a section-granule leaf frame (1GiB on AArch64, 1MiB section
// on ARMv7 short descriptors).
type Section struct{ PageState }

func (Section) ObjType() kernelabi.ObjectType { return kernelabi.ObjSection }

// Supersection is ARMv7's largest section granule (16MiB).
type Supersection struct{ PageState }

func (Supersection) ObjType() kernelabi.ObjectType { return kernelabi.ObjSupersection }

// PageTable is an intermediate paging-structure node.
type PageTable struct{}

func (PageTable) ObjType() kernelabi.ObjectType { return kernelabi.ObjPageTable }

// PageDirectory is a VSpace's top-level paging root.
type PageDirectory struct{}

func (PageDirectory) ObjType() kernelabi.ObjectType { return kernelabi.ObjPageDirectory }

// TCB is a thread control block.
type TCB struct{}

func (TCB) ObjType() kernelabi.ObjectType { return kernelabi.ObjTCB }

// ASIDPool is a pool of unassigned address-space identifiers.
type ASIDPool struct{}

func (ASIDPool) ObjType() kernelabi.ObjectType { return kernelabi.ObjASIDPool }

// IRQHandlerObj is a capability to a single IRQ line's handler authority.
type IRQHandlerObj struct {
	IRQ int
}

func (IRQHandlerObj) ObjType() kernelabi.ObjectType { return kernelabi.ObjIRQHandler }

// fixedObjectSizeBits gives the size, in bits, of a single instance of a
// fixed-size kind — everything except Untyped and CNode, whose size is
// caller-chosen. Used by the untyped allocator to validate retype
// arithmetic. The frame sizes are the ARMv7 ones; there is no
// per-architecture table.
func fixedObjectSizeBits(k kernelabi.ObjectType) (int, bool) {
	switch k {
	case kernelabi.ObjPage:
		return 12, true
	case kernelabi.ObjLargePage:
		return 16, true
	case kernelabi.ObjSection:
		return 20, true
	case kernelabi.ObjSupersection:
		return 24, true
	case kernelabi.ObjPageTable:
		return 12, true
	case kernelabi.ObjPageDirectory:
		return 14, true
	case kernelabi.ObjTCB, kernelabi.ObjEndpoint, kernelabi.ObjNotification, kernelabi.ObjASIDPool, kernelabi.ObjIRQHandler:
		return 10, true
	default:
		return 0, false
	}
}

// SizeBitsOf returns the size in bits a single instance of k occupies when
// retyped from an Untyped. For Untyped/CNode (caller-sized kinds) it
// requires the explicit size via Sized.
func SizeBitsOf(k Kind) (int, bool) {
	if s, ok := k.(Sized); ok {
		return s.SizeBits(), true
	}
	return fixedObjectSizeBits(k.ObjType())
}
