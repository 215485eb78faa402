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

// Package region is a contiguous virtual memory region backed by a run
// of leaf-page capabilities: Unmapped until installed into a VSpace,
// Mapped afterward. Bits is a runtime field (Go has no const generics),
// while State, Kind and Sharing stay small enums validated at every
// operation.
package region

import (
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// PageBits is the base-granule size this package retypes regions out of;
// a region's pages are always base Page objects, larger granules get
// installed later by pkg/vspace via pkg/granule's fit selection.
const PageBits = 12

// Kind distinguishes ordinary (cached, backed by RAM) regions from
// device (uncached, MMIO-backed) regions.
type Kind int

const (
	General Kind = iota
	Device
)

// Sharing tracks whether a region's pages may be mapped into more than
// one VSpace.
type Sharing int

const (
	Exclusive Sharing = iota
	Shared
)

// State distinguishes a region that owns page capabilities but no
// virtual address from one installed at a specific address in a
// specific VSpace.
type State int

const (
	Unmapped State = iota
	Mapped
)

// Region is a run of same-size leaf pages, together with its size,
// kind, sharing mode, and mapping state.
type Region struct {
	Bits    int
	Kind    Kind
	Sharing Sharing
	State   State

	Pages []cap.Cap[objtype.Page]

	VAddr uintptr
	ASID  kernelabi.ASID

	consumed bool
}

func (r Region) checkLive() error {
	if r.consumed {
		return kernelerr.ErrCapabilityConsumed
	}
	return nil
}

// NewUnmapped retypes 2^(bits-PageBits) base pages out of ut, producing
// an Unmapped region of size 2^bits bytes. dest must hold exactly that
// many slots.
func NewUnmapped(inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], dest slots.CNodeSlots, kind Kind, sharing Sharing) (Region, error) {
	bits := ut.Data.Bits
	if bits < PageBits {
		return Region{}, kernelerr.ErrUntypedSizeOutOfRange
	}
	count := 1 << uint(bits-PageBits)
	pages, err := untyped.RetypeMulti(inv, ut, dest, objtype.Page{}, count)
	if err != nil {
		return Region{}, err
	}
	return Region{Bits: bits, Kind: kind, Sharing: sharing, State: Unmapped, Pages: pages}, nil
}

// Split halves r into two equal regions of size 2^(Bits-1), each
// inheriting r's Kind and Sharing. r must be Unmapped: a mapped region's
// pages have a single contiguous virtual address, which splitting would
// have to reassign, so callers unmap first.
func Split(r Region) (Region, Region, error) {
	var zero Region
	if err := r.checkLive(); err != nil {
		return zero, zero, err
	}
	if r.State != Unmapped {
		return zero, zero, kernelerr.NewVSpaceError(kernelerr.VSpaceOpOnMappedRegion)
	}
	if r.Bits <= PageBits || len(r.Pages)%2 != 0 {
		return zero, zero, kernelerr.ErrUntypedSizeOutOfRange
	}
	half := len(r.Pages) / 2
	left := Region{Bits: r.Bits - 1, Kind: r.Kind, Sharing: r.Sharing, State: Unmapped, Pages: r.Pages[:half]}
	right := Region{Bits: r.Bits - 1, Kind: r.Kind, Sharing: r.Sharing, State: Unmapped, Pages: r.Pages[half:]}
	return left, right, nil
}

// Share converts an Exclusive region to Shared, the precondition for
// later weakening capability copies of its pages into another VSpace
// (pkg/vspace.MapRegion does the weakening itself).
func Share(r Region) (Region, error) {
	if err := r.checkLive(); err != nil {
		return Region{}, err
	}
	if r.Sharing == Shared {
		return Region{}, kernelerr.NewVSpaceError(kernelerr.VSpaceAlreadyShared)
	}
	r.Sharing = Shared
	return r, nil
}

// Weaken erases nothing further (Bits is already a runtime field); it
// returns r unchanged after the same liveness check Split and Share make.
// None of these functions marks the region passed in as consumed.
func Weaken(r Region) (Region, error) {
	if err := r.checkLive(); err != nil {
		return Region{}, err
	}
	return r, nil
}
