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

// Package vspace is the VSpace manager: it owns a bump-pointer virtual
// address allocator, maps/unmaps region.Region values into a page
// directory root, and provides a lexically-scoped scratch window for
// byte-level initialization of another VSpace's pages. Only the
// reserved-scratch-region API generation is implemented; the
// explicit-scratch-page-table variant is not (see DESIGN.md).
package vspace

import (
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/region"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// PageSize is the base granule every leaf page in a Region occupies.
const PageSize = uintptr(1) << region.PageBits

// PageTableCoverageBits is the virtual extent a single retyped PageTable
// populates: a PageTable object is 2^12 bytes (objtype.SizeBitsOf), and at
// 4 bytes/entry that holds 1024 leaf slots, each covering one base
// (2^region.PageBits-byte) page — 1024 * 4KiB = 4MiB, log2 = 22.
const PageTableCoverageBits = 22

// pageTableObjectBits is the size, in bits, of a retyped PageTable object
// (must match objtype.SizeBitsOf(objtype.PageTable{})).
const pageTableObjectBits = 12

// scratchWindow is the reserved scratch region: a single page-sized
// virtual address the VSpace keeps unused specifically to briefly window
// another VSpace's pages for initialization.
type scratchWindow struct {
	vaddr uintptr
	inUse bool
}

// VSpace is one address space: a page directory root capability, its
// assigned ASID, a bump allocator for fresh virtual bases, the set of
// regions currently mapped into it, and a reservoir of slots/untyped used
// to populate intermediate paging structures (PageTables) on demand as
// MapRegion walks the hierarchy. The reservoir is optional: a VSpace
// constructed without one (ptSlots == nil) assumes its paging root already
// covers every leaf it will ever map, matching the degenerate single-level
// model the simulated kernel presents.
type VSpace struct {
	root   cap.Cap[objtype.PageDirectory]
	asid   kernelabi.ASID
	bump   uintptr
	mapped map[uintptr]region.Region

	scratch scratchWindow

	ptSlots    *slots.Bank
	ptUntyped  *untyped.WeakPool
	pageTables map[uintptr]cap.Cap[objtype.PageTable]
}

// New assigns an ASID to root via pool and reserves scratchBase (one page)
// as the scratch window. base is the first virtual address the bump
// allocator hands out; it must not overlap scratchBase. ptSlots/ptUntyped
// fund on-demand PageTable population in MapRegion (spec §4.4 step 2); pass
// nil for both to skip paging-structure population entirely (the caller's
// paging root must then already cover every leaf it maps).
func New(inv kernelabi.Invoker, root cap.Cap[objtype.PageDirectory], pool cap.Cap[objtype.ASIDPool], base, scratchBase uintptr, ptSlots *slots.Bank, ptUntyped *untyped.WeakPool) (*VSpace, error) {
	asid, err := inv.ASIDPoolAssign(pool.Cptr, root.Cptr)
	if err != nil {
		return nil, kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("ASIDPool_Assign", asKernelErr(err)))
	}
	return &VSpace{
		root:       root,
		asid:       asid,
		bump:       base,
		mapped:     make(map[uintptr]region.Region),
		scratch:    scratchWindow{vaddr: scratchBase},
		ptSlots:    ptSlots,
		ptUntyped:  ptUntyped,
		pageTables: make(map[uintptr]cap.Cap[objtype.PageTable]),
	}, nil
}

// ASID reports the address-space identifier the kernel assigned this
// VSpace at construction.
func (v *VSpace) ASID() kernelabi.ASID { return v.asid }

// RootCptr reports the paging-root capability slot, for callers (e.g.
// pkg/process) that must pass it to TCB_Configure's vspaceRoot argument.
func (v *VSpace) RootCptr() kernelabi.CPtr { return v.root.Cptr }

func alignUp(x, align uintptr) uintptr {
	return (x + align - 1) &^ (align - 1)
}

// ensurePageTable returns the PageTable installed to cover ptBase,
// retyping and mapping a fresh one from the reservoir if none is there
// yet. Per spec §4.4/§7, a PageTable retyped and installed by an earlier
// call is never torn down on a later failure — it stays in v.pageTables
// for reuse — so only leaf installs need unwinding on partial failure.
func (v *VSpace) ensurePageTable(inv kernelabi.Invoker, ptBase uintptr) (cap.Cap[objtype.PageTable], error) {
	if pt, ok := v.pageTables[ptBase]; ok {
		return pt, nil
	}
	ut, err := v.ptUntyped.Alloc(inv, pageTableObjectBits)
	if err != nil {
		return cap.Cap[objtype.PageTable]{}, kernelerr.NewVSpaceError(kernelerr.ExhaustedPagingResources)
	}
	dest, err := v.ptSlots.Alloc(1)
	if err != nil {
		return cap.Cap[objtype.PageTable]{}, kernelerr.NewVSpaceError(kernelerr.ExhaustedPagingResources)
	}
	pt, err := untyped.Retype(inv, ut, dest, objtype.PageTable{})
	if err != nil {
		return cap.Cap[objtype.PageTable]{}, err
	}
	if err := inv.PageTableMap(pt.Cptr, v.root.Cptr, ptBase, kernelabi.VMAttributes{}); err != nil {
		return cap.Cap[objtype.PageTable]{}, kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("PageTable_Map", asKernelErr(err)))
	}
	v.pageTables[ptBase] = pt
	return pt, nil
}

// MapRegion installs r's pages starting at the next bump-allocated,
// size-aligned virtual base, in order, retyping an intermediate PageTable
// from the reservoir for every not-yet-populated PageTableCoverageBits
// chunk the region spans (spec §4.4 step 2; skipped when the VSpace has
// no reservoir). On partial failure it unwinds every leaf it already
// installed and returns the error, leaving r untouched (still Unmapped,
// still usable).
func (v *VSpace) MapRegion(inv kernelabi.Invoker, r region.Region, rights kernelabi.Rights, attrs kernelabi.VMAttributes) (region.Region, error) {
	if r.State != region.Unmapped {
		return region.Region{}, kernelerr.NewVSpaceError(kernelerr.VSpaceOpOnMappedRegion)
	}
	regionSize := uintptr(1) << uint(r.Bits)
	base := alignUp(v.bump, regionSize)

	installed := 0
	for i, page := range r.Pages {
		vaddr := base + uintptr(i)*PageSize
		if v.ptSlots != nil {
			ptBase := vaddr &^ (uintptr(1)<<PageTableCoverageBits - 1)
			if _, err := v.ensurePageTable(inv, ptBase); err != nil {
				for j := 0; j < installed; j++ {
					_ = inv.PageUnmap(r.Pages[j].Cptr)
				}
				return region.Region{}, err
			}
		}
		if err := inv.PageMap(page.Cptr, v.root.Cptr, vaddr, rights, attrs); err != nil {
			for j := 0; j < installed; j++ {
				_ = inv.PageUnmap(r.Pages[j].Cptr)
			}
			return region.Region{}, kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("Page_Map", asKernelErr(err)))
		}
		installed++
	}

	v.bump = base + regionSize
	mappedRegion := r
	mappedRegion.State = region.Mapped
	mappedRegion.VAddr = base
	mappedRegion.ASID = v.asid
	v.mapped[base] = mappedRegion
	return mappedRegion, nil
}

// Unmap tears down every leaf in r. A failed unmap leaves r in Mapped
// state so the caller may retry; paging-structure nodes are never torn
// down, only leaves.
func (v *VSpace) Unmap(inv kernelabi.Invoker, r region.Region) (region.Region, error) {
	if r.State != region.Mapped {
		return region.Region{}, kernelerr.NewVSpaceError(kernelerr.VSpaceOpOnMappedRegion)
	}
	for _, page := range r.Pages {
		if err := inv.PageUnmap(page.Cptr); err != nil {
			return r, kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("Page_Unmap", asKernelErr(err)))
		}
	}
	delete(v.mapped, r.VAddr)
	unmapped := r
	unmapped.State = region.Unmapped
	unmapped.VAddr = 0
	unmapped.ASID = 0
	return unmapped, nil
}

// WithScratch maps page into the reserved scratch window for the
// duration of f, then unmaps it — a lexically-scoped borrow, refusing
// reentrant use — scratch is exclusive-access.
func (v *VSpace) WithScratch(inv kernelabi.Invoker, page cap.Cap[objtype.Page], rights kernelabi.Rights, attrs kernelabi.VMAttributes, f func(vaddr uintptr) error) error {
	if v.scratch.inUse {
		return kernelerr.NewVSpaceError(kernelerr.UnavailableAddressRange)
	}
	v.scratch.inUse = true
	defer func() { v.scratch.inUse = false }()

	if err := inv.PageMap(page.Cptr, v.root.Cptr, v.scratch.vaddr, rights, attrs); err != nil {
		return kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("Page_Map", asKernelErr(err)))
	}
	ferr := f(v.scratch.vaddr)
	if err := inv.PageUnmap(page.Cptr); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "vspace",
			"vaddr":     v.scratch.vaddr,
		}).Error("with_scratch: unmap at scope exit failed, scratch window leaked")
	}
	return ferr
}

// Flush performs a clean+invalidate cache maintenance operation over a
// mapped region's whole virtual extent.
func (v *VSpace) Flush(inv kernelabi.Invoker, r region.Region) error {
	if r.State != region.Mapped {
		return kernelerr.NewVSpaceError(kernelerr.VSpaceOpOnMappedRegion)
	}
	return v.FlushRange(inv, r.VAddr, r.Bits)
}

// FlushRange performs a clean+invalidate over [vaddr, vaddr+2^bits). A
// range covering any unmapped page fails fast rather than silently
// skipping it.
func (v *VSpace) FlushRange(inv kernelabi.Invoker, vaddr uintptr, bits int) error {
	if err := inv.PageCleanInvalidate(v.root.Cptr, vaddr, bits); err != nil {
		return kernelerr.WrapVSpaceKernelError(kernelerr.WrapSyscall("Page_CleanInvalidate", asKernelErr(err)))
	}
	return nil
}

func asKernelErr(err error) *kernelerr.KernelError {
	if ke, ok := err.(*kernelerr.KernelError); ok {
		return ke
	}
	return kernelerr.UnknownError(-1)
}
