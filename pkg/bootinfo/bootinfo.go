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

// Package bootinfo is the loader handoff: the fixed set of capabilities
// and the empty-slot/untyped inventory a freshly started root task finds
// waiting for it, plus the bootstrap routine that turns that raw
// inventory into usable allocators.
package bootinfo

import (
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// UntypedDescriptor describes one untyped region the loader is handing
// over, before it has been wrapped in a cap.Cap: its size, its physical
// address (for device regions, where the address itself is meaningful),
// and whether it is device (uncached MMIO) or general (cached RAM)
// memory.
type UntypedDescriptor struct {
	SizeBits int
	Paddr    uint64
	Device   bool
}

// BootInfo is everything the loader hands a freshly started root task:
// its own root CNode, initial TCB, and initial VSpace capabilities, the
// range of slots in the root CNode that are still empty, and the
// inventory of untyped capabilities available to allocate from.
// UntypedCaps is positional with Untypeds: UntypedCaps[i] is the
// capability UntypedDescriptor Untypeds[i] describes.
type BootInfo struct {
	RootCNode  cap.Cap[objtype.CNode]
	InitTCB    cap.Cap[objtype.TCB]
	InitVSpace cap.Cap[objtype.PageDirectory]

	EmptySlots slots.CNodeSlots

	Untypeds    []UntypedDescriptor
	UntypedCaps []cap.Cap[objtype.Untyped]
}

// Allocators is the result of bootstrapping BootInfo: separate weak
// pools for device and general untyped memory, and a slot bank the
// caller draws its own CNode slots from. Both pools draw the CNode
// slots their on-demand splits consume from the same bank as the
// caller's reservoir — slots.Bank is safe for that shared use.
type Allocators struct {
	General   *untyped.WeakPool
	Device    *untyped.WeakPool
	Reservoir *slots.Bank
}

// BootstrapAllocators splits bi.EmptySlots into a reservoirSize-slot
// window returned to the caller as Allocators.Reservoir and a remainder
// that funds every on-demand split the two weak pools perform, then
// deposits each of bi.Untypeds/bi.UntypedCaps into the device or general
// pool according to its Device flag.
func BootstrapAllocators(bi BootInfo, reservoirSize int) (*Allocators, error) {
	if reservoirSize > bi.EmptySlots.Count {
		return nil, kernelerr.NewProcessSetupError(kernelerr.NotEnoughCNodeSlots,
			"bootinfo: not enough empty slots for the requested reservoir")
	}
	reservoir, rest, err := bi.EmptySlots.Alloc(reservoirSize)
	if err != nil {
		return nil, err
	}

	splitBank := slots.NewBank(rest)
	general := untyped.NewWeakPool(splitBank)
	device := untyped.NewWeakPool(splitBank)

	n := len(bi.Untypeds)
	if len(bi.UntypedCaps) < n {
		n = len(bi.UntypedCaps)
	}
	for i := 0; i < n; i++ {
		if bi.Untypeds[i].Device {
			device.Add(bi.UntypedCaps[i])
		} else {
			general.Add(bi.UntypedCaps[i])
		}
	}

	return &Allocators{General: general, Device: device, Reservoir: slots.NewBank(reservoir)}, nil
}
