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

package main

import (
	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/bootinfo"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/rootconfig"
	"github.com/nestybox/sel4cap/pkg/slots"
)

// Sizes of the two untyped regions a loader would hand this root task,
// and the empty-slot range following them in the root CNode. These stand
// in for the real boot-info a loader assembles from the device tree;
// internal/simkernel has no loader, so bootstrapKernel installs them by
// hand at fixed slots, the same shape pkg/bootinfo's own tests use.
const (
	generalUntypedSlot = 0
	deviceUntypedSlot  = 1
	emptySlotBase      = 2
	emptySlotCount     = 1024

	generalUntypedBits = 27
	deviceUntypedBits  = 16
	deviceUntypedPaddr = 0x09000000
)

// bootstrapKernel stands in for the loader handoff: it builds a fresh
// simulated kernel, installs its boot untypeds, and runs the resulting
// bootinfo.BootInfo through bootinfo.BootstrapAllocators exactly as a real
// root task's entry point would with the BootInfo the loader passed it.
func bootstrapKernel(cfg rootconfig.Config) (*simkernel.Kernel, *bootinfo.Allocators, error) {
	k := simkernel.New()
	if err := k.InstallBootUntyped(simkernel.RootCNode, generalUntypedSlot, generalUntypedBits); err != nil {
		return nil, nil, err
	}
	if err := k.InstallBootUntyped(simkernel.RootCNode, deviceUntypedSlot, deviceUntypedBits); err != nil {
		return nil, nil, err
	}

	bi := bootinfo.BootInfo{
		EmptySlots: slots.New(simkernel.RootCNode, emptySlotBase, emptySlotCount),
		Untypeds: []bootinfo.UntypedDescriptor{
			{SizeBits: generalUntypedBits, Device: false},
			{SizeBits: deviceUntypedBits, Device: true, Paddr: deviceUntypedPaddr},
		},
		UntypedCaps: []cap.Cap[objtype.Untyped]{
			cap.New(generalUntypedSlot, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: generalUntypedBits}),
			cap.New(deviceUntypedSlot, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: deviceUntypedBits}),
		},
	}

	alloc, err := bootinfo.BootstrapAllocators(bi, cfg.ReservoirSlots)
	if err != nil {
		return nil, nil, err
	}
	return k, alloc, nil
}
