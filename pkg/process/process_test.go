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

package process

import (
	"testing"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/granule"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/region"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/vspace"
)

// bootProcessKernel installs one boot Untyped per kernel object process.New
// needs: slot 0 for the VSpace's own page directory/ASID pool, slot 1 for
// the TCB, slot 2 for the IPC buffer page, and slot 3 for the stack
// region's backing pages.
func bootProcessKernel(t *testing.T) (k *simkernel.Kernel, vs *vspace.VSpace, tcbUt, ipcUt, stackUt cap.Cap[objtype.Untyped]) {
	t.Helper()
	k = simkernel.New()
	if err := k.InstallBootUntyped(simkernel.RootCNode, 0, 20); err != nil {
		t.Fatalf("InstallBootUntyped(vspace) failed: %v", err)
	}
	if err := k.InstallBootUntyped(simkernel.RootCNode, 1, 10); err != nil {
		t.Fatalf("InstallBootUntyped(tcb) failed: %v", err)
	}
	if err := k.InstallBootUntyped(simkernel.RootCNode, 2, 12); err != nil {
		t.Fatalf("InstallBootUntyped(ipc buffer) failed: %v", err)
	}
	if err := k.InstallBootUntyped(simkernel.RootCNode, 3, 13); err != nil {
		t.Fatalf("InstallBootUntyped(stack) failed: %v", err)
	}

	if err := k.UntypedRetype(0, kernelabi.ObjPageDirectory, 0, simkernel.RootCNode, 10, 1); err != nil {
		t.Fatalf("retype page directory failed: %v", err)
	}
	if err := k.UntypedRetype(0, kernelabi.ObjASIDPool, 0, simkernel.RootCNode, 11, 1); err != nil {
		t.Fatalf("retype asid pool failed: %v", err)
	}
	root := cap.New(10, simkernel.RootCNode, cap.Local, objtype.PageDirectory{})
	pool := cap.New(11, simkernel.RootCNode, cap.Local, objtype.ASIDPool{})
	var err error
	vs, err = vspace.New(k, root, pool, 0x10000000, 0x0FFFF000, nil, nil)
	if err != nil {
		t.Fatalf("vspace.New failed: %v", err)
	}

	tcbUt = cap.New(1, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: 10})
	ipcUt = cap.New(2, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: 12})
	stackUt = cap.New(3, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: 13})
	return k, vs, tcbUt, ipcUt, stackUt
}

func mapStack(t *testing.T, k *simkernel.Kernel, vs *vspace.VSpace, stackUt cap.Cap[objtype.Untyped]) region.Region {
	t.Helper()
	stackDest := slots.New(simkernel.RootCNode, 20, 2)
	stackRegion, err := region.NewUnmapped(k, stackUt, stackDest, region.General, region.Exclusive)
	if err != nil {
		t.Fatalf("NewUnmapped(stack) failed: %v", err)
	}
	mapped, err := vs.MapRegion(k, stackRegion, kernelabi.AllRights, kernelabi.VMAttributes{Cacheable: true})
	if err != nil {
		t.Fatalf("MapRegion(stack) failed: %v", err)
	}
	return mapped
}

func TestNewConstructsReadyProcessAndStartResumesIt(t *testing.T) {
	k, vs, tcbUt, ipcUt, stackUt := bootProcessKernel(t)
	mappedStack := mapStack(t, k, vs, stackUt)

	childCNode := cap.New(30, simkernel.RootCNode, cap.Local, objtype.CNode{Bits: 8})
	priorityAuthority := cap.New(31, simkernel.RootCNode, cap.Local, objtype.TCB{})

	params := Params{
		Arch:              granule.ARMv7,
		TCBUntyped:        tcbUt,
		IPCBufferUntyped:  ipcUt,
		Dest:              slots.New(simkernel.RootCNode, 40, 2),
		ChildCNode:        childCNode,
		ChildVSpace:       vs,
		ParentVSpace:      vs,
		StackRegion:       mappedStack,
		IPCBufferVAddr:    0x0FFFE000,
		Priority:          100,
		PriorityAuthority: priorityAuthority,
		Entry:             0x00400000,
		EntryParams:       []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	proc, err := New(k, params)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if proc.State() != Ready {
		t.Fatalf("New failed: state = %v, want Ready", proc.State())
	}

	if err := proc.Start(k); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if proc.State() != Started {
		t.Errorf("Start failed: state = %v, want Started", proc.State())
	}

	if err := proc.Start(k); err == nil {
		t.Errorf("second Start failed: want error resuming an already-Started process, got nil")
	}
}

func TestNewRejectsWrongDestSlotCount(t *testing.T) {
	k, vs, _, _, stackUt := bootProcessKernel(t)
	mappedStack := mapStack(t, k, vs, stackUt)

	params := Params{
		Arch:           granule.ARMv7,
		Dest:           slots.New(simkernel.RootCNode, 40, 1),
		StackRegion:    mappedStack,
		IPCBufferVAddr: 0x0FFFE000,
		Entry:          0x00400000,
	}
	if _, err := New(k, params); err == nil {
		t.Errorf("New with 1 destination slot failed: want error, got nil")
	}
}

func TestNewRejectsUnmappedStackRegion(t *testing.T) {
	k, vs, tcbUt, ipcUt, stackUt := bootProcessKernel(t)

	stackDest := slots.New(simkernel.RootCNode, 20, 2)
	unmappedStack, err := region.NewUnmapped(k, stackUt, stackDest, region.General, region.Exclusive)
	if err != nil {
		t.Fatalf("NewUnmapped(stack) failed: %v", err)
	}

	childCNode := cap.New(30, simkernel.RootCNode, cap.Local, objtype.CNode{Bits: 8})
	priorityAuthority := cap.New(31, simkernel.RootCNode, cap.Local, objtype.TCB{})

	params := Params{
		Arch:              granule.ARMv7,
		TCBUntyped:        tcbUt,
		IPCBufferUntyped:  ipcUt,
		Dest:              slots.New(simkernel.RootCNode, 40, 2),
		ChildCNode:        childCNode,
		ChildVSpace:       vs,
		ParentVSpace:      vs,
		StackRegion:       unmappedStack,
		IPCBufferVAddr:    0x0FFFE000,
		Priority:          100,
		PriorityAuthority: priorityAuthority,
		Entry:             0x00400000,
	}
	if _, err := New(k, params); err == nil {
		t.Errorf("New with an unmapped stack region failed: want error, got nil")
	}
}
