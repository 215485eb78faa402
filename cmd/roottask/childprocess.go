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
	"github.com/pkg/errors"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/bootinfo"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/fault"
	"github.com/nestybox/sel4cap/pkg/granule"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/process"
	"github.com/nestybox/sel4cap/pkg/region"
	"github.com/nestybox/sel4cap/pkg/rlog"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
	"github.com/nestybox/sel4cap/pkg/vspace"
)

// childStatus is the user payload a spawned child reports success or
// failure with over its fault-or-message channel.
type childStatus struct {
	Code uint32
}

// spawnChildAndAwaitCapabilitySplit constructs a child thread of
// execution with process.New, wires it to a fault-or-message channel, and
// resumes it. internal/simkernel has no second hardware thread to
// actually run an ELF image on, so the child's "entry point" is a Go
// closure registered with simkernel.Kernel.SetThreadEntry and run from
// TCBResume: it splits an Untyped into two halves, retypes one half into
// an Endpoint, deletes the other half, and reports the outcome back to
// the parent. The parent blocks on the channel and treats an unexpected
// kernel fault and a reported failure both as errors.
func spawnChildAndAwaitCapabilitySplit(k *simkernel.Kernel, alloc *bootinfo.Allocators, vs *vspace.VSpace, priorityAuthority cap.Cap[objtype.TCB], priority uint8) error {
	log := rlog.Component("childprocess")
	reservoir := alloc.Reservoir

	faultUt, err := alloc.General.Alloc(k, 10)
	if err != nil {
		return err
	}
	faultParentSlot, err := reservoir.Alloc(1)
	if err != nil {
		return err
	}
	faultChildSlots, err := reservoir.Alloc(2)
	if err != nil {
		return err
	}
	handler, faultEP, messageEP, err := fault.NewChannel[childStatus](k, faultUt, faultParentSlot, faultChildSlots)
	if err != nil {
		return err
	}

	childCNodeUt, err := alloc.General.Alloc(k, 12)
	if err != nil {
		return err
	}
	childCNodeSlot, err := reservoir.Alloc(1)
	if err != nil {
		return err
	}
	childCNode, err := untyped.Retype(k, childCNodeUt, childCNodeSlot, objtype.CNode{Bits: 8})
	if err != nil {
		return err
	}

	stackUt, err := alloc.General.Alloc(k, 13)
	if err != nil {
		return err
	}
	stackSlots, err := reservoir.Alloc(2)
	if err != nil {
		return err
	}
	stackRegion, err := region.NewUnmapped(k, stackUt, stackSlots, region.General, region.Exclusive)
	if err != nil {
		return err
	}
	mappedStack, err := vs.MapRegion(k, stackRegion, kernelabi.AllRights, kernelabi.VMAttributes{Cacheable: true})
	if err != nil {
		return err
	}

	tcbUt, err := alloc.General.Alloc(k, 10)
	if err != nil {
		return err
	}
	ipcUt, err := alloc.General.Alloc(k, 12)
	if err != nil {
		return err
	}
	procDest, err := reservoir.Alloc(2)
	if err != nil {
		return err
	}

	params := process.Params{
		Arch:              granule.ARMv7,
		TCBUntyped:        tcbUt,
		IPCBufferUntyped:  ipcUt,
		Dest:              procDest,
		ChildCNode:        childCNode,
		ChildVSpace:       vs,
		ParentVSpace:      vs,
		StackRegion:       mappedStack,
		IPCBufferVAddr:    0x0FFFE000,
		Priority:          priority,
		PriorityAuthority: priorityAuthority,
		FaultEP:           faultEP,
		Entry:             0x00400000,
	}
	proc, err := process.New(k, params)
	if err != nil {
		return err
	}

	splitUt, err := alloc.General.Alloc(k, 12)
	if err != nil {
		return err
	}
	splitSlots, err := reservoir.Alloc(2)
	if err != nil {
		return err
	}
	retypeSlot, err := reservoir.Alloc(1)
	if err != nil {
		return err
	}

	sender := fault.NewSender[childStatus](messageEP)
	if err := k.SetThreadEntry(proc.TCBCptr(), func(kernelabi.Registers) {
		if splitErr := runCapabilitySplit(k, splitUt, splitSlots, retypeSlot); splitErr != nil {
			log.WithError(splitErr).Error("child: capability split failed")
			_ = sender.SendMessage(k, &childStatus{Code: 1})
			return
		}
		if sendErr := sender.SendMessage(k, &childStatus{Code: 0}); sendErr != nil {
			log.WithError(sendErr).Error("child: status report failed")
		}
	}); err != nil {
		return err
	}

	if err := proc.Start(k); err != nil {
		return err
	}

	result, err := handler.AwaitMessage(k)
	if err != nil {
		return err
	}
	if result.Fault != nil {
		return errors.Errorf("child process faulted unexpectedly: %s", result.Fault)
	}
	if result.Message == nil || result.Message.Code != 0 {
		return errors.Errorf("child process reported failure: %+v", result.Message)
	}
	log.Info("child process split its untyped, retyped an endpoint, and reported success")
	return nil
}

// runCapabilitySplit is what the simulated child thread runs: split ut in
// two, retype the left half into an Endpoint, delete the right half.
func runCapabilitySplit(inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], splitDest, retypeDest slots.CNodeSlots) error {
	left, right, err := untyped.Split(inv, ut, splitDest)
	if err != nil {
		return err
	}
	if _, err := untyped.Retype(inv, left, retypeDest, objtype.Endpoint{}); err != nil {
		return err
	}
	return cap.Delete(inv, &right)
}
