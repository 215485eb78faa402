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
	"github.com/nestybox/sel4cap/pkg/fault"
	"github.com/nestybox/sel4cap/pkg/rlog"
)

// probeResult is the user payload this demo's channel never actually
// carries; fault.NewChannel is generic over it regardless, and supplying
// a concrete type here keeps the channel's message side well-typed even
// though this scenario only ever exercises its fault side.
type probeResult struct {
	Code uint32
}

const protectedAddr uint64 = 0x88888888

// runFaultSupervision builds a fault-or-message channel and simulates a
// child thread dereferencing an unmapped address. internal/simkernel has
// no MMU to trap a real access fault from, so the child side calls
// fault.DeliverFault directly on the raw endpoint the kernel would
// otherwise be bound to via TCB_Configure's faultEP parameter — the same
// simulation-only substitute pkg/fault's own tests use for a
// kernel-raised VMFault. The parent blocks on the channel and confirms it
// observes the fault rather than a user message.
func runFaultSupervision(k *simkernel.Kernel, alloc *bootinfo.Allocators) error {
	log := rlog.Component("faultsupervision")

	ut, err := alloc.General.Alloc(k, 10)
	if err != nil {
		return err
	}
	parentSlot, err := alloc.Reservoir.Alloc(1)
	if err != nil {
		return err
	}
	childSlots, err := alloc.Reservoir.Alloc(2)
	if err != nil {
		return err
	}

	handler, faultEP, _, err := fault.NewChannel[probeResult](k, ut, parentSlot, childSlots)
	if err != nil {
		return err
	}

	go func() {
		_ = fault.DeliverFault(k, faultEP, fault.Fault{
			Kind:     fault.VMFault,
			Addr:     protectedAddr,
			IP:       0x1000,
			Syndrome: 0x7,
		})
	}()

	result, err := handler.AwaitMessage(k)
	if err != nil {
		return err
	}
	if result.Fault == nil || result.Fault.Kind != fault.VMFault || result.Fault.Addr != protectedAddr {
		return errors.Errorf("fault supervision failed: got %+v, want VMFault at %#x", result, protectedAddr)
	}
	log.WithField("fault", result.Fault.String()).Info("parent observed child's memory-protection fault")
	return nil
}
