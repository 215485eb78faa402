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

// Command roottask is an example root task exercising sel4cap end to
// end: bootstrap, child process construction, double-door backpressure,
// a call/response loop, and fault supervision, all driven against
// internal/simkernel in place of real hardware. It mirrors the role the
// original example root task played for the library this one is modeled
// after: an integration harness proving the library's pieces compose.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/bootinfo"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/rlog"
	"github.com/nestybox/sel4cap/pkg/rootconfig"
	"github.com/nestybox/sel4cap/pkg/untyped"
	"github.com/nestybox/sel4cap/pkg/vspace"
)

// Address-space layout and object sizes for the root task's own VSpace
// and scheduling authority. Children share this VSpace rather than
// getting their own, since this binary never schedules a second hardware
// thread — see childprocess.go's use of simkernel's TCBResume hook.
const (
	rootVSpaceBase        = 0x10000000
	rootScratchBase       = 0x0FFFF000
	rootPageDirectoryBits = 14
	rootASIDPoolBits      = 10
	priorityAuthorityBits = 10
	childPriority         = 100
)

func main() {
	cfg, err := rootconfig.Load("roottask.toml")
	if err != nil {
		logrus.WithError(err).Fatal("roottask: failed to load configuration")
	}
	level, err := cfg.ParsedLogLevel()
	if err != nil {
		logrus.WithError(err).Fatal("roottask: invalid log level")
	}
	logger := logrus.New()
	logger.SetLevel(level)
	rlog.SetLogger(logger)

	if err := run(cfg); err != nil {
		rlog.Component("main").WithError(err).Error("roottask: halting after unrecoverable error")
		os.Exit(1)
	}
	rlog.Component("main").Info("roottask: all scenarios completed")
}

// run wires the demo scenarios together in sequence, wrapping whatever
// fails in a TopLevelError naming the stage it failed in.
func run(cfg rootconfig.Config) error {
	log := rlog.Component("main")

	k, alloc, err := bootstrapKernel(cfg)
	if err != nil {
		return newTopLevelError(StageBootstrap, err)
	}
	log.WithFields(logrus.Fields{
		"general_bytes": alloc.General.TotalBytes(),
		"device_bytes":  alloc.Device.TotalBytes(),
	}).Info("bootstrap: allocators ready")

	vs, priorityAuthority, err := buildRootVSpaceAndAuthority(k, alloc)
	if err != nil {
		return newTopLevelError(StageBootstrap, err)
	}

	if err := spawnChildAndAwaitCapabilitySplit(k, alloc, vs, priorityAuthority, childPriority); err != nil {
		return newTopLevelError(StageProcessSpawn, err)
	}
	if err := runDoubleDoorBackpressure(k, alloc); err != nil {
		return newTopLevelError(StageBackpressure, err)
	}
	if err := runCallResponseLoop(k, alloc); err != nil {
		return newTopLevelError(StageCallResponse, err)
	}
	if err := runFaultSupervision(k, alloc); err != nil {
		return newTopLevelError(StageFaultSupervision, err)
	}
	return nil
}

// buildRootVSpaceAndAuthority constructs the root task's own VSpace (used
// as every demo child's address space too) and a TCB capability to use as
// TCB_SetPriority's scheduling authority, the way a root task that is its
// own priority authority would in a real deployment.
func buildRootVSpaceAndAuthority(k *simkernel.Kernel, alloc *bootinfo.Allocators) (*vspace.VSpace, cap.Cap[objtype.TCB], error) {
	var zero cap.Cap[objtype.TCB]

	pdUt, err := alloc.General.Alloc(k, rootPageDirectoryBits)
	if err != nil {
		return nil, zero, err
	}
	asidUt, err := alloc.General.Alloc(k, rootASIDPoolBits)
	if err != nil {
		return nil, zero, err
	}
	vspaceSlots, err := alloc.Reservoir.Alloc(2)
	if err != nil {
		return nil, zero, err
	}
	pdSlot, rest, err := vspaceSlots.Alloc(1)
	if err != nil {
		return nil, zero, err
	}
	asidSlot, _, err := rest.Alloc(1)
	if err != nil {
		return nil, zero, err
	}

	root, err := untyped.Retype(k, pdUt, pdSlot, objtype.PageDirectory{})
	if err != nil {
		return nil, zero, err
	}
	pool, err := untyped.Retype(k, asidUt, asidSlot, objtype.ASIDPool{})
	if err != nil {
		return nil, zero, err
	}
	vs, err := vspace.New(k, root, pool, rootVSpaceBase, rootScratchBase, alloc.Reservoir, alloc.General)
	if err != nil {
		return nil, zero, err
	}

	authorityUt, err := alloc.General.Alloc(k, priorityAuthorityBits)
	if err != nil {
		return nil, zero, err
	}
	authoritySlot, err := alloc.Reservoir.Alloc(1)
	if err != nil {
		return nil, zero, err
	}
	priorityAuthority, err := untyped.Retype(k, authorityUt, authoritySlot, objtype.TCB{})
	if err != nil {
		return nil, zero, err
	}

	return vs, priorityAuthority, nil
}
