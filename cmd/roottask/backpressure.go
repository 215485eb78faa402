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
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/bootinfo"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/ipc"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/rlog"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

const (
	doubleDoorQueueCapacity    = 16384
	doubleDoorItemsPerProducer = 20
)

// runDoubleDoorBackpressure builds two fixed-capacity queues sharing one
// wakeup notification, drives both producers to completion before the
// consumer ever waits, and confirms the consumer drains both queues
// behind exactly one wakeup. Running both producers to completion first
// (rather than racing them against the consumer) is what makes the single
// wakeup deterministic: internal/simkernel.Kernel's Signal ORs a badge
// into the notification and Wait atomically reads and clears whatever has
// accumulated, so every Signal issued before the one Wait call coalesces
// into that single wakeup instead of risking one per Signal.
func runDoubleDoorBackpressure(k *simkernel.Kernel, alloc *bootinfo.Allocators) error {
	log := rlog.Component("backpressure")

	notifUt, err := alloc.General.Alloc(k, 10)
	if err != nil {
		return err
	}
	notifSlot, err := alloc.Reservoir.Alloc(1)
	if err != nil {
		return err
	}
	notif, err := untyped.Retype(k, notifUt, notifSlot, objtype.Notification{})
	if err != nil {
		return err
	}

	mintSlots, err := alloc.Reservoir.Alloc(2)
	if err != nil {
		return err
	}
	badgedE, mintSlots, err := cap.Mint(k, notif, kernelabi.AllRights, ipc.QueueABadge, mintSlots)
	if err != nil {
		return err
	}
	badgedF, _, err := cap.Mint(k, notif, kernelabi.AllRights, ipc.QueueBBadge, mintSlots)
	if err != nil {
		return err
	}

	ringE := ipc.NewRing[int](doubleDoorQueueCapacity, badgedE)
	ringF := ipc.NewRing[int](doubleDoorQueueCapacity, badgedF)
	producerE := ipc.NewProducer(ringE)
	producerF := ipc.NewProducer(ringF)
	consumer := ipc.NewDoubleDoorConsumer(notif, ipc.NewConsumer(ringE), ipc.NewConsumer(ringF))

	for i := 0; i < doubleDoorItemsPerProducer; i++ {
		if err := producerE.Enqueue(k, i); err != nil {
			return err
		}
	}
	for i := 0; i < doubleDoorItemsPerProducer; i++ {
		if err := producerF.Enqueue(k, i); err != nil {
			return err
		}
	}

	var interruptCount, queueEElementCount, queueFElementCount int
	err = consumer.ConsumeOnce(k,
		func(badge uint64) { interruptCount++ },
		func(item int) { queueEElementCount++ },
		func(item int) { queueFElementCount++ },
	)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"interrupt_count":       interruptCount,
		"queue_e_element_count": queueEElementCount,
		"queue_f_element_count": queueFElementCount,
	}).Info("double-door consumer drained both queues behind one wakeup")

	if interruptCount != 1 || queueEElementCount != doubleDoorItemsPerProducer || queueFElementCount != doubleDoorItemsPerProducer {
		return errors.Errorf(
			"backpressure demo failed: interrupt_count=%d queue_e=%d queue_f=%d, want 1, %d, %d",
			interruptCount, queueEElementCount, queueFElementCount, doubleDoorItemsPerProducer, doubleDoorItemsPerProducer)
	}
	return nil
}
