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
	"github.com/nestybox/sel4cap/pkg/ipc"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/rlog"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// additionRequest/additionResponse are the call channel's wire types: the
// server adds the two fields back, the client doubles its running total
// each round trip.
type additionRequest struct {
	A uint64
	B uint64
}

type additionResponse struct {
	Sum uint64
}

const callResponseTarget = 100

// runCallResponseLoop demonstrates the Caller/Responder call channel: a
// server goroutine serves additionRequest/additionResponse forever, and
// the client repeatedly calls with a = b = the previous sum, starting
// from 1, until the sum reaches callResponseTarget. Doubling from 1 lands
// on exactly 128 the first time it clears 100, with a == b == 64 on that
// final call.
func runCallResponseLoop(k *simkernel.Kernel, alloc *bootinfo.Allocators) error {
	log := rlog.Component("callresponse")

	epUt, err := alloc.General.Alloc(k, 10)
	if err != nil {
		return err
	}
	epSlot, err := alloc.Reservoir.Alloc(1)
	if err != nil {
		return err
	}
	ep, err := untyped.Retype(k, epUt, epSlot, objtype.Endpoint{})
	if err != nil {
		return err
	}

	responder := ipc.NewResponder[additionRequest, additionResponse](ep)
	go func() {
		_ = responder.Serve(k, func() bool { return false }, func(req *additionRequest) (additionResponse, error) {
			return additionResponse{Sum: req.A + req.B}, nil
		})
	}()

	caller := ipc.NewCaller[additionRequest, additionResponse](ep)
	a, b := uint64(1), uint64(1)
	var sum uint64
	for {
		rsp, err := caller.BlockingCall(k, &additionRequest{A: a, B: b})
		if err != nil {
			return err
		}
		sum = rsp.Sum
		if sum >= callResponseTarget {
			break
		}
		a, b = sum, sum
	}

	log.WithFields(logrus.Fields{"sum": sum, "a": a, "b": b}).Info("call/response loop converged")
	if sum != 128 || a != 64 || b != 64 {
		return errors.Errorf("call/response loop failed: sum=%d a=%d b=%d, want sum=128 a=b=64", sum, a, b)
	}
	return nil
}
