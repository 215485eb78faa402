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

package simkernel

import (
	"testing"

	"github.com/nestybox/sel4cap/pkg/kernelabi"
)

func TestUntypedRetypeBudget(t *testing.T) {
	k := New()
	// Slot 0 is a bootstrap untyped of size 2^12, installed directly for
	// the test (normally this comes from bootinfo).
	root, _ := k.cnodeFor(RootCNode)
	id := k.newObject(&untypedObj{sizeBits: 12})
	root.slots[0] = &capEntry{present: true, kind: kernelabi.ObjUntyped, obj: id}

	if err := k.UntypedRetype(0, kernelabi.ObjEndpoint, 0, RootCNode, 1, 2); err != nil {
		t.Fatalf("UntypedRetype failed: %v", err)
	}
	if _, e, err := k.lookup(RootCNode, 1); err != nil || e.kind != kernelabi.ObjEndpoint {
		t.Errorf("UntypedRetype failed: slot 1 not populated with Endpoint, err=%v", err)
	}
	if _, e, err := k.lookup(RootCNode, 2); err != nil || e.kind != kernelabi.ObjEndpoint {
		t.Errorf("UntypedRetype failed: slot 2 not populated with Endpoint, err=%v", err)
	}
}

func TestCNodeCopyThenDeleteLeavesOriginal(t *testing.T) {
	k := New()
	root, _ := k.cnodeFor(RootCNode)
	id := k.newObject(&untypedObj{sizeBits: 20})
	root.slots[0] = &capEntry{present: true, kind: kernelabi.ObjUntyped, obj: id}

	if err := k.CNodeCopy(RootCNode, 1, RootCNode, 0, kernelabi.AllRights); err != nil {
		t.Fatalf("CNodeCopy failed: %v", err)
	}
	if err := k.CNodeDelete(RootCNode, 1); err != nil {
		t.Fatalf("CNodeDelete failed: %v", err)
	}
	if _, _, err := k.lookup(RootCNode, 0); err != nil {
		t.Errorf("copy-then-delete failed: original slot 0 no longer addressable: %v", err)
	}
}

func TestEndpointCallReplyRecv(t *testing.T) {
	k := New()
	root, _ := k.cnodeFor(RootCNode)
	id := k.newObject(&untypedObj{sizeBits: 12})
	root.slots[0] = &capEntry{present: true, kind: kernelabi.ObjUntyped, obj: id}
	if err := k.UntypedRetype(0, kernelabi.ObjEndpoint, 0, RootCNode, 1, 1); err != nil {
		t.Fatalf("UntypedRetype failed: %v", err)
	}

	done := make(chan kernelabi.Message, 1)
	go func() {
		req, err := k.Recv(1)
		if err != nil {
			t.Errorf("Recv failed: %v", err)
			return
		}
		resp, err := k.ReplyRecv(1, kernelabi.Message{Label: req.Label + 1})
		_ = resp
		if err != nil {
			t.Errorf("ReplyRecv failed: %v", err)
		}
		done <- resp
	}()

	resp, err := k.Call(1, kernelabi.Message{Label: 41})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Label != 42 {
		t.Errorf("Call/ReplyRecv failed: want label 42, got %d", resp.Label)
	}
	<-done
}

func TestNotificationSignalOrsBadge(t *testing.T) {
	k := New()
	root, _ := k.cnodeFor(RootCNode)
	id := k.newObject(&untypedObj{sizeBits: 12})
	root.slots[0] = &capEntry{present: true, kind: kernelabi.ObjUntyped, obj: id}
	if err := k.UntypedRetype(0, kernelabi.ObjNotification, 0, RootCNode, 1, 1); err != nil {
		t.Fatalf("UntypedRetype failed: %v", err)
	}
	root.slots[2] = &capEntry{present: true, kind: kernelabi.ObjNotification, obj: root.slots[1].obj, badge: 0x4}
	root.slots[3] = &capEntry{present: true, kind: kernelabi.ObjNotification, obj: root.slots[1].obj, badge: 0x10}

	if err := k.Signal(2); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	if err := k.Signal(3); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}
	badge, err := k.Wait(1)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if badge != 0x14 {
		t.Errorf("Signal/Wait failed: want badge 0x14, got 0x%x", badge)
	}
}
