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

package fault

import (
	"testing"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

type statusMessage struct {
	Code uint32
}

func TestAwaitMessageDistinguishesFaultFromMessage(t *testing.T) {
	k := simkernel.New()
	if err := k.InstallBootUntyped(simkernel.RootCNode, 0, 20); err != nil {
		t.Fatalf("InstallBootUntyped failed: %v", err)
	}
	parentSlot := slots.New(simkernel.RootCNode, 1, 1)
	childSlots := slots.New(simkernel.RootCNode, 2, 2)

	ut := cap.New(0, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: 20})
	handler, faultEP, messageEP, err := NewChannel[statusMessage](k, ut, parentSlot, childSlots)
	if err != nil {
		t.Fatalf("NewChannel failed: %v", err)
	}

	go func() {
		_ = DeliverFault(k, faultEP, Fault{Kind: VMFault, Addr: 0x88888888, IP: 0x1000, Syndrome: 0x7})
	}()
	got, err := handler.AwaitMessage(k)
	if err != nil {
		t.Fatalf("AwaitMessage failed: %v", err)
	}
	if got.Fault == nil || got.Fault.Kind != VMFault || got.Fault.Addr != 0x88888888 {
		t.Errorf("AwaitMessage failed: got %+v, want VMFault at 0x88888888", got)
	}

	sender := NewSender[statusMessage](messageEP)
	go func() {
		_ = sender.SendMessage(k, &statusMessage{Code: 7})
	}()
	got, err = handler.AwaitMessage(k)
	if err != nil {
		t.Fatalf("AwaitMessage failed: %v", err)
	}
	if got.Message == nil || got.Message.Code != 7 {
		t.Errorf("AwaitMessage failed: got %+v, want Message{Code:7}", got)
	}
}
