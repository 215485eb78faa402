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

package cap

import (
	"testing"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

func bootstrapUntyped(t *testing.T, k *simkernel.Kernel, bits int) Cap[objtype.Untyped] {
	t.Helper()
	if err := k.InstallBootUntyped(simkernel.RootCNode, 0, bits); err != nil {
		t.Fatalf("InstallBootUntyped failed: %v", err)
	}
	return New(0, simkernel.RootCNode, Local, objtype.Untyped{Bits: bits})
}

func TestCopyThenDeleteLeavesOriginalAddressable(t *testing.T) {
	k := simkernel.New()
	ut := bootstrapUntyped(t, k, 20)

	dest := slots.New(simkernel.RootCNode, 1, 1)
	cp, _, err := Copy(k, ut, kernelabi.AllRights, dest)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if err := Delete(k, &cp); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if cp.Consumed() != true {
		t.Errorf("Delete failed: copy not marked consumed")
	}

	// original must still be addressable
	dest2 := slots.New(simkernel.RootCNode, 2, 1)
	if _, _, err := Copy(k, ut, kernelabi.AllRights, dest2); err != nil {
		t.Errorf("original capability unusable after copy-then-delete: %v", err)
	}
}

func TestMoveConsumesOriginal(t *testing.T) {
	k := simkernel.New()
	ut := bootstrapUntyped(t, k, 20)

	dest := slots.New(simkernel.RootCNode, 1, 1)
	moved, _, err := Move(k, &ut, dest)
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if !ut.Consumed() {
		t.Errorf("Move failed: original not marked consumed")
	}
	if moved.Cptr != 1 {
		t.Errorf("Move failed: want new cptr 1, got %d", moved.Cptr)
	}

	if _, _, err := Copy(k, ut, kernelabi.AllRights, slots.New(simkernel.RootCNode, 3, 1)); err == nil {
		t.Errorf("reuse of a moved Cap failed: want error, got nil")
	}
}

func TestMintRequiresMintableKind(t *testing.T) {
	k := simkernel.New()
	if err := k.InstallBootUntyped(simkernel.RootCNode, 0, 12); err != nil {
		t.Fatalf("InstallBootUntyped failed: %v", err)
	}
	if err := k.UntypedRetype(0, kernelabi.ObjEndpoint, 0, simkernel.RootCNode, 1, 1); err != nil {
		t.Fatalf("UntypedRetype failed: %v", err)
	}
	ep := New(1, simkernel.RootCNode, Local, objtype.Endpoint{})

	dest := slots.New(simkernel.RootCNode, 2, 1)
	minted, _, err := Mint(k, ep, kernelabi.AllRights, 0xBADE, dest)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if minted.Cptr != 2 {
		t.Errorf("Mint failed: want cptr 2, got %d", minted.Cptr)
	}
}

func TestDeleteOnChildRoleCapabilityIsRefused(t *testing.T) {
	k := simkernel.New()
	ut := bootstrapUntyped(t, k, 20)
	ut.Role = Child

	if err := Delete(k, &ut); err != ErrWrongRole {
		t.Errorf("Delete on Child-role cap failed: want ErrWrongRole, got %v", err)
	}
}
