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

package region

import (
	"testing"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

func bootUntyped(t *testing.T, k *simkernel.Kernel, bits int) cap.Cap[objtype.Untyped] {
	t.Helper()
	if err := k.InstallBootUntyped(simkernel.RootCNode, 0, bits); err != nil {
		t.Fatalf("InstallBootUntyped failed: %v", err)
	}
	return cap.New(0, simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: bits})
}

func TestNewUnmappedRetypesExpectedPageCount(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 14) // 16KiB = 4 base pages

	dest := slots.New(simkernel.RootCNode, 1, 4)
	r, err := NewUnmapped(k, ut, dest, General, Exclusive)
	if err != nil {
		t.Fatalf("NewUnmapped failed: %v", err)
	}
	if len(r.Pages) != 4 {
		t.Errorf("NewUnmapped failed: got %d pages, want 4", len(r.Pages))
	}
	if r.State != Unmapped {
		t.Errorf("NewUnmapped failed: state = %v, want Unmapped", r.State)
	}
}

func TestSplitHalvesPageCountAndBits(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 14)

	dest := slots.New(simkernel.RootCNode, 1, 4)
	r, err := NewUnmapped(k, ut, dest, General, Exclusive)
	if err != nil {
		t.Fatalf("NewUnmapped failed: %v", err)
	}

	left, right, err := Split(r)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if left.Bits != 13 || right.Bits != 13 {
		t.Errorf("Split failed: bits = %d/%d, want 13/13", left.Bits, right.Bits)
	}
	if len(left.Pages) != 2 || len(right.Pages) != 2 {
		t.Errorf("Split failed: pages = %d/%d, want 2/2", len(left.Pages), len(right.Pages))
	}
}

func TestShareThenShareAgainFails(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 13)

	dest := slots.New(simkernel.RootCNode, 1, 2)
	r, err := NewUnmapped(k, ut, dest, General, Exclusive)
	if err != nil {
		t.Fatalf("NewUnmapped failed: %v", err)
	}

	shared, err := Share(r)
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if shared.Sharing != Shared {
		t.Errorf("Share failed: sharing = %v, want Shared", shared.Sharing)
	}
	if _, err := Share(shared); err == nil {
		t.Errorf("double Share failed: want error, got nil")
	}
}
