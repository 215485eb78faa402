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

package untyped

import (
	"errors"
	"testing"

	"github.com/nestybox/sel4cap/internal/simkernel"
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

func bootUntyped(t *testing.T, k *simkernel.Kernel, slot uint64, bits int) cap.Cap[objtype.Untyped] {
	t.Helper()
	if err := k.InstallBootUntyped(simkernel.RootCNode, slot, bits); err != nil {
		t.Fatalf("InstallBootUntyped failed: %v", err)
	}
	return cap.New(kernelabi.CPtr(slot), simkernel.RootCNode, cap.Local, objtype.Untyped{Bits: bits})
}

func TestSplitConservesBytes(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 20)

	dest := slots.New(simkernel.RootCNode, 1, 2)
	left, right, err := Split(k, ut, dest)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	total := (uint64(1) << uint(left.Data.Bits)) + (uint64(1) << uint(right.Data.Bits))
	if want := uint64(1) << 20; total != want {
		t.Errorf("Split failed: children sum to %d bytes, want %d", total, want)
	}
}

func TestSplitAtMinBitsFails(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, MinBits)

	dest := slots.New(simkernel.RootCNode, 1, 2)
	if _, _, err := Split(k, ut, dest); !errors.Is(err, kernelerr.ErrUntypedSizeOutOfRange) {
		t.Errorf("Split at MinBits failed: want ErrUntypedSizeOutOfRange, got %v", err)
	}
}

func TestQuarterProducesFourEqualChildren(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 20)

	dest := slots.New(simkernel.RootCNode, 1, 6)
	children, err := Quarter(k, ut, dest)
	if err != nil {
		t.Fatalf("Quarter failed: %v", err)
	}
	var total uint64
	for _, c := range children {
		if c.Data.Bits != 18 {
			t.Errorf("Quarter failed: child bits = %d, want 18", c.Data.Bits)
		}
		total += uint64(1) << uint(c.Data.Bits)
	}
	if want := uint64(1) << 20; total != want {
		t.Errorf("Quarter failed: children sum to %d bytes, want %d", total, want)
	}
}

func TestRetypeMultiRejectsOversizedRequest(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 12)

	dest := slots.New(simkernel.RootCNode, 1, 4)
	if _, err := RetypeMulti(k, ut, dest, objtype.Endpoint{}, 4); !errors.Is(err, kernelerr.ErrResourceExhausted) {
		t.Errorf("RetypeMulti oversized failed: want ErrResourceExhausted, got %v", err)
	}
}

func TestRetypeProducesUsableCapability(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 12)

	dest := slots.New(simkernel.RootCNode, 1, 1)
	ep, err := Retype(k, ut, dest, objtype.Endpoint{})
	if err != nil {
		t.Fatalf("Retype failed: %v", err)
	}
	if ep.Cptr != 1 {
		t.Errorf("Retype failed: want cptr 1, got %d", ep.Cptr)
	}
}

func TestWeakPoolSplitsOnMiss(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 20)

	bank := slots.NewBank(slots.New(simkernel.RootCNode, 1, 64))
	pool := NewWeakPool(bank)
	pool.Add(ut)

	before := pool.TotalBytes()
	got, err := pool.Alloc(k, 18)
	if err != nil {
		t.Fatalf("WeakPool.Alloc failed: %v", err)
	}
	if got.Data.Bits != 18 {
		t.Errorf("WeakPool.Alloc failed: got bits %d, want 18", got.Data.Bits)
	}
	// conservation: total bytes resident in the pool plus the allocated
	// object must equal the original deposit.
	after := pool.TotalBytes() + (uint64(1) << 18)
	if after != before {
		t.Errorf("WeakPool.Alloc failed: byte conservation violated, before=%d after=%d", before, after)
	}
}

func TestWeakPoolExactMatchAvoidsSplit(t *testing.T) {
	k := simkernel.New()
	ut := bootUntyped(t, k, 0, 16)

	bank := slots.NewBank(slots.New(simkernel.RootCNode, 1, 8))
	pool := NewWeakPool(bank)
	pool.Add(ut)

	got, err := pool.Alloc(k, 16)
	if err != nil {
		t.Fatalf("WeakPool.Alloc failed: %v", err)
	}
	if got.Cptr != ut.Cptr {
		t.Errorf("WeakPool.Alloc failed: exact-fit request should avoid splitting, got cptr %d want %d", got.Cptr, ut.Cptr)
	}
	if remaining := bank.Remaining(); remaining != 8 {
		t.Errorf("WeakPool.Alloc failed: exact-fit request spent slots, remaining=%d want 8", remaining)
	}
}
