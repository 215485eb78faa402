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

// Package untyped is the buddy allocator over Untyped capabilities: a
// strong, statically-shaped (here runtime-checked) path for
// split/quarter/retype, and a weak, size-indexed free-list path for
// cases where the requested size is only known at runtime (e.g. an
// ELF-driven VSpace populating paging structures on demand).
package untyped

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
)

// MinBits and MaxBits bound the sizes this allocator will split to or
// track in the weak pool, mirroring seL4's own seL4_MinUntypedBits /
// practical upper bound for a single contiguous region.
const (
	MinBits = 4
	MaxBits = 32
)

// Split consumes ut (size 2^Bits) and two CNode slots, producing two
// Untyped capabilities of size 2^(Bits-1) each.
func Split(inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], dest slots.CNodeSlots) (cap.Cap[objtype.Untyped], cap.Cap[objtype.Untyped], error) {
	if ut.Consumed() {
		return cap.Cap[objtype.Untyped]{}, cap.Cap[objtype.Untyped]{}, kernelerr.ErrCapabilityConsumed
	}
	if ut.Data.Bits <= MinBits {
		return cap.Cap[objtype.Untyped]{}, cap.Cap[objtype.Untyped]{}, kernelerr.ErrUntypedSizeOutOfRange
	}
	if dest.Count != 2 {
		return cap.Cap[objtype.Untyped]{}, cap.Cap[objtype.Untyped]{}, errors.Errorf(
			"untyped: Split requires exactly 2 slots, got %d", dest.Count)
	}
	childBits := ut.Data.Bits - 1
	if err := inv.UntypedRetype(ut.Cptr, kernelabi.ObjUntyped, childBits, dest.CNode, dest.Base, 2); err != nil {
		return cap.Cap[objtype.Untyped]{}, cap.Cap[objtype.Untyped]{}, kernelerr.WrapSyscall("Untyped_Retype", asKernelErr(err))
	}
	left := cap.New(dest.Base, dest.CNode, ut.Role, objtype.Untyped{Bits: childBits})
	right := cap.New(dest.Base+1, dest.CNode, ut.Role, objtype.Untyped{Bits: childBits})
	return left, right, nil
}

// Quarter consumes ut (size 2^Bits) and six CNode slots — two per split,
// cascading split(ut), then split each half — producing four Untyped
// capabilities of size 2^(Bits-2) each.
func Quarter(inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], dest slots.CNodeSlots) ([4]cap.Cap[objtype.Untyped], error) {
	var out [4]cap.Cap[objtype.Untyped]
	if dest.Count != 6 {
		return out, errors.Errorf("untyped: Quarter requires exactly 6 slots, got %d", dest.Count)
	}
	firstTwo, rest, err := dest.Alloc(2)
	if err != nil {
		return out, err
	}
	leftTwo, rightTwo, err := rest.Alloc(2)
	if err != nil {
		return out, err
	}

	left, right, err := Split(inv, ut, firstTwo)
	if err != nil {
		return out, err
	}
	out[0], out[1], err = Split(inv, left, leftTwo)
	if err != nil {
		return out, err
	}
	out[2], out[3], err = Split(inv, right, rightTwo)
	if err != nil {
		return out, err
	}
	return out, nil
}

// Retype consumes the whole of ut and one CNode slot to produce a single
// capability of kind O at O's own object size. It checks only that the
// object fits in 2^ut.Data.Bits; it does not require ut's size to match
// O's object size, and any space left over in ut is not handed back.
func Retype[O objtype.Kind](inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], dest slots.CNodeSlots, kind O) (cap.Cap[O], error) {
	caps, err := RetypeMulti(inv, ut, dest, kind, 1)
	if err != nil {
		return cap.Cap[O]{}, err
	}
	return caps[0], nil
}

// RetypeMulti consumes ut and n CNode slots to produce n capabilities of
// kind O, requiring n*size(O) <= 2^ut.Data.Bits.
func RetypeMulti[O objtype.Kind](inv kernelabi.Invoker, ut cap.Cap[objtype.Untyped], dest slots.CNodeSlots, kind O, n int) ([]cap.Cap[O], error) {
	if ut.Consumed() {
		return nil, kernelerr.ErrCapabilityConsumed
	}
	if dest.Count != n {
		return nil, errors.Errorf("untyped: RetypeMulti requires exactly %d slots, got %d", n, dest.Count)
	}
	objBits, ok := objtype.SizeBitsOf(kind)
	if !ok {
		return nil, errors.New("untyped: unknown object size for kind")
	}
	need := uint64(n) << uint(objBits)
	have := uint64(1) << uint(ut.Data.Bits)
	if need > have {
		return nil, errors.Wrapf(kernelerr.ErrResourceExhausted,
			"untyped: %d objects of 2^%d bytes exceed untyped of 2^%d bytes", n, objBits, ut.Data.Bits)
	}
	if err := inv.UntypedRetype(ut.Cptr, kind.ObjType(), objBits, dest.CNode, dest.Base, n); err != nil {
		return nil, kernelerr.WrapSyscall("Untyped_Retype", asKernelErr(err))
	}
	out := make([]cap.Cap[O], n)
	for i := 0; i < n; i++ {
		out[i] = cap.New(dest.Base+uint64(i), dest.CNode, ut.Role, kind)
	}
	return out, nil
}

// Weaken erases ut's static size guarantee, for the cases (ELF-driven
// paging setup, device-tree-sized MMIO regions) where the size of the
// Untyped needed is only known at runtime. Since this implementation
// already tracks Bits as a runtime field, Weaken is the identity.
func Weaken(ut cap.Cap[objtype.Untyped]) (cap.Cap[objtype.Untyped], error) {
	if ut.Consumed() {
		return cap.Cap[objtype.Untyped]{}, kernelerr.ErrCapabilityConsumed
	}
	return ut, nil
}

func asKernelErr(err error) *kernelerr.KernelError {
	if ke, ok := err.(*kernelerr.KernelError); ok {
		return ke
	}
	return kernelerr.UnknownError(-1)
}

// WeakPool is a size-indexed free list of Untyped capabilities: first-fit
// with on-demand splitting. It is the implementation behind a VSpace's
// untyped reservoir.
type WeakPool struct {
	mu       sync.Mutex
	buckets  map[int][]cap.Cap[objtype.Untyped]
	nonEmpty mapset.Set[int]
	slotBank *slots.Bank
}

// NewWeakPool creates an empty weak pool that uses slotBank to fund the
// two CNode slots each on-demand split consumes.
func NewWeakPool(slotBank *slots.Bank) *WeakPool {
	return &WeakPool{
		buckets:  make(map[int][]cap.Cap[objtype.Untyped]),
		nonEmpty: mapset.NewSet[int](),
		slotBank: slotBank,
	}
}

// Add deposits an Untyped capability into its size bucket.
func (p *WeakPool) Add(u cap.Cap[objtype.Untyped]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets[u.Data.Bits] = append(p.buckets[u.Data.Bits], u)
	p.nonEmpty.Add(u.Data.Bits)
}

// Alloc satisfies a request for an Untyped of exactly 2^bits bytes,
// scanning for an exact match first and, on a miss, recursively
// satisfying bits+1 and splitting it (consuming 2 fresh slots from the
// pool's slot bank).
func (p *WeakPool) Alloc(inv kernelabi.Invoker, bits int) (cap.Cap[objtype.Untyped], error) {
	p.mu.Lock()
	if bucket := p.buckets[bits]; len(bucket) > 0 {
		u := bucket[len(bucket)-1]
		p.buckets[bits] = bucket[:len(bucket)-1]
		if len(p.buckets[bits]) == 0 {
			p.nonEmpty.Remove(bits)
		}
		p.mu.Unlock()
		return u, nil
	}
	p.mu.Unlock()

	if bits+1 > MaxBits {
		return cap.Cap[objtype.Untyped]{}, errors.Wrapf(kernelerr.ErrResourceExhausted,
			"untyped: no path to size 2^%d", bits)
	}
	parent, err := p.Alloc(inv, bits+1)
	if err != nil {
		return cap.Cap[objtype.Untyped]{}, err
	}
	splitSlots, err := p.slotBank.Alloc(2)
	if err != nil {
		return cap.Cap[objtype.Untyped]{}, errors.Wrap(err, "untyped: no slots to split into requested size")
	}
	left, right, err := Split(inv, parent, splitSlots)
	if err != nil {
		return cap.Cap[objtype.Untyped]{}, err
	}
	p.Add(right)
	return left, nil
}

// TotalBytes sums 2^bits across every Untyped currently sitting in the
// pool, used by tests to check the buddy-allocator conservation invariant.
func (p *WeakPool) TotalBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total uint64
	for bits, bucket := range p.buckets {
		total += uint64(len(bucket)) * (uint64(1) << uint(bits))
	}
	return total
}
