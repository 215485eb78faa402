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

// Package smartalloc is sugar over threading a slot source and an untyped
// source through a block of allocation calls. The original macro rewrites
// bare identifiers inside a block into fresh allocation calls; Go has no
// source-rewriting macro facility, so this package keeps the same
// semantics (fresh allocation per use, residuals threaded automatically)
// behind an explicit closure call instead of a source transform.
package smartalloc

import (
	"github.com/nestybox/sel4cap/pkg/cap"
	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/objtype"
	"github.com/nestybox/sel4cap/pkg/slots"
	"github.com/nestybox/sel4cap/pkg/untyped"
)

// Sources is the pair of allocation functions a Smart block draws from:
// Slots hands out n contiguous CNode slots, Untyped hands out one Untyped
// of exactly 2^bits bytes. Each call consumes from a shared, internally
// synchronized source, so bare repeated calls inside f never reuse an
// already-consumed witness the way a hand-threaded residual chain could if
// a line were reordered.
type Sources struct {
	Slots   func(n int) (slots.CNodeSlots, error)
	Untyped func(bits int) (cap.Cap[objtype.Untyped], error)
}

// FromBank builds Sources over a slot bank and an untyped weak pool — the
// common case, where both residual-threading problems already have a
// solution (pkg/slots.Bank, pkg/untyped.WeakPool) and Smart exists purely
// to avoid writing "slotBank.Alloc(n)" / "utPool.Alloc(inv, bits)" by hand
// at every call site inside a constructor.
func FromBank(inv kernelabi.Invoker, slotBank *slots.Bank, utPool *untyped.WeakPool) Sources {
	return Sources{
		Slots: func(n int) (slots.CNodeSlots, error) {
			return slotBank.Alloc(n)
		},
		Untyped: func(bits int) (cap.Cap[objtype.Untyped], error) {
			return utPool.Alloc(inv, bits)
		},
	}
}

// Smart runs f with src in scope, purely for symmetry with the source
// macro's block syntax — smart_alloc!(|slots, ut| { ... }) becomes
// smartalloc.Smart(src, func(src Sources) error { ... }). There is no
// rewriting to do: f calls src.Slots/src.Untyped directly wherever the
// original would have used a bare "slots"/"ut" identifier.
func Smart(src Sources, f func(src Sources) error) error {
	return f(src)
}
