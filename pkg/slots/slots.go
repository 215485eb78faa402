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

// Package slots is the CNode-slot accountant: a CNodeSlots value witnesses
// that Count contiguous empty slots exist in a specific CNode. Go has no
// const generics, so Count is an ordinary field validated at every
// split/consume site rather than a compile-time parameter; callers get
// the same "insufficient slots is a typed error, never a silent
// truncation" guarantee, just checked at the call instead of at compile
// time.
package slots

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sel4cap/pkg/kernelabi"
	"github.com/nestybox/sel4cap/pkg/kernelerr"
)

// CNodeSlots names the half-open range [Base, Base+Count) of empty slots
// in CNode. It is move-only: Take/Alloc/Weaken consume the
// receiver and hand back fresh, non-overlapping residuals, so a caller
// that keeps using a CNodeSlots after passing it to one of these gets a
// ErrCapabilityConsumed, not silent double-allocation.
type CNodeSlots struct {
	CNode    kernelabi.CPtr
	Base     uint64
	Count    int
	consumed bool
}

// New constructs the initial witness for a freshly known-empty range.
// Only bootstrap code (pkg/bootinfo) and tests should call this directly;
// everywhere else a CNodeSlots comes from splitting one already held.
func New(cnode kernelabi.CPtr, base uint64, count int) CNodeSlots {
	return CNodeSlots{CNode: cnode, Base: base, Count: count}
}

func (s *CNodeSlots) checkLive() error {
	if s.consumed {
		return errors.WithMessage(kernelerr.ErrCapabilityConsumed, "slots.CNodeSlots already consumed")
	}
	return nil
}

// Alloc splits off the first n slots, returning them plus the remainder;
// on success the receiver is consumed. n must be in [0, Count].
func (s *CNodeSlots) Alloc(n int) (CNodeSlots, CNodeSlots, error) {
	if err := s.checkLive(); err != nil {
		return CNodeSlots{}, CNodeSlots{}, err
	}
	if n < 0 || n > s.Count {
		return CNodeSlots{}, CNodeSlots{}, errors.Wrapf(kernelerr.ErrResourceExhausted,
			"slots: cannot allocate %d of %d available", n, s.Count)
	}
	head := CNodeSlots{CNode: s.CNode, Base: s.Base, Count: n}
	rest := CNodeSlots{CNode: s.CNode, Base: s.Base + uint64(n), Count: s.Count - n}
	s.consumed = true
	return head, rest, nil
}

// Take removes exactly one slot from the front, for the common case of
// installing a single capability. Returns the slot index, the remaining
// witness, and an error if the receiver is empty or already consumed.
func (s *CNodeSlots) Take() (uint64, CNodeSlots, error) {
	head, rest, err := s.Alloc(1)
	if err != nil {
		return 0, CNodeSlots{}, err
	}
	return head.Base, rest, nil
}

// Weaken erases nothing (Count is already a runtime value); it exists so
// callers that treat slot witnesses uniformly with other weakenable
// types compile unchanged. It returns the same witness, consuming the
// receiver as every other operation does.
func (s *CNodeSlots) Weaken() (CNodeSlots, error) {
	if err := s.checkLive(); err != nil {
		return CNodeSlots{}, err
	}
	s.consumed = true
	return CNodeSlots{CNode: s.CNode, Base: s.Base, Count: s.Count}, nil
}

// WithTemporary lends the slots to f, which may install and revoke
// capabilities into them but must return them empty. On return the
// revoke-at-scope-exit convention makes every slot in the range empty
// again so the caller may keep using its own, still-valid witness —
// WithTemporary does not consume the receiver.
func (s CNodeSlots) WithTemporary(inv kernelabi.Invoker, f func(CNodeSlots) error) error {
	lent := CNodeSlots{CNode: s.CNode, Base: s.Base, Count: s.Count}
	if err := f(lent); err != nil {
		return err
	}
	for i := uint64(0); i < uint64(s.Count); i++ {
		if err := inv.CNodeRevoke(s.CNode, s.Base+i); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "slots",
				"cnode":     s.CNode,
				"slot":      s.Base + i,
			}).Error("with_temporary: revoke at scope exit failed, outer witness is unsound")
			return errors.Wrap(err, "slots: with_temporary revoke failed, this is fatal")
		}
	}
	return nil
}

// Bank turns a single CNodeSlots witness into a repeatedly-allocatable
// source: every Alloc call hands out the next n slots and keeps the
// residual for the next caller, instead of making every consumer thread
// the shrinking witness through by hand. pkg/untyped's weak pool and
// pkg/smartalloc are both built on top of this.
type Bank struct {
	mu  sync.Mutex
	cur CNodeSlots
}

// NewBank starts a Bank from an initial witness, which it takes ownership
// of (consuming the caller's copy in spirit, though Go cannot enforce that
// across the constructor boundary — callers should not reuse s after this
// call).
func NewBank(s CNodeSlots) *Bank {
	return &Bank{cur: s}
}

// Alloc hands out the next n contiguous slots, or ErrResourceExhausted if
// fewer than n remain.
func (b *Bank) Alloc(n int) (CNodeSlots, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	head, rest, err := b.cur.Alloc(n)
	if err != nil {
		return CNodeSlots{}, err
	}
	b.cur = rest
	return head, nil
}

// Remaining reports how many slots are left in the bank.
func (b *Bank) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur.Count
}
