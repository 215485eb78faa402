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

package process

import (
	"bytes"
	"testing"

	"github.com/nestybox/sel4cap/pkg/granule"
)

func TestMarshalParamsARMv7FitsInRegisters(t *testing.T) {
	params := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	regs, stackBytes, sp := MarshalParamsARMv7(0x1000, params)

	if stackBytes != nil {
		t.Errorf("fit-in-registers case failed: got stack spill of %d bytes, want none", len(stackBytes))
	}
	if sp != 0x1000 {
		t.Errorf("fit-in-registers case failed: sp = %#x, want unchanged stack top", sp)
	}
	want := [4]uint32{0x04030201, 0x08070605, 0x000b0a09, 0x00000000}
	if regs != want {
		t.Errorf("fit-in-registers case failed: regs = %#v, want %#v", regs, want)
	}
}

func TestMarshalParamsARMv7SpillsRemainder(t *testing.T) {
	params := make([]byte, 20)
	for i := range params {
		params[i] = byte(i + 1)
	}
	regs, stackBytes, sp := MarshalParamsARMv7(0x1000, params)

	wantHead := [4]uint32{0x04030201, 0x08070605, 0x0c0b0a09, 0x100f0e0d}
	if regs != wantHead {
		t.Errorf("spill case failed: regs = %#v, want %#v", regs, wantHead)
	}
	if len(stackBytes) != 8 {
		t.Fatalf("spill case failed: stack spill = %d bytes, want 8 (4 tail bytes padded to 8-byte alignment)", len(stackBytes))
	}
	if !bytes.Equal(stackBytes[:4], params[16:20]) {
		t.Errorf("spill case failed: spilled bytes = %v, want %v", stackBytes[:4], params[16:20])
	}
	if stackBytes[4] != 0 || stackBytes[5] != 0 || stackBytes[6] != 0 || stackBytes[7] != 0 {
		t.Errorf("spill case failed: padding bytes are not zero: %v", stackBytes[4:])
	}
	if sp != 0x1000-8 {
		t.Errorf("spill case failed: sp = %#x, want %#x", sp, 0x1000-8)
	}
}

func TestMarshalParamsAArch64FitsInRegisters(t *testing.T) {
	params := make([]byte, 40)
	for i := range params {
		params[i] = byte(i + 1)
	}
	regs, stackBytes, sp := MarshalParamsAArch64(0x2000, params)

	if stackBytes != nil {
		t.Errorf("fit-in-registers case failed: got stack spill of %d bytes, want none", len(stackBytes))
	}
	if sp != 0x2000 {
		t.Errorf("fit-in-registers case failed: sp = %#x, want unchanged stack top", sp)
	}
	if regs[0] != 0x0807060504030201 {
		t.Errorf("fit-in-registers case failed: x0 = %#x, want %#x", regs[0], 0x0807060504030201)
	}
	if regs[4] != 0x2827262524232221 {
		t.Errorf("fit-in-registers case failed: x4 = %#x, want %#x", regs[4], 0x2827262524232221)
	}
}

func TestMarshalParamsAArch64SpillsWholeBlockAndRepointsX0(t *testing.T) {
	params := make([]byte, 100)
	for i := range params {
		params[i] = byte(i + 1)
	}
	regs, stackBytes, sp := MarshalParamsAArch64(0x2000, params)

	if len(stackBytes) != 104 {
		t.Fatalf("spill case failed: stack spill = %d bytes, want 104 (100 padded to 8-byte alignment)", len(stackBytes))
	}
	if !bytes.Equal(stackBytes[:100], params) {
		t.Errorf("spill case failed: spilled bytes do not match params")
	}
	if sp != 0x2000-104 {
		t.Errorf("spill case failed: sp = %#x, want %#x", sp, 0x2000-104)
	}
	if regs[0] != uint64(sp) {
		t.Errorf("spill case failed: x0 = %#x, want %#x (pointer to spilled block)", regs[0], sp)
	}
	for i := 1; i < 8; i++ {
		if regs[i] != 0 {
			t.Errorf("spill case failed: x%d = %#x, want 0 when the whole block is spilled", i, regs[i])
		}
	}
}

func TestTrampolineCodeKnownArchitectures(t *testing.T) {
	if got := len(trampolineCode(granule.ARMv7)); got != 8 {
		t.Errorf("trampolineCode(ARMv7) failed: len = %d, want 8", got)
	}
	if got := len(trampolineCode(granule.AArch64)); got != 8 {
		t.Errorf("trampolineCode(AArch64) failed: len = %d, want 8", got)
	}
	if trampolineCode(granule.Arch(99)) != nil {
		t.Errorf("trampolineCode(unknown) failed: want nil, got non-nil stub")
	}
}
