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

import "github.com/nestybox/sel4cap/pkg/granule"

// packWordsLE packs data into count little-endian words of wordBytes each,
// zero-padding any bytes past len(data) and OR-ing whatever partial tail
// bytes remain into the last word actually touched — a 1, 2, or 3-byte
// (or, for 8-byte words, up to 7-byte) tail never leaves garbage in the
// unused high bytes of its word.
func packWordsLE(data []byte, wordBytes, count int) []uint64 {
	words := make([]uint64, count)
	for i := 0; i < count; i++ {
		start := i * wordBytes
		if start >= len(data) {
			break
		}
		end := start + wordBytes
		if end > len(data) {
			end = len(data)
		}
		var w uint64
		for j, b := range data[start:end] {
			w |= uint64(b) << uint(8*j)
		}
		words[i] = w
	}
	return words
}

// padTrailing appends zero bytes until len(data) is a multiple of align,
// so a spilled parameter tail leaves the final stack pointer aligned
// without disturbing the bytes already written.
func padTrailing(data []byte, align int) []byte {
	rem := len(data) % align
	if rem == 0 {
		return data
	}
	return append(append([]byte(nil), data...), make([]byte, align-rem)...)
}

// armv7WordBytes/armv7RegCount and aarch64WordBytes/aarch64RegCount name
// the two architectures' integer-register parameter-passing capacity
// (spec.md §4.8): 4 registers of 4 bytes on AArch32, 8 registers of 8
// bytes on AArch64.
const (
	armv7WordBytes = 4
	armv7RegCount  = 4

	aarch64WordBytes = 8
	aarch64RegCount  = 8
)

// MarshalParamsARMv7 implements the AArch32 calling convention: if params
// fits in r0..r3 (<=16 bytes) it is packed entirely into registers with the
// last partial word zero-padded. Otherwise r0..r3 take the first 16 bytes
// and the remaining bytes are copied to the child stack top (tail-padded
// to 8-byte SP alignment) with the stack pointer decremented by that
// amount.
func MarshalParamsARMv7(stackTop uintptr, params []byte) (regs [4]uint32, stackBytes []byte, sp uintptr) {
	headLen := armv7WordBytes * armv7RegCount
	if len(params) <= headLen {
		words := packWordsLE(params, armv7WordBytes, armv7RegCount)
		for i := range regs {
			regs[i] = uint32(words[i])
		}
		return regs, nil, stackTop
	}
	words := packWordsLE(params[:headLen], armv7WordBytes, armv7RegCount)
	for i := range regs {
		regs[i] = uint32(words[i])
	}
	stackBytes = padTrailing(params[headLen:], 8)
	sp = stackTop - uintptr(len(stackBytes))
	return regs, stackBytes, sp
}

// MarshalParamsAArch64 implements the AArch64 calling convention: if
// params fits in x0..x7 (<=64 bytes) it is packed entirely into registers.
// Otherwise the whole parameter block is spilled to the child stack
// (8-byte tail-padded) and x0 is repointed at the spilled block's
// child-virtual address rather than carrying packed data.
func MarshalParamsAArch64(stackTop uintptr, params []byte) (regs [8]uint64, stackBytes []byte, sp uintptr) {
	headLen := aarch64WordBytes * aarch64RegCount
	if len(params) <= headLen {
		words := packWordsLE(params, aarch64WordBytes, aarch64RegCount)
		copy(regs[:], words)
		return regs, nil, stackTop
	}
	stackBytes = padTrailing(params, 8)
	sp = stackTop - uintptr(len(stackBytes))
	regs[0] = uint64(sp)
	return regs, stackBytes, sp
}

// armv7Trampoline and aarch64Trampoline are the machine code for a child's
// link-register target (spec.md §4.8 step 4): "svc #0" (seL4_Yield, which
// takes no arguments) followed by a branch to itself, so a main-shaped
// child that returns instead of blocking forever yields the processor
// indefinitely rather than running off the end of its image.
var (
	armv7Trampoline   = []byte{0x00, 0x00, 0x00, 0xEF, 0xFE, 0xFF, 0xFF, 0xEA}
	aarch64Trampoline = []byte{0x01, 0x00, 0x00, 0xD4, 0x00, 0x00, 0x00, 0x14}
)

// trampolineCode returns the yield-forever stub for arch, or nil for an
// architecture this library does not recognize (callers fall back to
// leaving the link register unset).
func trampolineCode(arch granule.Arch) []byte {
	switch arch {
	case granule.ARMv7:
		return armv7Trampoline
	case granule.AArch64:
		return aarch64Trampoline
	default:
		return nil
	}
}
