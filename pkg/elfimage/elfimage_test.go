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

package elfimage

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

const (
	elfHdrSize = 64
	phdrSize   = 56
)

// buildMinimalELF64 assembles a single-segment ET_EXEC AArch64 ELF64
// image by hand: an ELF header immediately followed by one Phdr64 and
// then the segment's file contents. There is no section header table,
// which debug/elf tolerates.
func buildMinimalELF64(entry, vaddr uint64, writable bool, data []byte) []byte {
	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))   // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(183)) // e_machine = EM_AARCH64
	binary.Write(&buf, binary.LittleEndian, uint32(1))   // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint64(elfHdrSize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint64(0))          // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(elfHdrSize)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))   // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))          // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shstrndx

	flags := uint32(4) // PF_R
	if writable {
		flags |= 2 // PF_W
	}
	offset := uint64(elfHdrSize + phdrSize)
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, offset)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)          // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint64(len(data)))
	binary.Write(&buf, binary.LittleEndian, uint64(len(data))) // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint64(0x1000))    // p_align

	buf.Write(data)
	return buf.Bytes()
}

func TestParseReadsEntryAndSegment(t *testing.T) {
	img := buildMinimalELF64(0x10000, 0x10000, false, bytes.Repeat([]byte{0xAA}, 100))

	parsed, err := Parse(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !parsed.Is64 {
		t.Errorf("Parse failed: Is64 = false, want true")
	}
	if parsed.Entry != 0x10000 {
		t.Errorf("Parse failed: Entry = %#x, want %#x", parsed.Entry, 0x10000)
	}
	if len(parsed.Segments) != 1 {
		t.Fatalf("Parse failed: got %d segments, want 1", len(parsed.Segments))
	}
	seg := parsed.Segments[0]
	if seg.VAddr != 0x10000 || seg.MemSize != 100 || seg.Writable {
		t.Errorf("Parse failed: segment = %+v", seg)
	}
}

func TestRequiredPagesRoundsUpAcrossPageBoundary(t *testing.T) {
	// vaddr 0x1000 (page-aligned), memsz spans into the next page.
	img := buildMinimalELF64(0x1000, 0x1000, false, bytes.Repeat([]byte{0x01}, int(PageSize)+16))

	parsed, err := Parse(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := parsed.RequiredPages(); got != 2 {
		t.Errorf("RequiredPages failed: got %d, want 2", got)
	}
}

func TestRequiredPagesCountsUnalignedVAddrStartPage(t *testing.T) {
	// vaddr not page-aligned: straddles one extra page at the head.
	img := buildMinimalELF64(0x2000, 0x2ff0, false, bytes.Repeat([]byte{0x01}, 32))

	parsed, err := Parse(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := parsed.RequiredPages(); got != 2 {
		t.Errorf("RequiredPages failed: got %d, want 2", got)
	}
}

func TestWritablePagesCountsOnlyWritableSegments(t *testing.T) {
	ro := buildMinimalELF64(0x1000, 0x1000, false, bytes.Repeat([]byte{0x01}, 16))
	rw := buildMinimalELF64(0x1000, 0x2000, true, bytes.Repeat([]byte{0x02}, 16))

	roImg, err := Parse(bytes.NewReader(ro))
	if err != nil {
		t.Fatalf("Parse(ro) failed: %v", err)
	}
	rwImg, err := Parse(bytes.NewReader(rw))
	if err != nil {
		t.Fatalf("Parse(rw) failed: %v", err)
	}

	if got := roImg.WritablePages(); got != 0 {
		t.Errorf("WritablePages failed: read-only image reported %d writable pages, want 0", got)
	}
	if got := rwImg.WritablePages(); got != 1 {
		t.Errorf("WritablePages failed: writable image reported %d writable pages, want 1", got)
	}
}

func TestParseRejectsGarbageInput(t *testing.T) {
	_, err := Parse(strings.NewReader("this is not an ELF file"))
	if err == nil {
		t.Errorf("Parse(garbage) failed: want error, got nil")
	}
}

func TestParseRejectsNoLoadSegments(t *testing.T) {
	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(183))
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // e_phoff = 0, no program headers
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint16(elfHdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_phnum = 0
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))
	binary.Write(&buf, binary.LittleEndian, uint16(0))

	if _, err := Parse(bytes.NewReader(buf.Bytes())); err == nil {
		t.Errorf("Parse(no PT_LOAD) failed: want error, got nil")
	}
}
