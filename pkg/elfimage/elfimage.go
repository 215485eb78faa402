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

// Package elfimage parses a child process's ELF image far enough to drive
// pkg/process: its entry point and the PT_LOAD segments that need to
// become mapped pages. It is a thin wrapper over the standard library's
// debug/elf — no example repo in this corpus carries a third-party ELF
// parser, so this is one of the few components grounded on stdlib alone.
package elfimage

import (
	"debug/elf"
	"io"

	"github.com/nestybox/sel4cap/pkg/kernelerr"
)

// PageBits is the base page granule this package rounds segment extents
// to, matching pkg/region.PageBits. Kept as its own constant rather than
// importing pkg/region, since elfimage has no capability dependency of
// its own.
const PageBits = 12

// PageSize is 1<<PageBits.
const PageSize = uintptr(1) << PageBits

// Segment is one PT_LOAD program header, reduced to the fields
// pkg/process needs to map and populate it.
type Segment struct {
	VAddr      uintptr
	FileSize   uintptr
	MemSize    uintptr
	Offset     uintptr
	Writable   bool
	Executable bool
}

// Image is a parsed ELF file's load segments plus its entry point.
type Image struct {
	Entry    uintptr
	Is64     bool
	Segments []Segment
}

// Parse reads every PT_LOAD program header out of r. It requires at
// least one PT_LOAD segment; an ELF file with none (e.g. a relocatable
// object instead of an executable) is rejected.
func Parse(r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, kernelerr.NewProcessSetupError(kernelerr.ElfParseError, err.Error())
	}
	defer f.Close()

	img := &Image{Entry: uintptr(f.Entry), Is64: f.Class == elf.ELFCLASS64}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:      uintptr(p.Vaddr),
			FileSize:   uintptr(p.Filesz),
			MemSize:    uintptr(p.Memsz),
			Offset:     uintptr(p.Off),
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}
	if len(img.Segments) == 0 {
		return nil, kernelerr.NewProcessSetupError(kernelerr.ElfParseError, "no PT_LOAD segments")
	}
	return img, nil
}

// pagesFor counts the page-aligned pages spanning [vaddr, vaddr+size).
func pagesFor(vaddr, size uintptr) int {
	if size == 0 {
		return 0
	}
	start := vaddr &^ (PageSize - 1)
	end := (vaddr + size + PageSize - 1) &^ (PageSize - 1)
	return int((end - start) / PageSize)
}

// RequiredPages is the total page count across every load segment.
func (img *Image) RequiredPages() int {
	total := 0
	for _, s := range img.Segments {
		total += pagesFor(s.VAddr, s.MemSize)
	}
	return total
}

// WritablePages is the page count across only the writable load
// segments, for callers that retype read-only and writable pages out of
// separate Untyped sources.
func (img *Image) WritablePages() int {
	total := 0
	for _, s := range img.Segments {
		if s.Writable {
			total += pagesFor(s.VAddr, s.MemSize)
		}
	}
	return total
}
