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

// Package granule picks the largest leaf-frame size that evenly covers a
// requested region, so a VSpace maps the fewest possible page-table
// entries instead of always falling back to base pages.
package granule

import "github.com/pkg/errors"

// Arch distinguishes the two target instruction sets this library
// supports, since their paging-structure granule sizes differ.
type Arch int

const (
	ARMv7 Arch = iota
	AArch64
)

func (a Arch) String() string {
	if a == ARMv7 {
		return "ARMv7"
	}
	return "AArch64"
}

// Granule names one leaf-frame size, tagged with its arch so a Granule
// value can't be confused across the two tables below.
type Granule struct {
	Arch     Arch
	Name     string
	SizeBits int
}

// armv7Granules and aarch64Granules are ordered largest-first so
// DetermineBestGranuleFit can scan greedily.
var (
	armv7Granules = []Granule{
		{ARMv7, "supersection", 24},
		{ARMv7, "section", 20},
		{ARMv7, "large-page", 16},
		{ARMv7, "page", 12},
	}
	aarch64Granules = []Granule{
		{AArch64, "section", 30},
		{AArch64, "large-page", 21},
		{AArch64, "page", 12},
	}
)

func table(arch Arch) []Granule {
	if arch == ARMv7 {
		return armv7Granules
	}
	return aarch64Granules
}

// DetermineBestGranuleFit greedily selects the largest granule that
// divides 2^sizeBits evenly, along with the count of that granule needed
// to cover the whole region. sizeBits smaller than the smallest granule
// (page, 12 bits) is an error: there is no granule fine enough.
func DetermineBestGranuleFit(sizeBits int, arch Arch) (Granule, int, error) {
	granules := table(arch)
	smallest := granules[len(granules)-1]
	if sizeBits < smallest.SizeBits {
		return Granule{}, 0, errors.Errorf(
			"granule: region of 2^%d bytes is smaller than the smallest %s granule (2^%d)",
			sizeBits, arch, smallest.SizeBits)
	}
	for _, g := range granules {
		if sizeBits >= g.SizeBits {
			count := 1 << uint(sizeBits-g.SizeBits)
			return g, count, nil
		}
	}
	// unreachable: the loop above always matches the smallest granule.
	return Granule{}, 0, errors.New("granule: no granule fit found")
}
