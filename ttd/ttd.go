// Translation table descriptors
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ttd provides bit-exact typed accessors over the 64-bit
// stage-1, 16 KiB-granule, EL1 translation-table descriptors used by the
// page table manager: table descriptors (L1/L2 non-leaf entries), page
// descriptors (L3 leaves) and block descriptors (L2 leaves, unused by
// bring-up but part of the schema).
package ttd

import "github.com/chungmcl/jerryOS/bits"

// PageGranularity is the log2 of the page size (16 KiB).
const PageGranularity = 14

// PageLen is the page/table size in bytes (16 KiB).
const PageLen = 1 << PageGranularity

// Bit positions shared by all three descriptor layouts.
const (
	validBit = 0
	typeBit  = 1 // is_table for a table descriptor, descriptor_type for a leaf
)

// PAToNLTA converts a 16 KiB-aligned physical address into the 34-bit
// next-level-table-address field of a table descriptor.
func PAToNLTA(pa uint64) uint64 {
	return pa >> PageGranularity
}

// NLTAToPA converts a table descriptor's NLTA field back into a physical
// address.
func NLTAToPA(nlta uint64) uint64 {
	return nlta << PageGranularity
}

// PAToOAB converts a 16 KiB-aligned physical address into the 34-bit
// output-address-bits field of a page or block descriptor.
func PAToOAB(pa uint64) uint64 {
	return pa >> PageGranularity
}

// OABToPA converts a page or block descriptor's OAB field back into a
// physical address.
func OABToPA(oab uint64) uint64 {
	return oab << PageGranularity
}

// TableDescriptor is an L1/L2 non-leaf entry pointing at the next table
// level.
type TableDescriptor uint64

// Valid reports whether the entry is marked valid.
func (d TableDescriptor) Valid() bool {
	return bits.GetBits(uint64(d), validBit, validBit) == 1
}

// WithValid returns d with the valid bit set or cleared.
func (d TableDescriptor) WithValid(v bool) TableDescriptor {
	return TableDescriptor(bits.SetBits(uint64(d), b2u(v), validBit, validBit))
}

// IsTable reports whether the entry is a table descriptor (as opposed to a
// block descriptor, which shares bit 1 at this level).
func (d TableDescriptor) IsTable() bool {
	return bits.GetBits(uint64(d), typeBit, typeBit) == 1
}

// WithIsTable returns d with the is-table bit set or cleared.
func (d TableDescriptor) WithIsTable(v bool) TableDescriptor {
	return TableDescriptor(bits.SetBits(uint64(d), b2u(v), typeBit, typeBit))
}

// NLTA returns the raw 34-bit next-level table address field.
func (d TableDescriptor) NLTA() uint64 {
	return bits.GetBits(uint64(d), 47, 14)
}

// WithNLTA returns d with its NLTA field set to pa's table address form.
func (d TableDescriptor) WithNLTA(pa uint64) TableDescriptor {
	return TableDescriptor(bits.SetBits(uint64(d), PAToNLTA(pa), 47, 14))
}

// PageDescriptor is an L3 leaf entry mapping a single 16 KiB page.
type PageDescriptor uint64

const (
	pageAFBit = 10
)

// Valid reports whether the entry is marked valid.
func (d PageDescriptor) Valid() bool {
	return bits.GetBits(uint64(d), validBit, validBit) == 1
}

// WithValid returns d with the valid bit set or cleared.
func (d PageDescriptor) WithValid(v bool) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), b2u(v), validBit, validBit))
}

// DescriptorType reports the page/block discriminator bit (1 for a page).
func (d PageDescriptor) DescriptorType() bool {
	return bits.GetBits(uint64(d), typeBit, typeBit) == 1
}

// WithDescriptorType returns d with the page/block discriminator bit set.
func (d PageDescriptor) WithDescriptorType(v bool) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), b2u(v), typeBit, typeBit))
}

// MemAttrIndex returns the MAIR_EL1 index this entry selects.
func (d PageDescriptor) MemAttrIndex() uint64 {
	return bits.GetBits(uint64(d), 4, 2)
}

// WithMemAttrIndex sets the MAIR_EL1 index.
func (d PageDescriptor) WithMemAttrIndex(idx uint64) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), idx, 4, 2))
}

// AP returns the access-permission bits.
func (d PageDescriptor) AP() uint64 {
	return bits.GetBits(uint64(d), 7, 6)
}

// WithAP sets the access-permission bits.
func (d PageDescriptor) WithAP(ap uint64) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), ap, 7, 6))
}

// SH returns the shareability bits.
func (d PageDescriptor) SH() uint64 {
	return bits.GetBits(uint64(d), 9, 8)
}

// WithSH sets the shareability bits.
func (d PageDescriptor) WithSH(sh uint64) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), sh, 9, 8))
}

// AF reports the access flag. A leaf with AF=0 traps on first access.
func (d PageDescriptor) AF() bool {
	return bits.GetBits(uint64(d), pageAFBit, pageAFBit) == 1
}

// WithAF sets the access flag.
func (d PageDescriptor) WithAF(v bool) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), b2u(v), pageAFBit, pageAFBit))
}

// NG reports the not-global bit.
func (d PageDescriptor) NG() bool {
	return bits.GetBits(uint64(d), 11, 11) == 1
}

// WithNG sets the not-global bit.
func (d PageDescriptor) WithNG(v bool) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), b2u(v), 11, 11))
}

// OAB returns the raw 34-bit output-address-bits field.
func (d PageDescriptor) OAB() uint64 {
	return bits.GetBits(uint64(d), 47, 14)
}

// WithOAB returns d with its OAB field set to pa's output-address form.
func (d PageDescriptor) WithOAB(pa uint64) PageDescriptor {
	return PageDescriptor(bits.SetBits(uint64(d), PAToOAB(pa), 47, 14))
}

// BlockDescriptor is an L2 leaf entry mapping a 32 MiB block. Unused by
// bring-up (the bootstrap never installs a block mapping) but part of the
// schema: the OAB field lives at a different offset than a page descriptor's
// because a block covers bits [24:0] of the VA rather than [13:0].
type BlockDescriptor uint64

// Valid reports whether the entry is marked valid.
func (d BlockDescriptor) Valid() bool {
	return bits.GetBits(uint64(d), validBit, validBit) == 1
}

// WithValid returns d with the valid bit set or cleared.
func (d BlockDescriptor) WithValid(v bool) BlockDescriptor {
	return BlockDescriptor(bits.SetBits(uint64(d), b2u(v), validBit, validBit))
}

// OAB returns the raw output-address-bits field, bits [47:25].
func (d BlockDescriptor) OAB() uint64 {
	return bits.GetBits(uint64(d), 47, 25)
}

// WithOAB returns d with its OAB field set to pa's block-aligned address
// form.
func (d BlockDescriptor) WithOAB(pa uint64) BlockDescriptor {
	return BlockDescriptor(bits.SetBits(uint64(d), pa>>25, 47, 25))
}

func b2u(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
