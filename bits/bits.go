// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bits provides primitives for bitwise operations on 64-bit values,
// sized for translation-table descriptors and system register fields.
package bits

// NBits returns a mask of n+1 set bits: NBits(0) == 0b1, NBits(3) == 0b1111.
func NBits(n uint) uint64 {
	return (uint64(1) << (n + 1)) - 1
}

// GetBits extracts the inclusive [msb:lsb] field out of v.
func GetBits(v uint64, msb uint, lsb uint) uint64 {
	return (v >> lsb) & NBits(msb-lsb)
}

// SetBits returns v with the inclusive [msb:lsb] field replaced by val,
// masked to the field width.
func SetBits(v uint64, val uint64, msb uint, lsb uint) uint64 {
	mask := NBits(msb - lsb)
	return (v &^ (mask << lsb)) | ((val & mask) << lsb)
}
