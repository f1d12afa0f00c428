// ARM64 processor support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package arm64 provides the system-register programming this module's
// memory bring-up needs: writing TTBR0_EL1/TTBR1_EL1/TCR_EL1 and setting
// SCTLR_EL1.M to turn on stage-1 translation.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go.
package arm64

import (
	"github.com/chungmcl/jerryOS/arm64/barrier"
	"github.com/chungmcl/jerryOS/bits"
)

// TCR_EL1 field values for the stage-1, 16 KiB-granule, 39-bit
// (T0SZ=T1SZ=25) configuration this module's page tables are built for.
// TG0 and TG1 encode the same granule with different bit patterns per the
// architecture (TG0 16 KiB = 0b10, TG1 16 KiB = 0b01).
const (
	tg0_16KiB = 0b10
	tg1_16KiB = 0b01

	t0t1sz = 25

	// Inner write-back, read/write-allocate cacheable, inner shareable —
	// ordinary choices for kernel-owned normal memory.
	irgnWBWA = 0b01
	orgnWBWA = 0b01
	shInner  = 0b11

	// 36-bit physical address size (64 GiB), comfortably above any RAM
	// size this bring-up targets without probing ID_AA64MMFR0_EL1.
	ips36Bit = 0b001
)

// defined in mmu_arm64.s
func writeTTBR0(pa uint64)
func writeTTBR1(pa uint64)
func writeTCR(val uint64)
func readSCTLR() uint64
func writeSCTLR(val uint64)

// tcrValue builds the TCR_EL1 value this module always programs: fixed
// granule/region-size/cacheability policy, DS=0 as the data model requires.
func tcrValue() uint64 {
	var tcr uint64

	tcr = bits.SetBits(tcr, t0t1sz, 5, 0)     // T0SZ
	tcr = bits.SetBits(tcr, 0, 7, 7)          // EPD0 = 0 (walk enabled)
	tcr = bits.SetBits(tcr, irgnWBWA, 9, 8)   // IRGN0
	tcr = bits.SetBits(tcr, orgnWBWA, 11, 10) // ORGN0
	tcr = bits.SetBits(tcr, shInner, 13, 12)  // SH0
	tcr = bits.SetBits(tcr, tg0_16KiB, 15, 14)

	tcr = bits.SetBits(tcr, t0t1sz, 21, 16) // T1SZ
	tcr = bits.SetBits(tcr, 0, 22, 22)      // EPD1 = 0 (walk enabled)
	tcr = bits.SetBits(tcr, irgnWBWA, 25, 24)
	tcr = bits.SetBits(tcr, orgnWBWA, 27, 26)
	tcr = bits.SetBits(tcr, shInner, 29, 28)
	tcr = bits.SetBits(tcr, tg1_16KiB, 31, 30)

	tcr = bits.SetBits(tcr, ips36Bit, 34, 32)
	tcr = bits.SetBits(tcr, 0, 59, 59) // DS = 0

	return tcr
}

// EnableMMU programs TTBR0_EL1, TTBR1_EL1 and TCR_EL1 with the physical
// addresses of the two root tables, then sets SCTLR_EL1.M.
//
// The caller must ensure the instruction stream immediately following this
// call lives on an identity-mapped page: once SCTLR_EL1.M takes effect,
// PC+4 is translated through TTBR0_EL1 like every other fetch, and the
// bootstrap's identity-mapping pass over the kernel image exists
// specifically to keep that fetch reachable.
func EnableMMU(ttbr0PA, ttbr1PA uint64) {
	writeTTBR0(ttbr0PA)
	writeTTBR1(ttbr1PA)
	writeTCR(tcrValue())
	barrier.Isb(barrier.Sy)

	sctlr := readSCTLR()
	sctlr |= 1 // M
	writeSCTLR(sctlr)
	barrier.Isb(barrier.Sy)
}
