// ARM64 processor support
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package barrier provides synchronization-barrier primitives for ARMv8-A.
package barrier

// Kind selects the domain/scope of a synchronization barrier.
type Kind int

const (
	// Sy is the full system barrier.
	Sy Kind = iota
	// St restricts the barrier to stores.
	St
	// Ld restricts the barrier to loads.
	Ld
)

// defined in barrier_arm64.s
func dsbSy()
func dsbSt()
func dsbLd()
func isbSy()

// Dsb emits a Data Synchronization Barrier of the given kind.
func Dsb(kind Kind) {
	switch kind {
	case St:
		dsbSt()
	case Ld:
		dsbLd()
	default:
		dsbSy()
	}
}

// Isb emits an Instruction Synchronization Barrier.
//
// ARMv8-A defines ISB with a single SY option; the kind argument is accepted
// for symmetry with Dsb and to mirror the {Sy, St, Ld} taxonomy callers use
// for both barrier kinds, but only the full-system form exists in hardware.
func Isb(kind Kind) {
	isbSy()
}
