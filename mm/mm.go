// Memory bring-up orchestration
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mm wires the FDT façade, the physical page manager and the page
// table manager together: it reads RAM geometry from the device tree,
// initializes the frame registry, bootstraps identity and linear-map page
// tables, and finally turns on the MMU.
package mm

import (
	"fmt"

	"github.com/chungmcl/jerryOS/arm64"
	"github.com/chungmcl/jerryOS/fdt"
	"github.com/chungmcl/jerryOS/mm/ppm"
	"github.com/chungmcl/jerryOS/mm/ptm"
)

// RAMFDTNodeGetRegFailedError wraps a failure reading the memory node's
// "reg" property.
type RAMFDTNodeGetRegFailedError struct{ Err error }

func (e *RAMFDTNodeGetRegFailedError) Error() string {
	return fmt.Sprintf("mm: read memory node reg: %v", e.Err)
}
func (e *RAMFDTNodeGetRegFailedError) Unwrap() error { return e.Err }

// KernelPTBootStrapFailedError wraps a PTM failure during bootstrap.
type KernelPTBootStrapFailedError struct{ Err error }

func (e *KernelPTBootStrapFailedError) Error() string {
	return fmt.Sprintf("mm: bootstrap kernel page tables: %v", e.Err)
}
func (e *KernelPTBootStrapFailedError) Unwrap() error { return e.Err }

// Geometry is the RAM geometry derived from the memory node, set once by
// InitMemory and read-only thereafter.
type Geometry struct {
	RAMBase uint64
	RAMLen  uint64
}

var geometry Geometry

// RAMGeometry returns the RAM geometry established by InitMemory.
func RAMGeometry() Geometry { return geometry }

// InitMemory orchestrates PPM then PTM bring-up and turns on the MMU:
//
//  1. read (ramBase, ramLen) from dramNode's "reg" property
//  2. kernelMemEnd := ppm.Init(...)
//  3. ptm.BootstrapKernelPageTables(dtbStart, dtbEnd, kernelMemEnd)
//  4. arm64.EnableMMU(&ROOT_TTBR0, &ROOT_TTBR1)
//
// ppm.Init has no failure mode in this implementation (it only sizes and
// zeroes a registry slice), so the PPMInitFailed tag named by the
// surrounding error taxonomy has no constructor here; it would apply to an
// allocator that can itself run out of backing storage, which a
// bring-up-time frame registry cannot.
func InitMemory(dramNode *fdt.Node, f *fdt.FDT, kernelStaticEnd, dtbStart, dtbEnd uint64) error {
	ramBase, ramLen, err := f.Reg(dramNode)
	if err != nil {
		return &RAMFDTNodeGetRegFailedError{Err: err}
	}

	geometry = Geometry{RAMBase: ramBase, RAMLen: ramLen}

	p, kernelMemEnd := ppm.Init(kernelStaticEnd, ramBase, ramLen)

	ptm.Init(p, ramBase, ramLen)

	if err := ptm.BootstrapKernelPageTables(dtbStart, dtbEnd, kernelMemEnd); err != nil {
		return &KernelPTBootStrapFailedError{Err: err}
	}

	arm64.EnableMMU(ptm.RootTTBR0PA(), ptm.RootTTBR1PA())
	ptm.Default().SetMMUEnabled(true)

	return nil
}
