// Device bring-up orchestration
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package boot carries the values the entry stub hands off in registers
// X1..X9 (DTB base, initial SP, kernel image ranges) and drives the
// two-pass FDT scan that brings up memory first, then per-device drivers.
package boot

import (
	"fmt"
	"strings"

	"github.com/chungmcl/jerryOS/bootlog"
	"github.com/chungmcl/jerryOS/device/pl011"
	"github.com/chungmcl/jerryOS/device/virtio"
	"github.com/chungmcl/jerryOS/fdt"
	"github.com/chungmcl/jerryOS/mm"
	"github.com/chungmcl/jerryOS/mm/ptm"
)

// Params mirrors the entry stub's register contract (§6, slots 1-9):
// everything the bare-metal entry populates from linker symbols before
// jumping into Go code, analogous to the reference implementation's
// JerryMetaData struct.
type Params struct {
	DTBStart uint64

	InitialSP uint64

	KernelImageStart uint64

	KernelRodataStart uint64
	KernelRodataEnd   uint64

	KernelTextStart uint64
	KernelTextEnd   uint64

	KernelBSSStart uint64
	KernelBSSEnd   uint64
}

// KernelStaticEnd is the first byte past the kernel's static image, the
// boundary init_ppm uses to place its frame registry.
func (p *Params) KernelStaticEnd() uint64 {
	end := p.KernelBSSEnd
	if p.KernelTextEnd > end {
		end = p.KernelTextEnd
	}
	if p.KernelRodataEnd > end {
		end = p.KernelRodataEnd
	}
	return end
}

// Device init error wrappers (§7, "Device init errors").

type LibFDTInitFailedError struct{ Err error }

func (e *LibFDTInitFailedError) Error() string { return fmt.Sprintf("boot: fdt init: %v", e.Err) }
func (e *LibFDTInitFailedError) Unwrap() error  { return e.Err }

type FDTItrNewFailedError struct{ Err error }

func (e *FDTItrNewFailedError) Error() string { return fmt.Sprintf("boot: fdt iterator: %v", e.Err) }
func (e *FDTItrNewFailedError) Unwrap() error  { return e.Err }

var ErrMemoryDeviceNotFound = fmt.Errorf("boot: no memory@ node found in device tree")

type SearchForMemoryDeviceFailedError struct{ Err error }

func (e *SearchForMemoryDeviceFailedError) Error() string {
	return fmt.Sprintf("boot: scanning for memory node: %v", e.Err)
}
func (e *SearchForMemoryDeviceFailedError) Unwrap() error { return e.Err }

type MemoryInitFailedError struct{ Err error }

func (e *MemoryInitFailedError) Error() string { return fmt.Sprintf("boot: memory init: %v", e.Err) }
func (e *MemoryInitFailedError) Unwrap() error  { return e.Err }

type VirtIOSetupError struct{ Err error }

func (e *VirtIOSetupError) Error() string { return fmt.Sprintf("boot: virtio setup: %v", e.Err) }
func (e *VirtIOSetupError) Unwrap() error  { return e.Err }

type PL011SetupError struct{ Err error }

func (e *PL011SetupError) Error() string { return fmt.Sprintf("boot: pl011 setup: %v", e.Err) }
func (e *PL011SetupError) Unwrap() error  { return e.Err }

const dtbMaxLen = 0 // no caller-supplied bound; New trusts the header's own totalsize

// Console is the first pl011 UART brought up during the device scan, if
// any. The out-of-scope panic handler formats its message through Console
// when it is non-nil (§7, "the panic handler formats the message through
// the UART if it came up").
var Console *pl011.UART

// findMemoryNode scans f depth-first for the unique node whose name begins
// with "memory@". A node with an unreadable name is logged and skipped
// rather than aborting the scan (§7, first-scan exception).
func findMemoryNode(f *fdt.FDT) (*fdt.Node, error) {
	it := f.Iterator()
	for {
		n, err := it.Next()
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, nil
		}
		name, err := n.Name()
		if err != nil {
			bootlog.Infof("boot: skipping node with unreadable name: %v", err)
			continue
		}
		if strings.HasPrefix(name, "memory@") {
			return n, nil
		}
	}
}

// InitDevices runs the two-pass bring-up sequence described in §4.7:
// locate and initialize memory first (so MMIO mappings for the second
// pass have a working PTM/PPM underneath them), then dispatch every
// remaining node to its driver by name prefix.
func InitDevices(params *Params) error {
	f, err := fdt.New(uintptr(params.DTBStart), dtbMaxLen)
	if err != nil {
		return &LibFDTInitFailedError{Err: err}
	}

	dramNode, err := findMemoryNode(f)
	if err != nil {
		return &SearchForMemoryDeviceFailedError{Err: err}
	}
	if dramNode == nil {
		return ErrMemoryDeviceNotFound
	}

	dtbEnd := params.DTBStart + uint64(f.TotalSize())
	if err := mm.InitMemory(dramNode, f, params.KernelStaticEnd(), params.DTBStart, dtbEnd); err != nil {
		return &MemoryInitFailedError{Err: err}
	}

	it := f.Iterator()
	for {
		n, err := it.Next()
		if err != nil {
			return &FDTItrNewFailedError{Err: err}
		}
		if n == nil {
			break
		}

		name, err := n.Name()
		if err != nil {
			bootlog.Infof("boot: skipping node with unreadable name: %v", err)
			continue
		}

		switch {
		case strings.HasPrefix(name, "pl011"):
			if err := initPL011(f, n); err != nil {
				return &PL011SetupError{Err: err}
			}

		case strings.HasPrefix(name, "virtio_mmio"):
			if err := initVirtIO(f, n); err != nil {
				var unsupported *virtio.UnsupportedDeviceTypeError
				if asUnsupportedDeviceType(err, &unsupported) {
					bootlog.Infof("boot: skipping unsupported virtio device %d", unsupported.DeviceID)
					continue
				}
				return &VirtIOSetupError{Err: err}
			}

		default:
			// unknown nodes are ignored
		}
	}

	return nil
}

func asUnsupportedDeviceType(err error, target **virtio.UnsupportedDeviceTypeError) bool {
	if u, ok := err.(*virtio.UnsupportedDeviceTypeError); ok {
		*target = u
		return true
	}
	return false
}

func initPL011(f *fdt.FDT, n *fdt.Node) error {
	base, size, err := f.Reg(n)
	if err != nil {
		return err
	}
	if err := ptm.MapMMIORange(base, size); err != nil {
		return err
	}
	Console = pl011.Init(base)
	return nil
}

func initVirtIO(f *fdt.FDT, n *fdt.Node) error {
	base, size, err := f.Reg(n)
	if err != nil {
		return err
	}
	if err := ptm.MapMMIORange(base, size); err != nil {
		return err
	}
	_, err = virtio.InitBlock(base)
	return err
}
