// Page Table Manager
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ptm builds and maintains the stage-1, 16 KiB-granule, EL1
// translation tables: identity mapping for the kernel's own image and DTB,
// a high-half linear map of all RAM, and on-demand MMIO mappings.
//
// Following tamago's own package-level-singleton convention (its dma
// package: a single *Region behind package-level Init/Alloc wrappers),
// this package keeps one *Manager behind package-level wrappers — the
// bring-up phase never needs more than one page table tree.
package ptm

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/chungmcl/jerryOS/mm/ppm"
	"github.com/chungmcl/jerryOS/ttd"
)

// Table geometry (§3 of the data model: 39-bit VA, 16 KiB granule, 8-entry
// L1 root, 2048-entry L2/L3).
const (
	L1Entries = 8
	L2Entries = 2048
	L3Entries = 2048

	l1Shift = 36
	l2Shift = 25
	l3Shift = 14

	// T0SZ = T1SZ = 25 selects a 39-bit input address range per half.
	T0T1SZ = 25
)

// TTBR1Mask is the set of high bits ([63:39]) that distinguish a high-half
// virtual address from the matching physical address in the linear map:
// TTBR1Mask = ((1<<25)-1) << 39.
const TTBR1Mask = uint64((1<<T0T1SZ)-1) << 39

// Root is the in-image storage type for one 8-entry L1 root. Tamago itself
// has no custom-linker-section convention to borrow (it reserves fixed
// purpose memory with plain static Go vars backed by runtime.ramStart/
// ramSize, not a bespoke ELF section), so these two tables simply live as
// package-level arrays — the ".kernel_root_tables" placement named in the
// surrounding documentation is a build/link-script concern outside this
// package's reach, not something expressible purely in Go source.
type Root = [L1Entries]ttd.TableDescriptor

var rootTTBR0 Root
var rootTTBR1 Root

// Errors.
var (
	ErrVAAlreadyMapped = errors.New("ptm: VA already mapped to a different PA")
)

// GetFreePageFailedError wraps a PPM failure encountered while allocating a
// fresh table page mid-walk.
type GetFreePageFailedError struct{ Err error }

func (e *GetFreePageFailedError) Error() string { return fmt.Sprintf("ptm: get free page: %v", e.Err) }
func (e *GetFreePageFailedError) Unwrap() error  { return e.Err }

// MapPageToVAFailedError wraps a PPM failure encountered while mapping a
// caller-supplied page.
type MapPageToVAFailedError struct{ Err error }

func (e *MapPageToVAFailedError) Error() string { return fmt.Sprintf("ptm: map page to va: %v", e.Err) }
func (e *MapPageToVAFailedError) Unwrap() error  { return e.Err }

// Manager owns the root tables and the shared state needed to translate
// between physical addresses and their high-half RAM mapping.
type Manager struct {
	ppm *ppm.Manager

	ramBase uint64
	ramLen  uint64

	mmuEnabled bool
}

var mgr *Manager

// Default returns the package-level Manager created by Init.
func Default() *Manager { return mgr }

// Init creates the package-level Manager bound to the given PPM and RAM
// geometry.
func Init(p *ppm.Manager, ramBase, ramLen uint64) *Manager {
	mgr = &Manager{ppm: p, ramBase: ramBase, ramLen: ramLen}
	return mgr
}

// SetMMUEnabled flips the manager's view of whether translation is active,
// changing how it dereferences NLTAs on subsequent walks (see
// resolveTablePtr). Called once by mm.InitMemory, right after
// arm64.EnableMMU.
func (m *Manager) SetMMUEnabled(v bool) { m.mmuEnabled = v }

// MMUEnabled reports the value last set by SetMMUEnabled.
func (m *Manager) MMUEnabled() bool { return m.mmuEnabled }

// PAToRAMVA maps a physical RAM address into its high-half linear-map
// virtual address: TTBR1Mask | (pa - ramBase).
func (m *Manager) PAToRAMVA(pa uint64) uint64 {
	return TTBR1Mask | (pa - m.ramBase)
}

// RAMVAToPA inverts PAToRAMVA: (va &^ TTBR1Mask) + ramBase.
func (m *Manager) RAMVAToPA(va uint64) uint64 {
	return (va &^ TTBR1Mask) + m.ramBase
}

// resolveTablePtr returns the pointer a walk should dereference to read a
// child table at physical address pa: the raw PA while the MMU is off, and
// its high-half RAM virtual address once translation is active — a table
// page, like everything else in RAM, is no longer reachable by its
// physical address after SCTLR_EL1.M is set. This is the single
// highest-stakes transition in the whole manager and every descent step
// below funnels through it.
func (m *Manager) resolveTablePtr(pa uint64) uint64 {
	if m.mmuEnabled {
		return m.PAToRAMVA(pa)
	}
	return pa
}

func l1Index(va uint64) int { return int((va >> l1Shift) & 0x7) }
func l2Index(va uint64) int { return int((va >> l2Shift) & 0x7ff) }
func l3Index(va uint64) int { return int((va >> l3Shift) & 0x7ff) }

// memAt converts a physical address into a dereferenceable pointer. It is a
// plain identity cast on target, where physical addresses are directly
// addressable; tests override it to translate into a host-backed []byte
// arena standing in for physical RAM, following gopher-os's
// byte-slice-backed frame allocator tests.
var memAt = func(addr uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

func tableAt(addr uint64) *[L2Entries]ttd.TableDescriptor {
	return (*[L2Entries]ttd.TableDescriptor)(memAt(addr))
}

func pagesAt(addr uint64) *[L3Entries]ttd.PageDescriptor {
	return (*[L3Entries]ttd.PageDescriptor)(memAt(addr))
}

// zeroTablePage wipes a freshly allocated table page through the same
// address a walk would dereference it at: the raw PA while the MMU is off,
// its high-half RAM virtual address once translation is active. Zeroing
// through the bare PA here would fault once the MMU is on, since a table
// page is ordinary RAM and is no longer reachable by its physical address
// at that point.
func (m *Manager) zeroTablePage(pa uint64) {
	p := (*[ttd.PageLen]byte)(memAt(m.resolveTablePtr(pa)))
	for i := range p {
		p[i] = 0
	}
}

// descend walks into (or installs) the child table referenced by entry,
// returning the child table's physical address.
func (m *Manager) descend(entry *ttd.TableDescriptor) (uint64, error) {
	if entry.Valid() && entry.IsTable() {
		return ttd.NLTAToPA(entry.NLTA()), nil
	}

	childPA, err := m.ppm.GetFreePage(false)
	if err != nil {
		return 0, &GetFreePageFailedError{Err: err}
	}
	m.zeroTablePage(childPA)

	*entry = ttd.TableDescriptor(0).WithValid(true).WithIsTable(true).WithNLTA(childPA)

	return childPA, nil
}

// MapPageToVA walks root (ROOT_TTBR0 or ROOT_TTBR1) and installs pagePA at
// va, or — when overwrite is false and the slot is already a valid page —
// leaves the tree untouched and returns the PA it already resolves to.
func (m *Manager) MapPageToVA(root *Root, pagePA, va uint64, overwrite bool) (uint64, error) {
	l1 := root[l1Index(va)]

	l2PA, err := m.descend(&l1)
	if err != nil {
		return 0, err
	}
	root[l1Index(va)] = l1

	l2Table := tableAt(m.resolveTablePtr(l2PA))
	l2 := l2Table[l2Index(va)]

	l3PA, err := m.descend(&l2)
	if err != nil {
		return 0, err
	}
	l2Table[l2Index(va)] = l2

	l3Table := pagesAt(m.resolveTablePtr(l3PA))
	leaf := l3Table[l3Index(va)]

	if leaf.Valid() && !overwrite {
		return ttd.OABToPA(leaf.OAB()), nil
	}

	l3Table[l3Index(va)] = ttd.PageDescriptor(0).
		WithValid(true).
		WithDescriptorType(true).
		WithOAB(pagePA).
		WithAF(true)

	return pagePA, nil
}

// pageAlignDown / pageAlignUp round an address to the 16 KiB granule.
func pageAlignDown(a uint64) uint64 { return a &^ (ttd.PageLen - 1) }
func pageAlignUp(a uint64) uint64   { return pageAlignDown(a+ttd.PageLen-1) }

// mapIdentityRange installs VA=PA for every page in [start, end) into root,
// treating any resolved PA other than the page being mapped as the
// caller-visible ErrVAAlreadyMapped condition.
func (m *Manager) mapIdentityRange(root *Root, start, end uint64) error {
	start = pageAlignDown(start)
	end = pageAlignUp(end)

	for pa := start; pa < end; pa += ttd.PageLen {
		resolved, err := m.MapPageToVA(root, pa, pa, false)
		if err != nil {
			return &MapPageToVAFailedError{Err: err}
		}
		if resolved != pa {
			return ErrVAAlreadyMapped
		}
	}
	return nil
}

// BootstrapKernelPageTables runs the three-pass bring-up sequence with the
// MMU off:
//
//  1. identity-map the DTB range into ROOT_TTBR0
//  2. identity-map [ramBase, kernelMemEnd) into ROOT_TTBR0
//  3. linear-map [ramBase, ramBase+ramLen) into ROOT_TTBR1 at the high half
func (m *Manager) BootstrapKernelPageTables(dtbStart, dtbEnd, kernelMemEnd uint64) error {
	if err := m.mapIdentityRange(&rootTTBR0, dtbStart, dtbEnd); err != nil {
		return err
	}

	if err := m.mapIdentityRange(&rootTTBR0, m.ramBase, kernelMemEnd); err != nil {
		return err
	}

	ramEnd := pageAlignUp(m.ramBase + m.ramLen)
	for pa := pageAlignDown(m.ramBase); pa < ramEnd; pa += ttd.PageLen {
		va := m.PAToRAMVA(pa)
		resolved, err := m.MapPageToVA(&rootTTBR1, pa, va, false)
		if err != nil {
			return &MapPageToVAFailedError{Err: err}
		}
		if resolved != pa {
			return ErrVAAlreadyMapped
		}
	}

	return nil
}

// MapMMIORange identity-maps the page-aligned range covering
// [base, base+len) into ROOT_TTBR0. The policy is identity only; a
// caller-specified VA is not supported at this stage.
func (m *Manager) MapMMIORange(base, length uint64) error {
	return m.mapIdentityRange(&rootTTBR0, base, base+length)
}

// RootTTBR0 / RootTTBR1 expose the root tables themselves, for callers that
// need to pass them to MapPageToVA directly.
func RootTTBR0() *Root { return &rootTTBR0 }
func RootTTBR1() *Root { return &rootTTBR1 }

// RootTTBR0PA / RootTTBR1PA expose the physical address of the root
// tables, as needed by EnableMMU's register programming.
func RootTTBR0PA() uint64 { return uint64(uintptr(unsafe.Pointer(&rootTTBR0))) }
func RootTTBR1PA() uint64 { return uint64(uintptr(unsafe.Pointer(&rootTTBR1))) }

// Package-level convenience wrappers over Default(), mirroring tamago's
// dma.Alloc/dma.Free-over-dma.Default() convention.

func MapPageToVA(root *Root, pagePA, va uint64, overwrite bool) (uint64, error) {
	return mgr.MapPageToVA(root, pagePA, va, overwrite)
}

func BootstrapKernelPageTables(dtbStart, dtbEnd, kernelMemEnd uint64) error {
	return mgr.BootstrapKernelPageTables(dtbStart, dtbEnd, kernelMemEnd)
}

func MapMMIORange(base, length uint64) error {
	return mgr.MapMMIORange(base, length)
}

func PAToRAMVA(pa uint64) uint64 { return mgr.PAToRAMVA(pa) }
func RAMVAToPA(va uint64) uint64 { return mgr.RAMVAToPA(va) }
