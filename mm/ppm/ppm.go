// Physical Page Manager
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ppm implements the reference-counted physical frame allocator
// used during memory bring-up. Its Frame newtype and linear-scan allocator
// shape follow gopher-os-gopher-os's kernel/mem/pmm package; tamago's own
// dma package (a first-fit span allocator for DMA buffers) is the wrong
// data structure for a ref-counted frame registry and is not used here.
package ppm

import (
	"errors"
	"fmt"
	"unsafe"
)

// PageLen is the frame size in bytes (16 KiB, matching the stage-1
// 16 KiB-granule translation tables this allocator's frames back).
const PageLen = 1 << 14

// Frame is a physical frame index: pa = uint64(f) * PageLen.
type Frame uint64

// Sentinel errors for conditions with no payload, following tamago's own
// idiom (virtio.Init, dma's block allocator) rather than a third-party
// error library.
var (
	ErrNoFreePages                   = errors.New("ppm: no free pages")
	ErrPageHasNoReferences           = errors.New("ppm: page has no references")
	ErrPageHasMaxReferences          = errors.New("ppm: page has max references")
	ErrExpectedFreePageHasReferences = errors.New("ppm: expected free page has references")
)

// PageIdxOutOfRangeError reports a frame index outside [0, N_frames). It is
// returned, never panicked, for caller-controlled indices; direct
// PA-to-frame conversions via PAToFrame panic instead, since an
// out-of-range PA there indicates a programmer bug (e.g. passing an MMIO
// pointer to the PPM).
type PageIdxOutOfRangeError struct {
	Idx     Frame
	NFrames Frame
}

func (e *PageIdxOutOfRangeError) Error() string {
	return fmt.Sprintf("ppm: page index %d out of range [0, %d)", e.Idx, e.NFrames)
}

// InvalidPageIdxRangeError reports a malformed [lo, hi] range passed to
// IncrementRange/DecrementRange.
type InvalidPageIdxRangeError struct {
	Lo, Hi Frame
}

func (e *InvalidPageIdxRangeError) Error() string {
	return fmt.Sprintf("ppm: invalid page index range [%d, %d]", e.Lo, e.Hi)
}

// Manager is the frame registry: one saturating 8-bit reference counter per
// physical frame, covering addresses [0, ramBase+ramLen).
type Manager struct {
	registry []uint8
}

// Init sizes the registry and pre-reserves every frame from 0 through the
// frames set aside for the registry right after the kernel's static image:
//
//  1. staticPages = ceil(kernelStaticEnd / PageLen)
//  2. frames starting at index staticPages are set aside for the registry
//  3. nFrames = (ramBase+ramLen) / PageLen; registryPages = ceil(nFrames / PageLen)
//  4. frames [0, staticPages+registryPages) are pre-incremented to 1
//
// The registry slice itself is allocated with make on the Go heap; it is
// not placed in the frames set aside for it in step 2.
//
// Init returns the manager and ramEndUsed, the first byte after all
// kernel/reserved memory — (staticPages+registryPages) * PageLen.
func Init(kernelStaticEnd, ramBase, ramLen uint64) (m *Manager, ramEndUsed uint64) {
	staticPages := ceilDiv(kernelStaticEnd, PageLen)

	nFrames := (ramBase + ramLen) / PageLen
	registryPages := ceilDiv(nFrames, PageLen)

	m = &Manager{registry: make([]uint8, nFrames)}

	reserved := staticPages + registryPages
	for i := uint64(0); i < reserved && i < nFrames; i++ {
		m.registry[i] = 1
	}

	return m, reserved * PageLen
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// NFrames returns the number of frames the registry covers.
func (m *Manager) NFrames() Frame {
	return Frame(len(m.registry))
}

// RefCount returns the current reference count of frame i.
func (m *Manager) RefCount(i Frame) (uint8, error) {
	if uint64(i) >= uint64(len(m.registry)) {
		return 0, &PageIdxOutOfRangeError{Idx: i, NFrames: m.NFrames()}
	}
	return m.registry[i], nil
}

// PAToFrame converts a physical address to its frame index. pa must be
// within the registry's covered range; a PA outside that range indicates a
// programmer bug (e.g. passing an MMIO pointer to the PPM), so this panics
// rather than returning an error.
func (m *Manager) PAToFrame(pa uint64) Frame {
	i := Frame(pa / PageLen)
	if uint64(i) >= uint64(len(m.registry)) {
		panic(fmt.Sprintf("ppm: pa %#x outside registry range", pa))
	}
	return i
}

// FrameToPA converts a frame index back to its physical address.
func FrameToPA(i Frame) uint64 {
	return uint64(i) * PageLen
}

// zeroPage is overridden in tests; on target it issues plain (non-volatile)
// stores since the frame is exclusively owned at this point in bring-up.
var zeroPage = func(pa uint64) {
	p := (*[PageLen]byte)(unsafe.Pointer(uintptr(pa)))
	for i := range p {
		p[i] = 0
	}
}

// GetFreePage linearly scans for the first frame with a zero reference
// count, bumps its count, optionally zeroes it, and returns its physical
// address. The resulting count is checked against 1: a scanned-free frame whose
// count comes back anything else means it was not actually free, which the
// caller treats as a corrupted registry rather than silently proceeding.
func (m *Manager) GetFreePage(zeroOut bool) (uint64, error) {
	for i := range m.registry {
		if m.registry[i] == 0 {
			m.registry[i]++

			if m.registry[i] != 1 {
				return 0, ErrExpectedFreePageHasReferences
			}

			pa := FrameToPA(Frame(i))
			if zeroOut {
				zeroPage(pa)
			}
			return pa, nil
		}
	}
	return 0, ErrNoFreePages
}

// GetPage bumps frame i's reference count (a shared acquire of an
// already-owned frame).
func (m *Manager) GetPage(i Frame) error {
	if uint64(i) >= uint64(len(m.registry)) {
		return &PageIdxOutOfRangeError{Idx: i, NFrames: m.NFrames()}
	}
	if m.registry[i] == 0xFF {
		return ErrPageHasMaxReferences
	}
	m.registry[i]++
	return nil
}

// FreePage decrements the reference count of the frame backing pa.
func (m *Manager) FreePage(pa uint64) error {
	i := m.PAToFrame(pa)
	if m.registry[i] == 0 {
		return ErrPageHasNoReferences
	}
	m.registry[i]--
	return nil
}

// IncrementRange bumps the reference count of every frame in [lo, hi]
// (inclusive). The precondition — lo <= hi < NFrames, and no frame in the
// range already saturated — is verified across the whole range before any
// mutation, so a failure never leaves a partial increment applied.
//
// The index ordering here (lo <= hi) is the canonical convention this
// module adopts to resolve an inconsistency between the increment and
// decrement preconditions in the pre-distillation implementation, which
// used opposite orderings for the two operations.
func (m *Manager) IncrementRange(lo, hi Frame) error {
	if lo > hi || uint64(hi) >= uint64(len(m.registry)) {
		return &InvalidPageIdxRangeError{Lo: lo, Hi: hi}
	}

	for i := lo; i <= hi; i++ {
		if m.registry[i] == 0xFF {
			return ErrPageHasMaxReferences
		}
	}

	for i := lo; i <= hi; i++ {
		m.registry[i]++
	}

	return nil
}

// DecrementRange decrements the reference count of every frame in
// [lo, hi] (inclusive), under the same lo <= hi < NFrames convention as
// IncrementRange.
func (m *Manager) DecrementRange(lo, hi Frame) error {
	if lo > hi || uint64(hi) >= uint64(len(m.registry)) {
		return &InvalidPageIdxRangeError{Lo: lo, Hi: hi}
	}

	for i := lo; i <= hi; i++ {
		if m.registry[i] == 0 {
			return ErrPageHasNoReferences
		}
	}

	for i := lo; i <= hi; i++ {
		m.registry[i]--
	}

	return nil
}
