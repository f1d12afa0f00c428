// VirtIO driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package virtio implements the MMIO probe/reset/capacity-read sequence
// this module's bring-up needs, trimmed from tamago's own virtio package
// (register offsets, Magic/Version checks, Status bits) down to exactly
// what §4.7 describes: no virtqueue negotiation, since bring-up never
// programs a queue.
//
// https://wiki.osdev.org/Virtio
package virtio

import (
	"errors"
	"fmt"

	"github.com/chungmcl/jerryOS/arm64/barrier"
	"github.com/chungmcl/jerryOS/internal/reg"
)

// MMIO register offsets (VirtIO over MMIO, version 2).
const (
	regMagic           = 0x000
	regVersion         = 0x004
	regDeviceID        = 0x008
	regStatus          = 0x070
	regConfigGen       = 0x0fc
	regConfig          = 0x100
)

const (
	Magic   = 0x74726976 // "virt"
	Version = 0x2
)

// Device IDs this module recognizes (§6).
const (
	DeviceIDBlock = 2
)

// Status bits used at this bring-up stage (§6); FEATURES_OK/DRIVER_OK and
// beyond belong to virtqueue negotiation, out of scope here.
const (
	StatusAcknowledge = 1
	StatusDriver      = 2
)

var (
	ErrWrongMagicValue    = errors.New("virtio: wrong magic value")
	ErrUnsupportedVersion = errors.New("virtio: unsupported version")
)

// UnsupportedDeviceTypeError is non-fatal: the caller skips the device and
// continues the FDT scan.
type UnsupportedDeviceTypeError struct {
	DeviceID uint32
}

func (e *UnsupportedDeviceTypeError) Error() string {
	return fmt.Sprintf("virtio: unsupported device type %d", e.DeviceID)
}

// Device represents a probed VirtIO-over-MMIO device.
type Device struct {
	Base uint64
}

// Probe validates the magic and version at base and returns a Device
// handle. The caller must already have mapped base via ptm.MapMMIORange.
func Probe(base uint64) (*Device, error) {
	if reg.Read32(base+regMagic) != Magic {
		return nil, ErrWrongMagicValue
	}
	if reg.Read32(base+regVersion) != Version {
		return nil, ErrUnsupportedVersion
	}
	return &Device{Base: base}, nil
}

// DeviceID returns the VirtIO subsystem device ID.
func (d *Device) DeviceID() uint32 {
	return reg.Read32(d.Base + regDeviceID)
}

// Reset writes zero to the status register, the standard VirtIO device
// reset sequence.
func (d *Device) Reset() {
	reg.Write32(d.Base+regStatus, 0)
}

// Acknowledge performs the ACKNOWLEDGE|DRIVER status handshake, issuing a
// DSB SY between each write so the device observes the transitions in
// order.
func (d *Device) Acknowledge() {
	reg.Write32(d.Base+regStatus, StatusAcknowledge)
	barrier.Dsb(barrier.Sy)

	reg.Write32(d.Base+regStatus, StatusAcknowledge|StatusDriver)
	barrier.Dsb(barrier.Sy)
}

// ReadBlockCapacity reads the virtio-blk capacity field (the first 8 bytes
// of the device-specific config area, in 512-byte sectors) using the
// config-generation retry loop the VirtIO spec requires: the generation
// counter is read before and after the config read, and the read is
// retried until the two match, guaranteeing a torn-free snapshot.
func (d *Device) ReadBlockCapacity() uint64 {
	for {
		before := reg.Read32(d.Base + regConfigGen)

		lo := reg.Read32(d.Base + regConfig)
		hi := reg.Read32(d.Base + regConfig + 4)

		after := reg.Read32(d.Base + regConfigGen)

		if before == after {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// InitBlock probes base, resets and acknowledges a virtio-blk device, and
// returns its capacity in 512-byte sectors. A non-block device yields
// UnsupportedDeviceTypeError, which callers treat as non-fatal and skip.
func InitBlock(base uint64) (capacitySectors uint64, err error) {
	dev, err := Probe(base)
	if err != nil {
		return 0, err
	}

	id := dev.DeviceID()
	if id != DeviceIDBlock {
		return 0, &UnsupportedDeviceTypeError{DeviceID: id}
	}

	dev.Reset()
	dev.Acknowledge()

	return dev.ReadBlockCapacity(), nil
}
