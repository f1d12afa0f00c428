// PL011 UART driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pl011 implements a minimal driver for the ARM PL011 UART as
// exposed over QEMU virt's MMIO region, following the register-constant
// and Tx/Write method shape of tamago's soc/nxp/uart driver, re-targeted
// at PL011's (much smaller) register map.
package pl011

import "github.com/chungmcl/jerryOS/internal/reg"

// Register offsets and flag bits (§6 of the surrounding register
// programming reference).
const (
	DataReg = 0x00
	FlagReg = 0x18

	txFIFOFull = 1 << 5
)

// UART represents a PL011 instance mapped at Base.
type UART struct {
	Base uint64
}

// Tx transmits a single byte, busy-waiting while the TX FIFO is full, and
// translates a bare '\n' into "\r\n".
func (u *UART) Tx(b byte) {
	if b == '\n' {
		u.putc('\r')
	}
	u.putc(b)
}

func (u *UART) putc(b byte) {
	for reg.Read32(u.Base+FlagReg)&txFIFOFull != 0 {
		// wait for TX FIFO to have room
	}
	reg.Write32(u.Base+DataReg, uint32(b))
}

// Write implements io.Writer, so callers (including bootlog) can use
// fmt.Fprintf(uart, ...) instead of hand-formatting strings — the Go
// analogue of the reference implementation's fmt::Write-based
// PL011Writer/print!/println! layering on top of the raw byte-at-a-time
// write.
func (u *UART) Write(p []byte) (n int, err error) {
	for _, b := range p {
		u.Tx(b)
	}
	return len(p), nil
}

// Init binds the driver to base, which the caller must already have mapped
// via ptm.MapMMIORange.
func Init(base uint64) *UART {
	return &UART{Base: base}
}
