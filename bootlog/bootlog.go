// https://github.com/usbarmory/tamago
//
// Copyright (c) The TamaGo Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bootlog provides the minimal logging this module's early boot
// path uses before any console device is attached, following tamago's own
// exception handlers (arm64/exception.go) in reaching for the print/println
// builtins rather than the log package: log's Writer defaults to stderr,
// which does not exist this early, and its formatting machinery pulls in
// more of the runtime than a pre-MMU boot path wants resident.
package bootlog

import "fmt"

// Info reports a boot-time event to the builtin console sink.
func Info(msg string) {
	println(msg)
}

// Infof formats msg with fmt.Sprintf before reporting it, for call sites
// that already have arguments to interpolate.
func Infof(format string, args ...interface{}) {
	println(fmt.Sprintf(format, args...))
}

// Fatal reports an unrecoverable boot error and halts by panicking, the
// same print-then-stop pattern tamago's exception handlers use rather than
// attempt to continue with corrupted state.
func Fatal(err error) {
	println("fatal:", err.Error())
	panic(err)
}
