// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"errors"
	"fmt"
)

// Errors reported by the protocol drivers. Drivers wrap them with context;
// test for them with errors.Is.
//
// None of them is fatal: the caller skips the measurement and tries again
// on its next cycle.
var (
	// ErrNoDevice is returned when no device answered: no presence pulse
	// after a 1-wire reset, or no response to a start sequence.
	ErrNoDevice error = busError("no device response")
	// ErrCorruptFrame is returned on a checksum or CRC mismatch. The data
	// must not be used.
	ErrCorruptFrame error = busError("corrupt frame")
	// ErrBusTimeout is returned when a bounded polling loop exhausted its
	// budget while waiting for the line to change.
	ErrBusTimeout error = busError("bus timeout")
	// ErrInvalidField is returned for values that cannot be encoded or
	// registers that do not exist.
	ErrInvalidField = errors.New("invalid field")
)

// TimeoutError describes which step of a protocol ran out of polling budget.
type TimeoutError struct {
	Phase string // step of the protocol that timed out
	Bit   int    // index of the bit being received, -1 outside data bits
	Sync  bool   // true if the device never completed its response preamble
}

func (e *TimeoutError) Error() string {
	if e.Bit >= 0 {
		return fmt.Sprintf("bus timeout: %s of bit %d", e.Phase, e.Bit)
	}
	return "bus timeout: " + e.Phase
}

// Is reports ErrBusTimeout always, and ErrNoDevice too for a preamble
// timeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrBusTimeout || (e.Sync && target == ErrNoDevice)
}

// BusError implements onewire.BusError.
func (e *TimeoutError) BusError() bool { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }
