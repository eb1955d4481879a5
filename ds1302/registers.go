// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1302

import (
	"fmt"

	"github.com/GermanBionicSystems/towersense/common"
)

// Register is the index of a clock register.
type Register byte

// Clock registers, datasheet table 3. All time registers hold BCD.
const (
	RegSeconds Register = 0 // bit 7 is the clock halt flag
	RegMinutes Register = 1
	RegHours   Register = 2 // bit 7 selects 12 hour mode, unsupported
	RegDate    Register = 3
	RegMonth   Register = 4
	RegWeekday Register = 5
	RegYear    Register = 6
	RegControl Register = 7 // bit 7 is the write protect flag
)

const (
	clockHalt    = 0x80
	writeProtect = 0x80

	cmdWrite = 0x80
	cmdRead  = 0x81
)

func (r Register) String() string {
	switch r {
	case RegSeconds:
		return "seconds"
	case RegMinutes:
		return "minutes"
	case RegHours:
		return "hours"
	case RegDate:
		return "date"
	case RegMonth:
		return "month"
	case RegWeekday:
		return "weekday"
	case RegYear:
		return "year"
	case RegControl:
		return "control"
	default:
		return fmt.Sprintf("Register(%d)", byte(r))
	}
}

func (r Register) check() error {
	if r > RegControl {
		return fmt.Errorf("ds1302: register %d: %w", byte(r), common.ErrInvalidField)
	}
	return nil
}

// BCDToDec decodes a packed binary coded decimal byte.
//
// It returns common.ErrInvalidField when a nibble is above 9.
func BCDToDec(v byte) (int, error) {
	if v>>4 > 9 || v&0x0f > 9 {
		return 0, fmt.Errorf("ds1302: %#02x is not BCD: %w", v, common.ErrInvalidField)
	}
	return int(v>>4)*10 + int(v&0x0f), nil
}

// DecToBCD encodes v, which must be in 0..99, as packed binary coded decimal.
func DecToBCD(v int) (byte, error) {
	if v < 0 || v > 99 {
		return 0, fmt.Errorf("ds1302: %d does not fit two BCD digits: %w", v, common.ErrInvalidField)
	}
	return byte(v/10)<<4 | byte(v%10), nil
}
