// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ds1302 controls a Maxim DS1302 trickle-charge timekeeping chip
// over its three-wire synchronous serial interface, generated in software on
// three GPIOs.
//
// Only the clock registers are supported, the 31 bytes of RAM and the trickle
// charger are not. The chip is always used in 24 hour mode.
//
// The chip stores two year digits, the driver reads them as 2000 to 2099.
//
// # Datasheet
//
// https://datasheets.maximintegrated.com/en/ds/DS1302.pdf
package ds1302
