// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiregpio implements a Dallas/Maxim 1-wire bus master on a
// single GPIO pin, with standard speed time slots generated in software.
//
// The Dev type implements onewire.Bus so it can be handed to the periph
// 1-wire device drivers. It also exposes the bus primitives (reset and
// presence detection, bit and byte transfers, Skip and Match ROM) directly.
//
// The pin needs an external pull-up resistor, typically 4.7kΩ to 3.3V.
//
// # Datasheet
//
// https://www.analog.com/en/resources/technical-articles/1wire-communication-through-software.html
package onewiregpio
