// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package towersense is a container for the sensor drivers of a hydroponic
// tower controller.
//
// Every protocol is generated in software on GPIO pins through package
// bitbang:
//
//   - onewiregpio is a Dallas 1-wire bus master implementing onewire.Bus.
//   - ds18b20 reads the water thermometer on that bus.
//   - dht22 reads air temperature and humidity over the AOSONG single-wire
//     protocol.
//   - ds1302 keeps the calendar time over a three-wire serial interface.
//
// Package common holds the checksums and the errors the drivers share, and
// cmd/towersense is a command line tool reading all of them.
package towersense
