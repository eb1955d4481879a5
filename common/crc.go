// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the checksums used by the sensors and the errors they report.
//
// The 1-wire CRC is onewire.CalcCRC from periph.
package common

// Sum8 returns the sum of the bytes modulo 256, the checksum used by the
// AOSONG single-wire sensors.
func Sum8(bytes []byte) byte {
	var sum byte
	for _, val := range bytes {
		sum += val
	}
	return sum
}
