// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"testing"

	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/onewire"
)

// The 1-wire CRC comes from periph; these vectors pin it to CRC-8/MAXIM so
// the scratchpad checks in ds18b20 and the simulated devices agree.
func TestOneWireCRC(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		// DS18B20 power-on scratchpad (85°C).
		{bytes: []byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}, result: 0x1c},
		// Maxim application note 27 ROM example.
		{bytes: []byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00}, result: 0xa2},
		{bytes: []byte{0xe0, 0x01, 0x00, 0x00, 0x3f, 0xff, 0x10, 0x10}, result: 0x3f},
		{bytes: nil, result: 0x00},
	}
	table := crc8.MakeTable(crc8.CRC8_MAXIM)
	for _, test := range tests {
		res := onewire.CalcCRC(test.bytes)
		if res != test.result {
			t.Errorf("CalcCRC(%#v)!=0x%02x received 0x%02x", test.bytes, test.result, res)
		}
		if ref := crc8.Checksum(test.bytes, table); ref != res {
			t.Errorf("CalcCRC(%#v)=0x%02x but CRC-8/MAXIM reference gives 0x%02x", test.bytes, res, ref)
		}
		if !onewire.CheckCRC(append(append([]byte{}, test.bytes...), res)) {
			t.Errorf("onewire.CheckCRC rejects %#v + 0x%02x", test.bytes, res)
		}
	}
}

func TestOneWireCRC_singleBitFlip(t *testing.T) {
	frame := []byte{0x50, 0x05, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10, 0x1c}
	for i := range len(frame) * 8 {
		corrupt := append([]byte{}, frame...)
		corrupt[i/8] ^= 1 << (i % 8)
		if onewire.CheckCRC(corrupt) {
			t.Errorf("flipping bit %d went undetected", i)
		}
	}
}

func TestSum8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		{bytes: []byte{0x02, 0x8c, 0x01, 0x05}, result: 0x94},
		{bytes: []byte{0xff, 0xff, 0x02}, result: 0x00},
		{bytes: nil, result: 0x00},
	}
	for _, test := range tests {
		if res := Sum8(test.bytes); res != test.result {
			t.Errorf("Sum8(%#v)!=0x%02x received 0x%02x", test.bytes, test.result, res)
		}
	}
}
