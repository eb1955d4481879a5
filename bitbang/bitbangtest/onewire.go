// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bitbangtest

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// OneWireDevice simulates a 1-wire slave attached to a Pin.
//
// It decodes the host's time slots from the width of the low pulses it
// drives, answers resets with a presence pulse, handles the Skip ROM, Match
// ROM, Read ROM and Search ROM commands and hands function commands to
// Function.
type OneWireDevice struct {
	// Present makes the device answer resets.
	Present bool
	// Addr is the device ROM code.
	Addr onewire.Address
	// Function is called for every byte written after the device was
	// addressed. The returned bytes are sent in the following read slots.
	Function func(b byte) []byte

	// Received is every complete byte written by the host since Attach.
	Received []byte
	// Resets counts the reset pulses seen.
	Resets int

	clock    *Clock
	low      bool  // host is driving the line low
	lowStart int64 // start of the host's low pulse
	holdFrom int64 // device pulls the line low in [holdFrom, holdTo)
	holdTo   int64

	state  int
	cur    byte
	nbits  int
	tx     []byte
	txBit  int
	match  []byte
	search struct {
		bit   int
		phase int
	}
}

const (
	owIdle = iota
	owROM
	owMatch
	owSearch
	owFunction
)

// Attach wires the device to p, overriding its callbacks.
func (o *OneWireDevice) Attach(p *Pin, c *Clock) {
	o.clock = c
	o.holdFrom, o.holdTo = -1, -1
	p.Clock = c
	p.OnOut = func(l gpio.Level) {
		if l == gpio.Low {
			if !o.low {
				o.low = true
				o.lowStart = c.Now
			}
			return
		}
		o.endPulse()
	}
	p.OnIn = o.endPulse
	p.Level = func() gpio.Level {
		if c.Now >= o.holdFrom && c.Now < o.holdTo {
			return gpio.Low
		}
		return gpio.High
	}
}

func (o *OneWireDevice) endPulse() {
	if !o.low {
		return
	}
	o.low = false
	width := o.clock.Now - o.lowStart
	switch {
	case width >= 480:
		o.Resets++
		o.state, o.cur, o.nbits, o.tx, o.txBit = owROM, 0, 0, nil, 0
		if o.Present {
			o.holdFrom, o.holdTo = o.clock.Now+15, o.clock.Now+135
		}
	case o.state == owSearch:
		o.searchSlot(width < 15)
	case len(o.tx) != 0:
		o.sendBit(o.tx[o.txBit/8]>>(o.txBit%8)&1 != 0)
		o.txBit++
		if o.txBit == 8*len(o.tx) {
			o.tx, o.txBit = nil, 0
		}
	default:
		if width < 15 {
			o.cur |= 1 << o.nbits
		}
		o.nbits++
		if o.nbits == 8 {
			b := o.cur
			o.cur, o.nbits = 0, 0
			o.Received = append(o.Received, b)
			o.byteReceived(b)
		}
	}
}

// sendBit answers a read slot.
func (o *OneWireDevice) sendBit(one bool) {
	if !one {
		o.holdFrom, o.holdTo = o.lowStart, o.lowStart+30
	}
}

func (o *OneWireDevice) byteReceived(b byte) {
	switch o.state {
	case owROM:
		switch b {
		case 0xcc:
			o.state = owFunction
		case 0x55:
			o.state, o.match = owMatch, nil
		case 0x33:
			o.state = owFunction
			o.tx = o.addrBytes()
		case 0xf0:
			o.state = owSearch
			o.search.bit, o.search.phase = 0, 0
		default:
			o.state = owIdle
		}
	case owMatch:
		o.match = append(o.match, b)
		if len(o.match) == 8 {
			o.state = owIdle
			if string(o.match) == string(o.addrBytes()) {
				o.state = owFunction
			}
		}
	case owFunction:
		if o.Function != nil {
			o.tx, o.txBit = o.Function(b), 0
		}
	}
}

func (o *OneWireDevice) searchSlot(one bool) {
	bit := uint64(o.Addr)>>o.search.bit&1 != 0
	switch o.search.phase {
	case 0:
		o.sendBit(bit)
	case 1:
		o.sendBit(!bit)
	case 2:
		if one != bit {
			o.state = owIdle
			return
		}
		o.search.bit++
		if o.search.bit == 64 {
			o.state = owIdle
			return
		}
	}
	o.search.phase = (o.search.phase + 1) % 3
}

func (o *OneWireDevice) addrBytes() []byte {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(o.Addr >> (8 * i))
	}
	return b
}
