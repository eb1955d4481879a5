// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package onewiregpio

import (
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/towersense/bitbang"
	"github.com/GermanBionicSystems/towersense/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Pull is applied when the line is released. The bus needs a pull-up,
	// usually an external 4.7kΩ resistor, in which case use gpio.Float.
	Pull gpio.Pull
	// Clock performs the microsecond delays. Leave nil for bitbang.Spin.
	Clock bitbang.Clock
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull: gpio.Float,
}

// Slot timings in microseconds, standard speed.
const (
	tResetLow      = 480 // reset pulse
	tPresenceWait  = 70  // release to presence sample
	tResetRecovery = 410 // presence sample to end of reset
	tWrite1Low     = 10
	tWrite1Release = 55
	tWrite0Low     = 65
	tWrite0Release = 5
	tReadLow       = 3
	tReadSample    = 10 // release to sample point
	tReadRecovery  = 53
)

// ROM commands.
const (
	cmdSkipROM  = 0xcc
	cmdMatchROM = 0x55
)

// New returns a 1-wire bus master that bit-bangs the protocol on pin.
//
// The pin is released (switched to input) before returning.
func New(pin gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{line: bitbang.Line{Pin: pin, Pull: opts.Pull}, clock: opts.Clock}
	if d.clock == nil {
		d.clock = bitbang.Spin
	}
	if err := d.line.Release(); err != nil {
		return nil, fmt.Errorf("onewiregpio: %w", err)
	}
	return d, nil
}

// Dev is a 1-wire bus master on a single GPIO and it implements the
// onewire.Bus interface.
//
// Only one device is expected on the bus: drivers address it with Skip.
// Select and Search are provided for completeness.
type Dev struct {
	sync.Mutex              // lock for the bus while a transaction is in progress
	line       bitbang.Line // data line
	clock      bitbang.Clock
}

func (d *Dev) String() string {
	return fmt.Sprintf("OneWireGPIO{%s}", &d.line)
}

// Halt implements conn.Resource.
//
// It releases the line, ending a strong pull-up.
func (d *Dev) Halt() error {
	d.Lock()
	defer d.Unlock()
	return d.line.Release()
}

// Tx performs a bus transaction, sending and receiving bytes, and ending by
// pulling the bus high either weakly or strongly depending on the value of
// power.
//
// A strong pull-up is typically required to power temperature conversion or
// EEPROM writes. The line stays driven high until the next reset or Halt.
func (d *Dev) Tx(w, r []byte, power onewire.Pullup) error {
	d.Lock()
	defer d.Unlock()

	// Issue 1-wire bus reset.
	if present, err := d.reset(); err != nil {
		return err
	} else if !present {
		return fmt.Errorf("onewiregpio: %w", common.ErrNoDevice)
	}
	for _, b := range w {
		if err := d.writeByte(b); err != nil {
			return err
		}
	}
	for i := range r {
		var err error
		if r[i], err = d.readByte(); err != nil {
			return err
		}
	}
	if power == onewire.StrongPullup {
		return d.line.Drive(gpio.High)
	}
	return nil
}

// Search performs a "search" cycle on the 1-wire bus and returns the addresses
// of all devices on the bus if alarmOnly is false and of all devices in alarm
// state if alarmOnly is true.
//
// If an error occurs during the search the already-discovered devices are
// returned with the error.
func (d *Dev) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(d, alarmOnly)
}

// SearchTriplet performs a single bit search triplet command on the bus and
// returns the outcome: two read slots for the bit and its complement, then a
// write slot with the chosen direction.
//
// SearchTriplet should not be used directly, use Search instead.
func (d *Dev) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	d.Lock()
	defer d.Unlock()
	b, err := d.readBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	c, err := d.readBit()
	if err != nil {
		return onewire.TripletResult{}, err
	}
	tr := onewire.TripletResult{GotZero: b == 0, GotOne: c == 0}
	switch {
	case tr.GotZero && tr.GotOne:
		if direction != 0 {
			tr.Taken = 1
		}
	case tr.GotOne:
		tr.Taken = 1
	case !tr.GotZero:
		// Nobody answered; keep the line idle with a 1 slot.
		tr.Taken = 1
	}
	return tr, d.writeBit(tr.Taken)
}

// Reset issues a reset pulse and returns true if a device answered with a
// presence pulse.
//
// The absence of a device is not an error; the error is only set when the
// pin could not be operated.
func (d *Dev) Reset() (bool, error) {
	d.Lock()
	defer d.Unlock()
	return d.reset()
}

// WriteBit writes the lowest bit of b in one time slot.
func (d *Dev) WriteBit(b byte) error {
	d.Lock()
	defer d.Unlock()
	return d.writeBit(b & 1)
}

// ReadBit reads a bit in one time slot.
func (d *Dev) ReadBit() (byte, error) {
	d.Lock()
	defer d.Unlock()
	return d.readBit()
}

// WriteByte writes b, least significant bit first.
func (d *Dev) WriteByte(b byte) error {
	d.Lock()
	defer d.Unlock()
	return d.writeByte(b)
}

// ReadByte reads a byte, least significant bit first.
func (d *Dev) ReadByte() (byte, error) {
	d.Lock()
	defer d.Unlock()
	return d.readByte()
}

// Skip writes the Skip ROM command, addressing every device on the bus.
func (d *Dev) Skip() error {
	d.Lock()
	defer d.Unlock()
	return d.writeByte(cmdSkipROM)
}

// Select writes the Match ROM command followed by the 64-bit address, least
// significant byte (the family code) first.
func (d *Dev) Select(addr onewire.Address) error {
	d.Lock()
	defer d.Unlock()
	if err := d.writeByte(cmdMatchROM); err != nil {
		return err
	}
	for i := range 8 {
		if err := d.writeByte(byte(addr >> (8 * i))); err != nil {
			return err
		}
	}
	return nil
}

//

func (d *Dev) reset() (bool, error) {
	if err := d.line.Drive(gpio.Low); err != nil {
		return false, err
	}
	d.clock.Delay(tResetLow)
	if err := d.line.Release(); err != nil {
		return false, err
	}
	d.clock.Delay(tPresenceWait)
	present := d.line.Sample() == gpio.Low
	d.clock.Delay(tResetRecovery)
	return present, nil
}

func (d *Dev) writeBit(b byte) error {
	low, release := tWrite0Low, tWrite0Release
	if b != 0 {
		low, release = tWrite1Low, tWrite1Release
	}
	if err := d.line.Drive(gpio.Low); err != nil {
		return err
	}
	d.clock.Delay(low)
	if err := d.line.Release(); err != nil {
		return err
	}
	d.clock.Delay(release)
	return nil
}

func (d *Dev) readBit() (byte, error) {
	if err := d.line.Drive(gpio.Low); err != nil {
		return 0, err
	}
	d.clock.Delay(tReadLow)
	if err := d.line.Release(); err != nil {
		return 0, err
	}
	d.clock.Delay(tReadSample)
	var b byte
	if d.line.Sample() == gpio.High {
		b = 1
	}
	d.clock.Delay(tReadRecovery)
	return b, nil
}

func (d *Dev) writeByte(v byte) error {
	for i := range 8 {
		if err := d.writeBit((v >> i) & 1); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) readByte() (byte, error) {
	var v byte
	for i := range 8 {
		b, err := d.readBit()
		if err != nil {
			return 0, err
		}
		v |= b << i
	}
	return v, nil
}

var _ conn.Resource = &Dev{}
var _ onewire.Bus = &Dev{}
