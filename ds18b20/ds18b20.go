// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds18b20

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/GermanBionicSystems/towersense/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

// familyDS18B20 is the low byte of every DS18B20 ROM code.
const familyDS18B20 = 0x28

// powerOn is the scratchpad temperature before the first conversion.
const powerOn = 85*physic.Celsius + physic.ZeroCelsius

// Function commands.
const (
	cmdSkipROM         = 0xcc
	cmdConvert         = 0x44
	cmdReadScratchpad  = 0xbe
	cmdWriteScratchpad = 0x4e
	cmdCopyScratchpad  = 0x48
)

// ConvertAll performs a conversion on all DS18B20 devices on the bus.
//
// During the conversion it places the bus in strong pull-up mode to power
// parasitic devices and returns when the conversions have completed. This time
// period is determined by the maximum resolution of all devices on the bus and
// must be provided.
//
// ConvertAll uses time.Sleep to wait for the conversion to finish, which takes
// from 94ms to 752ms.
func ConvertAll(o onewire.Bus, maxResolutionBits int) error {
	if err := checkResolution(maxResolutionBits); err != nil {
		return err
	}
	if err := RequestConversion(o); err != nil {
		return err
	}
	conversionSleep(maxResolutionBits)
	return nil
}

// RequestConversion starts a conversion on all DS18B20 devices on the bus
// and returns without waiting for it to finish.
//
// It returns an error matching common.ErrNoDevice when no device answered the
// reset; in that case no conversion was started and the caller must not read.
// Waiting for the conversion (750ms at 12 bits) is the caller's business.
func RequestConversion(o onewire.Bus) error {
	if err := o.Tx([]byte{cmdSkipROM, cmdConvert}, nil, onewire.StrongPullup); err != nil {
		return fmt.Errorf("ds18b20: convert: %w", err)
	}
	return nil
}

// ReadTemperature reads the result of the last conversion from the only
// device on the bus.
//
// The device is addressed with Skip ROM: index is accepted for symmetry with
// multi-drop buses but ignored, exactly one device must be attached. The
// 12-bit raw value is returned as is, including the 85°C power-on value.
func ReadTemperature(o onewire.Bus, index int) (physic.Temperature, error) {
	var spad [9]byte
	if err := o.Tx([]byte{cmdSkipROM, cmdReadScratchpad}, spad[:], onewire.WeakPullup); err != nil {
		return 0, fmt.Errorf("ds18b20: read scratchpad: %w", err)
	}
	if err := checkScratchpad(spad[:]); err != nil {
		return 0, err
	}
	return scratchpadTemperature(spad[:]), nil
}

// ReadCelsius is ReadTemperature in degrees Celsius, returning NaN when
// no valid value could be read.
func ReadCelsius(o onewire.Bus, index int) float64 {
	t, err := ReadTemperature(o, index)
	if err != nil {
		return math.NaN()
	}
	return t.Celsius()
}

// New returns the DS18B20 with ROM code addr on o, for buses where more than
// one device is attached.
//
// resolutionBits is 9 to 12. Each extra bit halves the step, from 0.5°C to
// 0.0625°C, and doubles the conversion time, from 94ms to 752ms. New reads
// the scratchpad and only rewrites the configuration, and copies it to
// EEPROM, when the device holds another resolution.
func New(o onewire.Bus, addr onewire.Address, resolutionBits int) (*Dev, error) {
	if err := checkResolution(resolutionBits); err != nil {
		return nil, err
	}
	if byte(addr) != familyDS18B20 {
		return nil, fmt.Errorf("ds18b20: %#016x is not a DS18B20: %w", uint64(addr), common.ErrInvalidField)
	}
	d := &Dev{onewire: onewire.Dev{Bus: o, Addr: addr}, resolution: resolutionBits}
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}
	if int(spad[4]>>5&3) == resolutionBits-9 {
		return d, nil
	}
	// Keep the alarm thresholds in bytes 2 and 3.
	cfg := byte(resolutionBits-9)<<5 | 0x1f
	if err := d.onewire.Tx([]byte{cmdWriteScratchpad, spad[2], spad[3], cfg}, nil); err != nil {
		return nil, fmt.Errorf("ds18b20: write scratchpad: %w", err)
	}
	if err := d.onewire.TxPower([]byte{cmdCopyScratchpad}, nil); err != nil {
		return nil, fmt.Errorf("ds18b20: copy scratchpad: %w", err)
	}
	// EEPROM write time, datasheet p.20.
	sleep(10 * time.Millisecond)
	return d, nil
}

// Dev is a DS18B20 on a multi-drop bus, addressed with Match ROM.
type Dev struct {
	onewire    onewire.Dev
	resolution int
}

func (d *Dev) String() string {
	return "DS18B20{" + d.onewire.String() + "}"
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Sense implements physic.SenseEnv. It starts a conversion on this device
// only and waits for it.
func (d *Dev) Sense(e *physic.Env) error {
	if err := d.onewire.TxPower([]byte{cmdConvert}, nil); err != nil {
		return fmt.Errorf("ds18b20: convert: %w", err)
	}
	conversionSleep(d.resolution)
	t, err := d.LastTemp()
	if err != nil {
		return err
	}
	e.Temperature = t
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds18b20: not implemented")
}

// Precision implements physic.SenseEnv.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

// LastTemp returns the result of the last conversion, started by Sense or
// ConvertAll.
//
// The power-on value of 85°C is reported as an error: either no conversion
// ran or it browned out, typically a parasite powered device without strong
// pull-up.
func (d *Dev) LastTemp() (physic.Temperature, error) {
	spad, err := d.readScratchpad()
	if err != nil {
		return 0, err
	}
	t := scratchpadTemperature(spad)
	if t == powerOn {
		return 0, busError("ds18b20: no conversion result (insufficient pull-up?)")
	}
	return t, nil
}

func checkResolution(bits int) error {
	if bits < 9 || bits > 12 {
		return fmt.Errorf("ds18b20: resolution %d bits not in 9..12: %w", bits, common.ErrInvalidField)
	}
	return nil
}

// scratchpadTemperature decodes bytes 0 and 1, little endian.
func scratchpadTemperature(spad []byte) physic.Temperature {
	return rawToTemperature(int16(spad[1])<<8 | int16(spad[0]))
}

// rawToTemperature converts a raw value with 4 fractional bits. Datasheet p.4.
func rawToTemperature(raw int16) physic.Temperature {
	v := physic.Temperature(raw)
	return v*physic.Kelvin/16 + physic.ZeroCelsius
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// conversionSleep sleeps for the time a conversion takes, which depends
// on the resolution:
// 9bits:94ms, 10bits:188ms, 11bits:376ms, 12bits:752ms, datasheet p.6.
func conversionSleep(bits int) {
	sleep((94 << uint(bits-9)) * time.Millisecond)
}

// readScratchpad returns the 8 data bytes of the scratchpad once its CRC
// checked.
func (d *Dev) readScratchpad() ([]byte, error) {
	var spad [9]byte
	if err := d.onewire.Tx([]byte{cmdReadScratchpad}, spad[:]); err != nil {
		return nil, fmt.Errorf("ds18b20: read scratchpad: %w", err)
	}
	if err := checkScratchpad(spad[:]); err != nil {
		return nil, err
	}
	return spad[:8], nil
}

// checkScratchpad verifies the CRC in the last byte of a 9 byte scratchpad.
func checkScratchpad(spad []byte) error {
	if onewire.CheckCRC(spad) {
		return nil
	}
	// An idle bus reads as all ones.
	for _, s := range spad {
		if s != 0xff {
			return fmt.Errorf("ds18b20: incorrect scratchpad CRC: %w", common.ErrCorruptFrame)
		}
	}
	return fmt.Errorf("ds18b20: device did not respond: %w", common.ErrNoDevice)
}

var sleep = time.Sleep

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
