// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1302

import (
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/towersense/bitbang"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Location is used by Now and Set. The device stores a wall clock
	// without zone. Defaults to time.UTC.
	Location *time.Location
	// Clock performs the microsecond delays. Leave nil for bitbang.Spin.
	Clock bitbang.Clock
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Location: time.UTC,
}

// Timings in microseconds. The device accepts 2MHz at 5V but only 500kHz at
// 2V; the values keep a wide margin.
const (
	tCE   = 4 // CE setup and hold
	tHalf = 2 // half a clock period
)

// New returns a DS1302 on three GPIOs: serial clock, data I/O and chip
// enable (labelled RST on most modules).
//
// New does not talk to the device, call Init for that.
func New(clk, dat, ce gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		clk:   bitbang.Line{Pin: clk, Pull: gpio.Float},
		dat:   bitbang.Line{Pin: dat, Pull: gpio.Float},
		ce:    bitbang.Line{Pin: ce, Pull: gpio.Float},
		clock: opts.Clock,
		loc:   opts.Location,
	}
	if d.clock == nil {
		d.clock = bitbang.Spin
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	return d, nil
}

// Dev is a handle to a DS1302 real time clock.
type Dev struct {
	mu    sync.Mutex
	clk   bitbang.Line
	dat   bitbang.Line
	ce    bitbang.Line
	clock bitbang.Clock
	loc   *time.Location
}

func (d *Dev) String() string {
	return fmt.Sprintf("DS1302{%s, %s, %s}", &d.clk, &d.dat, &d.ce)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Init drives the three lines low, starts the oscillator if it is halted and
// then clears the write protection.
//
// Writes are ignored while write protection is on, so it must be cleared
// before SetTime. On a chip that powered up with both flags set, the clock
// halt write is dropped and the oscillator starts on the next SetTime.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range []*bitbang.Line{&d.clk, &d.ce, &d.dat} {
		if err := l.Drive(gpio.Low); err != nil {
			return fmt.Errorf("ds1302: %w", err)
		}
	}
	sec, err := d.read(RegSeconds)
	if err != nil {
		return err
	}
	if sec&clockHalt != 0 {
		if err := d.write(RegSeconds, sec&^clockHalt); err != nil {
			return err
		}
	}
	ctrl, err := d.read(RegControl)
	if err != nil {
		return err
	}
	if ctrl&writeProtect != 0 {
		if err := d.write(RegControl, ctrl&^writeProtect); err != nil {
			return err
		}
	}
	return nil
}

// ReadRegister returns the raw content of a clock register.
func (d *Dev) ReadRegister(r Register) (byte, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(r)
}

// WriteRegister sets the raw content of a clock register.
func (d *Dev) WriteRegister(r Register, v byte) error {
	if err := r.check(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(r, v)
}

// Time reads the seven time registers.
//
// The clock halt flag is ignored. The year is reconstructed as Century plus
// the stored two digits. Registers that do not hold a valid date, like on a
// clock that was never set, return an error matching common.ErrInvalidField.
func (d *Dev) Time() (CalendarTime, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var regs [RegYear + 1]byte
	for r := RegSeconds; r <= RegYear; r++ {
		v, err := d.read(r)
		if err != nil {
			return CalendarTime{}, err
		}
		regs[r] = v
	}
	regs[RegSeconds] &^= clockHalt

	var dec [RegYear + 1]int
	for r, v := range regs {
		n, err := BCDToDec(v)
		if err != nil {
			return CalendarTime{}, fmt.Errorf("ds1302: %s: %w", Register(r), err)
		}
		dec[r] = n
	}
	c := CalendarTime{
		Second:  dec[RegSeconds],
		Minute:  dec[RegMinutes],
		Hour:    dec[RegHours],
		Day:     dec[RegDate],
		Month:   dec[RegMonth],
		Weekday: dec[RegWeekday],
		Year:    Century + dec[RegYear],
	}
	if err := c.Validate(); err != nil {
		return CalendarTime{}, err
	}
	return c, nil
}

// SetTime writes the seven time registers, seconds first.
//
// The clock halt flag is always cleared so the oscillator keeps running, the
// hours are stored in 24 hour mode and only the last two digits of the year
// are kept. c.Weekday is written as is; FromTime computes it.
func (d *Dev) SetTime(c CalendarTime) error {
	if err := c.Validate(); err != nil {
		return err
	}
	values := [RegYear + 1]int{
		RegSeconds: c.Second,
		RegMinutes: c.Minute,
		RegHours:   c.Hour,
		RegDate:    c.Day,
		RegMonth:   c.Month,
		RegWeekday: c.Weekday,
		RegYear:    c.Year % 100,
	}
	var regs [RegYear + 1]byte
	for r, v := range values {
		b, err := DecToBCD(v)
		if err != nil {
			return err
		}
		regs[r] = b
	}
	regs[RegSeconds] &^= clockHalt

	d.mu.Lock()
	defer d.mu.Unlock()
	for r, v := range regs {
		if err := d.write(Register(r), v); err != nil {
			return err
		}
	}
	return nil
}

// Now returns the current time, accurate to the second, in the configured
// location.
func (d *Dev) Now() (time.Time, error) {
	c, err := d.Time()
	if err != nil {
		return time.Time{}, err
	}
	return c.Time(d.loc), nil
}

// Set sets the clock to t, converted to the configured location. It returns
// an error if the year is outside Century..Century+99.
func (d *Dev) Set(t time.Time) error {
	return d.SetTime(FromTime(t.In(d.loc)))
}

//

// read performs a single register read transaction.
func (d *Dev) read(r Register) (v byte, err error) {
	if err := d.start(); err != nil {
		return 0, err
	}
	defer d.end(&err)
	if err := d.writeByte(byte(r)<<1 | cmdRead); err != nil {
		return 0, err
	}
	return d.readByte()
}

// write performs a single register write transaction.
func (d *Dev) write(r Register, v byte) (err error) {
	if err := d.start(); err != nil {
		return err
	}
	defer d.end(&err)
	if err := d.writeByte(byte(r)<<1 | cmdWrite); err != nil {
		return err
	}
	return d.writeByte(v)
}

// end lowers CE after a started transaction, even a failed one: the chip only
// accepts a new command after a rising CE edge. The first error wins.
func (d *Dev) end(err *error) {
	if serr := d.stop(); *err == nil {
		*err = serr
	}
}

func (d *Dev) start() error {
	if err := d.ce.Drive(gpio.High); err != nil {
		return fmt.Errorf("ds1302: %w", err)
	}
	d.clock.Delay(tCE)
	return nil
}

func (d *Dev) stop() error {
	if err := d.ce.Drive(gpio.Low); err != nil {
		return fmt.Errorf("ds1302: %w", err)
	}
	d.clock.Delay(tCE)
	return nil
}

// writeByte shifts v out least significant bit first. The device samples the
// data line on the rising clock edge.
func (d *Dev) writeByte(v byte) error {
	for i := range 8 {
		if err := d.dat.Drive(gpio.Level(v>>i&1 != 0)); err != nil {
			return fmt.Errorf("ds1302: %w", err)
		}
		if err := d.pulse(); err != nil {
			return err
		}
	}
	return nil
}

// readByte shifts a byte in least significant bit first. The device presents
// each bit after a falling clock edge.
func (d *Dev) readByte() (byte, error) {
	if err := d.dat.Release(); err != nil {
		return 0, fmt.Errorf("ds1302: %w", err)
	}
	var v byte
	for i := range 8 {
		if d.dat.Sample() == gpio.High {
			v |= 1 << i
		}
		if err := d.pulse(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// pulse generates one clock period.
func (d *Dev) pulse() error {
	d.clock.Delay(tHalf)
	if err := d.clk.Drive(gpio.High); err != nil {
		return fmt.Errorf("ds1302: %w", err)
	}
	d.clock.Delay(tHalf)
	if err := d.clk.Drive(gpio.Low); err != nil {
		return fmt.Errorf("ds1302: %w", err)
	}
	return nil
}

var _ conn.Resource = &Dev{}
