// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ds1302

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/towersense/bitbang/bitbangtest"
	"github.com/GermanBionicSystems/towersense/common"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// write is a register write seen by the chip.
type write struct {
	reg     Register
	v       byte
	ignored bool
}

// chip simulates the DS1302 shift register on three pins.
type chip struct {
	regs  [8]byte
	clock *bitbangtest.Clock
	clk   *bitbangtest.Pin
	dat   *bitbangtest.Pin
	ce    *bitbangtest.Pin

	selected bool
	rising   int
	falling  int
	cmd      byte
	data     byte
	out      byte
	writes   []write
}

func newChip() *chip {
	c := &chip{clock: &bitbangtest.Clock{}}
	c.clk = &bitbangtest.Pin{Pin: gpiotest.Pin{N: "GPIO12", Num: 12}, Clock: c.clock}
	c.dat = &bitbangtest.Pin{Pin: gpiotest.Pin{N: "GPIO14", Num: 14}, Clock: c.clock}
	c.ce = &bitbangtest.Pin{Pin: gpiotest.Pin{N: "GPIO27", Num: 27}, Clock: c.clock}
	c.ce.OnOut = func(l gpio.Level) {
		c.selected = l == gpio.High
		c.rising, c.falling, c.cmd, c.data = 0, 0, 0, 0
	}
	c.clk.OnOut = func(l gpio.Level) {
		if !c.selected {
			return
		}
		if l == gpio.High {
			c.rise()
		} else {
			c.falling++
		}
	}
	c.dat.Level = func() gpio.Level {
		if !c.selected || c.rising < 8 || c.cmd&1 == 0 {
			return gpio.Low
		}
		i := c.falling - 8
		if i < 0 || i > 7 {
			return gpio.Low
		}
		return gpio.Level(c.out>>i&1 != 0)
	}
	return c
}

func (c *chip) reg() (Register, bool) {
	r := Register(c.cmd >> 1 & 0x1f)
	return r, c.cmd&0xc0 == 0x80 && r <= RegControl
}

// rise samples the data line on a rising clock edge.
func (c *chip) rise() {
	bit := c.dat.Output && c.dat.Read() == gpio.High
	switch {
	case c.rising < 8:
		if bit {
			c.cmd |= 1 << c.rising
		}
		if c.rising == 7 && c.cmd&1 != 0 {
			c.out = 0xff
			if r, ok := c.reg(); ok {
				c.out = c.regs[r]
			}
		}
	case c.rising < 16 && c.cmd&1 == 0:
		if bit {
			c.data |= 1 << (c.rising - 8)
		}
		if c.rising == 15 {
			c.commit()
		}
	}
	c.rising++
}

func (c *chip) commit() {
	r, ok := c.reg()
	if !ok {
		return
	}
	w := write{reg: r, v: c.data, ignored: c.regs[RegControl]&writeProtect != 0 && r != RegControl}
	if !w.ignored {
		c.regs[r] = c.data
	}
	c.writes = append(c.writes, w)
}

func (c *chip) dev(t *testing.T, loc *time.Location) *Dev {
	d, err := New(c.clk, c.dat, c.ce, &Opts{Clock: c.clock, Location: loc})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// leapDay is Thursday 2024-02-29 13:05:09 in registers.
var leapDay = [8]byte{0x09, 0x05, 0x13, 0x29, 0x02, 0x04, 0x24, 0x00}

func TestBCD(t *testing.T) {
	for v := range 100 {
		b, err := DecToBCD(v)
		if err != nil {
			t.Fatal(err)
		}
		if b>>4 != byte(v/10) || b&0xf != byte(v%10) {
			t.Fatalf("%d: got %#02x", v, b)
		}
		got, err := BCDToDec(b)
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("%d: round trip got %d", v, got)
		}
	}
	for _, v := range []int{-1, 100, 255} {
		if _, err := DecToBCD(v); !errors.Is(err, common.ErrInvalidField) {
			t.Errorf("%d: unexpected error %v", v, err)
		}
	}
	for _, b := range []byte{0x0a, 0x1f, 0xa0, 0xff} {
		if _, err := BCDToDec(b); !errors.Is(err, common.ErrInvalidField) {
			t.Errorf("%#02x: unexpected error %v", b, err)
		}
	}
}

func TestDayOfWeek(t *testing.T) {
	var data = []struct {
		year, month, day int
		expected         int
	}{
		{2024, 1, 1, 1},
		{2000, 3, 1, 3},
		{2024, 2, 29, 4},
		{2026, 10, 19, 1},
		{2000, 1, 1, 6},
		{2099, 12, 31, 4},
		{2023, 12, 31, 7},
	}
	for _, line := range data {
		if got := DayOfWeek(line.year, line.month, line.day); got != line.expected {
			t.Errorf("%d-%d-%d: expected %d, got %d", line.year, line.month, line.day, line.expected, got)
		}
	}
}

func TestDayOfWeek_century(t *testing.T) {
	end := time.Date(Century+100, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := time.Date(Century, 1, 1, 0, 0, 0, 0, time.UTC); d.Before(end); d = d.AddDate(0, 0, 1) {
		expected := int(d.Weekday())
		if expected == 0 {
			expected = 7
		}
		if got := DayOfWeek(d.Year(), int(d.Month()), d.Day()); got != expected {
			t.Fatalf("%s: expected %d, got %d", d.Format(time.DateOnly), expected, got)
		}
	}
}

func TestCalendarTime_Validate(t *testing.T) {
	ok := CalendarTime{Second: 9, Minute: 5, Hour: 13, Day: 29, Month: 2, Year: 2024, Weekday: 4}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	var data = []func(c *CalendarTime){
		func(c *CalendarTime) { c.Second = 60 },
		func(c *CalendarTime) { c.Minute = -1 },
		func(c *CalendarTime) { c.Hour = 24 },
		func(c *CalendarTime) { c.Day = 0 },
		func(c *CalendarTime) { c.Day = 30 },
		func(c *CalendarTime) { c.Year = 2023 },
		func(c *CalendarTime) { c.Month = 13 },
		func(c *CalendarTime) { c.Year = 1999 },
		func(c *CalendarTime) { c.Year = 2100 },
		func(c *CalendarTime) { c.Weekday = 0 },
		func(c *CalendarTime) { c.Weekday = 8 },
	}
	for i, f := range data {
		c := ok
		f(&c)
		if err := c.Validate(); !errors.Is(err, common.ErrInvalidField) {
			t.Errorf("#%d %s: unexpected error %v", i, c, err)
		}
	}
}

func TestCalendarTime_String(t *testing.T) {
	c := CalendarTime{Second: 9, Minute: 5, Hour: 13, Day: 29, Month: 2, Year: 2024, Weekday: 4}
	if s := c.String(); s != "2024-02-29 13:05:09 (Thu)" {
		t.Fatal(s)
	}
	c.Weekday = 7
	if s := c.String(); s != "2024-02-29 13:05:09 (Sun)" {
		t.Fatal(s)
	}
}

func TestFromTime(t *testing.T) {
	c := FromTime(time.Date(2026, 10, 19, 8, 30, 15, 999, time.UTC))
	expected := CalendarTime{Second: 15, Minute: 30, Hour: 8, Day: 19, Month: 10, Year: 2026, Weekday: 1}
	if c != expected {
		t.Fatalf("expected %s, got %s", expected, c)
	}
}

func TestFraming(t *testing.T) {
	c := newChip()
	c.regs[RegControl] = 0x80
	d := c.dev(t, nil)
	v, err := d.ReadRegister(RegControl)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x80 {
		t.Fatalf("unexpected %#02x", v)
	}

	// Chip enable frames the transaction with 4µs setup and hold.
	if e := c.ce.Edges; len(e) != 2 || e[0].L != gpio.High || e[0].T != 0 || e[1].L != gpio.Low || e[1].T != 68 {
		t.Fatalf("unexpected chip enable %#v", e)
	}
	if c.clock.Now != 72 {
		t.Fatalf("unexpected duration %d", c.clock.Now)
	}
	// First rising edge after setup and half a period.
	var rising []int64
	for _, e := range c.clk.Edges {
		if e.L == gpio.High {
			rising = append(rising, e.T)
		}
	}
	if len(rising) != 16 || rising[0] != 6 || rising[1] != 10 {
		t.Fatalf("unexpected clock %v", rising)
	}
	// Read command 0x8f, least significant bit first, then released.
	e := c.dat.Edges
	if len(e) != 9 {
		t.Fatalf("unexpected data edges %#v", e)
	}
	for i := range 8 {
		expected := gpio.Level(0x8f>>i&1 != 0)
		if !e[i].Out || e[i].L != expected {
			t.Fatalf("bit %d: unexpected %#v", i, e[i])
		}
	}
	if e[8].Out || e[8].T != 36 {
		t.Fatalf("unexpected release %#v", e[8])
	}
}

func TestRegister(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	if err := d.WriteRegister(RegMinutes, 0x42); err != nil {
		t.Fatal(err)
	}
	if c.regs[RegMinutes] != 0x42 {
		t.Fatalf("unexpected %#v", c.regs)
	}
	if len(c.writes) != 1 || c.writes[0] != (write{reg: RegMinutes, v: 0x42}) {
		t.Fatalf("unexpected %#v", c.writes)
	}
	v, err := d.ReadRegister(RegMinutes)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x42 {
		t.Fatalf("unexpected %#02x", v)
	}

	if _, err := d.ReadRegister(8); !errors.Is(err, common.ErrInvalidField) {
		t.Fatalf("unexpected error %v", err)
	}
	if err := d.WriteRegister(8, 0); !errors.Is(err, common.ErrInvalidField) {
		t.Fatalf("unexpected error %v", err)
	}
	if s := Register(8).String(); s != "Register(8)" {
		t.Fatal(s)
	}
}

func TestInit(t *testing.T) {
	var data = []struct {
		name          string
		seconds, ctrl byte
		expected      []write
		secondsAfter  byte
	}{
		{"running", 0x30, 0x00, nil, 0x30},
		{"halted", 0xb0, 0x00, []write{{RegSeconds, 0x30, false}}, 0x30},
		{"protected", 0x30, 0x80, []write{{RegControl, 0x00, false}}, 0x30},
		// The clock halt write is ignored by a protected chip.
		{"both", 0xb0, 0x80, []write{{RegSeconds, 0x30, true}, {RegControl, 0x00, false}}, 0xb0},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			c := newChip()
			c.regs[RegSeconds] = line.seconds
			c.regs[RegControl] = line.ctrl
			d := c.dev(t, nil)
			if err := d.Init(); err != nil {
				t.Fatal(err)
			}
			if len(c.writes) != len(line.expected) {
				t.Fatalf("unexpected writes %#v", c.writes)
			}
			for i := range c.writes {
				if c.writes[i] != line.expected[i] {
					t.Fatalf("unexpected writes %#v", c.writes)
				}
			}
			if c.regs[RegSeconds] != line.secondsAfter {
				t.Fatalf("unexpected seconds %#02x", c.regs[RegSeconds])
			}
			if c.regs[RegControl]&writeProtect != 0 {
				t.Fatal("write protect still set")
			}
			// All three lines start driven low.
			for _, p := range []*bitbangtest.Pin{c.clk, c.ce, c.dat} {
				if e := p.Edges[0]; !e.Out || e.L != gpio.Low || e.T != 0 {
					t.Fatalf("%s: unexpected %#v", p, e)
				}
			}
		})
	}
}

func TestInit_thenSetTime(t *testing.T) {
	c := newChip()
	c.regs[RegSeconds] = 0x80
	c.regs[RegControl] = 0x80
	d := c.dev(t, nil)
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(time.Date(2026, 10, 19, 8, 30, 15, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if c.regs[RegSeconds] != 0x15 {
		t.Fatalf("oscillator still halted: %#02x", c.regs[RegSeconds])
	}
}

func TestInit_pinError(t *testing.T) {
	c := newChip()
	c.dat.Err = errors.New("gone")
	d := c.dev(t, nil)
	if err := d.Init(); !errors.Is(err, c.dat.Err) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTime(t *testing.T) {
	c := newChip()
	c.regs = leapDay
	// Clock halt is not part of the seconds.
	c.regs[RegSeconds] |= clockHalt
	d := c.dev(t, nil)
	got, err := d.Time()
	if err != nil {
		t.Fatal(err)
	}
	expected := CalendarTime{Second: 9, Minute: 5, Hour: 13, Day: 29, Month: 2, Year: 2024, Weekday: 4}
	if got != expected {
		t.Fatalf("expected %s, got %s", expected, got)
	}
	if len(c.writes) != 0 {
		t.Fatalf("unexpected writes %#v", c.writes)
	}
}

func TestTime_invalid(t *testing.T) {
	var data = []struct {
		name string
		reg  Register
		v    byte
	}{
		{"not BCD", RegMinutes, 0x6a},
		{"minutes", RegMinutes, 0x60},
		{"12 hour mode", RegHours, 0x81},
		{"day past month end", RegDate, 0x30},
		{"month", RegMonth, 0x00},
		{"weekday", RegWeekday, 0x00},
	}
	for _, line := range data {
		c := newChip()
		c.regs = leapDay
		c.regs[line.reg] = line.v
		d := c.dev(t, nil)
		if _, err := d.Time(); !errors.Is(err, common.ErrInvalidField) {
			t.Errorf("%s: unexpected error %v", line.name, err)
		}
	}
}

func TestTime_neverSet(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	if _, err := d.Now(); !errors.Is(err, common.ErrInvalidField) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSetTime(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	ct := CalendarTime{Second: 59, Minute: 59, Hour: 23, Day: 31, Month: 12, Year: 2099, Weekday: 4}
	if err := d.SetTime(ct); err != nil {
		t.Fatal(err)
	}
	expected := [8]byte{0x59, 0x59, 0x23, 0x31, 0x12, 0x04, 0x99, 0x00}
	if c.regs != expected {
		t.Fatalf("expected %#v, got %#v", expected, c.regs)
	}
	if len(c.writes) != 7 {
		t.Fatalf("unexpected writes %#v", c.writes)
	}
	for i, w := range c.writes {
		if w.reg != Register(i) {
			t.Fatalf("write %d to %s", i, w.reg)
		}
	}
	got, err := d.Time()
	if err != nil {
		t.Fatal(err)
	}
	if got != ct {
		t.Fatalf("expected %s, got %s", ct, got)
	}
}

func TestSetTime_invalid(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	ct := CalendarTime{Second: 0, Minute: 0, Hour: 24, Day: 1, Month: 1, Year: 2025, Weekday: 3}
	if err := d.SetTime(ct); !errors.Is(err, common.ErrInvalidField) {
		t.Fatalf("unexpected error %v", err)
	}
	if len(c.ce.Edges) != 0 {
		t.Fatal("nothing must be written")
	}
}

func TestSetTime_writeProtected(t *testing.T) {
	c := newChip()
	c.regs = leapDay
	c.regs[RegControl] = writeProtect
	d := c.dev(t, nil)
	if err := d.SetTime(CalendarTime{Day: 1, Month: 1, Year: 2025, Weekday: 3}); err != nil {
		t.Fatal(err)
	}
	if c.regs[RegYear] != 0x24 {
		t.Fatal("a protected chip ignores writes")
	}
}

func TestNowSet(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	now := time.Date(2026, 10, 19, 8, 30, 15, 0, time.UTC)
	if err := d.Set(now); err != nil {
		t.Fatal(err)
	}
	if c.regs[RegWeekday] != 1 {
		t.Fatalf("unexpected weekday %#02x", c.regs[RegWeekday])
	}
	got, err := d.Now()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Fatalf("expected %s, got %s", now, got)
	}
}

func TestNowSet_location(t *testing.T) {
	c := newChip()
	d := c.dev(t, time.FixedZone("CET", 3600))
	now := time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)
	if err := d.Set(now); err != nil {
		t.Fatal(err)
	}
	// Stored as local wall time, on the next day.
	if c.regs[RegDate] != 0x20 || c.regs[RegHours] != 0x00 || c.regs[RegWeekday] != 2 {
		t.Fatalf("unexpected %#v", c.regs)
	}
	got, err := d.Now()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Fatalf("expected %s, got %s", now, got)
	}
}

func TestSet_outOfRange(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	for _, y := range []int{1999, 2100} {
		if err := d.Set(time.Date(y, 6, 1, 0, 0, 0, 0, time.UTC)); !errors.Is(err, common.ErrInvalidField) {
			t.Errorf("%d: unexpected error %v", y, err)
		}
	}
}

func TestString(t *testing.T) {
	c := newChip()
	d := c.dev(t, nil)
	if s := d.String(); s != "DS1302{GPIO12(12), GPIO14(14), GPIO27(27)}" {
		t.Fatal(s)
	}
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
}

func TestTransaction_pinErrorReleasesCE(t *testing.T) {
	glitch := errors.New("glitch")
	var data = []struct {
		name string
		pin  func(c *chip) *bitbangtest.Pin
		op   func(d *Dev) error
	}{
		{"read data", func(c *chip) *bitbangtest.Pin { return c.dat }, func(d *Dev) error {
			_, err := d.ReadRegister(RegSeconds)
			return err
		}},
		{"write clock", func(c *chip) *bitbangtest.Pin { return c.clk }, func(d *Dev) error {
			return d.WriteRegister(RegMinutes, 0x42)
		}},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			c := newChip()
			c.regs[RegSeconds] = 0x17
			p := line.pin(c)
			// Fail the first transfer once CE is asserted.
			once := true
			chipEnable := c.ce.OnOut
			c.ce.OnOut = func(l gpio.Level) {
				chipEnable(l)
				if l == gpio.High && once {
					p.Err = glitch
					once = false
				}
			}
			d := c.dev(t, nil)
			if err := line.op(d); !errors.Is(err, glitch) {
				t.Fatalf("unexpected error %v", err)
			}
			if e := c.ce.Edges[len(c.ce.Edges)-1]; !e.Out || e.L != gpio.Low {
				t.Fatalf("chip enable left %#v", e)
			}
			if c.selected || len(c.writes) != 0 {
				t.Fatalf("unexpected chip state selected=%t writes=%#v", c.selected, c.writes)
			}

			// The next transaction starts on a fresh CE edge.
			p.Err = nil
			v, err := d.ReadRegister(RegSeconds)
			if err != nil {
				t.Fatal(err)
			}
			if v != 0x17 {
				t.Fatalf("unexpected %#02x", v)
			}
		})
	}
}
