// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbangtest is meant to be used to test drivers built on package
// bitbang.
//
// Clock is a virtual microsecond clock: Delay returns immediately and
// advances time, so a simulated device can compute what the line looks like
// at any instant of a protocol exchange.
package bitbangtest

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Clock implements bitbang.Clock on virtual time.
type Clock struct {
	// Now is the current time in microseconds.
	Now int64
	// Total accumulates every delay, including ones made before a test moved
	// Now.
	Total int64
}

// Delay advances the virtual time by us microseconds.
func (c *Clock) Delay(us int) {
	if us < 0 {
		return
	}
	c.Now += int64(us)
	c.Total += int64(us)
}

// Edge is a direction or level change performed by the host on a Pin.
type Edge struct {
	T   int64      // virtual time of the change
	Out bool       // true if the pin was driven, false if released to input
	L   gpio.Level // level driven, only meaningful if Out is true
}

// Pin is a gpiotest.Pin with a scriptable input level.
//
// While the host drives the pin, Read returns the driven level. Once it is
// released, Read returns Level() or High (idle pull-up) if Level is nil.
type Pin struct {
	gpiotest.Pin

	// Clock timestamps the recorded edges, it may be nil.
	Clock *Clock
	// Level returns the level of the released line.
	Level func() gpio.Level
	// OnOut is called after the host drove the pin.
	OnOut func(l gpio.Level)
	// OnIn is called after the host released the pin.
	OnIn func()
	// Err is returned by In and Out when set.
	Err error

	// Edges is the history of the host's actions on the pin.
	Edges []Edge
	// Output is true while the host drives the pin.
	Output bool
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	if p.Err != nil {
		return p.Err
	}
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.Output = true
	p.Edges = append(p.Edges, Edge{T: p.now(), Out: true, L: l})
	if p.OnOut != nil {
		p.OnOut(l)
	}
	return nil
}

// In implements gpio.PinIn.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if p.Err != nil {
		return p.Err
	}
	if edge != gpio.NoEdge {
		return errors.New("bitbangtest: edge detection is not supported")
	}
	p.Output = false
	p.Edges = append(p.Edges, Edge{T: p.now()})
	if p.OnIn != nil {
		p.OnIn()
	}
	return nil
}

// Read implements gpio.PinIn.
func (p *Pin) Read() gpio.Level {
	if p.Output {
		return p.Pin.Read()
	}
	if p.Level != nil {
		return p.Level()
	}
	return gpio.High
}

// LowPulses returns the duration of every low pulse the host drove, in
// microseconds. A pulse ends when the pin is released or driven high.
func (p *Pin) LowPulses() []int64 {
	var out []int64
	start := int64(-1)
	for _, e := range p.Edges {
		switch {
		case e.Out && e.L == gpio.Low:
			if start < 0 {
				start = e.T
			}
		case start >= 0:
			out = append(out, e.T-start)
			start = -1
		}
	}
	return out
}

func (p *Pin) now() int64 {
	if p.Clock == nil {
		return 0
	}
	return p.Clock.Now
}

// Span is a level held on a line for a number of microseconds.
type Span struct {
	L  gpio.Level
	Us int
}

// Trace is a waveform made of consecutive spans.
type Trace []Span

// At returns the level t microseconds after the start of the trace, or idle
// when t is before the start or past the end of the trace.
func (tr Trace) At(t int64, idle gpio.Level) gpio.Level {
	if t < 0 {
		return idle
	}
	for _, s := range tr {
		if t < int64(s.Us) {
			return s.L
		}
		t -= int64(s.Us)
	}
	return idle
}

// Duration returns the total length of the trace in microseconds.
func (tr Trace) Duration() int64 {
	var d int64
	for _, s := range tr {
		d += int64(s.Us)
	}
	return d
}
